package events

import (
	"encoding/json"
	"time"
)

// Outbound-only actions.
const (
	ActionAuthenticated  Action = "authenticated"
	ActionJoinedCallRoom Action = "joined-webrtc-room"
	ActionPageOccupied   Action = "pageOccupied"
	ActionNewUserJoined  Action = "newUserJoined"
	ActionIncomingCall   Action = "incomingCall"
	ActionCallAccepted   Action = "callAccepted"
	ActionCallRejected   Action = "callRejected"
	ActionCallEnded      Action = "callEnded"
	ActionCallError      Action = "webrtc-error"
	ActionError          Action = "error"
)

// ErrorFrame is sent back to the offending connection only.
type ErrorFrame struct {
	Action Action `json:"action"`
	Error  string `json:"error"`
	Code   Code   `json:"code"`
}

// AuthenticatedFrame confirms a room join.
type AuthenticatedFrame struct {
	Action      Action `json:"action"`
	Success     bool   `json:"success"`
	CompanyName string `json:"companyName"`
}

// JoinedFrame confirms a page selection.
type JoinedFrame struct {
	Action      Action `json:"action"`
	Success     bool   `json:"success"`
	CompanyName string `json:"companyName"`
	PageType    string `json:"pageType"`
	UserID      string `json:"userId,omitempty"`
}

// OccupancyFrame carries pageOccupied and newUserJoined notices.
type OccupancyFrame struct {
	Action       Action `json:"action"`
	PageType     string `json:"pageType"`
	Count        int    `json:"count"`
	ConnectionID string `json:"connectionId,omitempty"`
}

// CountdownFrame is broadcast on start, replayed on join, and sent with
// only the table set on delete.
type CountdownFrame struct {
	Action        Action   `json:"action"`
	TableNumber   string   `json:"tableNumber"`
	TimeRemaining int      `json:"timeRemaining,omitempty"`
	Destination   string   `json:"destination,omitempty"`
	Destinations  []string `json:"destinations,omitempty"`
	StartedAt     int64    `json:"startedAt,omitempty"`
	Replay        bool     `json:"replay,omitempty"`
}

// VoiceFrame relays a text voice note to the room.
type VoiceFrame struct {
	Action           Action `json:"action"`
	MessageID        string `json:"messageId"`
	Message          string `json:"message"`
	Destination      string `json:"destination"`
	From             string `json:"from,omitempty"`
	FromConnectionID string `json:"fromConnectionId"`
	Timestamp        int64  `json:"timestamp"`
}

// AudioFrame relays a recorded audio note to the room.
type AudioFrame struct {
	Action           Action  `json:"action"`
	MessageID        string  `json:"messageId"`
	AudioData        string  `json:"audioData"`
	MimeType         string  `json:"mimeType,omitempty"`
	Duration         float64 `json:"duration,omitempty"`
	Destination      string  `json:"destination"`
	From             string  `json:"from,omitempty"`
	FromConnectionID string  `json:"fromConnectionId"`
	Timestamp        int64   `json:"timestamp"`
}

// DeleteNoteFrame tells the room to drop a voice or audio note.
type DeleteNoteFrame struct {
	Action    Action `json:"action"`
	MessageID string `json:"messageId"`
}

// CallFrame is the relayed form of a CallSignal.
type CallFrame struct {
	Action           Action          `json:"action"`
	CallID           string          `json:"callId"`
	From             string          `json:"from"`
	FromConnectionID string          `json:"fromConnectionId,omitempty"`
	Target           string          `json:"target,omitempty"`
	Offer            json.RawMessage `json:"offer,omitempty"`
	Answer           json.RawMessage `json:"answer,omitempty"`
	Candidate        json.RawMessage `json:"candidate,omitempty"`
	Reason           string          `json:"reason,omitempty"`
}

// CallErrorFrame reports a signaling failure to the caller.
type CallErrorFrame struct {
	Action Action `json:"action"`
	CallID string `json:"callId"`
	Error  string `json:"error"`
	Code   Code   `json:"code"`
}

// HeartbeatFrame is a ping or pong carrying the server time in ms.
type HeartbeatFrame struct {
	Action    Action `json:"action"`
	Timestamp int64  `json:"timestamp"`
}

func NewErrorFrame(code Code, msg string) ErrorFrame {
	return ErrorFrame{Action: ActionError, Error: msg, Code: code}
}

func NewHeartbeat(action Action, now time.Time) HeartbeatFrame {
	return HeartbeatFrame{Action: action, Timestamp: now.UnixMilli()}
}

// RelayedAction maps an inbound call action to the action delivered to
// the counterpart.
func RelayedAction(a Action) Action {
	switch a {
	case ActionStartCall:
		return ActionIncomingCall
	case ActionAnswerCall, ActionAcceptCall:
		return ActionCallAccepted
	case ActionRejectCall:
		return ActionCallRejected
	case ActionEndCall:
		return ActionCallEnded
	default:
		return a
	}
}

// Encode marshals a frame. Frames are plain structs so this only fails on
// programmer error.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}
