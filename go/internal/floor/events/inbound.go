// Package events defines the JSON frames exchanged over the relay socket.
// Inbound frames are decoded into one concrete type per action at the
// boundary so the router never touches loosely typed maps.
package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Action is the discriminator carried in every frame.
type Action string

const (
	ActionJoinRoom           Action = "joinRoom"
	ActionJoinPage           Action = "joinPage"
	ActionJoinCallRoom       Action = "join-webrtc-room"
	ActionStartCountdown     Action = "startCountdown"
	ActionDeleteCountdown    Action = "deleteCountdown"
	ActionVoiceMessage       Action = "voiceMessage"
	ActionAudioMessage       Action = "audioMessage"
	ActionDeleteVoiceMessage Action = "deleteVoiceMessage"
	ActionDeleteAudioMessage Action = "deleteAudioMessage"
	ActionStartCall          Action = "startCall"
	ActionAnswerCall         Action = "answerCall"
	ActionAcceptCall         Action = "acceptCall"
	ActionRejectCall         Action = "rejectCall"
	ActionEndCall            Action = "endCall"
	ActionOffer              Action = "webrtc-offer"
	ActionAnswer             Action = "webrtc-answer"
	ActionICECandidate       Action = "webrtc-ice-candidate"
	ActionHangup             Action = "webrtc-hangup"
	ActionPing               Action = "ping"
	ActionPong               Action = "pong"
)

// Message is the closed set of inbound frames.
type Message interface {
	Action() Action
}

// TableNumber accepts either a JSON string or a JSON integer.
type TableNumber string

func (t *TableNumber) UnmarshalJSON(data []byte) error {
	s, err := stringOrNumber(data)
	if err != nil {
		return fmt.Errorf("tableNumber: %w", err)
	}
	*t = TableNumber(s)
	return nil
}

// Seconds accepts a JSON integer, an integral float, or a numeric string.
type Seconds int

func (s *Seconds) UnmarshalJSON(data []byte) error {
	raw, err := stringOrNumber(data)
	if err != nil {
		return fmt.Errorf("timeRemaining: %w", err)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
		return fmt.Errorf("timeRemaining: not an integer: %q", raw)
	}
	*s = Seconds(int(f))
	return nil
}

func stringOrNumber(data []byte) (string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return "", nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return "", fmt.Errorf("expected string or number")
	}
	return n.String(), nil
}

type JoinRoom struct {
	CompanyName string `json:"companyName"`
}

type JoinPage struct {
	PageType string `json:"pageType"`
}

// JoinCallRoom joins the room and selects the page in one step.
type JoinCallRoom struct {
	CompanyName string `json:"companyName"`
	PageType    string `json:"pageType"`
	UserID      string `json:"userId"`
}

type StartCountdown struct {
	TableNumber   TableNumber `json:"tableNumber"`
	TimeRemaining Seconds     `json:"timeRemaining"`
	Destination   string      `json:"destination"`
}

type DeleteCountdown struct {
	TableNumber TableNumber `json:"tableNumber"`
}

type VoiceMessage struct {
	MessageID   string `json:"messageId"`
	Message     string `json:"message"`
	Destination string `json:"destination"`
	From        string `json:"from"`
}

type AudioMessage struct {
	MessageID   string  `json:"messageId"`
	AudioData   string  `json:"audioData"`
	MimeType    string  `json:"mimeType"`
	Duration    float64 `json:"duration"`
	Destination string  `json:"destination"`
	From        string  `json:"from"`
}

type DeleteVoiceMessage struct {
	MessageID string `json:"messageId"`
}

type DeleteAudioMessage struct {
	MessageID string `json:"messageId"`
}

// CallSignal covers every call-setup frame. Offer, answer and candidate
// bodies are opaque and relayed untouched.
type CallSignal struct {
	Kind           Action          `json:"-"`
	CallID         string          `json:"callId"`
	TargetPage     string          `json:"targetPage"`
	TargetPageType string          `json:"targetPageType"`
	To             string          `json:"to"`
	From           string          `json:"from"`
	Offer          json.RawMessage `json:"offer,omitempty"`
	Answer         json.RawMessage `json:"answer,omitempty"`
	Candidate      json.RawMessage `json:"candidate,omitempty"`
}

// Target returns whichever target field the client populated.
func (c CallSignal) Target() string {
	switch {
	case c.TargetPageType != "":
		return c.TargetPageType
	case c.TargetPage != "":
		return c.TargetPage
	default:
		return c.To
	}
}

type Ping struct{}

type Pong struct{}

func (JoinRoom) Action() Action           { return ActionJoinRoom }
func (JoinPage) Action() Action           { return ActionJoinPage }
func (JoinCallRoom) Action() Action       { return ActionJoinCallRoom }
func (StartCountdown) Action() Action     { return ActionStartCountdown }
func (DeleteCountdown) Action() Action    { return ActionDeleteCountdown }
func (VoiceMessage) Action() Action       { return ActionVoiceMessage }
func (AudioMessage) Action() Action       { return ActionAudioMessage }
func (DeleteVoiceMessage) Action() Action { return ActionDeleteVoiceMessage }
func (DeleteAudioMessage) Action() Action { return ActionDeleteAudioMessage }
func (c CallSignal) Action() Action       { return c.Kind }
func (Ping) Action() Action               { return ActionPing }
func (Pong) Action() Action               { return ActionPong }

type envelope struct {
	Action Action `json:"action"`
	Kind   Action `json:"kind"`
}

// PeekAction decodes only the discriminator of raw.
func PeekAction(raw []byte) (Action, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", NewProtocolError(CodeInvalidJSON, "malformed JSON")
	}
	if env.Action != "" {
		return env.Action, nil
	}
	return env.Kind, nil
}

// Parse decodes raw into its concrete Message. Unknown actions return
// ErrUnknownAction; malformed JSON returns a CodeInvalidJSON error and
// ill-typed fields a CodeInvalidFormat error.
func Parse(raw []byte) (Message, error) {
	action, err := PeekAction(raw)
	if err != nil {
		return nil, err
	}

	var msg Message
	switch action {
	case ActionJoinRoom:
		var m JoinRoom
		err = json.Unmarshal(raw, &m)
		msg = m
	case ActionJoinPage:
		var m JoinPage
		err = json.Unmarshal(raw, &m)
		msg = m
	case ActionJoinCallRoom:
		var m JoinCallRoom
		err = json.Unmarshal(raw, &m)
		msg = m
	case ActionStartCountdown:
		var m StartCountdown
		err = json.Unmarshal(raw, &m)
		msg = m
	case ActionDeleteCountdown:
		var m DeleteCountdown
		err = json.Unmarshal(raw, &m)
		msg = m
	case ActionVoiceMessage:
		var m VoiceMessage
		err = json.Unmarshal(raw, &m)
		msg = m
	case ActionAudioMessage:
		var m AudioMessage
		err = json.Unmarshal(raw, &m)
		msg = m
	case ActionDeleteVoiceMessage:
		var m DeleteVoiceMessage
		err = json.Unmarshal(raw, &m)
		msg = m
	case ActionDeleteAudioMessage:
		var m DeleteAudioMessage
		err = json.Unmarshal(raw, &m)
		msg = m
	case ActionStartCall, ActionAnswerCall, ActionAcceptCall, ActionRejectCall, ActionEndCall,
		ActionOffer, ActionAnswer, ActionICECandidate, ActionHangup:
		m := CallSignal{Kind: action}
		err = json.Unmarshal(raw, &m)
		m.Kind = action
		msg = m
	case ActionPing:
		msg = Ping{}
	case ActionPong:
		msg = Pong{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}

	if err != nil {
		return nil, NewProtocolError(CodeInvalidFormat, err.Error())
	}
	return msg, nil
}

// IsHeartbeat reports whether a frame bypasses rate limiting.
func IsHeartbeat(a Action) bool {
	return a == ActionPing || a == ActionPong
}

// IsQualifying reports whether a frame counts against the per-window
// action budget.
func IsQualifying(a Action) bool {
	switch a {
	case ActionStartCountdown, ActionDeleteCountdown,
		ActionVoiceMessage, ActionAudioMessage,
		ActionDeleteVoiceMessage, ActionDeleteAudioMessage:
		return true
	}
	return false
}

// IsCallSignal reports whether a frame is call setup traffic.
func IsCallSignal(a Action) bool {
	switch a {
	case ActionStartCall, ActionAnswerCall, ActionAcceptCall, ActionRejectCall, ActionEndCall,
		ActionOffer, ActionAnswer, ActionICECandidate, ActionHangup:
		return true
	}
	return false
}
