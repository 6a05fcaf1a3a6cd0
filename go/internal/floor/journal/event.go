// Package journal publishes a best-effort feed of relay events to external
// sinks (NATS JetStream, Postgres). Relay state never depends on it.
package journal

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType names a relay occurrence.
type EventType string

const (
	EventCountdownStarted EventType = "countdown.started"
	EventCountdownDeleted EventType = "countdown.deleted"
	EventVoiceRelayed     EventType = "voice.relayed"
	EventAudioRelayed     EventType = "audio.relayed"
	EventNoteDeleted      EventType = "note.deleted"
	EventCallStarted      EventType = "call.started"
	EventCallEnded        EventType = "call.ended"
)

// Event is one entry in the feed. Audio payloads are never included.
type Event struct {
	ID              uuid.UUID `json:"eventId"`
	Type            EventType `json:"eventType"`
	Company         string    `json:"company"`
	Table           string    `json:"tableNumber,omitempty"`
	DurationSeconds int       `json:"durationSeconds,omitempty"`
	Destinations    []string  `json:"destinations,omitempty"`
	MessageID       string    `json:"messageId,omitempty"`
	Text            string    `json:"text,omitempty"`
	CallID          string    `json:"callId,omitempty"`
	From            string    `json:"from,omitempty"`
	Target          string    `json:"target,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	ConnectionID    string    `json:"connectionId,omitempty"`
	OccurredAt      time.Time `json:"occurredAt"`
}

// NewEvent stamps a fresh ID.
func NewEvent(t EventType, company string, at time.Time) Event {
	return Event{
		ID:         uuid.New(),
		Type:       t,
		Company:    company,
		OccurredAt: at.UTC(),
	}
}

// Emitter accepts events without blocking the caller.
type Emitter interface {
	Emit(Event)
}

// Publisher delivers a single event to a sink.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Discard is an Emitter that drops everything.
type Discard struct{}

func (Discard) Emit(Event) {}
