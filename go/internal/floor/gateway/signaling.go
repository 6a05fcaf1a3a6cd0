package gateway

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/floorsync/go/internal/floor/events"
	"github.com/mcdev12/floorsync/go/internal/floor/journal"
	"github.com/mcdev12/floorsync/go/internal/floor/validate"
)

// handleCallSignal relays call setup traffic to the members of the target
// role inside the sender's room. The relay never inspects offer, answer or
// candidate bodies.
func (r *Router) handleCallSignal(c *Connection, m events.CallSignal, now time.Time) error {
	company, err := r.requireRoom(c)
	if err != nil {
		return err
	}
	if !validate.IsValidCallID(m.CallID) {
		return events.NewProtocolError(events.CodeInvalidFormat, "invalid callId")
	}
	from := senderRole(c, m.From)
	if from == "" {
		return events.NewProtocolError(events.CodeInvalidPage, "select a page before calling")
	}

	switch m.Kind {
	case events.ActionStartCall, events.ActionOffer:
		return r.openCall(c, company, validate.Role(from), m, now)
	default:
		return r.continueCall(c, company, validate.Role(from), m, now)
	}
}

func (r *Router) openCall(c *Connection, company string, from validate.Role, m events.CallSignal, now time.Time) error {
	target := m.Target()
	if !validate.IsValidPageRole(target) {
		return events.NewProtocolError(events.CodeInvalidPage, "invalid target page")
	}

	recipients := r.manager.MembersWithRole(company, validate.Role(target), c)
	if len(recipients) == 0 {
		c.SendFrame(events.CallErrorFrame{
			Action: events.ActionCallError,
			CallID: m.CallID,
			Error:  fmt.Sprintf("%s non disponibile", target),
			Code:   events.CodeTargetUnavailable,
		})
		log.Debug().
			Str("company", company).
			Str("call_id", m.CallID).
			Str("target", target).
			Msg("call target unavailable")
		return nil
	}

	registered := r.calls.Register(Call{
		ID:         m.CallID,
		Company:    company,
		CallerID:   c.ID,
		CallerRole: from,
		TargetRole: validate.Role(target),
		Status:     CallRinging,
		StartedAt:  now,
	})

	r.relay(recipients, c, from, target, m)

	if registered {
		event := journal.NewEvent(journal.EventCallStarted, company, now)
		event.CallID = m.CallID
		event.From = string(from)
		event.Target = target
		event.ConnectionID = c.ID
		r.feed.Emit(event)

		log.Info().
			Str("company", company).
			Str("call_id", m.CallID).
			Str("from", string(from)).
			Str("target", target).
			Msg("call started")
	}
	return nil
}

func (r *Router) continueCall(c *Connection, company string, from validate.Role, m events.CallSignal, now time.Time) error {
	call, known := r.calls.Get(company, m.CallID)

	target := m.Target()
	if target != "" && !validate.IsValidPageRole(target) {
		return events.NewProtocolError(events.CodeInvalidPage, "invalid target page")
	}
	if target == "" && known {
		target = string(call.Counterpart(c.ID, from))
	}

	var recipients []*Connection
	switch {
	case target != "":
		recipients = r.manager.MembersWithRole(company, validate.Role(target), c)
	case isCallTeardown(m.Kind):
		// unknown call without a target: tell everyone else in the room
		recipients = r.manager.snapshot(company, excluding(c))
	default:
		c.SendFrame(events.CallErrorFrame{
			Action: events.ActionCallError,
			CallID: m.CallID,
			Error:  "unknown call",
			Code:   events.CodeTargetUnavailable,
		})
		return nil
	}

	r.relay(recipients, c, from, target, m)

	switch m.Kind {
	case events.ActionAnswerCall, events.ActionAcceptCall, events.ActionAnswer:
		r.calls.MarkActive(company, m.CallID)
	case events.ActionRejectCall, events.ActionEndCall, events.ActionHangup:
		if ended, ok := r.calls.Remove(company, m.CallID); ok {
			r.emitCallEnded(ended, string(m.Kind), now)
		}
	}
	return nil
}

func isCallTeardown(a events.Action) bool {
	return a == events.ActionEndCall || a == events.ActionHangup || a == events.ActionRejectCall
}

func (r *Router) relay(recipients []*Connection, sender *Connection, from validate.Role, target string, m events.CallSignal) {
	data, err := events.Encode(events.CallFrame{
		Action:           events.RelayedAction(m.Kind),
		CallID:           m.CallID,
		From:             string(from),
		FromConnectionID: sender.ID,
		Target:           target,
		Offer:            m.Offer,
		Answer:           m.Answer,
		Candidate:        m.Candidate,
	})
	if err != nil {
		log.Error().Err(err).Str("call_id", m.CallID).Msg("failed to marshal call frame")
		return
	}
	for _, rc := range recipients {
		if !rc.Enqueue(data) {
			log.Warn().
				Str("connection_id", rc.ID).
				Str("call_id", m.CallID).
				Msg("connection not writable, skipping call frame")
		}
	}
}

func (r *Router) emitCallEnded(call Call, reason string, now time.Time) {
	event := journal.NewEvent(journal.EventCallEnded, call.Company, now)
	event.CallID = call.ID
	event.From = string(call.CallerRole)
	event.Target = string(call.TargetRole)
	event.Reason = reason
	r.feed.Emit(event)
}

// endCalls notifies both roles of each call that it is over. Used when a
// caller disconnects or a ringing call times out.
func (r *Router) endCalls(calls []Call, reason string, now time.Time) {
	for _, call := range calls {
		frame := events.CallFrame{
			Action: events.ActionCallEnded,
			CallID: call.ID,
			From:   string(call.CallerRole),
			Target: string(call.TargetRole),
			Reason: reason,
		}
		r.manager.BroadcastFrame(call.Company, frame, func(c *Connection) bool {
			p := c.Page()
			return c.ID == call.CallerID || p == call.TargetRole || p == call.CallerRole
		})
		r.emitCallEnded(call, reason, now)

		log.Info().
			Str("company", call.Company).
			Str("call_id", call.ID).
			Str("reason", reason).
			Msg("call ended")
	}
}
