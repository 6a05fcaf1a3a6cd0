package gateway

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/floorsync/go/internal/floor/countdown"
	"github.com/mcdev12/floorsync/go/internal/floor/events"
	"github.com/mcdev12/floorsync/go/internal/floor/journal"
	"github.com/mcdev12/floorsync/go/internal/floor/ratelimit"
	"github.com/mcdev12/floorsync/go/internal/floor/validate"
)

// RouterConfig bounds inbound frames.
type RouterConfig struct {
	MaxControlBytes int
	MaxAudioBytes   int
	ErrorFrames     bool
}

func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		MaxControlBytes: 1000,
		MaxAudioBytes:   10 << 20,
		ErrorFrames:     true,
	}
}

// Router validates inbound frames and applies them to the relay state.
type Router struct {
	manager *ConnectionManager
	store   *countdown.Store
	limiter *ratelimit.Limiter
	calls   *CallRegistry
	feed    journal.Emitter
	metrics MetricsCollector
	config  RouterConfig
}

func NewRouter(
	manager *ConnectionManager,
	store *countdown.Store,
	limiter *ratelimit.Limiter,
	calls *CallRegistry,
	feed journal.Emitter,
	metrics MetricsCollector,
	config RouterConfig,
) *Router {
	if feed == nil {
		feed = journal.Discard{}
	}
	if metrics == nil {
		metrics = &NoOpMetricsCollector{}
	}
	return &Router{
		manager: manager,
		store:   store,
		limiter: limiter,
		calls:   calls,
		feed:    feed,
		metrics: metrics,
		config:  config,
	}
}

// Handle runs one inbound frame through the size, parse, rate and
// validation gates and then dispatches it. It never panics.
func (r *Router) Handle(c *Connection, raw []byte, now time.Time) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Str("connection_id", c.ID).
				Interface("panic", rec).
				Msg("recovered from panic while handling frame")
		}
	}()

	if c.State() == StateClosed {
		return
	}
	c.Touch(now)

	if len(raw) == 0 {
		return
	}
	if len(raw) > r.config.MaxAudioBytes {
		r.reject(c, events.CodeMessageTooLarge, "message too large")
		return
	}
	if len(raw) > r.config.MaxControlBytes {
		if action, err := events.PeekAction(raw); err != nil || action != events.ActionAudioMessage {
			r.reject(c, events.CodeMessageTooLarge, "message too large")
			return
		}
	}

	msg, err := events.Parse(raw)
	if err != nil {
		if errors.Is(err, events.ErrUnknownAction) {
			log.Debug().Err(err).Str("connection_id", c.ID).Msg("dropping frame with unknown action")
			r.metrics.MessageRejected("UNKNOWN_ACTION")
			return
		}
		r.rejectErr(c, err)
		return
	}

	action := msg.Action()
	if !events.IsHeartbeat(action) && action != events.ActionICECandidate {
		if d := r.limiter.Allow(c.ID, now, events.IsQualifying(action)); d != ratelimit.Allowed {
			log.Debug().
				Str("connection_id", c.ID).
				Str("action", string(action)).
				Str("decision", d.String()).
				Msg("rate limit exceeded")
			r.reject(c, events.CodeRateLimit, "too many messages, slow down")
			return
		}
	}

	start := time.Now()
	if err := r.dispatch(c, msg, now); err != nil {
		r.rejectErr(c, err)
		return
	}
	r.metrics.MessageHandled(string(action), time.Since(start))
}

func (r *Router) dispatch(c *Connection, msg events.Message, now time.Time) error {
	switch m := msg.(type) {
	case events.JoinRoom:
		return r.handleJoinRoom(c, m, now)
	case events.JoinPage:
		return r.handleJoinPage(c, m)
	case events.JoinCallRoom:
		return r.handleJoinCallRoom(c, m, now)
	case events.StartCountdown:
		return r.handleStartCountdown(c, m, now)
	case events.DeleteCountdown:
		return r.handleDeleteCountdown(c, m, now)
	case events.VoiceMessage:
		return r.handleVoiceMessage(c, m, now)
	case events.AudioMessage:
		return r.handleAudioMessage(c, m, now)
	case events.DeleteVoiceMessage:
		return r.handleDeleteNote(c, m.Action(), m.MessageID, now)
	case events.DeleteAudioMessage:
		return r.handleDeleteNote(c, m.Action(), m.MessageID, now)
	case events.CallSignal:
		return r.handleCallSignal(c, m, now)
	case events.Ping:
		c.SendFrame(events.NewHeartbeat(events.ActionPong, now))
		return nil
	case events.Pong:
		return nil
	default:
		return fmt.Errorf("no handler for action %q", msg.Action())
	}
}

func (r *Router) handleJoinRoom(c *Connection, m events.JoinRoom, now time.Time) error {
	if !validate.IsValidCompanyName(m.CompanyName) {
		return events.NewProtocolError(events.CodeInvalidCompany, "invalid company name")
	}

	r.manager.Join(c, m.CompanyName)
	c.SendFrame(events.AuthenticatedFrame{
		Action:      events.ActionAuthenticated,
		Success:     true,
		CompanyName: m.CompanyName,
	})
	replayed := r.replayCountdowns(c, m.CompanyName, now)

	log.Info().
		Str("connection_id", c.ID).
		Str("company", m.CompanyName).
		Int("replayed", replayed).
		Msg("connection authenticated")
	return nil
}

// replayCountdowns sends c one frame per (table, destination) of every
// live countdown in company. Returns the number of frames sent.
func (r *Router) replayCountdowns(c *Connection, company string, now time.Time) int {
	sent := 0
	for _, cd := range r.store.SnapshotFor(company, now) {
		frame := countdownFrame(cd, now, true)
		for _, dest := range frame.Destinations {
			frame.Destination = dest
			c.SendFrame(frame)
			sent++
		}
	}
	return sent
}

func countdownFrame(cd countdown.Countdown, now time.Time, replay bool) events.CountdownFrame {
	dests := rolesToStrings(cd.Destinations)
	frame := events.CountdownFrame{
		Action:        events.ActionStartCountdown,
		TableNumber:   cd.Table,
		TimeRemaining: cd.RemainingSeconds(now),
		Destinations:  dests,
		StartedAt:     cd.StartedAt.UnixMilli(),
		Replay:        replay,
	}
	if len(dests) > 0 {
		frame.Destination = dests[0]
	}
	return frame
}

func (r *Router) handleJoinPage(c *Connection, m events.JoinPage) error {
	company := c.Company()
	if company == "" {
		return events.NewProtocolError(events.CodeNotAuthenticated, "join a room first")
	}
	if !validate.IsValidPageRole(m.PageType) {
		return events.NewProtocolError(events.CodeInvalidPage, "invalid page type")
	}
	role := validate.Role(m.PageType)

	if !r.manager.SelectPage(c, role, "") {
		return events.NewProtocolError(events.CodeNotAuthenticated, "join a room first")
	}
	c.SendFrame(events.JoinedFrame{
		Action:      events.ActionAuthenticated,
		Success:     true,
		CompanyName: company,
		PageType:    m.PageType,
	})
	r.announceOccupancy(c, company, role)
	return nil
}

func (r *Router) handleJoinCallRoom(c *Connection, m events.JoinCallRoom, now time.Time) error {
	if !validate.IsValidCompanyName(m.CompanyName) {
		return events.NewProtocolError(events.CodeInvalidCompany, "invalid company name")
	}
	if !validate.IsValidPageRole(m.PageType) {
		return events.NewProtocolError(events.CodeInvalidPage, "invalid page type")
	}
	if m.UserID != "" && !validate.IsValidMessageID(m.UserID) {
		return events.NewProtocolError(events.CodeInvalidFormat, "invalid userId")
	}
	role := validate.Role(m.PageType)

	r.manager.Join(c, m.CompanyName)
	r.manager.SelectPage(c, role, m.UserID)
	c.SendFrame(events.JoinedFrame{
		Action:      events.ActionJoinedCallRoom,
		Success:     true,
		CompanyName: m.CompanyName,
		PageType:    m.PageType,
		UserID:      m.UserID,
	})
	r.announceOccupancy(c, m.CompanyName, role)
	r.replayCountdowns(c, m.CompanyName, now)
	return nil
}

// announceOccupancy tells c who already holds role, and tells them about c.
func (r *Router) announceOccupancy(c *Connection, company string, role validate.Role) {
	occupants := r.manager.MembersWithRole(company, role, c)
	if len(occupants) == 0 {
		return
	}

	c.SendFrame(events.OccupancyFrame{
		Action:   events.ActionPageOccupied,
		PageType: string(role),
		Count:    len(occupants),
	})

	notice, err := events.Encode(events.OccupancyFrame{
		Action:       events.ActionNewUserJoined,
		PageType:     string(role),
		Count:        len(occupants) + 1,
		ConnectionID: c.ID,
	})
	if err != nil {
		return
	}
	for _, o := range occupants {
		o.Enqueue(notice)
	}
}

func (r *Router) requireRoom(c *Connection) (string, error) {
	company := c.Company()
	if company == "" {
		return "", events.NewProtocolError(events.CodeNotAuthenticated, "join a room first")
	}
	return company, nil
}

func (r *Router) handleStartCountdown(c *Connection, m events.StartCountdown, now time.Time) error {
	company, err := r.requireRoom(c)
	if err != nil {
		return err
	}

	dest := m.Destination
	if dest == "" {
		dest = string(validate.RoleKitchen)
	}
	dests, err := r.store.Start(company, string(m.TableNumber), int(m.TimeRemaining), validate.Role(dest), now)
	if err != nil {
		return countdownError(err)
	}
	table, _ := validate.ParseTableNumber(string(m.TableNumber))

	frame := events.CountdownFrame{
		Action:        events.ActionStartCountdown,
		TableNumber:   table,
		TimeRemaining: int(m.TimeRemaining),
		Destination:   dest,
		Destinations:  rolesToStrings(dests),
		StartedAt:     now.UnixMilli(),
	}
	delivered := r.manager.BroadcastFrame(company, frame, nil)
	r.recordCountdowns()

	event := journal.NewEvent(journal.EventCountdownStarted, company, now)
	event.Table = table
	event.DurationSeconds = int(m.TimeRemaining)
	event.Destinations = frame.Destinations
	event.ConnectionID = c.ID
	r.feed.Emit(event)

	log.Info().
		Str("company", company).
		Str("table", table).
		Int("seconds", int(m.TimeRemaining)).
		Strs("destinations", frame.Destinations).
		Int("recipients", delivered).
		Msg("countdown started")
	return nil
}

func (r *Router) handleDeleteCountdown(c *Connection, m events.DeleteCountdown, now time.Time) error {
	company, err := r.requireRoom(c)
	if err != nil {
		return err
	}
	table, ok := validate.ParseTableNumber(string(m.TableNumber))
	if !ok {
		return events.NewProtocolError(events.CodeInvalidTable, "invalid table number")
	}

	existed := r.store.Delete(company, table)
	r.manager.BroadcastFrame(company, events.CountdownFrame{
		Action:      events.ActionDeleteCountdown,
		TableNumber: table,
	}, nil)
	r.recordCountdowns()

	event := journal.NewEvent(journal.EventCountdownDeleted, company, now)
	event.Table = table
	event.ConnectionID = c.ID
	r.feed.Emit(event)

	log.Info().
		Str("company", company).
		Str("table", table).
		Bool("existed", existed).
		Msg("countdown deleted")
	return nil
}

// senderRole is the connection's page, or a valid client-declared role
// when no page has been selected.
func senderRole(c *Connection, declared string) string {
	if p := c.Page(); p != "" {
		return string(p)
	}
	if validate.IsValidPageRole(declared) {
		return declared
	}
	return ""
}

func voiceDestination(dest string) (string, error) {
	if dest == "" {
		return validate.DestinationAll, nil
	}
	if !validate.IsValidVoiceDestination(dest) {
		return "", events.NewProtocolError(events.CodeInvalidDestination, "invalid destination")
	}
	return dest, nil
}

func (r *Router) handleVoiceMessage(c *Connection, m events.VoiceMessage, now time.Time) error {
	company, err := r.requireRoom(c)
	if err != nil {
		return err
	}
	if !validate.IsValidMessageID(m.MessageID) {
		return events.NewProtocolError(events.CodeInvalidFormat, "invalid messageId")
	}
	if !validate.IsValidVoiceText(m.Message) {
		return events.NewProtocolError(events.CodeInvalidFormat, "invalid message text")
	}
	dest, err := voiceDestination(m.Destination)
	if err != nil {
		return err
	}

	from := senderRole(c, m.From)
	r.manager.BroadcastFrame(company, events.VoiceFrame{
		Action:           events.ActionVoiceMessage,
		MessageID:        m.MessageID,
		Message:          m.Message,
		Destination:      dest,
		From:             from,
		FromConnectionID: c.ID,
		Timestamp:        now.UnixMilli(),
	}, nil)

	event := journal.NewEvent(journal.EventVoiceRelayed, company, now)
	event.MessageID = m.MessageID
	event.Text = m.Message
	event.From = from
	event.Target = dest
	event.ConnectionID = c.ID
	r.feed.Emit(event)
	return nil
}

func (r *Router) handleAudioMessage(c *Connection, m events.AudioMessage, now time.Time) error {
	company, err := r.requireRoom(c)
	if err != nil {
		return err
	}
	if !validate.IsValidMessageID(m.MessageID) {
		return events.NewProtocolError(events.CodeInvalidFormat, "invalid messageId")
	}
	if !validate.IsValidAudioPayload(m.AudioData, r.config.MaxAudioBytes) {
		return events.NewProtocolError(events.CodeInvalidFormat, "invalid audio payload")
	}
	if !validate.IsValidAudioMimeType(m.MimeType) {
		return events.NewProtocolError(events.CodeInvalidFormat, "invalid mime type")
	}
	dest, err := voiceDestination(m.Destination)
	if err != nil {
		return err
	}

	from := senderRole(c, m.From)
	r.manager.BroadcastFrame(company, events.AudioFrame{
		Action:           events.ActionAudioMessage,
		MessageID:        m.MessageID,
		AudioData:        m.AudioData,
		MimeType:         m.MimeType,
		Duration:         m.Duration,
		Destination:      dest,
		From:             from,
		FromConnectionID: c.ID,
		Timestamp:        now.UnixMilli(),
	}, nil)

	event := journal.NewEvent(journal.EventAudioRelayed, company, now)
	event.MessageID = m.MessageID
	event.From = from
	event.Target = dest
	event.ConnectionID = c.ID
	r.feed.Emit(event)
	return nil
}

func (r *Router) handleDeleteNote(c *Connection, action events.Action, messageID string, now time.Time) error {
	company, err := r.requireRoom(c)
	if err != nil {
		return err
	}
	if !validate.IsValidMessageID(messageID) {
		return events.NewProtocolError(events.CodeInvalidFormat, "invalid messageId")
	}

	r.manager.BroadcastFrame(company, events.DeleteNoteFrame{
		Action:    action,
		MessageID: messageID,
	}, nil)

	event := journal.NewEvent(journal.EventNoteDeleted, company, now)
	event.MessageID = messageID
	event.ConnectionID = c.ID
	r.feed.Emit(event)
	return nil
}

func (r *Router) recordCountdowns() {
	_, n := r.store.Stats()
	r.metrics.CountdownsActive(n)
}

func (r *Router) reject(c *Connection, code events.Code, msg string) {
	r.metrics.MessageRejected(string(code))
	if r.config.ErrorFrames {
		c.SendFrame(events.NewErrorFrame(code, msg))
	}
}

func (r *Router) rejectErr(c *Connection, err error) {
	if pe, ok := events.AsProtocolError(err); ok {
		log.Debug().
			Str("connection_id", c.ID).
			Str("code", string(pe.Code)).
			Msg(pe.Message)
		r.reject(c, pe.Code, pe.Message)
		return
	}
	log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to handle frame")
}

func countdownError(err error) error {
	switch {
	case errors.Is(err, countdown.ErrInvalidTable):
		return events.NewProtocolError(events.CodeInvalidTable, "invalid table number")
	case errors.Is(err, countdown.ErrInvalidDuration):
		return events.NewProtocolError(events.CodeInvalidTime, "invalid countdown duration")
	case errors.Is(err, countdown.ErrInvalidDestination):
		return events.NewProtocolError(events.CodeInvalidDestination, "invalid destination")
	case errors.Is(err, countdown.ErrInvalidCompany):
		return events.NewProtocolError(events.CodeInvalidCompany, "invalid company name")
	default:
		return err
	}
}

func excluding(self *Connection) func(*Connection) bool {
	return func(c *Connection) bool { return c != self }
}

func rolesToStrings(roles []validate.Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}
