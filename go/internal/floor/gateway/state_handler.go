package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/floorsync/go/internal/floor/countdown"
	"github.com/mcdev12/floorsync/go/internal/floor/events"
	"github.com/mcdev12/floorsync/go/internal/floor/validate"
)

// StateProvider exposes the read side of the relay to HTTP handlers
type StateProvider interface {
	Countdowns(company string, includeExpired bool) ([]countdown.Countdown, time.Time)
	Status() RelayStatus
}

// CountdownView is one entry of the countdown listing.
type CountdownView struct {
	TableNumber     string   `json:"tableNumber"`
	RemainingTime   int      `json:"remainingTime"`
	InitialDuration int      `json:"initialDuration"`
	Destinations    []string `json:"destinations"`
	StartedAt       string   `json:"startedAt"`
	StartTime       int64    `json:"startTime"`
	EndsAt          string   `json:"endsAt"`
	Status          string   `json:"status"`
}

// CountdownsResponse is the body of GET /api/countdowns.
type CountdownsResponse struct {
	Success    bool            `json:"success"`
	Countdowns []CountdownView `json:"countdowns"`
	Count      int             `json:"count"`
	Timestamp  int64           `json:"timestamp"`
}

// RelayStatus is the body of GET /status.
type RelayStatus struct {
	Connections   int     `json:"connections"`
	Rooms         int     `json:"rooms"`
	Countdowns    int     `json:"countdowns"`
	Calls         int     `json:"calls"`
	UptimeSeconds float64 `json:"uptime"`
}

type errorResponse struct {
	Success bool        `json:"success"`
	Error   string      `json:"error"`
	Code    events.Code `json:"code,omitempty"`
}

// StateHandler handles HTTP requests for relay state
type StateHandler struct {
	stateProvider StateProvider
}

// NewStateHandler creates a new state handler
func NewStateHandler(provider StateProvider) *StateHandler {
	return &StateHandler{
		stateProvider: provider,
	}
}

// HandleGetCountdowns handles GET /api/countdowns?status=active|all&company=<name>
func (h *StateHandler) HandleGetCountdowns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	company := q.Get("company")
	if !validate.IsValidCompanyName(company) {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: "company is required and must be a valid name",
			Code:  events.CodeInvalidCompany,
		})
		return
	}

	includeExpired := false
	switch q.Get("status") {
	case "", "active":
	case "all":
		includeExpired = true
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: "status must be active or all",
			Code:  events.CodeInvalidFormat,
		})
		return
	}

	list, now := h.stateProvider.Countdowns(company, includeExpired)
	views := make([]CountdownView, 0, len(list))
	for _, cd := range list {
		views = append(views, newCountdownView(cd, now))
	}

	writeJSON(w, http.StatusOK, CountdownsResponse{
		Success:    true,
		Countdowns: views,
		Count:      len(views),
		Timestamp:  now.UnixMilli(),
	})
}

func newCountdownView(cd countdown.Countdown, now time.Time) CountdownView {
	status := "active"
	if !cd.Live(now) {
		status = "expired"
	}
	return CountdownView{
		TableNumber:     cd.Table,
		RemainingTime:   cd.RemainingSeconds(now),
		InitialDuration: int(cd.Duration / time.Second),
		Destinations:    rolesToStrings(cd.Destinations),
		StartedAt:       cd.StartedAt.UTC().Format(time.RFC3339),
		StartTime:       cd.StartedAt.UnixMilli(),
		EndsAt:          cd.EndsAt().UTC().Format(time.RFC3339),
		Status:          status,
	}
}

// HandleStatus handles GET /status
func (h *StateHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.stateProvider.Status())
}

// RegisterStateRoutes registers state-related HTTP routes
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/countdowns", h.HandleGetCountdowns)
	mux.HandleFunc("/status", h.HandleStatus)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

// Countdowns implements StateProvider.
func (s *Service) Countdowns(company string, includeExpired bool) ([]countdown.Countdown, time.Time) {
	now := s.clock.Now()
	if includeExpired {
		return s.store.List(company, now), now
	}
	return s.store.SnapshotFor(company, now), now
}

// Status implements StateProvider.
func (s *Service) Status() RelayStatus {
	stats := s.connectionManager.GetConnectionStats()
	_, countdowns := s.store.Stats()
	return RelayStatus{
		Connections:   stats.TotalConnections,
		Rooms:         stats.ActiveRooms,
		Countdowns:    countdowns,
		Calls:         s.calls.Len(),
		UptimeSeconds: s.Uptime().Seconds(),
	}
}

// RegisterRoutes registers the WebSocket and REST routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux, s.config.WSPath)
	s.stateHandler.RegisterStateRoutes(mux)
	log.Info().Str("ws_path", s.config.WSPath).Msg("relay routes registered")
}
