package transcribe

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/floorsync/go/internal/floor/validate"
)

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Handler serves POST /api/speech-to-text. The upstream call runs on the
// request goroutine, never on a relay connection loop.
type Handler struct {
	transcriber   Transcriber
	maxAudioBytes int
}

// NewHandler returns a handler answering 503 when t is nil.
func NewHandler(t Transcriber, maxAudioBytes int) *Handler {
	return &Handler{transcriber: t, maxAudioBytes: maxAudioBytes}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.transcriber == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "speech-to-text is not configured"})
		return
	}

	// base64 inflates by 4/3; leave room for the envelope
	r.Body = http.MaxBytesReader(w, r.Body, int64(h.maxAudioBytes)*4/3+64<<10)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body", Details: err.Error()})
		return
	}
	if !validate.IsValidAudioPayload(req.AudioData, h.maxAudioBytes) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "audioData must be non-empty base64 audio"})
		return
	}

	result, err := h.transcriber.Transcribe(r.Context(), req)
	if err != nil {
		status := http.StatusBadGateway
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusBadRequest {
			status = http.StatusBadRequest
		}
		log.Error().Err(err).Msg("speech-to-text request failed")
		writeJSON(w, status, errorResponse{Error: "transcription failed", Details: err.Error()})
		return
	}

	log.Debug().
		Int("chars", len(result.Transcription)).
		Float64("confidence", result.Confidence).
		Msg("transcription completed")
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
