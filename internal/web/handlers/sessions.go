package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/attendance-kiosk/internal/constants"
	"github.com/kozaktomas/attendance-kiosk/internal/kiosk"
	log "github.com/sirupsen/logrus"
)

// Verifier runs verification attempts.
type Verifier interface {
	Start(ctx context.Context) (*kiosk.Session, error)
	SubmitFrame(ctx context.Context, id string, imageData []byte) (kiosk.FrameResult, error)
	Finish(ctx context.Context, id string) (*kiosk.Outcome, error)
	Cancel(id string) error
}

// SessionsHandler exposes verification attempts over HTTP.
type SessionsHandler struct {
	verifier Verifier
}

// NewSessionsHandler creates a sessions handler.
func NewSessionsHandler(verifier Verifier) *SessionsHandler {
	return &SessionsHandler{verifier: verifier}
}

type startResponse struct {
	SessionID   string    `json:"session_id"`
	Challenge   string    `json:"challenge"`
	Instruction string    `json:"instruction"`
	Deadline    time.Time `json:"deadline"`
}

// respondSessionError maps kiosk errors to HTTP statuses.
func respondSessionError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.Is(err, kiosk.ErrSessionNotFound):
		respondError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, kiosk.ErrBusy):
		respondError(w, http.StatusConflict, "verification already in progress")
	case errors.Is(err, kiosk.ErrThrottled):
		respondError(w, http.StatusTooManyRequests, "capture triggered too quickly")
	default:
		log.WithError(err).Errorf("Failed to %s", action)
		respondError(w, http.StatusBadGateway, "failed to "+action)
	}
}

// Start handles POST /api/v1/sessions.
func (h *SessionsHandler) Start(w http.ResponseWriter, r *http.Request) {
	sess, err := h.verifier.Start(r.Context())
	if err != nil {
		respondSessionError(w, err, "start verification")
		return
	}
	challenge := sess.Challenge()
	respondJSON(w, http.StatusCreated, startResponse{
		SessionID:   sess.ID,
		Challenge:   string(challenge.Type),
		Instruction: challenge.Instruction,
		Deadline:    sess.Deadline,
	})
}

// SubmitFrame handles POST /api/v1/sessions/{id}/frames with a raw image body.
func (h *SessionsHandler) SubmitFrame(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	frame, err := io.ReadAll(http.MaxBytesReader(w, r.Body, constants.MaxFrameUploadSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "frame too large")
			return
		}
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if len(frame) == 0 {
		respondError(w, http.StatusBadRequest, "frame is required")
		return
	}

	result, err := h.verifier.SubmitFrame(r.Context(), id, frame)
	if err != nil {
		log.WithField("session_id", sanitizeForLog(id)).Debug("Frame rejected by verifier")
		respondSessionError(w, err, "process frame")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Finish handles POST /api/v1/sessions/{id}/finish.
func (h *SessionsHandler) Finish(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.verifier.Finish(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondSessionError(w, err, "finish verification")
		return
	}
	respondJSON(w, http.StatusOK, outcome)
}

// Cancel handles DELETE /api/v1/sessions/{id}.
func (h *SessionsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.verifier.Cancel(chi.URLParam(r, "id")); err != nil {
		respondSessionError(w, err, "cancel verification")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
