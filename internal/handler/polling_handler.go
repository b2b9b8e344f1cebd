package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	ws "peersupport-chat/internal/websocket"

	"github.com/go-chi/chi/v5"
)

const (
	maxPollFrames = 64
	// Room for a few maximal sends per batch; pings and joins are tiny
	maxPollBody = 8 * ws.MaxFrameSize
)

// PollSessions is the long-polling session registry
type PollSessions interface {
	Open() *ws.PollSession
	Receive(ctx context.Context, sid string) ([]json.RawMessage, error)
	Submit(ctx context.Context, sid string, frames []json.RawMessage) error
	Disconnect(sid string) error
}

type PollingHandler struct {
	sessions PollSessions
	wait     time.Duration
}

func NewPollingHandler(sessions PollSessions, wait time.Duration) *PollingHandler {
	return &PollingHandler{sessions: sessions, wait: wait}
}

type frameBatch struct {
	Frames []json.RawMessage `json:"frames"`
}

// Open starts a session
func (h *PollingHandler) Open(w http.ResponseWriter, r *http.Request) {
	s := h.sessions.Open()
	writeJSON(w, http.StatusCreated, map[string]any{
		"sid":        s.ID(),
		"pollWaitMs": h.wait.Milliseconds(),
	})
}

// Poll waits for outbound frames
func (h *PollingHandler) Poll(w http.ResponseWriter, r *http.Request) {
	frames, err := h.sessions.Receive(r.Context(), chi.URLParam(r, "sid"))
	if err != nil && !errors.Is(err, context.Canceled) {
		writeSessionError(w, err)
		return
	}
	if frames == nil {
		frames = []json.RawMessage{}
	}
	writeJSON(w, http.StatusOK, frameBatch{Frames: frames})
}

// Submit dispatches inbound frames in order
func (h *PollingHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var batch frameBatch
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPollBody)).Decode(&batch); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid message format")
		return
	}
	if len(batch.Frames) > maxPollFrames {
		writeError(w, http.StatusBadRequest, "Too many frames")
		return
	}
	for _, f := range batch.Frames {
		if len(f) > ws.MaxFrameSize {
			writeError(w, http.StatusBadRequest, "Frame too large")
			return
		}
	}

	if err := h.sessions.Submit(r.Context(), chi.URLParam(r, "sid"), batch.Frames); err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Close ends a session
func (h *PollingHandler) Close(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Disconnect(chi.URLParam(r, "sid")); err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ws.ErrSessionNotFound), errors.Is(err, ws.ErrSessionClosed):
		writeError(w, http.StatusNotFound, "Session not found")
	default:
		writeError(w, http.StatusInternalServerError, "Poll failed")
	}
}
