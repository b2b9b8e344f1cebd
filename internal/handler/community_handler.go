package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"peersupport-chat/internal/domain"
	"peersupport-chat/internal/observability"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// HistoryService reads community history
type HistoryService interface {
	GetMessages(ctx context.Context, communityID string, limit int) ([]*domain.HistoryMessage, error)
	GetMessagesBefore(ctx context.Context, communityID, before string, limit int) ([]*domain.HistoryMessage, error)
}

type CommunityHandler struct {
	history HistoryService
}

func NewCommunityHandler(history HistoryService) *CommunityHandler {
	return &CommunityHandler{history: history}
}

// GetMessages pages backwards through a community's history. Each page is oldest first.
func (h *CommunityHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	communityID := chi.URLParam(r, "communityId")
	if communityID == "" {
		writeError(w, http.StatusBadRequest, domain.MsgCommunityRequired)
		return
	}

	limit := defaultPageSize
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 || parsed > maxPageSize {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = parsed
	}

	var (
		messages []*domain.HistoryMessage
		err      error
	)
	if before := r.URL.Query().Get("before"); before != "" {
		if _, perr := uuid.Parse(before); perr != nil {
			writeError(w, http.StatusBadRequest, "before must be a message id")
			return
		}
		messages, err = h.history.GetMessagesBefore(r.Context(), communityID, before, limit)
	} else {
		messages, err = h.history.GetMessages(r.Context(), communityID, limit)
	}
	if err != nil {
		observability.FromContext(r.Context()).Error("failed to load history",
			slog.String("error", err.Error()),
			slog.String("community_id", communityID))
		writeError(w, http.StatusInternalServerError, "Failed to retrieve messages")
		return
	}

	if messages == nil {
		messages = []*domain.HistoryMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": messages,
		"hasMore":  len(messages) == limit,
	})
}
