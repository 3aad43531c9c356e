package api

import (
	"net/http"
	"time"

	"github.com/KeppyMarbles/ModbusTiles/internal/database"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type HistoryHandler struct {
	db *database.DB
}

func NewHistoryHandler(db *database.DB) *HistoryHandler {
	return &HistoryHandler{db: db}
}

// ListHistory returns a tag's samples since a given time, oldest first,
// bounded by an optional limit (default 100, max 1000).
func (h *HistoryHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	externalID, err := uuid.Parse(chi.URLParam(r, "tagID"))
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidParameter, "invalid tag id")
		return
	}
	tag, err := h.db.GetTagByExternalID(r.Context(), externalID)
	if err != nil {
		if err == database.ErrNotFound {
			WriteErrorWithCode(w, http.StatusNotFound, ErrNotFound, "tag not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "failed to look up tag")
		return
	}
	tagID := tag.ID

	since, ok := QueryTime(r, "since")
	if !ok {
		since = time.Now().Add(-24 * time.Hour)
	}
	if since.After(time.Now()) {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidTimeRange, "since must not be in the future")
		return
	}

	limit := 100
	if v, ok := QueryInt(r, "limit"); ok {
		if v < 1 || v > 1000 {
			WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidParameter, "limit must be between 1 and 1000")
			return
		}
		limit = v
	}

	entries, err := h.db.HistoryForTag(r.Context(), tagID, since, limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to fetch history")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"history": entries, "total": len(entries)})
}

func (h *HistoryHandler) Routes(r chi.Router) {
	r.Get("/tags/{tagID}/history", h.ListHistory)
}
