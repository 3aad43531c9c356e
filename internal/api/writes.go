package api

import (
	"encoding/json"
	"net/http"

	"github.com/KeppyMarbles/ModbusTiles/internal/database"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type WritesHandler struct {
	db *database.DB
}

func NewWritesHandler(db *database.DB) *WritesHandler {
	return &WritesHandler{db: db}
}

type writeRequestBody struct {
	Value json.RawMessage `json:"value"`
}

// EnqueueWrite queues a value against a tag's external id. The poll engine
// drains the queue on its next tick against the owning device; this handler
// never talks to the wire directly.
func (h *WritesHandler) EnqueueWrite(w http.ResponseWriter, r *http.Request) {
	tagID, err := uuid.Parse(chi.URLParam(r, "tagID"))
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidParameter, "invalid tag id")
		return
	}

	var body writeRequestBody
	if err := DecodeJSON(r, &body); err != nil || len(body.Value) == 0 {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid request body")
		return
	}

	_, err = h.db.EnqueueWrite(r.Context(), tagID, body.Value)
	if err != nil {
		switch err {
		case database.ErrNotFound:
			WriteErrorWithCode(w, http.StatusNotFound, ErrNotFound, "tag not found")
		case database.ErrNotWritable:
			WriteErrorWithCode(w, http.StatusBadRequest, ErrNotWritable, "tag channel is not writable")
		default:
			WriteError(w, http.StatusInternalServerError, "failed to enqueue write")
		}
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *WritesHandler) Routes(r chi.Router) {
	r.Post("/tags/{tagID}/writes", h.EnqueueWrite)
}
