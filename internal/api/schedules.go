package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/KeppyMarbles/ModbusTiles/internal/database"
	"github.com/go-chi/chi/v5"
)

type SchedulesHandler struct {
	db *database.DB
}

func NewSchedulesHandler(db *database.DB) *SchedulesHandler {
	return &SchedulesHandler{db: db}
}

func (h *SchedulesHandler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := h.db.ListEnabledSchedules(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to list schedules")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"schedules": schedules, "total": len(schedules)})
}

type scheduleRequest struct {
	ID         int64  `json:"id"`
	TagID      int64  `json:"tag_id"`
	WriteValue any    `json:"write_value"`
	TimeOfDay  string `json:"time_of_day"` // "HH:MM:SS"
	Days       [7]bool `json:"days"`
	Enabled    *bool  `json:"enabled"`
}

func (h *SchedulesHandler) UpsertSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid request body")
		return
	}

	tod, err := time.Parse("15:04:05", req.TimeOfDay)
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidParameter, "time_of_day must be HH:MM:SS")
		return
	}
	raw, err := json.Marshal(req.WriteValue)
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid write_value")
		return
	}

	s := database.Schedule{
		ID:         req.ID,
		TagID:      req.TagID,
		WriteValue: raw,
		TimeOfDay:  tod,
		Days:       req.Days,
		Enabled:    true,
	}
	if req.Enabled != nil {
		s.Enabled = *req.Enabled
	}

	saved, err := h.db.UpsertSchedule(r.Context(), s)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to save schedule")
		return
	}
	WriteJSON(w, http.StatusOK, saved)
}

func (h *SchedulesHandler) Routes(r chi.Router) {
	r.Get("/schedules", h.ListSchedules)
	r.Put("/schedules", h.UpsertSchedule)
}
