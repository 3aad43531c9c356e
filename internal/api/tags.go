package api

import (
	"net/http"
	"time"

	"github.com/KeppyMarbles/ModbusTiles/internal/codec"
	"github.com/KeppyMarbles/ModbusTiles/internal/database"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type TagsHandler struct {
	db *database.DB
}

func NewTagsHandler(db *database.DB) *TagsHandler {
	return &TagsHandler{db: db}
}

func (h *TagsHandler) ListTags(w http.ResponseWriter, r *http.Request) {
	deviceID, err := PathInt64(r, "deviceID")
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidParameter, "invalid device id")
		return
	}

	var tags []database.Tag
	if active, ok := QueryBool(r, "active"); ok && active {
		tags, err = h.db.ListActiveTagsByDevice(r.Context(), deviceID)
	} else {
		tags, err = h.db.ListTagsByDevice(r.Context(), deviceID)
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to list tags")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"tags": tags, "total": len(tags)})
}

func (h *TagsHandler) GetTag(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "tagID"))
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidParameter, "invalid tag id")
		return
	}
	t, err := h.db.GetTagByExternalID(r.Context(), id)
	if err != nil {
		WriteErrorWithCode(w, http.StatusNotFound, ErrNotFound, "tag not found")
		return
	}
	WriteJSON(w, http.StatusOK, t)
}

type tagRequest struct {
	DeviceID         int64  `json:"device_id"`
	Channel          string `json:"channel"`
	Address          uint16 `json:"address"`
	UnitID           byte   `json:"unit_id"`
	DataType         string `json:"data_type"`
	ReadAmount       int    `json:"read_amount"`
	HistoryInterval  int64  `json:"history_interval_seconds"`
	HistoryRetention int64  `json:"history_retention_seconds"`
	Active           *bool  `json:"active"`
}

func (h *TagsHandler) UpsertTag(w http.ResponseWriter, r *http.Request) {
	var req tagRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid request body")
		return
	}

	t := database.Tag{
		DeviceID:         req.DeviceID,
		Channel:          codec.Channel(req.Channel),
		Address:          req.Address,
		UnitID:           req.UnitID,
		DataType:         codec.DataType(req.DataType),
		ReadAmount:       req.ReadAmount,
		HistoryInterval:  secondsToDuration(req.HistoryInterval),
		HistoryRetention: secondsToDuration(req.HistoryRetention),
		Active:           true,
	}
	if req.Active != nil {
		t.Active = *req.Active
	}

	saved, err := h.db.UpsertTag(r.Context(), t)
	if err != nil {
		writeTagError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, saved)
}

func (h *TagsHandler) DeleteTag(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "tagID"))
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidParameter, "invalid tag id")
		return
	}
	if err := h.db.DeleteTag(r.Context(), id); err != nil {
		if err == database.ErrNotFound {
			WriteErrorWithCode(w, http.StatusNotFound, ErrNotFound, "tag not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "failed to delete tag")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TagsHandler) Routes(r chi.Router) {
	r.Get("/devices/{deviceID}/tags", h.ListTags)
	r.Put("/tags", h.UpsertTag)
	r.Get("/tags/{tagID}", h.GetTag)
	r.Delete("/tags/{tagID}", h.DeleteTag)
}

func secondsToDuration(s int64) time.Duration {
	return time.Duration(s) * time.Second
}

func writeTagError(w http.ResponseWriter, err error) {
	if ve, ok := err.(*database.ValidationError); ok {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidParameter, ve.Error())
		return
	}
	WriteError(w, http.StatusInternalServerError, "failed to save tag")
}
