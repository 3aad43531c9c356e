package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/KeppyMarbles/ModbusTiles/internal/database"
	"github.com/go-chi/chi/v5"
)

type AlarmsHandler struct {
	db *database.DB
}

func NewAlarmsHandler(db *database.DB) *AlarmsHandler {
	return &AlarmsHandler{db: db}
}

func (h *AlarmsHandler) ListAlarmConfigs(w http.ResponseWriter, r *http.Request) {
	tagID, err := PathInt64(r, "tagID")
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidParameter, "invalid tag id")
		return
	}
	configs, err := h.db.ListEnabledAlarmConfigsByTag(r.Context(), tagID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to list alarm configs")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"alarm_configs": configs, "total": len(configs)})
}

type alarmConfigRequest struct {
	TagID                 int64  `json:"tag_id"`
	Alias                 string `json:"alias"`
	TriggerValue          any    `json:"trigger_value"`
	Operator              string `json:"operator"`
	ThreatLevel           int    `json:"threat_level"`
	Message               string `json:"message"`
	Enabled               *bool  `json:"enabled"`
	NotificationCooldownS int64  `json:"notification_cooldown_seconds"`
}

func (h *AlarmsHandler) UpsertAlarmConfig(w http.ResponseWriter, r *http.Request) {
	var req alarmConfigRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid request body")
		return
	}
	raw, err := marshalTriggerValue(req.TriggerValue)
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid trigger_value")
		return
	}

	c := database.AlarmConfig{
		TagID:                req.TagID,
		Alias:                req.Alias,
		TriggerValue:         raw,
		Operator:             database.AlarmOperator(req.Operator),
		ThreatLevel:          database.ThreatLevel(req.ThreatLevel),
		Message:              req.Message,
		Enabled:              true,
		NotificationCooldown: time.Duration(req.NotificationCooldownS) * time.Second,
	}
	if req.Enabled != nil {
		c.Enabled = *req.Enabled
	}

	saved, err := h.db.UpsertAlarmConfig(r.Context(), c)
	if err != nil {
		if ve, ok := err.(*database.ValidationError); ok {
			WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidParameter, ve.Error())
			return
		}
		WriteError(w, http.StatusInternalServerError, "failed to save alarm config")
		return
	}
	WriteJSON(w, http.StatusOK, saved)
}

func (h *AlarmsHandler) ListActiveAlarms(w http.ResponseWriter, r *http.Request) {
	configID, err := PathInt64(r, "configID")
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidParameter, "invalid alarm config id")
		return
	}
	active, found, err := h.db.GetActiveAlarmForConfig(r.Context(), configID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to look up active alarm")
		return
	}
	if !found {
		WriteJSON(w, http.StatusOK, map[string]any{"active": nil})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"active": active})
}

func (h *AlarmsHandler) Routes(r chi.Router) {
	r.Get("/tags/{tagID}/alarm-configs", h.ListAlarmConfigs)
	r.Put("/alarm-configs", h.UpsertAlarmConfig)
	r.Get("/alarm-configs/{configID}/active", h.ListActiveAlarms)
}

func marshalTriggerValue(v any) ([]byte, error) {
	return json.Marshal(v)
}
