package api

import (
	"net/http"

	"github.com/KeppyMarbles/ModbusTiles/internal/codec"
	"github.com/KeppyMarbles/ModbusTiles/internal/database"
	"github.com/KeppyMarbles/ModbusTiles/internal/session"
	"github.com/KeppyMarbles/ModbusTiles/internal/transport"
	"github.com/go-chi/chi/v5"
)

type DevicesHandler struct {
	db       *database.DB
	sessions *session.Registry
}

func NewDevicesHandler(db *database.DB, sessions *session.Registry) *DevicesHandler {
	return &DevicesHandler{db: db, sessions: sessions}
}

// deviceStatus is the connectivity summary surfaced alongside a Device,
// sourced from its live Session rather than the database (a device never
// polled yet has no Session, and is reported as "unknown").
type deviceStatus struct {
	Status              string `json:"status"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

func (h *DevicesHandler) statusFor(alias string) deviceStatus {
	sess, ok := h.sessions.Get(alias)
	if !ok {
		return deviceStatus{Status: "unknown"}
	}
	return deviceStatus{
		Status:              string(sess.State()),
		ConsecutiveFailures: sess.ConsecutiveFailures(),
	}
}

type deviceWithStatus struct {
	database.Device
	deviceStatus
}

func (h *DevicesHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.db.ListDevices(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to list devices")
		return
	}
	out := make([]deviceWithStatus, len(devices))
	for i, d := range devices {
		out[i] = deviceWithStatus{Device: d, deviceStatus: h.statusFor(d.Alias)}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"devices": out, "total": len(out)})
}

func (h *DevicesHandler) GetDevice(w http.ResponseWriter, r *http.Request) {
	alias := chi.URLParam(r, "alias")
	d, err := h.db.GetDeviceByAlias(r.Context(), alias)
	if err != nil {
		WriteErrorWithCode(w, http.StatusNotFound, ErrNotFound, "device not found")
		return
	}
	WriteJSON(w, http.StatusOK, deviceWithStatus{Device: d, deviceStatus: h.statusFor(d.Alias)})
}

type deviceRequest struct {
	Alias     string `json:"alias"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Protocol  string `json:"protocol"`
	WordOrder string `json:"word_order"`
	Active    *bool  `json:"active"`
}

// UpsertDevice creates or updates a device identified by alias, the
// idempotent registration path used by both single-device PUT and the bulk
// admin endpoint.
func (h *DevicesHandler) UpsertDevice(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid request body")
		return
	}

	d := database.Device{
		Alias:     req.Alias,
		Host:      req.Host,
		Port:      req.Port,
		Protocol:  transport.Protocol(req.Protocol),
		WordOrder: wordOrderOrDefault(req.WordOrder),
		Active:    true,
	}
	if req.Active != nil {
		d.Active = *req.Active
	}

	saved, err := h.db.UpsertDevice(r.Context(), d)
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, saved)
}

func (h *DevicesHandler) DeleteDevice(w http.ResponseWriter, r *http.Request) {
	alias := chi.URLParam(r, "alias")
	if err := h.db.DeleteDevice(r.Context(), alias); err != nil {
		if err == database.ErrNotFound {
			WriteErrorWithCode(w, http.StatusNotFound, ErrNotFound, "device not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "failed to delete device")
		return
	}
	h.sessions.Remove(alias)
	w.WriteHeader(http.StatusNoContent)
}

func (h *DevicesHandler) Routes(r chi.Router) {
	r.Get("/devices", h.ListDevices)
	r.Put("/devices", h.UpsertDevice)
	r.Get("/devices/{alias}", h.GetDevice)
	r.Delete("/devices/{alias}", h.DeleteDevice)
}

func wordOrderOrDefault(s string) codec.WordOrder {
	if s == "" {
		return codec.BigEndianWords
	}
	return codec.WordOrder(s)
}

func writeDeviceError(w http.ResponseWriter, err error) {
	if ve, ok := err.(*database.ValidationError); ok {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidParameter, ve.Error())
		return
	}
	WriteError(w, http.StatusInternalServerError, "failed to save device")
}
