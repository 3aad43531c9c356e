package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/KeppyMarbles/ModbusTiles/internal/database"
	"github.com/KeppyMarbles/ModbusTiles/internal/mqttclient"
)

// HealthResponse is the /api/v1/health body.
type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
	Poll          *PollStatusData   `json:"poll,omitempty"`
}

// PollStatusData summarizes the poll engine's last-known counters.
type PollStatusData struct {
	Ticks         uint64 `json:"ticks"`
	DevicesPolled uint64 `json:"devices_polled"`
	DevicesFailed uint64 `json:"devices_failed"`
	TagsRead      uint64 `json:"tags_read"`
	TagsFailed    uint64 `json:"tags_failed"`
	WritesDrained uint64 `json:"writes_drained"`
}

// PollStatusSource is implemented by the poll engine so the health handler
// doesn't depend on its concrete type (avoiding an import cycle between
// internal/api and internal/poll).
type PollStatusSource interface {
	Ticks() uint64
	DevicesPolled() uint64
	DevicesFailed() uint64
	TagsRead() uint64
	TagsFailed() uint64
	WritesDrained() uint64
}

type HealthHandler struct {
	db        *database.DB
	mqtt      *mqttclient.Client
	poll      PollStatusSource
	version   string
	startTime time.Time
}

func NewHealthHandler(db *database.DB, mqtt *mqttclient.Client, poll PollStatusSource, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{db: db, mqtt: mqtt, poll: poll, version: version, startTime: startTime}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.db.HealthCheck(r.Context()); err != nil {
		checks["database"] = "error"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	if h.mqtt != nil {
		if h.mqtt.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			if status == "healthy" {
				status = "degraded"
			}
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	var pollData *PollStatusData
	if h.poll != nil {
		pollData = &PollStatusData{
			Ticks:         h.poll.Ticks(),
			DevicesPolled: h.poll.DevicesPolled(),
			DevicesFailed: h.poll.DevicesFailed(),
			TagsRead:      h.poll.TagsRead(),
			TagsFailed:    h.poll.TagsFailed(),
			WritesDrained: h.poll.WritesDrained(),
		}
		if pollData.Ticks == 0 {
			checks["poll"] = "not_yet_run"
		} else {
			checks["poll"] = "ok"
		}
	} else {
		checks["poll"] = "not_configured"
	}

	resp := HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
		Poll:          pollData,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(resp)
}
