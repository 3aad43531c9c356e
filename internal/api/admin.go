package api

import (
	"net/http"

	"github.com/KeppyMarbles/ModbusTiles/internal/codec"
	"github.com/KeppyMarbles/ModbusTiles/internal/database"
	"github.com/KeppyMarbles/ModbusTiles/internal/transport"
	"github.com/go-chi/chi/v5"
)

type AdminHandler struct {
	db *database.DB
}

func NewAdminHandler(db *database.DB) *AdminHandler {
	return &AdminHandler{db: db}
}

type bulkTagRequest struct {
	Channel          string `json:"channel"`
	Address          uint16 `json:"address"`
	UnitID           byte   `json:"unit_id"`
	DataType         string `json:"data_type"`
	ReadAmount       int    `json:"read_amount"`
	HistoryInterval  int64  `json:"history_interval_seconds"`
	HistoryRetention int64  `json:"history_retention_seconds"`
}

type bulkDeviceRequest struct {
	Alias     string           `json:"alias"`
	Host      string           `json:"host"`
	Port      int              `json:"port"`
	Protocol  string           `json:"protocol"`
	WordOrder string           `json:"word_order"`
	Tags      []bulkTagRequest `json:"tags"`
}

type bulkRegisterResult struct {
	Alias    string `json:"alias"`
	DeviceID int64  `json:"device_id,omitempty"`
	TagCount int    `json:"tags_registered"`
	Error    string `json:"error,omitempty"`
}

// BulkRegister upserts a batch of devices and their tags from a single JSON
// array, the programmatic replacement for a one-off CSV/fixture import: each
// device and tag entry is upserted independently by its natural key, so a
// single bad entry in the batch doesn't abort the rest.
func (h *AdminHandler) BulkRegister(w http.ResponseWriter, r *http.Request) {
	var reqs []bulkDeviceRequest
	if err := DecodeJSON(r, &reqs); err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid request body")
		return
	}

	results := make([]bulkRegisterResult, 0, len(reqs))
	for _, dr := range reqs {
		result := bulkRegisterResult{Alias: dr.Alias}

		dev, err := h.db.UpsertDevice(r.Context(), database.Device{
			Alias:     dr.Alias,
			Host:      dr.Host,
			Port:      dr.Port,
			Protocol:  deviceProtocol(dr.Protocol),
			WordOrder: wordOrderOrDefault(dr.WordOrder),
			Active:    true,
		})
		if err != nil {
			result.Error = err.Error()
			results = append(results, result)
			continue
		}
		result.DeviceID = dev.ID

		for _, tr := range dr.Tags {
			_, err := h.db.UpsertTag(r.Context(), database.Tag{
				DeviceID:         dev.ID,
				Channel:          codec.Channel(tr.Channel),
				Address:          tr.Address,
				UnitID:           tr.UnitID,
				DataType:         codec.DataType(tr.DataType),
				ReadAmount:       tr.ReadAmount,
				HistoryInterval:  secondsToDuration(tr.HistoryInterval),
				HistoryRetention: secondsToDuration(tr.HistoryRetention),
				Active:           true,
			})
			if err != nil {
				if result.Error == "" {
					result.Error = err.Error()
				}
				continue
			}
			result.TagCount++
		}
		results = append(results, result)
	}

	WriteJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (h *AdminHandler) Routes(r chi.Router) {
	r.Post("/admin/bulk-register", h.BulkRegister)
}

func deviceProtocol(s string) transport.Protocol {
	if s == "" {
		return transport.TCP
	}
	return transport.Protocol(s)
}
