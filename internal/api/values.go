package api

import (
	"net/http"
	"time"

	"github.com/KeppyMarbles/ModbusTiles/internal/cache"
	"github.com/KeppyMarbles/ModbusTiles/internal/database"
	"github.com/KeppyMarbles/ModbusTiles/internal/value"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// ValuesHandler serves the current-value projection every downstream
// consumer is meant to read: the Tag Cache, not a live database query.
type ValuesHandler struct {
	db    *database.DB
	cache *cache.Cache
}

func NewValuesHandler(db *database.DB, c *cache.Cache) *ValuesHandler {
	return &ValuesHandler{db: db, cache: c}
}

// alarmSummary is the subset of an active alarm returned alongside a tag's
// value; nil when the tag has no currently-active alarm.
type alarmSummary struct {
	Message     string               `json:"message"`
	ThreatLevel database.ThreatLevel `json:"threat_level"`
}

// valueResponse is the shape returned for a single tag's current value,
// both standalone and nested in the batch response.
type valueResponse struct {
	Value value.Value   `json:"value"`
	Time  time.Time     `json:"time"`
	AgeMs int64         `json:"age_ms"`
	Alarm *alarmSummary `json:"alarm"`
}

// buildValueResponse reads a tag's current entry from the cache and its
// active alarm (if any) from the database. Returns ok=false if the tag has
// never produced a cached sample.
func (h *ValuesHandler) buildValueResponse(r *http.Request, tagID int64, now time.Time) (valueResponse, bool, error) {
	entry, ok := h.cache.Get(tagID)
	if !ok {
		return valueResponse{}, false, nil
	}

	resp := valueResponse{
		Value: entry.Value,
		Time:  entry.LastUpdated,
		AgeMs: now.Sub(entry.LastUpdated).Milliseconds(),
	}

	summary, has, err := h.db.GetActiveAlarmSummaryForTag(r.Context(), tagID)
	if err != nil {
		return valueResponse{}, false, err
	}
	if has {
		resp.Alarm = &alarmSummary{Message: summary.Message, ThreatLevel: summary.ThreatLevel}
	}
	return resp, true, nil
}

// GetValue returns a single tag's current value from the cache.
func (h *ValuesHandler) GetValue(w http.ResponseWriter, r *http.Request) {
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

	resp, ok, err := h.buildValueResponse(r, tag.ID, time.Now())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to read tag value")
		return
	}
	if !ok {
		WriteErrorWithCode(w, http.StatusNotFound, ErrNotFound, "tag has no cached value yet")
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}

type valuesRequestBody struct {
	TagIDs []uuid.UUID `json:"tag_ids"`
}

// GetValues returns the current value of every tag named in the request
// body, keyed by external id. Tags that are unknown or have no cached
// value yet are silently omitted rather than failing the whole batch.
func (h *ValuesHandler) GetValues(w http.ResponseWriter, r *http.Request) {
	var body valuesRequestBody
	if err := DecodeJSON(r, &body); err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid request body")
		return
	}

	now := time.Now()
	out := make(map[string]valueResponse, len(body.TagIDs))
	for _, externalID := range body.TagIDs {
		tag, err := h.db.GetTagByExternalID(r.Context(), externalID)
		if err != nil {
			continue
		}
		resp, ok, err := h.buildValueResponse(r, tag.ID, now)
		if err != nil || !ok {
			continue
		}
		out[externalID.String()] = resp
	}
	WriteJSON(w, http.StatusOK, out)
}

func (h *ValuesHandler) Routes(r chi.Router) {
	r.Get("/tags/{tagID}/value", h.GetValue)
	r.Post("/values", h.GetValues)
}
