// Package history implements the per-tag throttle/retention sampler
// invoked once per successful poll read. Retention pruning
// is Cleanup's job; this package only decides whether to append a sample.
package history

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/KeppyMarbles/ModbusTiles/internal/database"
	"github.com/KeppyMarbles/ModbusTiles/internal/engine"
	"github.com/rs/zerolog"
)

// throttleState tracks the last time a tag's sample was actually persisted,
// since HistoryInterval throttling is evaluated against it rather than
// against every poll tick.
type throttleState struct {
	mu   sync.Mutex
	last map[int64]time.Time
}

// store is the subset of *database.DB the sampler depends on, narrowed so
// tests can substitute an in-memory fake instead of a live connection.
type store interface {
	InsertHistoryBatch(ctx context.Context, samples []database.HistorySample) error
}

// Sampler batches HistorySample writes via engine.Batcher and applies the
// per-tag interval/retention throttle before offering a sample to the batch.
type Sampler struct {
	db      store
	log     zerolog.Logger
	state   throttleState
	batcher *engine.Batcher[database.HistorySample]
}

// New constructs a Sampler. Samples accumulate until maxBatch is reached or
// flushInterval elapses, whichever comes first, then are bulk-inserted.
func New(db store, log zerolog.Logger, maxBatch int, flushInterval time.Duration) *Sampler {
	s := &Sampler{
		db:    db,
		log:   log.With().Str("component", "history").Logger(),
		state: throttleState{last: make(map[int64]time.Time)},
	}
	s.batcher = engine.NewBatcher(maxBatch, flushInterval, s.flush)
	return s
}

// Offer is called once per successful tag read. It appends a sample if the
// tag's retention is positive and the interval throttle has elapsed, else
// it's a no-op.
func (s *Sampler) Offer(tag database.Tag, raw json.RawMessage, now time.Time) {
	if tag.HistoryRetention <= 0 {
		return
	}

	s.state.mu.Lock()
	last, ok := s.state.last[tag.ID]
	if !ok && tag.LastHistoryAt != nil {
		// First time this tag is offered since process start: seed from the
		// persisted last-sample time instead of treating it as overdue, so a
		// restart doesn't burst a fresh sample for every tag at once.
		last = *tag.LastHistoryAt
		ok = true
	}
	due := !ok || now.Sub(last) >= tag.HistoryInterval
	if due {
		s.state.last[tag.ID] = now
	} else {
		s.state.last[tag.ID] = last
	}
	s.state.mu.Unlock()

	if !due {
		return
	}

	s.batcher.Add(database.HistorySample{TagID: tag.ID, Timestamp: now, Value: raw})
}

func (s *Sampler) flush(samples []database.HistorySample) {
	if err := s.db.InsertHistoryBatch(context.Background(), samples); err != nil {
		s.log.Error().Err(err).Int("count", len(samples)).Msg("history batch insert failed")
		return
	}
	s.log.Debug().Int("count", len(samples)).Msg("history batch committed")
}

// Stop flushes any pending samples and stops accepting new ones.
func (s *Sampler) Stop() {
	s.batcher.Stop()
}

// Forget drops a tag's throttle state, used when a tag is deactivated or
// deleted so a future re-activation starts fresh.
func (s *Sampler) Forget(tagID int64) {
	s.state.mu.Lock()
	delete(s.state.last, tagID)
	s.state.mu.Unlock()
}
