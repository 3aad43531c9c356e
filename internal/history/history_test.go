package history

import (
	"testing"
	"time"

	"github.com/KeppyMarbles/ModbusTiles/internal/database"
	"github.com/stretchr/testify/assert"
)

func TestOfferSkipsWhenRetentionDisabled(t *testing.T) {
	s := &Sampler{state: throttleState{last: make(map[int64]time.Time)}}
	s.batcher = nil // Offer must not touch the batcher when retention <= 0.

	tag := database.Tag{ID: 1, HistoryRetention: 0, HistoryInterval: time.Second}
	assert.NotPanics(t, func() { s.Offer(tag, nil, time.Now()) })
}

func TestOfferThrottlesWithinInterval(t *testing.T) {
	var captured [][]database.HistorySample
	s := &Sampler{state: throttleState{last: make(map[int64]time.Time)}}
	s.batcher = newCapturingBatcher(&captured)

	tag := database.Tag{ID: 1, HistoryRetention: time.Hour, HistoryInterval: time.Minute}
	now := time.Now()
	s.Offer(tag, nil, now)
	s.Offer(tag, nil, now.Add(10*time.Second)) // within interval, should be throttled
	s.batcher.Stop()

	assert.Len(t, captured, 1)
	assert.Len(t, captured[0], 1)
}

func TestOfferAllowsAfterInterval(t *testing.T) {
	var captured [][]database.HistorySample
	s := &Sampler{state: throttleState{last: make(map[int64]time.Time)}}
	s.batcher = newCapturingBatcher(&captured)

	tag := database.Tag{ID: 1, HistoryRetention: time.Hour, HistoryInterval: time.Minute}
	now := time.Now()
	s.Offer(tag, nil, now)
	s.Offer(tag, nil, now.Add(2*time.Minute))
	s.batcher.Stop()

	assert.Len(t, captured, 1)
	assert.Len(t, captured[0], 2)
}
