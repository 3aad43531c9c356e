package history

import (
	"time"

	"github.com/KeppyMarbles/ModbusTiles/internal/database"
	"github.com/KeppyMarbles/ModbusTiles/internal/engine"
)

// newCapturingBatcher builds a Batcher that records every flushed batch into
// captured instead of hitting the database. Its size and time thresholds are
// out of reach within a test, so batches flush only when the test calls Stop.
func newCapturingBatcher(captured *[][]database.HistorySample) *engine.Batcher[database.HistorySample] {
	return engine.NewBatcher(1<<30, time.Hour, func(batch []database.HistorySample) {
		*captured = append(*captured, batch)
	})
}
