// Package cleanup implements the retention sweep: periodically pruning
// history entries past their tag's retention window, processed write
// requests, and deactivated alarms, so storage grows boundedly instead of
// without limit.
package cleanup

import (
	"context"
	"time"

	"github.com/KeppyMarbles/ModbusTiles/internal/database"
	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
)

// store is the subset of *database.DB the sweep depends on, narrowed so
// tests can substitute an in-memory fake instead of a live connection.
type store interface {
	DeleteHistoryOlderThan(ctx context.Context, now time.Time) (int64, error)
	DeleteProcessedWritesOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteInactiveAlarmsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Runner periodically deletes expired rows across history_entries,
// write_requests, and activated_alarms.
type Runner struct {
	db             store
	scheduler      gocron.Scheduler
	writeRetention time.Duration
	alarmRetention time.Duration
	log            zerolog.Logger
}

func New(db *database.DB, interval, writeRetention, alarmRetention time.Duration, log zerolog.Logger) (*Runner, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	r := &Runner{
		db:             db,
		scheduler:      s,
		writeRetention: writeRetention,
		alarmRetention: alarmRetention,
		log:            log.With().Str("component", "cleanup").Logger(),
	}

	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { r.sweep(context.Background()) }),
	)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Runner) Start() { r.scheduler.Start() }

func (r *Runner) Stop() error { return r.scheduler.Shutdown() }

func (r *Runner) sweep(ctx context.Context) {
	now := time.Now()

	if n, err := r.db.DeleteHistoryOlderThan(ctx, now); err != nil {
		r.log.Error().Err(err).Msg("history cleanup failed")
	} else if n > 0 {
		r.log.Info().Int64("deleted", n).Msg("pruned expired history entries")
	}

	if n, err := r.db.DeleteProcessedWritesOlderThan(ctx, now.Add(-r.writeRetention)); err != nil {
		r.log.Error().Err(err).Msg("write request cleanup failed")
	} else if n > 0 {
		r.log.Info().Int64("deleted", n).Msg("pruned processed write requests")
	}

	if n, err := r.db.DeleteInactiveAlarmsOlderThan(ctx, now.Add(-r.alarmRetention)); err != nil {
		r.log.Error().Err(err).Msg("alarm cleanup failed")
	} else if n > 0 {
		r.log.Info().Int64("deleted", n).Msg("pruned inactive alarm activations")
	}
}
