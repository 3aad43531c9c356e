// Package schedule implements the Schedule Runner: a calendar-driven sweep
// that enqueues a Tag write at a configured time-of-day on configured
// weekdays, using go-co-op/gocron/v2 for the cadence.
package schedule

import (
	"context"
	"encoding/json"
	"time"

	"github.com/KeppyMarbles/ModbusTiles/internal/database"
	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
)

// Runner periodically scans enabled Schedules and enqueues a write for any
// whose target time has arrived and hasn't already run today.
type Runner struct {
	db        *database.DB
	scheduler gocron.Scheduler
	log       zerolog.Logger
}

// New builds a Runner polling at interval. Callers must call Start to begin
// the sweep and Stop to shut it down cleanly.
func New(db *database.DB, interval time.Duration, log zerolog.Logger) (*Runner, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	r := &Runner{db: db, scheduler: s, log: log.With().Str("component", "schedule").Logger()}

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

// sweep evaluates every enabled Schedule against now and enqueues a write
// for each due one, skipping (without running) any whose:
//   - configured weekday is not selected,
//   - Schedule was created after today's target time,
//   - today's target time hasn't arrived yet, or
//   - LastRun already covers today's target time.
func (r *Runner) sweep(ctx context.Context) {
	now := time.Now()
	schedules, err := r.db.ListEnabledSchedules(ctx)
	if err != nil {
		r.log.Error().Err(err).Msg("failed to list schedules")
		return
	}

	for _, s := range schedules {
		if !s.Days[int(now.Weekday())] {
			continue
		}

		target := time.Date(now.Year(), now.Month(), now.Day(),
			s.TimeOfDay.Hour(), s.TimeOfDay.Minute(), s.TimeOfDay.Second(), 0, now.Location())

		if s.CreatedAt.After(target) {
			continue
		}
		if target.After(now) {
			continue
		}
		if s.LastRun != nil && !s.LastRun.Before(target) {
			continue
		}

		r.run(ctx, s, now)
	}
}

func (r *Runner) run(ctx context.Context, s database.Schedule, now time.Time) {
	tag, err := r.db.GetTagByID(ctx, s.TagID)
	if err != nil {
		r.log.Error().Err(err).Int64("schedule_id", s.ID).Msg("failed to resolve tag")
		return
	}

	if _, err := r.db.EnqueueWrite(ctx, tag.ExternalID, json.RawMessage(s.WriteValue)); err != nil {
		r.log.Error().Err(err).Int64("schedule_id", s.ID).Msg("failed to enqueue scheduled write")
		return
	}
	if err := r.db.MarkScheduleRun(ctx, s.ID, now); err != nil {
		r.log.Error().Err(err).Int64("schedule_id", s.ID).Msg("failed to mark schedule run")
	}
}
