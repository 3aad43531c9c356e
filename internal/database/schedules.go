package database

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ListEnabledSchedules returns every enabled Schedule, for the Schedule
// Runner's cadence sweep.
func (db *DB) ListEnabledSchedules(ctx context.Context) ([]Schedule, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, external_id, tag_id, write_value, time_of_day, days, enabled, created_at, last_run
		FROM schedules WHERE enabled
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Schedule
	for rows.Next() {
		var s Schedule
		var days []bool
		if err := rows.Scan(&s.ID, &s.ExternalID, &s.TagID, &s.WriteValue, &s.TimeOfDay, &days, &s.Enabled, &s.CreatedAt, &s.LastRun); err != nil {
			return nil, err
		}
		for i := 0; i < 7 && i < len(days); i++ {
			s.Days[i] = days[i]
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpsertSchedule creates or updates a Schedule.
func (db *DB) UpsertSchedule(ctx context.Context, s Schedule) (Schedule, error) {
	days := make([]bool, 7)
	for i, d := range s.Days {
		days[i] = d
	}

	var externalID uuid.UUID
	var createdAt time.Time
	if s.ID == 0 {
		err := db.Pool.QueryRow(ctx, `
			INSERT INTO schedules (tag_id, write_value, time_of_day, days, enabled)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, external_id, created_at
		`, s.TagID, []byte(s.WriteValue), s.TimeOfDay, days, s.Enabled).Scan(&s.ID, &externalID, &createdAt)
		if err != nil {
			return Schedule{}, err
		}
	} else {
		err := db.Pool.QueryRow(ctx, `
			UPDATE schedules SET write_value = $2, time_of_day = $3, days = $4, enabled = $5
			WHERE id = $1
			RETURNING external_id, created_at
		`, s.ID, []byte(s.WriteValue), s.TimeOfDay, days, s.Enabled).Scan(&externalID, &createdAt)
		if err != nil {
			return Schedule{}, err
		}
	}
	s.ExternalID = externalID
	s.CreatedAt = createdAt
	return s, nil
}

// MarkScheduleRun stamps last_run=at after the Schedule Runner injects its
// write, so the same slot is never fired twice in one day.
func (db *DB) MarkScheduleRun(ctx context.Context, id int64, at time.Time) error {
	_, err := db.Pool.Exec(ctx, `UPDATE schedules SET last_run = $2 WHERE id = $1`, id, at)
	return err
}
