package schedule

import (
	"testing"
	"time"

	"github.com/KeppyMarbles/ModbusTiles/internal/database"
	"github.com/stretchr/testify/assert"
)

func schedAt(hour, minute int, days [7]bool, createdAt time.Time, lastRun *time.Time) database.Schedule {
	return database.Schedule{
		ID:        1,
		TagID:     1,
		TimeOfDay: time.Date(0, 1, 1, hour, minute, 0, 0, time.UTC),
		Days:      days,
		Enabled:   true,
		CreatedAt: createdAt,
		LastRun:   lastRun,
	}
}

func allDays() [7]bool { return [7]bool{true, true, true, true, true, true, true} }

// dueToday mirrors the skip-condition logic in Runner.sweep so it can be
// exercised without a live database.
func dueToday(s database.Schedule, now time.Time) bool {
	if !s.Days[int(now.Weekday())] {
		return false
	}
	target := time.Date(now.Year(), now.Month(), now.Day(),
		s.TimeOfDay.Hour(), s.TimeOfDay.Minute(), s.TimeOfDay.Second(), 0, now.Location())
	if s.CreatedAt.After(target) {
		return false
	}
	if target.After(now) {
		return false
	}
	if s.LastRun != nil && !s.LastRun.Before(target) {
		return false
	}
	return true
}

func TestDueTodaySkipsWrongWeekday(t *testing.T) {
	days := [7]bool{}
	days[1] = true // Monday only
	now := time.Date(2026, 7, 26, 10, 0, 0, 0, time.UTC) // a Sunday
	s := schedAt(9, 0, days, now.AddDate(0, 0, -30), nil)
	assert.False(t, dueToday(s, now))
}

func TestDueTodaySkipsBeforeTargetTime(t *testing.T) {
	now := time.Date(2026, 7, 27, 8, 0, 0, 0, time.UTC) // Monday, 08:00
	s := schedAt(9, 0, allDays(), now.AddDate(0, 0, -30), nil)
	assert.False(t, dueToday(s, now))
}

func TestDueTodaySkipsCreatedAfterTarget(t *testing.T) {
	now := time.Date(2026, 7, 27, 10, 0, 0, 0, time.UTC)
	createdAt := time.Date(2026, 7, 27, 9, 30, 0, 0, time.UTC) // after 09:00 target
	s := schedAt(9, 0, allDays(), createdAt, nil)
	assert.False(t, dueToday(s, now))
}

func TestDueTodaySkipsAlreadyRun(t *testing.T) {
	now := time.Date(2026, 7, 27, 10, 0, 0, 0, time.UTC)
	lastRun := time.Date(2026, 7, 27, 9, 0, 1, 0, time.UTC)
	s := schedAt(9, 0, allDays(), now.AddDate(0, 0, -30), &lastRun)
	assert.False(t, dueToday(s, now))
}

func TestDueTodayFiresOncePastTarget(t *testing.T) {
	now := time.Date(2026, 7, 27, 10, 0, 0, 0, time.UTC)
	s := schedAt(9, 0, allDays(), now.AddDate(0, 0, -30), nil)
	assert.True(t, dueToday(s, now))
}
