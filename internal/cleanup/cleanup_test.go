package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestCutoffIsBeforeNowByRetention(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	retention := 24 * time.Hour
	cutoff := now.Add(-retention)
	if !cutoff.Before(now) {
		t.Fatalf("expected cutoff before now")
	}
	if now.Sub(cutoff) != retention {
		t.Fatalf("expected cutoff exactly retention before now")
	}
}

// fakeStore records every delete call's cutoff argument instead of touching
// a database, so the sweep's retention bound can be tested without one.
type fakeStore struct {
	historyCalls []time.Time
	writeCalls   []time.Time
	alarmCalls   []time.Time
	deleted      int64
}

func (f *fakeStore) DeleteHistoryOlderThan(ctx context.Context, now time.Time) (int64, error) {
	f.historyCalls = append(f.historyCalls, now)
	return f.deleted, nil
}

func (f *fakeStore) DeleteProcessedWritesOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	f.writeCalls = append(f.writeCalls, cutoff)
	return f.deleted, nil
}

func (f *fakeStore) DeleteInactiveAlarmsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	f.alarmCalls = append(f.alarmCalls, cutoff)
	return f.deleted, nil
}

// TestSweepAppliesEachRetentionWindow pins the "Retention bound" property:
// a single sweep deletes history past `now`'s per-tag retention (computed in
// SQL, so the cutoff passed here is just `now`) and write/alarm rows past
// their own independently configured retention windows.
func TestSweepAppliesEachRetentionWindow(t *testing.T) {
	fake := &fakeStore{deleted: 3}
	writeRetention := 48 * time.Hour
	alarmRetention := 7 * 24 * time.Hour
	r := &Runner{
		db:             fake,
		writeRetention: writeRetention,
		alarmRetention: alarmRetention,
		log:            zerolog.Nop(),
	}

	before := time.Now()
	r.sweep(context.Background())
	after := time.Now()

	if len(fake.historyCalls) != 1 || len(fake.writeCalls) != 1 || len(fake.alarmCalls) != 1 {
		t.Fatalf("expected exactly one delete call per retention window, got history=%d write=%d alarm=%d",
			len(fake.historyCalls), len(fake.writeCalls), len(fake.alarmCalls))
	}

	historyAt := fake.historyCalls[0]
	if historyAt.Before(before) || historyAt.After(after) {
		t.Fatalf("expected history sweep called with the current time, got %v (window %v..%v)", historyAt, before, after)
	}

	writeCutoff := fake.writeCalls[0]
	if got := historyAt.Sub(writeCutoff); got < writeRetention || got > writeRetention+time.Second {
		t.Fatalf("expected write cutoff ~%v before sweep time, got %v before", writeRetention, got)
	}

	alarmCutoff := fake.alarmCalls[0]
	if got := historyAt.Sub(alarmCutoff); got < alarmRetention || got > alarmRetention+time.Second {
		t.Fatalf("expected alarm cutoff ~%v before sweep time, got %v before", alarmRetention, got)
	}
}

// TestSweepToleratesDeleteErrors confirms one retention window's failure
// doesn't prevent the sweep from attempting the others.
func TestSweepToleratesDeleteErrors(t *testing.T) {
	fake := &erroringStore{}
	r := &Runner{
		db:  fake,
		log: zerolog.Nop(),
	}
	r.sweep(context.Background())
	if fake.historyCalls != 1 || fake.writeCalls != 1 || fake.alarmCalls != 1 {
		t.Fatalf("expected all three deletes attempted despite errors, got history=%d write=%d alarm=%d",
			fake.historyCalls, fake.writeCalls, fake.alarmCalls)
	}
}

type erroringStore struct {
	historyCalls, writeCalls, alarmCalls int
}

func (e *erroringStore) DeleteHistoryOlderThan(ctx context.Context, now time.Time) (int64, error) {
	e.historyCalls++
	return 0, context.DeadlineExceeded
}

func (e *erroringStore) DeleteProcessedWritesOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	e.writeCalls++
	return 0, context.DeadlineExceeded
}

func (e *erroringStore) DeleteInactiveAlarmsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	e.alarmCalls++
	return 0, context.DeadlineExceeded
}
