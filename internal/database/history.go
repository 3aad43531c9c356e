package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// HistorySample is one tag sample queued for bulk persistence by the
// History Sampler.
type HistorySample struct {
	TagID     int64
	Timestamp time.Time
	Value     []byte // raw JSON
}

// InsertHistoryBatch bulk-inserts a batch of samples via pgx's CopyFrom,
// and bulk-updates each tag's last_history_at in the same call — the
// History Sampler's one bulk insert plus one bulk update per flush.
func (db *DB) InsertHistoryBatch(ctx context.Context, samples []HistorySample) error {
	if len(samples) == 0 {
		return nil
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	rows := make([][]any, len(samples))
	for i, s := range samples {
		rows[i] = []any{s.TagID, s.Timestamp, []byte(s.Value)}
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"history_entries"},
		[]string{"tag_id", "timestamp", "value"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, s := range samples {
		batch.Queue(`UPDATE tags SET last_history_at = $2 WHERE id = $1`, s.TagID, s.Timestamp)
	}
	br := tx.SendBatch(ctx, batch)
	for range samples {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return err
		}
	}
	if err := br.Close(); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// HistoryForTag returns the most recent samples for a tag, bounded by limit,
// ordered oldest to newest for charting clients.
func (db *DB) HistoryForTag(ctx context.Context, tagID int64, since time.Time, limit int) ([]HistoryEntry, error) {
	// The most recent `limit` rows are newest-first in SQL, then reversed in
	// Go so callers always see oldest-to-newest regardless of how the cutoff
	// and limit interact.
	rows, err := db.Pool.Query(ctx, `
		SELECT id, tag_id, "timestamp", value
		FROM history_entries
		WHERE tag_id = $1 AND "timestamp" >= $2
		ORDER BY "timestamp" DESC
		LIMIT $3
	`, tagID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.ID, &h.TagID, &h.Timestamp, &h.Value); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// DeleteHistoryOlderThan prunes expired history entries per-tag retention,
// for Cleanup. A single global cutoff isn't right for per-tag retention, so
// this deletes rows whose age exceeds the owning tag's history_retention.
func (db *DB) DeleteHistoryOlderThan(ctx context.Context, now time.Time) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `
		DELETE FROM history_entries he
		USING tags t
		WHERE he.tag_id = t.id
		  AND t.history_retention > interval '0 seconds'
		  AND he."timestamp" < $1 - t.history_retention
	`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
