package database

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotWritable is returned when a write is attempted against a read-only
// channel (discrete_input, input_register): a write
// targeting a read-only channel is rejected at entry, never enqueued.
var ErrNotWritable = errors.New("database: tag channel is not writable")

// EnqueueWrite validates and inserts a WriteRequest for the tag identified
// by externalID. Rejected at entry (never enqueued) if the tag doesn't exist
// or its channel is read-only.
func (db *DB) EnqueueWrite(ctx context.Context, externalID uuid.UUID, rawValue json.RawMessage) (WriteRequest, error) {
	tag, err := db.GetTagByExternalID(ctx, externalID)
	if err != nil {
		return WriteRequest{}, err
	}
	if !tag.Channel.Writable() {
		return WriteRequest{}, ErrNotWritable
	}

	var wr WriteRequest
	err = db.Pool.QueryRow(ctx, `
		INSERT INTO write_requests (tag_id, value, enqueued_at, processed)
		VALUES ($1, $2, now(), false)
		RETURNING id, tag_id, value, enqueued_at, processed
	`, tag.ID, []byte(rawValue)).Scan(&wr.ID, &wr.TagID, &wr.Value, &wr.EnqueuedAt, &wr.Processed)
	return wr, err
}

// PendingWritesByDevice returns unprocessed WriteRequests for tags on a
// device, oldest first, for the poll engine's drain step.
func (db *DB) PendingWritesByDevice(ctx context.Context, deviceID int64) ([]WriteRequest, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT wr.id, wr.tag_id, wr.value, wr.enqueued_at, wr.processed
		FROM write_requests wr
		JOIN tags t ON t.id = wr.tag_id
		WHERE t.device_id = $1 AND NOT wr.processed
		ORDER BY wr.enqueued_at
	`, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WriteRequest
	for rows.Next() {
		var wr WriteRequest
		if err := rows.Scan(&wr.ID, &wr.TagID, &wr.Value, &wr.EnqueuedAt, &wr.Processed); err != nil {
			return nil, err
		}
		out = append(out, wr)
	}
	return out, rows.Err()
}

// MarkWriteProcessed marks a WriteRequest as processed, optionally recording
// an error note so a failed encode/validation never retries forever.
func (db *DB) MarkWriteProcessed(ctx context.Context, id int64, writeErr error) error {
	note := ""
	if writeErr != nil {
		note = writeErr.Error()
	}
	_, err := db.Pool.Exec(ctx, `
		UPDATE write_requests SET processed = true, processed_at = now(), error = $2 WHERE id = $1
	`, id, note)
	return err
}

// CountPendingWrites returns the total unprocessed write backlog across all
// devices, for the metrics collector's gauge.
func (db *DB) CountPendingWrites(ctx context.Context) (int64, error) {
	var n int64
	err := db.Pool.QueryRow(ctx, `SELECT count(*) FROM write_requests WHERE NOT processed`).Scan(&n)
	return n, err
}

// DeleteProcessedWritesOlderThan prunes processed write requests for
// Cleanup, returning the number removed.
func (db *DB) DeleteProcessedWritesOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `
		DELETE FROM write_requests WHERE processed AND processed_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
