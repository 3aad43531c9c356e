package database

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/KeppyMarbles/ModbusTiles/internal/codec"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// maxRegisterWidth and maxBitWidth bound how many registers or coils a single
// read may span,
// matching the original serializer's bulk write-amount validation
// (apps/plc_tools/tags.py): a PLC read request addresses at most 125
// registers or 2000 coils per the Modbus application protocol.
const (
	maxRegisterWidth = 125
	maxBitWidth       = 2000
)

// ListActiveTagsByDevice returns every active tag on a device, ordered by
// address for the poll engine's deterministic read order.
func (db *DB) ListActiveTagsByDevice(ctx context.Context, deviceID int64) ([]Tag, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, external_id, device_id, channel, address, unit_id, data_type, read_amount,
		       history_interval, history_retention, current_value, last_updated, last_history_at,
		       active, created_at, updated_at
		FROM tags WHERE device_id = $1 AND active ORDER BY address
	`, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTags(rows)
}

// ListTagsByDevice returns every tag on a device regardless of active flag.
func (db *DB) ListTagsByDevice(ctx context.Context, deviceID int64) ([]Tag, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, external_id, device_id, channel, address, unit_id, data_type, read_amount,
		       history_interval, history_retention, current_value, last_updated, last_history_at,
		       active, created_at, updated_at
		FROM tags WHERE device_id = $1 ORDER BY address
	`, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTags(rows)
}

func scanTags(rows pgx.Rows) ([]Tag, error) {
	var out []Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTag(row pgx.Row) (Tag, error) {
	var t Tag
	var channel, dataType string
	var address, unitID int
	err := row.Scan(&t.ID, &t.ExternalID, &t.DeviceID, &channel, &address, &unitID, &dataType, &t.ReadAmount,
		&t.HistoryInterval, &t.HistoryRetention, &t.CurrentValue, &t.LastUpdated, &t.LastHistoryAt,
		&t.Active, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return Tag{}, err
	}
	t.Channel = codec.Channel(channel)
	t.DataType = codec.DataType(dataType)
	t.Address = uint16(address)
	t.UnitID = byte(unitID)
	return t, nil
}

// GetTagByExternalID looks up one tag by its UUID, the identifier the HTTP
// API exposes to consumers.
func (db *DB) GetTagByExternalID(ctx context.Context, externalID uuid.UUID) (Tag, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT id, external_id, device_id, channel, address, unit_id, data_type, read_amount,
		       history_interval, history_retention, current_value, last_updated, last_history_at,
		       active, created_at, updated_at
		FROM tags WHERE external_id = $1
	`, externalID)
	t, err := scanTag(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Tag{}, ErrNotFound
	}
	return t, err
}

// GetTagByID looks up one tag by its internal id, for callers (e.g. the
// schedule runner) that only store the internal id.
func (db *DB) GetTagByID(ctx context.Context, id int64) (Tag, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT id, external_id, device_id, channel, address, unit_id, data_type, read_amount,
		       history_interval, history_retention, current_value, last_updated, last_history_at,
		       active, created_at, updated_at
		FROM tags WHERE id = $1
	`, id)
	t, err := scanTag(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Tag{}, ErrNotFound
	}
	return t, err
}

// UpsertTag creates or updates a tag identified by (device, channel, address,
// unit_id), validating read_amount against the channel's maximum addressable
// width.
func (db *DB) UpsertTag(ctx context.Context, t Tag) (Tag, error) {
	switch t.Channel {
	case codec.Coil, codec.DiscreteInput, codec.HoldingRegister, codec.InputRegister:
	default:
		return Tag{}, &ValidationError{Field: "channel", Reason: "unknown channel"}
	}
	switch t.DataType {
	case codec.Bool, codec.Int16, codec.Uint16, codec.Int32, codec.Uint32, codec.Int64, codec.Uint64, codec.Float32, codec.Float64, codec.String:
	default:
		return Tag{}, &ValidationError{Field: "data_type", Reason: "unknown data type"}
	}
	if t.ReadAmount < 1 {
		return Tag{}, &ValidationError{Field: "read_amount", Reason: "must be >= 1"}
	}
	if t.Channel.IsBitChannel() {
		if codec.BitWidth(t.ReadAmount) > maxBitWidth {
			return Tag{}, &ValidationError{Field: "read_amount", Reason: "exceeds maximum addressable bit width"}
		}
	} else {
		if codec.RegisterWidth(t.DataType, t.ReadAmount) > maxRegisterWidth {
			return Tag{}, &ValidationError{Field: "read_amount", Reason: "exceeds maximum addressable register width"}
		}
	}

	var externalID uuid.UUID
	var createdAt time.Time
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO tags (device_id, channel, address, unit_id, data_type, read_amount,
		                   history_interval, history_retention, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (device_id, channel, address, unit_id) DO UPDATE SET
			data_type = EXCLUDED.data_type,
			read_amount = EXCLUDED.read_amount,
			history_interval = EXCLUDED.history_interval,
			history_retention = EXCLUDED.history_retention,
			active = EXCLUDED.active,
			updated_at = now()
		RETURNING id, external_id, created_at
	`, t.DeviceID, string(t.Channel), int(t.Address), int(t.UnitID), string(t.DataType), t.ReadAmount,
		t.HistoryInterval, t.HistoryRetention, t.Active).Scan(&t.ID, &externalID, &createdAt)
	if err != nil {
		return Tag{}, err
	}
	t.ExternalID = externalID
	t.CreatedAt = createdAt
	return t, nil
}

// CommitSample atomically writes a tag's current_value and last_updated
// after a successful poll read.
func (db *DB) CommitSample(ctx context.Context, tagID int64, rawValue json.RawMessage, at time.Time) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE tags SET current_value = $2, last_updated = $3, updated_at = now() WHERE id = $1
	`, tagID, []byte(rawValue), at)
	return err
}

// DeleteTag removes a tag; ON DELETE CASCADE removes its alarms, history,
// and write requests.
func (db *DB) DeleteTag(ctx context.Context, externalID uuid.UUID) error {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM tags WHERE external_id = $1`, externalID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
