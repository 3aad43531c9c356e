package database

import (
	"context"
	"errors"

	"github.com/KeppyMarbles/ModbusTiles/internal/codec"
	"github.com/KeppyMarbles/ModbusTiles/internal/transport"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var ErrNotFound = errors.New("database: not found")

// ListActiveDevices returns every device with active=true, ordered by alias
// for deterministic iteration in the poll engine.
func (db *DB) ListActiveDevices(ctx context.Context) ([]Device, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, external_id, alias, host, port, protocol, word_order, active, created_at, updated_at
		FROM devices WHERE active ORDER BY alias
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDevices(rows)
}

// ListDevices returns every device regardless of active flag.
func (db *DB) ListDevices(ctx context.Context) ([]Device, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, external_id, alias, host, port, protocol, word_order, active, created_at, updated_at
		FROM devices ORDER BY alias
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDevices(rows)
}

func scanDevices(rows pgx.Rows) ([]Device, error) {
	var out []Device
	for rows.Next() {
		var d Device
		var protocol, wordOrder string
		if err := rows.Scan(&d.ID, &d.ExternalID, &d.Alias, &d.Host, &d.Port, &protocol, &wordOrder, &d.Active, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		d.Protocol = transport.Protocol(protocol)
		d.WordOrder = codec.WordOrder(wordOrder)
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetDeviceByAlias looks up one device by its unique alias.
func (db *DB) GetDeviceByAlias(ctx context.Context, alias string) (Device, error) {
	var d Device
	var protocol, wordOrder string
	err := db.Pool.QueryRow(ctx, `
		SELECT id, external_id, alias, host, port, protocol, word_order, active, created_at, updated_at
		FROM devices WHERE alias = $1
	`, alias).Scan(&d.ID, &d.ExternalID, &d.Alias, &d.Host, &d.Port, &protocol, &wordOrder, &d.Active, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Device{}, ErrNotFound
	}
	if err != nil {
		return Device{}, err
	}
	d.Protocol = transport.Protocol(protocol)
	d.WordOrder = codec.WordOrder(wordOrder)
	return d, nil
}

// UpsertDevice creates or updates a device by alias (the §9 "dynamic named
// get-or-create" pattern made explicit), used by both the admin CRUD routes
// and the bulk-register endpoint.
func (db *DB) UpsertDevice(ctx context.Context, d Device) (Device, error) {
	if d.Alias == "" {
		return Device{}, &ValidationError{Field: "alias", Reason: "must not be empty"}
	}
	switch d.Protocol {
	case transport.TCP, transport.UDP, transport.RTU, transport.Sim:
	default:
		return Device{}, &ValidationError{Field: "protocol", Reason: "must be one of tcp, udp, rtu, sim"}
	}
	if d.WordOrder == "" {
		d.WordOrder = codec.BigEndianWords
	}

	var externalID uuid.UUID
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO devices (alias, host, port, protocol, word_order, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (alias) DO UPDATE SET
			host = EXCLUDED.host,
			port = EXCLUDED.port,
			protocol = EXCLUDED.protocol,
			word_order = EXCLUDED.word_order,
			active = EXCLUDED.active,
			updated_at = now()
		RETURNING id, external_id
	`, d.Alias, d.Host, d.Port, string(d.Protocol), string(d.WordOrder), d.Active).Scan(&d.ID, &externalID)
	if err != nil {
		return Device{}, err
	}
	d.ExternalID = externalID
	return d, nil
}

// DeleteDevice removes a device; ON DELETE CASCADE removes its tags and
// everything owned by them.
func (db *DB) DeleteDevice(ctx context.Context, alias string) error {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM devices WHERE alias = $1`, alias)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
