package database

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ListEnabledAlarmConfigsByTag returns every enabled AlarmConfig on a tag,
// ordered by threat_level descending then id ascending, so the first row is
// always the Alarm Evaluator's winning config on a tie (highest threat level,
// highest-priority-wins, ties broken by config id).
func (db *DB) ListEnabledAlarmConfigsByTag(ctx context.Context, tagID int64) ([]AlarmConfig, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, external_id, tag_id, alias, trigger_value, operator, threat_level, message,
		       enabled, notification_cooldown, last_notified, created_at
		FROM alarm_configs
		WHERE tag_id = $1 AND enabled
		ORDER BY threat_level DESC, id ASC
	`, tagID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AlarmConfig
	for rows.Next() {
		var c AlarmConfig
		var operator string
		var threatLevel int
		if err := rows.Scan(&c.ID, &c.ExternalID, &c.TagID, &c.Alias, &c.TriggerValue, &operator, &threatLevel,
			&c.Message, &c.Enabled, &c.NotificationCooldown, &c.LastNotified, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Operator = AlarmOperator(operator)
		c.ThreatLevel = ThreatLevel(threatLevel)
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertAlarmConfig creates or updates an AlarmConfig identified by
// (tag_id, alias), the unique pair an AlarmConfig is keyed on.
func (db *DB) UpsertAlarmConfig(ctx context.Context, c AlarmConfig) (AlarmConfig, error) {
	switch c.Operator {
	case OpEquals, OpGreaterThan, OpLessThan:
	default:
		return AlarmConfig{}, &ValidationError{Field: "operator", Reason: "must be equals, greater_than, or less_than"}
	}
	switch c.ThreatLevel {
	case ThreatLow, ThreatHigh, ThreatCritical:
	default:
		return AlarmConfig{}, &ValidationError{Field: "threat_level", Reason: "must be low, high, or critical"}
	}
	if c.NotificationCooldown <= 0 {
		c.NotificationCooldown = 60 * time.Second
	}

	var externalID uuid.UUID
	var createdAt time.Time
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO alarm_configs (tag_id, alias, trigger_value, operator, threat_level, message, enabled, notification_cooldown)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tag_id, alias) DO UPDATE SET
			trigger_value = EXCLUDED.trigger_value,
			operator = EXCLUDED.operator,
			threat_level = EXCLUDED.threat_level,
			message = EXCLUDED.message,
			enabled = EXCLUDED.enabled,
			notification_cooldown = EXCLUDED.notification_cooldown
		RETURNING id, external_id, created_at
	`, c.TagID, c.Alias, []byte(c.TriggerValue), string(c.Operator), int(c.ThreatLevel), c.Message, c.Enabled,
		c.NotificationCooldown).Scan(&c.ID, &externalID, &createdAt)
	if err != nil {
		return AlarmConfig{}, err
	}
	c.ExternalID = externalID
	c.CreatedAt = createdAt
	return c, nil
}

// MarkAlarmNotified stamps last_notified=now, starting the config's
// notification cooldown window.
func (db *DB) MarkAlarmNotified(ctx context.Context, configID int64, at time.Time) error {
	_, err := db.Pool.Exec(ctx, `UPDATE alarm_configs SET last_notified = $2 WHERE id = $1`, configID, at)
	return err
}

// GetActiveAlarmForConfig returns the currently-active ActivatedAlarm for an
// AlarmConfig, if any. Enforces by construction that the
// unique partial index on (alarm_config_id) WHERE active guarantees at most
// one row.
func (db *DB) GetActiveAlarmForConfig(ctx context.Context, configID int64) (ActivatedAlarm, bool, error) {
	var a ActivatedAlarm
	err := db.Pool.QueryRow(ctx, `
		SELECT id, alarm_config_id, activated_at, deactivated_at, active
		FROM activated_alarms WHERE alarm_config_id = $1 AND active
	`, configID).Scan(&a.ID, &a.AlarmConfigID, &a.ActivatedAt, &a.DeactivatedAt, &a.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return ActivatedAlarm{}, false, nil
	}
	if err != nil {
		return ActivatedAlarm{}, false, err
	}
	return a, true, nil
}

// AlarmSummary is the subset of an active alarm an HTTP client needs to
// render alongside a tag's current value.
type AlarmSummary struct {
	Message     string
	ThreatLevel ThreatLevel
}

// GetActiveAlarmSummaryForTag returns the currently-active alarm for a tag,
// if any. At most one AlarmConfig on a tag can have an active
// ActivatedAlarm at a time (the Alarm Evaluator's reconciliation
// invariant), so a single row (if any) is always the answer.
func (db *DB) GetActiveAlarmSummaryForTag(ctx context.Context, tagID int64) (AlarmSummary, bool, error) {
	var s AlarmSummary
	var threatLevel int
	err := db.Pool.QueryRow(ctx, `
		SELECT c.message, c.threat_level
		FROM activated_alarms a
		JOIN alarm_configs c ON c.id = a.alarm_config_id
		WHERE c.tag_id = $1 AND a.active
		ORDER BY c.threat_level DESC, c.id ASC
		LIMIT 1
	`, tagID).Scan(&s.Message, &threatLevel)
	if errors.Is(err, pgx.ErrNoRows) {
		return AlarmSummary{}, false, nil
	}
	if err != nil {
		return AlarmSummary{}, false, err
	}
	s.ThreatLevel = ThreatLevel(threatLevel)
	return s, true, nil
}

// ActivateAlarm opens a new ActivatedAlarm for a config, at time `at`.
func (db *DB) ActivateAlarm(ctx context.Context, configID int64, at time.Time) (ActivatedAlarm, error) {
	var a ActivatedAlarm
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO activated_alarms (alarm_config_id, activated_at, active)
		VALUES ($1, $2, true)
		RETURNING id, alarm_config_id, activated_at, deactivated_at, active
	`, configID, at).Scan(&a.ID, &a.AlarmConfigID, &a.ActivatedAt, &a.DeactivatedAt, &a.Active)
	return a, err
}

// DeactivateAlarm closes an open ActivatedAlarm.
func (db *DB) DeactivateAlarm(ctx context.Context, id int64, at time.Time) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE activated_alarms SET active = false, deactivated_at = $2 WHERE id = $1
	`, id, at)
	return err
}

// DeleteInactiveAlarmsOlderThan prunes deactivated alarm activations for
// Cleanup, returning the number removed.
func (db *DB) DeleteInactiveAlarmsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `
		DELETE FROM activated_alarms WHERE NOT active AND deactivated_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListSubscriptions returns the subscribers for every enabled AlarmConfig on
// a tag, resolved ahead of time so the notification intent the Alarm
// Evaluator publishes carries everything an external notifier needs without
// it having to query the store mid-flight.
func (db *DB) ListSubscriptions(ctx context.Context, tagID int64) ([]Subscription, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT s.id, s.user_id, s.alarm_config_id, s.email_enabled, s.sms_enabled
		FROM subscriptions s
		JOIN alarm_configs c ON c.id = s.alarm_config_id
		WHERE c.tag_id = $1 AND c.enabled
	`, tagID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Subscription
	for rows.Next() {
		var s Subscription
		if err := rows.Scan(&s.ID, &s.UserID, &s.AlarmConfigID, &s.EmailEnabled, &s.SMSEnabled); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
