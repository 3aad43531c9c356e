// Package alarm implements the Alarm Evaluator: predicate
// evaluation against a tag's sampled value, highest-priority reconciliation
// against the tag's single active alarm, and notification-intent emission
// with per-config cooldown.
package alarm

import (
	"context"
	"encoding/json"
	"time"

	"github.com/KeppyMarbles/ModbusTiles/internal/database"
	"github.com/KeppyMarbles/ModbusTiles/internal/engine"
	"github.com/KeppyMarbles/ModbusTiles/internal/metrics"
	"github.com/KeppyMarbles/ModbusTiles/internal/value"
	"github.com/rs/zerolog"
)

// store is the subset of *database.DB the evaluator depends on, narrowed so
// tests can substitute an in-memory fake instead of a live connection.
type store interface {
	ListEnabledAlarmConfigsByTag(ctx context.Context, tagID int64) ([]database.AlarmConfig, error)
	GetActiveAlarmForConfig(ctx context.Context, configID int64) (database.ActivatedAlarm, bool, error)
	ActivateAlarm(ctx context.Context, configID int64, at time.Time) (database.ActivatedAlarm, error)
	DeactivateAlarm(ctx context.Context, id int64, at time.Time) error
	MarkAlarmNotified(ctx context.Context, configID int64, at time.Time) error
	ListSubscriptions(ctx context.Context, tagID int64) ([]database.Subscription, error)
}

// Evaluator runs the alarm predicate/reconciliation/notification pipeline
// once per sampled tag.
type Evaluator struct {
	db                store
	bus               *engine.EventBus
	defaultCooldown   time.Duration
	log               zerolog.Logger
}

func New(db store, bus *engine.EventBus, defaultCooldown time.Duration, log zerolog.Logger) *Evaluator {
	return &Evaluator{
		db:              db,
		bus:             bus,
		defaultCooldown: defaultCooldown,
		log:             log.With().Str("component", "alarm").Logger(),
	}
}

// Evaluate runs the full pipeline for one sampled tag: collect enabled
// configs, evaluate predicates, pick the winner, reconcile against the
// tag's active alarm, and emit a notification intent if due.
func (e *Evaluator) Evaluate(ctx context.Context, tagID int64, sampled value.Value, now time.Time) error {
	configs, err := e.db.ListEnabledAlarmConfigsByTag(ctx, tagID)
	if err != nil {
		return err
	}

	winner, ok := pickWinner(configs, sampled)

	var winnerHasActive bool
	if ok {
		_, winnerHasActive, err = e.db.GetActiveAlarmForConfig(ctx, winner.ID)
		if err != nil {
			return err
		}
	}

	// Deactivate any active alarm belonging to a config on this tag that
	// isn't the winner (covers "no winner" and "winner changed").
	for _, c := range configs {
		if ok && c.ID == winner.ID {
			continue
		}
		active, has, err := e.db.GetActiveAlarmForConfig(ctx, c.ID)
		if err != nil {
			return err
		}
		if has {
			if err := e.db.DeactivateAlarm(ctx, active.ID, now); err != nil {
				return err
			}
			metrics.ActiveAlarmsGauge.Dec()
			e.bus.Publish(engine.EventData{Type: "alarm_deactivated", TagID: tagID, AlarmConfigID: c.ID})
		}
	}

	if !ok {
		return nil
	}

	if !winnerHasActive {
		if _, err := e.db.ActivateAlarm(ctx, winner.ID, now); err != nil {
			return err
		}
		metrics.ActiveAlarmsGauge.Inc()
		e.bus.Publish(engine.EventData{Type: "alarm_activated", TagID: tagID, AlarmConfigID: winner.ID})
	}

	cooldown := winner.NotificationCooldown
	if cooldown <= 0 {
		cooldown = e.defaultCooldown
	}
	due := winner.LastNotified == nil || now.Sub(*winner.LastNotified) > cooldown
	if !due {
		return nil
	}

	subs, err := e.db.ListSubscriptions(ctx, tagID)
	if err != nil {
		return err
	}
	if err := e.db.MarkAlarmNotified(ctx, winner.ID, now); err != nil {
		return err
	}
	e.log.Info().
		Int64("tag_id", tagID).
		Int64("alarm_config_id", winner.ID).
		Str("alias", winner.Alias).
		Int("subscribers", len(subs)).
		Msg("notification intent emitted")
	e.bus.Publish(engine.EventData{
		Type:          "notification_intent",
		TagID:         tagID,
		AlarmConfigID: winner.ID,
		Payload: map[string]any{
			"alias":         winner.Alias,
			"message":       winner.Message,
			"threat_level":  winner.ThreatLevel,
			"subscriptions": subs,
		},
	})
	return nil
}

// pickWinner evaluates every config's predicate against sampled and returns
// the highest-priority one that triggered. configs must already be ordered
// threat_level DESC, id ASC (database.ListEnabledAlarmConfigsByTag), so the
// first triggered config encountered is the winner.
func pickWinner(configs []database.AlarmConfig, sampled value.Value) (database.AlarmConfig, bool) {
	for _, c := range configs {
		if triggers(c, sampled) {
			return c, true
		}
	}
	return database.AlarmConfig{}, false
}

func triggers(c database.AlarmConfig, sampled value.Value) bool {
	var raw any
	if err := json.Unmarshal(c.TriggerValue, &raw); err != nil {
		return false
	}
	trigger := value.FromAny(raw)
	switch c.Operator {
	case database.OpEquals:
		return value.Equal(sampled, trigger)
	case database.OpGreaterThan:
		res, orderable := value.Greater(sampled, trigger)
		return orderable && res
	case database.OpLessThan:
		res, orderable := value.Less(sampled, trigger)
		return orderable && res
	default:
		return false
	}
}
