package alarm

import (
	"encoding/json"
	"testing"

	"github.com/KeppyMarbles/ModbusTiles/internal/database"
	"github.com/KeppyMarbles/ModbusTiles/internal/value"
	"github.com/stretchr/testify/assert"
)

func cfg(id int64, threat database.ThreatLevel, op database.AlarmOperator, trigger any) database.AlarmConfig {
	raw, _ := json.Marshal(trigger)
	return database.AlarmConfig{ID: id, ThreatLevel: threat, Operator: op, TriggerValue: raw, Enabled: true}
}

func TestTriggersEquals(t *testing.T) {
	c := cfg(1, database.ThreatHigh, database.OpEquals, 42)
	assert.True(t, triggers(c, value.I64(42)))
	assert.False(t, triggers(c, value.I64(43)))
}

func TestTriggersGreaterThan(t *testing.T) {
	c := cfg(1, database.ThreatHigh, database.OpGreaterThan, 10.0)
	assert.True(t, triggers(c, value.F64(10.5)))
	assert.False(t, triggers(c, value.F64(9.9)))
}

func TestTriggersCrossTypeNeverActivates(t *testing.T) {
	c := cfg(1, database.ThreatHigh, database.OpGreaterThan, "abc")
	assert.False(t, triggers(c, value.I64(10)))
}

func TestPickWinnerHighestThreatLevelWins(t *testing.T) {
	configs := []database.AlarmConfig{
		cfg(1, database.ThreatCritical, database.OpEquals, 1),
		cfg(2, database.ThreatHigh, database.OpEquals, 1),
	}
	winner, ok := pickWinner(configs, value.I64(1))
	assert.True(t, ok)
	assert.Equal(t, int64(1), winner.ID)
}

func TestPickWinnerTieBrokenByID(t *testing.T) {
	// Pre-sorted the way ListEnabledAlarmConfigsByTag orders: threat DESC, id ASC.
	configs := []database.AlarmConfig{
		cfg(2, database.ThreatHigh, database.OpEquals, 1),
		cfg(5, database.ThreatHigh, database.OpEquals, 1),
	}
	winner, ok := pickWinner(configs, value.I64(1))
	assert.True(t, ok)
	assert.Equal(t, int64(2), winner.ID)
}

func TestPickWinnerNoneTriggered(t *testing.T) {
	configs := []database.AlarmConfig{
		cfg(1, database.ThreatHigh, database.OpEquals, 99),
	}
	_, ok := pickWinner(configs, value.I64(1))
	assert.False(t, ok)
}
