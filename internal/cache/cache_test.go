package cache

import (
	"testing"
	"time"

	"github.com/KeppyMarbles/ModbusTiles/internal/value"
	"github.com/stretchr/testify/assert"
)

func TestSetGetRoundTrip(t *testing.T) {
	c := New()
	now := time.Now()
	c.Set(1, value.I64(42), now)

	e, ok := c.Get(1)
	assert.True(t, ok)
	assert.True(t, value.Equal(e.Value, value.I64(42)))
	assert.Equal(t, now, e.LastUpdated)
}

func TestGetMissing(t *testing.T) {
	c := New()
	_, ok := c.Get(99)
	assert.False(t, ok)
}

func TestDeleteAndSnapshot(t *testing.T) {
	c := New()
	c.Set(1, value.I64(1), time.Now())
	c.Set(2, value.I64(2), time.Now())
	assert.Equal(t, 2, c.Len())

	c.Delete(1)
	assert.Equal(t, 1, c.Len())

	snap := c.Snapshot()
	assert.Len(t, snap, 1)
	_, has1 := snap[1]
	assert.False(t, has1)
}
