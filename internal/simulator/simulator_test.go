package simulator

import (
	"context"
	"testing"

	"github.com/KeppyMarbles/ModbusTiles/internal/codec"
	"github.com/stretchr/testify/assert"
)

func TestReadIsDeterministicPerDevice(t *testing.T) {
	a := New("device-a")
	b := New("device-a")

	ctx := context.Background()
	ra, err := a.Read(ctx, codec.HoldingRegister, 10, 1, 1)
	assert.NoError(t, err)
	rb, err := b.Read(ctx, codec.HoldingRegister, 10, 1, 1)
	assert.NoError(t, err)
	assert.Equal(t, ra, rb)
}

func TestReadDiffersAcrossDevices(t *testing.T) {
	ctx := context.Background()
	a, _ := New("device-a").Read(ctx, codec.HoldingRegister, 10, 1, 1)
	b, _ := New("device-b").Read(ctx, codec.HoldingRegister, 10, 1, 1)
	assert.NotEqual(t, a, b)
}

func TestWriteThenReadReturnsWrittenRegisters(t *testing.T) {
	ctx := context.Background()
	tr := New("device-a")
	assert.NoError(t, tr.WriteRegisters(ctx, 20, []uint16{7, 8}, 1))

	res, err := tr.Read(ctx, codec.HoldingRegister, 20, 2, 1)
	assert.NoError(t, err)
	assert.Equal(t, []uint16{7, 8}, res.Registers)
}

func TestWriteCoilsThenReadReturnsWrittenBits(t *testing.T) {
	ctx := context.Background()
	tr := New("device-a")
	assert.NoError(t, tr.WriteCoils(ctx, 5, []bool{true, false, true}, 1))

	res, err := tr.Read(ctx, codec.Coil, 5, 3, 1)
	assert.NoError(t, err)
	assert.Equal(t, []bool{true, false, true}, res.Bits)
}
