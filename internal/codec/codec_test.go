package codec

import (
	"testing"

	"github.com/KeppyMarbles/ModbusTiles/internal/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInt16HoldingRegister(t *testing.T) {
	v, err := Decode(Int16, BigEndianWords, HoldingRegister, []uint16{42}, nil, 1)
	require.NoError(t, err)
	assert.True(t, value.Equal(v, value.I64(42)))
}

func TestDecodeFloat32LittleEndianWords(t *testing.T) {
	// registers [0xF5C3, 0x4048] little-endian word order decode to ~3.14
	v, err := Decode(Float32, LittleEndianWords, HoldingRegister, []uint16{0xF5C3, 0x4048}, nil, 1)
	require.NoError(t, err)
	f, ok := v.AsFloat()
	require.True(t, ok)
	assert.InDelta(t, 3.14, f, 0.001)
}

func TestDecodeBitChannelTruncatesToReadAmount(t *testing.T) {
	v, err := Decode(Bool, BigEndianWords, Coil, nil, []bool{true, false, true, true}, 2)
	require.NoError(t, err)
	require.Equal(t, value.KindVec, v.Kind)
	require.Len(t, v.Vec, 2)
	assert.True(t, value.Equal(v.Vec[0], value.Bool(true)))
	assert.True(t, value.Equal(v.Vec[1], value.Bool(false)))
}

func TestDecodeStringTrimsTrailingNUL(t *testing.T) {
	// "HI" packed MSB-first into one register, second register all-NUL.
	words := []uint16{uint16('H')<<8 | uint16('I'), 0x0000}
	v, err := Decode(String, BigEndianWords, HoldingRegister, words, nil, 4)
	require.NoError(t, err)
	assert.Equal(t, "HI", v.S)
}

func TestDecodeWidthShort(t *testing.T) {
	_, err := Decode(Int32, BigEndianWords, HoldingRegister, []uint16{1}, nil, 1)
	require.Error(t, err)
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrWidthShort, ce.Kind)
}

func TestRoundTripScalars(t *testing.T) {
	cases := []struct {
		name string
		dt   DataType
		v    value.Value
	}{
		{"bool-true", Bool, value.Bool(true)},
		{"bool-false", Bool, value.Bool(false)},
		{"int16-min", Int16, value.I64(-32768)},
		{"int16-max", Int16, value.I64(32767)},
		{"uint16-max", Uint16, value.U64(65535)},
		{"int32", Int32, value.I64(-123456)},
		{"uint32", Uint32, value.U64(4000000000)},
		{"int64", Int64, value.I64(-1234567890123)},
		{"uint64", Uint64, value.U64(18000000000000000000)},
		{"float32", Float32, value.F64(3.5)},
		{"float64", Float64, value.F64(2.718281828)},
	}
	for _, order := range []WordOrder{BigEndianWords, LittleEndianWords} {
		for _, tc := range cases {
			t.Run(string(order)+"/"+tc.name, func(t *testing.T) {
				regs, _, err := Encode(tc.dt, order, HoldingRegister, tc.v, 1)
				require.NoError(t, err)
				got, err := Decode(tc.dt, order, HoldingRegister, regs, nil, 1)
				require.NoError(t, err)
				if tc.dt == Float32 {
					f, _ := got.AsFloat()
					assert.InDelta(t, tc.v.F, f, 0.0001)
				} else {
					assert.True(t, value.Equal(tc.v, got), "want %v got %v", tc.v, got)
				}
			})
		}
	}
}

func TestEncodeOverflow(t *testing.T) {
	_, _, err := Encode(Int16, BigEndianWords, HoldingRegister, value.I64(70000), 1)
	require.Error(t, err)
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrOverflow, ce.Kind)
}

func TestEncodeBitsVec(t *testing.T) {
	bits, err := encodeBits(value.VecOf(value.Bool(true), value.Bool(false), value.Bool(true)), 3)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, true}, bits)
}

func TestScalarizeRejectsWrongLength(t *testing.T) {
	_, err := scalarize(value.VecOf(value.I64(1), value.I64(2)), 3)
	require.Error(t, err)
}

func TestRegisterWidth(t *testing.T) {
	assert.Equal(t, 1, RegisterWidth(Int16, 1))
	assert.Equal(t, 2, RegisterWidth(Float32, 1))
	assert.Equal(t, 4, RegisterWidth(Int64, 1))
	assert.Equal(t, 3, RegisterWidth(String, 5))
	assert.Equal(t, 20, RegisterWidth(Uint32, 10))
}
