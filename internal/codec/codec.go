// Package codec converts between typed tag values and 16-bit Modbus
// register arrays / coil bits. It is a pure function layer: no I/O, no
// clocks, nothing that can't be table-tested.
package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/KeppyMarbles/ModbusTiles/internal/value"
)

// DataType is the typed shape of a Tag's decoded value.
type DataType string

const (
	Bool    DataType = "bool"
	Int16   DataType = "int16"
	Uint16  DataType = "uint16"
	Int32   DataType = "int32"
	Uint32  DataType = "uint32"
	Int64   DataType = "int64"
	Uint64  DataType = "uint64"
	Float32 DataType = "float32"
	Float64 DataType = "float64"
	String  DataType = "string"
)

// WordOrder controls the ordering of 16-bit words within a multi-register value.
type WordOrder string

const (
	BigEndianWords    WordOrder = "big"
	LittleEndianWords WordOrder = "little"
)

// Channel is one of the four Modbus address spaces.
type Channel string

const (
	Coil            Channel = "coil"
	DiscreteInput   Channel = "discrete_input"
	HoldingRegister Channel = "holding_register"
	InputRegister   Channel = "input_register"
)

// Writable reports whether the channel accepts write_coils/write_registers.
func (c Channel) Writable() bool {
	return c == Coil || c == HoldingRegister
}

// IsBitChannel reports whether the channel is addressed in bits rather than 16-bit registers.
func (c Channel) IsBitChannel() bool {
	return c == Coil || c == DiscreteInput
}

// Error kinds raised by Decode/Encode.
type ErrKind string

const (
	ErrBadType    ErrKind = "bad_type"
	ErrOverflow   ErrKind = "overflow"
	ErrUnderflow  ErrKind = "underflow"
	ErrWidthShort ErrKind = "width_short"
)

type Error struct {
	Kind ErrKind
	Msg  string
}

func (e *Error) Error() string { return fmt.Sprintf("codec: %s: %s", e.Kind, e.Msg) }

func errf(kind ErrKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// RegisterWidth returns the number of 16-bit registers a tag with the given
// data_type and read_amount occupies on the wire:
// bool/16-bit = read_amount; 32-bit = 2*read_amount; 64-bit = 4*read_amount;
// string = ceil(read_amount/2).
func RegisterWidth(dt DataType, readAmount int) int {
	switch dt {
	case Bool, Int16, Uint16:
		return readAmount
	case Int32, Uint32, Float32:
		return 2 * readAmount
	case Int64, Uint64, Float64:
		return 4 * readAmount
	case String:
		return (readAmount + 1) / 2
	default:
		return readAmount
	}
}

// BitWidth returns the number of coil/discrete-input bits a tag occupies.
func BitWidth(readAmount int) int { return readAmount }

// Decode converts a raw register array (for register channels) or bit array
// (for coil/discrete_input channels) into a typed Value. When readAmount==1
// the result is a scalar; otherwise it is a Vec of readAmount scalars.
func Decode(dt DataType, order WordOrder, channel Channel, registers []uint16, bits []bool, readAmount int) (value.Value, error) {
	if channel.IsBitChannel() {
		return decodeBits(bits, readAmount)
	}
	return decodeRegisters(dt, order, registers, readAmount)
}

func decodeBits(bits []bool, readAmount int) (value.Value, error) {
	if len(bits) < readAmount {
		return value.Value{}, errf(ErrWidthShort, "need %d bits, got %d", readAmount, len(bits))
	}
	bits = bits[:readAmount]
	if readAmount == 1 {
		return value.Bool(bits[0]), nil
	}
	vs := make([]value.Value, readAmount)
	for i, b := range bits {
		vs[i] = value.Bool(b)
	}
	return value.VecOf(vs...), nil
}

func decodeRegisters(dt DataType, order WordOrder, registers []uint16, readAmount int) (value.Value, error) {
	if dt == String {
		wordCount := (readAmount + 1) / 2
		if len(registers) < wordCount {
			return value.Value{}, errf(ErrWidthShort, "need %d registers for string, got %d", wordCount, len(registers))
		}
		return value.Str(decodeString(registers[:wordCount])), nil
	}

	wordsPer := wordsPerElement(dt)
	need := wordsPer * readAmount
	if len(registers) < need {
		return value.Value{}, errf(ErrWidthShort, "need %d registers, got %d", need, len(registers))
	}

	elems := make([]value.Value, readAmount)
	for i := 0; i < readAmount; i++ {
		word := registers[i*wordsPer : i*wordsPer+wordsPer]
		v, err := decodeScalar(dt, order, word)
		if err != nil {
			return value.Value{}, err
		}
		elems[i] = v
	}
	if readAmount == 1 {
		return elems[0], nil
	}
	return value.VecOf(elems...), nil
}

func wordsPerElement(dt DataType) int {
	switch dt {
	case Bool, Int16, Uint16:
		return 1
	case Int32, Uint32, Float32:
		return 2
	case Int64, Uint64, Float64:
		return 4
	default:
		return 1
	}
}

// orderedBytes assembles the big-endian byte stream of a multi-register
// value according to word_order. Byte order within a register is always
// big-endian on the wire; word_order only reorders whole
// 16-bit registers relative to each other.
func orderedBytes(order WordOrder, words []uint16) []byte {
	ordered := make([]uint16, len(words))
	if order == LittleEndianWords {
		for i, w := range words {
			ordered[len(words)-1-i] = w
		}
	} else {
		copy(ordered, words)
	}
	buf := make([]byte, len(ordered)*2)
	for i, w := range ordered {
		binary.BigEndian.PutUint16(buf[i*2:], w)
	}
	return buf
}

func decodeScalar(dt DataType, order WordOrder, words []uint16) (value.Value, error) {
	switch dt {
	case Bool:
		return value.Bool(words[0] != 0), nil
	case Int16:
		return value.I64(int64(int16(words[0]))), nil
	case Uint16:
		return value.U64(uint64(words[0])), nil
	case Int32:
		b := orderedBytes(order, words)
		return value.I64(int64(int32(binary.BigEndian.Uint32(b)))), nil
	case Uint32:
		b := orderedBytes(order, words)
		return value.U64(uint64(binary.BigEndian.Uint32(b))), nil
	case Int64:
		b := orderedBytes(order, words)
		return value.I64(int64(binary.BigEndian.Uint64(b))), nil
	case Uint64:
		b := orderedBytes(order, words)
		return value.U64(binary.BigEndian.Uint64(b)), nil
	case Float32:
		b := orderedBytes(order, words)
		return value.F64(float64(math.Float32frombits(binary.BigEndian.Uint32(b)))), nil
	case Float64:
		b := orderedBytes(order, words)
		return value.F64(math.Float64frombits(binary.BigEndian.Uint64(b))), nil
	default:
		return value.Value{}, errf(ErrBadType, "unknown data type %q", dt)
	}
}

// decodeString packs two characters per register, MSB first, and trims
// trailing NULs.
func decodeString(words []uint16) string {
	var b strings.Builder
	for _, w := range words {
		hi := byte(w >> 8)
		lo := byte(w & 0xFF)
		if hi != 0 {
			b.WriteByte(hi)
		} else {
			break
		}
		if lo != 0 {
			b.WriteByte(lo)
		} else {
			break
		}
	}
	return b.String()
}

// Encode converts a typed Value into a register array (register channels)
// or bit array (coil channel), inverse of Decode. Width policy matches
// Decode: the returned slice has exactly RegisterWidth/BitWidth elements.
func Encode(dt DataType, order WordOrder, channel Channel, v value.Value, readAmount int) (registers []uint16, bits []bool, err error) {
	if channel.IsBitChannel() {
		bits, err = encodeBits(v, readAmount)
		return nil, bits, err
	}
	registers, err = encodeRegisters(dt, order, v, readAmount)
	return registers, nil, err
}

func encodeBits(v value.Value, readAmount int) ([]bool, error) {
	elems, err := scalarize(v, readAmount)
	if err != nil {
		return nil, err
	}
	bits := make([]bool, readAmount)
	for i, e := range elems {
		b, err := coerceBool(e)
		if err != nil {
			return nil, err
		}
		bits[i] = b
	}
	return bits, nil
}

func encodeRegisters(dt DataType, order WordOrder, v value.Value, readAmount int) ([]uint16, error) {
	if dt == String {
		s, err := coerceString(v)
		if err != nil {
			return nil, err
		}
		return encodeString(s, (readAmount+1)/2), nil
	}

	elems, err := scalarize(v, readAmount)
	if err != nil {
		return nil, err
	}
	wordsPer := wordsPerElement(dt)
	out := make([]uint16, 0, wordsPer*readAmount)
	for _, e := range elems {
		words, err := encodeScalar(dt, order, e)
		if err != nil {
			return nil, err
		}
		out = append(out, words...)
	}
	return out, nil
}

// scalarize normalizes a Value into readAmount elements: a Vec must have
// exactly that length; a bare scalar is replicated as a single-element list
// only when readAmount==1, otherwise it's a BadType error.
func scalarize(v value.Value, readAmount int) ([]value.Value, error) {
	if v.Kind == value.KindVec {
		if len(v.Vec) != readAmount {
			return nil, errf(ErrBadType, "expected %d elements, got %d", readAmount, len(v.Vec))
		}
		return v.Vec, nil
	}
	if readAmount != 1 {
		return nil, errf(ErrBadType, "expected a list of %d elements, got a scalar", readAmount)
	}
	return []value.Value{v}, nil
}

func coerceBool(v value.Value) (bool, error) {
	switch v.Kind {
	case value.KindBool:
		return v.B, nil
	case value.KindI64:
		return v.I != 0, nil
	case value.KindU64:
		return v.U != 0, nil
	case value.KindF64:
		return v.F != 0, nil
	default:
		return false, errf(ErrBadType, "cannot coerce %v to bool", v)
	}
}

func coerceString(v value.Value) (string, error) {
	if v.Kind != value.KindStr {
		return "", errf(ErrBadType, "cannot coerce %v to string", v)
	}
	return v.S, nil
}

func encodeString(s string, wordCount int) []uint16 {
	out := make([]uint16, wordCount)
	b := []byte(s)
	for i := 0; i < wordCount; i++ {
		var hi, lo byte
		if 2*i < len(b) {
			hi = b[2*i]
		}
		if 2*i+1 < len(b) {
			lo = b[2*i+1]
		}
		out[i] = uint16(hi)<<8 | uint16(lo)
	}
	return out
}

func encodeScalar(dt DataType, order WordOrder, v value.Value) ([]uint16, error) {
	switch dt {
	case Bool:
		b, err := coerceBool(v)
		if err != nil {
			return nil, err
		}
		if b {
			return []uint16{1}, nil
		}
		return []uint16{0}, nil
	case Int16:
		i, err := coerceInt(v)
		if err != nil {
			return nil, err
		}
		if i < math.MinInt16 || i > math.MaxInt16 {
			return nil, overflowErr(i)
		}
		return []uint16{uint16(int16(i))}, nil
	case Uint16:
		u, err := coerceUint(v)
		if err != nil {
			return nil, err
		}
		if u > math.MaxUint16 {
			return nil, overflowErr(u)
		}
		return []uint16{uint16(u)}, nil
	case Int32:
		i, err := coerceInt(v)
		if err != nil {
			return nil, err
		}
		if i < math.MinInt32 || i > math.MaxInt32 {
			return nil, overflowErr(i)
		}
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, uint32(int32(i)))
		return wordsFromBytes(order, buf), nil
	case Uint32:
		u, err := coerceUint(v)
		if err != nil {
			return nil, err
		}
		if u > math.MaxUint32 {
			return nil, overflowErr(u)
		}
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, uint32(u))
		return wordsFromBytes(order, buf), nil
	case Int64:
		i, err := coerceInt(v)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(i))
		return wordsFromBytes(order, buf), nil
	case Uint64:
		u, err := coerceUint(v)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, u)
		return wordsFromBytes(order, buf), nil
	case Float32:
		f, err := coerceFloat(v)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, math.Float32bits(float32(f)))
		return wordsFromBytes(order, buf), nil
	case Float64:
		f, err := coerceFloat(v)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, math.Float64bits(f))
		return wordsFromBytes(order, buf), nil
	default:
		return nil, errf(ErrBadType, "unknown data type %q", dt)
	}
}

func wordsFromBytes(order WordOrder, buf []byte) []uint16 {
	n := len(buf) / 2
	words := make([]uint16, n)
	for i := 0; i < n; i++ {
		words[i] = binary.BigEndian.Uint16(buf[i*2:])
	}
	if order == LittleEndianWords {
		for i, j := 0, n-1; i < j; i, j = i+1, j-1 {
			words[i], words[j] = words[j], words[i]
		}
	}
	return words
}

func overflowErr(v any) *Error {
	return errf(ErrOverflow, "value %v out of range", v)
}

func coerceInt(v value.Value) (int64, error) {
	switch v.Kind {
	case value.KindI64:
		return v.I, nil
	case value.KindU64:
		if v.U > math.MaxInt64 {
			return 0, overflowErr(v.U)
		}
		return int64(v.U), nil
	case value.KindF64:
		if v.F != math.Trunc(v.F) {
			return 0, errf(ErrBadType, "cannot coerce non-integer %v to integer", v.F)
		}
		return int64(v.F), nil
	case value.KindBool:
		if v.B {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, errf(ErrBadType, "cannot coerce %v to integer", v)
	}
}

func coerceUint(v value.Value) (uint64, error) {
	i, err := coerceInt(v)
	if err != nil {
		if v.Kind == value.KindU64 {
			return v.U, nil
		}
		return 0, err
	}
	if i < 0 {
		return 0, errf(ErrUnderflow, "value %d is negative", i)
	}
	return uint64(i), nil
}

func coerceFloat(v value.Value) (float64, error) {
	switch v.Kind {
	case value.KindF64:
		return v.F, nil
	case value.KindI64:
		return float64(v.I), nil
	case value.KindU64:
		return float64(v.U), nil
	case value.KindBool:
		if v.B {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, errf(ErrBadType, "cannot coerce %v to float", v)
	}
}
