// Package transport implements the Modbus wire protocols (TCP, UDP, RTU)
// behind a single polymorphic contract. A Transport owns exactly one
// connection; it never retries internally — recovery is the session's job
// (internal/session).
package transport

import (
	"context"
	"fmt"

	"github.com/KeppyMarbles/ModbusTiles/internal/codec"
)

// Protocol identifies which wire encoding a Device speaks.
type Protocol string

const (
	TCP Protocol = "tcp"
	UDP Protocol = "udp"
	RTU Protocol = "rtu"
	Sim Protocol = "sim"
)

// Kind classifies a transport error for callers that branch on it (the
// session's reconnect policy, the poll engine's failure-isolation logic).
type Kind string

const (
	KindConnect           Kind = "connect_error"
	KindIOTimeout         Kind = "io_timeout"
	KindProtocol          Kind = "protocol_error"
	KindExceptionResponse Kind = "exception_response"
)

// Error is the error type every Transport implementation returns.
type Error struct {
	Kind Kind
	Code byte // populated for KindExceptionResponse
	Msg  string
}

func (e *Error) Error() string {
	if e.Kind == KindExceptionResponse {
		return fmt.Sprintf("transport: exception response 0x%02x: %s", e.Code, e.Msg)
	}
	return fmt.Sprintf("transport: %s: %s", e.Kind, e.Msg)
}

func connectErr(format string, args ...any) *Error {
	return &Error{Kind: KindConnect, Msg: fmt.Sprintf(format, args...)}
}

func ioTimeoutErr(format string, args ...any) *Error {
	return &Error{Kind: KindIOTimeout, Msg: fmt.Sprintf(format, args...)}
}

func protocolErr(format string, args ...any) *Error {
	return &Error{Kind: KindProtocol, Msg: fmt.Sprintf(format, args...)}
}

func exceptionErr(code byte) *Error {
	return &Error{Kind: KindExceptionResponse, Code: code, Msg: exceptionMessage(code)}
}

func exceptionMessage(code byte) string {
	switch code {
	case 0x01:
		return "illegal function"
	case 0x02:
		return "illegal data address"
	case 0x03:
		return "illegal data value"
	case 0x04:
		return "server device failure"
	case 0x06:
		return "server device busy"
	default:
		return "unknown exception code"
	}
}

// ReadResult is the raw payload of a read, populated in exactly one of the
// two fields depending on whether the channel is bit- or register-addressed.
type ReadResult struct {
	Registers []uint16
	Bits      []bool
}

// Transport is the per-device wire connection. Implementations are not
// safe for concurrent use; the owning Session serializes all calls.
type Transport interface {
	Open(ctx context.Context) error
	Connected() bool
	Close() error
	Read(ctx context.Context, channel codec.Channel, address uint16, count int, unitID byte) (ReadResult, error)
	WriteCoils(ctx context.Context, address uint16, bits []bool, unitID byte) error
	WriteRegisters(ctx context.Context, address uint16, registers []uint16, unitID byte) error
}

// Function codes per the Modbus application protocol.
const (
	fcReadCoils            = 0x01
	fcReadDiscreteInputs   = 0x02
	fcReadHoldingRegisters = 0x03
	fcReadInputRegisters   = 0x04
	fcWriteSingleCoil      = 0x05
	fcWriteSingleRegister  = 0x06
	fcWriteMultipleCoils   = 0x0F
	fcWriteMultipleRegs    = 0x10
	exceptionBit           = 0x80
)

func readFunctionCode(ch codec.Channel) (byte, error) {
	switch ch {
	case codec.Coil:
		return fcReadCoils, nil
	case codec.DiscreteInput:
		return fcReadDiscreteInputs, nil
	case codec.HoldingRegister:
		return fcReadHoldingRegisters, nil
	case codec.InputRegister:
		return fcReadInputRegisters, nil
	default:
		return 0, fmt.Errorf("transport: unknown channel %q", ch)
	}
}

// packBits packs a []bool into Modbus's LSB-first-per-byte coil encoding.
func packBits(bits []bool) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		if b {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out
}

// unpackBits inverts packBits, returning exactly count bits.
func unpackBits(data []byte, count int) []bool {
	out := make([]bool, count)
	for i := 0; i < count; i++ {
		out[i] = data[i/8]&(1<<uint(i%8)) != 0
	}
	return out
}

// unpackRegisters reads count big-endian uint16 registers from a payload.
func unpackRegisters(data []byte, count int) []uint16 {
	out := make([]uint16, count)
	for i := 0; i < count; i++ {
		out[i] = uint16(data[i*2])<<8 | uint16(data[i*2+1])
	}
	return out
}
