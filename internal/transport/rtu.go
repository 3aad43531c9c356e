package transport

import (
	"context"
	"encoding/binary"
	"io"
	"time"

	"github.com/KeppyMarbles/ModbusTiles/internal/codec"
)

// SerialPort is the minimal surface an RTU transport needs from a serial
// line. No concrete implementation ships in this module — a real deployment
// supplies one backed by an actual serial driver; SerialDialer is the seam.
type SerialPort interface {
	io.Reader
	io.Writer
	io.Closer
	SetDeadline(t time.Time) error
}

// SerialDialer opens a SerialPort for a device. Injected rather than
// hard-coded so RTU transport is unit-testable against a fake port.
type SerialDialer func(ctx context.Context) (SerialPort, error)

// rtuTransport frames requests as unitID + PDU + CRC16 little-endian, the
// standard Modbus RTU wire format. Unlike MBAP there is no length header;
// a frame ends when the line goes idle, so reads loop until a read timeout
// signals end-of-frame.
type rtuTransport struct {
	dial    SerialDialer
	timeout time.Duration
	port    SerialPort
}

// NewRTU returns a Transport speaking Modbus RTU over a serial line opened
// by dial.
func NewRTU(dial SerialDialer, timeout time.Duration) Transport {
	return &rtuTransport{dial: dial, timeout: timeout}
}

func (t *rtuTransport) Open(ctx context.Context) error {
	port, err := t.dial(ctx)
	if err != nil {
		return connectErr("open serial port: %v", err)
	}
	t.port = port
	return nil
}

func (t *rtuTransport) Connected() bool { return t.port != nil }

func (t *rtuTransport) Close() error {
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	return err
}

func (t *rtuTransport) roundTrip(ctx context.Context, unitID byte, pdu []byte) ([]byte, error) {
	if t.port == nil {
		return nil, connectErr("not connected")
	}
	deadline := time.Now().Add(t.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.port.SetDeadline(deadline); err != nil {
		return nil, connectErr("set deadline: %v", err)
	}

	frame := make([]byte, 0, len(pdu)+3)
	frame = append(frame, unitID)
	frame = append(frame, pdu...)
	crc := crc16Modbus(frame)
	crcBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(crcBytes, crc)
	frame = append(frame, crcBytes...)

	if _, err := t.port.Write(frame); err != nil {
		if isTimeout(err) {
			return nil, ioTimeoutErr("write: %v", err)
		}
		return nil, connectErr("write: %v", err)
	}

	resp, err := t.readFrame()
	if err != nil {
		return nil, err
	}
	if len(resp) < 4 {
		return nil, protocolErr("short RTU frame: %d bytes", len(resp))
	}
	gotUnit := resp[0]
	body := resp[1 : len(resp)-2]
	gotCRC := binary.LittleEndian.Uint16(resp[len(resp)-2:])
	wantCRC := crc16Modbus(resp[:len(resp)-2])
	if gotCRC != wantCRC {
		return nil, protocolErr("CRC mismatch")
	}
	if gotUnit != unitID {
		return nil, protocolErr("unit id mismatch: got %d want %d", gotUnit, unitID)
	}
	return body, nil
}

// readFrame reads until the configured deadline expires, treating the
// resulting timeout as end-of-frame rather than an error — RTU has no
// explicit length prefix.
func (t *rtuTransport) readFrame() ([]byte, error) {
	buf := make([]byte, 0, 256)
	chunk := make([]byte, 256)
	for {
		n, err := t.port.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			if isTimeout(err) {
				if len(buf) == 0 {
					return nil, ioTimeoutErr("no response")
				}
				return buf, nil
			}
			return nil, connectErr("read: %v", err)
		}
	}
}

func (t *rtuTransport) Read(ctx context.Context, channel codec.Channel, address uint16, count int, unitID byte) (ReadResult, error) {
	fc, err := readFunctionCode(channel)
	if err != nil {
		return ReadResult{}, protocolErr("%v", err)
	}
	pdu := buildReadPDU(fc, address, count)
	resp, err := t.roundTrip(ctx, unitID, pdu)
	if err != nil {
		return ReadResult{}, err
	}
	data, err := parseReadResponsePDU(fc, resp)
	if err != nil {
		return ReadResult{}, err
	}
	if channel.IsBitChannel() {
		return ReadResult{Bits: unpackBits(data, count)}, nil
	}
	if len(data) < count*2 {
		return ReadResult{}, protocolErr("short register payload: got %d bytes want %d", len(data), count*2)
	}
	return ReadResult{Registers: unpackRegisters(data, count)}, nil
}

func (t *rtuTransport) WriteCoils(ctx context.Context, address uint16, bits []bool, unitID byte) error {
	pdu := buildWriteMultipleCoilsPDU(address, bits)
	resp, err := t.roundTrip(ctx, unitID, pdu)
	if err != nil {
		return err
	}
	return parseWriteResponsePDU(fcWriteMultipleCoils, resp)
}

func (t *rtuTransport) WriteRegisters(ctx context.Context, address uint16, registers []uint16, unitID byte) error {
	pdu := buildWriteMultipleRegistersPDU(address, registers)
	resp, err := t.roundTrip(ctx, unitID, pdu)
	if err != nil {
		return err
	}
	return parseWriteResponsePDU(fcWriteMultipleRegs, resp)
}
