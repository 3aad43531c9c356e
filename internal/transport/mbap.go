package transport

import (
	"context"
	"encoding/binary"
	"net"
	"sync/atomic"
	"time"

	"github.com/KeppyMarbles/ModbusTiles/internal/codec"
)

// mbapTransport implements the MBAP (Modbus Application Protocol) header
// framing shared by TCP and UDP: 7-byte header (transaction id, protocol id,
// length, unit id) followed by the PDU. Only the underlying network differs
// between the two.
type mbapTransport struct {
	network string // "tcp" or "udp"
	addr    string
	timeout time.Duration

	conn   net.Conn
	connMu struct{} // serialized by the owning session, no internal locking
	txID   atomic.Uint32
}

func newMBAPTransport(network, addr string, timeout time.Duration) *mbapTransport {
	return &mbapTransport{network: network, addr: addr, timeout: timeout}
}

func (t *mbapTransport) Open(ctx context.Context) error {
	d := net.Dialer{Timeout: t.timeout}
	conn, err := d.DialContext(ctx, t.network, t.addr)
	if err != nil {
		return connectErr("dial %s %s: %v", t.network, t.addr, err)
	}
	t.conn = conn
	return nil
}

func (t *mbapTransport) Connected() bool { return t.conn != nil }

func (t *mbapTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

func (t *mbapTransport) roundTrip(ctx context.Context, unitID byte, pdu []byte) ([]byte, error) {
	if t.conn == nil {
		return nil, connectErr("not connected")
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetDeadline(deadline)
	} else {
		_ = t.conn.SetDeadline(time.Now().Add(t.timeout))
	}

	txID := uint16(t.txID.Add(1))
	frame := make([]byte, 7+len(pdu))
	binary.BigEndian.PutUint16(frame[0:2], txID)
	binary.BigEndian.PutUint16(frame[2:4], 0) // protocol id, always 0 for Modbus
	binary.BigEndian.PutUint16(frame[4:6], uint16(1+len(pdu)))
	frame[6] = unitID
	copy(frame[7:], pdu)

	if _, err := t.conn.Write(frame); err != nil {
		if isTimeout(err) {
			return nil, ioTimeoutErr("write: %v", err)
		}
		return nil, connectErr("write: %v", err)
	}

	header := make([]byte, 7)
	if _, err := readFull(t.conn, header); err != nil {
		if isTimeout(err) {
			return nil, ioTimeoutErr("read header: %v", err)
		}
		return nil, connectErr("read header: %v", err)
	}
	respLen := binary.BigEndian.Uint16(header[4:6])
	if respLen == 0 || respLen > 253 {
		return nil, protocolErr("invalid MBAP length %d", respLen)
	}
	body := make([]byte, respLen-1)
	if _, err := readFull(t.conn, body); err != nil {
		if isTimeout(err) {
			return nil, ioTimeoutErr("read body: %v", err)
		}
		return nil, connectErr("read body: %v", err)
	}
	respTxID := binary.BigEndian.Uint16(header[0:2])
	if respTxID != txID {
		return nil, protocolErr("transaction id mismatch: got %d want %d", respTxID, txID)
	}
	return body, nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := conn.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func isTimeout(err error) bool {
	var ne net.Error
	if e, ok := err.(net.Error); ok {
		ne = e
		return ne.Timeout()
	}
	return false
}

func (t *mbapTransport) Read(ctx context.Context, channel codec.Channel, address uint16, count int, unitID byte) (ReadResult, error) {
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

func (t *mbapTransport) WriteCoils(ctx context.Context, address uint16, bits []bool, unitID byte) error {
	pdu := buildWriteMultipleCoilsPDU(address, bits)
	resp, err := t.roundTrip(ctx, unitID, pdu)
	if err != nil {
		return err
	}
	return parseWriteResponsePDU(fcWriteMultipleCoils, resp)
}

func (t *mbapTransport) WriteRegisters(ctx context.Context, address uint16, registers []uint16, unitID byte) error {
	pdu := buildWriteMultipleRegistersPDU(address, registers)
	resp, err := t.roundTrip(ctx, unitID, pdu)
	if err != nil {
		return err
	}
	return parseWriteResponsePDU(fcWriteMultipleRegs, resp)
}
