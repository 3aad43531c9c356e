package transport

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/KeppyMarbles/ModbusTiles/internal/codec"
	"github.com/stretchr/testify/require"
)

// fakeServer answers exactly one MBAP request with the given register values
// over a net.Pipe, mimicking a holding-register read of unit 1.
func fakeServer(t *testing.T, server net.Conn, registers []uint16) {
	t.Helper()
	go func() {
		header := make([]byte, 7)
		if _, err := io_ReadFull(server, header); err != nil {
			return
		}
		length := binary.BigEndian.Uint16(header[4:6])
		body := make([]byte, length-1)
		if _, err := io_ReadFull(server, body); err != nil {
			return
		}

		data := make([]byte, 1+len(registers)*2)
		data[0] = byte(len(registers) * 2)
		for i, r := range registers {
			binary.BigEndian.PutUint16(data[1+i*2:], r)
		}
		resp := make([]byte, 7+2+len(data))
		copy(resp[0:2], header[0:2]) // echo transaction id
		binary.BigEndian.PutUint16(resp[4:6], uint16(1+1+len(data)))
		resp[6] = header[6] // echo unit id
		resp[7] = fcReadHoldingRegisters
		copy(resp[8:], data)
		_, _ = server.Write(resp)
	}()
}

func io_ReadFull(conn net.Conn, buf []byte) (int, error) {
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

func TestMBAPReadHoldingRegisters(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	fakeServer(t, server, []uint16{42})

	tr := newMBAPTransport("tcp", "", time.Second)
	tr.conn = client

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := tr.Read(ctx, codec.HoldingRegister, 0, 1, 1)
	require.NoError(t, err)
	require.Equal(t, []uint16{42}, res.Registers)
}
