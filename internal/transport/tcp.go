package transport

import "time"

// NewTCP returns a Transport speaking Modbus TCP (MBAP framing over a
// stream socket) to addr ("host:port").
func NewTCP(addr string, timeout time.Duration) Transport {
	return newMBAPTransport("tcp", addr, timeout)
}
