package transport

import "time"

// NewUDP returns a Transport speaking Modbus over UDP (same MBAP framing as
// TCP, datagram transport) to addr ("host:port").
func NewUDP(addr string, timeout time.Duration) Transport {
	return newMBAPTransport("udp", addr, timeout)
}
