package transport

import "testing"

func TestCRC16ModbusKnownVector(t *testing.T) {
	// Read Holding Registers request: unit 1, fc 3, addr 0, count 2.
	frame := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x02}
	got := crc16Modbus(frame)
	if got != 0x0BC4 {
		t.Fatalf("crc16Modbus = 0x%04X, want 0x0BC4", got)
	}
}
