package transport

import "encoding/binary"

// buildReadPDU builds the function-code + address + count body of a read
// request, shared by every transport framing.
func buildReadPDU(fc byte, address uint16, count int) []byte {
	pdu := make([]byte, 5)
	pdu[0] = fc
	binary.BigEndian.PutUint16(pdu[1:3], address)
	binary.BigEndian.PutUint16(pdu[3:5], uint16(count))
	return pdu
}

func buildWriteMultipleCoilsPDU(address uint16, bits []bool) []byte {
	packed := packBits(bits)
	pdu := make([]byte, 6+len(packed))
	pdu[0] = fcWriteMultipleCoils
	binary.BigEndian.PutUint16(pdu[1:3], address)
	binary.BigEndian.PutUint16(pdu[3:5], uint16(len(bits)))
	pdu[5] = byte(len(packed))
	copy(pdu[6:], packed)
	return pdu
}

func buildWriteMultipleRegistersPDU(address uint16, registers []uint16) []byte {
	pdu := make([]byte, 6+len(registers)*2)
	pdu[0] = fcWriteMultipleRegs
	binary.BigEndian.PutUint16(pdu[1:3], address)
	binary.BigEndian.PutUint16(pdu[3:5], uint16(len(registers)))
	pdu[5] = byte(len(registers) * 2)
	for i, r := range registers {
		binary.BigEndian.PutUint16(pdu[6+i*2:], r)
	}
	return pdu
}

// parseReadResponsePDU validates a read response PDU against the requested
// function code and returns its data payload (the byte-count-prefixed
// section stripped of the prefix).
func parseReadResponsePDU(fc byte, pdu []byte) ([]byte, error) {
	if len(pdu) < 1 {
		return nil, protocolErr("empty response PDU")
	}
	got := pdu[0]
	if got&exceptionBit != 0 {
		if len(pdu) < 2 {
			return nil, protocolErr("truncated exception response")
		}
		return nil, exceptionErr(pdu[1])
	}
	if got != fc {
		return nil, protocolErr("unexpected function code 0x%02x, want 0x%02x", got, fc)
	}
	if len(pdu) < 2 {
		return nil, protocolErr("truncated response, missing byte count")
	}
	byteCount := int(pdu[1])
	if len(pdu) < 2+byteCount {
		return nil, protocolErr("truncated response, want %d data bytes got %d", byteCount, len(pdu)-2)
	}
	return pdu[2 : 2+byteCount], nil
}

// parseWriteResponsePDU validates an echo-style write response (multiple
// coils/registers echo function code + address + count).
func parseWriteResponsePDU(fc byte, pdu []byte) error {
	if len(pdu) < 1 {
		return protocolErr("empty response PDU")
	}
	if pdu[0]&exceptionBit != 0 {
		if len(pdu) < 2 {
			return protocolErr("truncated exception response")
		}
		return exceptionErr(pdu[1])
	}
	if pdu[0] != fc {
		return protocolErr("unexpected function code 0x%02x, want 0x%02x", pdu[0], fc)
	}
	if len(pdu) < 5 {
		return protocolErr("truncated write response")
	}
	return nil
}
