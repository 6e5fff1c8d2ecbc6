package hyperloglog

import "encoding/binary"

// get6 reads slot i from bits 6i..6i+5. A 6-bit field never spans more
// than two bytes, so one little-endian 16-bit load covers it.
func (h *hllArray) get6(slot uint32) uint8 {
	startBit := slot * 6
	shift := startBit & 7
	byteIdx := startBit >> 3
	window := binary.LittleEndian.Uint16(h.data[byteIdx:])
	return uint8(window>>shift) & 0x3F
}

func (h *hllArray) put6(slot uint32, value uint8) {
	startBit := slot * 6
	shift := startBit & 7
	byteIdx := startBit >> 3
	window := binary.LittleEndian.Uint16(h.data[byteIdx:])
	window &^= 0x3F << shift
	window |= uint16(value&0x3F) << shift
	binary.LittleEndian.PutUint16(h.data[byteIdx:], window)
}
