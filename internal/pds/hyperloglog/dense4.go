package hyperloglog

const (
	// auxToken in a nibble means the slot value lives in the auxiliary map.
	auxToken = 15

	// nibbleMax is the largest value stored directly in a nibble.
	nibbleMax = auxToken - 1
)

// nibble returns the raw 4-bit field: even slots in the low half of the
// byte, odd slots in the high half.
func (h *hllArray) nibble(slot uint32) uint8 {
	b := h.data[slot>>1]
	if slot&1 != 0 {
		b >>= 4
	}
	return b & 0x0F
}

func (h *hllArray) putNibble(slot uint32, n uint8) {
	i := slot >> 1
	if slot&1 != 0 {
		h.data[i] = h.data[i]&0x0F | n<<4
	} else {
		h.data[i] = h.data[i]&0xF0 | n&0x0F
	}
}

func (h *hllArray) get4(slot uint32) uint8 {
	n := h.nibble(slot)
	if n != auxToken {
		return n
	}
	v, ok := h.aux.get(slot)
	if !ok {
		// A token without an entry can only come from a bad image, and
		// deserialization rejects those.
		panic("hyperloglog: aux token without aux entry")
	}
	return v
}

// put4 stores small values in the nibble. Larger ones go to the auxiliary
// map and leave the token behind; a slot that has moved to the map stays
// there since values never decrease.
func (h *hllArray) put4(slot uint32, value uint8) {
	if value <= nibbleMax && h.nibble(slot) != auxToken {
		h.putNibble(slot, value)
		return
	}
	if h.aux == nil {
		h.aux = newAuxMap(h.lgK)
	}
	h.aux.put(slot, value)
	h.putNibble(slot, auxToken)
}

func (h *hllArray) auxCount() int {
	if h.aux == nil {
		return 0
	}
	return h.aux.count()
}
