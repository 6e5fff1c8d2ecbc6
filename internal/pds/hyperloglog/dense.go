package hyperloglog

import (
	"iter"
	"math"
)

// hllArray is the dense representation: 2^lgConfigK slots, each holding the
// largest run-length value observed for it. The encoding is a tag, not an
// interface; get and put switch on it.
type hllArray struct {
	lgK int
	tgt TargetType

	// data is the packed slot storage for tgt.
	data []byte

	// aux holds HLL4 slots whose value does not fit in a nibble. It is
	// created on first use.
	aux *auxMap

	// numAtCurMin counts slots still at zero. The current minimum is always
	// zero in this implementation; the name matches the wire field.
	numAtCurMin int

	// hipAccum is the Historical Inverse Probability estimate. kxq0 and
	// kxq1 hold sum(2^-v) over all slots, split at v = 32 to keep precision.
	hipAccum float64
	kxq0     float64
	kxq1     float64
}

func newHLLArray(lgK int, tgt TargetType) *hllArray {
	k := 1 << lgK
	return &hllArray{
		lgK:         lgK,
		tgt:         tgt,
		data:        make([]byte, hllDataBytes(lgK, tgt)),
		numAtCurMin: k,
		kxq0:        float64(k),
	}
}

// hllDataBytes is the size of the packed slot storage for an encoding.
func hllDataBytes(lgK int, tgt TargetType) int {
	k := 1 << lgK
	switch tgt {
	case HLL4:
		return k / 2
	case HLL6:
		// Four 6-bit slots fill three bytes. The extra byte lets the last
		// slot be read through a two-byte window.
		return (k*3)>>2 + 1
	default:
		return k
	}
}

func (h *hllArray) get(slot uint32) uint8 {
	switch h.tgt {
	case HLL4:
		return h.get4(slot)
	case HLL6:
		return h.get6(slot)
	default:
		return h.data[slot]
	}
}

func (h *hllArray) put(slot uint32, value uint8) {
	switch h.tgt {
	case HLL4:
		h.put4(slot, value)
	case HLL6:
		h.put6(slot, value)
	default:
		h.data[slot] = value
	}
}

// setIfGreater raises the slot to value if value is larger and keeps the
// HIP and KxQ registers in step. It reports whether the slot changed.
func (h *hllArray) setIfGreater(slot uint32, value uint8) bool {
	old := h.get(slot)
	if value <= old {
		return false
	}
	h.put(slot, value)
	h.hipAndKxQUpdate(old, value)
	if old == 0 {
		h.numAtCurMin--
	}
	return true
}

func (h *hllArray) couponUpdate(coupon uint32) bool {
	return h.setIfGreater(couponSlot(coupon, h.lgK), couponValue(coupon))
}

// hipAndKxQUpdate must run before the KxQ registers change: the HIP
// increment is the inverse of the probability that this update would have
// changed the sketch.
func (h *hllArray) hipAndKxQUpdate(oldValue, newValue uint8) {
	k := float64(uint64(1) << h.lgK)
	h.hipAccum += k / (h.kxq0 + h.kxq1)

	if oldValue < 32 {
		h.kxq0 -= invPow2(oldValue)
	} else {
		h.kxq1 -= invPow2(oldValue)
	}
	if newValue < 32 {
		h.kxq0 += invPow2(newValue)
	} else {
		h.kxq1 += invPow2(newValue)
	}
}

func invPow2(v uint8) float64 {
	return math.Float64frombits(uint64(1023-int(v)) << 52)
}

// slots yields every (slot, value) pair, zeros included.
func (h *hllArray) slots() iter.Seq2[uint32, uint8] {
	return func(yield func(uint32, uint8) bool) {
		k := uint32(1) << h.lgK
		for i := uint32(0); i < k; i++ {
			if !yield(i, h.get(i)) {
				return
			}
		}
	}
}

func (h *hllArray) numNonZero() int {
	return (1 << h.lgK) - h.numAtCurMin
}

func (h *hllArray) clone() *hllArray {
	dup := *h
	dup.data = make([]byte, len(h.data))
	copy(dup.data, h.data)
	if h.aux != nil {
		dup.aux = h.aux.clone()
	}
	return &dup
}

// convert re-encodes the array under another target type. Estimator state
// carries over unchanged because the logical slot values are identical.
func (h *hllArray) convert(tgt TargetType) *hllArray {
	if tgt == h.tgt {
		return h.clone()
	}
	dst := newHLLArray(h.lgK, tgt)
	for slot, v := range h.slots() {
		if v != 0 {
			dst.put(slot, v)
		}
	}
	dst.numAtCurMin = h.numAtCurMin
	dst.hipAccum = h.hipAccum
	dst.kxq0 = h.kxq0
	dst.kxq1 = h.kxq1
	return dst
}

// rebuildKxQ recomputes the derived registers from the slot values. It is
// used after loading an image whose header cannot be trusted for them.
func (h *hllArray) rebuildKxQ() {
	h.kxq0, h.kxq1 = 0, 0
	h.numAtCurMin = 0
	for _, v := range h.slots() {
		if v == 0 {
			h.numAtCurMin++
		}
		if v < 32 {
			h.kxq0 += invPow2(v)
		} else {
			h.kxq1 += invPow2(v)
		}
	}
}
