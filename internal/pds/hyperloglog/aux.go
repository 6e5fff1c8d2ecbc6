package hyperloglog

import "iter"

// lgAuxArrInts is the initial log2 size of the HLL4 auxiliary map per lgConfigK.
var lgAuxArrInts = [MaxLgK + 1]int{
	0, 2, 2, 2, 2, 2, 2, 3, 3, 3, // 0 - 9
	4, 4, 5, 5, 6, 7, 8, 9, 10, 11, // 10 - 19
	12, 13, // 20 - 21
}

// auxMap is an open-addressed map from slot to value for HLL4 slots above
// nibbleMax. Each cell packs value<<26 | slot; zero is empty.
type auxMap struct {
	cells  []uint32
	lgSize int
	lgK    int
	n      int
}

func newAuxMap(lgK int) *auxMap {
	return newAuxMapSized(lgK, lgAuxArrInts[lgK])
}

func newAuxMapSized(lgK, lgSize int) *auxMap {
	return &auxMap{
		cells:  make([]uint32, 1<<lgSize),
		lgSize: lgSize,
		lgK:    lgK,
	}
}

// find returns the index of slot, or the complement of the empty cell where
// it belongs. Probing works like the coupon set.
func (m *auxMap) find(slot uint32) int {
	mask := len(m.cells) - 1
	probe := int(slot) & mask
	stride := int(slot>>m.lgSize) | 1
	for {
		c := m.cells[probe]
		if c == couponEmpty {
			return ^probe
		}
		if c&addrMask == slot {
			return probe
		}
		probe = (probe + stride) & mask
	}
}

func (m *auxMap) get(slot uint32) (uint8, bool) {
	idx := m.find(slot)
	if idx < 0 {
		return 0, false
	}
	return couponValue(m.cells[idx]), true
}

// put inserts or overwrites the value for slot.
func (m *auxMap) put(slot uint32, value uint8) {
	idx := m.find(slot)
	if idx >= 0 {
		m.cells[idx] = packCoupon(slot, value)
		return
	}
	if resizeDenom*(m.n+1) > resizeNumer*len(m.cells) {
		m.grow()
		idx = m.find(slot)
	}
	m.cells[^idx] = packCoupon(slot, value)
	m.n++
}

func (m *auxMap) grow() {
	old := m.cells
	m.lgSize++
	m.cells = make([]uint32, 1<<m.lgSize)
	for _, c := range old {
		if c != couponEmpty {
			m.cells[^m.find(c&addrMask)] = c
		}
	}
}

func (m *auxMap) count() int {
	return m.n
}

// all yields (slot, value) pairs in table order.
func (m *auxMap) all() iter.Seq2[uint32, uint8] {
	return func(yield func(uint32, uint8) bool) {
		for _, c := range m.cells {
			if c == couponEmpty {
				continue
			}
			if !yield(c&addrMask, couponValue(c)) {
				return
			}
		}
	}
}

func (m *auxMap) clone() *auxMap {
	dup := *m
	dup.cells = make([]uint32, len(m.cells))
	copy(dup.cells, m.cells)
	return &dup
}
