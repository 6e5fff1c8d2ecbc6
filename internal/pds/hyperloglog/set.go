package hyperloglog

import "iter"

// couponSet is an open-addressed hash set of coupons. It doubles in place
// until it reaches maxLgSize, then reports capacityExceeded so the sketch can
// move to a dense array.
type couponSet struct {
	slots     []uint32
	lgSize    int
	maxLgSize int
	n         int
}

// newCouponSet sizes the set for lgConfigK. The largest table holds k/8
// slots, which is where a dense array becomes the cheaper representation.
func newCouponSet(lgK int) *couponSet {
	return newCouponSetSized(lgK, lgInitSetSize)
}

func newCouponSetSized(lgK, lgSize int) *couponSet {
	return &couponSet{
		slots:     make([]uint32, 1<<lgSize),
		lgSize:    lgSize,
		maxLgSize: max(lgK-3, lgInitSetSize),
	}
}

// find returns the index holding coupon, or the bitwise complement of the
// empty index where it would go.
func (s *couponSet) find(coupon uint32) int {
	//
	// DESIGN
	// ------
	//
	// Probing starts at the low bits of the coupon and steps by an odd
	// stride taken from the address bits above them. An odd stride is
	// co-prime with the power-of-two table size, so the probe sequence
	// visits every cell before it wraps. The load factor never exceeds 3/4,
	// so an empty cell is always found.
	//
	mask := len(s.slots) - 1
	probe := int(coupon) & mask
	stride := int(couponAddr(coupon)>>s.lgSize) | 1

	for {
		c := s.slots[probe]
		if c == couponEmpty {
			return ^probe
		}
		if c == coupon {
			return probe
		}
		probe = (probe + stride) & mask
	}
}

func (s *couponSet) tryAdd(coupon uint32) addResult {
	idx := s.find(coupon)
	if idx >= 0 {
		return alreadyPresent
	}

	if resizeDenom*(s.n+1) > resizeNumer*len(s.slots) {
		if s.lgSize >= s.maxLgSize {
			return capacityExceeded
		}
		s.grow()
		idx = s.find(coupon)
	}

	s.slots[^idx] = coupon
	s.n++
	return added
}

// grow doubles the table and re-inserts every coupon.
func (s *couponSet) grow() {
	old := s.slots
	s.lgSize++
	s.slots = make([]uint32, 1<<s.lgSize)
	for _, c := range old {
		if c != couponEmpty {
			s.slots[^s.find(c)] = c
		}
	}
}

func (s *couponSet) count() int {
	return s.n
}

func (s *couponSet) lgArr() int {
	return s.lgSize
}

// all yields the coupons in table order.
func (s *couponSet) all() iter.Seq[uint32] {
	return func(yield func(uint32) bool) {
		for _, c := range s.slots {
			if c == couponEmpty {
				continue
			}
			if !yield(c) {
				return
			}
		}
	}
}

func (s *couponSet) clone() *couponSet {
	dup := *s
	dup.slots = make([]uint32, len(s.slots))
	copy(dup.slots, s.slots)
	return &dup
}
