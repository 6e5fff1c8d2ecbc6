// Package hyperloglog implements an HLL-family sketch for estimating the
// number of distinct items in a stream.
//
// The sketch ingests items of any primitive type and keeps a compact
// structure from which the count of distinct items can be estimated at any
// time. Memory is bounded by the configured precision regardless of how
// long the stream runs.
//
// Representations
// ===============
//
// A sketch moves through three representations as the number of distinct
// items grows. The moves are one-way:
//
//	LIST ---(9th distinct coupon)---> SET ---(load > 3/4 at k/8 cells)---> HLL
//
//  1. LIST keeps up to eight coupons in arrival order. A coupon packs the
//     top 26 bits of the item hash with the run-length value derived from
//     the bits below them.
//
//  2. SET is an open-addressed hash table of coupons. It doubles from 32
//     cells until it reaches k/8 cells (k = 2^lgConfigK), at which point
//     one more distinct coupon moves the sketch to HLL mode. When
//     lgConfigK < 8 there is no room for a set and the list promotes
//     straight to HLL.
//
//  3. HLL is the dense array of k slots, each the largest value seen for
//     it. Three encodings are available and chosen at construction:
//
//	HLL_8   one byte per slot                       k bytes
//	HLL_6   six bits per slot, packed               3k/4 + 1 bytes
//	HLL_4   four bits per slot + aux map for >14    k/2 bytes + aux
//
// The encoding changes memory and update speed, never the estimate: the
// logical slot values, and therefore every estimator, are identical across
// the three.
//
// Estimation
// ==========
//
// While sparse, a coupon is treated as one distinct item and the estimate
// is the exact coupon count. In HLL mode the sketch keeps a Historical
// Inverse Probability (HIP) accumulator: each slot increase adds the
// inverse of the probability that an update would change the sketch at that
// moment. The accumulator is seeded with the exact coupon count when the
// dense array is built, so estimates are continuous across promotion. A
// composite estimator (harmonic mean of 2^-v with linear counting in the
// small range) is available from the slot values alone.
//
// Serialization
// =============
//
// Two images exist. The compact image carries only live data; the
// updatable image carries the reserved capacity of the list, set, or aux
// map as well. Both load back into an updatable sketch. See preamble.go for
// the byte layout.
//
// Concurrency
// ===========
//
// A Sketch is owned by one goroutine. It has no internal locking; callers
// sharing one must synchronize externally. Distinct sketches are
// independent.
package hyperloglog

import (
	"fmt"
	"iter"
)

// Sketch is a cardinality sketch. The zero value is not usable; create one
// with New, NewWithType or Deserialize.
type Sketch struct {
	lgK  int
	tgt  TargetType
	mode Mode

	// Exactly one of these is non-nil, matching mode.
	list *couponList
	set  *couponSet
	hll  *hllArray

	// outOfOrder is set when a loaded HLL image asks for the composite
	// estimator because its HIP accumulator is not meaningful.
	outOfOrder bool

	scratch [8]byte
}

// New creates an empty sketch with 2^lgK slots and the 8-bit dense encoding.
func New(lgK int) (*Sketch, error) {
	return NewWithType(lgK, DefaultTargetType)
}

// NewWithType creates an empty sketch with the given dense encoding. The
// sketch starts in LIST mode.
func NewWithType(lgK int, tgt TargetType) (*Sketch, error) {
	if err := checkLgK(lgK); err != nil {
		return nil, err
	}
	if !tgt.valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTargetType, uint8(tgt))
	}
	return &Sketch{
		lgK:  lgK,
		tgt:  tgt,
		mode: ModeList,
		list: newCouponList(),
	}, nil
}

// LgK returns lgConfigK.
func (s *Sketch) LgK() int { return s.lgK }

// TargetType returns the dense encoding chosen at construction.
func (s *Sketch) TargetType() TargetType { return s.tgt }

// Mode returns the current representation.
func (s *Sketch) Mode() Mode { return s.mode }

// IsEmpty reports whether no item has ever been applied.
func (s *Sketch) IsEmpty() bool {
	return s.mode == ModeList && s.list.count() == 0
}

// IsCompact is always false: every in-memory sketch, including one loaded
// from a compact image, accepts updates.
func (s *Sketch) IsCompact() bool { return false }

// Slots yields every (slot, value) pair in slot order, zeros included. While
// sparse, a slot's value is the largest among the coupons that map to it,
// which is what the slot would hold after promotion. In sparse modes each
// call builds a map of the coupons and then walks all 2^lgK slots, so it is
// meant for diagnostics rather than hot paths.
func (s *Sketch) Slots() iter.Seq2[uint32, uint8] {
	if s.mode == ModeHLL {
		return s.hll.slots()
	}
	var coupons iter.Seq[uint32]
	if s.mode == ModeSet {
		coupons = s.set.all()
	} else {
		coupons = s.list.all()
	}
	values := make(map[uint32]uint8)
	for c := range coupons {
		slot := couponSlot(c, s.lgK)
		values[slot] = max(values[slot], couponValue(c))
	}
	return func(yield func(uint32, uint8) bool) {
		k := uint32(1) << s.lgK
		for i := uint32(0); i < k; i++ {
			if !yield(i, values[i]) {
				return
			}
		}
	}
}

// Reset returns the sketch to an empty LIST, keeping lgK and target type.
func (s *Sketch) Reset() {
	s.mode = ModeList
	s.list = newCouponList()
	s.set = nil
	s.hll = nil
	s.outOfOrder = false
}

// Copy returns a deep copy. The two sketches share no storage.
func (s *Sketch) Copy() *Sketch {
	dup := &Sketch{
		lgK:        s.lgK,
		tgt:        s.tgt,
		mode:       s.mode,
		outOfOrder: s.outOfOrder,
	}
	switch s.mode {
	case ModeList:
		dup.list = s.list.clone()
	case ModeSet:
		dup.set = s.set.clone()
	default:
		dup.hll = s.hll.clone()
	}
	return dup
}

// CopyAs returns a deep copy that uses tgt as its dense encoding. The copy
// reports the same estimate as the original.
func (s *Sketch) CopyAs(tgt TargetType) (*Sketch, error) {
	if !tgt.valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTargetType, uint8(tgt))
	}
	if s.mode != ModeHLL {
		dup := s.Copy()
		dup.tgt = tgt
		return dup, nil
	}
	return &Sketch{
		lgK:        s.lgK,
		tgt:        tgt,
		mode:       ModeHLL,
		hll:        s.hll.convert(tgt),
		outOfOrder: s.outOfOrder,
	}, nil
}

func (s *Sketch) updateBytes(data []byte) bool {
	return s.couponUpdate(hashToCoupon(data))
}

// couponUpdate is the mode controller. It offers the coupon to the live
// representation and, on capacityExceeded, promotes and retries. It reports
// whether the sketch changed.
func (s *Sketch) couponUpdate(coupon uint32) bool {
	//
	// DESIGN
	// ------
	//
	// The transitions are:
	//
	//	LIST --full--> SET   (lgK >= 8)
	//	LIST --full--> HLL   (lgK <  8)
	//	SET  --full--> HLL
	//
	// A representation that refuses a coupon has not stored it, and both
	// list and set check for duplicates before checking capacity, so the
	// refused coupon is always new. Promotion builds the next stage from
	// the retained coupons and then applies the refused one. A retry that
	// fails again means the promotion left no headroom, which is a bug.
	//
	switch s.mode {
	case ModeList:
		if r := s.list.tryAdd(coupon); r != capacityExceeded {
			return r == added
		}
		if s.lgK < minLgKForSet {
			s.promoteToHLL(s.list.all(), s.list.count(), coupon)
			return true
		}
		s.promoteToSet(coupon)
		return true

	case ModeSet:
		if r := s.set.tryAdd(coupon); r != capacityExceeded {
			return r == added
		}
		s.promoteToHLL(s.set.all(), s.set.count(), coupon)
		return true

	default:
		return s.hll.couponUpdate(coupon)
	}
}

func (s *Sketch) promoteToSet(pending uint32) {
	set := newCouponSet(s.lgK)
	for c := range s.list.all() {
		set.tryAdd(c)
	}
	if set.tryAdd(pending) != added {
		panic("hyperloglog: coupon refused after promotion to SET")
	}
	s.set = set
	s.list = nil
	s.mode = ModeSet
}

// promoteToHLL seeds the HIP accumulator with the exact number of distinct
// coupons, retained plus pending, after the slots have been filled.
func (s *Sketch) promoteToHLL(coupons iter.Seq[uint32], n int, pending uint32) {
	arr := newHLLArray(s.lgK, s.tgt)
	for c := range coupons {
		arr.couponUpdate(c)
	}
	arr.couponUpdate(pending)
	arr.hipAccum = float64(n + 1)

	s.hll = arr
	s.list = nil
	s.set = nil
	s.mode = ModeHLL
}
