package hyperloglog

import "iter"

// addResult is what list and set report back to the mode controller.
type addResult uint8

const (
	added addResult = iota
	alreadyPresent
	// capacityExceeded is the promotion signal, not an error. The coupon
	// was not stored.
	capacityExceeded
)

// couponList keeps the first few distinct coupons in arrival order.
type couponList struct {
	coupons []uint32
}

func newCouponList() *couponList {
	return &couponList{
		coupons: make([]uint32, 0, 1<<lgInitListSize),
	}
}

// tryAdd scans the list linearly; with at most eight entries a scan beats
// any index structure.
func (l *couponList) tryAdd(coupon uint32) addResult {
	for _, c := range l.coupons {
		if c == coupon {
			return alreadyPresent
		}
	}
	if len(l.coupons) >= 1<<lgInitListSize {
		return capacityExceeded
	}
	l.coupons = append(l.coupons, coupon)
	return added
}

func (l *couponList) count() int {
	return len(l.coupons)
}

func (l *couponList) lgArr() int {
	return lgInitListSize
}

// all yields the coupons in insertion order.
func (l *couponList) all() iter.Seq[uint32] {
	return func(yield func(uint32) bool) {
		for _, c := range l.coupons {
			if !yield(c) {
				return
			}
		}
	}
}

func (l *couponList) clone() *couponList {
	dup := make([]uint32, len(l.coupons), 1<<lgInitListSize)
	copy(dup, l.coupons)
	return &couponList{coupons: dup}
}
