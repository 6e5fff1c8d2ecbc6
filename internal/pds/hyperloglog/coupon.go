package hyperloglog

import (
	"math/bits"

	"github.com/cespare/xxhash/v2"
)

const (
	// addrBits is the width of the hash address kept in every coupon. It is
	// wider than MaxLgK so distinct items almost never share a coupon while
	// the sketch is sparse.
	addrBits = 26
	addrMask = (1 << addrBits) - 1

	// rankBits is what is left of the hash below the address.
	rankBits = 64 - addrBits

	// valueMax is the largest run-length value a coupon can carry. Every
	// dense encoding represents it (HLL4 through its auxiliary map).
	valueMax = rankBits + 1

	// couponEmpty marks a free cell in list and set arrays. No coupon can
	// be zero because its value is at least 1.
	couponEmpty = 0
)

// hashToCoupon hashes canonical item bytes and packs the result.
func hashToCoupon(data []byte) uint32 {
	//
	// DESIGN
	// ------
	//
	// The 64-bit hash is split into the address (the top 26 bits) and the
	// rank bits below it:
	//
	//	 63            38 37                              0
	//	+----------------+---------------------------------+
	//	|  address (26)  |        rank bits (38)           |
	//	+----------------+---------------------------------+
	//
	// The value is 1 + the number of leading zeros of the rank bits, so it
	// lies in [1, 39]. The coupon stores the value above the address:
	//
	//	 31    26 25                         0
	//	+--------+----------------------------+
	//	| value  |        address (26)        |
	//	+--------+----------------------------+
	//
	// The dense slot of a coupon is the top lgConfigK bits of the hash,
	// which are the top lgConfigK bits of the address.
	//
	hashValue := xxhash.Sum64(data)
	addr := uint32(hashValue >> rankBits)

	// Shifting the address out leaves the rank bits in the high end of the
	// word; the low addrBits are zero and cannot add to the count past the
	// cap below.
	lz := bits.LeadingZeros64(hashValue << addrBits)
	if lz > rankBits {
		lz = rankBits
	}
	return packCoupon(addr, uint8(lz+1))
}

func packCoupon(addr uint32, value uint8) uint32 {
	return uint32(value)<<addrBits | (addr & addrMask)
}

func couponValue(coupon uint32) uint8 {
	return uint8(coupon >> addrBits)
}

func couponAddr(coupon uint32) uint32 {
	return coupon & addrMask
}

// couponSlot maps a coupon to its dense slot for a given lgConfigK.
func couponSlot(coupon uint32, lgK int) uint32 {
	return couponAddr(coupon) >> (addrBits - lgK)
}
