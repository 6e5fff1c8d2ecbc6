package hyperloglog

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Deserialize reads one image, compact or updatable, from r. It consumes
// exactly the bytes of that image. The result is always updatable.
//
// Malformed input fails with an error wrapping ErrCorrupt and no sketch is
// returned.
func Deserialize(r io.Reader) (*Sketch, error) {
	head := make([]byte, listIntArrStart)
	if err := readFull(r, head); err != nil {
		return nil, err
	}
	p, err := decodePreamble(head)
	if err != nil {
		return nil, err
	}

	switch p.mode {
	case ModeList:
		return decodeList(r, p)
	case ModeSet:
		return decodeSet(r, p)
	default:
		return decodeHLL(r, p)
	}
}

// DeserializeSlice decodes an image held in memory. Trailing bytes are an
// error.
func DeserializeSlice(data []byte) (*Sketch, error) {
	r := bytes.NewReader(data)
	s, err := Deserialize(r)
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, r.Len())
	}
	return s, nil
}

func readFull(r io.Reader, buf []byte) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: truncated image", ErrCorrupt)
		}
		return err
	}
	return nil
}

func readUint32s(r io.Reader, n int) ([]uint32, error) {
	buf := make([]byte, 4*n)
	if err := readFull(r, buf); err != nil {
		return nil, err
	}
	out := make([]uint32, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(buf[4*i:])
	}
	return out, nil
}

// checkCoupon rejects words that no hash could have produced.
func checkCoupon(c uint32) error {
	v := couponValue(c)
	if v == 0 || v > valueMax {
		return fmt.Errorf("%w: coupon %#08x has value %d", ErrCorrupt, c, v)
	}
	return nil
}

func checkEmptyFlag(p preamble, n int) error {
	if (p.flags&emptyFlag != 0) != (n == 0) {
		return fmt.Errorf("%w: empty flag disagrees with %d coupons", ErrCorrupt, n)
	}
	return nil
}

func decodeList(r io.Reader, p preamble) (*Sketch, error) {
	if p.lgArr != lgInitListSize {
		return nil, fmt.Errorf("%w: list lgArr %d", ErrCorrupt, p.lgArr)
	}
	if p.count > 1<<lgInitListSize {
		return nil, fmt.Errorf("%w: list count %d exceeds capacity", ErrCorrupt, p.count)
	}
	if err := checkEmptyFlag(p, p.count); err != nil {
		return nil, err
	}

	words := p.count
	if !p.compact() {
		words = 1 << lgInitListSize
	}
	cells, err := readUint32s(r, words)
	if err != nil {
		return nil, err
	}

	list := newCouponList()
	for i, c := range cells {
		if i >= p.count {
			if c != couponEmpty {
				return nil, fmt.Errorf("%w: list padding is not zero", ErrCorrupt)
			}
			continue
		}
		if err := checkCoupon(c); err != nil {
			return nil, err
		}
		if list.tryAdd(c) != added {
			return nil, fmt.Errorf("%w: duplicate list coupon %#08x", ErrCorrupt, c)
		}
	}

	return &Sketch{
		lgK:  p.lgK,
		tgt:  p.tgt,
		mode: ModeList,
		list: list,
	}, nil
}

func decodeSet(r io.Reader, p preamble) (*Sketch, error) {
	if p.lgK < minLgKForSet {
		return nil, fmt.Errorf("%w: set image with lgK %d", ErrCorrupt, p.lgK)
	}
	maxLgSize := max(p.lgK-3, lgInitSetSize)
	if p.lgArr < lgInitSetSize || p.lgArr > maxLgSize {
		return nil, fmt.Errorf("%w: set lgArr %d", ErrCorrupt, p.lgArr)
	}

	var countBuf [4]byte
	if err := readFull(r, countBuf[:]); err != nil {
		return nil, err
	}
	n := int(binary.LittleEndian.Uint32(countBuf[:]))
	if resizeDenom*n > resizeNumer<<p.lgArr {
		return nil, fmt.Errorf("%w: set count %d overfills 2^%d cells", ErrCorrupt, n, p.lgArr)
	}
	if err := checkEmptyFlag(p, n); err != nil {
		return nil, err
	}

	words := n
	if !p.compact() {
		words = 1 << p.lgArr
	}
	cells, err := readUint32s(r, words)
	if err != nil {
		return nil, err
	}

	set := newCouponSetSized(p.lgK, p.lgArr)
	for _, c := range cells {
		if c == couponEmpty {
			if p.compact() {
				return nil, fmt.Errorf("%w: empty cell in compact set", ErrCorrupt)
			}
			continue
		}
		if err := checkCoupon(c); err != nil {
			return nil, err
		}
		if set.tryAdd(c) != added {
			return nil, fmt.Errorf("%w: set coupon %#08x duplicated or over capacity", ErrCorrupt, c)
		}
	}
	if set.count() != n {
		return nil, fmt.Errorf("%w: set header says %d coupons, found %d", ErrCorrupt, n, set.count())
	}
	// Re-inserting must not have grown the table past the recorded size.
	if set.lgArr() != p.lgArr {
		return nil, fmt.Errorf("%w: set does not fit 2^%d cells", ErrCorrupt, p.lgArr)
	}

	return &Sketch{
		lgK:  p.lgK,
		tgt:  p.tgt,
		mode: ModeSet,
		set:  set,
	}, nil
}

func decodeHLL(r io.Reader, p preamble) (*Sketch, error) {
	if p.count != 0 {
		return nil, fmt.Errorf("%w: current minimum %d is not supported", ErrCorrupt, p.count)
	}
	if p.flags&emptyFlag != 0 {
		return nil, fmt.Errorf("%w: HLL image flagged empty", ErrCorrupt)
	}

	// The register offsets are absolute; the preamble part stays zero.
	ext := make([]byte, hllByteArrStart)
	if err := readFull(r, ext[listIntArrStart:]); err != nil {
		return nil, err
	}
	regs := decodeHLLRegisters(ext)

	for _, f := range []float64{regs.hipAccum, regs.kxq0, regs.kxq1} {
		if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
			return nil, fmt.Errorf("%w: estimator register %v", ErrCorrupt, f)
		}
	}

	arr := newHLLArray(p.lgK, p.tgt)
	if err := readFull(r, arr.data); err != nil {
		return nil, err
	}

	if p.tgt == HLL4 {
		if err := decodeAux(r, p, regs.auxCount, arr); err != nil {
			return nil, err
		}
	} else if regs.auxCount != 0 {
		return nil, fmt.Errorf("%w: %s image with %d aux entries", ErrCorrupt, p.tgt, regs.auxCount)
	}

	// Walking every slot validates the packing and recomputes the zero
	// count and the kxq registers the header claims.
	zeros := 0
	var kxq0, kxq1 float64
	for slot, v := range arr.slots() {
		if v > valueMax {
			return nil, fmt.Errorf("%w: slot %d holds %d", ErrCorrupt, slot, v)
		}
		if v == 0 {
			zeros++
		}
		if v < 32 {
			kxq0 += invPow2(v)
		} else {
			kxq1 += invPow2(v)
		}
	}

	if p.flags&rebuildKxQFlag != 0 {
		arr.rebuildKxQ()
	} else {
		if zeros != regs.numAtCurMin {
			return nil, fmt.Errorf("%w: header counts %d empty slots, found %d", ErrCorrupt, regs.numAtCurMin, zeros)
		}
		if !kxqMatches(regs.kxq0, kxq0) || !kxqMatches(regs.kxq1, kxq1) {
			return nil, fmt.Errorf("%w: kxq registers %v, %v do not match slots (%v, %v)",
				ErrCorrupt, regs.kxq0, regs.kxq1, kxq0, kxq1)
		}
		arr.numAtCurMin = regs.numAtCurMin
		arr.kxq0 = regs.kxq0
		arr.kxq1 = regs.kxq1
	}
	arr.hipAccum = regs.hipAccum

	return &Sketch{
		lgK:        p.lgK,
		tgt:        p.tgt,
		mode:       ModeHLL,
		hll:        arr,
		outOfOrder: p.flags&outOfOrderFlag != 0,
	}, nil
}

// kxqTolerance absorbs the rounding of incremental kxq updates, which add
// and subtract powers of two over the life of a sketch.
const kxqTolerance = 1e-6

func kxqMatches(stored, recomputed float64) bool {
	return math.Abs(stored-recomputed) <= kxqTolerance*max(recomputed, 1)
}

// decodeAux reads the HLL_4 aux cells and checks that they pair one to one
// with the aux tokens in the nibbles.
func decodeAux(r io.Reader, p preamble, auxCount int, arr *hllArray) error {
	k := 1 << p.lgK
	if auxCount > k {
		return fmt.Errorf("%w: %d aux entries for %d slots", ErrCorrupt, auxCount, k)
	}
	if p.lgArr > p.lgK+1 {
		return fmt.Errorf("%w: aux lgArr %d", ErrCorrupt, p.lgArr)
	}

	var words int
	switch {
	case auxCount == 0:
	case p.compact():
		words = auxCount
	default:
		if resizeDenom*auxCount > resizeNumer<<p.lgArr {
			return fmt.Errorf("%w: %d aux entries overfill 2^%d cells", ErrCorrupt, auxCount, p.lgArr)
		}
		words = 1 << p.lgArr
	}

	cells, err := readUint32s(r, words)
	if err != nil {
		return err
	}

	if auxCount > 0 {
		lgSize := lgAuxArrInts[p.lgK]
		if !p.compact() {
			lgSize = p.lgArr
		}
		arr.aux = newAuxMapSized(p.lgK, lgSize)
	}
	for _, c := range cells {
		if c == couponEmpty {
			if p.compact() {
				return fmt.Errorf("%w: empty aux cell in compact image", ErrCorrupt)
			}
			continue
		}
		slot, v := couponAddr(c), couponValue(c)
		if int(slot) >= k || v <= nibbleMax || v > valueMax {
			return fmt.Errorf("%w: aux cell %#08x", ErrCorrupt, c)
		}
		if arr.nibble(slot) != auxToken {
			return fmt.Errorf("%w: aux entry for slot %d without token", ErrCorrupt, slot)
		}
		if _, dup := arr.aux.get(slot); dup {
			return fmt.Errorf("%w: duplicate aux entry for slot %d", ErrCorrupt, slot)
		}
		arr.aux.put(slot, v)
	}
	if arr.auxCount() != auxCount {
		return fmt.Errorf("%w: header counts %d aux entries, found %d", ErrCorrupt, auxCount, arr.auxCount())
	}

	tokens := 0
	for i := range k {
		if arr.nibble(uint32(i)) == auxToken {
			tokens++
		}
	}
	if tokens != auxCount {
		return fmt.Errorf("%w: %d aux tokens for %d aux entries", ErrCorrupt, tokens, auxCount)
	}
	return nil
}
