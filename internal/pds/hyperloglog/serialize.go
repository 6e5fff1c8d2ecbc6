package hyperloglog

import (
	"encoding/binary"
	"fmt"
	"io"
)

// CompactSerializationBytes is the exact length of the compact image.
func (s *Sketch) CompactSerializationBytes() int {
	switch s.mode {
	case ModeList:
		return listIntArrStart + 4*s.list.count()
	case ModeSet:
		return hashSetIntArrStart + 4*s.set.count()
	default:
		return hllByteArrStart + len(s.hll.data) + 4*s.hll.auxCount()
	}
}

// UpdatableSerializationBytes is the exact length of the updatable image. It
// includes the reserved capacity of the live representation.
func (s *Sketch) UpdatableSerializationBytes() int {
	switch s.mode {
	case ModeList:
		return listIntArrStart + 4<<lgInitListSize
	case ModeSet:
		return hashSetIntArrStart + 4<<s.set.lgArr()
	default:
		n := hllByteArrStart + len(s.hll.data)
		if s.hll.aux != nil {
			n += 4 << s.hll.aux.lgSize
		}
		return n
	}
}

// MaxUpdatableSerializationBytes is an upper bound on the updatable image of
// any sketch with this configuration, whatever it has ingested. Use it to
// pre-size buffers.
//
// HLL_4 has no current-minimum offset, so in the worst case every slot
// lives in the aux map and the map has grown to 2^(lgK+1) cells.
func MaxUpdatableSerializationBytes(lgK int, tgt TargetType) (int, error) {
	if err := checkLgK(lgK); err != nil {
		return 0, err
	}
	if !tgt.valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidTargetType, uint8(tgt))
	}

	n := hllByteArrStart + hllDataBytes(lgK, tgt)
	if tgt == HLL4 {
		n += 4 << (lgK + 1)
	}

	// The sparse stages never outgrow the dense array, but check anyway at
	// the small end where the list and set are relatively large.
	sparse := listIntArrStart + 4<<lgInitListSize
	if lgK >= minLgKForSet {
		sparse = max(sparse, hashSetIntArrStart+4<<max(lgK-3, lgInitSetSize))
	}
	return max(n, sparse), nil
}

// ToCompactSlice returns the compact image.
func (s *Sketch) ToCompactSlice() []byte {
	return s.encode(true)
}

// ToUpdatableSlice returns the updatable image.
func (s *Sketch) ToUpdatableSlice() []byte {
	return s.encode(false)
}

// SerializeCompact writes the compact image to w.
func (s *Sketch) SerializeCompact(w io.Writer) error {
	_, err := w.Write(s.encode(true))
	return err
}

// SerializeUpdatable writes the updatable image to w.
func (s *Sketch) SerializeUpdatable(w io.Writer) error {
	_, err := w.Write(s.encode(false))
	return err
}

func (s *Sketch) encode(compact bool) []byte {
	var buf []byte
	if compact {
		buf = make([]byte, s.CompactSerializationBytes())
	} else {
		buf = make([]byte, s.UpdatableSerializationBytes())
	}

	p := preamble{
		lgK:  s.lgK,
		mode: s.mode,
		tgt:  s.tgt,
	}
	if compact {
		p.flags |= compactFlag
	}
	if s.IsEmpty() {
		p.flags |= emptyFlag
	}

	switch s.mode {
	case ModeList:
		p.preInts = listPreInts
		p.lgArr = s.list.lgArr()
		p.count = s.list.count()
		off := listIntArrStart
		for c := range s.list.all() {
			binary.LittleEndian.PutUint32(buf[off:], c)
			off += 4
		}

	case ModeSet:
		p.preInts = setPreInts
		p.lgArr = s.set.lgArr()
		binary.LittleEndian.PutUint32(buf[hashSetCountInt:], uint32(s.set.count()))
		off := hashSetIntArrStart
		if compact {
			for c := range s.set.all() {
				binary.LittleEndian.PutUint32(buf[off:], c)
				off += 4
			}
		} else {
			for _, c := range s.set.slots {
				binary.LittleEndian.PutUint32(buf[off:], c)
				off += 4
			}
		}

	default:
		p.preInts = hllPreInts
		if s.outOfOrder {
			p.flags |= outOfOrderFlag
		}
		s.encodeHLL(buf, &p, compact)
	}

	p.encode(buf)
	return buf
}

func (s *Sketch) encodeHLL(buf []byte, p *preamble, compact bool) {
	h := s.hll
	p.lgArr = lgAuxArrInts[h.lgK]
	if h.aux != nil {
		p.lgArr = h.aux.lgSize
	}
	// curMin is always zero.
	p.count = 0

	hllRegisters{
		hipAccum:    h.hipAccum,
		kxq0:        h.kxq0,
		kxq1:        h.kxq1,
		numAtCurMin: h.numAtCurMin,
		auxCount:    h.auxCount(),
	}.encode(buf)

	copy(buf[hllByteArrStart:], h.data)
	if h.aux == nil {
		return
	}

	off := hllByteArrStart + len(h.data)
	if compact {
		for slot, v := range h.aux.all() {
			binary.LittleEndian.PutUint32(buf[off:], packCoupon(slot, v))
			off += 4
		}
		return
	}
	for _, c := range h.aux.cells {
		binary.LittleEndian.PutUint32(buf[off:], c)
		off += 4
	}
}
