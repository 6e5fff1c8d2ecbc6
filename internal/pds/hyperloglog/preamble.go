package hyperloglog

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Sketch images start with an 8-byte preamble shared by every mode. The
// HLL mode extends it to 40 bytes with the estimator registers.
//
//	+------+--------+---------------------------------------------------+
//	| Byte | Field  | Notes                                             |
//	+------+--------+---------------------------------------------------+
//	| 0    | PreInt | preamble length in 32-bit words: 2, 3 or 10       |
//	| 1    | SerVer | serialization version, 1                          |
//	| 2    | Family | 7                                                 |
//	| 3    | LgK    | lgConfigK                                         |
//	| 4    | LgArr  | list/set table size, or aux map size for HLL_4    |
//	| 5    | Flags  | see flag constants                                |
//	| 6    | Count  | list coupon count; current minimum (0) for HLL    |
//	| 7    | Mode   | mode in bits 0-1, target type in bits 2-3         |
//	+------+--------+---------------------------------------------------+
//
// LIST: coupons follow at byte 8.
// SET: coupon count (uint32) at byte 8, coupons at byte 12.
// HLL:
//
//	8   hipAccum    float64
//	16  kxq0        float64
//	24  kxq1        float64
//	32  numAtCurMin uint32
//	36  auxCount    uint32
//	40  packed slots, then the HLL_4 aux cells
//
// All multi-byte fields are little-endian.
const (
	preIntsByte = 0
	serVerByte  = 1
	familyByte  = 2
	lgKByte     = 3
	lgArrByte   = 4
	flagsByte   = 5
	countByte   = 6
	curMinByte  = 6
	modeByte    = 7

	listIntArrStart    = 8
	hashSetCountInt    = 8
	hashSetIntArrStart = 12
	hipAccumDouble     = 8
	kxq0Double         = 16
	kxq1Double         = 24
	curMinCountInt     = 32
	auxCountInt        = 36
	hllByteArrStart    = 40

	listPreInts = 2
	setPreInts  = 3
	hllPreInts  = 10

	serVer   = 1
	familyID = 7

	bigEndianFlag  = 1 << 0
	readOnlyFlag   = 1 << 1
	emptyFlag      = 1 << 2
	compactFlag    = 1 << 3
	outOfOrderFlag = 1 << 4
	rebuildKxQFlag = 1 << 5
)

// preamble is the decoded first eight bytes of an image.
type preamble struct {
	preInts byte
	lgK     int
	lgArr   int
	flags   byte
	count   int
	mode    Mode
	tgt     TargetType
}

func (p preamble) encode(buf []byte) {
	buf[preIntsByte] = p.preInts
	buf[serVerByte] = serVer
	buf[familyByte] = familyID
	buf[lgKByte] = byte(p.lgK)
	buf[lgArrByte] = byte(p.lgArr)
	buf[flagsByte] = p.flags
	buf[countByte] = byte(p.count)
	buf[modeByte] = byte(p.mode) | byte(p.tgt)<<2
}

func decodePreamble(buf []byte) (preamble, error) {
	if len(buf) < listIntArrStart {
		return preamble{}, fmt.Errorf("%w: %d bytes is shorter than the preamble", ErrCorrupt, len(buf))
	}
	if buf[serVerByte] != serVer {
		return preamble{}, fmt.Errorf("%w: unknown serialization version %d", ErrCorrupt, buf[serVerByte])
	}
	if buf[familyByte] != familyID {
		return preamble{}, fmt.Errorf("%w: family %d is not HLL", ErrCorrupt, buf[familyByte])
	}

	p := preamble{
		preInts: buf[preIntsByte],
		lgK:     int(buf[lgKByte]),
		lgArr:   int(buf[lgArrByte]),
		flags:   buf[flagsByte],
		count:   int(buf[countByte]),
		mode:    Mode(buf[modeByte] & 0x3),
		tgt:     TargetType(buf[modeByte] >> 2 & 0x3),
	}

	if err := checkLgK(p.lgK); err != nil {
		return preamble{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if !p.tgt.valid() {
		return preamble{}, fmt.Errorf("%w: target type %d", ErrCorrupt, uint8(p.tgt))
	}
	if p.flags&bigEndianFlag != 0 {
		return preamble{}, fmt.Errorf("%w: big-endian images are not supported", ErrCorrupt)
	}

	var want byte
	switch p.mode {
	case ModeList:
		want = listPreInts
	case ModeSet:
		want = setPreInts
	case ModeHLL:
		want = hllPreInts
	default:
		return preamble{}, fmt.Errorf("%w: mode %d", ErrCorrupt, uint8(p.mode))
	}
	if p.preInts != want {
		return preamble{}, fmt.Errorf("%w: %s image with %d preamble ints", ErrCorrupt, p.mode, p.preInts)
	}
	return p, nil
}

func (p preamble) compact() bool {
	return p.flags&compactFlag != 0
}

// hllRegisters is the HLL preamble extension.
type hllRegisters struct {
	hipAccum    float64
	kxq0        float64
	kxq1        float64
	numAtCurMin int
	auxCount    int
}

func (r hllRegisters) encode(buf []byte) {
	binary.LittleEndian.PutUint64(buf[hipAccumDouble:], math.Float64bits(r.hipAccum))
	binary.LittleEndian.PutUint64(buf[kxq0Double:], math.Float64bits(r.kxq0))
	binary.LittleEndian.PutUint64(buf[kxq1Double:], math.Float64bits(r.kxq1))
	binary.LittleEndian.PutUint32(buf[curMinCountInt:], uint32(r.numAtCurMin))
	binary.LittleEndian.PutUint32(buf[auxCountInt:], uint32(r.auxCount))
}

func decodeHLLRegisters(buf []byte) hllRegisters {
	return hllRegisters{
		hipAccum:    math.Float64frombits(binary.LittleEndian.Uint64(buf[hipAccumDouble:])),
		kxq0:        math.Float64frombits(binary.LittleEndian.Uint64(buf[kxq0Double:])),
		kxq1:        math.Float64frombits(binary.LittleEndian.Uint64(buf[kxq1Double:])),
		numAtCurMin: int(binary.LittleEndian.Uint32(buf[curMinCountInt:])),
		auxCount:    int(binary.LittleEndian.Uint32(buf[auxCountInt:])),
	}
}
