package hyperloglog

import (
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"
)

// canonicalNaN is the single bit pattern every NaN is folded into.
const canonicalNaN = 0x7FF8000000000000

// Integer is every built-in integer kind accepted by Update.
type Integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// signExtend reinterprets v as a signed integer of its own width and widens
// it to 64 bits, so uint8(255) and int8(-1) come out the same.
func signExtend[T Integer](v T) int64 {
	switch unsafe.Sizeof(v) {
	case 1:
		return int64(int8(v))
	case 2:
		return int64(int16(v))
	case 4:
		return int64(int32(v))
	default:
		return int64(v)
	}
}

// canonicalInt writes the little-endian image of a sign-extended integer.
func canonicalInt(buf *[8]byte, v int64) []byte {
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	return buf[:]
}

// canonicalFloat folds -0.0 into +0.0 and every NaN payload into one value
// before writing the little-endian bits of the double.
func canonicalFloat(buf *[8]byte, f float64) []byte {
	var bits uint64
	switch {
	case math.IsNaN(f):
		bits = canonicalNaN
	case f == 0:
		bits = 0
	default:
		bits = math.Float64bits(f)
	}
	binary.LittleEndian.PutUint64(buf[:], bits)
	return buf[:]
}

// Update presents an integer of any width as a potential unique item. Like
// every Update method it reports whether the sketch changed.
func Update[T Integer](s *Sketch, v T) bool {
	return s.UpdateInt64(signExtend(v))
}

// UpdateInt64 presents a signed 64-bit integer as a potential unique item.
func (s *Sketch) UpdateInt64(v int64) bool {
	return s.updateBytes(canonicalInt(&s.scratch, v))
}

// UpdateUint64 presents an unsigned 64-bit integer as a potential unique item.
func (s *Sketch) UpdateUint64(v uint64) bool {
	return s.UpdateInt64(int64(v))
}

// UpdateInt32 sign-extends v before hashing.
func (s *Sketch) UpdateInt32(v int32) bool { return s.UpdateInt64(int64(v)) }

// UpdateUint32 reinterprets v as int32 before sign extension.
func (s *Sketch) UpdateUint32(v uint32) bool { return s.UpdateInt64(signExtend(v)) }

// UpdateInt16 sign-extends v before hashing.
func (s *Sketch) UpdateInt16(v int16) bool { return s.UpdateInt64(int64(v)) }

// UpdateUint16 reinterprets v as int16 before sign extension.
func (s *Sketch) UpdateUint16(v uint16) bool { return s.UpdateInt64(signExtend(v)) }

// UpdateInt8 sign-extends v before hashing.
func (s *Sketch) UpdateInt8(v int8) bool { return s.UpdateInt64(int64(v)) }

// UpdateUint8 reinterprets v as int8 before sign extension.
func (s *Sketch) UpdateUint8(v uint8) bool { return s.UpdateInt64(signExtend(v)) }

// UpdateFloat64 presents a double as a potential unique item. Signed zeros
// count as one item, and so do all NaNs.
func (s *Sketch) UpdateFloat64(f float64) bool {
	return s.updateBytes(canonicalFloat(&s.scratch, f))
}

// UpdateFloat32 widens f to a double first, so float32(-2) and -2.0 match.
func (s *Sketch) UpdateFloat32(f float32) bool {
	return s.UpdateFloat64(float64(f))
}

// UpdateBytes presents raw bytes as a potential unique item. A nil or empty
// slice leaves the sketch untouched.
func (s *Sketch) UpdateBytes(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	return s.updateBytes(b)
}

// UpdateString presents the bytes of str. The empty string is ignored.
func (s *Sketch) UpdateString(str string) bool {
	if len(str) == 0 {
		return false
	}
	return s.updateBytes(unsafe.Slice(unsafe.StringData(str), len(str)))
}

// UpdateValue dispatches on the dynamic type of v. It is meant for callers
// that parse items at runtime; typed callers should use the methods above.
func (s *Sketch) UpdateValue(v any) error {
	switch x := v.(type) {
	case int:
		Update(s, x)
	case int8:
		s.UpdateInt8(x)
	case int16:
		s.UpdateInt16(x)
	case int32:
		s.UpdateInt32(x)
	case int64:
		s.UpdateInt64(x)
	case uint:
		Update(s, x)
	case uint8:
		s.UpdateUint8(x)
	case uint16:
		s.UpdateUint16(x)
	case uint32:
		s.UpdateUint32(x)
	case uint64:
		s.UpdateUint64(x)
	case float32:
		s.UpdateFloat32(x)
	case float64:
		s.UpdateFloat64(x)
	case string:
		s.UpdateString(x)
	case []byte:
		s.UpdateBytes(x)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
	return nil
}
