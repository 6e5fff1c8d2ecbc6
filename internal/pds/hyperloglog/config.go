package hyperloglog

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// MinLgK and MaxLgK bound lgConfigK, the log2 of the number of dense slots.
	MinLgK = 4
	MaxLgK = 21

	// DefaultLgK gives 4096 slots, roughly 1.3% relative standard error.
	DefaultLgK = 12

	// lgInitListSize is the log2 of the list capacity. The list never grows,
	// it is promoted when a ninth distinct coupon arrives.
	lgInitListSize = 3

	// lgInitSetSize is the log2 of the initial coupon set capacity.
	lgInitSetSize = 5

	// The set grows (or promotes) when count*resizeDenom > capacity*resizeNumer.
	resizeNumer = 3
	resizeDenom = 4

	// minLgKForSet is the smallest lgConfigK where a set stage makes sense.
	// Below it the list promotes straight to the dense array.
	minLgKForSet = 8
)

// TargetType selects the dense encoding a sketch uses once it reaches HLL mode.
type TargetType uint8

const (
	// HLL4 packs slots in 4-bit nibbles with an auxiliary map for values above 14.
	HLL4 TargetType = 0
	// HLL6 packs slots in 6 bits.
	HLL6 TargetType = 1
	// HLL8 stores one byte per slot.
	HLL8 TargetType = 2

	// DefaultTargetType is used by New.
	DefaultTargetType = HLL8
)

func (t TargetType) String() string {
	switch t {
	case HLL4:
		return "HLL_4"
	case HLL6:
		return "HLL_6"
	case HLL8:
		return "HLL_8"
	default:
		return fmt.Sprintf("TargetType(%d)", uint8(t))
	}
}

func (t TargetType) valid() bool {
	return t <= HLL8
}

// ParseTargetType accepts "HLL_4", "hll4", "4" and the like.
func ParseTargetType(s string) (TargetType, error) {
	norm := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "_", ""))
	switch norm {
	case "HLL4", "4":
		return HLL4, nil
	case "HLL6", "6":
		return HLL6, nil
	case "HLL8", "8":
		return HLL8, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidTargetType, s)
}

// Mode is the representation currently held by a sketch.
type Mode uint8

const (
	ModeList Mode = 0
	ModeSet  Mode = 1
	ModeHLL  Mode = 2
)

func (m Mode) String() string {
	switch m {
	case ModeList:
		return "LIST"
	case ModeSet:
		return "SET"
	case ModeHLL:
		return "HLL"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

var (
	// ErrInvalidLgK is returned when lgConfigK is outside [MinLgK, MaxLgK].
	ErrInvalidLgK = errors.New("hyperloglog: lgConfigK out of range")

	// ErrInvalidTargetType is returned for an unknown dense encoding.
	ErrInvalidTargetType = errors.New("hyperloglog: invalid target type")

	// ErrInvalidNumStdDev is returned when a confidence width is not 1, 2 or 3.
	ErrInvalidNumStdDev = errors.New("hyperloglog: numStdDev must be 1, 2 or 3")

	// ErrCorrupt wraps every structural problem found while deserializing.
	ErrCorrupt = errors.New("hyperloglog: corrupt sketch image")

	// ErrUnsupportedType is returned by UpdateValue for values it cannot canonicalize.
	ErrUnsupportedType = errors.New("hyperloglog: unsupported item type")
)

func checkLgK(lgK int) error {
	if lgK < MinLgK || lgK > MaxLgK {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidLgK, lgK, MinLgK, MaxLgK)
	}
	return nil
}

// CheckNumStdDev validates a confidence interval width.
func CheckNumStdDev(numStdDev int) error {
	if numStdDev < 1 || numStdDev > 3 {
		return fmt.Errorf("%w: got %d", ErrInvalidNumStdDev, numStdDev)
	}
	return nil
}
