package hyperloglog

import "math"

const (
	// hipRSEFactor is sqrt(ln 2), the HIP estimator's RSE times sqrt(k).
	hipRSEFactor = 0.8325546111576977

	// compositeRSEFactor is sqrt(3 ln 2 - 1), the same for the classic estimator.
	compositeRSEFactor = 1.0389617262829942

	// couponRSE is the relative error of the sparse stages, which comes
	// only from coupon collisions in the 26-bit address space.
	couponRSE = 0.409 / (1 << 13)

	// linearCountingCrossover is the raw estimate, in multiples of k, at or
	// below which linear counting replaces the harmonic mean.
	linearCountingCrossover = 2.5
)

// estimatorCoefficients are the per-lgConfigK constants the dense estimators
// read. The table is built once at package init and never written again.
type estimatorCoefficients struct {
	alpha     float64 // harmonic-mean bias correction
	crossover float64 // linear counting threshold, absolute
	hipRSE    float64
	compRSE   float64
}

var coefficientTable = buildCoefficientTable()

func buildCoefficientTable() [MaxLgK + 1]estimatorCoefficients {
	var table [MaxLgK + 1]estimatorCoefficients
	for lgK := MinLgK; lgK <= MaxLgK; lgK++ {
		k := float64(uint64(1) << lgK)

		var alpha float64
		switch lgK {
		case 4:
			alpha = 0.673
		case 5:
			alpha = 0.697
		case 6:
			alpha = 0.709
		default:
			alpha = 0.7213 / (1 + 1.079/k)
		}

		table[lgK] = estimatorCoefficients{
			alpha:     alpha,
			crossover: linearCountingCrossover * k,
			hipRSE:    hipRSEFactor / math.Sqrt(k),
			compRSE:   compositeRSEFactor / math.Sqrt(k),
		}
	}
	return table
}

// hipEstimate is the running HIP accumulator.
func (h *hllArray) hipEstimate() float64 {
	return h.hipAccum
}

// rawEstimate is the classic harmonic-mean estimate, alpha * k^2 / sum(2^-v).
func (h *hllArray) rawEstimate() float64 {
	k := float64(uint64(1) << h.lgK)
	return coefficientTable[h.lgK].alpha * k * k / (h.kxq0 + h.kxq1)
}

// compositeEstimate corrects the raw estimate in the small range, where the
// harmonic mean is biased upward, by switching to linear counting on the
// number of empty slots.
func (h *hllArray) compositeEstimate() float64 {
	raw := h.rawEstimate()
	if raw <= coefficientTable[h.lgK].crossover && h.numAtCurMin > 0 {
		k := float64(uint64(1) << h.lgK)
		return k * math.Log(k/float64(h.numAtCurMin))
	}
	return raw
}

// Estimate returns the cardinality estimate. While the sketch is sparse it
// is the exact number of distinct coupons retained.
func (s *Sketch) Estimate() float64 {
	switch s.mode {
	case ModeList:
		return float64(s.list.count())
	case ModeSet:
		return float64(s.set.count())
	default:
		if s.outOfOrder {
			return s.hll.compositeEstimate()
		}
		return s.hll.hipEstimate()
	}
}

// CompositeEstimate ignores the HIP accumulator and estimates from the slot
// values alone. It is less accurate than Estimate but depends only on the
// current slots, not on the order updates arrived in.
func (s *Sketch) CompositeEstimate() float64 {
	if s.mode != ModeHLL {
		return s.Estimate()
	}
	return s.hll.compositeEstimate()
}

// RelativeError is the relative standard error of Estimate in HLL mode,
// scaled by numStdDev.
func (s *Sketch) RelativeError(numStdDev int) (float64, error) {
	if err := CheckNumStdDev(numStdDev); err != nil {
		return 0, err
	}
	return float64(numStdDev) * s.rse(), nil
}

func (s *Sketch) rse() float64 {
	switch {
	case s.mode != ModeHLL:
		return couponRSE
	case s.outOfOrder:
		return coefficientTable[s.lgK].compRSE
	default:
		return coefficientTable[s.lgK].hipRSE
	}
}

// LowerBound is the approximate lower edge of the numStdDev confidence
// interval. It never falls below the number of distinct observations the
// sketch can prove.
func (s *Sketch) LowerBound(numStdDev int) (float64, error) {
	if err := CheckNumStdDev(numStdDev); err != nil {
		return 0, err
	}
	est := s.Estimate()
	lb := est / (1 + float64(numStdDev)*s.rse())

	var floor float64
	switch s.mode {
	case ModeList:
		floor = float64(s.list.count())
	case ModeSet:
		floor = float64(s.set.count())
	default:
		floor = float64(s.hll.numNonZero())
	}
	return max(lb, floor), nil
}

// UpperBound is the approximate upper edge of the numStdDev confidence interval.
func (s *Sketch) UpperBound(numStdDev int) (float64, error) {
	if err := CheckNumStdDev(numStdDev); err != nil {
		return 0, err
	}
	est := s.Estimate()
	ub := est / (1 - float64(numStdDev)*s.rse())
	return max(ub, est), nil
}
