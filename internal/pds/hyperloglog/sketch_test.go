package hyperloglog

import (
	"bytes"
	"fmt"
	"iter"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allTargetTypes = []TargetType{HLL4, HLL6, HLL8}

func newTestSketch(t *testing.T, lgK int, tgt TargetType) *Sketch {
	t.Helper()
	sk, err := NewWithType(lgK, tgt)
	require.NoError(t, err)
	return sk
}

// feed updates sk with the integers [from, to).
func feed(sk *Sketch, from, to int) {
	for i := from; i < to; i++ {
		sk.UpdateInt64(int64(i))
	}
}

func TestNewLimits(t *testing.T) {
	for _, lgK := range []int{MinLgK, DefaultLgK, MaxLgK} {
		sk, err := New(lgK)
		require.NoError(t, err)
		assert.Equal(t, lgK, sk.LgK())
		assert.Equal(t, HLL8, sk.TargetType())
		assert.Equal(t, ModeList, sk.Mode())
		assert.True(t, sk.IsEmpty())
		assert.False(t, sk.IsCompact())
	}

	for _, lgK := range []int{-1, 0, MinLgK - 1, MaxLgK + 1} {
		_, err := New(lgK)
		require.ErrorIs(t, err, ErrInvalidLgK, "lgK %d", lgK)
	}

	_, err := NewWithType(10, TargetType(3))
	require.ErrorIs(t, err, ErrInvalidTargetType)
}

func TestParseTargetType(t *testing.T) {
	for in, want := range map[string]TargetType{
		"HLL_4": HLL4, "hll6": HLL6, " 8 ": HLL8, "Hll_8": HLL8,
	} {
		got, err := ParseTargetType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseTargetType("HLL_5")
	require.ErrorIs(t, err, ErrInvalidTargetType)
}

func TestCheckNumStdDev(t *testing.T) {
	for _, n := range []int{1, 2, 3} {
		require.NoError(t, CheckNumStdDev(n))
	}
	for _, n := range []int{0, -1, 4} {
		require.ErrorIs(t, CheckNumStdDev(n), ErrInvalidNumStdDev)
	}

	sk, err := New(8)
	require.NoError(t, err)
	_, err = sk.LowerBound(0)
	require.ErrorIs(t, err, ErrInvalidNumStdDev)
	_, err = sk.UpperBound(0)
	require.ErrorIs(t, err, ErrInvalidNumStdDev)
	_, err = sk.RelativeError(0)
	require.ErrorIs(t, err, ErrInvalidNumStdDev)
}

// TestModeTransitions walks one sketch through every stage at lgK 8 and
// checks the exact image sizes at each step.
func TestModeTransitions(t *testing.T) {
	sk := newTestSketch(t, 8, HLL8)

	feed(sk, 0, 7)
	assert.Equal(t, ModeList, sk.Mode())
	assert.Equal(t, 36, sk.CompactSerializationBytes())
	assert.Equal(t, 40, sk.UpdatableSerializationBytes())
	assert.Equal(t, 7.0, sk.Estimate())

	feed(sk, 7, 24)
	assert.Equal(t, ModeSet, sk.Mode())
	assert.Equal(t, 108, sk.CompactSerializationBytes())
	assert.Equal(t, 140, sk.UpdatableSerializationBytes())
	assert.Equal(t, 24.0, sk.Estimate())

	feed(sk, 24, 25)
	assert.Equal(t, ModeHLL, sk.Mode())
	assert.Equal(t, 40+256, sk.UpdatableSerializationBytes())
	assert.Equal(t, 40+256, sk.CompactSerializationBytes())
	assert.InDelta(t, 25.0, sk.Estimate(), 0.01)

	max8, err := MaxUpdatableSerializationBytes(8, HLL8)
	require.NoError(t, err)
	assert.Equal(t, sk.UpdatableSerializationBytes(), max8)
}

func TestSmallLgKSkipsSet(t *testing.T) {
	sk := newTestSketch(t, 4, HLL6)
	feed(sk, 0, 8)
	assert.Equal(t, ModeList, sk.Mode())
	feed(sk, 8, 9)
	assert.Equal(t, ModeHLL, sk.Mode())
	assert.Equal(t, 9.0, sk.Estimate())
}

func TestDuplicatesDoNotCount(t *testing.T) {
	sk := newTestSketch(t, 10, HLL8)
	for range 5 {
		feed(sk, 0, 50)
	}
	assert.Equal(t, ModeSet, sk.Mode())
	assert.Equal(t, 50.0, sk.Estimate())
}

func TestUpdateReportsChange(t *testing.T) {
	sk := newTestSketch(t, 8, HLL6)
	for i := range 5 {
		require.True(t, sk.UpdateInt64(int64(i)))
	}
	assert.False(t, sk.UpdateInt64(2), "duplicate in LIST")
	assert.False(t, sk.UpdateString(""))
	assert.False(t, sk.UpdateBytes(nil))

	// Both promotions happen inside these updates.
	for i := 5; i < 25; i++ {
		require.True(t, sk.UpdateInt64(int64(i)), "item %d", i)
	}
	require.Equal(t, ModeHLL, sk.Mode())
	assert.False(t, sk.UpdateInt64(3), "duplicate in HLL")
}

func TestUpdateReportsChangeOutOfOrder(t *testing.T) {
	sk := newTestSketch(t, 10, HLL8)
	feed(sk, 0, 600)
	require.Equal(t, ModeHLL, sk.Mode())
	sk.outOfOrder = true

	// In the linear counting range the composite estimate depends on the
	// zero count alone, so raising a nonzero slot leaves it where it was.
	var unchanged int
	for i := 600; i < 1200; i++ {
		before, zeros := sk.Estimate(), sk.hll.numAtCurMin
		if sk.UpdateInt64(int64(i)) && sk.hll.numAtCurMin == zeros {
			require.Equal(t, before, sk.Estimate())
			unchanged++
		}
	}
	assert.Positive(t, unchanged)
}

func TestEstimateAccuracy(t *testing.T) {
	const lgK = 12
	const n = 100000

	// Every encoding sees the same slot values and the same HIP increments,
	// so the estimates agree exactly.
	var estimates []float64
	for _, tgt := range allTargetTypes {
		sk := newTestSketch(t, lgK, tgt)
		for i := range n {
			sk.UpdateString(fmt.Sprintf("user-%d", i))
		}
		require.Equal(t, ModeHLL, sk.Mode())

		rse, err := sk.RelativeError(1)
		require.NoError(t, err)
		assert.InDelta(t, hipRSEFactor/64, rse, 1e-12)
		assert.InEpsilon(t, float64(n), sk.Estimate(), 5*rse, tgt.String())
		assert.InEpsilon(t, float64(n), sk.CompositeEstimate(), 0.08, tgt.String())

		lb, err := sk.LowerBound(2)
		require.NoError(t, err)
		ub, err := sk.UpperBound(2)
		require.NoError(t, err)
		assert.Less(t, lb, sk.Estimate())
		assert.Greater(t, ub, sk.Estimate())

		estimates = append(estimates, sk.Estimate())
	}
	assert.Equal(t, estimates[0], estimates[1])
	assert.Equal(t, estimates[0], estimates[2])
}

func TestEstimateIndependentOfType(t *testing.T) {
	sketches := make([]*Sketch, len(allTargetTypes))
	for i, tgt := range allTargetTypes {
		sketches[i] = newTestSketch(t, 8, tgt)
	}
	for v := range 2000 {
		for _, sk := range sketches {
			sk.UpdateInt64(int64(v))
		}
		want := sketches[0].Estimate()
		for _, sk := range sketches[1:] {
			require.Equal(t, want, sk.Estimate(), "after %d updates (%s)", v+1, sk.TargetType())
			require.Equal(t, sketches[0].Mode(), sk.Mode())
		}
	}
	assert.Equal(t, ModeHLL, sketches[0].Mode())
}

func TestSparseBounds(t *testing.T) {
	sk := newTestSketch(t, 12, HLL8)
	feed(sk, 0, 100)
	require.Equal(t, ModeSet, sk.Mode())

	for n := 1; n <= 3; n++ {
		lb, err := sk.LowerBound(n)
		require.NoError(t, err)
		ub, err := sk.UpperBound(n)
		require.NoError(t, err)
		assert.Equal(t, 100.0, lb, "lower bound never under the coupon count")
		assert.GreaterOrEqual(t, ub, 100.0)
		assert.Less(t, ub, 100.1)
	}
}

func TestCompositeEstimateSmallRange(t *testing.T) {
	h := newHLLArray(10, HLL8)
	assert.Equal(t, 0.0, h.compositeEstimate(), "linear counting on an empty array")

	for i := range 200 {
		h.couponUpdate(testCoupon(i))
	}
	k := 1024.0
	want := k * math.Log(k/float64(h.numAtCurMin))
	assert.InDelta(t, want, h.compositeEstimate(), 1e-9)
}

func TestCoefficientTable(t *testing.T) {
	for lgK := MinLgK; lgK <= MaxLgK; lgK++ {
		c := coefficientTable[lgK]
		k := float64(uint64(1) << lgK)
		assert.Greater(t, c.alpha, 0.6)
		assert.Less(t, c.alpha, 0.73)
		assert.Equal(t, 2.5*k, c.crossover)
		assert.Less(t, c.hipRSE, c.compRSE)
	}
	assert.Equal(t, 0.673, coefficientTable[4].alpha)
}

// TestCopies checks that a copy is deep: updates to either side do not show
// up in the other.
func TestCopies(t *testing.T) {
	cases := []struct {
		lgK int
		tgt TargetType
	}{
		{14, HLL4},
		{8, HLL6},
		{8, HLL8},
	}
	for _, tc := range cases {
		t.Run(tc.tgt.String(), func(t *testing.T) {
			sk := newTestSketch(t, tc.lgK, tc.tgt)

			// Step through each mode, copying at every one.
			for _, upto := range []int{5, 20, 1 << tc.lgK} {
				feed(sk, 0, upto)
				dup := sk.Copy()
				assert.Equal(t, sk.Mode(), dup.Mode())
				assert.Equal(t, sk.Estimate(), dup.Estimate())
				assert.Equal(t, sk.ToCompactSlice(), dup.ToCompactSlice())

				feed(dup, upto, 2*upto+100)
				assert.NotEqual(t, sk.Estimate(), dup.Estimate())

				before := dup.Estimate()
				feed(sk, 10*upto, 11*upto+100)
				assert.Equal(t, before, dup.Estimate())

				sk.Reset()
			}
		})
	}
}

func TestCopyAs(t *testing.T) {
	for _, src := range allTargetTypes {
		for _, dst := range allTargetTypes {
			t.Run(src.String()+"->"+dst.String(), func(t *testing.T) {
				sk := newTestSketch(t, 10, src)
				for _, upto := range []int{7, 100, 5000} {
					feed(sk, 0, upto)
					conv, err := sk.CopyAs(dst)
					require.NoError(t, err)
					assert.Equal(t, dst, conv.TargetType())
					assert.Equal(t, sk.Mode(), conv.Mode())
					assert.Equal(t, sk.Estimate(), conv.Estimate())
					assert.Equal(t, sk.CompositeEstimate(), conv.CompositeEstimate())
				}

				// Converting back gives the original image.
				conv, err := sk.CopyAs(dst)
				require.NoError(t, err)
				back, err := conv.CopyAs(src)
				require.NoError(t, err)
				if src != HLL4 {
					assert.Equal(t, sk.ToCompactSlice(), back.ToCompactSlice())
				}
				assertSameSlots(t, sk, back)
			})
		}
	}

	sk := newTestSketch(t, 10, HLL8)
	_, err := sk.CopyAs(TargetType(9))
	require.ErrorIs(t, err, ErrInvalidTargetType)
}

func TestReset(t *testing.T) {
	sk := newTestSketch(t, 10, HLL4)
	feed(sk, 0, 5000)
	require.Equal(t, ModeHLL, sk.Mode())

	sk.Reset()
	assert.True(t, sk.IsEmpty())
	assert.Equal(t, ModeList, sk.Mode())
	assert.Equal(t, HLL4, sk.TargetType())
	assert.Equal(t, 0.0, sk.Estimate())
}

func TestDump(t *testing.T) {
	all := DumpOptions{
		Summary:    true,
		ListDetail: true,
		SetDetail:  true,
		HLLDetail:  true,
		AuxDetail:  true,
	}

	for _, tgt := range allTargetTypes {
		sk := newTestSketch(t, 8, tgt)
		for _, tc := range []struct {
			upto int
			mode string
		}{
			{3, "LIST"},
			{20, "SET"},
			{3000, "HLL"},
		} {
			feed(sk, 0, tc.upto)
			var buf bytes.Buffer
			require.NoError(t, sk.Dump(&buf, all))
			out := buf.String()
			assert.Contains(t, out, "### HLL sketch summary\n")
			assert.Contains(t, out, tc.mode)
			assert.Contains(t, out, tgt.String())
			assert.Contains(t, out, "### "+tc.mode+" detail\n")
		}
	}

	sk := newTestSketch(t, 8, HLL8)
	var buf bytes.Buffer
	require.NoError(t, sk.Dump(&buf, DumpOptions{}))
	assert.Empty(t, buf.String())

	require.NoError(t, sk.Dump(&buf, DefaultDumpOptions))
	assert.False(t, strings.Contains(buf.String(), "detail"))
}

func TestSummarize(t *testing.T) {
	sk := newTestSketch(t, 8, HLL4)
	feed(sk, 0, 1000)
	sum := sk.Summarize()
	assert.Equal(t, "HLL", sum.Mode)
	assert.Equal(t, "HLL_4", sum.TargetType)
	assert.Equal(t, sk.Estimate(), sum.Estimate)
	assert.Equal(t, sk.hll.numAtCurMin, sum.NumAtCurMin)
	assert.Equal(t, sk.UpdatableSerializationBytes(), sum.UpdatableBytes)
}

// assertSameSlots compares the logical content of two sketches.
func assertSameSlots(t *testing.T, want, got *Sketch) {
	t.Helper()
	require.Equal(t, want.Mode(), got.Mode())
	switch want.Mode() {
	case ModeList:
		assert.Equal(t, want.list.coupons, got.list.coupons)
	case ModeSet:
		assert.ElementsMatch(t, collectSet(want.set), collectSet(got.set))
	default:
		for slot, v := range want.hll.slots() {
			require.Equal(t, v, got.hll.get(slot), "slot %d", slot)
		}
		assert.Equal(t, want.hll.numAtCurMin, got.hll.numAtCurMin)
		assert.Equal(t, want.hll.hipAccum, got.hll.hipAccum)
	}
}

func collectSet(s *couponSet) []uint32 {
	var out []uint32
	for c := range s.all() {
		out = append(out, c)
	}
	return out
}

func TestSlotsMatchPromotion(t *testing.T) {
	for _, n := range []int{5, 50} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			sk := newTestSketch(t, 10, HLL4)
			feed(sk, 0, n)
			require.NotEqual(t, ModeHLL, sk.Mode())

			sparse := make(map[uint32]uint8)
			total := 0
			for slot, v := range sk.Slots() {
				total++
				if v != 0 {
					sparse[slot] = v
				}
			}
			assert.Equal(t, 1<<10, total)
			assert.NotEmpty(t, sparse)

			// Promote a copy by hand, re-offering a coupon it already holds.
			dup := sk.Copy()
			var coupons iter.Seq[uint32]
			var count int
			if dup.mode == ModeSet {
				coupons, count = dup.set.all(), dup.set.count()
			} else {
				coupons, count = dup.list.all(), dup.list.count()
			}
			var first uint32
			for c := range coupons {
				first = c
				break
			}
			dup.promoteToHLL(coupons, count, first)

			dense := make(map[uint32]uint8)
			for slot, v := range dup.Slots() {
				if v != 0 {
					dense[slot] = v
				}
			}
			assert.Equal(t, sparse, dense)
		})
	}
}
