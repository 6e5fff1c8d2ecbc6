package hyperloglog

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashToCoupon(t *testing.T) {
	t.Run("value range", func(t *testing.T) {
		for i := range 10000 {
			c := hashToCoupon([]byte(fmt.Sprintf("item-%d", i)))
			v := couponValue(c)
			require.GreaterOrEqual(t, v, uint8(1))
			require.LessOrEqual(t, v, uint8(valueMax))
			require.NotEqual(t, uint32(couponEmpty), c)
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		a := hashToCoupon([]byte("same"))
		b := hashToCoupon([]byte("same"))
		assert.Equal(t, a, b)
	})

	t.Run("slot is the top of the address", func(t *testing.T) {
		c := hashToCoupon([]byte("slot"))
		for lgK := MinLgK; lgK <= MaxLgK; lgK++ {
			slot := couponSlot(c, lgK)
			assert.Less(t, slot, uint32(1)<<lgK)
			assert.Equal(t, couponAddr(c)>>(addrBits-lgK), slot)
		}
	})

	// Run lengths follow a geometric distribution, so roughly half the
	// coupons carry value 1.
	t.Run("value distribution", func(t *testing.T) {
		ones := 0
		const n = 20000
		for i := range n {
			if couponValue(hashToCoupon([]byte(fmt.Sprintf("dist-%d", i)))) == 1 {
				ones++
			}
		}
		assert.InDelta(t, 0.5, float64(ones)/n, 0.03)
	})
}

func TestPackCoupon(t *testing.T) {
	c := packCoupon(0x2ABCDEF, 17)
	assert.Equal(t, uint32(0x2ABCDEF), couponAddr(c))
	assert.Equal(t, uint8(17), couponValue(c))

	// Only 26 address bits survive.
	c = packCoupon(0xFFFFFFFF, 1)
	assert.Equal(t, uint32(addrMask), couponAddr(c))
	assert.Equal(t, uint8(1), couponValue(c))
}

func TestCanonicalization(t *testing.T) {
	// distinct reports how many coupons a fresh sketch retains after fn.
	distinct := func(fn func(sk *Sketch)) float64 {
		sk, err := New(10)
		require.NoError(t, err)
		fn(sk)
		return sk.Estimate()
	}

	t.Run("integer widths sign extend", func(t *testing.T) {
		n := distinct(func(sk *Sketch) {
			sk.UpdateInt8(-1)
			sk.UpdateUint8(255)
			sk.UpdateInt16(-1)
			sk.UpdateUint16(0xFFFF)
			sk.UpdateInt32(-1)
			sk.UpdateUint32(0xFFFFFFFF)
			sk.UpdateInt64(-1)
			sk.UpdateUint64(^uint64(0))
			Update(sk, -1)
		})
		assert.Equal(t, 1.0, n)
	})

	t.Run("positive integers agree across widths", func(t *testing.T) {
		n := distinct(func(sk *Sketch) {
			sk.UpdateInt8(42)
			sk.UpdateUint16(42)
			sk.UpdateInt32(42)
			sk.UpdateUint64(42)
			Update(sk, uint(42))
		})
		assert.Equal(t, 1.0, n)
	})

	t.Run("float widths agree", func(t *testing.T) {
		n := distinct(func(sk *Sketch) {
			sk.UpdateFloat32(-2.5)
			sk.UpdateFloat64(-2.5)
		})
		assert.Equal(t, 1.0, n)
	})

	t.Run("signed zeros are one item", func(t *testing.T) {
		negZero := math.Copysign(0, -1)
		n := distinct(func(sk *Sketch) {
			sk.UpdateFloat64(0)
			sk.UpdateFloat64(negZero)
			sk.UpdateFloat32(float32(negZero))
		})
		assert.Equal(t, 1.0, n)
	})

	t.Run("all NaNs are one item", func(t *testing.T) {
		n := distinct(func(sk *Sketch) {
			sk.UpdateFloat64(nanWithPayload(1))
			sk.UpdateFloat64(nanWithPayload(0xBEEF))
			sk.UpdateFloat32(float32(nanWithPayload(7)))
		})
		assert.Equal(t, 1.0, n)
	})

	t.Run("integer and float images differ", func(t *testing.T) {
		n := distinct(func(sk *Sketch) {
			sk.UpdateInt64(1)
			sk.UpdateFloat64(1)
		})
		assert.Equal(t, 2.0, n)
	})

	t.Run("string and bytes agree", func(t *testing.T) {
		n := distinct(func(sk *Sketch) {
			sk.UpdateString("abc")
			sk.UpdateBytes([]byte("abc"))
		})
		assert.Equal(t, 1.0, n)
	})

	t.Run("empty inputs are ignored", func(t *testing.T) {
		sk, err := New(10)
		require.NoError(t, err)
		sk.UpdateString("")
		sk.UpdateBytes(nil)
		sk.UpdateBytes([]byte{})
		assert.True(t, sk.IsEmpty())
		assert.Equal(t, 0.0, sk.Estimate())
	})
}

func TestUpdateValue(t *testing.T) {
	sk, err := New(10)
	require.NoError(t, err)

	for _, v := range []any{
		int(7), int8(7), int16(7), int32(7), int64(7),
		uint(7), uint8(7), uint16(7), uint32(7), uint64(7),
	} {
		require.NoError(t, sk.UpdateValue(v), "%T", v)
	}
	assert.Equal(t, 1.0, sk.Estimate())

	require.NoError(t, sk.UpdateValue(float32(7)))
	require.NoError(t, sk.UpdateValue(float64(7)))
	require.NoError(t, sk.UpdateValue("7"))
	require.NoError(t, sk.UpdateValue([]byte("7")))
	assert.Equal(t, 3.0, sk.Estimate())

	err = sk.UpdateValue(struct{}{})
	require.ErrorIs(t, err, ErrUnsupportedType)
	assert.Equal(t, 3.0, sk.Estimate())
}

func nanWithPayload(payload uint64) float64 {
	return math.Float64frombits(0x7FF0000000000000 | payload)
}
