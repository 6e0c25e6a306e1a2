package num

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddSubRoundTrip(t *testing.T) {
	values := []string{"0", "1", "-3.25", "0.1", "123456789012345678901234567890", "1e-30", "999999999999999.999999"}
	for _, as := range values {
		for _, bs := range values {
			a, b := MustParse(as), MustParse(bs)
			assert.True(t, a.Add(b).Sub(b).Eq(a), "a=%s b=%s", as, bs)
		}
	}
}

func TestDivMulApproximatesOriginal(t *testing.T) {
	a := MustParse("1000000000000000000007")
	b := FromInt(3)
	q, err := a.Div(b)
	require.NoError(t, err)
	back := q.Mul(b)
	diff := back.Sub(a).Abs()
	assert.True(t, diff.Lt(MustParse("1e-30")), "diff=%s", diff)
}

func TestDivByZero(t *testing.T) {
	_, err := FromInt(10).Div(Zero)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDivisionByZero))

	var arith *ArithmeticError
	require.True(t, errors.As(err, &arith))
	assert.Equal(t, "div", arith.Op)
}

func TestLargeMagnitudeComparisons(t *testing.T) {
	big := MustParse("1000000000000000000")
	plusOne := big.Add(One)
	assert.True(t, plusOne.Gt(big))
	assert.False(t, plusOne.Eq(big))
	assert.Equal(t, "1000000000000000001", plusOne.String())

	price := MustParse("12345678901234567.89")
	balance := MustParse("12345678901234567.88")
	assert.True(t, balance.Lt(price), "gating comparison must see the last cent")
}

func TestFromFloatRejectsNonFinite(t *testing.T) {
	_, err := FromFloat(1.0 / zeroFloat())
	var arith *ArithmeticError
	require.True(t, errors.As(err, &arith))

	v, err := FromFloat(0.1)
	require.NoError(t, err)
	assert.Equal(t, "0.1", v.String())
}

func zeroFloat() float64 { return 0 }

func TestPow(t *testing.T) {
	got, err := MustParse("1.18").Pow(FromInt(2))
	require.NoError(t, err)
	assert.Equal(t, "1.3924", got.String())

	inv, err := FromInt(4).PowInt(-2)
	require.NoError(t, err)
	assert.True(t, inv.Eq(MustParse("0.0625")))

	root, err := FromInt(9).Pow(MustParse("0.5"))
	require.NoError(t, err)
	assert.InDelta(t, 3.0, root.Float64(), 1e-12)

	_, err = Zero.PowInt(-1)
	var arith *ArithmeticError
	require.True(t, errors.As(err, &arith))
	assert.Equal(t, "pow", arith.Op)
}

func TestCompareHelpers(t *testing.T) {
	a, b := FromInt(1), FromInt(2)
	assert.True(t, a.Lt(b))
	assert.True(t, a.Lte(b))
	assert.True(t, a.Lte(a))
	assert.True(t, b.Gt(a))
	assert.True(t, b.Gte(b))
	assert.Equal(t, -1, a.Cmp(b))
	assert.Equal(t, -1, a.Neg().Sign())
	assert.True(t, a.Neg().Abs().Eq(a))
	assert.True(t, Max(a, b, Zero).Eq(b))
	assert.True(t, Min(a, b, Zero).Eq(Zero))
	assert.True(t, Unit(8).Eq(MustParse("0.00000001")))
	assert.True(t, Unit(0).Eq(One))
}

func TestJSONRoundTrip(t *testing.T) {
	type wallet struct {
		Cash Decimal `json:"cash"`
	}
	in := wallet{Cash: MustParse("98765432109876543210.0123456789")}
	raw, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"cash":"98765432109876543210.0123456789"}`, string(raw))

	var out wallet
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.True(t, out.Cash.Eq(in.Cash))

	var fromNumber wallet
	require.NoError(t, json.Unmarshal([]byte(`{"cash":12.5}`), &fromNumber))
	assert.True(t, fromNumber.Cash.Eq(MustParse("12.5")))
}

func TestZeroValueIsZero(t *testing.T) {
	var d Decimal
	assert.True(t, d.IsZero())
	assert.Equal(t, "0", d.String())
	assert.True(t, d.Add(One).Eq(One))
}
