// Package num holds the decimal type used for every monetary and growth
// quantity in the simulation. Values keep all significant digits; only
// division and fractional powers round, at DivisionPlaces.
package num

import (
	"math"

	"github.com/shopspring/decimal"
)

// DivisionPlaces is the number of fractional digits kept by Div and by Pow
// with a non-integer exponent.
const DivisionPlaces = 40

type Decimal struct {
	d decimal.Decimal
}

var (
	Zero = Decimal{}
	One  = FromInt(1)
)

func FromInt(v int64) Decimal {
	return Decimal{d: decimal.NewFromInt(v)}
}

// FromFloat converts v using its shortest exact representation.
func FromFloat(v float64) (Decimal, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Zero, &ArithmeticError{Op: "from_float", Reason: "non-finite value"}
	}
	return Decimal{d: decimal.NewFromFloat(v)}, nil
}

// Unit is the smallest positive step with places fractional digits.
func Unit(places int32) Decimal {
	return Decimal{d: decimal.New(1, -places)}
}

func Parse(s string) (Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, err
	}
	return Decimal{d: d}, nil
}

func MustParse(s string) Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (a Decimal) Add(b Decimal) Decimal { return Decimal{d: a.d.Add(b.d)} }
func (a Decimal) Sub(b Decimal) Decimal { return Decimal{d: a.d.Sub(b.d)} }
func (a Decimal) Mul(b Decimal) Decimal { return Decimal{d: a.d.Mul(b.d)} }
func (a Decimal) Neg() Decimal          { return Decimal{d: a.d.Neg()} }
func (a Decimal) Abs() Decimal          { return Decimal{d: a.d.Abs()} }

func (a Decimal) Div(b Decimal) (Decimal, error) {
	if b.d.IsZero() {
		return Zero, ErrDivisionByZero
	}
	return Decimal{d: a.d.DivRound(b.d, DivisionPlaces)}, nil
}

// Pow raises a to exp. Integer exponents are exact.
func (a Decimal) Pow(exp Decimal) (Decimal, error) {
	if exp.d.IsInteger() && exp.d.Cmp(decimal.NewFromInt(math.MaxInt32)) <= 0 && exp.d.Cmp(decimal.NewFromInt(math.MinInt32)) >= 0 {
		return a.PowInt(int32(exp.d.IntPart()))
	}
	out, err := a.d.PowWithPrecision(exp.d, DivisionPlaces)
	if err != nil {
		return Zero, &ArithmeticError{Op: "pow", Reason: err.Error()}
	}
	return Decimal{d: out}, nil
}

func (a Decimal) PowInt(exp int32) (Decimal, error) {
	if a.d.IsZero() && exp < 0 {
		return Zero, &ArithmeticError{Op: "pow", Reason: "zero raised to a negative power"}
	}
	if exp >= 0 {
		out, err := a.d.PowInt32(exp)
		if err != nil {
			return Zero, &ArithmeticError{Op: "pow", Reason: err.Error()}
		}
		return Decimal{d: out}, nil
	}
	pos, err := a.d.PowInt32(-exp)
	if err != nil {
		return Zero, &ArithmeticError{Op: "pow", Reason: err.Error()}
	}
	return One.Div(Decimal{d: pos})
}

func (a Decimal) Cmp(b Decimal) int  { return a.d.Cmp(b.d) }
func (a Decimal) Eq(b Decimal) bool  { return a.d.Equal(b.d) }
func (a Decimal) Lt(b Decimal) bool  { return a.d.LessThan(b.d) }
func (a Decimal) Lte(b Decimal) bool { return a.d.LessThanOrEqual(b.d) }
func (a Decimal) Gt(b Decimal) bool  { return a.d.GreaterThan(b.d) }
func (a Decimal) Gte(b Decimal) bool { return a.d.GreaterThanOrEqual(b.d) }
func (a Decimal) Sign() int          { return a.d.Sign() }
func (a Decimal) IsZero() bool       { return a.d.IsZero() }
func (a Decimal) IsPositive() bool   { return a.d.IsPositive() }
func (a Decimal) Round(places int32) Decimal {
	return Decimal{d: a.d.Round(places)}
}

// IntPart truncates toward zero.
func (a Decimal) IntPart() int64 { return a.d.IntPart() }

// Float64 is lossy above ~15 significant digits; use it only for the
// stochastic math and for display.
func (a Decimal) Float64() float64 { return a.d.InexactFloat64() }

func (a Decimal) String() string { return a.d.String() }

func (a Decimal) StringFixed(places int32) string { return a.d.StringFixed(places) }

func Max(first Decimal, rest ...Decimal) Decimal {
	out := first
	for _, v := range rest {
		if v.Gt(out) {
			out = v
		}
	}
	return out
}

func Min(first Decimal, rest ...Decimal) Decimal {
	out := first
	for _, v := range rest {
		if v.Lt(out) {
			out = v
		}
	}
	return out
}

// MarshalJSON writes the value as a quoted string so large magnitudes
// survive JSON consumers that parse numbers as float64.
func (a Decimal) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.d.String() + `"`), nil
}

func (a *Decimal) UnmarshalJSON(raw []byte) error {
	return a.d.UnmarshalJSON(raw)
}

func (a Decimal) MarshalText() ([]byte, error) {
	return []byte(a.d.String()), nil
}

func (a *Decimal) UnmarshalText(raw []byte) error {
	return a.d.UnmarshalText(raw)
}
