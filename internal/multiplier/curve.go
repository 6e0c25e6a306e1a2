package multiplier

import "tycoon/internal/num"

// Curve derives a skill node's fractional bonus from the row it sits on.
// Bonuses grow linearly from Base at row 0 to Top at MaxRow; convergence
// rows and the capstone row get an extra factor.
type Curve struct {
	Base             num.Decimal
	Top              num.Decimal
	MaxRow           int
	ConvergenceRows  []int
	ConvergenceBonus num.Decimal
	CapstoneBonus    num.Decimal
	// Negative flips the sign for reduction categories.
	Negative bool
}

var minNodeBonus = num.MustParse("0.01")

func NewCurve(base, top string, negative bool) Curve {
	return Curve{
		Base:             num.MustParse(base),
		Top:              num.MustParse(top),
		MaxRow:           17,
		ConvergenceRows:  []int{8, 12, 16},
		ConvergenceBonus: num.MustParse("1.5"),
		CapstoneBonus:    num.FromInt(2),
		Negative:         negative,
	}
}

func (c Curve) NodeBonus(row int) num.Decimal {
	if row < 0 {
		row = 0
	}
	if c.MaxRow > 0 && row > c.MaxRow {
		row = c.MaxRow
	}
	t := num.One
	if c.MaxRow > 0 && row < c.MaxRow {
		// MaxRow > 0 so the division cannot fail.
		t, _ = num.FromInt(int64(row)).Div(num.FromInt(int64(c.MaxRow)))
	}
	m := c.Base.Add(c.Top.Sub(c.Base).Mul(t))
	switch {
	case c.isConvergence(row):
		m = m.Mul(c.ConvergenceBonus)
	case row == c.MaxRow:
		m = m.Mul(c.CapstoneBonus)
	}
	m = num.Max(m.Round(2), minNodeBonus)
	if c.Negative {
		return m.Neg()
	}
	return m
}

func (c Curve) isConvergence(row int) bool {
	for _, r := range c.ConvergenceRows {
		if r == row {
			return true
		}
	}
	return false
}
