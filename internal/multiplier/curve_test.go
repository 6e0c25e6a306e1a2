package multiplier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tycoon/internal/num"
)

func TestCurveNodeBonus(t *testing.T) {
	income := NewCurve("0.01", "0.03", false)
	tests := []struct {
		row  int
		want string
	}{
		{row: 0, want: "0.01"},
		{row: 8, want: "0.03"},  // (0.01 + 0.02*8/17) * 1.5 = 0.0291...
		{row: 10, want: "0.02"}, // 0.01 + 0.02*10/17 = 0.0217...
		{row: 17, want: "0.06"}, // capstone doubles the top value
		{row: 40, want: "0.06"},
	}
	for _, tc := range tests {
		got := income.NodeBonus(tc.row)
		assert.True(t, got.Eq(num.MustParse(tc.want)), "row=%d got=%s want=%s", tc.row, got, tc.want)
	}
}

func TestCurveNegativeAndMinimum(t *testing.T) {
	loan := NewCurve("0.002", "0.004", true)
	got := loan.NodeBonus(0)
	assert.True(t, got.Eq(num.MustParse("-0.01")), "minimum magnitude applies before the sign flip, got %s", got)

	cost := NewCurve("0.02", "0.06", true)
	assert.True(t, cost.NodeBonus(17).Eq(num.MustParse("-0.12")))
}
