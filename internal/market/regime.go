package market

import (
	"errors"
	"fmt"
	"math"
)

var ErrInvalidRegimes = errors.New("invalid regime table")

type Regime string

const (
	RegimeNormal Regime = "normal"
	RegimeBull   Regime = "bull"
	RegimeBear   Regime = "bear"
	RegimeCrash  Regime = "crash"
	RegimeBubble Regime = "bubble"
)

// DefaultRegimeOrder fixes the order transition rows are walked in.
var DefaultRegimeOrder = []Regime{RegimeNormal, RegimeBull, RegimeBear, RegimeCrash, RegimeBubble}

// RegimeParams bias an asset's own drift and volatility while it is in the
// regime. Drift is added; VolatilityScale multiplies.
type RegimeParams struct {
	Drift           float64
	VolatilityScale float64
}

// RegimeTable is a Markov chain over regimes. A row's missing mass up to 1
// is the probability of staying put.
type RegimeTable struct {
	order  []Regime
	params map[Regime]RegimeParams
	rows   map[Regime][]float64
}

const massTolerance = 1e-9

func NewRegimeTable(order []Regime, params map[Regime]RegimeParams, matrix map[Regime]map[Regime]float64) (RegimeTable, error) {
	if len(order) == 0 {
		return RegimeTable{}, fmt.Errorf("%w: no regimes", ErrInvalidRegimes)
	}
	t := RegimeTable{
		order:  append([]Regime(nil), order...),
		params: make(map[Regime]RegimeParams, len(order)),
		rows:   make(map[Regime][]float64, len(order)),
	}
	for _, r := range order {
		if _, dup := t.params[r]; dup {
			return RegimeTable{}, fmt.Errorf("%w: regime %q listed twice", ErrInvalidRegimes, r)
		}
		p, ok := params[r]
		if !ok {
			p = RegimeParams{VolatilityScale: 1}
		}
		if math.IsNaN(p.Drift) || math.IsInf(p.Drift, 0) || !(p.VolatilityScale >= 0) || math.IsInf(p.VolatilityScale, 0) {
			return RegimeTable{}, fmt.Errorf("%w: regime %q has non-finite parameters", ErrInvalidRegimes, r)
		}
		t.params[r] = p
	}
	for from, row := range matrix {
		if _, ok := t.params[from]; !ok {
			return RegimeTable{}, fmt.Errorf("%w: unknown regime %q", ErrInvalidRegimes, from)
		}
		probs := make([]float64, len(t.order))
		sum := 0.0
		for to, p := range row {
			idx := t.index(to)
			if idx < 0 {
				return RegimeTable{}, fmt.Errorf("%w: unknown regime %q in row %q", ErrInvalidRegimes, to, from)
			}
			if !(p >= 0) || p > 1 {
				return RegimeTable{}, fmt.Errorf("%w: probability %v from %q to %q", ErrInvalidRegimes, p, from, to)
			}
			probs[idx] = p
			sum += p
		}
		if sum > 1+massTolerance {
			return RegimeTable{}, fmt.Errorf("%w: row %q sums to %v", ErrInvalidRegimes, from, sum)
		}
		t.rows[from] = probs
	}
	return t, nil
}

// NeutralRegimes keeps every asset in its starting regime with no bias.
func NeutralRegimes() RegimeTable {
	t, _ := NewRegimeTable(DefaultRegimeOrder, nil, nil)
	return t
}

func (t RegimeTable) index(r Regime) int {
	for i, v := range t.order {
		if v == r {
			return i
		}
	}
	return -1
}

func (t RegimeTable) Has(r Regime) bool {
	_, ok := t.params[r]
	return ok
}

func (t RegimeTable) Regimes() []Regime {
	return append([]Regime(nil), t.order...)
}

func (t RegimeTable) Params(r Regime) RegimeParams {
	if p, ok := t.params[r]; ok {
		return p
	}
	return RegimeParams{VolatilityScale: 1}
}

// Next walks cur's row in table order and returns the first regime whose
// cumulative probability exceeds u. u is expected in [0, 1).
func (t RegimeTable) Next(cur Regime, u float64) Regime {
	row, ok := t.rows[cur]
	if !ok {
		return cur
	}
	acc := 0.0
	for i, p := range row {
		if p == 0 {
			continue
		}
		acc += p
		if u < acc {
			return t.order[i]
		}
	}
	return cur
}
