package market

import (
	"fmt"
	"math"
	"strings"

	"tycoon/internal/multiplier"
	"tycoon/internal/num"
)

type Kind string

const (
	KindStock  Kind = "stock"
	KindCrypto Kind = "crypto"
)

// Category is the return-multiplier category folded into the asset's drift.
func (k Kind) Category() string {
	if k == KindCrypto {
		return multiplier.CryptoReturns
	}
	return multiplier.StockReturns
}

type Dividend struct {
	Yield      num.Decimal `json:"yield" yaml:"yield"`
	EveryTicks uint64      `json:"every_ticks" yaml:"every_ticks"`
}

type AssetSpec struct {
	ID           string
	Name         string
	Kind         Kind
	InitialPrice num.Decimal
	// Drift and Volatility are per-tick GBM parameters before regime bias.
	Drift      float64
	Volatility float64
	Regime     Regime
	Dividend   *Dividend
}

func (s AssetSpec) validate(table RegimeTable) error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidAsset)
	}
	if s.Kind != KindStock && s.Kind != KindCrypto {
		return fmt.Errorf("%w: %s has kind %q", ErrInvalidAsset, s.ID, s.Kind)
	}
	if !s.InitialPrice.IsPositive() {
		return fmt.Errorf("%w: %s initial price must be > 0", ErrInvalidAsset, s.ID)
	}
	if math.IsNaN(s.Drift) || math.IsInf(s.Drift, 0) || !(s.Volatility >= 0) || math.IsInf(s.Volatility, 0) {
		return fmt.Errorf("%w: %s has non-finite drift or volatility", ErrInvalidAsset, s.ID)
	}
	if !table.Has(s.Regime) {
		return fmt.Errorf("%w: %s starts in unknown regime %q", ErrInvalidAsset, s.ID, s.Regime)
	}
	if s.Dividend != nil && s.Dividend.Yield.Sign() < 0 {
		return fmt.Errorf("%w: %s dividend yield is negative", ErrInvalidAsset, s.ID)
	}
	return nil
}

type Asset struct {
	spec        AssetSpec
	price       num.Decimal
	previous    num.Decimal
	ath         num.Decimal
	atl         num.Decimal
	history     *History
	regime      Regime
	regimeSince uint64
}

func newAsset(spec AssetSpec, capacity int) *Asset {
	a := &Asset{spec: spec, history: NewHistory(capacity)}
	a.reset()
	return a
}

func (a *Asset) reset() {
	a.price = a.spec.InitialPrice
	a.previous = a.spec.InitialPrice
	a.ath = a.spec.InitialPrice
	a.atl = a.spec.InitialPrice
	a.regime = a.spec.Regime
	a.regimeSince = 0
	a.history.Reset()
	a.history.Push(PricePoint{Tick: 0, Price: a.spec.InitialPrice})
}

func (a *Asset) observe(tick uint64, price num.Decimal) {
	a.previous = a.price
	a.price = price
	if price.Gt(a.ath) {
		a.ath = price
	}
	if price.Lt(a.atl) {
		a.atl = price
	}
	a.history.Push(PricePoint{Tick: tick, Price: price})
}

func (a *Asset) view() AssetView {
	return AssetView{
		ID:            a.spec.ID,
		Name:          a.spec.Name,
		Kind:          a.spec.Kind,
		Price:         a.price,
		PreviousPrice: a.previous,
		ATH:           a.ath,
		ATL:           a.atl,
		History:       a.history.Points(),
		Regime:        a.regime,
		RegimeSince:   a.regimeSince,
		Dividend:      a.spec.Dividend,
	}
}

type AssetView struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Kind          Kind         `json:"kind"`
	Price         num.Decimal  `json:"price"`
	PreviousPrice num.Decimal  `json:"previous_price"`
	ATH           num.Decimal  `json:"ath"`
	ATL           num.Decimal  `json:"atl"`
	History       []PricePoint `json:"history"`
	Regime        Regime       `json:"regime"`
	RegimeSince   uint64       `json:"regime_since"`
	Dividend      *Dividend    `json:"dividend,omitempty"`
}
