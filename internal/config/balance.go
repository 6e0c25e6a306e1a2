package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"tycoon/internal/market"
	"tycoon/internal/multiplier"
	"tycoon/internal/num"
)

// Balance is the game-tuning data: market parameters, the regime chain, the
// asset list and any extra multiplier categories.
type Balance struct {
	Market     MarketBalance        `yaml:"market" json:"market"`
	Regimes    RegimeBalance        `yaml:"regimes" json:"regimes"`
	Assets     []AssetBalance       `yaml:"assets" json:"assets" validate:"required,min=1,dive"`
	Categories []CategoryBalance    `yaml:"categories" json:"categories" validate:"dive"`
	Offline    OfflineBalance       `yaml:"offline" json:"offline"`
	Bonuses    []ContributionConfig `yaml:"bonuses" json:"bonuses" validate:"dive"`
}

type MarketBalance struct {
	Floor              num.Decimal `yaml:"floor" json:"floor"`
	HistoryCapacity    int         `yaml:"history_capacity" json:"history_capacity" validate:"gte=1,lte=100000"`
	PricePlaces        int32       `yaml:"price_places" json:"price_places" validate:"gte=1,lte=30"`
	DividendMultiplier num.Decimal `yaml:"dividend_multiplier" json:"dividend_multiplier"`
	FeeRate            num.Decimal `yaml:"fee_rate" json:"fee_rate"`
	StartingCash       num.Decimal `yaml:"starting_cash" json:"starting_cash"`
}

type RegimeBalance struct {
	Order       []string                      `yaml:"order" json:"order" validate:"required,min=1,unique,dive,required"`
	Params      map[string]RegimeParamsConfig `yaml:"params" json:"params" validate:"dive"`
	Transitions map[string]map[string]float64 `yaml:"transitions" json:"transitions"`
}

type RegimeParamsConfig struct {
	Drift           float64 `yaml:"drift" json:"drift"`
	VolatilityScale float64 `yaml:"volatility_scale" json:"volatility_scale" validate:"gte=0"`
}

type AssetBalance struct {
	ID         string          `yaml:"id" json:"id" validate:"required"`
	Name       string          `yaml:"name" json:"name"`
	Kind       string          `yaml:"kind" json:"kind" validate:"oneof=stock crypto"`
	Price      num.Decimal     `yaml:"price" json:"price"`
	Drift      float64         `yaml:"drift" json:"drift"`
	Volatility float64         `yaml:"volatility" json:"volatility" validate:"gte=0"`
	Regime     string          `yaml:"regime" json:"regime"`
	Dividend   *DividendConfig `yaml:"dividend" json:"dividend,omitempty"`
}

type DividendConfig struct {
	Yield      num.Decimal `yaml:"yield" json:"yield"`
	EveryTicks uint64      `yaml:"every_ticks" json:"every_ticks" validate:"gt=0"`
}

type CategoryBalance struct {
	Name  string      `yaml:"name" json:"name" validate:"required"`
	Rule  string      `yaml:"rule" json:"rule" validate:"omitempty,oneof=multiplicative additive"`
	Floor num.Decimal `yaml:"floor" json:"floor"`
}

type OfflineBalance struct {
	// Efficiency is the base share of offline time that is simulated before
	// the offline_efficiency multiplier applies.
	Efficiency num.Decimal `yaml:"efficiency" json:"efficiency"`
}

// ContributionConfig is a permanent bonus applied at startup.
type ContributionConfig struct {
	Source   string      `yaml:"source" json:"source" validate:"required"`
	Kind     string      `yaml:"kind" json:"kind" validate:"required"`
	Category string      `yaml:"category" json:"category" validate:"required"`
	Value    num.Decimal `yaml:"value" json:"value"`
	Mode     string      `yaml:"mode" json:"mode" validate:"omitempty,oneof=multiplicative additive"`
}

var ErrInvalidBalance = errors.New("invalid balance")

// DefaultBalance is neutral: regimes carry no bias and never change, so
// price paths are driven by each asset's own drift and volatility.
func DefaultBalance() Balance {
	order := make([]string, 0, len(market.DefaultRegimeOrder))
	params := make(map[string]RegimeParamsConfig, len(market.DefaultRegimeOrder))
	for _, r := range market.DefaultRegimeOrder {
		order = append(order, string(r))
		params[string(r)] = RegimeParamsConfig{VolatilityScale: 1}
	}
	return Balance{
		Market: MarketBalance{
			Floor:              num.MustParse("0.01"),
			HistoryCapacity:    500,
			PricePlaces:        8,
			DividendMultiplier: num.One,
			FeeRate:            num.Zero,
			StartingCash:       num.FromInt(25_000),
		},
		Regimes: RegimeBalance{Order: order, Params: params},
		Assets: []AssetBalance{
			{ID: "COBOLT", Name: "Cobalt Dynamics", Kind: "stock", Price: num.FromInt(130), Volatility: 0.02, Regime: "normal",
				Dividend: &DividendConfig{Yield: num.MustParse("0.002"), EveryTicks: 600}},
			{ID: "NIMBUS", Name: "Nimbus Labs", Kind: "stock", Price: num.FromInt(95), Volatility: 0.025, Regime: "normal"},
			{ID: "VECTRA", Name: "Vectra AI", Kind: "stock", Price: num.FromInt(165), Volatility: 0.03, Regime: "normal"},
			{ID: "BITCRN", Name: "Bitcorn", Kind: "crypto", Price: num.FromInt(420), Volatility: 0.06, Regime: "normal"},
			{ID: "DOGEX", Name: "Dogex", Kind: "crypto", Price: num.MustParse("0.35"), Volatility: 0.09, Regime: "normal"},
		},
		Offline: OfflineBalance{Efficiency: num.One},
	}
}

// LoadBalance reads a YAML balance file. An empty path yields DefaultBalance.
// Sections missing from the file keep their default values.
func LoadBalance(path string) (Balance, error) {
	b := DefaultBalance()
	if strings.TrimSpace(path) == "" {
		return b, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Balance{}, err
	}
	return ParseBalance(raw)
}

func ParseBalance(raw []byte) (Balance, error) {
	b := DefaultBalance()
	var file Balance
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return Balance{}, fmt.Errorf("%w: %v", ErrInvalidBalance, err)
	}
	b.merge(file)
	if err := b.Validate(); err != nil {
		return Balance{}, err
	}
	return b, nil
}

func (b *Balance) merge(file Balance) {
	m := file.Market
	if !m.Floor.IsZero() {
		b.Market.Floor = m.Floor
	}
	if m.HistoryCapacity != 0 {
		b.Market.HistoryCapacity = m.HistoryCapacity
	}
	if m.PricePlaces != 0 {
		b.Market.PricePlaces = m.PricePlaces
	}
	if !m.DividendMultiplier.IsZero() {
		b.Market.DividendMultiplier = m.DividendMultiplier
	}
	if !m.FeeRate.IsZero() {
		b.Market.FeeRate = m.FeeRate
	}
	if !m.StartingCash.IsZero() {
		b.Market.StartingCash = m.StartingCash
	}
	if len(file.Regimes.Order) > 0 {
		b.Regimes = file.Regimes
	} else {
		if len(file.Regimes.Params) > 0 {
			for k, v := range file.Regimes.Params {
				b.Regimes.Params[k] = v
			}
		}
		if len(file.Regimes.Transitions) > 0 {
			b.Regimes.Transitions = file.Regimes.Transitions
		}
	}
	if len(file.Assets) > 0 {
		b.Assets = file.Assets
	}
	if len(file.Categories) > 0 {
		b.Categories = file.Categories
	}
	if !file.Offline.Efficiency.IsZero() {
		b.Offline = file.Offline
	}
	if len(file.Bonuses) > 0 {
		b.Bonuses = file.Bonuses
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterStructValidation(balanceStructLevel, Balance{})
	return v
}

func (b Balance) Validate() error {
	if err := validate.Struct(b); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBalance, err)
	}
	return nil
}

// balanceStructLevel covers the cross-field rules tags cannot express:
// decimal bounds, regime references and transition row mass.
func balanceStructLevel(sl validator.StructLevel) {
	b := sl.Current().Interface().(Balance)

	if !b.Market.Floor.IsPositive() {
		sl.ReportError(b.Market.Floor, "Market.Floor", "Floor", "gt0", "")
	}
	if b.Market.FeeRate.Sign() < 0 || b.Market.FeeRate.Gte(num.One) {
		sl.ReportError(b.Market.FeeRate, "Market.FeeRate", "FeeRate", "range01", "")
	}
	if b.Market.DividendMultiplier.Sign() < 0 {
		sl.ReportError(b.Market.DividendMultiplier, "Market.DividendMultiplier", "DividendMultiplier", "gte0", "")
	}
	if b.Market.StartingCash.Sign() < 0 {
		sl.ReportError(b.Market.StartingCash, "Market.StartingCash", "StartingCash", "gte0", "")
	}
	if b.Offline.Efficiency.Sign() < 0 {
		sl.ReportError(b.Offline.Efficiency, "Offline.Efficiency", "Efficiency", "gte0", "")
	}

	known := make(map[string]bool, len(b.Regimes.Order))
	for _, r := range b.Regimes.Order {
		known[r] = true
	}
	for name, p := range b.Regimes.Params {
		if !known[name] {
			sl.ReportError(name, "Regimes.Params."+name, "Params", "regime", name)
		}
		if math.IsNaN(p.Drift) || math.IsInf(p.Drift, 0) {
			sl.ReportError(p.Drift, "Regimes.Params."+name+".Drift", "Drift", "finite", "")
		}
	}
	for from, row := range b.Regimes.Transitions {
		if !known[from] {
			sl.ReportError(from, "Regimes.Transitions."+from, "Transitions", "regime", from)
		}
		sum := 0.0
		for to, p := range row {
			if !known[to] {
				sl.ReportError(to, "Regimes.Transitions."+from+"."+to, "Transitions", "regime", to)
			}
			if !(p >= 0) || p > 1 {
				sl.ReportError(p, "Regimes.Transitions."+from+"."+to, "Transitions", "probability", "")
			}
			sum += p
		}
		if math.Abs(sum-1) > 1e-6 {
			sl.ReportError(sum, "Regimes.Transitions."+from, "Transitions", "rowsum", "1")
		}
	}

	ids := make(map[string]bool, len(b.Assets))
	for i, a := range b.Assets {
		field := fmt.Sprintf("Assets[%d]", i)
		if ids[a.ID] {
			sl.ReportError(a.ID, field+".ID", "ID", "unique", "")
		}
		ids[a.ID] = true
		if !a.Price.IsPositive() {
			sl.ReportError(a.Price, field+".Price", "Price", "gt0", "")
		}
		if a.Regime != "" && !known[a.Regime] {
			sl.ReportError(a.Regime, field+".Regime", "Regime", "regime", a.Regime)
		}
		if a.Dividend != nil && a.Dividend.Yield.Sign() < 0 {
			sl.ReportError(a.Dividend.Yield, field+".Dividend.Yield", "Yield", "gte0", "")
		}
	}
	for i, c := range b.Categories {
		if c.Floor.Sign() < 0 {
			sl.ReportError(c.Floor, fmt.Sprintf("Categories[%d].Floor", i), "Floor", "gte0", "")
		}
	}
}

func (b Balance) MarketConfig() market.Config {
	return market.Config{
		Floor:              b.Market.Floor,
		HistoryCapacity:    b.Market.HistoryCapacity,
		PricePlaces:        b.Market.PricePlaces,
		DividendMultiplier: b.Market.DividendMultiplier,
		FeeRate:            b.Market.FeeRate,
		StartingCash:       b.Market.StartingCash,
	}
}

func (b Balance) RegimeTable() (market.RegimeTable, error) {
	order := make([]market.Regime, 0, len(b.Regimes.Order))
	for _, r := range b.Regimes.Order {
		order = append(order, market.Regime(r))
	}
	params := make(map[market.Regime]market.RegimeParams, len(b.Regimes.Params))
	for name, p := range b.Regimes.Params {
		params[market.Regime(name)] = market.RegimeParams{Drift: p.Drift, VolatilityScale: p.VolatilityScale}
	}
	matrix := make(map[market.Regime]map[market.Regime]float64, len(b.Regimes.Transitions))
	for from, row := range b.Regimes.Transitions {
		out := make(map[market.Regime]float64, len(row))
		for to, p := range row {
			out[market.Regime(to)] = p
		}
		matrix[market.Regime(from)] = out
	}
	return market.NewRegimeTable(order, params, matrix)
}

func (b Balance) AssetSpecs() []market.AssetSpec {
	out := make([]market.AssetSpec, 0, len(b.Assets))
	for _, a := range b.Assets {
		spec := market.AssetSpec{
			ID:           a.ID,
			Name:         a.Name,
			Kind:         market.Kind(a.Kind),
			InitialPrice: a.Price,
			Drift:        a.Drift,
			Volatility:   a.Volatility,
			Regime:       market.Regime(a.Regime),
		}
		if a.Dividend != nil {
			spec.Dividend = &market.Dividend{Yield: a.Dividend.Yield, EveryTicks: a.Dividend.EveryTicks}
		}
		out = append(out, spec)
	}
	return out
}

// MultiplierCategories is the default registry plus any categories the
// balance adds or overrides.
func (b Balance) MultiplierCategories() []multiplier.Category {
	cats := multiplier.DefaultCategories()
	for _, c := range b.Categories {
		next := multiplier.Category{Name: c.Name, Rule: multiplier.Rule(c.Rule), Floor: c.Floor}
		replaced := false
		for i := range cats {
			if cats[i].Name == c.Name {
				cats[i] = next
				replaced = true
				break
			}
		}
		if !replaced {
			cats = append(cats, next)
		}
	}
	return cats
}

func (b Balance) Contributions() []multiplier.Contribution {
	out := make([]multiplier.Contribution, 0, len(b.Bonuses))
	for _, c := range b.Bonuses {
		out = append(out, multiplier.Contribution{
			ID:       "balance:" + c.Source + ":" + c.Category,
			Source:   c.Source,
			Kind:     multiplier.Kind(c.Kind),
			Category: c.Category,
			Value:    c.Value,
			Mode:     multiplier.Rule(c.Mode),
		})
	}
	return out
}
