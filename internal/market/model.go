package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	mathrand "math/rand"
	"sync"

	"tycoon/internal/multiplier"
	"tycoon/internal/num"
	"tycoon/internal/tick"
)

var (
	ErrAssetNotFound        = errors.New("asset not found")
	ErrInvalidAsset         = errors.New("invalid asset")
	ErrDuplicateAsset       = errors.New("asset already exists")
	ErrInvalidAmount        = errors.New("invalid trade amount")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientQuantity = errors.New("insufficient quantity")
	ErrDuplicateIdempotency = errors.New("duplicate idempotency key")
)

// Multipliers is the slice of the multiplier engine the market reads.
type Multipliers interface {
	Multiplier(category string) num.Decimal
}

type identity struct{}

func (identity) Multiplier(string) num.Decimal { return num.One }

type Config struct {
	Floor              num.Decimal
	HistoryCapacity    int
	PricePlaces        int32
	DividendMultiplier num.Decimal
	FeeRate            num.Decimal
	StartingCash       num.Decimal
}

func DefaultConfig() Config {
	return Config{
		Floor:              num.MustParse("0.01"),
		HistoryCapacity:    500,
		PricePlaces:        8,
		DividendMultiplier: num.One,
		FeeRate:            num.Zero,
		StartingCash:       num.Zero,
	}
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if !c.Floor.IsPositive() {
		c.Floor = def.Floor
	}
	if c.HistoryCapacity <= 0 {
		c.HistoryCapacity = def.HistoryCapacity
	}
	if c.PricePlaces <= 0 {
		c.PricePlaces = def.PricePlaces
	}
	if c.DividendMultiplier.Sign() < 0 {
		c.DividendMultiplier = num.Zero
	}
	if c.FeeRate.Sign() < 0 {
		c.FeeRate = num.Zero
	}
	if c.StartingCash.Sign() < 0 {
		c.StartingCash = num.Zero
	}
	return c
}

type DividendEvent struct {
	Tick     uint64      `json:"tick"`
	AssetID  string      `json:"asset_id"`
	Quantity num.Decimal `json:"quantity"`
	Price    num.Decimal `json:"price"`
	Amount   num.Decimal `json:"amount"`
}

type Model struct {
	mu    sync.RWMutex
	cfg   Config
	table RegimeTable
	src   *Source
	rng   *mathrand.Rand
	mults Multipliers
	log   *slog.Logger

	assets []*Asset
	index  map[string]*Asset
	folio  portfolio
	tick   uint64
}

func NewModel(cfg Config, table RegimeTable, src *Source, mults Multipliers, logger *slog.Logger) *Model {
	if logger == nil {
		logger = slog.Default()
	}
	if src == nil {
		src = NewSource(1)
	}
	if mults == nil {
		mults = identity{}
	}
	if len(table.order) == 0 {
		table = NeutralRegimes()
	}
	cfg = cfg.normalized()
	return &Model{
		cfg:   cfg,
		table: table,
		src:   src,
		rng:   mathrand.New(src),
		mults: mults,
		log:   logger,
		index: make(map[string]*Asset),
		folio: newPortfolio(cfg.StartingCash),
	}
}

func (m *Model) Config() Config { return m.cfg }

func (m *Model) AddAsset(spec AssetSpec) error {
	if spec.Regime == "" {
		spec.Regime = RegimeNormal
	}
	if spec.Name == "" {
		spec.Name = spec.ID
	}
	if err := spec.validate(m.table); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.index[spec.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateAsset, spec.ID)
	}
	a := newAsset(spec, m.cfg.HistoryCapacity)
	m.assets = append(m.assets, a)
	m.index[spec.ID] = a
	return nil
}

// Handle advances the market as a scheduler subscriber.
func (m *Model) Handle(_ context.Context, ev tick.Event) error {
	m.Step(ev.Tick)
	return nil
}

// Step advances every asset one tick in the order they were added and
// returns the dividends paid on this tick.
func (m *Model) Step(t uint64) []DividendEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tick = t
	stockMult := m.returnMultiplier(KindStock)
	cryptoMult := m.returnMultiplier(KindCrypto)
	var paid []DividendEvent
	for _, a := range m.assets {
		mult := stockMult
		if a.spec.Kind == KindCrypto {
			mult = cryptoMult
		}
		m.stepAsset(a, t, mult)
		if ev, ok := m.payDividend(a, t); ok {
			paid = append(paid, ev)
		}
	}
	return paid
}

func (m *Model) returnMultiplier(k Kind) float64 {
	v := m.mults.Multiplier(k.Category()).Float64()
	if !(v > 0) || math.IsInf(v, 0) {
		return 1
	}
	return v
}

func (m *Model) stepAsset(a *Asset, t uint64, mult float64) {
	if next := m.table.Next(a.regime, m.rng.Float64()); next != a.regime {
		m.log.Debug("regime changed", "asset", a.spec.ID, "from", a.regime, "to", next, "tick", t)
		a.regime = next
		a.regimeSince = t
	}
	params := m.table.Params(a.regime)
	drift := a.spec.Drift + params.Drift
	vol := a.spec.Volatility * params.VolatilityScale
	switch {
	case drift > 0:
		drift *= mult
	case drift < 0:
		drift /= mult
	}
	z := m.rng.NormFloat64()
	m.observe(a, t, gbmFactor(drift, vol, z))
}

// gbmFactor is exp((mu - sigma^2/2)*dt + sigma*sqrt(dt)*z) with dt = 1.
func gbmFactor(drift, vol, z float64) float64 {
	f := math.Exp(drift - 0.5*vol*vol + vol*z)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 1
	}
	return f
}

func (m *Model) observe(a *Asset, t uint64, factor float64) {
	f, err := num.FromFloat(factor)
	if err != nil {
		f = num.One
	}
	price := a.price.Mul(f).Round(m.cfg.PricePlaces)
	if price.Lte(m.cfg.Floor) {
		price = m.cfg.Floor.Add(num.Unit(m.cfg.PricePlaces))
	}
	a.observe(t, price)
}

func (m *Model) payDividend(a *Asset, t uint64) (DividendEvent, bool) {
	d := a.spec.Dividend
	if d == nil || d.EveryTicks == 0 || t%d.EveryTicks != 0 {
		return DividendEvent{}, false
	}
	qty := m.folio.quantity(a.spec.ID)
	if !qty.IsPositive() {
		return DividendEvent{}, false
	}
	amount := qty.Mul(a.price).
		Mul(d.Yield).
		Mul(m.cfg.DividendMultiplier).
		Mul(m.mults.Multiplier(multiplier.DividendIncome))
	if !amount.IsPositive() {
		return DividendEvent{}, false
	}
	m.folio.cash = m.folio.cash.Add(amount)
	m.folio.dividends = m.folio.dividends.Add(amount)
	return DividendEvent{Tick: t, AssetID: a.spec.ID, Quantity: qty, Price: a.price, Amount: amount}, true
}

type Quote struct {
	ID     string      `json:"id"`
	Price  num.Decimal `json:"price"`
	Regime Regime      `json:"regime"`
}

// Quotes is the current price of every asset without their histories.
func (m *Model) Quotes() []Quote {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Quote, 0, len(m.assets))
	for _, a := range m.assets {
		out = append(out, Quote{ID: a.spec.ID, Price: a.price, Regime: a.regime})
	}
	return out
}

func (m *Model) Assets() []AssetView {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]AssetView, 0, len(m.assets))
	for _, a := range m.assets {
		out = append(out, a.view())
	}
	return out
}

func (m *Model) Asset(id string) (AssetView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.index[id]
	if !ok {
		return AssetView{}, fmt.Errorf("%w: %s", ErrAssetNotFound, id)
	}
	return a.view(), nil
}

// ResetAsset returns one asset to its initial price, extremes, history and
// regime.
func (m *Model) ResetAsset(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.index[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAssetNotFound, id)
	}
	a.reset()
	return nil
}

// ResetAll restores every asset and the portfolio, and rewinds the random
// source to its seed.
func (m *Model) ResetAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.assets {
		a.reset()
	}
	keys := m.folio.keys
	m.folio = newPortfolio(m.cfg.StartingCash)
	m.folio.keys = keys
	m.src.Seed(m.src.State().Seed)
	m.tick = 0
}
