package market

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tycoon/internal/multiplier"
	"tycoon/internal/num"
)

type fixedMultipliers map[string]string

func (f fixedMultipliers) Multiplier(category string) num.Decimal {
	if v, ok := f[category]; ok {
		return num.MustParse(v)
	}
	return num.One
}

func stateJSON(t *testing.T, st State) string {
	t.Helper()
	raw, err := json.Marshal(st)
	require.NoError(t, err)
	return string(raw)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestModel(t *testing.T, cfg Config, table RegimeTable, seed int64, mults Multipliers, specs ...AssetSpec) *Model {
	t.Helper()
	m := NewModel(cfg, table, NewSource(seed), mults, quietLogger())
	for _, s := range specs {
		require.NoError(t, m.AddAsset(s))
	}
	return m
}

func stock(id string, price string, drift, vol float64) AssetSpec {
	return AssetSpec{ID: id, Kind: KindStock, InitialPrice: num.MustParse(price), Drift: drift, Volatility: vol}
}

func run(m *Model, from, to uint64) {
	for t := from; t <= to; t++ {
		m.Step(t)
	}
}

func TestSeededRunIsReproducible(t *testing.T) {
	outcome := func() (string, string, int) {
		m := newTestModel(t, DefaultConfig(), NeutralRegimes(), 20240611, nil, stock("ACME", "100.00", 0, 0.02))
		run(m, 1, 10_000)
		v, err := m.Asset("ACME")
		require.NoError(t, err)
		return v.Price.String(), v.ATH.String(), len(v.History)
	}
	p1, ath1, n1 := outcome()
	p2, ath2, n2 := outcome()
	assert.Equal(t, p1, p2)
	assert.Equal(t, ath1, ath2)
	assert.Equal(t, n1, n2)
	assert.Equal(t, DefaultConfig().HistoryCapacity, n1)
}

func TestDifferentSeedsDiverge(t *testing.T) {
	a := newTestModel(t, DefaultConfig(), NeutralRegimes(), 1, nil, stock("ACME", "100", 0, 0.02))
	b := newTestModel(t, DefaultConfig(), NeutralRegimes(), 2, nil, stock("ACME", "100", 0, 0.02))
	run(a, 1, 50)
	run(b, 1, 50)
	va, _ := a.Asset("ACME")
	vb, _ := b.Asset("ACME")
	assert.NotEqual(t, va.Price.String(), vb.Price.String())
}

func TestCrashRespectsFloor(t *testing.T) {
	table, err := NewRegimeTable(DefaultRegimeOrder, map[Regime]RegimeParams{
		RegimeNormal: {VolatilityScale: 1},
		RegimeCrash:  {Drift: -5, VolatilityScale: 40},
	}, map[Regime]map[Regime]float64{
		RegimeNormal: {RegimeCrash: 1},
	})
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Floor = num.MustParse("0.0001")
	m := newTestModel(t, cfg, table, 7, nil, stock("DOOM", "10", -0.5, 2))
	for tk := uint64(1); tk <= 2_000; tk++ {
		m.Step(tk)
		v, err := m.Asset("DOOM")
		require.NoError(t, err)
		require.True(t, v.Price.Gt(cfg.Floor), "tick %d price %s", tk, v.Price)
		require.True(t, v.Price.IsPositive())
	}
	v, _ := m.Asset("DOOM")
	assert.Equal(t, RegimeCrash, v.Regime)
	assert.Equal(t, uint64(1), v.RegimeSince)
	lowest := cfg.Floor.Add(num.Unit(cfg.PricePlaces))
	assert.True(t, v.ATL.Eq(lowest), "crash should bottom one step above the floor, atl %s", v.ATL)
}

func TestExtremesAreMonotone(t *testing.T) {
	m := newTestModel(t, DefaultConfig(), NeutralRegimes(), 99, nil, stock("WILD", "100", 0.001, 0.15))
	prev, _ := m.Asset("WILD")
	for tk := uint64(1); tk <= 3_000; tk++ {
		m.Step(tk)
		cur, _ := m.Asset("WILD")
		require.True(t, cur.ATH.Gte(prev.ATH), "ath dropped at tick %d", tk)
		require.True(t, cur.ATL.Lte(prev.ATL), "atl rose at tick %d", tk)
		require.True(t, cur.ATH.Gte(cur.Price))
		require.True(t, cur.ATL.Lte(cur.Price))
		require.True(t, cur.PreviousPrice.Eq(prev.Price))
		prev = cur
	}

	require.NoError(t, m.ResetAsset("WILD"))
	v, _ := m.Asset("WILD")
	assert.True(t, v.Price.Eq(num.FromInt(100)))
	assert.True(t, v.ATH.Eq(num.FromInt(100)))
	assert.True(t, v.ATL.Eq(num.FromInt(100)))
	assert.Len(t, v.History, 1)
}

func TestHistoryIsBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistoryCapacity = 16
	m := newTestModel(t, cfg, NeutralRegimes(), 3, nil, stock("ACME", "100", 0, 0.01))
	run(m, 1, 100)
	v, _ := m.Asset("ACME")
	require.Len(t, v.History, 16)
	assert.Equal(t, uint64(85), v.History[0].Tick)
	assert.Equal(t, uint64(100), v.History[15].Tick)
	assert.True(t, v.History[15].Price.Eq(v.Price))
}

func TestReturnMultiplierScalesDrift(t *testing.T) {
	expect := func(drift float64) num.Decimal {
		f, err := num.FromFloat(math.Exp(drift))
		require.NoError(t, err)
		return num.FromInt(100).Mul(f).Round(8)
	}
	mults := fixedMultipliers{multiplier.StockReturns: "2", multiplier.CryptoReturns: "4"}
	m := newTestModel(t, DefaultConfig(), NeutralRegimes(), 5, mults,
		stock("UP", "100", 0.01, 0),
		stock("DOWN", "100", -0.01, 0),
		AssetSpec{ID: "COIN", Kind: KindCrypto, InitialPrice: num.FromInt(100), Drift: 0.01},
	)
	m.Step(1)

	up, _ := m.Asset("UP")
	down, _ := m.Asset("DOWN")
	coin, _ := m.Asset("COIN")
	assert.True(t, up.Price.Eq(expect(0.02)), "up %s", up.Price)
	assert.True(t, down.Price.Eq(expect(-0.005)), "down %s", down.Price)
	assert.True(t, coin.Price.Eq(expect(0.04)), "coin %s", coin.Price)
}

func TestTradeRealizesExactProfit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StartingCash = num.FromInt(1_000)
	m := newTestModel(t, cfg, NeutralRegimes(), 1, nil, stock("ACME", "100", 0, 0))

	buy, err := m.Buy(TradeInput{AssetID: "ACME", Amount: num.FromInt(5)})
	require.NoError(t, err)
	assert.True(t, buy.Notional.Eq(num.FromInt(500)))
	assert.True(t, buy.Cash.Eq(num.FromInt(500)))
	assert.NotEmpty(t, buy.TradeID)

	m.index["ACME"].price = num.FromInt(120)
	sell, err := m.Sell(TradeInput{AssetID: "ACME", Amount: num.FromInt(5)})
	require.NoError(t, err)
	assert.Equal(t, "100", sell.Realized.String())
	assert.True(t, sell.Cash.Eq(num.FromInt(1_100)))

	p := m.Portfolio()
	assert.Empty(t, p.Positions)
	assert.Equal(t, "100", p.Realized.String())
	assert.True(t, p.NetWorth.Eq(num.FromInt(1_100)))
}

func TestPartialSellUsesProportionalBasis(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StartingCash = num.FromInt(1_000)
	cfg.FeeRate = num.MustParse("0.0015")
	m := newTestModel(t, cfg, NeutralRegimes(), 1, nil, stock("ACME", "100", 0, 0))

	_, err := m.Buy(TradeInput{AssetID: "ACME", Amount: num.FromInt(3)})
	require.NoError(t, err)
	p := m.Portfolio()
	assert.True(t, p.Cash.Eq(num.MustParse("699.55")), "cash %s", p.Cash)

	m.index["ACME"].price = num.FromInt(130)
	sell, err := m.Sell(TradeInput{AssetID: "ACME", Amount: num.FromInt(1)})
	require.NoError(t, err)
	// 130 - 0.195 fee - 100 basis
	assert.True(t, sell.Realized.Eq(num.MustParse("29.805")), "realized %s", sell.Realized)

	p = m.Portfolio()
	require.Len(t, p.Positions, 1)
	assert.True(t, p.Positions[0].Quantity.Eq(num.FromInt(2)))
	assert.True(t, p.Positions[0].Invested.Eq(num.FromInt(200)))
	assert.True(t, p.Positions[0].Unrealized.Eq(num.FromInt(60)))
	assert.True(t, p.Fees.Eq(num.MustParse("0.645")))
}

func TestTradeErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StartingCash = num.FromInt(100)
	m := newTestModel(t, cfg, NeutralRegimes(), 1, nil, stock("ACME", "100", 0, 0))

	_, err := m.Buy(TradeInput{AssetID: "ACME", Amount: num.FromInt(2)})
	assert.True(t, errors.Is(err, ErrInsufficientFunds))
	_, err = m.Buy(TradeInput{AssetID: "NOPE", Amount: num.One})
	assert.True(t, errors.Is(err, ErrAssetNotFound))
	_, err = m.Buy(TradeInput{AssetID: "ACME", Amount: num.Zero})
	assert.True(t, errors.Is(err, ErrInvalidAmount))
	_, err = m.Sell(TradeInput{AssetID: "ACME", Amount: num.One})
	assert.True(t, errors.Is(err, ErrInsufficientQuantity))

	_, err = m.Buy(TradeInput{AssetID: "ACME", Amount: num.MustParse("0.5"), IdempotencyKey: "k1"})
	require.NoError(t, err)
	_, err = m.Buy(TradeInput{AssetID: "ACME", Amount: num.MustParse("0.5"), IdempotencyKey: "k1"})
	assert.True(t, errors.Is(err, ErrDuplicateIdempotency))
	assert.True(t, m.Portfolio().Cash.Eq(num.FromInt(50)), "failed trades must not move cash")
}

func TestDividendsPayOnSchedule(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StartingCash = num.FromInt(1_000)
	cfg.DividendMultiplier = num.MustParse("1.5")
	spec := stock("DIVI", "100", 0, 0)
	spec.Dividend = &Dividend{Yield: num.MustParse("0.01"), EveryTicks: 10}
	m := newTestModel(t, cfg, NeutralRegimes(), 1, fixedMultipliers{multiplier.DividendIncome: "2"}, spec)

	for tk := uint64(1); tk <= 9; tk++ {
		assert.Empty(t, m.Step(tk), "no position, no payout")
	}
	_, err := m.Buy(TradeInput{AssetID: "DIVI", Amount: num.FromInt(5)})
	require.NoError(t, err)

	run(m, 10, 19)
	paid := m.Step(20)
	require.Len(t, paid, 1)
	// 5 * 100 * 0.01 * 1.5 * 2
	assert.True(t, paid[0].Amount.Eq(num.FromInt(15)))
	p := m.Portfolio()
	assert.True(t, p.Dividends.Eq(num.FromInt(30)), "ticks 10 and 20 both pay")
	assert.True(t, p.Cash.Eq(num.FromInt(530)))
}

func TestStateRestoreContinuesStream(t *testing.T) {
	specs := []AssetSpec{stock("ACME", "100", 0.0002, 0.03), {ID: "COIN", Kind: KindCrypto, InitialPrice: num.FromInt(40), Volatility: 0.08}}
	table, err := NewRegimeTable(DefaultRegimeOrder, map[Regime]RegimeParams{
		RegimeNormal: {VolatilityScale: 1},
		RegimeBull:   {Drift: 0.002, VolatilityScale: 1.2},
		RegimeBear:   {Drift: -0.002, VolatilityScale: 1.4},
	}, map[Regime]map[Regime]float64{
		RegimeNormal: {RegimeBull: 0.02, RegimeBear: 0.02},
		RegimeBull:   {RegimeNormal: 0.05},
		RegimeBear:   {RegimeNormal: 0.05},
	})
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.StartingCash = num.FromInt(10_000)

	straight := newTestModel(t, cfg, table, 42, nil, specs...)
	_, err = straight.Buy(TradeInput{AssetID: "ACME", Amount: num.FromInt(3)})
	require.NoError(t, err)
	run(straight, 1, 4_000)

	first := newTestModel(t, cfg, table, 42, nil, specs...)
	_, err = first.Buy(TradeInput{AssetID: "ACME", Amount: num.FromInt(3)})
	require.NoError(t, err)
	run(first, 1, 1_500)
	saved := first.State()

	resumed := newTestModel(t, cfg, table, 0, nil, specs...)
	require.NoError(t, resumed.Restore(saved))
	assert.Equal(t, stateJSON(t, saved), stateJSON(t, resumed.State()))
	run(resumed, 1_501, 4_000)

	assert.Equal(t, stateJSON(t, straight.State()), stateJSON(t, resumed.State()))
}

func TestRestoreRejectsUnknownAsset(t *testing.T) {
	m := newTestModel(t, DefaultConfig(), NeutralRegimes(), 1, nil, stock("ACME", "100", 0, 0.01))
	run(m, 1, 10)
	before := m.State()

	bad := before
	bad.Assets = append([]AssetState{{ID: "GHOST", Price: num.One, Regime: RegimeNormal}}, before.Assets...)
	assert.True(t, errors.Is(m.Restore(bad), ErrAssetNotFound))
	assert.Equal(t, stateJSON(t, before), stateJSON(t, m.State()))
}

func TestResetAllRewindsSource(t *testing.T) {
	m := newTestModel(t, DefaultConfig(), NeutralRegimes(), 11, nil, stock("ACME", "100", 0, 0.02))
	run(m, 1, 200)
	firstRun := stateJSON(t, m.State())

	m.ResetAll()
	v, _ := m.Asset("ACME")
	assert.True(t, v.Price.Eq(num.FromInt(100)))
	run(m, 1, 200)
	assert.Equal(t, firstRun, stateJSON(t, m.State()))
}

func TestAddAssetValidation(t *testing.T) {
	m := newTestModel(t, DefaultConfig(), NeutralRegimes(), 1, nil, stock("ACME", "100", 0, 0.01))
	assert.True(t, errors.Is(m.AddAsset(stock("ACME", "1", 0, 0)), ErrDuplicateAsset))
	assert.True(t, errors.Is(m.AddAsset(stock("ZERO", "0", 0, 0)), ErrInvalidAsset))
	assert.True(t, errors.Is(m.AddAsset(stock("NAN", "1", math.NaN(), 0)), ErrInvalidAsset))
	bad := stock("ODD", "1", 0, 0)
	bad.Regime = "sideways"
	assert.True(t, errors.Is(m.AddAsset(bad), ErrInvalidAsset))
}
