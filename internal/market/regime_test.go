package market

import (
	"errors"
	mathrand "math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tycoon/internal/num"
)

func TestRegimeNextWalksRowInOrder(t *testing.T) {
	table, err := NewRegimeTable(DefaultRegimeOrder, nil, map[Regime]map[Regime]float64{
		RegimeNormal: {RegimeBull: 0.25, RegimeBear: 0.25},
		RegimeBull:   {RegimeBubble: 1},
	})
	require.NoError(t, err)

	assert.Equal(t, RegimeBull, table.Next(RegimeNormal, 0.1))
	assert.Equal(t, RegimeBear, table.Next(RegimeNormal, 0.3))
	assert.Equal(t, RegimeNormal, table.Next(RegimeNormal, 0.75), "leftover mass stays")
	assert.Equal(t, RegimeBubble, table.Next(RegimeBull, 0.999))
	assert.Equal(t, RegimeCrash, table.Next(RegimeCrash, 0.5), "no row, no move")
	assert.Equal(t, RegimeParams{VolatilityScale: 1}, table.Params(RegimeCrash))
}

func TestRegimeTableValidation(t *testing.T) {
	_, err := NewRegimeTable(nil, nil, nil)
	assert.True(t, errors.Is(err, ErrInvalidRegimes))

	_, err = NewRegimeTable(DefaultRegimeOrder, nil, map[Regime]map[Regime]float64{
		RegimeNormal: {RegimeBull: 0.7, RegimeBear: 0.7},
	})
	assert.True(t, errors.Is(err, ErrInvalidRegimes))

	_, err = NewRegimeTable(DefaultRegimeOrder, nil, map[Regime]map[Regime]float64{
		RegimeNormal: {"sideways": 0.1},
	})
	assert.True(t, errors.Is(err, ErrInvalidRegimes))

	_, err = NewRegimeTable([]Regime{RegimeNormal, RegimeNormal}, nil, nil)
	assert.True(t, errors.Is(err, ErrInvalidRegimes))

	_, err = NewRegimeTable(DefaultRegimeOrder, map[Regime]RegimeParams{RegimeBull: {VolatilityScale: -1}}, nil)
	assert.True(t, errors.Is(err, ErrInvalidRegimes))
}

func TestSourceRestoreResumesStream(t *testing.T) {
	src := NewSource(77)
	rng := mathrand.New(src)
	for i := 0; i < 1_000; i++ {
		rng.NormFloat64()
		rng.Float64()
	}
	st := src.State()
	assert.Equal(t, int64(77), st.Seed)
	assert.GreaterOrEqual(t, st.Draws, uint64(2_000))

	want := make([]float64, 50)
	for i := range want {
		want[i] = rng.NormFloat64()
	}

	other := NewSource(1)
	other.Restore(st)
	rng2 := mathrand.New(other)
	for i := range want {
		assert.Equal(t, want[i], rng2.NormFloat64())
	}

	other.Seed(77)
	assert.Equal(t, SourceState{Seed: 77}, other.State())
}

func TestHistoryRing(t *testing.T) {
	h := NewHistory(3)
	_, ok := h.Last()
	assert.False(t, ok)
	for i := uint64(1); i <= 5; i++ {
		h.Push(PricePoint{Tick: i, Price: num.FromInt(int64(i))})
		assert.LessOrEqual(t, h.Len(), h.Cap())
	}
	pts := h.Points()
	require.Len(t, pts, 3)
	assert.Equal(t, []uint64{3, 4, 5}, []uint64{pts[0].Tick, pts[1].Tick, pts[2].Tick})
	last, ok := h.Last()
	require.True(t, ok)
	assert.Equal(t, uint64(5), last.Tick)

	h.Reset()
	assert.Equal(t, 0, h.Len())
	assert.Empty(t, h.Points())
}
