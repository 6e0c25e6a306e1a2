package market

import (
	"fmt"

	"tycoon/internal/num"
)

type AssetState struct {
	ID          string       `json:"id"`
	Price       num.Decimal  `json:"price"`
	Previous    num.Decimal  `json:"previous"`
	ATH         num.Decimal  `json:"ath"`
	ATL         num.Decimal  `json:"atl"`
	History     []PricePoint `json:"history"`
	Regime      Regime       `json:"regime"`
	RegimeSince uint64       `json:"regime_since"`
}

type State struct {
	Source    SourceState  `json:"source"`
	Tick      uint64       `json:"tick"`
	Cash      num.Decimal  `json:"cash"`
	Realized  num.Decimal  `json:"realized"`
	Dividends num.Decimal  `json:"dividends"`
	Fees      num.Decimal  `json:"fees"`
	Positions []Position   `json:"positions"`
	Assets    []AssetState `json:"assets"`
}

func (m *Model) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := State{
		Source:    m.src.State(),
		Tick:      m.tick,
		Cash:      m.folio.cash,
		Realized:  m.folio.realized,
		Dividends: m.folio.dividends,
		Fees:      m.folio.fees,
		Positions: m.folio.list(),
		Assets:    make([]AssetState, 0, len(m.assets)),
	}
	for _, a := range m.assets {
		st.Assets = append(st.Assets, AssetState{
			ID:          a.spec.ID,
			Price:       a.price,
			Previous:    a.previous,
			ATH:         a.ath,
			ATL:         a.atl,
			History:     a.history.Points(),
			Regime:      a.regime,
			RegimeSince: a.regimeSince,
		})
	}
	return st
}

// Restore applies a saved state. Every saved asset must exist in the model;
// assets the save does not mention are reset to their initial values. On
// error nothing changes.
func (m *Model) Restore(st State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	saved := make(map[string]AssetState, len(st.Assets))
	for _, as := range st.Assets {
		if _, ok := m.index[as.ID]; !ok {
			return fmt.Errorf("restore market: %w: %s", ErrAssetNotFound, as.ID)
		}
		if !as.Price.IsPositive() {
			return fmt.Errorf("restore market: %w: %s price must be > 0", ErrInvalidAsset, as.ID)
		}
		if !m.table.Has(as.Regime) {
			return fmt.Errorf("restore market: %w: %s in unknown regime %q", ErrInvalidAsset, as.ID, as.Regime)
		}
		saved[as.ID] = as
	}
	folio := newPortfolio(st.Cash)
	folio.realized = st.Realized
	folio.dividends = st.Dividends
	folio.fees = st.Fees
	folio.keys = m.folio.keys
	for _, p := range st.Positions {
		if _, ok := m.index[p.AssetID]; !ok {
			return fmt.Errorf("restore market: position %w: %s", ErrAssetNotFound, p.AssetID)
		}
		if !p.Quantity.IsPositive() {
			continue
		}
		pos := folio.position(p.AssetID)
		*pos = p
	}

	for _, a := range m.assets {
		as, ok := saved[a.spec.ID]
		a.reset()
		if !ok {
			continue
		}
		a.price = as.Price
		a.previous = as.Previous
		a.ath = as.ATH
		a.atl = as.ATL
		a.regime = as.Regime
		a.regimeSince = as.RegimeSince
		a.history.Reset()
		for _, p := range as.History {
			a.history.Push(p)
		}
	}
	m.folio = folio
	m.tick = st.Tick
	m.src.Restore(st.Source)
	return nil
}
