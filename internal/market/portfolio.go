package market

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"tycoon/internal/num"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

type Position struct {
	AssetID  string      `json:"asset_id"`
	Quantity num.Decimal `json:"quantity"`
	AvgPrice num.Decimal `json:"avg_price"`
	// Invested is the cost basis still held; selling everything realizes
	// against exactly this amount.
	Invested num.Decimal `json:"invested"`
}

type portfolio struct {
	cash      num.Decimal
	realized  num.Decimal
	dividends num.Decimal
	fees      num.Decimal
	positions map[string]*Position
	order     []string
	keys      map[string]struct{}
}

func newPortfolio(cash num.Decimal) portfolio {
	return portfolio{
		cash:      cash,
		positions: make(map[string]*Position),
		keys:      make(map[string]struct{}),
	}
}

func (p *portfolio) position(id string) *Position {
	if pos, ok := p.positions[id]; ok {
		return pos
	}
	pos := &Position{AssetID: id}
	p.positions[id] = pos
	p.order = append(p.order, id)
	return pos
}

func (p *portfolio) drop(id string) {
	delete(p.positions, id)
	for i, v := range p.order {
		if v == id {
			p.order = append(p.order[:i:i], p.order[i+1:]...)
			return
		}
	}
}

func (p *portfolio) quantity(id string) num.Decimal {
	if pos, ok := p.positions[id]; ok {
		return pos.Quantity
	}
	return num.Zero
}

func (p *portfolio) list() []Position {
	out := make([]Position, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, *p.positions[id])
	}
	return out
}

type TradeInput struct {
	AssetID        string      `json:"asset_id"`
	Amount         num.Decimal `json:"amount"`
	IdempotencyKey string      `json:"-"`
}

type TradeResult struct {
	TradeID  string      `json:"trade_id"`
	Tick     uint64      `json:"tick"`
	AssetID  string      `json:"asset_id"`
	Side     Side        `json:"side"`
	Amount   num.Decimal `json:"amount"`
	Price    num.Decimal `json:"price"`
	Notional num.Decimal `json:"notional"`
	Fee      num.Decimal `json:"fee"`
	Realized num.Decimal `json:"realized"`
	Cash     num.Decimal `json:"cash"`
}

type PositionView struct {
	Position
	Price      num.Decimal `json:"price"`
	Value      num.Decimal `json:"value"`
	Unrealized num.Decimal `json:"unrealized"`
}

type PortfolioView struct {
	Cash      num.Decimal    `json:"cash"`
	Realized  num.Decimal    `json:"realized"`
	Dividends num.Decimal    `json:"dividends"`
	Fees      num.Decimal    `json:"fees"`
	Positions []PositionView `json:"positions"`
	NetWorth  num.Decimal    `json:"net_worth"`
}

func (m *Model) Buy(in TradeInput) (TradeResult, error) {
	return m.trade(SideBuy, in)
}

func (m *Model) Sell(in TradeInput) (TradeResult, error) {
	return m.trade(SideSell, in)
}

// trade reads the price and mutates the portfolio under the same lock Step
// holds, so it always prices against a fully committed tick.
func (m *Model) trade(side Side, in TradeInput) (TradeResult, error) {
	var out TradeResult
	in.AssetID = strings.TrimSpace(in.AssetID)
	in.IdempotencyKey = strings.TrimSpace(in.IdempotencyKey)
	if !in.Amount.IsPositive() {
		return out, fmt.Errorf("%w: amount must be > 0", ErrInvalidAmount)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.index[in.AssetID]
	if !ok {
		return out, fmt.Errorf("%w: %s", ErrAssetNotFound, in.AssetID)
	}
	if in.IdempotencyKey != "" {
		if _, seen := m.folio.keys[in.IdempotencyKey]; seen {
			return out, ErrDuplicateIdempotency
		}
	}

	notional := in.Amount.Mul(a.price)
	fee := notional.Mul(m.cfg.FeeRate)
	out = TradeResult{
		TradeID:  uuid.NewString(),
		Tick:     m.tick,
		AssetID:  a.spec.ID,
		Side:     side,
		Amount:   in.Amount,
		Price:    a.price,
		Notional: notional,
		Fee:      fee,
		Realized: num.Zero,
	}

	switch side {
	case SideBuy:
		cost := notional.Add(fee)
		if m.folio.cash.Lt(cost) {
			return TradeResult{}, fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds, cost, m.folio.cash)
		}
		pos := m.folio.position(a.spec.ID)
		pos.Quantity = pos.Quantity.Add(in.Amount)
		pos.Invested = pos.Invested.Add(notional)
		avg, err := pos.Invested.Div(pos.Quantity)
		if err != nil {
			return TradeResult{}, err
		}
		pos.AvgPrice = avg
		m.folio.cash = m.folio.cash.Sub(cost)
	case SideSell:
		held := m.folio.quantity(a.spec.ID)
		if held.Lt(in.Amount) {
			return TradeResult{}, fmt.Errorf("%w: hold %s, selling %s", ErrInsufficientQuantity, held, in.Amount)
		}
		pos := m.folio.positions[a.spec.ID]
		basis := pos.Invested
		if in.Amount.Lt(held) {
			share, err := pos.Invested.Mul(in.Amount).Div(held)
			if err != nil {
				return TradeResult{}, err
			}
			basis = share
		}
		proceeds := notional.Sub(fee)
		out.Realized = proceeds.Sub(basis)
		m.folio.realized = m.folio.realized.Add(out.Realized)
		m.folio.cash = m.folio.cash.Add(proceeds)
		pos.Quantity = held.Sub(in.Amount)
		pos.Invested = pos.Invested.Sub(basis)
		if pos.Quantity.IsZero() {
			m.folio.drop(a.spec.ID)
		}
	}
	m.folio.fees = m.folio.fees.Add(fee)
	if in.IdempotencyKey != "" {
		m.folio.keys[in.IdempotencyKey] = struct{}{}
	}
	out.Cash = m.folio.cash
	m.log.Debug("trade executed", "side", side, "asset", a.spec.ID, "amount", in.Amount.String(), "price", a.price.String())
	return out, nil
}

// Fund credits (or, with a negative amount, debits) the cash balance.
func (m *Model) Fund(amount num.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.folio.cash.Add(amount)
	if next.Sign() < 0 {
		return fmt.Errorf("%w: cash would drop to %s", ErrInsufficientFunds, next)
	}
	m.folio.cash = next
	return nil
}

func (m *Model) Cash() num.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.folio.cash
}

func (m *Model) Portfolio() PortfolioView {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := PortfolioView{
		Cash:      m.folio.cash,
		Realized:  m.folio.realized,
		Dividends: m.folio.dividends,
		Fees:      m.folio.fees,
		Positions: make([]PositionView, 0, len(m.folio.order)),
		NetWorth:  m.folio.cash,
	}
	for _, pos := range m.folio.list() {
		price := num.Zero
		if a, ok := m.index[pos.AssetID]; ok {
			price = a.price
		}
		value := pos.Quantity.Mul(price)
		out.Positions = append(out.Positions, PositionView{
			Position:   pos,
			Price:      price,
			Value:      value,
			Unrealized: value.Sub(pos.Invested),
		})
		out.NetWorth = out.NetWorth.Add(value)
	}
	return out
}

// ResetPortfolio drops every position and returns cash to the starting
// balance. Prices and regimes are untouched.
func (m *Model) ResetPortfolio() {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := m.folio.keys
	m.folio = newPortfolio(m.cfg.StartingCash)
	m.folio.keys = keys
}
