package game

import (
	"time"

	"tycoon/internal/market"
	"tycoon/internal/multiplier"
	"tycoon/internal/num"
	"tycoon/internal/tick"
)

type ClockStatus struct {
	Tick      uint64     `json:"tick"`
	State     tick.State `json:"state"`
	Paused    bool       `json:"paused"`
	TickEvery string     `json:"tick_every"`
	Failures  uint64     `json:"failures"`
}

type OrderInput struct {
	AssetID        string      `json:"asset_id"`
	Side           string      `json:"side"`
	Amount         num.Decimal `json:"amount"`
	IdempotencyKey string      `json:"-"`
}

type ContributionInput struct {
	ID       string      `json:"id,omitempty"`
	Source   string      `json:"source"`
	Kind     string      `json:"kind"`
	Category string      `json:"category"`
	Value    num.Decimal `json:"value"`
	Mode     string      `json:"mode,omitempty"`
}

type MultiplierView struct {
	Category  string              `json:"category"`
	Rule      multiplier.Rule     `json:"rule"`
	Value     num.Decimal         `json:"value"`
	Breakdown []multiplier.Factor `json:"breakdown,omitempty"`
}

type PrestigeState struct {
	Points num.Decimal `json:"points"`
	Resets int         `json:"resets"`
}

type PrestigeResult struct {
	Earned        num.Decimal `json:"earned"`
	Points        num.Decimal `json:"points"`
	Resets        int         `json:"resets"`
	Cleared       int         `json:"cleared"`
	AllIncomeMult num.Decimal `json:"all_income_multiplier"`
}

// TickSummary is what a tick listener sees once the market has committed.
type TickSummary struct {
	Tick      uint64                 `json:"tick"`
	Manual    bool                   `json:"manual"`
	Quotes    []market.Quote         `json:"quotes"`
	Dividends []market.DividendEvent `json:"dividends,omitempty"`
	Cash      num.Decimal            `json:"cash"`
}

type SaveResult struct {
	Slot    string    `json:"slot"`
	Tick    uint64    `json:"tick"`
	Version int       `json:"version"`
	SavedAt time.Time `json:"saved_at"`
	Bytes   int       `json:"bytes"`
}

// Snapshot is the persisted game layout.
type Snapshot struct {
	Version       int                       `json:"version"`
	SavedAt       time.Time                 `json:"saved_at"`
	Tick          uint64                    `json:"tick"`
	Market        market.State              `json:"market"`
	Contributions []multiplier.Contribution `json:"contributions"`
	Prestige      PrestigeState             `json:"prestige"`
}
