package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"tycoon/internal/config"
	"tycoon/internal/market"
	"tycoon/internal/multiplier"
	"tycoon/internal/num"
	"tycoon/internal/save"
	"tycoon/internal/tick"
)

const (
	marketSubscriber = "market"
	prestigePointsID = "prestige:points"
)

type Options struct {
	Balance   config.Balance
	Seed      int64
	TickEvery time.Duration
	// Store is optional; Save and Load fail with ErrNoStore without one.
	Store        save.Store
	AutosaveSlot string
	// MaxOfflineTicks caps CatchUp. Zero means the scheduler limit.
	MaxOfflineTicks int64
	Logger          *slog.Logger
	Now             func() time.Time
}

type Service struct {
	log        *slog.Logger
	clock      *tick.Scheduler
	mults      *multiplier.Engine
	market     *market.Model
	store      save.Store
	balance    config.Balance
	slot       string
	maxOffline int64
	now        func() time.Time

	mu            sync.RWMutex
	prestige      PrestigeState
	dividends     []market.DividendEvent
	dividendsTick uint64
}

func NewService(opts Options) (*Service, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if err := opts.Balance.Validate(); err != nil {
		return nil, err
	}

	mults, err := multiplier.NewEngine(opts.Balance.MultiplierCategories()...)
	if err != nil {
		return nil, fmt.Errorf("build multiplier engine: %w", err)
	}
	required := []string{
		multiplier.AllIncome, multiplier.StockReturns, multiplier.CryptoReturns,
		multiplier.DividendIncome, multiplier.OfflineEfficiency, multiplier.PrestigeGain,
	}
	if err := mults.Validate(required...); err != nil {
		return nil, err
	}

	table, err := opts.Balance.RegimeTable()
	if err != nil {
		return nil, err
	}
	model := market.NewModel(opts.Balance.MarketConfig(), table, market.NewSource(opts.Seed), mults, logger)
	for _, spec := range opts.Balance.AssetSpecs() {
		if err := ValidateAssetID(spec.ID); err != nil {
			return nil, fmt.Errorf("asset %q: %w", spec.ID, err)
		}
		if err := model.AddAsset(spec); err != nil {
			return nil, err
		}
	}

	slot := strings.TrimSpace(opts.AutosaveSlot)
	if slot != "" {
		if slot, err = save.NormalizeSlot(slot); err != nil {
			return nil, err
		}
	}

	s := &Service{
		log:        logger,
		clock:      tick.New(opts.TickEvery, logger),
		mults:      mults,
		market:     model,
		store:      opts.Store,
		balance:    opts.Balance,
		slot:       slot,
		maxOffline: opts.MaxOfflineTicks,
		now:        now,
		prestige:   PrestigeState{Points: num.Zero},
	}
	if err := s.applyBonuses(); err != nil {
		return nil, err
	}
	if err := s.clock.Subscribe(marketSubscriber, s.onTick); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) onTick(_ context.Context, ev tick.Event) error {
	paid := s.market.Step(ev.Tick)
	s.mu.Lock()
	s.dividends = paid
	s.dividendsTick = ev.Tick
	s.mu.Unlock()
	return nil
}

func (s *Service) applyBonuses() error {
	for _, c := range s.balance.Contributions() {
		if _, err := s.mults.Add(c); err != nil {
			return fmt.Errorf("balance bonus %s: %w", c.Source, err)
		}
	}
	return nil
}

func (s *Service) applyPrestigePoints(points num.Decimal) error {
	if !points.IsPositive() {
		s.mults.Remove(prestigePointsID)
		return nil
	}
	_, err := s.mults.Add(multiplier.Contribution{
		ID:       prestigePointsID,
		Source:   "prestige_points",
		Kind:     multiplier.KindPrestige,
		Category: multiplier.AllIncome,
		Value:    points.Mul(PrestigePointValue),
		Mode:     multiplier.RuleAdditive,
	})
	return err
}

// Start runs the tick loop detached from ctx's cancellation so a request
// context can start it without bounding its lifetime.
func (s *Service) Start(ctx context.Context) error {
	return s.clock.Start(context.WithoutCancel(ctx))
}

func (s *Service) Stop() { s.clock.Stop() }

func (s *Service) Pause() { s.clock.Pause() }

func (s *Service) Resume() { s.clock.Resume() }

// Shutdown stops the loop and writes the autosave slot when one is set.
func (s *Service) Shutdown(ctx context.Context) error {
	s.clock.Stop()
	if s.store == nil || s.slot == "" {
		return nil
	}
	if _, err := s.Save(ctx, s.slot); err != nil {
		return fmt.Errorf("shutdown save: %w", err)
	}
	return nil
}

func (s *Service) Advance(ctx context.Context, n int64) (ClockStatus, error) {
	if err := s.clock.AdvanceManually(ctx, n); err != nil {
		return s.ClockStatus(), err
	}
	return s.ClockStatus(), nil
}

// CatchUp replays the ticks missed while the game was closed, scaled by
// offline efficiency. It returns how many ticks were applied.
func (s *Service) CatchUp(ctx context.Context, elapsed time.Duration) (int64, error) {
	if elapsed < 0 {
		return 0, ErrInvalidOfflineDuration
	}
	efficiency := s.balance.Offline.Efficiency.Mul(s.mults.Multiplier(multiplier.OfflineEfficiency))
	limit := s.maxOffline
	if limit <= 0 || limit > tick.MaxManualTicks {
		limit = tick.MaxManualTicks
	}
	n := OfflineTicks(s.clock.TicksFor(elapsed), efficiency, limit)
	if n == 0 {
		return 0, nil
	}
	if err := s.clock.AdvanceManually(ctx, n); err != nil {
		return 0, err
	}
	s.log.Info("offline progress applied", "elapsed", elapsed.String(), "ticks", n, "efficiency", efficiency.String())
	return n, nil
}

func (s *Service) CurrentTick() uint64 { return s.clock.CurrentTick() }

func (s *Service) ClockStatus() ClockStatus {
	return ClockStatus{
		Tick:      s.clock.CurrentTick(),
		State:     s.clock.State(),
		Paused:    s.clock.Paused(),
		TickEvery: s.clock.Every().String(),
		Failures:  s.clock.Failures(),
	}
}

// Subscribe registers fn to run after the market on every tick. Handlers run
// inside the tick and must not call back into clock operations.
func (s *Service) Subscribe(name string, fn tick.Handler) error {
	if strings.TrimSpace(name) == marketSubscriber {
		return fmt.Errorf("%w: %s", ErrReservedSubscriberName, name)
	}
	return s.clock.Subscribe(name, fn)
}

func (s *Service) Unsubscribe(name string) bool {
	if name == marketSubscriber {
		return false
	}
	return s.clock.Unsubscribe(name)
}

// Summary describes the market as committed at ev. Dividends are included
// only when they were paid on ev.Tick.
func (s *Service) Summary(ev tick.Event) TickSummary {
	out := TickSummary{
		Tick:   ev.Tick,
		Manual: ev.Manual,
		Quotes: s.market.Quotes(),
		Cash:   s.market.Cash(),
	}
	s.mu.RLock()
	if s.dividendsTick == ev.Tick && len(s.dividends) > 0 {
		out.Dividends = append([]market.DividendEvent(nil), s.dividends...)
	}
	s.mu.RUnlock()
	return out
}

func (s *Service) Assets() []market.AssetView { return s.market.Assets() }

func (s *Service) Asset(id string) (market.AssetView, error) {
	id = NormalizeAssetID(id)
	if err := ValidateAssetID(id); err != nil {
		return market.AssetView{}, err
	}
	return s.market.Asset(id)
}

func (s *Service) Buy(in market.TradeInput) (market.TradeResult, error) {
	in.AssetID = NormalizeAssetID(in.AssetID)
	if err := ValidateAssetID(in.AssetID); err != nil {
		return market.TradeResult{}, err
	}
	return s.market.Buy(in)
}

func (s *Service) Sell(in market.TradeInput) (market.TradeResult, error) {
	in.AssetID = NormalizeAssetID(in.AssetID)
	if err := ValidateAssetID(in.AssetID); err != nil {
		return market.TradeResult{}, err
	}
	return s.market.Sell(in)
}

func (s *Service) PlaceOrder(in OrderInput) (market.TradeResult, error) {
	side, err := ParseSide(in.Side)
	if err != nil {
		return market.TradeResult{}, err
	}
	trade := market.TradeInput{AssetID: in.AssetID, Amount: in.Amount, IdempotencyKey: in.IdempotencyKey}
	var res market.TradeResult
	if side == market.SideBuy {
		res, err = s.Buy(trade)
	} else {
		res, err = s.Sell(trade)
	}
	if err != nil {
		return res, err
	}
	s.log.Info("order filled", "trade_id", res.TradeID, "side", side, "asset", res.AssetID, "amount", res.Amount.String(), "price", res.Price.String())
	return res, nil
}

func (s *Service) Portfolio() market.PortfolioView { return s.market.Portfolio() }

func (s *Service) Multiplier(category string) num.Decimal { return s.mults.Multiplier(category) }

func (s *Service) Breakdown(category string) (MultiplierView, error) {
	category = strings.TrimSpace(category)
	if err := s.mults.Validate(category); err != nil {
		return MultiplierView{}, err
	}
	for _, c := range s.mults.Categories() {
		if c.Name == category {
			return s.view(c, true), nil
		}
	}
	return MultiplierView{}, fmt.Errorf("%w: %q", multiplier.ErrUnknownCategory, category)
}

func (s *Service) Multipliers() []MultiplierView {
	cats := s.mults.Categories()
	out := make([]MultiplierView, 0, len(cats))
	for _, c := range cats {
		out = append(out, s.view(c, false))
	}
	return out
}

func (s *Service) view(c multiplier.Category, detail bool) MultiplierView {
	rule := c.Rule
	if rule == "" {
		rule = multiplier.RuleMultiplicative
	}
	v := MultiplierView{Category: c.Name, Rule: rule, Value: s.mults.Multiplier(c.Name)}
	if detail {
		v.Breakdown = s.mults.Breakdown(c.Name)
	}
	return v
}

func (s *Service) AddContribution(in ContributionInput) (string, error) {
	id := strings.TrimSpace(in.ID)
	if id == prestigePointsID {
		return "", fmt.Errorf("%w: %s", ErrReservedContribution, id)
	}
	id, err := s.mults.Add(multiplier.Contribution{
		ID:       id,
		Source:   strings.TrimSpace(in.Source),
		Kind:     multiplier.Kind(strings.ToLower(strings.TrimSpace(in.Kind))),
		Category: strings.TrimSpace(in.Category),
		Value:    in.Value,
		Mode:     multiplier.Rule(strings.ToLower(strings.TrimSpace(in.Mode))),
	})
	if err != nil {
		return "", err
	}
	s.log.Debug("contribution added", "id", id, "source", in.Source, "category", in.Category, "value", in.Value.String())
	return id, nil
}

func (s *Service) RemoveContribution(id string) error {
	id = strings.TrimSpace(id)
	if id == prestigePointsID {
		return fmt.Errorf("%w: %s", ErrReservedContribution, id)
	}
	if !s.mults.Remove(id) {
		return fmt.Errorf("%w: %s", ErrContributionNotFound, id)
	}
	return nil
}

func (s *Service) PrestigeState() PrestigeState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prestige
}

// PrestigeReset banks points scaled by prestige_gain, clears every
// contribution that does not survive a prestige, and returns the portfolio
// to starting cash. Prices, regimes and the tick counter carry over.
func (s *Service) PrestigeReset(ctx context.Context, points num.Decimal) (PrestigeResult, error) {
	if points.Sign() < 0 {
		return PrestigeResult{}, ErrInvalidPrestigePoints
	}
	wasRunning := s.clock.State() == tick.StateRunning
	var out PrestigeResult
	err := s.clock.Load(ctx, func() (uint64, error) {
		current := s.clock.CurrentTick()
		earned := points.Mul(s.mults.Multiplier(multiplier.PrestigeGain))
		cleared := s.mults.ClearExcept(multiplier.PrestigeKinds...)
		if err := s.applyBonuses(); err != nil {
			return 0, err
		}

		s.mu.Lock()
		s.prestige.Points = s.prestige.Points.Add(earned)
		s.prestige.Resets++
		state := s.prestige
		s.dividends = nil
		s.mu.Unlock()

		if err := s.applyPrestigePoints(state.Points); err != nil {
			return 0, err
		}
		s.market.ResetPortfolio()
		out = PrestigeResult{
			Earned:        earned,
			Points:        state.Points,
			Resets:        state.Resets,
			Cleared:       cleared,
			AllIncomeMult: s.mults.Multiplier(multiplier.AllIncome),
		}
		return current, nil
	})
	if restartErr := s.restart(ctx, wasRunning); err == nil {
		err = restartErr
	}
	if err != nil {
		return PrestigeResult{}, err
	}
	s.log.Info("prestige reset", "earned", out.Earned.String(), "points", out.Points.String(), "resets", out.Resets, "cleared", out.Cleared)
	return out, nil
}

// HardReset wipes the game back to a fresh start with the same seed.
func (s *Service) HardReset(ctx context.Context) error {
	wasRunning := s.clock.State() == tick.StateRunning
	err := s.clock.Reset(ctx, func() error {
		if err := s.mults.Restore(nil); err != nil {
			return err
		}
		if err := s.applyBonuses(); err != nil {
			return err
		}
		s.market.ResetAll()
		s.mu.Lock()
		s.prestige = PrestigeState{Points: num.Zero}
		s.dividends = nil
		s.dividendsTick = 0
		s.mu.Unlock()
		return nil
	})
	if restartErr := s.restart(ctx, wasRunning); err == nil {
		err = restartErr
	}
	if err != nil {
		return err
	}
	s.log.Info("hard reset")
	return nil
}

func (s *Service) restart(ctx context.Context, wasRunning bool) error {
	if !wasRunning {
		return nil
	}
	return s.Start(ctx)
}

// Snapshot captures the whole game between two ticks.
func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.clock.Exclusive(ctx, func() error {
		s.mu.RLock()
		prestige := s.prestige
		s.mu.RUnlock()
		snap = Snapshot{
			Version:       SnapshotVersion,
			SavedAt:       s.now().UTC(),
			Tick:          s.clock.CurrentTick(),
			Market:        s.market.State(),
			Contributions: s.mults.Contributions(),
			Prestige:      prestige,
		}
		return nil
	})
	return snap, err
}

// Restore replaces the game with snap. Nothing changes when snap is rejected.
func (s *Service) Restore(ctx context.Context, snap Snapshot) error {
	if snap.Version != SnapshotVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedSnapshot, snap.Version)
	}
	if snap.Market.Tick != snap.Tick {
		return fmt.Errorf("%w: market tick %d does not match %d", ErrUnsupportedSnapshot, snap.Market.Tick, snap.Tick)
	}
	wasRunning := s.clock.State() == tick.StateRunning
	err := s.clock.Load(ctx, func() (uint64, error) {
		previous := s.mults.Contributions()
		if err := s.mults.Restore(snap.Contributions); err != nil {
			return 0, err
		}
		if err := s.market.Restore(snap.Market); err != nil {
			if rbErr := s.mults.Restore(previous); rbErr != nil {
				return 0, errors.Join(err, rbErr)
			}
			return 0, err
		}
		s.mu.Lock()
		s.prestige = snap.Prestige
		if s.prestige.Points.Sign() < 0 {
			s.prestige.Points = num.Zero
		}
		s.dividends = nil
		s.dividendsTick = 0
		s.mu.Unlock()
		return snap.Tick, nil
	})
	if restartErr := s.restart(ctx, wasRunning); err == nil {
		err = restartErr
	}
	return err
}

func (s *Service) Save(ctx context.Context, slot string) (SaveResult, error) {
	if s.store == nil {
		return SaveResult{}, ErrNoStore
	}
	slot, err := save.NormalizeSlot(slot)
	if err != nil {
		return SaveResult{}, err
	}
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return SaveResult{}, err
	}
	raw, err := EncodeSnapshot(snap)
	if err != nil {
		return SaveResult{}, err
	}
	rec := save.Record{Slot: slot, Version: snap.Version, Tick: snap.Tick, Payload: raw, UpdatedAt: snap.SavedAt}
	if err := s.store.Put(ctx, rec); err != nil {
		return SaveResult{}, err
	}
	s.log.Info("game saved", "slot", slot, "tick", snap.Tick, "bytes", len(raw))
	return SaveResult{Slot: slot, Tick: snap.Tick, Version: snap.Version, SavedAt: snap.SavedAt, Bytes: len(raw)}, nil
}

func (s *Service) Load(ctx context.Context, slot string) (Snapshot, error) {
	if s.store == nil {
		return Snapshot{}, ErrNoStore
	}
	slot, err := save.NormalizeSlot(slot)
	if err != nil {
		return Snapshot{}, err
	}
	rec, err := s.store.Get(ctx, slot)
	if err != nil {
		return Snapshot{}, err
	}
	snap, err := DecodeSnapshot(rec.Payload)
	if err != nil {
		return Snapshot{}, err
	}
	if err := s.Restore(ctx, snap); err != nil {
		return Snapshot{}, err
	}
	s.log.Info("game loaded", "slot", slot, "tick", snap.Tick)
	return snap, nil
}

func (s *Service) Saves(ctx context.Context) ([]save.Record, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	return s.store.List(ctx)
}

func (s *Service) DeleteSave(ctx context.Context, slot string) error {
	if s.store == nil {
		return ErrNoStore
	}
	return s.store.Delete(ctx, slot)
}
