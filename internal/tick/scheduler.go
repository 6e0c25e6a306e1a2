package tick

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/petermattis/goid"
)

const (
	DefaultEvery   = 100 * time.Millisecond
	MaxManualTicks = int64(50_000_000)
)

var (
	ErrInvalidTickRequest  = errors.New("invalid tick request")
	ErrReentrantTick       = errors.New("tick requested from inside a tick handler")
	ErrDuplicateSubscriber = errors.New("subscriber name already registered")
)

type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
)

type Event struct {
	Tick   uint64
	Manual bool
}

type Handler func(ctx context.Context, ev Event) error

type SubscriberError struct {
	Name string
	Tick uint64
	Err  error
}

func (e *SubscriberError) Error() string {
	return fmt.Sprintf("subscriber %q failed at tick %d: %v", e.Name, e.Tick, e.Err)
}

func (e *SubscriberError) Unwrap() error { return e.Err }

type subscriber struct {
	name string
	fn   Handler
}

type Scheduler struct {
	every time.Duration
	log   *slog.Logger

	// tickMu serializes every tick, manual or automatic. owner is the id of
	// the goroutine holding it, zero when free.
	tickMu sync.Mutex
	owner  atomic.Int64
	tick   atomic.Uint64

	subsMu sync.RWMutex
	subs   []subscriber

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	paused   atomic.Bool
	failures atomic.Uint64
}

func New(every time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if every <= 0 {
		every = DefaultEvery
	}
	return &Scheduler{every: every, log: logger}
}

func (s *Scheduler) Every() time.Duration { return s.every }

func (s *Scheduler) CurrentTick() uint64 { return s.tick.Load() }

func (s *Scheduler) Failures() uint64 { return s.failures.Load() }

func (s *Scheduler) State() State {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return StateRunning
	}
	return StateStopped
}

func (s *Scheduler) Pause()       { s.paused.Store(true) }
func (s *Scheduler) Resume()      { s.paused.Store(false) }
func (s *Scheduler) Paused() bool { return s.paused.Load() }

func (s *Scheduler) Subscribe(name string, fn Handler) error {
	if name == "" || fn == nil {
		return fmt.Errorf("subscribe: name and handler are required")
	}
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, sub := range s.subs {
		if sub.name == name {
			return fmt.Errorf("%w: %s", ErrDuplicateSubscriber, name)
		}
	}
	s.subs = append(s.subs, subscriber{name: name, fn: fn})
	return nil
}

func (s *Scheduler) Unsubscribe(name string) bool {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for i, sub := range s.subs {
		if sub.name == name {
			s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Scheduler) Start(ctx context.Context) error {
	if s.inTick() {
		return ErrReentrantTick
	}
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(loopCtx, s.done)
	s.log.Info("scheduler started", "tick_every", s.every.String(), "tick", s.CurrentTick())
	return nil
}

// Stop returns once the loop goroutine has exited; no automatic tick is in
// flight afterwards. Called from a tick handler it only cancels the loop,
// which exits once the current tick completes.
func (s *Scheduler) Stop() {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.runMu.Unlock()

	cancel()
	if s.inTick() {
		s.log.Info("scheduler stop requested from inside a tick", "tick", s.CurrentTick())
		return
	}
	<-done
	s.log.Info("scheduler stopped", "tick", s.CurrentTick())
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.runMu.Lock()
			if s.done == done {
				s.running = false
				s.cancel, s.done = nil, nil
			}
			s.runMu.Unlock()
			return
		case <-ticker.C:
			s.autoTick(ctx)
		}
	}
}

func (s *Scheduler) autoTick(ctx context.Context) {
	if s.paused.Load() {
		return
	}
	if err := s.lockTicks(); err != nil {
		return
	}
	defer s.unlockTicks()
	if ctx.Err() != nil || s.State() != StateRunning || s.paused.Load() {
		return
	}
	s.apply(ctx, false)
}

// AdvanceManually applies n ticks synchronously. It works whether or not the
// automatic loop is running; both paths share the tick lock.
func (s *Scheduler) AdvanceManually(ctx context.Context, n int64) error {
	if s.inTick() {
		return ErrReentrantTick
	}
	if n < 0 || n > MaxManualTicks {
		return fmt.Errorf("%w: count %d outside [0, %d]", ErrInvalidTickRequest, n, MaxManualTicks)
	}
	if n == 0 {
		return nil
	}
	if err := s.lockTicks(); err != nil {
		return err
	}
	defer s.unlockTicks()
	for i := int64(0); i < n; i++ {
		s.apply(ctx, true)
	}
	return nil
}

// TicksFor converts a wall-clock span into whole ticks at the configured
// cadence.
func (s *Scheduler) TicksFor(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(d / s.every)
}

// apply runs every handler for the next tick and only then commits the
// counter, so CurrentTick never runs ahead of subscriber state.
func (s *Scheduler) apply(ctx context.Context, manual bool) {
	ev := Event{Tick: s.tick.Load() + 1, Manual: manual}
	s.subsMu.RLock()
	subs := make([]subscriber, len(s.subs))
	copy(subs, s.subs)
	s.subsMu.RUnlock()

	for _, sub := range subs {
		if err := s.run(ctx, sub, ev); err != nil {
			s.failures.Add(1)
			s.log.Error("tick subscriber failed", "subscriber", sub.name, "tick", ev.Tick, "err", err)
		}
	}
	s.tick.Store(ev.Tick)
}

func (s *Scheduler) run(ctx context.Context, sub subscriber, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &SubscriberError{Name: sub.name, Tick: ev.Tick, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if runErr := sub.fn(ctx, ev); runErr != nil {
		return &SubscriberError{Name: sub.name, Tick: ev.Tick, Err: runErr}
	}
	return nil
}

// Exclusive runs fn between ticks while holding the tick lock.
func (s *Scheduler) Exclusive(_ context.Context, fn func() error) error {
	if err := s.lockTicks(); err != nil {
		return err
	}
	defer s.unlockTicks()
	return fn()
}

// Reset stops automatic advancement, zeroes the counter and runs fn with the
// tick lock held. The scheduler is left stopped.
func (s *Scheduler) Reset(ctx context.Context, fn func() error) error {
	return s.Load(ctx, func() (uint64, error) {
		if fn == nil {
			return 0, nil
		}
		return 0, fn()
	})
}

// Load stops automatic advancement and runs fn with the tick lock held. The
// counter moves to the tick fn returns only when fn succeeds.
func (s *Scheduler) Load(_ context.Context, fn func() (uint64, error)) error {
	if s.inTick() {
		return ErrReentrantTick
	}
	s.Stop()
	if err := s.lockTicks(); err != nil {
		return err
	}
	defer s.unlockTicks()
	tick, err := fn()
	if err != nil {
		return err
	}
	s.tick.Store(tick)
	return nil
}

// Restore sets the counter from a save. Callers stop the loop first.
func (s *Scheduler) Restore(tick uint64) error {
	if err := s.lockTicks(); err != nil {
		return err
	}
	defer s.unlockTicks()
	s.tick.Store(tick)
	return nil
}

// inTick reports whether the calling goroutine already holds the tick lock,
// either applying a tick or inside Exclusive, Reset or Load.
func (s *Scheduler) inTick() bool {
	return s.owner.Load() == goid.Get()
}

func (s *Scheduler) lockTicks() error {
	id := goid.Get()
	if s.owner.Load() == id {
		return ErrReentrantTick
	}
	s.tickMu.Lock()
	s.owner.Store(id)
	return nil
}

func (s *Scheduler) unlockTicks() {
	s.owner.Store(0)
	s.tickMu.Unlock()
}
