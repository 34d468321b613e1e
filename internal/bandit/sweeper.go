package bandit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Aman-CERP/amanrecall/internal/async"
)

// maxCatchUpSweeps bounds the sweeps replayed for one long gap between runs.
const maxCatchUpSweeps = 64

// SweepStore lists stored scopes and remembers when the last sweep ran.
// LastSweep returns the zero time when no sweep has been recorded.
type SweepStore interface {
	Scopes(ctx context.Context) ([]Scope, error)
	LastSweep(ctx context.Context) (time.Time, error)
	SetLastSweep(ctx context.Context, at time.Time) error
}

// Sweeper decays every tenant's posteriors on a fixed interval.
type Sweeper struct {
	c        *Controller
	interval time.Duration
	store    SweepStore
	logger   *slog.Logger
	task     *async.Periodic
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweepStore makes sweeps cover every stored scope, not only the ones
// already loaded, and records each sweep so CatchUp can replay missed ones.
func WithSweepStore(s SweepStore) SweeperOption {
	return func(sw *Sweeper) { sw.store = s }
}

// NewSweeper creates a sweeper for c. It does nothing until Start.
func NewSweeper(c *Controller, interval time.Duration, logger *slog.Logger, opts ...SweeperOption) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{c: c, interval: interval, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	s.task = async.NewPeriodic("bandit_decay", interval, func(ctx context.Context) error {
		_, err := s.Sweep(ctx)
		return err
	}, logger)
	return s
}

// Sweep runs one decay pass and returns the number of tenants decayed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	n, err := s.sweep(ctx, 1)
	if err != nil {
		return n, err
	}
	return n, s.mark(ctx, s.c.now())
}

// CatchUp replays the sweeps missed since the last recorded one, one per
// elapsed interval, and returns how many ran. The first call on a fresh
// store only records the current time.
func (s *Sweeper) CatchUp(ctx context.Context) (int, error) {
	if s.store == nil || s.interval <= 0 {
		return 0, nil
	}
	last, err := s.store.LastSweep(ctx)
	if err != nil {
		return 0, fmt.Errorf("read last sweep: %w", err)
	}
	now := s.c.now()
	if last.IsZero() {
		return 0, s.mark(ctx, now)
	}

	missed := int(now.Sub(last) / s.interval)
	if missed <= 0 {
		return 0, nil
	}
	next := last.Add(time.Duration(missed) * s.interval)
	if missed > maxCatchUpSweeps {
		missed, next = maxCatchUpSweeps, now
	}
	if _, err := s.sweep(ctx, missed); err != nil {
		return 0, err
	}
	s.logger.Info("bandit_decay_catch_up",
		slog.Int("sweeps", missed),
		slog.Time("last_sweep", last))
	return missed, s.mark(ctx, next)
}

func (s *Sweeper) sweep(ctx context.Context, times int) (int, error) {
	if s.store != nil {
		scopes, err := s.store.Scopes(ctx)
		if err != nil {
			return 0, fmt.Errorf("list scopes: %w", err)
		}
		// Loading a scope is a side effect of Snapshot.
		for _, scope := range scopes {
			if _, err := s.c.Snapshot(ctx, scope); err != nil {
				return 0, err
			}
		}
	}
	for i := 0; i < times; i++ {
		if err := s.c.Decay(ctx); err != nil {
			return 0, err
		}
	}
	return len(s.c.Tenants()), nil
}

func (s *Sweeper) mark(ctx context.Context, at time.Time) error {
	if s.store == nil {
		return nil
	}
	if err := s.store.SetLastSweep(ctx, at); err != nil {
		return fmt.Errorf("record sweep: %w", err)
	}
	return nil
}

// Start begins sweeping in the background.
func (s *Sweeper) Start(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	s.task.Start(ctx)
}

// Stop halts sweeping and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() { s.task.Stop() }

// Status reports sweep counts and the last error.
func (s *Sweeper) Status() async.Snapshot { return s.task.Snapshot() }
