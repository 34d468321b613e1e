package strategy

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	amerrors "github.com/Aman-CERP/amanrecall/internal/errors"
	"github.com/Aman-CERP/amanrecall/internal/fusion"
	"github.com/Aman-CERP/amanrecall/internal/telemetry"
)

// Status is the outcome of one executor call.
type Status string

const (
	StatusOK          Status = "ok"
	StatusTimeout     Status = "timeout"
	StatusError       Status = "error"
	StatusCircuitOpen Status = "circuit_open"
	StatusCancelled   Status = "cancelled"
	StatusUnknown     Status = "unknown_strategy"
)

// Outcome reports what happened to one strategy during a dispatch.
type Outcome struct {
	Strategy string
	Status   Status
	Hits     int
	Elapsed  time.Duration
	Err      error
}

// DefaultTimeout bounds each executor call when none is configured.
const DefaultTimeout = 500 * time.Millisecond

// Dispatcher fans a query out to strategies in parallel.
type Dispatcher struct {
	registry *Registry
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *telemetry.Metrics

	breakerMaxFailures int
	breakerReset       time.Duration
	breakerMu          sync.Mutex
	breakers           map[string]*amerrors.CircuitBreaker
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithTimeout sets the per-strategy timeout.
func WithTimeout(d time.Duration) DispatcherOption {
	return func(x *Dispatcher) {
		if d > 0 {
			x.timeout = d
		}
	}
}

// WithBreaker enables a circuit breaker per strategy.
func WithBreaker(maxFailures int, reset time.Duration) DispatcherOption {
	return func(x *Dispatcher) {
		x.breakerMaxFailures = maxFailures
		x.breakerReset = reset
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(x *Dispatcher) {
		if l != nil {
			x.logger = l
		}
	}
}

// WithMetrics records per-strategy call outcomes.
func WithMetrics(m *telemetry.Metrics) DispatcherOption {
	return func(x *Dispatcher) {
		x.metrics = m
	}
}

// NewDispatcher creates a dispatcher over registry.
func NewDispatcher(registry *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		timeout:  DefaultTimeout,
		logger:   slog.Default(),
		breakers: make(map[string]*amerrors.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Timeout returns the per-strategy timeout.
func (d *Dispatcher) Timeout() time.Duration {
	return d.timeout
}

// Dispatch runs every strategy in ids concurrently and waits for each to
// finish or time out. A failed, timed-out or short-circuited strategy yields
// an empty list; nothing is retried. Lists and outcomes are returned in the
// order of ids.
func (d *Dispatcher) Dispatch(ctx context.Context, q Query, ids []string) ([]fusion.List, []Outcome) {
	lists := make([]fusion.List, len(ids))
	outcomes := make([]Outcome, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		g.Go(func() error {
			lists[i], outcomes[i] = d.run(gctx, id, q)
			return nil // partial results are fine
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		d.record(o)
	}
	return lists, outcomes
}

func (d *Dispatcher) run(ctx context.Context, id string, q Query) (fusion.List, Outcome) {
	empty := fusion.List{Strategy: id}
	exec, ok := d.registry.Get(id)
	if !ok {
		return empty, Outcome{Strategy: id, Status: StatusUnknown}
	}

	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var hits []Hit
	var err error
	if cb := d.breaker(id); cb != nil {
		hits, err = amerrors.CircuitDo(cb, func() ([]Hit, error) {
			return invoke(callCtx, exec, q)
		})
	} else {
		hits, err = invoke(callCtx, exec, q)
	}
	elapsed := time.Since(start)

	if err != nil {
		return empty, Outcome{Strategy: id, Status: classify(ctx, err), Elapsed: elapsed, Err: err}
	}

	list := ToList(id, hits, q.Limit)
	return list, Outcome{Strategy: id, Status: StatusOK, Hits: len(list.Candidates), Elapsed: elapsed}
}

// invoke runs exec on its own goroutine so a call that ignores ctx is still
// abandoned at the deadline.
func invoke(ctx context.Context, exec Executor, q Query) ([]Hit, error) {
	type result struct {
		hits []Hit
		err  error
	}
	done := make(chan result, 1)

	go func() {
		hits, err := exec.Execute(ctx, q)
		done <- result{hits: hits, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err == nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return r.hits, r.err
	}
}

func classify(parent context.Context, err error) Status {
	switch {
	case errors.Is(err, amerrors.ErrCircuitOpen):
		return StatusCircuitOpen
	case parent.Err() != nil:
		return StatusCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return StatusTimeout
	default:
		return StatusError
	}
}

func (d *Dispatcher) breaker(id string) *amerrors.CircuitBreaker {
	if d.breakerMaxFailures <= 0 {
		return nil
	}

	d.breakerMu.Lock()
	defer d.breakerMu.Unlock()

	cb, ok := d.breakers[id]
	if !ok {
		cb = amerrors.NewCircuitBreaker(id,
			amerrors.WithMaxFailures(d.breakerMaxFailures),
			amerrors.WithResetTimeout(d.breakerReset),
		)
		d.breakers[id] = cb
	}
	return cb
}

func (d *Dispatcher) record(o Outcome) {
	d.metrics.ObserveStrategy(o.Strategy, string(o.Status), o.Elapsed)

	switch o.Status {
	case StatusOK:
		d.logger.Debug("strategy_completed",
			slog.String("strategy", o.Strategy),
			slog.Int("hits", o.Hits),
			slog.Duration("elapsed", o.Elapsed))
	case StatusTimeout:
		d.logger.Warn("strategy_timeout",
			slog.String("strategy", o.Strategy),
			slog.Duration("timeout", d.timeout),
			slog.Duration("elapsed", o.Elapsed))
	case StatusCircuitOpen:
		d.logger.Debug("strategy_circuit_open", slog.String("strategy", o.Strategy))
	case StatusCancelled:
		d.logger.Debug("strategy_cancelled", slog.String("strategy", o.Strategy))
	case StatusUnknown:
		d.logger.Warn("strategy_unknown", slog.String("strategy", o.Strategy))
	default:
		attrs := []any{slog.String("strategy", o.Strategy)}
		for _, a := range amerrors.LogAttrs(o.Err) {
			attrs = append(attrs, a)
		}
		d.logger.Warn("strategy_failed", attrs...)
	}
}
