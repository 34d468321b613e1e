// Package feedback closes the learning loop: it accepts outcome reports for
// answered queries and turns each one into exactly one posterior update.
//
// Submit never blocks. Events go onto a bounded queue drained by worker
// goroutines. A query id is accepted once: duplicates are caught first by an
// in-memory set and then by the Ledger's insert-or-ignore. Queries that get
// no feedback within the window time out and leave the arm unchanged.
package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/Aman-CERP/amanrecall/internal/bandit"
	amerrors "github.com/Aman-CERP/amanrecall/internal/errors"
	"github.com/Aman-CERP/amanrecall/internal/telemetry"
)

// State is a query's position in the feedback lifecycle.
type State string

const (
	StatePending  State = "FEEDBACK_PENDING"
	StateRecorded State = "FEEDBACK_RECORDED"
	StateRejected State = "FEEDBACK_REJECTED"
	StateTimeout  State = "FEEDBACK_TIMEOUT"
	StateUnknown  State = "UNKNOWN"
)

// Metric statuses.
const (
	statusRecorded      = "recorded"
	statusDuplicate     = "duplicate"
	statusIgnored       = "ignored"
	statusRejected      = "rejected"
	statusDropped       = "dropped"
	statusQueueFull     = "queue_full"
	statusTimeout       = "timeout"
	statusPersistFailed = "persist_failed"
)

// Token is issued when a query is answered and expected to receive feedback.
type Token struct {
	QueryID  string
	Scope    bandit.Scope
	ArmID    string
	IssuedAt time.Time
}

// Event is one feedback report.
type Event struct {
	QueryID   string         `json:"query_id"`
	ArmID     string         `json:"arm_id"`
	Outcome   bandit.Outcome `json:"outcome"`
	Timestamp time.Time      `json:"timestamp"`
}

// Ledger durably records accepted events. Record returns false when the
// query id was already recorded.
type Ledger interface {
	Record(ctx context.Context, ev Event) (bool, error)
}

// Learner applies outcomes to arm posteriors. *bandit.Controller satisfies it.
type Learner interface {
	Apply(ctx context.Context, scope bandit.Scope, armID string, outcome bandit.Outcome) error
	Persist(ctx context.Context, scope bandit.Scope) error
}

// Config sizes the recorder.
type Config struct {
	QueueSize       int
	Workers         int
	PendingCapacity int
	Window          time.Duration
	Retry           amerrors.RetryConfig
}

// DefaultConfig mirrors the configuration file defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:       1024,
		Workers:         2,
		PendingCapacity: 100000,
		Window:          24 * time.Hour,
		Retry:           amerrors.DefaultRetryConfig(),
	}
}

// Recorder accepts feedback asynchronously.
type Recorder struct {
	cfg     Config
	learner Learner
	ledger  Ledger
	logger  *slog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time

	queue       chan Event
	outstanding atomic.Int64

	pending *expirable.LRU[string, Token]
	states  *expirable.LRU[string, State]

	mu      sync.Mutex
	claimed map[string]struct{}

	// Lifecycle management
	startOnce sync.Once
	lifeMu    sync.RWMutex
	stopped   bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLedger records accepted events durably.
func WithLedger(l Ledger) Option {
	return func(r *Recorder) { r.ledger = l }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// WithMetrics records event outcomes and queue depth.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

// NewRecorder creates a recorder. Call Start before submitting.
func NewRecorder(learner Learner, cfg Config, opts ...Option) *Recorder {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.PendingCapacity <= 0 {
		cfg.PendingCapacity = def.PendingCapacity
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}

	r := &Recorder{
		cfg:     cfg,
		learner: learner,
		logger:  slog.Default(),
		now:     time.Now,
		queue:   make(chan Event, cfg.QueueSize),
		claimed: make(map[string]struct{}),
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	// States outlive their pending token so late duplicates and timeouts
	// stay observable for another window.
	r.states = expirable.NewLRU[string, State](cfg.PendingCapacity, nil, 2*cfg.Window)
	r.pending = expirable.NewLRU[string, Token](cfg.PendingCapacity, r.onExpire, cfg.Window)
	return r
}

// onExpire runs when a pending token leaves the cache, either by TTL,
// capacity eviction or removal after recording. Only tokens that were never
// recorded count as timeouts.
func (r *Recorder) onExpire(queryID string, tok Token) {
	if st, ok := r.states.Peek(queryID); ok && st != StatePending {
		return
	}
	r.states.Add(queryID, StateTimeout)
	r.metrics.Feedback(statusTimeout)
	r.logger.Debug("feedback_timeout",
		slog.String("query_id", queryID),
		slog.String("arm_id", tok.ArmID),
		slog.String("tenant_id", tok.Scope.TenantID))
}

// Expect registers a query awaiting feedback.
func (r *Recorder) Expect(tok Token) {
	if tok.IssuedAt.IsZero() {
		tok.IssuedAt = r.now()
	}
	r.states.Add(tok.QueryID, StatePending)
	r.pending.Add(tok.QueryID, tok)
}

// Submit enqueues feedback and returns immediately. Malformed input and a
// stopped recorder are reported; a full queue drops the event and counts it.
func (r *Recorder) Submit(queryID, armID string, outcome bandit.Outcome) error {
	if strings.TrimSpace(queryID) == "" {
		return amerrors.ValidationError(amerrors.ErrCodeInvalidQuery, "query id is required")
	}
	if !outcome.Valid() {
		return amerrors.ValidationError(amerrors.ErrCodeInvalidOutcome,
			fmt.Sprintf("outcome must be hit, miss or partial, got %q", outcome))
	}

	ev := Event{QueryID: queryID, ArmID: armID, Outcome: outcome, Timestamp: r.now()}

	// Holding the read lock keeps Stop from closing between the check and
	// the enqueue, so every accepted event is drained.
	r.lifeMu.RLock()
	defer r.lifeMu.RUnlock()
	if r.stopped {
		r.metrics.Feedback(statusDropped)
		return amerrors.New(amerrors.ErrCodeFeedbackDropped, "feedback recorder is stopped", nil)
	}

	r.outstanding.Add(1)
	select {
	case r.queue <- ev:
		r.metrics.FeedbackQueueDepth(len(r.queue))
	default:
		r.outstanding.Add(-1)
		r.metrics.Feedback(statusQueueFull)
		r.logger.Warn("feedback_dropped",
			slog.String("query_id", queryID),
			slog.String("reason", "queue full"),
			slog.Int("queue_size", r.cfg.QueueSize))
	}
	return nil
}

// State reports where a query is in the feedback lifecycle.
func (r *Recorder) State(queryID string) State {
	if st, ok := r.states.Peek(queryID); ok {
		return st
	}
	return StateUnknown
}

// Start launches the workers. Subsequent calls are no-ops.
func (r *Recorder) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		for i := 0; i < r.cfg.Workers; i++ {
			r.wg.Add(1)
			go r.worker(ctx)
		}
	})
}

// Stop drains queued events and waits for workers, or gives up when ctx
// ends.
func (r *Recorder) Stop(ctx context.Context) error {
	r.lifeMu.Lock()
	if !r.stopped {
		r.stopped = true
		close(r.stopCh)
	}
	r.lifeMu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush waits until every queued event has been processed.
func (r *Recorder) Flush(ctx context.Context) error {
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
	for r.outstanding.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (r *Recorder) worker(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case ev := <-r.queue:
			r.handle(ctx, ev)
		case <-r.stopCh:
			for {
				select {
				case ev := <-r.queue:
					r.handle(ctx, ev)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) handle(ctx context.Context, ev Event) {
	defer r.outstanding.Add(-1)
	r.metrics.FeedbackQueueDepth(len(r.queue))

	tok, ok := r.claim(ev)
	if !ok {
		return
	}

	attrs := []slog.Attr{
		slog.String("query_id", ev.QueryID),
		slog.String("arm_id", ev.ArmID),
		slog.String("outcome", string(ev.Outcome)),
		slog.String("tenant_id", tok.Scope.TenantID),
	}

	if r.ledger != nil {
		inserted, err := amerrors.RetryWithResult(ctx, r.cfg.Retry, func() (bool, error) {
			return r.ledger.Record(ctx, ev)
		})
		if err != nil {
			r.release(ev.QueryID)
			r.metrics.Feedback(statusDropped)
			r.logger.LogAttrs(ctx, slog.LevelWarn, "feedback_dropped",
				append(attrs, amerrors.LogAttrs(err)...)...)
			return
		}
		if !inserted {
			r.finish(ev.QueryID, StateRecorded)
			r.metrics.Feedback(statusDuplicate)
			r.logger.LogAttrs(ctx, slog.LevelDebug, "feedback_duplicate", attrs...)
			return
		}
	}

	if err := r.learner.Apply(ctx, tok.Scope, ev.ArmID, ev.Outcome); err != nil {
		r.finish(ev.QueryID, StateRejected)
		r.metrics.Feedback(statusRejected)
		r.logger.LogAttrs(ctx, slog.LevelWarn, "feedback_rejected",
			append(attrs, amerrors.LogAttrs(err)...)...)
		return
	}

	err := amerrors.Retry(ctx, r.cfg.Retry, func() error {
		return r.learner.Persist(ctx, tok.Scope)
	})
	r.finish(ev.QueryID, StateRecorded)
	if err != nil {
		r.metrics.Feedback(statusPersistFailed)
		r.logger.LogAttrs(ctx, slog.LevelWarn, "feedback_dropped",
			append(attrs, amerrors.LogAttrs(err)...)...)
		return
	}

	r.metrics.Feedback(statusRecorded)
	r.logger.LogAttrs(ctx, slog.LevelDebug, "feedback_recorded", attrs...)
}

// claim reserves ev's query id for this worker. It rejects duplicates,
// unknown or expired queries and arm mismatches.
func (r *Recorder) claim(ev Event) (Token, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if st, ok := r.states.Peek(ev.QueryID); ok && (st == StateRecorded || st == StateRejected) {
		r.metrics.Feedback(statusDuplicate)
		return Token{}, false
	}
	if _, busy := r.claimed[ev.QueryID]; busy {
		r.metrics.Feedback(statusDuplicate)
		return Token{}, false
	}

	tok, ok := r.pending.Peek(ev.QueryID)
	if !ok {
		r.metrics.Feedback(statusIgnored)
		r.logger.Debug("feedback_ignored",
			slog.String("query_id", ev.QueryID),
			slog.String("reason", "unknown or expired query"))
		return Token{}, false
	}
	if tok.ArmID != ev.ArmID {
		r.metrics.Feedback(statusRejected)
		r.logger.Warn("feedback_rejected",
			slog.String("query_id", ev.QueryID),
			slog.String("arm_id", ev.ArmID),
			slog.String("expected_arm_id", tok.ArmID))
		return Token{}, false
	}

	r.claimed[ev.QueryID] = struct{}{}
	return tok, true
}

// release gives a claim back so a redelivery can retry.
func (r *Recorder) release(queryID string) {
	r.mu.Lock()
	delete(r.claimed, queryID)
	r.mu.Unlock()
}

// finish moves the query to a terminal state and retires its token.
func (r *Recorder) finish(queryID string, st State) {
	r.mu.Lock()
	r.states.Add(queryID, st)
	delete(r.claimed, queryID)
	r.mu.Unlock()
	r.pending.Remove(queryID)
}
