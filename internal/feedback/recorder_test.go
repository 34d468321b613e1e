package feedback

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrecall/internal/bandit"
	amerrors "github.com/Aman-CERP/amanrecall/internal/errors"
	"github.com/Aman-CERP/amanrecall/internal/logging"
	"github.com/Aman-CERP/amanrecall/internal/telemetry"
)

// =============================================================================
// Test doubles
// =============================================================================

type applied struct {
	scope   bandit.Scope
	armID   string
	outcome bandit.Outcome
}

type fakeLearner struct {
	mu         sync.Mutex
	applies    []applied
	persists   int
	applyErr   error
	persistErr error
}

func (l *fakeLearner) Apply(_ context.Context, scope bandit.Scope, armID string, outcome bandit.Outcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.applyErr != nil {
		return l.applyErr
	}
	l.applies = append(l.applies, applied{scope, armID, outcome})
	return nil
}

func (l *fakeLearner) Persist(context.Context, bandit.Scope) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.persists++
	return l.persistErr
}

func (l *fakeLearner) applyCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.applies)
}

type fakeLedger struct {
	mu       sync.Mutex
	seen     map[string]bool
	failures int // remaining calls that fail
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{seen: make(map[string]bool)}
}

func (l *fakeLedger) Record(_ context.Context, ev Event) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failures > 0 {
		l.failures--
		return false, amerrors.StoreError("database is locked", nil)
	}
	if l.seen[ev.QueryID] {
		return false, nil
	}
	l.seen[ev.QueryID] = true
	return true, nil
}

var scope = bandit.Scope{TenantID: "acme", ProjectID: "docs"}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Window = time.Minute
	cfg.Retry = amerrors.RetryConfig{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2,
	}
	return cfg
}

func startRecorder(t *testing.T, r *Recorder) {
	t.Helper()
	r.Start(context.Background())
	t.Cleanup(func() { _ = r.Stop(context.Background()) })
}

func flush(t *testing.T, r *Recorder) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Flush(ctx))
}

// =============================================================================
// Recording
// =============================================================================

func TestRecorder_RecordsFeedback(t *testing.T) {
	// Given: an answered query awaiting feedback
	learner := &fakeLearner{}
	r := NewRecorder(learner, fastConfig(), WithLedger(newFakeLedger()), WithLogger(logging.Discard()))
	startRecorder(t, r)
	r.Expect(Token{QueryID: "q1", Scope: scope, ArmID: "vector"})
	assert.Equal(t, StatePending, r.State("q1"))

	// When: the caller reports a hit
	require.NoError(t, r.Submit("q1", "vector", bandit.OutcomeHit))
	flush(t, r)

	// Then: the arm is updated once and persisted
	assert.Equal(t, StateRecorded, r.State("q1"))
	require.Len(t, learner.applies, 1)
	assert.Equal(t, applied{scope, "vector", bandit.OutcomeHit}, learner.applies[0])
	assert.Equal(t, 1, learner.persists)
}

func TestRecorder_DuplicatesUpdateOnce(t *testing.T) {
	learner := &fakeLearner{}
	m := telemetry.New(telemetry.DefaultConfig())
	r := NewRecorder(learner, fastConfig(),
		WithLedger(newFakeLedger()), WithLogger(logging.Discard()), WithMetrics(m))
	startRecorder(t, r)
	r.Expect(Token{QueryID: "q1", Scope: scope, ArmID: "lexical"})

	for i := 0; i < 5; i++ {
		require.NoError(t, r.Submit("q1", "lexical", bandit.OutcomeMiss))
	}
	flush(t, r)

	assert.Equal(t, 1, learner.applyCount())

	expected := `
# HELP amanrecall_feedback_events_total Feedback events, by status
# TYPE amanrecall_feedback_events_total counter
amanrecall_feedback_events_total{status="duplicate"} 4
amanrecall_feedback_events_total{status="recorded"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"amanrecall_feedback_events_total"))
}

func TestRecorder_ConcurrentDuplicates(t *testing.T) {
	learner := &fakeLearner{}
	cfg := fastConfig()
	cfg.Workers = 4
	r := NewRecorder(learner, cfg, WithLedger(newFakeLedger()), WithLogger(logging.Discard()))
	startRecorder(t, r)

	ids := []string{"q1", "q2", "q3"}
	for _, id := range ids {
		r.Expect(Token{QueryID: id, Scope: scope, ArmID: "graph"})
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, id := range ids {
				_ = r.Submit(id, "graph", bandit.OutcomePartial)
			}
		}()
	}
	wg.Wait()
	flush(t, r)

	assert.Equal(t, len(ids), learner.applyCount())
}

func TestRecorder_LedgerDuplicateFromEarlierRun(t *testing.T) {
	ledger := newFakeLedger()
	ledger.seen["q1"] = true
	learner := &fakeLearner{}
	r := NewRecorder(learner, fastConfig(), WithLedger(ledger), WithLogger(logging.Discard()))
	startRecorder(t, r)
	r.Expect(Token{QueryID: "q1", Scope: scope, ArmID: "oracle"})

	require.NoError(t, r.Submit("q1", "oracle", bandit.OutcomeHit))
	flush(t, r)

	assert.Equal(t, 0, learner.applyCount())
	assert.Equal(t, StateRecorded, r.State("q1"))
}

func TestRecorder_Ignores(t *testing.T) {
	tests := []struct {
		name   string
		expect *Token
		armID  string
	}{
		{name: "unknown query", armID: "oracle"},
		{name: "arm mismatch", expect: &Token{QueryID: "q1", Scope: scope, ArmID: "oracle"}, armID: "graph"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			learner := &fakeLearner{}
			r := NewRecorder(learner, fastConfig(), WithLogger(logging.Discard()))
			startRecorder(t, r)
			if tt.expect != nil {
				r.Expect(*tt.expect)
			}

			require.NoError(t, r.Submit("q1", tt.armID, bandit.OutcomeHit))
			flush(t, r)

			assert.Equal(t, 0, learner.applyCount())
		})
	}
}

func TestRecorder_TimeoutLeavesArmUnchanged(t *testing.T) {
	// Given: a short feedback window
	learner := &fakeLearner{}
	cfg := fastConfig()
	cfg.Window = 30 * time.Millisecond
	r := NewRecorder(learner, cfg, WithLogger(logging.Discard()))
	startRecorder(t, r)
	r.Expect(Token{QueryID: "q1", Scope: scope, ArmID: "oracle"})

	// When: no feedback arrives in time
	require.Eventually(t, func() bool { return r.State("q1") == StateTimeout },
		2*time.Second, 5*time.Millisecond)

	// Then: late feedback is ignored
	require.NoError(t, r.Submit("q1", "oracle", bandit.OutcomeMiss))
	flush(t, r)
	assert.Equal(t, 0, learner.applyCount())
	assert.Equal(t, StateTimeout, r.State("q1"))
}

// =============================================================================
// Failure handling
// =============================================================================

func TestRecorder_LedgerFailureAllowsRedelivery(t *testing.T) {
	ledger := newFakeLedger()
	ledger.failures = 3 // exhausts 1 attempt + 2 retries
	learner := &fakeLearner{}
	var buf bytes.Buffer
	r := NewRecorder(learner, fastConfig(),
		WithLedger(ledger), WithLogger(slog.New(slog.NewJSONHandler(&buf, nil))))
	startRecorder(t, r)
	r.Expect(Token{QueryID: "q1", Scope: scope, ArmID: "oracle"})

	require.NoError(t, r.Submit("q1", "oracle", bandit.OutcomeHit))
	flush(t, r)
	assert.Equal(t, 0, learner.applyCount())
	assert.Equal(t, StatePending, r.State("q1"))
	assert.Contains(t, buf.String(), "feedback_dropped")

	// At-least-once delivery: the retry from the caller succeeds
	require.NoError(t, r.Submit("q1", "oracle", bandit.OutcomeHit))
	flush(t, r)
	assert.Equal(t, 1, learner.applyCount())
	assert.Equal(t, StateRecorded, r.State("q1"))
}

func TestRecorder_PersistFailureIsDropped(t *testing.T) {
	learner := &fakeLearner{persistErr: errors.New("disk full")}
	m := telemetry.New(telemetry.DefaultConfig())
	r := NewRecorder(learner, fastConfig(), WithLogger(logging.Discard()), WithMetrics(m))
	startRecorder(t, r)
	r.Expect(Token{QueryID: "q1", Scope: scope, ArmID: "oracle"})

	require.NoError(t, r.Submit("q1", "oracle", bandit.OutcomeHit))
	flush(t, r)

	assert.Equal(t, 1, learner.applyCount())
	assert.Equal(t, 3, learner.persists, "one attempt plus two retries")

	expected := `
# HELP amanrecall_feedback_events_total Feedback events, by status
# TYPE amanrecall_feedback_events_total counter
amanrecall_feedback_events_total{status="persist_failed"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"amanrecall_feedback_events_total"))
}

func TestRecorder_RejectedUpdateIsNotRecorded(t *testing.T) {
	// Given: a learner that no longer knows the serving arm
	learner := &fakeLearner{applyErr: amerrors.ValidationError(amerrors.ErrCodeUnknownArm, "unknown arm \"retired\"")}
	m := telemetry.New(telemetry.DefaultConfig())
	r := NewRecorder(learner, fastConfig(),
		WithLedger(newFakeLedger()), WithLogger(logging.Discard()), WithMetrics(m))
	startRecorder(t, r)
	r.Expect(Token{QueryID: "q1", Scope: scope, ArmID: "retired"})

	// When: feedback arrives twice
	require.NoError(t, r.Submit("q1", "retired", bandit.OutcomeHit))
	flush(t, r)
	require.NoError(t, r.Submit("q1", "retired", bandit.OutcomeHit))
	flush(t, r)

	// Then: the query ends rejected and nothing is persisted
	assert.Equal(t, StateRejected, r.State("q1"))
	assert.Equal(t, 0, learner.persists)

	expected := `
# HELP amanrecall_feedback_events_total Feedback events, by status
# TYPE amanrecall_feedback_events_total counter
amanrecall_feedback_events_total{status="duplicate"} 1
amanrecall_feedback_events_total{status="rejected"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"amanrecall_feedback_events_total"))
}

func TestRecorder_FullQueueDrops(t *testing.T) {
	// Given: a one-slot queue with no workers running
	learner := &fakeLearner{}
	cfg := fastConfig()
	cfg.QueueSize = 1
	var buf bytes.Buffer
	r := NewRecorder(learner, cfg, WithLogger(slog.New(slog.NewJSONHandler(&buf, nil))))

	// When: two events are submitted
	done := make(chan struct{})
	go func() {
		assert.NoError(t, r.Submit("q1", "oracle", bandit.OutcomeHit))
		assert.NoError(t, r.Submit("q2", "oracle", bandit.OutcomeHit))
		close(done)
	}()

	// Then: neither call blocks and the overflow is logged
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Submit blocked on a full queue")
	}
	assert.Contains(t, buf.String(), "queue full")
}

func TestRecorder_SubmitValidates(t *testing.T) {
	r := NewRecorder(&fakeLearner{}, fastConfig(), WithLogger(logging.Discard()))

	err := r.Submit("q1", "oracle", bandit.Outcome("meh"))
	assert.Equal(t, amerrors.ErrCodeInvalidOutcome, amerrors.GetCode(err))

	err = r.Submit(" ", "oracle", bandit.OutcomeHit)
	assert.Equal(t, amerrors.ErrCodeInvalidQuery, amerrors.GetCode(err))
}

func TestRecorder_StopDrainsQueue(t *testing.T) {
	learner := &fakeLearner{}
	r := NewRecorder(learner, fastConfig(), WithLogger(logging.Discard()))
	for _, id := range []string{"q1", "q2", "q3"} {
		r.Expect(Token{QueryID: id, Scope: scope, ArmID: "oracle"})
		require.NoError(t, r.Submit(id, "oracle", bandit.OutcomeHit))
	}

	r.Start(context.Background())
	require.NoError(t, r.Stop(context.Background()))

	assert.Equal(t, 3, learner.applyCount())
}

func TestRecorder_SubmitAfterStop(t *testing.T) {
	// Given: a stopped recorder
	learner := &fakeLearner{}
	r := NewRecorder(learner, fastConfig(), WithLogger(logging.Discard()))
	r.Start(context.Background())
	r.Expect(Token{QueryID: "q1", Scope: scope, ArmID: "oracle"})
	require.NoError(t, r.Stop(context.Background()))

	// When: feedback arrives late
	err := r.Submit("q1", "oracle", bandit.OutcomeHit)

	// Then: it is refused and Flush has nothing to wait for
	require.Error(t, err)
	assert.Equal(t, amerrors.ErrCodeFeedbackDropped, amerrors.GetCode(err))
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.NoError(t, r.Flush(ctx))
	assert.Equal(t, 0, learner.applyCount())
	assert.Equal(t, StatePending, r.State("q1"))
}
