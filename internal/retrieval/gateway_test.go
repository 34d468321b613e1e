package retrieval

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrecall/internal/bandit"
	"github.com/Aman-CERP/amanrecall/internal/config"
	amerrors "github.com/Aman-CERP/amanrecall/internal/errors"
	"github.com/Aman-CERP/amanrecall/internal/feedback"
	"github.com/Aman-CERP/amanrecall/internal/induction"
	"github.com/Aman-CERP/amanrecall/internal/logging"
	"github.com/Aman-CERP/amanrecall/internal/strategy"
	"github.com/Aman-CERP/amanrecall/internal/telemetry"
)

// ============================================================================
// Fixtures
// ============================================================================

func testConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.Bandit.OracleArm = "oracle"
	cfg.Bandit.Arms = []config.ArmConfig{
		{ID: "oracle", Weights: map[string]float64{"lexical": 1, "vector": 1}},
		{ID: "lexical", Weights: map[string]float64{"lexical": 1}},
	}
	cfg.Bandit.Seed = 42
	cfg.Retrieval.StrategyTimeout = "50ms"
	cfg.Induction.Timeout = "100ms"
	return cfg
}

func fixed(ids ...string) strategy.Executor {
	return strategy.ExecutorFunc(func(context.Context, strategy.Query) ([]strategy.Hit, error) {
		hits := make([]strategy.Hit, len(ids))
		for i, id := range ids {
			hits[i] = strategy.Hit{DocID: id, Score: float64(len(ids) - i)}
		}
		return hits, nil
	})
}

type fakeGraph struct {
	edges map[string][]induction.Neighbor
	err   error
	calls atomic.Int32
}

func (g *fakeGraph) Neighbors(_ context.Context, id string, _ int) ([]induction.Neighbor, error) {
	g.calls.Add(1)
	if g.err != nil {
		return nil, g.err
	}
	return g.edges[id], nil
}

type harness struct {
	gateway  *Gateway
	bandit   *bandit.Controller
	recorder *feedback.Recorder
	graph    *fakeGraph
	metrics  *telemetry.Metrics
	history  *telemetry.History
	executed atomic.Int32
}

func newHarness(t *testing.T, cfg *config.Config, execs map[string]strategy.Executor) *harness {
	t.Helper()
	h := &harness{
		graph:   &fakeGraph{},
		metrics: telemetry.New(telemetry.DefaultConfig()),
		history: telemetry.NewHistory(nil, telemetry.DefaultHistoryConfig()),
	}
	logger := logging.Discard()

	reg := strategy.NewRegistry()
	for id, exec := range execs {
		inner := exec
		require.NoError(t, reg.Register(id, strategy.ExecutorFunc(func(ctx context.Context, q strategy.Query) ([]strategy.Hit, error) {
			h.executed.Add(1)
			return inner.Execute(ctx, q)
		})))
	}
	d := cfg.Durations()

	h.bandit = bandit.New(cfg.Bandit,
		bandit.WithLogger(logger),
		bandit.WithMetrics(h.metrics),
		bandit.WithSource(rand.NewPCG(1, 2)))

	fcfg := feedback.DefaultConfig()
	fcfg.Retry.InitialDelay = time.Millisecond
	h.recorder = feedback.NewRecorder(h.bandit, fcfg, feedback.WithLogger(logger), feedback.WithMetrics(h.metrics))
	h.recorder.Start(context.Background())
	t.Cleanup(func() { _ = h.recorder.Stop(context.Background()) })

	gw, err := New(cfg, Dependencies{
		Bandit: h.bandit,
		Dispatcher: strategy.NewDispatcher(reg,
			strategy.WithTimeout(d.StrategyTimeout),
			strategy.WithLogger(logger),
			strategy.WithMetrics(h.metrics)),
		Expander: induction.New(h.graph, cfg.Induction, d.InductionTimeout, logger),
		Feedback: h.recorder,
		Metrics:  h.metrics,
		History:  h.history,
		Logger:   logger,
	})
	require.NoError(t, err)
	h.gateway = gw
	return h
}

func docIDs(ranked []Ranked) []string {
	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.DocID
	}
	return out
}

var acme = Request{Text: "how do we retry failed payments", TenantID: "acme", ProjectID: "billing"}

// ============================================================================
// Lifecycle
// ============================================================================

func TestGateway_ConfidentAnswer(t *testing.T) {
	// Given: one strategy returning a single document
	h := newHarness(t, testConfig(), map[string]strategy.Executor{"lexical": fixed("doc1")})

	// When: a query runs
	resp, err := h.gateway.Query(context.Background(), acme)

	// Then: it is answered without induction and left pending feedback
	require.NoError(t, err)
	assert.Equal(t, []string{"doc1"}, docIDs(resp.Ranked))
	assert.InDelta(t, 1.0, resp.Confidence, 1e-9)
	assert.False(t, resp.Degraded)
	assert.NotEmpty(t, resp.QueryID)
	assert.Equal(t, []State{
		StateReceived, StatePriorComputed, StateStrategiesDispatched, StateFused,
		StateConfident, StateReturned, StateFeedbackPending,
	}, resp.Trace)
	assert.Equal(t, int32(0), h.graph.calls.Load())
	assert.Equal(t, feedback.StatePending, h.recorder.State(resp.QueryID))
}

func TestGateway_ColdStartUsesOracle(t *testing.T) {
	// Scenario: a brand-new tenant gets the oracle arm, not a sampled one
	h := newHarness(t, testConfig(), map[string]strategy.Executor{"lexical": fixed("doc1")})

	for i := 0; i < 5; i++ {
		resp, err := h.gateway.Query(context.Background(), acme)
		require.NoError(t, err)
		assert.Equal(t, "oracle", resp.ArmID)
		assert.True(t, resp.ColdStart)
		assert.Contains(t, resp.Weights, "vector", "oracle weights are used")
	}
}

func TestGateway_LowConfidenceRunsInduction(t *testing.T) {
	// Given: two strategies that disagree, so the top two fused scores are close,
	// and a graph where doc4 is two hops from doc1
	h := newHarness(t, testConfig(), map[string]strategy.Executor{
		"lexical": fixed("doc1", "doc2"),
		"vector":  fixed("doc2", "doc1"),
	})
	h.graph.edges = map[string][]induction.Neighbor{
		"doc1": {{NodeID: "doc3", Distance: 1}, {NodeID: "doc4", Distance: 2}},
	}

	// When: the query runs
	resp, err := h.gateway.Query(context.Background(), acme)

	// Then: the induced documents join the original ones in a second pass
	require.NoError(t, err)
	assert.Less(t, resp.Confidence, 0.30)
	assert.False(t, resp.Degraded)
	ids := docIDs(resp.Ranked)
	assert.ElementsMatch(t, []string{"doc1", "doc2", "doc3", "doc4"}, ids)
	assert.Contains(t, ids[:2], "doc1")
	assert.Contains(t, ids[:2], "doc2")
	for _, r := range resp.Ranked {
		if r.DocID == "doc4" {
			assert.Equal(t, []string{induction.StrategyID}, r.Strategies)
		}
	}
	assert.Equal(t, []State{
		StateReceived, StatePriorComputed, StateStrategiesDispatched, StateFused,
		StateLowConfidence, StateInductionRun, StateReFused, StateReturned, StateFeedbackPending,
	}, resp.Trace)
}

func TestGateway_InductionFailureDegrades(t *testing.T) {
	// Given: a low-confidence answer and a failing graph
	h := newHarness(t, testConfig(), map[string]strategy.Executor{
		"lexical": fixed("doc1", "doc2"),
		"vector":  fixed("doc2", "doc1"),
	})
	h.graph.err = errors.New("graph store offline")

	// When: the query runs
	resp, err := h.gateway.Query(context.Background(), acme)

	// Then: the first-pass result is returned, flagged degraded
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.ElementsMatch(t, []string{"doc1", "doc2"}, docIDs(resp.Ranked))
	assert.NotContains(t, resp.Trace, StateReFused)
	assert.Contains(t, resp.Trace, StateInductionRun)
}

func TestGateway_InductionDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Induction.Enabled = false
	h := newHarness(t, cfg, map[string]strategy.Executor{
		"lexical": fixed("doc1", "doc2"),
		"vector":  fixed("doc2", "doc1"),
	})

	resp, err := h.gateway.Query(context.Background(), acme)

	require.NoError(t, err)
	assert.False(t, resp.Degraded)
	assert.Equal(t, []State{
		StateReceived, StatePriorComputed, StateStrategiesDispatched, StateFused,
		StateLowConfidence, StateReturned, StateFeedbackPending,
	}, resp.Trace)
	assert.Equal(t, int32(0), h.graph.calls.Load())
}

func TestGateway_TimedOutStrategyContributesNothing(t *testing.T) {
	// Given: a vector strategy that never answers within its timeout
	slow := strategy.ExecutorFunc(func(ctx context.Context, _ strategy.Query) ([]strategy.Hit, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
			return []strategy.Hit{{DocID: "late", Score: 1}}, nil
		}
	})
	h := newHarness(t, testConfig(), map[string]strategy.Executor{
		"lexical": fixed("doc1", "doc2"),
		"vector":  slow,
	})

	// When: the query runs
	start := time.Now()
	resp, err := h.gateway.Query(context.Background(), acme)

	// Then: it answers from the lexical strategy alone, well before the slow one
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.NotContains(t, docIDs(resp.Ranked), "late")
	assert.Contains(t, docIDs(resp.Ranked), "doc1")

	statuses := map[string]strategy.Status{}
	for _, o := range resp.Strategies {
		statuses[o.Strategy] = o.Status
	}
	assert.Equal(t, strategy.StatusOK, statuses["lexical"])
	assert.Equal(t, strategy.StatusTimeout, statuses["vector"])
}

func TestGateway_KLimitsResults(t *testing.T) {
	h := newHarness(t, testConfig(), map[string]strategy.Executor{"lexical": fixed("a", "b", "c")})

	req := acme
	req.K = 2
	resp, err := h.gateway.Query(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, docIDs(resp.Ranked))
	assert.Equal(t, []int{1, 2}, []int{resp.Ranked[0].Rank, resp.Ranked[1].Rank})
}

// ============================================================================
// Validation
// ============================================================================

func TestGateway_RejectsMalformedRequests(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		code string
	}{
		{"empty text", Request{Text: "  ", TenantID: "acme"}, amerrors.ErrCodeInvalidQuery},
		{"oversized text", Request{Text: strings.Repeat("x", MaxQueryLength+1), TenantID: "acme"}, amerrors.ErrCodeInvalidQuery},
		{"missing tenant", Request{Text: "q"}, amerrors.ErrCodeMissingTenant},
		{"bad tenant", Request{Text: "q", TenantID: "acme corp"}, amerrors.ErrCodeInvalidTenant},
		{"bad project", Request{Text: "q", TenantID: "acme", ProjectID: "../x"}, amerrors.ErrCodeInvalidTenant},
		{"negative k", Request{Text: "q", TenantID: "acme", K: -1}, amerrors.ErrCodeInvalidK},
		{"k over max", Request{Text: "q", TenantID: "acme", K: 101}, amerrors.ErrCodeInvalidK},
	}

	h := newHarness(t, testConfig(), map[string]strategy.Executor{"lexical": fixed("doc1")})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.gateway.Query(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.code, amerrors.GetCode(err))
			assert.True(t, amerrors.IsValidation(err))
		})
	}
	assert.Equal(t, int32(0), h.executed.Load(), "no strategy runs for a rejected request")
}

// ============================================================================
// Feedback
// ============================================================================

func TestGateway_FeedbackClosesTheLoop(t *testing.T) {
	// Given: an answered query
	h := newHarness(t, testConfig(), map[string]strategy.Executor{"lexical": fixed("doc1")})
	ctx := context.Background()
	resp, err := h.gateway.Query(ctx, acme)
	require.NoError(t, err)

	// When: a hit is reported twice
	require.NoError(t, h.gateway.Submit(resp.QueryID, resp.ArmID, bandit.OutcomeHit))
	require.NoError(t, h.gateway.Submit(resp.QueryID, resp.ArmID, bandit.OutcomeHit))
	flushCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, h.recorder.Flush(flushCtx))

	// Then: the oracle arm learned exactly once and the tenant leaves cold start
	assert.Equal(t, feedback.StateRecorded, h.recorder.State(resp.QueryID))
	arms, err := h.bandit.Snapshot(ctx, bandit.Scope{TenantID: "acme", ProjectID: "billing"})
	require.NoError(t, err)
	for _, a := range arms {
		if a.ID == "oracle" {
			assert.Equal(t, int64(1), a.Updates)
			assert.Equal(t, 2.0, a.Alpha)
		}
	}

	next, err := h.gateway.Query(ctx, acme)
	require.NoError(t, err)
	assert.False(t, next.ColdStart)
}

func TestGateway_Metrics(t *testing.T) {
	h := newHarness(t, testConfig(), map[string]strategy.Executor{"lexical": fixed("doc1")})

	_, err := h.gateway.Query(context.Background(), acme)
	require.NoError(t, err)
	_, err = h.gateway.Query(context.Background(), Request{Text: "q"})
	require.Error(t, err)

	expected := `
# HELP amanrecall_retrieval_queries_total Queries handled, by result
# TYPE amanrecall_retrieval_queries_total counter
amanrecall_retrieval_queries_total{result="confident"} 1
amanrecall_retrieval_queries_total{result="invalid"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(h.metrics.Registry(), strings.NewReader(expected),
		"amanrecall_retrieval_queries_total"))
}

func TestGateway_RecordsHistory(t *testing.T) {
	// Given: one strategy that answers and one query that finds nothing
	h := newHarness(t, testConfig(), map[string]strategy.Executor{"lexical": fixed("doc1", "doc2")})
	ctx := context.Background()

	// When: the same question is asked twice and a rejected one once
	_, err := h.gateway.Query(ctx, acme)
	require.NoError(t, err)
	_, err = h.gateway.Query(ctx, acme)
	require.NoError(t, err)
	_, err = h.gateway.Query(ctx, Request{Text: "q"})
	require.Error(t, err)

	// Then: only answered queries are recorded
	snap := h.history.Snapshot()
	assert.Equal(t, int64(2), snap.TotalQueries)
	assert.Equal(t, int64(1), snap.ExactRepeatCount)
	assert.Equal(t, int64(2), snap.ArmCounts["oracle"])
	assert.Zero(t, snap.ZeroResultCount)
}

func TestGateway_RecordsZeroResultQueries(t *testing.T) {
	h := newHarness(t, testConfig(), map[string]strategy.Executor{"lexical": fixed()})

	_, err := h.gateway.Query(context.Background(), acme)
	require.NoError(t, err)

	snap := h.history.Snapshot()
	require.Len(t, snap.ZeroResultQueries, 1)
	assert.Equal(t, acme.Text, snap.ZeroResultQueries[0].Query)
	assert.Equal(t, "acme", snap.ZeroResultQueries[0].TenantID)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(testConfig(), Dependencies{})
	assert.EqualError(t, err, "bandit is required")
}

// ============================================================================
// State machine
// ============================================================================

func TestMachine_RejectsIllegalTransitions(t *testing.T) {
	m := newMachine()
	require.NoError(t, m.advance(StatePriorComputed))

	assert.ErrorContains(t, m.advance(StateFused), "illegal transition PRIOR_COMPUTED -> FUSED")
	assert.ErrorContains(t, m.advance(StateReceived), "already visited")
	assert.Equal(t, StatePriorComputed, m.current())

	for _, s := range []State{StateStrategiesDispatched, StateFused, StateConfident, StateReturned, StateFeedbackPending} {
		require.NoError(t, m.advance(s))
	}
	assert.Error(t, m.advance(StateReturned))
	assert.Len(t, m.states(), 7)
}
