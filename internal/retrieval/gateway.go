// Package retrieval answers queries by fusing the strategies chosen by the
// bandit, widening low-confidence answers through graph induction and
// registering every answer for feedback.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Aman-CERP/amanrecall/internal/bandit"
	"github.com/Aman-CERP/amanrecall/internal/config"
	amerrors "github.com/Aman-CERP/amanrecall/internal/errors"
	"github.com/Aman-CERP/amanrecall/internal/feedback"
	"github.com/Aman-CERP/amanrecall/internal/fusion"
	"github.com/Aman-CERP/amanrecall/internal/induction"
	"github.com/Aman-CERP/amanrecall/internal/prior"
	"github.com/Aman-CERP/amanrecall/internal/strategy"
	"github.com/Aman-CERP/amanrecall/internal/telemetry"
)

// Selector picks the arm for a query. *bandit.Controller satisfies it.
type Selector interface {
	Select(ctx context.Context, scope bandit.Scope) (bandit.Selection, error)
}

// Dispatcher runs strategies. *strategy.Dispatcher satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, q strategy.Query, ids []string) ([]fusion.List, []strategy.Outcome)
}

// Expander widens low-confidence results. *induction.Expander satisfies it.
type Expander interface {
	Expand(ctx context.Context, seeds []induction.Seed) (fusion.List, error)
}

// FeedbackSink tracks answered queries. *feedback.Recorder satisfies it.
type FeedbackSink interface {
	Expect(tok feedback.Token)
	Submit(queryID, armID string, outcome bandit.Outcome) error
}

// Dependencies are the collaborators of a Gateway. Expander, Feedback and
// History are optional.
type Dependencies struct {
	Prior      *prior.Prior
	Bandit     Selector
	Dispatcher Dispatcher
	Expander   Expander
	Feedback   FeedbackSink
	Metrics    *telemetry.Metrics
	History    *telemetry.History
	Logger     *slog.Logger
}

// Gateway runs the query lifecycle.
type Gateway struct {
	retrieval config.RetrievalConfig
	induction config.InductionConfig
	timeout   time.Duration

	prior      *prior.Prior
	bandit     Selector
	dispatcher Dispatcher
	expander   Expander
	feedback   FeedbackSink
	engine     *fusion.Engine
	metrics    *telemetry.Metrics
	history    *telemetry.History
	logger     *slog.Logger

	now   func() time.Time
	newID func() string
}

// New creates a gateway from cfg and deps.
func New(cfg *config.Config, deps Dependencies) (*Gateway, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Bandit == nil {
		return nil, fmt.Errorf("bandit is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if deps.Prior == nil {
		deps.Prior = prior.New(0)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	return &Gateway{
		retrieval:  cfg.Retrieval,
		induction:  cfg.Induction,
		timeout:    cfg.Durations().QueryTimeout,
		prior:      deps.Prior,
		bandit:     deps.Bandit,
		dispatcher: deps.Dispatcher,
		expander:   deps.Expander,
		feedback:   deps.Feedback,
		engine:     fusion.NewWithK(cfg.Retrieval.RRFConstant),
		metrics:    deps.Metrics,
		history:    deps.History,
		logger:     deps.Logger,
		now:        time.Now,
		newID:      uuid.NewString,
	}, nil
}

// Query answers req. Only validation errors are returned: strategy and
// induction failures degrade the answer instead.
func (g *Gateway) Query(ctx context.Context, req Request) (Response, error) {
	start := g.now()
	k, err := req.validate(g.retrieval.DefaultK, g.retrieval.MaxK)
	if err != nil {
		g.metrics.ObserveQuery(telemetry.ResultInvalid, g.now().Sub(start))
		return Response{}, err
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	scope := req.scope()
	m := newMachine()
	resp := Response{QueryID: g.newID()}
	log := g.logger.With(
		slog.String("query_id", resp.QueryID),
		slog.String("tenant_id", scope.TenantID),
		slog.String("project_id", scope.ProjectID))

	bias := g.prior.Evaluate(req.Text).Bias
	g.advance(ctx, log, m, StatePriorComputed)

	sel, err := g.bandit.Select(ctx, scope)
	if err != nil {
		g.metrics.ObserveQuery(telemetry.ResultInvalid, g.now().Sub(start))
		return Response{}, err
	}
	resp.ArmID = sel.ArmID
	resp.ColdStart = sel.ColdStart
	weights := bias.Apply(sel.Weights)
	resp.Weights = weights

	q := strategy.Query{
		Text:        req.Text,
		TenantID:    scope.TenantID,
		ProjectID:   scope.ProjectID,
		Limit:       max(g.retrieval.CandidateDepth, k),
		Constraints: req.Constraints,
	}
	lists, outcomes := g.dispatcher.Dispatch(ctx, q, activeStrategies(weights))
	resp.Strategies = outcomes
	g.advance(ctx, log, m, StateStrategiesDispatched)

	fused := g.engine.Fuse(lists, weights)
	g.advance(ctx, log, m, StateFused)

	result := telemetry.ResultConfident
	if fused.Confidence >= g.retrieval.ConfidenceThreshold {
		g.advance(ctx, log, m, StateConfident)
	} else {
		g.advance(ctx, log, m, StateLowConfidence)
		result = telemetry.ResultLowConfident
		if g.induction.Enabled && g.expander != nil {
			g.advance(ctx, log, m, StateInductionRun)
			refused, ok := g.induct(ctx, log, lists, weights, fused)
			if ok {
				fused = refused
				result = telemetry.ResultReFused
				g.advance(ctx, log, m, StateReFused)
			} else {
				resp.Degraded = true
				result = telemetry.ResultDegraded
			}
		}
	}

	resp.Confidence = fused.Confidence
	resp.Ranked = toRanked(fused.Top(k))
	g.advance(ctx, log, m, StateReturned)

	if g.feedback != nil {
		g.feedback.Expect(feedback.Token{
			QueryID:  resp.QueryID,
			Scope:    scope,
			ArmID:    sel.ArmID,
			IssuedAt: g.now(),
		})
		g.advance(ctx, log, m, StateFeedbackPending)
	}
	resp.Trace = m.states()

	elapsed := g.now().Sub(start)
	g.metrics.ObserveQuery(result, elapsed)
	g.history.Record(telemetry.QueryEvent{
		TenantID:    scope.TenantID,
		Query:       req.Text,
		Result:      result,
		ArmID:       sel.ArmID,
		ResultCount: len(resp.Ranked),
		Latency:     elapsed,
		Timestamp:   start,
	})
	log.Debug("query_returned",
		slog.String("arm_id", sel.ArmID),
		slog.Bool("cold_start", sel.ColdStart),
		slog.Int("results", len(resp.Ranked)),
		slog.Float64("confidence", resp.Confidence),
		slog.Bool("degraded", resp.Degraded),
		slog.Duration("elapsed", elapsed))
	return resp, nil
}

// induct runs the expansion and the second fusion pass. It reports false
// when the expansion failed and the first pass must be returned as is.
func (g *Gateway) induct(ctx context.Context, log *slog.Logger, lists []fusion.List, weights map[string]float64, first fusion.Result) (fusion.Result, bool) {
	seeds := induction.SeedsFrom(first.Items, g.induction.Seeds)
	extra, err := g.expander.Expand(ctx, seeds)
	if err != nil {
		g.metrics.InductionRun("failed")
		attrs := append([]slog.Attr{slog.Int("seeds", len(seeds))}, amerrors.LogAttrs(err)...)
		log.LogAttrs(ctx, slog.LevelWarn, "induction_degraded", attrs...)
		return first, false
	}
	g.metrics.InductionRun("ok")

	all := make([]fusion.List, 0, len(lists)+1)
	all = append(all, lists...)
	all = append(all, extra)

	w := make(map[string]float64, len(weights)+1)
	for s, v := range weights {
		w[s] = v
	}
	w[induction.StrategyID] = g.induction.Weight

	return g.engine.Fuse(all, w), true
}

// Submit forwards feedback for an answered query.
func (g *Gateway) Submit(queryID, armID string, outcome bandit.Outcome) error {
	if g.feedback == nil {
		return amerrors.InternalError("feedback is not enabled", nil)
	}
	return g.feedback.Submit(queryID, armID, outcome)
}

// advance moves m to next. A refused transition is a bug: it is logged and
// the query carries on.
func (g *Gateway) advance(ctx context.Context, log *slog.Logger, m *machine, next State) {
	if err := m.advance(next); err != nil {
		log.LogAttrs(ctx, slog.LevelError, "query_state_invalid",
			slog.String("from", string(m.current())),
			slog.String("to", string(next)),
			slog.String("error", err.Error()))
	}
}

// activeStrategies returns the strategies with positive weight, sorted.
func activeStrategies(weights map[string]float64) []string {
	ids := make([]string, 0, len(weights))
	for s, w := range weights {
		if w > 0 {
			ids = append(ids, s)
		}
	}
	sort.Strings(ids)
	return ids
}

func toRanked(items []fusion.Item) []Ranked {
	out := make([]Ranked, len(items))
	for i, it := range items {
		out[i] = Ranked{DocID: it.DocID, Score: it.Score, Rank: it.Rank, Strategies: it.Strategies}
	}
	return out
}
