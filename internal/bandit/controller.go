package bandit

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/Aman-CERP/amanrecall/internal/config"
	amerrors "github.com/Aman-CERP/amanrecall/internal/errors"
	"github.com/Aman-CERP/amanrecall/internal/telemetry"
)

const shardCount = 32

// Selection modes recorded in metrics.
const (
	ModeColdStart = "cold_start"
	ModeSampled   = "sampled"
)

// Controller owns every tenant's arms.
type Controller struct {
	cfg     config.BanditConfig
	store   ArmStore
	logger  *slog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time

	seedMu sync.Mutex
	root   *rand.Rand

	shards [shardCount]*shard
}

type shard struct {
	mu      sync.RWMutex
	tenants map[string]*tenant
}

// tenant is the serialization point for one scope's arms. persistMu is
// held from snapshot to store write so saves land in snapshot order; it is
// always taken before mu.
type tenant struct {
	persistMu sync.Mutex

	mu    sync.Mutex
	scope Scope
	arms  []Arm // sorted by id
	index map[string]int
	src   rand.Source
	drift *driftDetector
}

// Option configures a Controller.
type Option func(*Controller)

// WithStore persists arm state. Without a store arms live in memory only.
func WithStore(s ArmStore) Option {
	return func(c *Controller) { c.store = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithMetrics records selections, drift and decay sweeps.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithSource replaces the root random source. Per-tenant sources are drawn
// from it in tenant creation order.
func WithSource(src rand.Source) Option {
	return func(c *Controller) { c.root = rand.New(src) }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// New creates a controller. Empty config fields fall back to defaults.
func New(cfg config.BanditConfig, opts ...Option) *Controller {
	def := config.NewConfig().Bandit
	if len(cfg.Arms) == 0 {
		cfg.Arms = def.Arms
		if cfg.OracleArm == "" {
			cfg.OracleArm = def.OracleArm
		}
	}
	if cfg.DecayFactor <= 0 || cfg.DecayFactor > 1 {
		cfg.DecayFactor = def.DecayFactor
	}
	if cfg.DriftWindow <= 0 {
		cfg.DriftWindow = def.DriftWindow
	}
	if cfg.DriftThreshold <= 0 {
		cfg.DriftThreshold = def.DriftThreshold
	}

	c := &Controller{
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
	for i := range c.shards {
		c.shards[i] = &shard{tenants: make(map[string]*tenant)}
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.root == nil {
		seed := cfg.Seed
		if seed == 0 {
			seed = uint64(time.Now().UnixNano())
		}
		c.root = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
	return c
}

// Select picks the arm for one query. A tenant that has never received
// feedback gets the oracle arm; otherwise each arm's posterior is sampled
// once and the highest draw wins, ties going to the smaller arm id.
func (c *Controller) Select(ctx context.Context, scope Scope) (Selection, error) {
	if err := scope.Validate(); err != nil {
		return Selection{}, err
	}
	t := c.tenant(ctx, scope)

	t.mu.Lock()
	sel, drifted, divergence := c.selectLocked(t)
	t.mu.Unlock()

	mode := ModeSampled
	if sel.ColdStart {
		mode = ModeColdStart
	}
	c.metrics.ArmSelected(sel.ArmID, mode)

	if drifted {
		c.metrics.Drift()
		c.logger.Warn("bandit_drift_detected",
			slog.String("tenant_id", scope.TenantID),
			slog.String("project_id", scope.ProjectID),
			slog.Float64("divergence", divergence),
			slog.Bool("auto_reset", c.cfg.DriftAutoReset))
		if c.cfg.DriftAutoReset {
			if err := c.Reset(ctx, scope); err != nil {
				c.logger.LogAttrs(ctx, slog.LevelWarn, "bandit_reset_failed", amerrors.LogAttrs(err)...)
			}
		}
	}
	return sel, nil
}

func (c *Controller) selectLocked(t *tenant) (Selection, bool, float64) {
	var total int64
	for _, a := range t.arms {
		total += a.Updates
	}

	idx := 0
	sel := Selection{}
	if total == 0 {
		if i, ok := t.index[c.cfg.OracleArm]; ok {
			idx = i
		}
		sel.ColdStart = true
	} else {
		sel.Samples = make(map[string]float64, len(t.arms))
		best := -1.0
		for i, a := range t.arms {
			draw := distuv.Beta{Alpha: a.Alpha, Beta: a.Beta, Src: t.src}.Rand()
			sel.Samples[a.ID] = draw
			if draw > best {
				best, idx = draw, i
			}
		}
	}

	arm := &t.arms[idx]
	arm.Selections++
	sel.ArmID = arm.ID
	sel.Weights = copyWeights(arm.Weights)

	if sel.ColdStart {
		return sel, false, 0
	}
	divergence, drifted := t.drift.observe(arm.ID)
	if drifted {
		t.drift.reset()
	}
	return sel, drifted, divergence
}

// Apply updates an arm's posterior in memory. Call Persist to store it.
func (c *Controller) Apply(ctx context.Context, scope Scope, armID string, outcome Outcome) error {
	if !outcome.Valid() {
		return amerrors.ValidationError(amerrors.ErrCodeInvalidOutcome,
			fmt.Sprintf("invalid outcome %q", outcome))
	}
	if err := scope.Validate(); err != nil {
		return err
	}
	t := c.tenant(ctx, scope)

	t.mu.Lock()
	defer t.mu.Unlock()

	i, ok := t.index[armID]
	if !ok {
		return amerrors.ValidationError(amerrors.ErrCodeUnknownArm,
			fmt.Sprintf("unknown arm %q for %s", armID, scope))
	}
	success, failure := outcome.credit()
	arm := &t.arms[i]
	arm.Alpha += success
	arm.Beta += failure
	arm.Updates++
	arm.UpdatedAt = c.now()
	return nil
}

// Persist writes the scope's arms to the store.
func (c *Controller) Persist(ctx context.Context, scope Scope) error {
	if c.store == nil {
		return nil
	}
	if err := scope.Validate(); err != nil {
		return err
	}
	t := c.tenant(ctx, scope)

	t.persistMu.Lock()
	defer t.persistMu.Unlock()
	if err := c.store.SaveArms(ctx, scope, t.snapshot()); err != nil {
		return amerrors.StoreError(fmt.Sprintf("failed to persist arms for %s", scope), err)
	}
	return nil
}

// Decay multiplies every arm's success and failure mass by the decay
// factor, then persists each tenant. Update counts are not decayed, so a
// tenant never returns to cold start.
func (c *Controller) Decay(ctx context.Context) error {
	factor := c.cfg.DecayFactor
	now := c.now()

	var errs []error
	tenants := c.allTenants()
	for _, t := range tenants {
		if err := ctx.Err(); err != nil {
			return err
		}
		t.mu.Lock()
		for i := range t.arms {
			a := &t.arms[i]
			a.Alpha = 1 + max(0, a.Alpha-1)*factor
			a.Beta = 1 + max(0, a.Beta-1)*factor
			a.UpdatedAt = now
		}
		t.mu.Unlock()

		if err := c.Persist(ctx, t.scope); err != nil {
			errs = append(errs, err)
		}
	}

	c.metrics.DecaySweep()
	c.logger.Info("bandit_decay_sweep",
		slog.Int("tenants", len(tenants)),
		slog.Float64("factor", factor),
		slog.Int("errors", len(errs)))
	return errors.Join(errs...)
}

// Reset returns a scope to freshly bootstrapped arms and clears its stored
// state.
func (c *Controller) Reset(ctx context.Context, scope Scope) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	t := c.tenant(ctx, scope)

	t.persistMu.Lock()
	defer t.persistMu.Unlock()

	t.mu.Lock()
	t.setArms(defaultArms(c.cfg.Arms, c.now()))
	t.drift.reset()
	t.mu.Unlock()

	c.logger.Info("bandit_tenant_reset",
		slog.String("tenant_id", scope.TenantID),
		slog.String("project_id", scope.ProjectID))

	if c.store == nil {
		return nil
	}
	if err := c.store.DeleteArms(ctx, scope); err != nil {
		return amerrors.StoreError(fmt.Sprintf("failed to delete arms for %s", scope), err)
	}
	return nil
}

// Snapshot returns a copy of the scope's arms sorted by id.
func (c *Controller) Snapshot(ctx context.Context, scope Scope) ([]Arm, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	return c.tenant(ctx, scope).snapshot(), nil
}

func (t *tenant) snapshot() []Arm {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Arm, len(t.arms))
	for i, a := range t.arms {
		out[i] = a.clone()
	}
	return out
}

// Tenants lists every scope loaded in memory, sorted.
func (c *Controller) Tenants() []Scope {
	tenants := c.allTenants()
	scopes := make([]Scope, len(tenants))
	for i, t := range tenants {
		scopes[i] = t.scope
	}
	return scopes
}

func (c *Controller) allTenants() []*tenant {
	var out []*tenant
	for _, sh := range c.shards {
		sh.mu.RLock()
		for _, t := range sh.tenants {
			out = append(out, t)
		}
		sh.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].scope.TenantID != out[j].scope.TenantID {
			return out[i].scope.TenantID < out[j].scope.TenantID
		}
		return out[i].scope.ProjectID < out[j].scope.ProjectID
	})
	return out
}

func (c *Controller) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()%shardCount]
}

// tenant returns the scope's state, loading it on first use. Loading runs
// outside the shard lock; the first insert wins.
func (c *Controller) tenant(ctx context.Context, scope Scope) *tenant {
	key := scope.Key()
	sh := c.shardFor(key)

	sh.mu.RLock()
	t, ok := sh.tenants[key]
	sh.mu.RUnlock()
	if ok {
		return t
	}

	loaded := c.load(ctx, scope)

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if existing, ok := sh.tenants[key]; ok {
		return existing
	}
	sh.tenants[key] = loaded
	return loaded
}

func (c *Controller) load(ctx context.Context, scope Scope) *tenant {
	c.seedMu.Lock()
	src := rand.NewPCG(c.root.Uint64(), c.root.Uint64())
	c.seedMu.Unlock()

	t := &tenant{
		scope: scope,
		src:   src,
		drift: newDriftDetector(c.cfg.DriftWindow, c.cfg.DriftThreshold),
	}
	defaults := defaultArms(c.cfg.Arms, c.now())

	attrs := []slog.Attr{
		slog.String("tenant_id", scope.TenantID),
		slog.String("project_id", scope.ProjectID),
	}

	if c.store == nil {
		t.setArms(defaults)
		return t
	}

	stored, err := c.store.LoadArms(ctx, scope)
	if err != nil {
		attrs = append(attrs, amerrors.LogAttrs(err)...)
		c.logger.LogAttrs(ctx, slog.LevelWarn, "bandit_state_unavailable", attrs...)
		t.setArms(defaults)
		return t
	}
	if len(stored) == 0 {
		c.logger.LogAttrs(ctx, slog.LevelInfo, "bandit_tenant_bootstrapped", attrs...)
		t.setArms(defaults)
		return t
	}

	merged, err := mergeArms(defaults, stored)
	if err != nil {
		corrupt := amerrors.New(amerrors.ErrCodeArmStateCorrupt, "stored arm state is corrupt", err)
		attrs = append(attrs, amerrors.LogAttrs(corrupt)...)
		c.logger.LogAttrs(ctx, slog.LevelWarn, "bandit_state_corrupt", attrs...)
		t.setArms(defaults)
		return t
	}
	t.setArms(merged)
	return t
}

// mergeArms overlays stored arms on the configured set. Stored arms that are
// no longer configured are dropped; configured arms missing from the store
// start fresh.
func mergeArms(defaults, stored []Arm) ([]Arm, error) {
	byID := make(map[string]Arm, len(stored))
	for _, a := range stored {
		if err := a.check(); err != nil {
			return nil, err
		}
		if _, dup := byID[a.ID]; dup {
			return nil, fmt.Errorf("duplicate arm %s", a.ID)
		}
		byID[a.ID] = a
	}

	out := make([]Arm, len(defaults))
	for i, d := range defaults {
		s, ok := byID[d.ID]
		if !ok {
			out[i] = d
			continue
		}
		if len(s.Weights) == 0 {
			s.Weights = d.Weights
		}
		out[i] = s.clone()
	}
	return out, nil
}

func (t *tenant) setArms(arms []Arm) {
	sort.Slice(arms, func(i, j int) bool { return arms[i].ID < arms[j].ID })
	t.arms = arms
	t.index = make(map[string]int, len(arms))
	for i, a := range arms {
		t.index[a.ID] = i
	}
}
