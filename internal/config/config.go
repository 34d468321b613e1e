// Package config loads amanrecall configuration.
//
// Precedence, lowest to highest:
//  1. Hardcoded defaults (NewConfig)
//  2. User config ($XDG_CONFIG_HOME/amanrecall/config.yaml)
//  3. Project config (.amanrecall.yaml in the working directory)
//  4. Environment variables (AMANRECALL_*)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Strategy identifiers shared by arms and executors.
const (
	StrategyLexical = "lexical"
	StrategyVector  = "vector"
	StrategyGraph   = "graph"
)

// Config is the root configuration.
type Config struct {
	Retrieval RetrievalConfig `yaml:"retrieval" json:"retrieval"`
	Bandit    BanditConfig    `yaml:"bandit" json:"bandit"`
	Induction InductionConfig `yaml:"induction" json:"induction"`
	Feedback  FeedbackConfig  `yaml:"feedback" json:"feedback"`
	Store     StoreConfig     `yaml:"store" json:"store"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// RetrievalConfig controls dispatch and fusion.
type RetrievalConfig struct {
	// RRFConstant is the k in 1/(k+rank) (default: 60)
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`

	// DefaultK is the result count when a request omits k (default: 10)
	DefaultK int `yaml:"default_k" json:"default_k"`

	// MaxK caps the requested result count (default: 100)
	MaxK int `yaml:"max_k" json:"max_k"`

	// CandidateDepth is how many hits each strategy is asked for (default: 50)
	CandidateDepth int `yaml:"candidate_depth" json:"candidate_depth"`

	// ConfidenceThreshold below which induction runs (default: 0.30)
	ConfidenceThreshold float64 `yaml:"confidence_threshold" json:"confidence_threshold"`

	// StrategyTimeout bounds each executor call (default: "500ms")
	StrategyTimeout string `yaml:"strategy_timeout" json:"strategy_timeout"`

	// QueryTimeout bounds a whole query (default: "5s")
	QueryTimeout string `yaml:"query_timeout" json:"query_timeout"`

	// BreakerMaxFailures opens a strategy's circuit after this many consecutive failures (default: 5)
	BreakerMaxFailures int `yaml:"breaker_max_failures" json:"breaker_max_failures"`

	// BreakerReset is how long an open circuit waits before probing (default: "30s")
	BreakerReset string `yaml:"breaker_reset" json:"breaker_reset"`
}

// ArmConfig is one weight configuration offered to the bandit.
type ArmConfig struct {
	ID      string             `yaml:"id" json:"id"`
	Weights map[string]float64 `yaml:"weights" json:"weights"`
}

// BanditConfig controls arm selection and learning.
type BanditConfig struct {
	// OracleArm is the arm used before a tenant has any feedback (default: "oracle")
	OracleArm string `yaml:"oracle_arm" json:"oracle_arm"`

	// Arms is the arm set bootstrapped for every tenant.
	Arms []ArmConfig `yaml:"arms" json:"arms"`

	// DecayFactor scales posterior mass on every sweep, in (0,1] (default: 0.95)
	DecayFactor float64 `yaml:"decay_factor" json:"decay_factor"`

	// DecayInterval between sweeps (default: "1h")
	DecayInterval string `yaml:"decay_interval" json:"decay_interval"`

	// DriftWindow is the number of recent selections compared against history (default: 200)
	DriftWindow int `yaml:"drift_window" json:"drift_window"`

	// DriftThreshold is the Jensen-Shannon divergence that flags drift (default: 0.25)
	DriftThreshold float64 `yaml:"drift_threshold" json:"drift_threshold"`

	// DriftAutoReset resets a drifting tenant's arms (default: false)
	DriftAutoReset bool `yaml:"drift_auto_reset" json:"drift_auto_reset"`

	// Seed for the sampler; 0 seeds from the clock.
	Seed uint64 `yaml:"seed" json:"seed"`
}

// InductionConfig bounds the low-confidence graph expansion.
type InductionConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// MaxNodes visited per expansion (default: 200)
	MaxNodes int `yaml:"max_nodes" json:"max_nodes"`

	// MaxDepth in hops from a seed (default: 3)
	MaxDepth int `yaml:"max_depth" json:"max_depth"`

	// Lambda is the distance decay rate (default: 0.5)
	Lambda float64 `yaml:"lambda" json:"lambda"`

	// Seeds is how many top fused results seed the expansion (default: 3)
	Seeds int `yaml:"seeds" json:"seeds"`

	// MinWeight drops neighbors whose decayed weight falls below it (default: 0.05)
	MinWeight float64 `yaml:"min_weight" json:"min_weight"`

	// Weight of the induction list in the second fusion pass (default: 1.0)
	Weight float64 `yaml:"weight" json:"weight"`

	// Timeout for the whole expansion (default: "250ms")
	Timeout string `yaml:"timeout" json:"timeout"`
}

// FeedbackConfig controls the asynchronous feedback recorder.
type FeedbackConfig struct {
	QueueSize       int    `yaml:"queue_size" json:"queue_size"`
	Workers         int    `yaml:"workers" json:"workers"`
	Window          string `yaml:"window" json:"window"`
	PendingCapacity int    `yaml:"pending_capacity" json:"pending_capacity"`
	MaxRetries      int    `yaml:"max_retries" json:"max_retries"`
	RetryDelay      string `yaml:"retry_delay" json:"retry_delay"`
}

// StoreConfig locates persistent state.
type StoreConfig struct {
	DataDir string `yaml:"data_dir" json:"data_dir"`
}

// LoggingConfig mirrors logging.Config in file form.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	File      string `yaml:"file" json:"file"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// DefaultArms returns the built-in arm set. The first entry is the oracle seed.
func DefaultArms() []ArmConfig {
	return []ArmConfig{
		{ID: "oracle", Weights: map[string]float64{StrategyLexical: 1.0, StrategyVector: 1.0, StrategyGraph: 0.5}},
		{ID: "lexical", Weights: map[string]float64{StrategyLexical: 1.5, StrategyVector: 0.5, StrategyGraph: 0.25}},
		{ID: "vector", Weights: map[string]float64{StrategyLexical: 0.5, StrategyVector: 1.5, StrategyGraph: 0.25}},
		{ID: "graph", Weights: map[string]float64{StrategyLexical: 0.5, StrategyVector: 0.5, StrategyGraph: 1.5}},
		{ID: "balanced", Weights: map[string]float64{StrategyLexical: 1.0, StrategyVector: 1.0, StrategyGraph: 1.0}},
	}
}

// DefaultDataDir returns ~/.amanrecall/data.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".amanrecall", "data")
	}
	return filepath.Join(home, ".amanrecall", "data")
}

// NewConfig returns a configuration populated with defaults.
func NewConfig() *Config {
	return &Config{
		Retrieval: RetrievalConfig{
			RRFConstant:         60,
			DefaultK:            10,
			MaxK:                100,
			CandidateDepth:      50,
			ConfidenceThreshold: 0.30,
			StrategyTimeout:     "500ms",
			QueryTimeout:        "5s",
			BreakerMaxFailures:  5,
			BreakerReset:        "30s",
		},
		Bandit: BanditConfig{
			OracleArm:      "oracle",
			Arms:           DefaultArms(),
			DecayFactor:    0.95,
			DecayInterval:  "1h",
			DriftWindow:    200,
			DriftThreshold: 0.25,
		},
		Induction: InductionConfig{
			Enabled:   true,
			MaxNodes:  200,
			MaxDepth:  3,
			Lambda:    0.5,
			Seeds:     3,
			MinWeight: 0.05,
			Weight:    1.0,
			Timeout:   "250ms",
		},
		Feedback: FeedbackConfig{
			QueueSize:       1024,
			Workers:         2,
			Window:          "24h",
			PendingCapacity: 100000,
			MaxRetries:      3,
			RetryDelay:      "50ms",
		},
		Store: StoreConfig{
			DataDir: DefaultDataDir(),
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// GetUserConfigPath returns the user configuration path following XDG:
//   - $XDG_CONFIG_HOME/amanrecall/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/amanrecall/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "amanrecall", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "amanrecall", "config.yaml")
	}
	return filepath.Join(home, ".config", "amanrecall", "config.yaml")
}

// Load builds the configuration for a working directory.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userPath := GetUserConfigPath(); fileExists(userPath) {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	for _, name := range []string{".amanrecall.yaml", ".amanrecall.yml"} {
		p := filepath.Join(dir, name)
		if fileExists(p) {
			if err := cfg.loadYAML(p); err != nil {
				return nil, err
			}
			break
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFile loads defaults, then path, then env overrides.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadYAML decodes path over c. Keys absent from the file keep their
// current values; a present arms list replaces the whole set.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("AMANRECALL_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Retrieval.RRFConstant = k
		}
	}
	if v := os.Getenv("AMANRECALL_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := parseFloat64(v); err == nil {
			c.Retrieval.ConfidenceThreshold = f
		}
	}
	if v := os.Getenv("AMANRECALL_STRATEGY_TIMEOUT"); v != "" {
		c.Retrieval.StrategyTimeout = v
	}
	if v := os.Getenv("AMANRECALL_DECAY_FACTOR"); v != "" {
		if f, err := parseFloat64(v); err == nil {
			c.Bandit.DecayFactor = f
		}
	}
	if v := os.Getenv("AMANRECALL_DRIFT_AUTO_RESET"); v != "" {
		c.Bandit.DriftAutoReset = parseBool(v)
	}
	if v := os.Getenv("AMANRECALL_SEED"); v != "" {
		if s, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.Bandit.Seed = s
		}
	}
	if v := os.Getenv("AMANRECALL_INDUCTION_ENABLED"); v != "" {
		c.Induction.Enabled = parseBool(v)
	}
	if v := os.Getenv("AMANRECALL_INDUCTION_TIMEOUT"); v != "" {
		c.Induction.Timeout = v
	}
	if v := os.Getenv("AMANRECALL_FEEDBACK_WINDOW"); v != "" {
		c.Feedback.Window = v
	}
	if v := os.Getenv("AMANRECALL_DATA_DIR"); v != "" {
		c.Store.DataDir = v
	}
	if v := os.Getenv("AMANRECALL_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks ranges, durations and the arm set.
func (c *Config) Validate() error {
	r := c.Retrieval
	if r.RRFConstant <= 0 {
		return fmt.Errorf("retrieval.rrf_constant must be positive, got %d", r.RRFConstant)
	}
	if r.DefaultK <= 0 || r.MaxK <= 0 || r.DefaultK > r.MaxK {
		return fmt.Errorf("retrieval.default_k must be in [1, max_k], got %d (max_k %d)", r.DefaultK, r.MaxK)
	}
	if r.CandidateDepth <= 0 {
		return fmt.Errorf("retrieval.candidate_depth must be positive, got %d", r.CandidateDepth)
	}
	if r.ConfidenceThreshold < 0 || r.ConfidenceThreshold > 1 {
		return fmt.Errorf("retrieval.confidence_threshold must be between 0 and 1, got %f", r.ConfidenceThreshold)
	}

	durations := map[string]string{
		"retrieval.strategy_timeout": r.StrategyTimeout,
		"retrieval.query_timeout":    r.QueryTimeout,
		"retrieval.breaker_reset":    r.BreakerReset,
		"bandit.decay_interval":      c.Bandit.DecayInterval,
		"induction.timeout":          c.Induction.Timeout,
		"feedback.window":            c.Feedback.Window,
		"feedback.retry_delay":       c.Feedback.RetryDelay,
	}
	names := make([]string, 0, len(durations))
	for name := range durations {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		d, err := time.ParseDuration(durations[name])
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, durations[name])
		}
	}

	if err := c.validateBandit(); err != nil {
		return err
	}

	in := c.Induction
	if in.MaxNodes <= 0 || in.MaxDepth <= 0 || in.Seeds <= 0 {
		return fmt.Errorf("induction.max_nodes, max_depth and seeds must be positive")
	}
	if in.Lambda < 0 || in.MinWeight < 0 || in.Weight < 0 {
		return fmt.Errorf("induction.lambda, min_weight and weight must be non-negative")
	}

	f := c.Feedback
	if f.QueueSize <= 0 || f.Workers <= 0 || f.PendingCapacity <= 0 || f.MaxRetries < 0 {
		return fmt.Errorf("feedback.queue_size, workers and pending_capacity must be positive")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateBandit() error {
	b := c.Bandit
	if b.DecayFactor <= 0 || b.DecayFactor > 1 {
		return fmt.Errorf("bandit.decay_factor must be in (0, 1], got %f", b.DecayFactor)
	}
	if b.DriftWindow <= 0 {
		return fmt.Errorf("bandit.drift_window must be positive, got %d", b.DriftWindow)
	}
	if b.DriftThreshold <= 0 || b.DriftThreshold > 1 {
		return fmt.Errorf("bandit.drift_threshold must be in (0, 1], got %f", b.DriftThreshold)
	}
	if len(b.Arms) == 0 {
		return fmt.Errorf("bandit.arms must not be empty")
	}

	seen := make(map[string]bool, len(b.Arms))
	for _, arm := range b.Arms {
		if arm.ID == "" {
			return fmt.Errorf("bandit.arms: arm id must not be empty")
		}
		if seen[arm.ID] {
			return fmt.Errorf("bandit.arms: duplicate arm id %q", arm.ID)
		}
		seen[arm.ID] = true

		positive := false
		for strategy, w := range arm.Weights {
			if w < 0 {
				return fmt.Errorf("bandit.arms[%s]: weight for %s must be non-negative, got %f", arm.ID, strategy, w)
			}
			if w > 0 {
				positive = true
			}
		}
		if !positive {
			return fmt.Errorf("bandit.arms[%s]: at least one weight must be positive", arm.ID)
		}
	}
	if !seen[b.OracleArm] {
		return fmt.Errorf("bandit.oracle_arm %q is not in bandit.arms", b.OracleArm)
	}
	return nil
}

// Durations parses the duration fields. Call after Validate.
type Durations struct {
	StrategyTimeout  time.Duration
	QueryTimeout     time.Duration
	BreakerReset     time.Duration
	DecayInterval    time.Duration
	InductionTimeout time.Duration
	FeedbackWindow   time.Duration
	RetryDelay       time.Duration
}

// Durations returns the parsed duration fields, substituting defaults for
// anything unparsable.
func (c *Config) Durations() Durations {
	return Durations{
		StrategyTimeout:  parseDuration(c.Retrieval.StrategyTimeout, 500*time.Millisecond),
		QueryTimeout:     parseDuration(c.Retrieval.QueryTimeout, 5*time.Second),
		BreakerReset:     parseDuration(c.Retrieval.BreakerReset, 30*time.Second),
		DecayInterval:    parseDuration(c.Bandit.DecayInterval, time.Hour),
		InductionTimeout: parseDuration(c.Induction.Timeout, 250*time.Millisecond),
		FeedbackWindow:   parseDuration(c.Feedback.Window, 24*time.Hour),
		RetryDelay:       parseDuration(c.Feedback.RetryDelay, 50*time.Millisecond),
	}
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func parseFloat64(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes"
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
