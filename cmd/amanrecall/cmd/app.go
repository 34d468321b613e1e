package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Aman-CERP/amanrecall/internal/bandit"
	"github.com/Aman-CERP/amanrecall/internal/config"
	"github.com/Aman-CERP/amanrecall/internal/embed"
	amerrors "github.com/Aman-CERP/amanrecall/internal/errors"
	"github.com/Aman-CERP/amanrecall/internal/feedback"
	"github.com/Aman-CERP/amanrecall/internal/induction"
	"github.com/Aman-CERP/amanrecall/internal/logging"
	"github.com/Aman-CERP/amanrecall/internal/prior"
	"github.com/Aman-CERP/amanrecall/internal/retrieval"
	"github.com/Aman-CERP/amanrecall/internal/store"
	"github.com/Aman-CERP/amanrecall/internal/strategy"
	"github.com/Aman-CERP/amanrecall/internal/strategy/graph"
	"github.com/Aman-CERP/amanrecall/internal/strategy/lexical"
	"github.com/Aman-CERP/amanrecall/internal/strategy/vector"
	"github.com/Aman-CERP/amanrecall/internal/telemetry"
)

// MetricsFileName is the textfile the last run's metrics are written to.
const MetricsFileName = "metrics.prom"

// shutdownTimeout bounds draining the feedback queue on exit.
const shutdownTimeout = 10 * time.Second

// app is one opened data directory with every component wired.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	cleanup func()

	db       *store.DB
	lexical  *store.BleveIndex
	vectors  *store.VectorIndex
	embedder embed.Embedder

	metrics  *telemetry.Metrics
	history  *telemetry.History
	bandit   *bandit.Controller
	sweeper  *bandit.Sweeper
	recorder *feedback.Recorder
	gateway  *retrieval.Gateway
}

// loadConfig resolves the effective configuration from the global flags.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cwd, wdErr := os.Getwd()
		if wdErr != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", wdErr)
		}
		cfg, err = config.Load(cwd)
	}
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.Store.DataDir = dataDir
	}
	return cfg, nil
}

// newLogger returns the debug logger, the configured log file, or nothing.
func newLogger(cfg *config.Config) (*slog.Logger, func(), error) {
	if debugMode {
		return slog.Default(), func() {}, nil
	}
	if cfg.Logging.File == "" {
		return logging.Discard(), func() {}, nil
	}
	return logging.Setup(logging.Config{
		Level:     cfg.Logging.Level,
		FilePath:  cfg.Logging.File,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		MaxFiles:  cfg.Logging.MaxFiles,
	})
}

// openApp locks the data directory and wires the retrieval stack.
func openApp(ctx context.Context) (_ *app, err error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, cleanup, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to setup logging: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, cleanup: cleanup}
	defer func() {
		if err != nil {
			a.release()
		}
	}()

	a.db, err = store.Open(ctx, cfg.Store.DataDir)
	if err != nil {
		return nil, err
	}
	a.lexical, err = store.NewBleveIndex(a.db.LexicalPath(), store.DefaultBM25Config())
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeStoreOpen, "failed to open lexical index", err)
	}

	a.embedder = embed.NewCachedEmbedder(embed.NewStaticEmbedder(embed.DefaultDimensions), 0)
	a.vectors, err = openVectors(a.db.VectorPath(), a.embedder.Dimensions())
	if err != nil {
		return nil, err
	}

	d := cfg.Durations()
	a.metrics = telemetry.New(telemetry.DefaultConfig())
	a.history = telemetry.NewHistory(a.db.History(), telemetry.DefaultHistoryConfig())
	a.bandit = bandit.New(cfg.Bandit,
		bandit.WithStore(a.db.Arms()),
		bandit.WithLogger(logger),
		bandit.WithMetrics(a.metrics))

	// Runs are short, so sweeps missed while no process held the data
	// directory are replayed before the schedule starts.
	a.sweeper = bandit.NewSweeper(a.bandit, d.DecayInterval, logger, bandit.WithSweepStore(a.db.Arms()))
	if _, err := a.sweeper.CatchUp(ctx); err != nil {
		logger.LogAttrs(ctx, slog.LevelWarn, "bandit_decay_catch_up_failed", amerrors.LogAttrs(err)...)
	}
	a.sweeper.Start(context.WithoutCancel(ctx))

	a.recorder = feedback.NewRecorder(a.bandit, feedbackConfig(cfg, d),
		feedback.WithLedger(a.db.Ledger()),
		feedback.WithLogger(logger),
		feedback.WithMetrics(a.metrics))
	a.recorder.Start(context.WithoutCancel(ctx))

	registry := strategy.NewRegistry()
	for id, exec := range map[string]strategy.Executor{
		strategy.Lexical: lexical.New(a.lexical),
		strategy.Vector:  vector.New(a.embedder, a.vectors),
		strategy.Graph:   graph.New(a.db.Graph(), graph.DefaultDepth),
	} {
		if err := registry.Register(id, exec); err != nil {
			return nil, err
		}
	}
	dispatcher := strategy.NewDispatcher(registry,
		strategy.WithTimeout(d.StrategyTimeout),
		strategy.WithBreaker(cfg.Retrieval.BreakerMaxFailures, d.BreakerReset),
		strategy.WithLogger(logger),
		strategy.WithMetrics(a.metrics))

	a.gateway, err = retrieval.New(cfg, retrieval.Dependencies{
		Prior:      prior.New(0),
		Bandit:     a.bandit,
		Dispatcher: dispatcher,
		Expander:   induction.New(a.db.Graph(), cfg.Induction, d.InductionTimeout, logger),
		Feedback:   a.recorder,
		Metrics:    a.metrics,
		History:    a.history,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func feedbackConfig(cfg *config.Config, d config.Durations) feedback.Config {
	fc := feedback.DefaultConfig()
	fc.QueueSize = cfg.Feedback.QueueSize
	fc.Workers = cfg.Feedback.Workers
	fc.PendingCapacity = cfg.Feedback.PendingCapacity
	fc.Window = d.FeedbackWindow
	fc.Retry.MaxRetries = cfg.Feedback.MaxRetries
	fc.Retry.InitialDelay = d.RetryDelay
	return fc
}

// openVectors loads the saved vector index or starts an empty one.
func openVectors(path string, dims int) (*store.VectorIndex, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return store.NewVectorIndex(store.DefaultVectorConfig(dims)), nil
	}
	v, err := store.LoadVectorIndex(path)
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeStoreOpen, "failed to load vector index", err).
			WithSuggestion("Delete " + path + " and re-run 'amanrecall index'")
	}
	if v.Dimensions() != dims {
		_ = v.Close()
		return nil, amerrors.New(amerrors.ErrCodeStoreOpen,
			fmt.Sprintf("vector index has %d dimensions, embedder produces %d", v.Dimensions(), dims), nil)
	}
	return v, nil
}

// close stops the decay schedule, drains feedback, flushes query history, writes the metrics textfile
// and releases the store.
func (a *app) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if a.sweeper != nil {
		a.sweeper.Stop()
	}
	if a.recorder != nil {
		if err := a.recorder.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop feedback recorder: %w", err))
		}
	}
	if err := a.history.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush query history: %w", err))
	}
	if a.db != nil {
		if err := a.metrics.WriteFile(filepath.Join(a.db.Dir(), MetricsFileName)); err != nil {
			errs = append(errs, err)
		}
	}
	a.release()
	return errors.Join(errs...)
}

func (a *app) release() {
	if a.sweeper != nil {
		a.sweeper.Stop()
	}
	if a.vectors != nil {
		_ = a.vectors.Close()
	}
	if a.lexical != nil {
		_ = a.lexical.Close()
	}
	if a.embedder != nil {
		_ = a.embedder.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("store_close_failed", slog.String("error", err.Error()))
		}
	}
	if a.cleanup != nil {
		a.cleanup()
		a.cleanup = nil
	}
}
