// Package telemetry exposes amanrecall's prometheus metrics.
//
// All recording methods are nil-safe so components can run without metrics.
package telemetry

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

const namespace = "amanrecall"

// Query results recorded by ObserveQuery.
const (
	ResultConfident    = "confident"
	ResultReFused      = "refused"
	ResultDegraded     = "degraded"
	ResultInvalid      = "invalid"
	ResultLowConfident = "low_confidence"
)

// Metrics holds every collector amanrecall registers.
type Metrics struct {
	registry *prometheus.Registry

	queries          *prometheus.CounterVec
	queryDuration    prometheus.Histogram
	strategyCalls    *prometheus.CounterVec
	strategyDuration *prometheus.HistogramVec
	inductionRuns    *prometheus.CounterVec
	armSelections    *prometheus.CounterVec
	feedbackEvents   *prometheus.CounterVec
	feedbackQueue    prometheus.Gauge
	driftEvents      prometheus.Counter
	decaySweeps      prometheus.Counter
}

// Config configures the metric set.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// LatencyBuckets for duration histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns buckets sized for sub-second retrieval.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}
}

// New registers all collectors on cfg.Registry.
func New(cfg Config) *Metrics {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{registry: registry}

	m.queries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "queries_total",
			Help:      "Queries handled, by result",
		},
		[]string{"result"},
	)
	m.queryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "query_duration_seconds",
			Help:      "End-to-end query latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
	)
	m.strategyCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "strategy",
			Name:      "calls_total",
			Help:      "Strategy executor calls, by strategy and status",
		},
		[]string{"strategy", "status"},
	)
	m.strategyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "strategy",
			Name:      "duration_seconds",
			Help:      "Strategy executor latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"strategy"},
	)
	m.inductionRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "induction",
			Name:      "runs_total",
			Help:      "Induction fallback runs, by status",
		},
		[]string{"status"},
	)
	m.armSelections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bandit",
			Name:      "arm_selections_total",
			Help:      "Arm selections, by arm and selection mode",
		},
		[]string{"arm", "mode"},
	)
	m.feedbackEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feedback",
			Name:      "events_total",
			Help:      "Feedback events, by status",
		},
		[]string{"status"},
	)
	m.feedbackQueue = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feedback",
			Name:      "queue_depth",
			Help:      "Feedback events waiting for a worker",
		},
	)
	m.driftEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bandit",
			Name:      "drift_total",
			Help:      "Tenants whose selection distribution crossed the drift threshold",
		},
	)
	m.decaySweeps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bandit",
			Name:      "decay_sweeps_total",
			Help:      "Posterior decay sweeps performed",
		},
	)

	registry.MustRegister(
		m.queries, m.queryDuration,
		m.strategyCalls, m.strategyDuration,
		m.inductionRuns, m.armSelections,
		m.feedbackEvents, m.feedbackQueue,
		m.driftEvents, m.decaySweeps,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveQuery records one finished query.
func (m *Metrics) ObserveQuery(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(result).Inc()
	m.queryDuration.Observe(d.Seconds())
}

// ObserveStrategy records one executor call.
func (m *Metrics) ObserveStrategy(strategy, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.strategyCalls.WithLabelValues(strategy, status).Inc()
	m.strategyDuration.WithLabelValues(strategy).Observe(d.Seconds())
}

// InductionRun records an induction outcome (ok, degraded, empty).
func (m *Metrics) InductionRun(status string) {
	if m == nil {
		return
	}
	m.inductionRuns.WithLabelValues(status).Inc()
}

// ArmSelected records a bandit selection. mode is "cold_start" or "sampled".
func (m *Metrics) ArmSelected(arm, mode string) {
	if m == nil {
		return
	}
	m.armSelections.WithLabelValues(arm, mode).Inc()
}

// Feedback records a feedback event status (recorded, duplicate, expired, dropped, ...).
func (m *Metrics) Feedback(status string) {
	if m == nil {
		return
	}
	m.feedbackEvents.WithLabelValues(status).Inc()
}

// FeedbackQueueDepth sets the current queue depth.
func (m *Metrics) FeedbackQueueDepth(n int) {
	if m == nil {
		return
	}
	m.feedbackQueue.Set(float64(n))
}

// Drift records a drift detection.
func (m *Metrics) Drift() {
	if m == nil {
		return
	}
	m.driftEvents.Inc()
}

// DecaySweep records a completed decay sweep.
func (m *Metrics) DecaySweep() {
	if m == nil {
		return
	}
	m.decaySweeps.Inc()
}

// WriteText writes every metric family in the prometheus text format.
func (m *Metrics) WriteText(w io.Writer) error {
	if m == nil {
		return nil
	}
	families, err := m.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write metric %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// WriteFile writes the text exposition to path, replacing it atomically.
func (m *Metrics) WriteFile(path string) error {
	if m == nil {
		return nil
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create metrics file: %w", err)
	}
	if err := m.WriteText(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close metrics file: %w", err)
	}
	return os.Rename(tmp, path)
}
