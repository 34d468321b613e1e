// Package async provides background task infrastructure for amanrecall.
package async

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// TaskFunc is one run of a periodic task.
type TaskFunc func(ctx context.Context) error

// Snapshot is an immutable view of a periodic task's progress.
type Snapshot struct {
	Name      string    `json:"name"`
	Running   bool      `json:"running"`
	Runs      int       `json:"runs"`
	Failures  int       `json:"failures"`
	LastRun   time.Time `json:"last_run"`
	LastError string    `json:"last_error,omitempty"`
}

// Periodic runs a task on a fixed interval in a background goroutine.
type Periodic struct {
	name     string
	interval time.Duration
	task     TaskFunc
	logger   *slog.Logger

	// Lifecycle management
	stopCh chan struct{}
	doneCh chan struct{}

	mu       sync.Mutex
	running  bool
	runs     int
	failures int
	lastRun  time.Time
	lastErr  error
}

// NewPeriodic creates a task that calls fn every interval once started.
func NewPeriodic(name string, interval time.Duration, fn TaskFunc, logger *slog.Logger) *Periodic {
	if logger == nil {
		logger = slog.Default()
	}
	return &Periodic{
		name:     name,
		interval: interval,
		task:     fn,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the loop. It is non-blocking and a no-op if already running.
func (p *Periodic) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	go p.loop(ctx)
}

func (p *Periodic) loop(ctx context.Context) {
	defer close(p.doneCh)
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce runs the task synchronously and records the outcome.
func (p *Periodic) RunOnce(ctx context.Context) {
	err := p.task(ctx)

	p.mu.Lock()
	p.runs++
	p.lastRun = time.Now()
	p.lastErr = err
	if err != nil {
		p.failures++
	}
	p.mu.Unlock()

	if err != nil {
		p.logger.Warn("periodic_task_failed",
			slog.String("task", p.name),
			slog.String("error", err.Error()))
	}
}

// Stop signals the loop to exit and waits for it.
func (p *Periodic) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	select {
	case <-p.stopCh:
	default:
		close(p.stopCh)
	}
	<-p.doneCh
}

// IsRunning returns true while the loop is active.
func (p *Periodic) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Snapshot returns the current progress.
func (p *Periodic) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Snapshot{
		Name:     p.name,
		Running:  p.running,
		Runs:     p.runs,
		Failures: p.failures,
		LastRun:  p.lastRun,
	}
	if p.lastErr != nil {
		s.LastError = p.lastErr.Error()
	}
	return s
}
