// Package strategy defines the retrieval strategy contract and runs
// strategies in parallel under per-call timeouts.
package strategy

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Aman-CERP/amanrecall/internal/fusion"
)

// Built-in strategy identifiers.
const (
	Lexical = "lexical"
	Vector  = "vector"
	Graph   = "graph"
)

// Query is what an executor receives.
type Query struct {
	Text        string
	TenantID    string
	ProjectID   string
	Limit       int
	Constraints map[string]string
}

// Hit is one ranked document from an executor. Higher Score is better.
type Hit struct {
	DocID string
	Score float64
}

// Executor is a retrieval backend. Execute returns hits in rank order and
// must return promptly once ctx is done; the dispatcher abandons calls that
// run past their deadline regardless.
type Executor interface {
	Execute(ctx context.Context, q Query) ([]Hit, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, q Query) ([]Hit, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, q Query) ([]Hit, error) {
	return f(ctx, q)
}

// Registry maps strategy ids to executors.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register adds exec under id. Ids must be unique and non-empty.
func (r *Registry) Register(id string, exec Executor) error {
	if id == "" {
		return fmt.Errorf("strategy id must not be empty")
	}
	if exec == nil {
		return fmt.Errorf("strategy %q: nil executor", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.executors[id]; exists {
		return fmt.Errorf("strategy %q already registered", id)
	}
	r.executors[id] = exec
	return nil
}

// Get returns the executor for id.
func (r *Registry) Get(id string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.executors[id]
	return exec, ok
}

// IDs returns registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.executors))
	for id := range r.executors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ToList converts hits into a fusion list, truncated to limit (<=0 keeps all).
func ToList(strategy string, hits []Hit, limit int) fusion.List {
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	l := fusion.List{Strategy: strategy, Candidates: make([]fusion.Candidate, 0, len(hits))}
	for i, h := range hits {
		l.Candidates = append(l.Candidates, fusion.Candidate{
			DocID:    h.DocID,
			Strategy: strategy,
			Rank:     i + 1,
			Score:    h.Score,
		})
	}
	return l
}
