// Package graph is the graph-traversal retrieval strategy. Query terms are
// matched against node labels; matching nodes and their neighbourhood are
// returned, nearer nodes first.
package graph

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/Aman-CERP/amanrecall/internal/induction"
	"github.com/Aman-CERP/amanrecall/internal/store"
	"github.com/Aman-CERP/amanrecall/internal/strategy"
)

// Store is the part of store.GraphStore the executor needs.
type Store interface {
	LabeledNodes(ctx context.Context) ([]store.Node, error)
	Neighbors(ctx context.Context, nodeID string, maxDepth int) ([]induction.Neighbor, error)
}

// DefaultDepth is how far the executor walks from a matched node.
const DefaultDepth = 1

// Executor matches query terms to labelled graph nodes.
type Executor struct {
	graph  Store
	depth  int
	minLen int
}

// New returns an executor walking up to depth hops from matched nodes.
func New(graph Store, depth int) *Executor {
	if depth < 0 {
		depth = DefaultDepth
	}
	return &Executor{graph: graph, depth: depth, minLen: store.DefaultBM25Config().MinTokenLength}
}

// Execute scores a labelled node by the share of its label terms found in the
// query. A neighbour at distance d inherits half the score per hop.
func (e *Executor) Execute(ctx context.Context, q strategy.Query) ([]strategy.Hit, error) {
	terms := make(map[string]bool)
	for _, t := range store.Tokenize(q.Text, e.minLen) {
		terms[t] = true
	}
	if len(terms) == 0 {
		return nil, nil
	}

	nodes, err := e.graph.LabeledNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("load labels: %w", err)
	}

	scores := make(map[string]float64)
	for _, n := range nodes {
		s := labelMatch(store.Tokenize(n.Label, e.minLen), terms)
		if s == 0 {
			continue
		}
		keepBest(scores, n.ID, s)
		if e.depth == 0 {
			continue
		}
		neighbors, err := e.graph.Neighbors(ctx, n.ID, e.depth)
		if err != nil {
			return nil, fmt.Errorf("walk from %s: %w", n.ID, err)
		}
		for _, nb := range neighbors {
			keepBest(scores, nb.NodeID, s*math.Pow(0.5, float64(nb.Distance)))
		}
	}

	hits := make([]strategy.Hit, 0, len(scores))
	for id, s := range scores {
		hits = append(hits, strategy.Hit{DocID: id, Score: s})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].DocID < hits[j].DocID
	})
	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	return hits, nil
}

func labelMatch(labelTerms []string, query map[string]bool) float64 {
	if len(labelTerms) == 0 {
		return 0
	}
	matched := 0
	for _, t := range labelTerms {
		if query[t] {
			matched++
		}
	}
	return float64(matched) / float64(len(labelTerms))
}

func keepBest(scores map[string]float64, id string, s float64) {
	if s > scores[id] {
		scores[id] = s
	}
}
