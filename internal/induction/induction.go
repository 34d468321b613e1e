// Package induction widens a low-confidence result by walking the document
// graph outward from the best fused hits.
//
// Neighbor weights decay exponentially with hop distance:
//
//	weight = base * exp(-lambda * distance)
//
// where base is the seed's fused score relative to the top score. The walk
// is bounded by node count, depth and its own timeout.
package induction

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/Aman-CERP/amanrecall/internal/config"
	amerrors "github.com/Aman-CERP/amanrecall/internal/errors"
	"github.com/Aman-CERP/amanrecall/internal/fusion"
)

// StrategyID labels the list Expand produces.
const StrategyID = "induction"

// Neighbor is a node reachable from a seed.
type Neighbor struct {
	NodeID   string
	Distance int
}

// GraphNeighbor walks the document graph.
type GraphNeighbor interface {
	// Neighbors returns nodes within maxDepth hops of nodeID, excluding
	// nodeID itself.
	Neighbors(ctx context.Context, nodeID string, maxDepth int) ([]Neighbor, error)
}

// Seed is a starting node and its base weight in (0, 1].
type Seed struct {
	NodeID string
	Weight float64
}

// Expander runs bounded graph expansion.
type Expander struct {
	graph     GraphNeighbor
	maxNodes  int
	maxDepth  int
	lambda    float64
	minWeight float64
	timeout   time.Duration
	logger    *slog.Logger
}

// New creates an expander over graph.
func New(graph GraphNeighbor, cfg config.InductionConfig, timeout time.Duration, logger *slog.Logger) *Expander {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 250 * time.Millisecond
	}
	return &Expander{
		graph:     graph,
		maxNodes:  cfg.MaxNodes,
		maxDepth:  cfg.MaxDepth,
		lambda:    cfg.Lambda,
		minWeight: cfg.MinWeight,
		timeout:   timeout,
		logger:    logger,
	}
}

// SeedsFrom takes the first n fused items as seeds, weighting each by its
// score relative to the top item.
func SeedsFrom(items []fusion.Item, n int) []Seed {
	if n > len(items) {
		n = len(items)
	}
	if n <= 0 || items[0].Score <= 0 {
		return nil
	}
	top := items[0].Score
	seeds := make([]Seed, 0, n)
	for _, it := range items[:n] {
		seeds = append(seeds, Seed{NodeID: it.DocID, Weight: it.Score / top})
	}
	return seeds
}

// Expand walks from seeds and returns the reached nodes as a ranked list.
// The walk runs in its own goroutine and is abandoned when the expander's
// timeout or ctx expires; the caller never waits past that.
func (e *Expander) Expand(ctx context.Context, seeds []Seed) (fusion.List, error) {
	if len(seeds) == 0 {
		return fusion.List{Strategy: StrategyID}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type result struct {
		list fusion.List
		err  error
	}
	ch := make(chan result, 1)
	start := time.Now()

	go func() {
		list, err := e.walk(ctx, seeds)
		ch <- result{list, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return fusion.List{}, amerrors.New(amerrors.ErrCodeInductionFailed, "graph expansion failed", r.err)
		}
		e.logger.Debug("induction_complete",
			slog.Int("seeds", len(seeds)),
			slog.Int("candidates", len(r.list.Candidates)),
			slog.Duration("elapsed", time.Since(start)))
		return r.list, nil
	case <-ctx.Done():
		return fusion.List{}, amerrors.New(amerrors.ErrCodeInductionFailed,
			fmt.Sprintf("graph expansion abandoned after %s", time.Since(start).Round(time.Millisecond)), ctx.Err())
	}
}

func (e *Expander) walk(ctx context.Context, seeds []Seed) (fusion.List, error) {
	isSeed := make(map[string]bool, len(seeds))
	for _, s := range seeds {
		isSeed[s.NodeID] = true
	}

	best := make(map[string]float64)
	visited := 0

	for _, s := range seeds {
		if visited >= e.maxNodes {
			break
		}
		if err := ctx.Err(); err != nil {
			return fusion.List{}, err
		}
		neighbors, err := e.graph.Neighbors(ctx, s.NodeID, e.maxDepth)
		if err != nil {
			return fusion.List{}, fmt.Errorf("neighbors of %s: %w", s.NodeID, err)
		}

		for _, n := range neighbors {
			if visited >= e.maxNodes {
				break
			}
			if n.Distance <= 0 || n.Distance > e.maxDepth || isSeed[n.NodeID] {
				continue
			}
			visited++

			w := s.Weight * math.Exp(-e.lambda*float64(n.Distance))
			if w < e.minWeight {
				continue
			}
			if w > best[n.NodeID] {
				best[n.NodeID] = w
			}
		}
	}

	ids := make([]string, 0, len(best))
	for id := range best {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if best[ids[i]] != best[ids[j]] {
			return best[ids[i]] > best[ids[j]]
		}
		return ids[i] < ids[j]
	})

	list := fusion.List{Strategy: StrategyID, Candidates: make([]fusion.Candidate, len(ids))}
	for i, id := range ids {
		list.Candidates[i] = fusion.Candidate{
			DocID:    id,
			Strategy: StrategyID,
			Rank:     i + 1,
			Score:    best[id],
		}
	}
	return list, nil
}
