// Package fusion combines ranked candidate lists with weighted Reciprocal
// Rank Fusion (RRF).
//
// Algorithm: score(d) = Σ weight_s / (k + rank_s(d))
//
// Where:
//   - k = smoothing constant (default: 60)
//   - rank_s(d) = 1-based position of d in strategy s's list
//   - weight_s = effective weight of strategy s (arm weight × prior bias)
//
// A document missing from a list gets nothing from that list; there is no
// missing-rank penalty. Fuse is a pure function: lists are visited in
// strategy order so every document's float sum is accumulated in the same
// order on every run.
package fusion

import (
	"math"
	"sort"
)

// DefaultRRFConstant is the standard RRF smoothing parameter.
const DefaultRRFConstant = 60

// Candidate is one hit emitted by one strategy for one query.
type Candidate struct {
	DocID    string
	Strategy string
	Rank     int     // 1-based position in the strategy's list
	Score    float64 // strategy-native score, only used for tie-breaking
}

// List is one strategy's rank-ordered candidates.
type List struct {
	Strategy   string
	Candidates []Candidate
}

// Item is one fused document.
type Item struct {
	DocID      string
	Score      float64        // fused RRF score
	Rank       int            // 1-based position in the fused order
	Strategies []string       // contributing strategies, sorted
	Ranks      map[string]int // per-strategy rank of this document
	BestRaw    float64        // highest single-strategy raw score
}

// Result is the fused ranking plus its confidence.
type Result struct {
	Items      []Item
	Confidence float64
}

// Top returns at most k items.
func (r Result) Top(k int) []Item {
	if k <= 0 || k >= len(r.Items) {
		return r.Items
	}
	return r.Items[:k]
}

// Engine fuses candidate lists. The zero value uses k=60.
type Engine struct {
	K int
}

// New creates an engine with the default constant.
func New() *Engine {
	return &Engine{K: DefaultRRFConstant}
}

// NewWithK creates an engine with a custom constant. k <= 0 uses 60.
func NewWithK(k int) *Engine {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &Engine{K: k}
}

func (e *Engine) k() int {
	if e == nil || e.K <= 0 {
		return DefaultRRFConstant
	}
	return e.K
}

// Fuse combines lists under weights. Strategies with a missing, zero,
// negative or non-finite weight are ignored entirely.
//
// Ordering: Score desc → BestRaw desc → DocID asc.
func (e *Engine) Fuse(lists []List, weights map[string]float64) Result {
	k := e.k()

	ordered := make([]List, len(lists))
	copy(ordered, lists)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Strategy < ordered[j].Strategy
	})

	items := make(map[string]*Item)
	var order []string
	maxPossible := 0.0

	for _, list := range ordered {
		w, ok := weights[list.Strategy]
		if !ok || !usableWeight(w) || len(list.Candidates) == 0 {
			continue
		}
		maxPossible += w / float64(k+1)

		seen := make(map[string]struct{}, len(list.Candidates))
		for pos, c := range list.Candidates {
			if c.DocID == "" {
				continue
			}
			if _, dup := seen[c.DocID]; dup {
				continue
			}
			seen[c.DocID] = struct{}{}
			rank := pos + 1

			it, exists := items[c.DocID]
			if !exists {
				it = &Item{DocID: c.DocID, BestRaw: math.Inf(-1), Ranks: make(map[string]int)}
				items[c.DocID] = it
				order = append(order, c.DocID)
			}
			it.Score += w / float64(k+rank)
			if _, seenStrategy := it.Ranks[list.Strategy]; !seenStrategy {
				it.Strategies = append(it.Strategies, list.Strategy)
				it.Ranks[list.Strategy] = rank
			}
			if c.Score > it.BestRaw {
				it.BestRaw = c.Score
			}
		}
	}

	out := make([]Item, 0, len(order))
	for _, id := range order {
		out = append(out, *items[id])
	}
	sort.Slice(out, func(i, j int) bool {
		return less(out[i], out[j])
	})
	for i := range out {
		out[i].Rank = i + 1
	}

	return Result{Items: out, Confidence: Confidence(out, maxPossible)}
}

func less(a, b Item) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.BestRaw != b.BestRaw {
		return a.BestRaw > b.BestRaw
	}
	return a.DocID < b.DocID
}

func usableWeight(w float64) bool {
	return w > 0 && !math.IsInf(w, 0) && !math.IsNaN(w)
}

// Confidence scores how far the top item stands out, in [0,1]:
//   - no items: 0
//   - one item: its score relative to maxPossible (the score of a document
//     ranked first by every contributing strategy)
//   - otherwise: (top1 - top2) / top1
func Confidence(items []Item, maxPossible float64) float64 {
	switch len(items) {
	case 0:
		return 0
	case 1:
		if maxPossible <= 0 {
			return 0
		}
		return clamp01(items[0].Score / maxPossible)
	default:
		top, next := items[0].Score, items[1].Score
		if top <= 0 {
			return 0
		}
		return clamp01((top - next) / top)
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
