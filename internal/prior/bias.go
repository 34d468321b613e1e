package prior

import (
	"math"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Strategy identifiers the prior knows how to nudge.
const (
	Lexical = "lexical"
	Vector  = "vector"
	Graph   = "graph"
)

const (
	minMultiplier = 0.5
	maxMultiplier = 2.0

	// longQueryTokens is where a query counts as fully "long" for the vector nudge.
	longQueryTokens = 12

	defaultCacheSize = 1024
)

// Bias is a per-strategy multiplicative nudge. Missing strategies are neutral.
type Bias map[string]float64

// Of returns the multiplier for strategy, 1.0 when unset.
func (b Bias) Of(strategy string) float64 {
	if v, ok := b[strategy]; ok {
		return v
	}
	return 1.0
}

// Apply multiplies weights by the bias and returns a new map.
func (b Bias) Apply(weights map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(weights))
	for s, w := range weights {
		out[s] = w * b.Of(s)
	}
	return out
}

// Strategies returns the biased strategy ids in sorted order.
func (b Bias) Strategies() []string {
	ids := make([]string, 0, len(b))
	for s := range b {
		ids = append(ids, s)
	}
	sort.Strings(ids)
	return ids
}

// Neutral returns the all-ones bias.
func Neutral() Bias {
	return Bias{Lexical: 1, Vector: 1, Graph: 1}
}

// Compute turns features into a bias:
//   - keyword density and structured tokens favor lexical search
//   - long, abstract queries favor vector search and damp lexical
//   - relational phrasing favors graph traversal
func Compute(f Features) Bias {
	b := Neutral()
	if f.TokenCount == 0 {
		return b
	}

	lex := 1 + f.KeywordRatio
	if f.StructuredTokens > 0 {
		lex *= 1.25
	}

	length := math.Min(float64(f.TokenCount), longQueryTokens) / longQueryTokens
	vec := 1 + length*f.AbstractionScore
	lex *= 1 - 0.5*length*f.AbstractionScore

	graph := 1.0
	if f.Relational {
		graph = 1.5
	}

	b[Lexical] = clamp(lex)
	b[Vector] = clamp(vec)
	b[Graph] = clamp(graph)
	return b
}

func clamp(v float64) float64 {
	return math.Max(minMultiplier, math.Min(maxMultiplier, v))
}

// Result pairs features with the bias derived from them.
type Result struct {
	Features Features
	Bias     Bias
}

// Prior memoizes Extract+Compute per normalized query text.
type Prior struct {
	cache *lru.Cache[string, Result]
}

// New creates a Prior with an LRU of the given size (<=0 uses the default).
func New(cacheSize int) *Prior {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, _ := lru.New[string, Result](cacheSize)
	return &Prior{cache: cache}
}

// Evaluate returns features and bias for text. The returned Bias is a copy.
func (p *Prior) Evaluate(text string) Result {
	key := strings.TrimSpace(text)
	if r, ok := p.cache.Get(key); ok {
		return Result{Features: r.Features, Bias: cloneBias(r.Bias)}
	}

	f := Extract(key)
	r := Result{Features: f, Bias: Compute(f)}
	p.cache.Add(key, r)
	return Result{Features: f, Bias: cloneBias(r.Bias)}
}

func cloneBias(b Bias) Bias {
	out := make(Bias, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}
