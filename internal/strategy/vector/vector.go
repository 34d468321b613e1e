// Package vector is the embedding-similarity retrieval strategy.
package vector

import (
	"context"
	"fmt"

	"github.com/Aman-CERP/amanrecall/internal/embed"
	"github.com/Aman-CERP/amanrecall/internal/store"
	"github.com/Aman-CERP/amanrecall/internal/strategy"
)

// Searcher is the part of store.VectorIndex the executor needs.
type Searcher interface {
	Search(ctx context.Context, query []float32, k int) ([]store.VectorResult, error)
}

// Executor embeds the query text and searches a vector index.
type Executor struct {
	embedder embed.Embedder
	index    Searcher
}

// New returns an executor. Query vectors come from embedder, which must match
// the embedder the index was built with.
func New(embedder embed.Embedder, index Searcher) *Executor {
	return &Executor{embedder: embedder, index: index}
}

// Execute returns nearest documents, most similar first.
func (e *Executor) Execute(ctx context.Context, q strategy.Query) ([]strategy.Hit, error) {
	vec, err := e.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	results, err := e.index.Search(ctx, vec, q.Limit)
	if err != nil {
		return nil, err
	}
	hits := make([]strategy.Hit, len(results))
	for i, r := range results {
		hits[i] = strategy.Hit{DocID: r.ID, Score: float64(r.Score)}
	}
	return hits, nil
}
