// Package lexical is the BM25 retrieval strategy.
package lexical

import (
	"context"

	"github.com/Aman-CERP/amanrecall/internal/store"
	"github.com/Aman-CERP/amanrecall/internal/strategy"
)

// Searcher is the part of store.BleveIndex the executor needs.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]store.LexicalResult, error)
}

// Executor runs queries against a lexical index.
type Executor struct {
	index Searcher
}

// New returns an executor over index.
func New(index Searcher) *Executor {
	return &Executor{index: index}
}

// Execute returns BM25 hits, best first.
func (e *Executor) Execute(ctx context.Context, q strategy.Query) ([]strategy.Hit, error) {
	results, err := e.index.Search(ctx, q.Text, q.Limit)
	if err != nil {
		return nil, err
	}
	hits := make([]strategy.Hit, len(results))
	for i, r := range results {
		hits[i] = strategy.Hit{DocID: r.DocID, Score: r.Score}
	}
	return hits, nil
}
