// Package store persists amanrecall state.
//
// SQLite (recall.db) holds arm posteriors, the feedback ledger and the
// document graph. Alongside it live the lexical index (bleve) and the
// vector index (HNSW) that the retrieval strategies search. A data
// directory is owned by one process at a time through a lock file.
package store

import (
	"fmt"
)

// Document is one memory document as indexed.
type Document struct {
	ID    string   `json:"id"`
	Text  string   `json:"text"`
	Label string   `json:"label,omitempty"`
	Links []string `json:"links,omitempty"`
}

// LexicalResult is a single BM25 hit.
type LexicalResult struct {
	DocID        string
	Score        float64
	MatchedTerms []string
}

// IndexStats describes the lexical index.
type IndexStats struct {
	DocumentCount int
}

// BM25Config configures the lexical index.
type BM25Config struct {
	// StopWords are dropped at index and query time
	StopWords []string

	// MinTokenLength is the shortest token indexed (default: 2)
	MinTokenLength int
}

// DefaultBM25Config returns the default lexical configuration.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		StopWords:      DefaultStopWords,
		MinTokenLength: 2,
	}
}

// DefaultStopWords are English function words that carry no retrieval
// signal in memory documents.
var DefaultStopWords = []string{
	"the", "and", "or", "of", "to", "in", "on", "at", "by", "for", "with",
	"is", "are", "was", "were", "be", "been", "it", "its", "this", "that",
	"an", "as", "from", "we", "our", "you", "your", "do", "does", "did",
}

// VectorResult is a single nearest-neighbour hit.
type VectorResult struct {
	ID       string
	Distance float32 // lower is closer (0-2 for cosine)
	Score    float32 // similarity in [0,1]
}

// VectorConfig configures the HNSW index.
type VectorConfig struct {
	// Dimensions of every stored vector
	Dimensions int

	// Metric is "cos" or "l2" (default: "cos")
	Metric string

	// M is max connections per layer (default: 16)
	M int

	// EfSearch is query-time search width (default: 20)
	EfSearch int
}

// DefaultVectorConfig returns defaults for the given dimension.
func DefaultVectorConfig(dimensions int) VectorConfig {
	return VectorConfig{
		Dimensions: dimensions,
		Metric:     "cos",
		M:          16,
		EfSearch:   20,
	}
}

// ErrDimensionMismatch indicates a vector of the wrong size.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (rebuild with 'amanrecall index')", e.Expected, e.Got)
}
