// Package embed turns memory text into vectors for the vector strategy.
//
// Real embedding models live outside amanrecall. The static embedder here is
// deterministic and dependency free, which is enough for local corpora, the
// simulate command and tests.
package embed

import (
	"context"
	"math"
)

// DefaultDimensions is the vector size of the static embedder.
const DefaultDimensions = 256

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for texts, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding size.
	Dimensions() int

	// ModelName identifies the model; cached vectors are keyed by it.
	ModelName() string

	Close() error
}

// normalizeVector scales v to unit length. A zero vector is returned as-is.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
