package embed

import (
	"context"
	"math"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Static embedder
// ============================================================================

func TestStaticEmbedder_UnitLengthAndDimensions(t *testing.T) {
	// Given: a 64-dimension embedder
	e := NewStaticEmbedder(64)
	defer func() { _ = e.Close() }()

	// When: I embed a sentence
	vec, err := e.Embed(context.Background(), "Payment retries use exponential backoff")

	// Then: the vector has unit length
	require.NoError(t, err)
	assert.Len(t, vec, 64)
	assert.InDelta(t, 1.0, vectorMagnitude(vec), 0.001)
	assert.Equal(t, "static-64", e.ModelName())
}

func TestStaticEmbedder_Deterministic(t *testing.T) {
	a, b := NewStaticEmbedder(0), NewStaticEmbedder(0)
	text := "RetryPolicy for the billingService"

	va, err := a.Embed(context.Background(), text)
	require.NoError(t, err)
	vb, err := b.Embed(context.Background(), text)
	require.NoError(t, err)

	assert.Equal(t, va, vb)
	assert.Len(t, va, DefaultDimensions)
}

func TestStaticEmbedder_SimilarTextsCloser(t *testing.T) {
	e := NewStaticEmbedder(0)
	ctx := context.Background()

	base, _ := e.Embed(ctx, "retry payment requests with backoff")
	near, _ := e.Embed(ctx, "payment request retries and backoff")
	far, _ := e.Embed(ctx, "quarterly revenue review meeting notes")

	assert.Greater(t, cosineSimilarity(base, near), cosineSimilarity(base, far))
}

func TestStaticEmbedder_BlankAndClosed(t *testing.T) {
	e := NewStaticEmbedder(8)

	vec, err := e.Embed(context.Background(), "   ")
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 8), vec)

	require.NoError(t, e.Close())
	_, err = e.Embed(context.Background(), "x")
	assert.Error(t, err)
	_, err = e.EmbedBatch(context.Background(), []string{"x"})
	assert.Error(t, err)
}

// ============================================================================
// Cache
// ============================================================================

type countingEmbedder struct {
	*StaticEmbedder
	calls atomic.Int32
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	return c.StaticEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(int32(len(texts)))
	return c.StaticEmbedder.EmbedBatch(ctx, texts)
}

func TestCachedEmbedder_ReusesVectors(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder(16)}
	c := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	first, err := c.Embed(ctx, "jitter")
	require.NoError(t, err)
	second, err := c.Embed(ctx, "jitter")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), inner.calls.Load())

	// Only the miss reaches the inner embedder
	batch, err := c.EmbedBatch(ctx, []string{"jitter", "backoff"})
	require.NoError(t, err)
	assert.Len(t, batch, 2)
	assert.Equal(t, first, batch[0])
	assert.Equal(t, int32(2), inner.calls.Load())
	assert.Equal(t, 2, c.Len())
}

func vectorMagnitude(v []float32) float64 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}
	return math.Sqrt(sum)
}

func cosineSimilarity(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (vectorMagnitude(a) * vectorMagnitude(b))
}
