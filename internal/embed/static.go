package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"
	"unicode"
)

// StaticEmbedder hashes words and character trigrams into a fixed number of
// buckets. Texts sharing vocabulary land close together; synonyms do not.
type StaticEmbedder struct {
	dims int

	mu     sync.RWMutex
	closed bool
}

// Bucket weights. Words dominate; trigrams smooth over inflections such as
// "retry" and "retries".
const (
	wordWeight    = 0.7
	trigramWeight = 0.3
	trigramSize   = 3
)

var wordRegex = regexp.MustCompile(`[\p{L}\p{N}]+`)

// fillerWords carry no topical signal in memory documents.
var fillerWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "of": true,
	"to": true, "in": true, "on": true, "for": true, "with": true, "is": true,
	"are": true, "was": true, "be": true, "it": true, "this": true, "that": true,
	"how": true, "what": true, "why": true, "do": true, "does": true, "we": true,
}

// NewStaticEmbedder returns an embedder producing dims-sized vectors.
// dims <= 0 selects DefaultDimensions.
func NewStaticEmbedder(dims int) *StaticEmbedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &StaticEmbedder{dims: dims}
}

// Embed returns the unit-length vector for text. Blank text maps to the zero
// vector.
func (e *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, e.dims), nil
	}
	return normalizeVector(e.generateVector(trimmed)), nil
}

func (e *StaticEmbedder) generateVector(text string) []float32 {
	vector := make([]float32, e.dims)

	for _, w := range words(text) {
		vector[bucket(w, e.dims)] += wordWeight
	}
	for _, g := range trigrams(compact(text)) {
		vector[bucket(g, e.dims)] += trigramWeight
	}
	return vector
}

// words lowercases text, splits camelCase runs and drops filler words.
func words(text string) []string {
	var out []string
	for _, raw := range wordRegex.FindAllString(text, -1) {
		for _, part := range splitCamel(raw) {
			w := strings.ToLower(part)
			if w != "" && !fillerWords[w] {
				out = append(out, w)
			}
		}
	}
	return out
}

func splitCamel(s string) []string {
	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if (prevIsLower || nextIsLower) && current.Len() > 0 {
				result = append(result, current.String())
				current.Reset()
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}

// compact keeps lowercase letters and digits only.
func compact(text string) []rune {
	var out []rune
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			out = append(out, r)
		}
	}
	return out
}

func trigrams(runes []rune) []string {
	if len(runes) < trigramSize {
		return nil
	}
	out := make([]string, 0, len(runes)-trigramSize+1)
	for i := 0; i <= len(runes)-trigramSize; i++ {
		out = append(out, string(runes[i:i+trigramSize]))
	}
	return out
}

func bucket(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}

// EmbedBatch embeds texts in order.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		results[i] = emb
	}
	return results, nil
}

// Dimensions returns the vector size.
func (e *StaticEmbedder) Dimensions() int { return e.dims }

// ModelName returns "static-<dims>".
func (e *StaticEmbedder) ModelName() string { return fmt.Sprintf("static-%d", e.dims) }

// Close marks the embedder closed. Later calls fail.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
