package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search"
)

const (
	// TokenizerName is the registered identifier-aware tokenizer type.
	TokenizerName = "recall_tokenizer"

	// StopFilterName is the registered stop word filter type.
	StopFilterName = "recall_stop"

	// AnalyzerName is the analyzer every text field uses.
	AnalyzerName = "recall_analyzer"

	tokenizerInstance  = "recall_tokenizer_cfg"
	stopFilterInstance = "recall_stop_cfg"
)

func init() {
	_ = registry.RegisterTokenizer(TokenizerName, tokenizerConstructor)
	_ = registry.RegisterTokenFilter(StopFilterName, stopFilterConstructor)
}

// BleveIndex is the BM25 lexical index over memory documents.
type BleveIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// bleveDocument is the indexed shape of a Document.
type bleveDocument struct {
	Content string `json:"content"`
	Label   string `json:"label"`
}

// validateIndexIntegrity checks an on-disk index before opening it.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(filepath.Join(path, "index_meta.json"))
	if err != nil {
		return fmt.Errorf("index_meta.json unreadable: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("index_meta.json is empty")
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

// NewBleveIndex opens or creates the index at path. An empty path creates
// an in-memory index. A corrupt on-disk index is cleared and recreated;
// the caller must reindex.
func NewBleveIndex(path string, cfg BM25Config) (*BleveIndex, error) {
	indexMapping, err := createIndexMapping(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
		}

		if validErr := validateIndexIntegrity(path); validErr != nil {
			slog.Warn("lexical_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("lexical index corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
			}
		}

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open lexical index: %w", err)
	}

	return &BleveIndex{index: idx, path: path}, nil
}

// createIndexMapping wires the tokenizer, lowercase and stop filters into
// the default analyzer. Parameters travel in the mapping so a reopened
// index analyzes exactly as it did when built.
func createIndexMapping(cfg BM25Config) (*mapping.IndexMappingImpl, error) {
	if cfg.MinTokenLength <= 0 {
		cfg.MinTokenLength = 2
	}
	stopWords := make([]interface{}, len(cfg.StopWords))
	for i, w := range cfg.StopWords {
		stopWords[i] = w
	}

	m := bleve.NewIndexMapping()
	if err := m.AddCustomTokenizer(tokenizerInstance, map[string]interface{}{
		"type":       TokenizerName,
		"min_length": float64(cfg.MinTokenLength),
	}); err != nil {
		return nil, fmt.Errorf("failed to add tokenizer: %w", err)
	}
	if err := m.AddCustomTokenFilter(stopFilterInstance, map[string]interface{}{
		"type":       StopFilterName,
		"stop_words": stopWords,
	}); err != nil {
		return nil, fmt.Errorf("failed to add stop filter: %w", err)
	}
	if err := m.AddCustomAnalyzer(AnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     tokenizerInstance,
		"token_filters": []string{stopFilterInstance},
	}); err != nil {
		return nil, fmt.Errorf("failed to add analyzer: %w", err)
	}
	m.DefaultAnalyzer = AnalyzerName
	return m, nil
}

// Index adds or replaces documents.
func (b *BleveIndex) Index(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("index is closed")
	}

	batch := b.index.NewBatch()
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := batch.Index(doc.ID, bleveDocument{Content: doc.Text, Label: doc.Label}); err != nil {
			return fmt.Errorf("failed to index document %s: %w", doc.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

// Search returns documents matching query by BM25, best first. Labels
// count double. Equal scores are ordered by document id.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int) ([]LexicalResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return []LexicalResult{}, nil
	}

	content := bleve.NewMatchQuery(query)
	content.SetField("content")
	label := bleve.NewMatchQuery(query)
	label.SetField("label")
	label.SetBoost(2)

	req := bleve.NewSearchRequest(bleve.NewDisjunctionQuery(content, label))
	req.Size = limit
	req.IncludeLocations = true
	req.SortBy([]string{"-_score", "_id"})

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	out := make([]LexicalResult, 0, len(res.Hits))
	for _, hit := range res.Hits {
		out = append(out, LexicalResult{
			DocID:        hit.ID,
			Score:        hit.Score,
			MatchedTerms: matchedTerms(hit),
		})
	}
	return out, nil
}

// Texts returns the stored text of the given documents. Unknown ids are
// absent from the map.
func (b *BleveIndex) Texts(ctx context.Context, ids []string) (map[string]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("index is closed")
	}
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	req := bleve.NewSearchRequest(bleve.NewDocIDQuery(ids))
	req.Size = len(ids)
	req.Fields = []string{"content"}
	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("fetch documents: %w", err)
	}
	for _, hit := range res.Hits {
		if text, ok := hit.Fields["content"].(string); ok {
			out[hit.ID] = text
		}
	}
	return out, nil
}

// Delete removes documents.
func (b *BleveIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("index is closed")
	}

	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

// Stats returns index statistics.
func (b *BleveIndex) Stats() IndexStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return IndexStats{}
	}
	n, _ := b.index.DocCount()
	return IndexStats{DocumentCount: int(n)}
}

// Close closes the index.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

func matchedTerms(hit *search.DocumentMatch) []string {
	seen := make(map[string]struct{})
	for _, locations := range hit.Locations {
		for term := range locations {
			seen[term] = struct{}{}
		}
	}
	terms := make([]string, 0, len(seen))
	for term := range seen {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	return terms
}

func tokenizerConstructor(config map[string]interface{}, _ *registry.Cache) (analysis.Tokenizer, error) {
	minLen := 2
	if v, ok := config["min_length"].(float64); ok && v > 0 {
		minLen = int(v)
	}
	return &bleveTokenizer{minLen: minLen}, nil
}

// bleveTokenizer adapts Tokenize to bleve. Terms come out lowercased.
type bleveTokenizer struct {
	minLen int
}

// Tokenize implements analysis.Tokenizer.
func (t *bleveTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	lower := strings.ToLower(text)
	tokens := Tokenize(text, t.minLen)

	result := make(analysis.TokenStream, 0, len(tokens))
	offset := 0
	for i, token := range tokens {
		// Parts of a compound share its span, so offsets only move forward
		// to where the latest token was found.
		start := offset
		if idx := strings.Index(lower[offset:], token); idx >= 0 {
			start = offset + idx
			offset = start
		}
		end := min(start+len(token), len(text))

		result = append(result, &analysis.Token{
			Term:     []byte(token),
			Start:    start,
			End:      end,
			Position: i + 1,
			Type:     analysis.AlphaNumeric,
		})
	}
	return result
}

func stopFilterConstructor(config map[string]interface{}, _ *registry.Cache) (analysis.TokenFilter, error) {
	var words []string
	switch v := config["stop_words"].(type) {
	case []interface{}:
		for _, w := range v {
			if s, ok := w.(string); ok {
				words = append(words, s)
			}
		}
	case []string:
		words = v
	default:
		words = DefaultStopWords
	}
	return &bleveStopFilter{stopWords: buildStopWordMap(words)}, nil
}

type bleveStopFilter struct {
	stopWords map[string]struct{}
}

// Filter implements analysis.TokenFilter.
func (f *bleveStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	result := make(analysis.TokenStream, 0, len(input))
	for _, token := range input {
		if _, stop := f.stopWords[string(token.Term)]; !stop {
			result = append(result, token)
		}
	}
	return result
}
