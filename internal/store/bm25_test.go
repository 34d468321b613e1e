package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var memoryDocs = []Document{
	{ID: "m1", Text: "Configure the RetryPolicy with exponential backoff for the payment service"},
	{ID: "m2", Text: "Quarterly revenue review notes and action items", Label: "Finance"},
	{ID: "m3", Text: "ERR_401 returned when the tenant id is missing from the request"},
	{ID: "m4", Text: "Backoff jitter keeps clients from retrying in lockstep"},
}

func newMemIndex(t *testing.T) *BleveIndex {
	t.Helper()
	idx, err := NewBleveIndex("", DefaultBM25Config())
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	require.NoError(t, idx.Index(context.Background(), memoryDocs))
	return idx
}

func ids(results []LexicalResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.DocID
	}
	return out
}

func TestBleveIndex_Search(t *testing.T) {
	idx := newMemIndex(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"identifier part", "retry policy", "m1"},
		{"whole identifier", "retrypolicy", "m1"},
		{"error code", "ERR_401", "m3"},
		{"label", "finance", "m2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := idx.Search(ctx, tt.query, 10)
			require.NoError(t, err)
			require.NotEmpty(t, results)
			assert.Equal(t, tt.want, results[0].DocID)
			assert.Greater(t, results[0].Score, 0.0)
		})
	}
}

func TestBleveIndex_StopWordsAndEmpty(t *testing.T) {
	idx := newMemIndex(t)
	ctx := context.Background()

	results, err := idx.Search(ctx, "the and of", 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = idx.Search(ctx, "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestBleveIndex_LimitAndDelete(t *testing.T) {
	idx := newMemIndex(t)
	ctx := context.Background()

	results, err := idx.Search(ctx, "backoff", 1)
	require.NoError(t, err)
	assert.Len(t, results, 1)

	require.NoError(t, idx.Delete(ctx, []string{"m1", "m4"}))
	results, err = idx.Search(ctx, "backoff", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 2, idx.Stats().DocumentCount)
}

func TestBleveIndex_PersistsOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lexical.bleve")
	ctx := context.Background()

	idx, err := NewBleveIndex(path, DefaultBM25Config())
	require.NoError(t, err)
	require.NoError(t, idx.Index(ctx, memoryDocs))
	require.NoError(t, idx.Close())

	reopened, err := NewBleveIndex(path, DefaultBM25Config())
	require.NoError(t, err)
	defer reopened.Close()

	results, err := reopened.Search(ctx, "jitter", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"m4"}, ids(results))
}

func TestBleveIndex_Closed(t *testing.T) {
	idx, err := NewBleveIndex("", DefaultBM25Config())
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	_, err = idx.Search(context.Background(), "x", 1)
	assert.Error(t, err)
	assert.NoError(t, idx.Close())
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"getUserById", []string{"get", "user", "by", "id", "getuserbyid"}},
		{"parseHTTPRequest now", []string{"parse", "http", "request", "parsehttprequest", "now"}},
		{"max_retry_count", []string{"max", "retry", "count", "maxretrycount"}},
		{"a b cd", []string{"cd"}},
		{"ERR_401", []string{"err", "401", "err401"}},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.input, 2))
		})
	}
}

func TestSplitCamelCase(t *testing.T) {
	assert.Equal(t, []string{"HTTP", "Handler"}, SplitCamelCase("HTTPHandler"))
	assert.Equal(t, []string{"sha256", "Sum"}, SplitCamelCase("sha256Sum"))
	assert.Equal(t, []string{}, SplitCamelCase(""))
}

func TestBleveIndex_Texts(t *testing.T) {
	idx := newMemIndex(t)

	texts, err := idx.Texts(context.Background(), []string{"m4", "missing"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"m4": memoryDocs[3].Text}, texts)
}
