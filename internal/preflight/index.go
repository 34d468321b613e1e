package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	amerrors "github.com/Aman-CERP/amanrecall/internal/errors"
	"github.com/Aman-CERP/amanrecall/internal/store"
)

const reindexHint = "Re-run 'amanrecall index' with the full corpus"

// CheckIndex inspects the stored indexes. Nothing is created when the data
// directory has not been indexed yet.
func (c *Checker) CheckIndex(ctx context.Context, dataDir string) []CheckResult {
	lock := CheckResult{Name: "data_dir_lock", Required: true}
	if _, err := os.Stat(filepath.Join(dataDir, store.DBFileName)); err != nil {
		lock.Status = StatusWarn
		lock.Message = "no index yet"
		lock.Details = "Run 'amanrecall index <corpus.jsonl>'"
		return []CheckResult{lock}
	}

	db, err := store.Open(ctx, dataDir)
	if err != nil {
		lock.Status = StatusFail
		lock.Message = err.Error()
		if amerrors.GetCode(err) == amerrors.ErrCodeStoreLocked {
			lock.Message = "data directory is in use by another process"
		}
		return []CheckResult{lock}
	}
	defer func() { _ = db.Close() }()
	lock.Status = StatusPass
	lock.Message = "OK"

	results := []CheckResult{lock}
	documents, docResult := c.countDocuments(db)
	vectors, vecResult := c.checkVectors(db)
	results = append(results, docResult, vecResult)
	if docResult.Status == StatusFail || vecResult.Status == StatusFail {
		return results
	}

	consistency := CheckResult{Name: "index_consistency"}
	nodes, edges, err := db.Graph().Counts(ctx)
	switch {
	case err != nil:
		consistency.Status = StatusWarn
		consistency.Message = fmt.Sprintf("failed to count graph: %v", err)
	case documents != vectors:
		consistency.Status = StatusWarn
		consistency.Message = fmt.Sprintf("%d documents but %d vectors", documents, vectors)
		consistency.Details = reindexHint
	default:
		consistency.Status = StatusPass
		consistency.Message = fmt.Sprintf("%d documents, %d graph nodes, %d links", documents, nodes, edges)
	}
	return append(results, consistency)
}

func (c *Checker) countDocuments(db *store.DB) (int, CheckResult) {
	result := CheckResult{Name: "lexical_index", Required: true}
	if _, err := os.Stat(db.LexicalPath()); errors.Is(err, os.ErrNotExist) {
		result.Status = StatusWarn
		result.Message = "missing"
		result.Details = reindexHint
		return 0, result
	}

	idx, err := store.NewBleveIndex(db.LexicalPath(), store.DefaultBM25Config())
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to open: %v", err)
		result.Details = reindexHint
		return 0, result
	}
	defer func() { _ = idx.Close() }()

	n := idx.Stats().DocumentCount
	result.Status = StatusPass
	result.Message = fmt.Sprintf("%d documents", n)
	return n, result
}

func (c *Checker) checkVectors(db *store.DB) (int, CheckResult) {
	result := CheckResult{Name: "vector_index", Required: true}
	if _, err := os.Stat(db.VectorPath()); errors.Is(err, os.ErrNotExist) {
		result.Status = StatusWarn
		result.Message = "missing"
		result.Details = reindexHint
		return 0, result
	}

	v, err := store.LoadVectorIndex(db.VectorPath())
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to load: %v", err)
		result.Details = "Delete " + db.VectorPath() + " and re-run 'amanrecall index'"
		return 0, result
	}
	defer func() { _ = v.Close() }()

	if v.Dimensions() != c.dimensions {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("%d dimensions, embedder produces %d", v.Dimensions(), c.dimensions)
		result.Details = "Delete " + db.VectorPath() + " and re-run 'amanrecall index'"
		return 0, result
	}

	n := v.Count()
	result.Status = StatusPass
	result.Message = fmt.Sprintf("%d vectors, %d dimensions", n, v.Dimensions())
	return n, result
}
