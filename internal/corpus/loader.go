package corpus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Aman-CERP/amanrecall/internal/embed"
	"github.com/Aman-CERP/amanrecall/internal/store"
)

// DefaultBatchSize is how many documents are embedded per call.
const DefaultBatchSize = 64

// LinkWeight is the edge weight given to an explicit document link.
const LinkWeight = 1.0

// Lexical receives document text.
type Lexical interface {
	Index(ctx context.Context, docs []store.Document) error
}

// Vectors receives document embeddings.
type Vectors interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
}

// Graph receives document nodes and links.
type Graph interface {
	AddNode(ctx context.Context, id, label string) error
	AddEdge(ctx context.Context, src, dst string, weight float64) error
}

// Dependencies are the indexes a Loader fills.
type Dependencies struct {
	Lexical  Lexical
	Vectors  Vectors
	Graph    Graph
	Embedder embed.Embedder
	Logger   *slog.Logger

	// BatchSize defaults to DefaultBatchSize.
	BatchSize int
}

// Result summarises a load.
type Result struct {
	Documents int
	Nodes     int
	Edges     int
	Duration  time.Duration
}

// Loader writes documents to every index.
type Loader struct {
	deps Dependencies
}

// NewLoader validates deps.
func NewLoader(deps Dependencies) (*Loader, error) {
	if deps.Lexical == nil {
		return nil, fmt.Errorf("lexical index is required")
	}
	if deps.Vectors == nil {
		return nil, fmt.Errorf("vector index is required")
	}
	if deps.Graph == nil {
		return nil, fmt.Errorf("graph store is required")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.BatchSize <= 0 {
		deps.BatchSize = DefaultBatchSize
	}
	return &Loader{deps: deps}, nil
}

// Load indexes docs. Re-loading a document replaces it.
func (l *Loader) Load(ctx context.Context, docs []store.Document) (Result, error) {
	start := time.Now()
	var res Result

	if err := l.deps.Lexical.Index(ctx, docs); err != nil {
		return res, fmt.Errorf("lexical index: %w", err)
	}

	for from := 0; from < len(docs); from += l.deps.BatchSize {
		to := min(from+l.deps.BatchSize, len(docs))
		batch := docs[from:to]

		ids := make([]string, len(batch))
		texts := make([]string, len(batch))
		for i, d := range batch {
			ids[i] = d.ID
			texts[i] = d.Text
		}
		vecs, err := l.deps.Embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return res, fmt.Errorf("embed documents %d-%d: %w", from, to-1, err)
		}
		if err := l.deps.Vectors.Add(ctx, ids, vecs); err != nil {
			return res, fmt.Errorf("vector index: %w", err)
		}
		l.deps.Logger.Debug("corpus_batch_embedded",
			slog.Int("from", from),
			slog.Int("to", to))
	}

	for _, d := range docs {
		if err := l.deps.Graph.AddNode(ctx, d.ID, d.Label); err != nil {
			return res, err
		}
		res.Nodes++
	}
	for _, d := range docs {
		for _, link := range d.Links {
			if link == d.ID {
				continue
			}
			if err := l.deps.Graph.AddEdge(ctx, d.ID, link, LinkWeight); err != nil {
				return res, err
			}
			res.Edges++
		}
	}

	res.Documents = len(docs)
	res.Duration = time.Since(start)
	l.deps.Logger.Info("corpus_loaded",
		slog.Int("documents", res.Documents),
		slog.Int("nodes", res.Nodes),
		slog.Int("edges", res.Edges),
		slog.Duration("duration", res.Duration))
	return res, nil
}
