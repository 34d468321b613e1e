package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrecall/internal/corpus"
	amerrors "github.com/Aman-CERP/amanrecall/internal/errors"
	"github.com/Aman-CERP/amanrecall/internal/ui"
)

func newIndexCmd() *cobra.Command {
	var batchSize int

	cmd := &cobra.Command{
		Use:   "index <corpus.jsonl>",
		Short: "Load a memory corpus into the retrieval indexes",
		Long: `Load documents from a JSON Lines file into the lexical, vector and
graph indexes. Each line is one document:

  {"id": "m1", "text": "...", "label": "Retry Policy", "links": ["m2"]}

Re-indexing a document id replaces its text and vector. Pass "-" to read
from stdin.`,
		Example: `  amanrecall index memories.jsonl
  cat memories.jsonl | amanrecall index -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), cmd, args[0], batchSize)
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Documents embedded per batch (default: 64)")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, path string, batchSize int) (err error) {
	var in io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return amerrors.ValidationError(amerrors.ErrCodeInvalidCorpus,
				fmt.Sprintf("cannot open corpus %s", path)).WithDetail("error", err.Error())
		}
		defer f.Close()
		in = f
	}

	docs, err := corpus.Read(in)
	if err != nil {
		return amerrors.ValidationError(amerrors.ErrCodeInvalidCorpus, err.Error())
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := systemCheck(cmd, cfg.Store.DataDir); err != nil {
		return err
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	loader, err := corpus.NewLoader(corpus.Dependencies{
		Lexical:   a.lexical,
		Vectors:   a.vectors,
		Graph:     a.db.Graph(),
		Embedder:  a.embedder,
		Logger:    a.logger,
		BatchSize: batchSize,
	})
	if err != nil {
		return err
	}

	res, err := loader.Load(ctx, docs)
	if err != nil {
		return err
	}
	if err := a.vectors.Save(a.db.VectorPath()); err != nil {
		return amerrors.StoreError("failed to save vector index", err)
	}
	a.logger.Info("index_complete",
		slog.String("corpus", path),
		slog.Int("documents", res.Documents),
		slog.Duration("duration", res.Duration))

	styles := ui.GetStyles(!ui.UseColor(cmd.OutOrStdout()))
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %d documents, %d graph nodes, %d links in %s\n",
		styles.Success.Render("Indexed"), res.Documents, res.Nodes, res.Edges, res.Duration.Round(time.Millisecond))
	return nil
}
