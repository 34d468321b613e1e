package cmd

import (
	"context"
	"io/fs"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrecall/internal/ui"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show data directory statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				info, err := collectStatus(cmd.Context(), a)
				if err != nil {
					return err
				}
				r := ui.NewRenderer(cmd.OutOrStdout(), !ui.UseColor(cmd.OutOrStdout()))
				if jsonOutput {
					return r.JSON(info)
				}
				return r.Status(info)
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output status as JSON")

	return cmd
}

func collectStatus(ctx context.Context, a *app) (ui.StatusInfo, error) {
	info := ui.StatusInfo{
		DataDir:   a.db.Dir(),
		Documents: a.lexical.Stats().DocumentCount,
		Vectors:   a.vectors.Count(),
	}

	var err error
	if info.Nodes, info.Edges, err = a.db.Graph().Counts(ctx); err != nil {
		return info, err
	}
	scopes, err := a.db.Arms().Scopes(ctx)
	if err != nil {
		return info, err
	}
	info.Tenants = len(scopes)
	if info.Feedback, err = a.db.Ledger().Count(ctx); err != nil {
		return info, err
	}
	recent, err := a.db.Ledger().Recent(ctx, 1)
	if err != nil {
		return info, err
	}
	if len(recent) > 0 {
		info.LastFeedback = recent[0].Timestamp
	}

	info.DBSize = pathSize(a.db.Path())
	info.LexicalSize = pathSize(a.db.LexicalPath())
	info.VectorSize = pathSize(a.db.VectorPath()) + pathSize(a.db.VectorPath()+".meta")
	return info, nil
}

// pathSize returns the size of a file or the total size of a directory.
func pathSize(path string) int64 {
	var total int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			if fi, err := d.Info(); err == nil {
				total += fi.Size()
			}
		}
		return nil
	})
	return total
}

