package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrecall/internal/bandit"
	"github.com/Aman-CERP/amanrecall/internal/feedback"
	"github.com/Aman-CERP/amanrecall/internal/retrieval"
	"github.com/Aman-CERP/amanrecall/internal/store"
	"github.com/Aman-CERP/amanrecall/internal/ui"
)

// queryOptions holds CLI flags for query.
type queryOptions struct {
	tenant     string
	project    string
	k          int
	outcome    string
	jsonOutput bool
}

// queryOutput is the --json document: the response plus the feedback
// state when --outcome was given.
type queryOutput struct {
	retrieval.Response
	Feedback feedback.State `json:"feedback,omitempty"`
}

func newQueryCmd() *cobra.Command {
	var opts queryOptions

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Retrieve memories for a tenant",
		Long: `Run one query through the adaptive retrieval gateway.

The tenant's bandit picks a strategy weighting, the lexical, vector and
graph strategies run concurrently, and their rankings are fused. Low
confidence answers are widened by graph induction.

--outcome reports how useful the answer was (hit, miss or partial). The
outcome is credited to the arm that served this query and persisted before
the command exits.`,
		Example: `  amanrecall query --tenant acme "billing retry policy"
  amanrecall query --tenant acme --project api -k 5 --outcome hit "circuit breaker"
  amanrecall query --tenant acme --json "who owns onboarding"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVar(&opts.tenant, "tenant", "", "Tenant id (required)")
	cmd.Flags().StringVar(&opts.project, "project", "", "Project id within the tenant")
	cmd.Flags().IntVarP(&opts.k, "k", "k", 0, "Number of results (default: retrieval.default_k)")
	cmd.Flags().StringVar(&opts.outcome, "outcome", "", "Report feedback for this answer: hit, miss, partial")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output the response as JSON")

	return cmd
}

func runQuery(ctx context.Context, cmd *cobra.Command, text string, opts queryOptions) (err error) {
	var outcome bandit.Outcome
	if opts.outcome != "" {
		if outcome, err = bandit.ParseOutcome(opts.outcome); err != nil {
			return err
		}
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

	resp, err := a.gateway.Query(ctx, retrieval.Request{
		Text:      text,
		TenantID:  opts.tenant,
		ProjectID: opts.project,
		K:         opts.k,
	})
	if err != nil {
		return err
	}

	out := queryOutput{Response: resp}
	if outcome != "" {
		if err := a.gateway.Submit(resp.QueryID, resp.ArmID, outcome); err != nil {
			return err
		}
		if err := a.recorder.Flush(ctx); err != nil {
			return fmt.Errorf("waiting for feedback: %w", err)
		}
		out.Feedback = a.recorder.State(resp.QueryID)
	}

	r := ui.NewRenderer(cmd.OutOrStdout(), !ui.UseColor(cmd.OutOrStdout()))
	if opts.jsonOutput {
		return r.JSON(out)
	}

	docs, err := previews(ctx, a, resp.Ranked)
	if err != nil {
		a.logger.Warn("query_preview_failed", slog.String("error", err.Error()))
	}
	if err := r.Response(resp, docs); err != nil {
		return err
	}
	if out.Feedback != "" {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Feedback %s: %s\n", outcome, out.Feedback)
	}
	return nil
}

// previews fetches the stored text of ranked documents.
func previews(ctx context.Context, a *app, ranked []retrieval.Ranked) (map[string]store.Document, error) {
	ids := make([]string, len(ranked))
	for i, r := range ranked {
		ids[i] = r.DocID
	}
	texts, err := a.lexical.Texts(ctx, ids)
	if err != nil {
		return nil, err
	}
	docs := make(map[string]store.Document, len(texts))
	for id, text := range texts {
		docs[id] = store.Document{ID: id, Text: text}
	}
	return docs, nil
}
