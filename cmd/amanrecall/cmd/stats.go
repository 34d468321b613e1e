package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	amerrors "github.com/Aman-CERP/amanrecall/internal/errors"
	"github.com/Aman-CERP/amanrecall/internal/store"
	"github.com/Aman-CERP/amanrecall/internal/telemetry"
)

const statsListLimit = 10

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show query history statistics",
		Long:  `Display statistics about query patterns, arm usage, and latency.`,
	}

	cmd.AddCommand(newStatsQueriesCmd())
	return cmd
}

func newStatsQueriesCmd() *cobra.Command {
	var jsonOutput bool
	var days int

	cmd := &cobra.Command{
		Use:   "queries",
		Short: "Show query pattern statistics",
		Long: `Display query history including:
  - Result distribution (confident/low_confidence/refused/degraded)
  - Arm selections
  - Top query terms
  - Zero-result queries
  - Latency distribution`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if days <= 0 {
				return amerrors.ValidationError(amerrors.ErrCodeInvalidK, "--days must be positive")
			}
			return runStatsQueries(cmd.Context(), cmd, jsonOutput, days)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&days, "days", 7, "Number of days to include")

	return cmd
}

// StatsQueriesOutput is the JSON output format for query stats.
type StatsQueriesOutput struct {
	Summary             StatsQueriesSummary         `json:"summary"`
	ResultCounts        map[string]int64            `json:"result_counts"`
	ArmCounts           map[string]int64            `json:"arm_counts"`
	TopTerms            []telemetry.TermCount       `json:"top_terms"`
	ZeroResultQueries   []telemetry.ZeroResultQuery `json:"zero_result_queries"`
	LatencyDistribution map[string]int64            `json:"latency_distribution"`
}

// StatsQueriesSummary provides overview statistics.
type StatsQueriesSummary struct {
	From          string  `json:"from"`
	To            string  `json:"to"`
	TotalQueries  int64   `json:"total_queries"`
	ZeroResults   int64   `json:"zero_results"`
	Repeats       int64   `json:"repeats"`
	ZeroResultPct float64 `json:"zero_result_pct"`
}

func runStatsQueries(ctx context.Context, cmd *cobra.Command, jsonOutput bool, days int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if _, err := os.Stat(filepath.Join(cfg.Store.DataDir, store.DBFileName)); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("no index found in %s\nRun 'amanrecall index' to create one", cfg.Store.DataDir)
	}

	db, err := store.Open(ctx, cfg.Store.DataDir)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	output, err := getQueryStats(ctx, db.History(), time.Now(), days)
	if err != nil {
		return fmt.Errorf("failed to get query stats: %w", err)
	}

	if jsonOutput {
		return printStatsJSON(cmd, output)
	}
	return printStatsFormatted(cmd, output)
}

func getQueryStats(ctx context.Context, h *store.QueryHistory, now time.Time, days int) (*StatsQueriesOutput, error) {
	to := telemetry.Day(now)
	from := telemetry.Day(now.AddDate(0, 0, -(days - 1)))

	output := &StatsQueriesOutput{Summary: StatsQueriesSummary{From: from, To: to}}

	volume, err := h.DailyCounts(ctx, telemetry.KindVolume, from, to)
	if err != nil {
		return nil, err
	}
	output.Summary.TotalQueries = volume[telemetry.VolumeQueries]
	output.Summary.ZeroResults = volume[telemetry.VolumeZeroResults]
	output.Summary.Repeats = volume[telemetry.VolumeRepeats]
	if output.Summary.TotalQueries > 0 {
		output.Summary.ZeroResultPct = float64(output.Summary.ZeroResults) / float64(output.Summary.TotalQueries) * 100
	}

	if output.ResultCounts, err = h.DailyCounts(ctx, telemetry.KindResult, from, to); err != nil {
		return nil, err
	}
	if output.ArmCounts, err = h.DailyCounts(ctx, telemetry.KindArm, from, to); err != nil {
		return nil, err
	}
	if output.LatencyDistribution, err = h.DailyCounts(ctx, telemetry.KindLatency, from, to); err != nil {
		return nil, err
	}
	if output.TopTerms, err = h.TopTerms(ctx, statsListLimit); err != nil {
		return nil, fmt.Errorf("get top terms: %w", err)
	}
	if output.ZeroResultQueries, err = h.ZeroResultQueries(ctx, statsListLimit); err != nil {
		return nil, fmt.Errorf("get zero-result queries: %w", err)
	}
	return output, nil
}

func printStatsJSON(cmd *cobra.Command, output *StatsQueriesOutput) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(output)
}

func printStatsFormatted(cmd *cobra.Command, output *StatsQueriesOutput) error {
	w := cmd.OutOrStdout()

	fmt.Fprintln(w, "Query Statistics")
	fmt.Fprintln(w, "================")
	fmt.Fprintf(w, "%s to %s\n", output.Summary.From, output.Summary.To)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Total Queries: %d\n", output.Summary.TotalQueries)
	fmt.Fprintf(w, "Zero Results:  %.1f%%\n", output.Summary.ZeroResultPct)
	fmt.Fprintf(w, "Repeats:       %d\n", output.Summary.Repeats)
	fmt.Fprintln(w)

	printCounts(cmd, "Result Distribution:", output.ResultCounts)
	printCounts(cmd, "Arm Selections:", output.ArmCounts)

	if len(output.TopTerms) > 0 {
		fmt.Fprintln(w, "Top Query Terms:")
		for i, tc := range output.TopTerms {
			fmt.Fprintf(w, "  %d. %s (%d)\n", i+1, tc.Term, tc.Count)
		}
		fmt.Fprintln(w)
	} else {
		fmt.Fprintln(w, "Top Query Terms: (none recorded yet)")
		fmt.Fprintln(w)
	}

	if len(output.ZeroResultQueries) > 0 {
		fmt.Fprintln(w, "Recent Zero-Result Queries:")
		for _, q := range output.ZeroResultQueries {
			fmt.Fprintf(w, "  - %q (%s)\n", q.Query, q.TenantID)
		}
		fmt.Fprintln(w)
	} else {
		fmt.Fprintln(w, "Recent Zero-Result Queries: (none)")
		fmt.Fprintln(w)
	}

	if len(output.LatencyDistribution) > 0 {
		fmt.Fprintln(w, "Latency Distribution:")
		labels := map[telemetry.LatencyBucket]string{
			telemetry.BucketP10:   "<10ms",
			telemetry.BucketP50:   "10-50ms",
			telemetry.BucketP100:  "50-100ms",
			telemetry.BucketP500:  "100-500ms",
			telemetry.BucketP1000: ">500ms",
		}
		for _, b := range telemetry.LatencyBuckets {
			if count, ok := output.LatencyDistribution[string(b)]; ok {
				fmt.Fprintf(w, "  %s: %d\n", labels[b], count)
			}
		}
	}

	return nil
}

// printCounts prints counts sorted by descending count.
func printCounts(cmd *cobra.Command, title string, counts map[string]int64) {
	if len(counts) == 0 {
		return
	}
	w := cmd.OutOrStdout()
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})

	fmt.Fprintln(w, title)
	for _, name := range names {
		fmt.Fprintf(w, "  %s: %d\n", name, counts[name])
	}
	fmt.Fprintln(w)
}
