package cmd

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrecall/internal/bandit"
	"github.com/Aman-CERP/amanrecall/internal/config"
	amerrors "github.com/Aman-CERP/amanrecall/internal/errors"
	"github.com/Aman-CERP/amanrecall/internal/logging"
	"github.com/Aman-CERP/amanrecall/internal/ui"
)

// simulationWindows is how many buckets the winner's share is reported in.
const simulationWindows = 10

// simulateOptions holds CLI flags for simulate.
type simulateOptions struct {
	winner     string
	queries    int
	seed       uint64
	jsonOutput bool
}

// simulationResult is the --json document for simulate.
type simulationResult struct {
	Winner      string       `json:"winner"`
	Queries     int          `json:"queries"`
	Shares      []float64    `json:"window_shares"`
	FinalShare  float64      `json:"final_share"`
	Convergence int          `json:"converged_after,omitempty"`
	Arms        []bandit.Arm `json:"arms"`
}

func newSimulateCmd() *cobra.Command {
	var opts simulateOptions

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Check bandit convergence with synthetic feedback",
		Long: `Run the configured arm set against a synthetic tenant in memory. Every
query served by --winner is reported as a hit and every other arm as a miss.
The share of queries routed to the winner should climb toward 1.

Nothing is read from or written to the data directory.`,
		Example: `  amanrecall simulate --winner vector --queries 500
  amanrecall simulate --winner graph --seed 7 --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSimulate(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.winner, "winner", "", "Arm that always receives a hit (required)")
	cmd.Flags().IntVar(&opts.queries, "queries", 500, "Number of simulated queries")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 1, "Sampler seed; 0 seeds from the clock")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output the result as JSON")

	return cmd
}

func runSimulate(ctx context.Context, cmd *cobra.Command, opts simulateOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	res, err := simulate(ctx, cfg.Bandit, opts)
	if err != nil {
		return err
	}

	r := ui.NewRenderer(cmd.OutOrStdout(), !ui.UseColor(cmd.OutOrStdout()))
	if opts.jsonOutput {
		return r.JSON(res)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Winner %s over %d queries\n", res.Winner, res.Queries)
	_, _ = fmt.Fprintf(out, "  Share per window: %s\n", ui.Sparkline(res.Shares))
	_, _ = fmt.Fprintf(out, "  Final window:     %.1f%%\n", res.FinalShare*100)
	if res.Convergence > 0 {
		_, _ = fmt.Fprintf(out, "  Converged after:  %d queries\n", res.Convergence)
	} else {
		_, _ = fmt.Fprintln(out, "  Not converged")
	}
	_, _ = fmt.Fprintln(out)
	return r.Arms(bandit.Scope{TenantID: "simulation"}, res.Arms)
}

// simulate drives an in-memory controller with synthetic outcomes.
// Convergence is the end of the first window in which the winner served at
// least 80% of queries and every later window stayed there.
func simulate(ctx context.Context, cfg config.BanditConfig, opts simulateOptions) (simulationResult, error) {
	if opts.queries <= 0 {
		return simulationResult{}, amerrors.ValidationError(amerrors.ErrCodeInvalidK, "--queries must be positive")
	}
	known := slices.ContainsFunc(cfg.Arms, func(a config.ArmConfig) bool { return a.ID == opts.winner })
	if !known {
		return simulationResult{}, amerrors.ValidationError(amerrors.ErrCodeUnknownArm,
			fmt.Sprintf("unknown arm %q", opts.winner))
	}

	cfg.Seed = opts.seed
	cfg.DriftAutoReset = false
	ctrl := bandit.New(cfg, bandit.WithLogger(logging.Discard()))
	scope := bandit.Scope{TenantID: "simulation"}

	windowSize := max(1, opts.queries/simulationWindows)
	var shares []float64
	wins, served := 0, 0
	for i := 0; i < opts.queries; i++ {
		if err := ctx.Err(); err != nil {
			return simulationResult{}, err
		}
		sel, err := ctrl.Select(ctx, scope)
		if err != nil {
			return simulationResult{}, err
		}
		outcome := bandit.OutcomeMiss
		if sel.ArmID == opts.winner {
			outcome = bandit.OutcomeHit
			wins++
		}
		if err := ctrl.Apply(ctx, scope, sel.ArmID, outcome); err != nil {
			return simulationResult{}, err
		}
		served++
		if served == windowSize || i == opts.queries-1 {
			shares = append(shares, float64(wins)/float64(served))
			wins, served = 0, 0
		}
	}

	arms, err := ctrl.Snapshot(ctx, scope)
	if err != nil {
		return simulationResult{}, err
	}

	res := simulationResult{
		Winner:     opts.winner,
		Queries:    opts.queries,
		Shares:     shares,
		FinalShare: shares[len(shares)-1],
		Arms:       arms,
	}
	for i := len(shares) - 1; i >= 0 && shares[i] >= 0.8; i-- {
		res.Convergence = min((i+1)*windowSize, opts.queries)
	}
	return res, nil
}
