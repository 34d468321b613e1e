package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrecall/internal/bandit"
	"github.com/Aman-CERP/amanrecall/internal/ui"
)

// scopeFlags are the --tenant/--project pair shared by arms subcommands.
type scopeFlags struct {
	tenant  string
	project string
}

func (f *scopeFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.tenant, "tenant", "", "Tenant id (required)")
	cmd.Flags().StringVar(&f.project, "project", "", "Project id within the tenant")
}

func (f *scopeFlags) scope() bandit.Scope {
	return bandit.Scope{TenantID: f.tenant, ProjectID: f.project}
}

func newArmsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "arms",
		Short: "Inspect and manage bandit arms",
		Long: `Inspect and manage the per-tenant bandit arms.

Each arm is one strategy weighting. Its Beta posterior (alpha, beta) counts
hits and misses reported through 'amanrecall query --outcome'.`,
		Example: `  amanrecall arms list --tenant acme
  amanrecall arms reset --tenant acme --project api
  amanrecall arms decay`,
	}

	cmd.AddCommand(newArmsListCmd())
	cmd.AddCommand(newArmsResetCmd())
	cmd.AddCommand(newArmsDecayCmd())

	return cmd
}

func newArmsListCmd() *cobra.Command {
	var flags scopeFlags
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show a tenant's arm posteriors",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				scope := flags.scope()
				arms, err := a.bandit.Snapshot(cmd.Context(), scope)
				if err != nil {
					return err
				}
				r := ui.NewRenderer(cmd.OutOrStdout(), !ui.UseColor(cmd.OutOrStdout()))
				if jsonOutput {
					return r.JSON(arms)
				}
				return r.Arms(scope, arms)
			})
		},
	}

	flags.bind(cmd)
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output arms as JSON")

	return cmd
}

func newArmsResetCmd() *cobra.Command {
	var flags scopeFlags

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Forget everything a tenant's arms have learned",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				scope := flags.scope()
				if err := a.bandit.Reset(cmd.Context(), scope); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Reset arms for %s\n", scope)
				return nil
			})
		},
	}

	flags.bind(cmd)

	return cmd
}

func newArmsDecayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decay",
		Short: "Run one decay sweep over every stored tenant",
		Long: `Scale every stored arm's success and failure mass by bandit.decay_factor
so that older feedback counts for less.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				n, err := a.sweeper.Sweep(cmd.Context())
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Decayed %d tenants by %.2f\n", n, a.cfg.Bandit.DecayFactor)
				return nil
			})
		},
	}
}

// withApp opens the data directory, runs fn and closes it.
func withApp(ctx context.Context, fn func(a *app) error) (err error) {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(a)
}
