package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrecall/internal/config"
	"github.com/Aman-CERP/amanrecall/internal/preflight"
	"github.com/Aman-CERP/amanrecall/internal/ui"
)

// errSystemCheck is returned when a required check fails.
var errSystemCheck = errors.New("system check failed")

func newDoctorCmd() *cobra.Command {
	var (
		verbose    bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check system requirements and diagnose the data directory",
		Long: `Run diagnostics to ensure amanrecall can operate on the data directory.

Checks:
  - Configuration validity
  - Disk space (100MB minimum)
  - Write permissions
  - File descriptor limits (1024 minimum)
  - Data directory lock (no other process holds it)
  - Lexical and vector indexes open and agree on the document count

Missing indexes are warnings: run 'amanrecall index' to create them.`,
		Example: `  amanrecall doctor
  amanrecall doctor --verbose
  amanrecall doctor --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, verbose, jsonOutput)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed diagnostic info")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// DoctorOutput is the JSON output of the doctor command.
type DoctorOutput struct {
	Status string                  `json:"status"`
	Checks []preflight.CheckResult `json:"checks"`
}

func runDoctor(cmd *cobra.Command, verbose, jsonOutput bool) error {
	checker := preflight.New(
		preflight.WithVerbose(verbose),
		preflight.WithOutput(cmd.OutOrStdout()),
	)

	var results []preflight.CheckResult
	cfg, err := loadConfig()
	if err != nil {
		// Still check the default data directory.
		results = append(results, preflight.CheckResult{
			Name: "config", Status: preflight.StatusFail, Message: err.Error(), Required: true,
		})
		cfg = config.NewConfig()
		if dataDir != "" {
			cfg.Store.DataDir = dataDir
		}
		results = append(results, checker.RunSystem(cfg.Store.DataDir)...)
		results = append(results, checker.CheckIndex(cmd.Context(), cfg.Store.DataDir)...)
	} else {
		results = checker.RunAll(cmd.Context(), cfg)
	}

	failed := checker.HasCriticalFailures(results)
	if failed {
		_ = preflight.ClearMarker(cfg.Store.DataDir)
	} else if err := preflight.MarkPassed(cfg.Store.DataDir); err != nil {
		return fmt.Errorf("record system check: %w", err)
	}

	if jsonOutput {
		if err := ui.NewRenderer(cmd.OutOrStdout(), true).JSON(DoctorOutput{
			Status: checker.SummaryStatus(results),
			Checks: results,
		}); err != nil {
			return err
		}
	} else {
		checker.PrintResults(results)
	}

	if failed {
		return errSystemCheck
	}
	return nil
}

// systemCheck runs the system checks the first time a data directory is
// written to.
func systemCheck(cmd *cobra.Command, dir string) error {
	if !preflight.NeedsCheck(dir) {
		return nil
	}
	checker := preflight.New(preflight.WithOutput(cmd.ErrOrStderr()))
	results := checker.RunSystem(dir)
	if checker.HasCriticalFailures(results) {
		checker.PrintResults(results)
		return fmt.Errorf("%w for %s. Run 'amanrecall doctor' for details", errSystemCheck, dir)
	}
	return preflight.MarkPassed(dir)
}
