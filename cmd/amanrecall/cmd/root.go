// Package cmd provides the CLI commands for amanrecall.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	amerrors "github.com/Aman-CERP/amanrecall/internal/errors"
	"github.com/Aman-CERP/amanrecall/internal/logging"
	"github.com/Aman-CERP/amanrecall/internal/profiling"
	"github.com/Aman-CERP/amanrecall/pkg/version"
)

// Global flags
var (
	debugMode  bool
	configPath string
	dataDir    string

	profileCPU   string
	profileMem   string
	profileTrace string

	profileSession *profiling.Session
	loggingCleanup func()
)

// NewRootCmd creates the root command for the amanrecall CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "amanrecall",
		Short: "Adaptive hybrid retrieval for agent memory",
		Long: `amanrecall answers memory queries by fusing lexical, vector and graph
retrieval. A per-tenant Thompson sampling bandit learns which strategy
weighting works best from hit/miss feedback.

Load a corpus with 'amanrecall index', then ask with 'amanrecall query'.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("amanrecall version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to stderr and ~/.amanrecall/logs/")
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file (default: user and project config)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (overrides store.data_dir)")

	cmd.PersistentFlags().StringVar(&profileCPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileMem, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profileTrace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = startProfilingAndLogging
	cmd.PersistentPostRunE = stopProfilingAndLogging

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newArmsCmd())
	cmd.AddCommand(newSimulateCmd())
	cmd.AddCommand(newMetricsCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startProfilingAndLogging starts debug logging and profiling if flags are set.
func startProfilingAndLogging(_ *cobra.Command, _ []string) error {
	if debugMode {
		logger, cleanup, err := logging.Setup(logging.DebugConfig())
		if err != nil {
			return fmt.Errorf("failed to setup debug logging: %w", err)
		}
		loggingCleanup = cleanup
		slog.SetDefault(logger)
		slog.Info("debug_logging_enabled",
			slog.String("log_file", logging.DefaultLogPath()),
			slog.String("version", version.Version))
	}

	opts := profiling.Options{CPU: profileCPU, Heap: profileMem, Trace: profileTrace}
	if opts.Enabled() {
		session, err := profiling.Start(opts)
		if err != nil {
			return fmt.Errorf("failed to start profiling: %w", err)
		}
		profileSession = session
	}
	return nil
}

// stopProfilingAndLogging stops profiling, writing the heap profile if requested.
func stopProfilingAndLogging(_ *cobra.Command, _ []string) error {
	var err error
	if profileSession != nil {
		err = profileSession.Stop()
		profileSession = nil
	}

	if loggingCleanup != nil {
		slog.Info("debug_logging_stopped")
		loggingCleanup()
		loggingCleanup = nil
	}
	return err
}

// Execute runs the root command.
func Execute() error {
	err := NewRootCmd().Execute()
	if err != nil {
		_, _ = fmt.Fprint(os.Stderr, amerrors.FormatForCLI(err))
	}
	return err
}
