package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

func newMetricsCmd() *cobra.Command {
	var prefix string

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Print metrics recorded by the last run",
		Long: `Print the prometheus text exposition written by the last command that
opened the data directory (index, query, arms).

The file lives at <data-dir>/metrics.prom and can be scraped by the node
exporter textfile collector.`,
		Example: `  amanrecall metrics
  amanrecall metrics --prefix amanrecall_strategy`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMetrics(cmd, prefix)
		},
	}

	cmd.Flags().StringVar(&prefix, "prefix", "", "Only print metric families whose name starts with prefix")

	return cmd
}

func runMetrics(cmd *cobra.Command, prefix string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path := filepath.Join(cfg.Store.DataDir, MetricsFileName)

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("no metrics recorded yet. Run 'amanrecall query' first")
	}
	if err != nil {
		return fmt.Errorf("open metrics: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	out := cmd.OutOrStdout()
	for scanner.Scan() {
		line := scanner.Text()
		if prefix != "" && !strings.HasPrefix(metricName(line), prefix) {
			continue
		}
		if _, err := fmt.Fprintln(out, line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

// metricName returns the family a text exposition line belongs to.
func metricName(line string) string {
	if rest, ok := strings.CutPrefix(line, "# "); ok {
		// "# HELP name ..." or "# TYPE name ..."
		fields := strings.Fields(rest)
		if len(fields) >= 2 {
			return fields[1]
		}
		return ""
	}
	if i := strings.IndexAny(line, "{ "); i >= 0 {
		return line[:i]
	}
	return line
}
