package cmd

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amanrecall/internal/errors"
	"github.com/Aman-CERP/amanrecall/internal/telemetry"
)

// ============================================================================
// stats queries
// ============================================================================

func TestStatsCmd_HasSubcommands(t *testing.T) {
	// Given: root command
	cmd := NewRootCmd()

	// When: finding stats queries command
	queriesCmd, _, err := cmd.Find([]string{"stats", "queries"})
	require.NoError(t, err)

	// Then: it has the expected flags
	jsonFlag := queriesCmd.Flags().Lookup("json")
	require.NotNil(t, jsonFlag)
	assert.Equal(t, "false", jsonFlag.DefValue)

	daysFlag := queriesCmd.Flags().Lookup("days")
	require.NotNil(t, daysFlag)
	assert.Equal(t, "7", daysFlag.DefValue)
}

func TestStatsQueries_NoIndex(t *testing.T) {
	dir := isolate(t)

	_, err := run(t, "stats", "queries", "--data-dir", dir)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no index found")
}

func TestStatsQueries_RejectsDays(t *testing.T) {
	dir := indexedDataDir(t)

	_, err := run(t, "stats", "queries", "--data-dir", dir, "--days", "0")

	require.Error(t, err)
	assert.Equal(t, amerrors.ErrCodeInvalidK, amerrors.GetCode(err))
}

func TestStatsQueries_EmptyHistory(t *testing.T) {
	// Given: an index that was never queried
	dir := indexedDataDir(t)

	// When: showing stats
	out, err := run(t, "stats", "queries", "--data-dir", dir)

	// Then: an empty summary is printed
	require.NoError(t, err)
	assert.Contains(t, out, "Total Queries: 0")
	assert.Contains(t, out, "Top Query Terms: (none recorded yet)")
	assert.Contains(t, out, "Recent Zero-Result Queries: (none)")
}

func TestStatsQueries_ReportsHistory(t *testing.T) {
	// Given: the same question asked twice by one tenant
	dir := indexedDataDir(t)
	query(t, dir, "--tenant", "acme", "billing retries")
	query(t, dir, "--tenant", "acme", "billing retries")

	// When: showing stats as JSON
	out, err := run(t, "stats", "queries", "--data-dir", dir, "--json")
	require.NoError(t, err)

	// Then: both queries were persisted across runs
	var got StatsQueriesOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got), out)
	assert.Equal(t, int64(2), got.Summary.TotalQueries)
	assert.Equal(t, int64(2), got.ArmCounts["oracle"])
	require.NotEmpty(t, got.TopTerms)
	assert.Contains(t, got.TopTerms, telemetry.TermCount{Term: "billing", Count: 2})

	var latencies int64
	for _, n := range got.LatencyDistribution {
		latencies += n
	}
	assert.Equal(t, int64(2), latencies)
}

func TestStatsQueries_TextOutput(t *testing.T) {
	dir := indexedDataDir(t)
	query(t, dir, "--tenant", "acme", "billing retries")

	out, err := run(t, "stats", "queries", "--data-dir", dir)

	require.NoError(t, err)
	assert.Contains(t, out, "Total Queries: 1")
	assert.Contains(t, out, "Arm Selections:")
	assert.Contains(t, out, "oracle: 1")
	assert.Contains(t, out, "Latency Distribution:")
}
