package preflight

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrecall/internal/config"
	"github.com/Aman-CERP/amanrecall/internal/store"
)

func TestCheckStatus_String(t *testing.T) {
	tests := []struct {
		status CheckStatus
		want   string
	}{
		{StatusPass, "PASS"},
		{StatusWarn, "WARN"},
		{StatusFail, "FAIL"},
		{CheckStatus(9), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.String())
		})
	}
}

func TestCheckResult_JSONStatusByName(t *testing.T) {
	data, err := json.Marshal(CheckResult{Name: "disk_space", Status: StatusWarn})

	require.NoError(t, err)
	assert.Contains(t, string(data), `"status":"WARN"`)
}

func TestCheckResult_IsCritical(t *testing.T) {
	tests := []struct {
		name     string
		result   CheckResult
		expected bool
	}{
		{"required pass is not critical", CheckResult{Status: StatusPass, Required: true}, false},
		{"required fail is critical", CheckResult{Status: StatusFail, Required: true}, true},
		{"optional fail is not critical", CheckResult{Status: StatusFail, Required: false}, false},
		{"required warn is not critical", CheckResult{Status: StatusWarn, Required: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.result.IsCritical())
		})
	}
}

func TestChecker_NewWithOptions(t *testing.T) {
	// Given: custom options
	buf := &bytes.Buffer{}
	checker := New(WithVerbose(true), WithOutput(buf), WithDimensions(8))

	// Then: options are applied
	assert.True(t, checker.verbose)
	assert.Equal(t, buf, checker.output)
	assert.Equal(t, 8, checker.dimensions)
}

func TestChecker_SummaryStatus(t *testing.T) {
	checker := New()

	tests := []struct {
		name     string
		results  []CheckResult
		expected string
		critical bool
	}{
		{"all pass", []CheckResult{{Status: StatusPass}, {Status: StatusPass}}, "ready", false},
		{"with warnings", []CheckResult{{Status: StatusPass}, {Status: StatusWarn}}, "ready_with_warnings", false},
		{"with critical failure", []CheckResult{{Status: StatusPass}, {Status: StatusFail, Required: true}}, "failed", true},
		{"with optional failure", []CheckResult{{Status: StatusPass}, {Status: StatusFail}}, "ready_with_warnings", false},
		{"no results", nil, "ready", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, checker.SummaryStatus(tt.results))
			assert.Equal(t, tt.critical, checker.HasCriticalFailures(tt.results))
		})
	}
}

// =============================================================================
// System checks
// =============================================================================

func TestChecker_CheckWritePermissions_CreatesDataDir(t *testing.T) {
	// Given: a data directory that does not exist yet
	dir := filepath.Join(t.TempDir(), "nested", "data")

	// When: checking write permissions
	result := New().CheckWritePermissions(dir)

	// Then: it passes and leaves no probe file behind
	assert.Equal(t, StatusPass, result.Status)
	assert.True(t, result.Required)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestChecker_CheckWritePermissions_ReadOnly(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("Skipping read-only test when running as root")
	}

	readOnlyDir := filepath.Join(t.TempDir(), "readonly")
	require.NoError(t, os.Mkdir(readOnlyDir, 0o555))
	defer func() { _ = os.Chmod(readOnlyDir, 0o755) }()

	result := New().CheckWritePermissions(readOnlyDir)

	assert.Equal(t, StatusFail, result.Status)
	assert.Contains(t, result.Message, "permission denied")
}

func TestChecker_CheckDiskSpace_MissingPath(t *testing.T) {
	result := New().CheckDiskSpace(filepath.Join(t.TempDir(), "not", "yet"))

	assert.NotEqual(t, StatusWarn, result.Status)
	assert.Contains(t, result.Message, "free")
}

func TestDirBytes_SumsNestedFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "lexical.bleve", "store"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "recall.db"), make([]byte, 300), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lexical.bleve", "store", "000001.zap"), make([]byte, 200), 0o644))

	assert.Equal(t, uint64(500), dirBytes(dir))
	assert.Zero(t, dirBytes(filepath.Join(dir, "missing")))
}

func TestChecker_CheckFileDescriptors_CountsLexicalFiles(t *testing.T) {
	// Given: a lexical index with three segment files
	dir := t.TempDir()
	segments := filepath.Join(dir, store.LexicalDirName, "store")
	require.NoError(t, os.MkdirAll(segments, 0o755))
	for _, name := range []string{"root.bolt", "000001.zap", "000002.zap"} {
		require.NoError(t, os.WriteFile(filepath.Join(segments, name), nil, 0o644))
	}

	// When: checking the open-file limit
	result := New().CheckFileDescriptors(dir)

	// Then: the requirement is the floor, since three files need far less
	assert.Contains(t, result.Message, "lexical index has 3 files")
	assert.Contains(t, result.Message, "need 1024")
	assert.Contains(t, []CheckStatus{StatusPass, StatusWarn, StatusFail}, result.Status)
}

func TestChecker_CheckConfig(t *testing.T) {
	valid := config.NewConfig()
	invalid := config.NewConfig()
	invalid.Bandit.OracleArm = "missing"

	assert.Equal(t, StatusPass, New().CheckConfig(valid).Status)
	assert.Equal(t, StatusFail, New().CheckConfig(invalid).Status)
	assert.Equal(t, StatusFail, New().CheckConfig(nil).Status)
}

func TestChecker_RunAll_ReturnsAllChecks(t *testing.T) {
	// Given: a fresh data directory
	cfg := config.NewConfig()
	cfg.Store.DataDir = filepath.Join(t.TempDir(), "data")

	// When: running all checks
	results := New().RunAll(context.Background(), cfg)

	// Then: every check reports and the missing index is only a warning
	names := make(map[string]CheckStatus)
	for _, r := range results {
		names[r.Name] = r.Status
	}
	for _, name := range []string{"config", "disk_space", "write_permissions", "file_descriptors", "data_dir_lock"} {
		assert.Contains(t, names, name)
	}
	assert.Equal(t, StatusWarn, names["data_dir_lock"])
}

// =============================================================================
// Index checks
// =============================================================================

func TestChecker_CheckIndex_Locked(t *testing.T) {
	// Given: a data directory held open by another handle
	dir := t.TempDir()
	db, err := store.Open(context.Background(), dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	// When: checking the index
	results := New().CheckIndex(context.Background(), dir)

	// Then: the lock check fails
	require.Len(t, results, 1)
	assert.Equal(t, StatusFail, results[0].Status)
	assert.Contains(t, results[0].Message, "in use")
}

func TestChecker_CheckIndex_MissingIndexes(t *testing.T) {
	dir := t.TempDir()
	db, err := store.Open(context.Background(), dir)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	results := New().CheckIndex(context.Background(), dir)

	byName := make(map[string]CheckResult)
	for _, r := range results {
		byName[r.Name] = r
	}
	assert.Equal(t, StatusPass, byName["data_dir_lock"].Status)
	assert.Equal(t, StatusWarn, byName["lexical_index"].Status)
	assert.Equal(t, StatusWarn, byName["vector_index"].Status)
}

func TestChecker_CheckIndex_DimensionMismatch(t *testing.T) {
	// Given: a vector index saved with 4 dimensions
	dir := t.TempDir()
	db, err := store.Open(context.Background(), dir)
	require.NoError(t, err)
	vectors := store.NewVectorIndex(store.DefaultVectorConfig(4))
	require.NoError(t, vectors.Add(context.Background(), []string{"m1"}, [][]float32{{1, 0, 0, 0}}))
	require.NoError(t, vectors.Save(db.VectorPath()))
	require.NoError(t, vectors.Close())
	require.NoError(t, db.Close())

	// When: checking against an 8 dimension embedder
	checker := New(WithDimensions(8))
	results := checker.CheckIndex(context.Background(), dir)

	// Then: the vector check is a critical failure
	var vec CheckResult
	for _, r := range results {
		if r.Name == "vector_index" {
			vec = r
		}
	}
	assert.True(t, vec.IsCritical())
	assert.Contains(t, vec.Message, "embedder produces 8")
	assert.True(t, checker.HasCriticalFailures(results))
}

func TestChecker_PrintResults(t *testing.T) {
	// Given: some check results
	results := []CheckResult{
		{Name: "disk_space", Status: StatusPass, Message: "50 GB free"},
		{Name: "lexical_index", Status: StatusWarn, Message: "missing", Details: "Re-run index"},
		{Name: "data_dir_lock", Status: StatusFail, Message: "in use", Required: true},
	}

	buf := &bytes.Buffer{}
	checker := New(WithOutput(buf), WithVerbose(true))

	// When: printing results
	checker.PrintResults(results)

	// Then: output contains formatted results
	output := buf.String()
	assert.Contains(t, output, "[PASS] disk_space")
	assert.Contains(t, output, "[WARN] lexical_index")
	assert.Contains(t, output, "Re-run index")
	assert.Contains(t, output, "Status: FAILED")
	assert.Contains(t, output, "1 error(s)")
	assert.Contains(t, output, "1 warning(s)")
}
