package preflight

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarker_Lifecycle(t *testing.T) {
	// Given: a data directory that was never checked
	dataDir := filepath.Join(t.TempDir(), "nested", "data")
	require.True(t, NeedsCheck(dataDir))

	// When: the checks pass
	require.NoError(t, MarkPassed(dataDir))

	// Then: the marker holds a timestamp and no recheck is needed
	content, err := os.ReadFile(filepath.Join(dataDir, MarkerFile))
	require.NoError(t, err)
	passedAt, err := time.Parse(time.RFC3339, string(content))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), passedAt, time.Minute)
	assert.False(t, NeedsCheck(dataDir))

	// When: the marker is cleared twice
	require.NoError(t, ClearMarker(dataDir))
	require.NoError(t, ClearMarker(dataDir))

	// Then: the next run checks again
	assert.True(t, NeedsCheck(dataDir))
}
