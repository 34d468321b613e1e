package preflight

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// MarkerFile records in the data directory that the system checks passed.
const MarkerFile = ".preflight-passed"

// NeedsCheck reports whether the system checks have not passed for dataDir.
func NeedsCheck(dataDir string) bool {
	_, err := os.Stat(filepath.Join(dataDir, MarkerFile))
	return errors.Is(err, os.ErrNotExist)
}

// MarkPassed writes the marker with the current time.
func MarkPassed(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create marker directory: %w", err)
	}
	content := []byte(time.Now().Format(time.RFC3339))
	return os.WriteFile(filepath.Join(dataDir, MarkerFile), content, 0o644)
}

// ClearMarker removes the marker so the next index runs the checks again.
func ClearMarker(dataDir string) error {
	err := os.Remove(filepath.Join(dataDir, MarkerFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove marker file: %w", err)
	}
	return nil
}
