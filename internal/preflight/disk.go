package preflight

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/dustin/go-humanize"
)

// MinFreeBytes is the free space floor for any data directory.
const MinFreeBytes = 100 * 1024 * 1024

// rewriteFactor is how many copies of the current data directory must fit
// in free space. Saving the vector index writes a full temp file beside
// the old one and bleve merges rewrite segments.
const rewriteFactor = 2

// CheckDiskSpace compares free space on dataDir's filesystem with what
// rewriting its indexes needs. A directory that does not exist yet is
// measured at its nearest existing parent.
func (c *Checker) CheckDiskSpace(dataDir string) CheckResult {
	result := CheckResult{Name: "disk_space", Required: true}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(existingParent(dataDir), &stat); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot stat filesystem: %v", err)
		return result
	}
	free := stat.Bavail * uint64(stat.Bsize)
	used := dirBytes(dataDir)
	need := max(uint64(MinFreeBytes), rewriteFactor*used)

	result.Message = fmt.Sprintf("%s free, data directory uses %s", humanize.IBytes(free), humanize.IBytes(used))
	switch {
	case free < MinFreeBytes:
		result.Status = StatusFail
		result.Details = fmt.Sprintf("at least %s must be free", humanize.IBytes(MinFreeBytes))
	case free < need:
		result.Status = StatusWarn
		result.Details = fmt.Sprintf("re-indexing needs about %s", humanize.IBytes(need))
	default:
		result.Status = StatusPass
	}
	return result
}

// dirBytes sums regular file sizes under dir. Unreadable entries are skipped.
func dirBytes(dir string) uint64 {
	var total uint64
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil && info.Mode().IsRegular() {
			total += uint64(info.Size())
		}
		return nil
	})
	return total
}

func existingParent(path string) string {
	for {
		if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
			return path
		}
		parent := filepath.Dir(path)
		if parent == path {
			return path
		}
		path = parent
	}
}
