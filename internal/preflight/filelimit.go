package preflight

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"syscall"

	"github.com/Aman-CERP/amanrecall/internal/store"
)

// MinFileDescriptors is the descriptor floor for any data directory.
const MinFileDescriptors = 1024

// descriptorsPerLexicalFile leaves headroom for segments bleve opens while
// merging.
const descriptorsPerLexicalFile = 4

// CheckFileDescriptors compares the open-file limit with what the lexical
// index in dataDir keeps open. A soft limit that the hard limit can cover
// is a warning; a hard limit that is too low fails.
func (c *Checker) CheckFileDescriptors(dataDir string) CheckResult {
	result := CheckResult{Name: "file_descriptors", Required: true}

	var rl syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rl); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot read open-file limit: %v", err)
		return result
	}

	files := countFiles(filepath.Join(dataDir, store.LexicalDirName))
	need := max(uint64(MinFileDescriptors), uint64(files)*descriptorsPerLexicalFile)

	result.Message = fmt.Sprintf("limit %d, lexical index has %d files (need %d)", rl.Cur, files, need)
	switch {
	case uint64(rl.Cur) >= need:
		result.Status = StatusPass
	case uint64(rl.Max) >= need:
		result.Status = StatusWarn
		result.Details = fmt.Sprintf("Run 'ulimit -n %d' before indexing", need)
	default:
		result.Status = StatusFail
		result.Details = fmt.Sprintf("hard limit %d is below %d; raise it in limits.conf or launchctl", rl.Max, need)
	}
	return result
}

func countFiles(dir string) int {
	n := 0
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			n++
		}
		return nil
	})
	return n
}
