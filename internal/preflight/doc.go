// Package preflight checks that amanrecall can run against a data directory.
//
// The system checks cover:
//   - Disk space at the data directory (minimum 100MB)
//   - Write permissions in the data directory
//   - File descriptor limits (minimum 1024)
//
// RunAll adds the configuration and the stored indexes:
//   - The configuration validates
//   - The data directory is not locked by another process
//   - Lexical, vector and graph indexes agree on the document count
//   - The vector index matches the embedder dimensions
//
//	checker := preflight.New()
//	results := checker.RunAll(ctx, cfg)
//	if checker.HasCriticalFailures(results) {
//	    // Handle failures
//	}
package preflight
