// Package logging configures structured slog output for amanrecall.
// Logs are JSON, written to a size-rotated file under ~/.amanrecall/logs/
// and optionally mirrored to stderr (--debug).
package logging
