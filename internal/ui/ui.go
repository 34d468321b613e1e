// Package ui renders query results, arm tables and data directory status
// for the terminal.
package ui

import (
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// DetectNoColor checks if NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"} {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}

// UseColor reports whether w should receive coloured output.
func UseColor(w io.Writer) bool {
	return IsTTY(w) && !DetectNoColor() && !DetectCI()
}

// sparkChars are eight bar heights, lowest first.
var sparkChars = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// Sparkline draws values in [0,1] as block characters. Values outside the
// range are clamped.
func Sparkline(values []float64) string {
	var b strings.Builder
	top := len(sparkChars) - 1
	for _, v := range values {
		v = max(0, min(1, v))
		b.WriteRune(sparkChars[int(v*float64(top)+0.5)])
	}
	return b.String()
}
