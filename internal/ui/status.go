package ui

import (
	"fmt"
	"time"
)

// StatusInfo describes a data directory.
type StatusInfo struct {
	DataDir      string    `json:"data_dir"`
	Documents    int       `json:"documents"`
	Vectors      int       `json:"vectors"`
	Nodes        int       `json:"nodes"`
	Edges        int       `json:"edges"`
	Tenants      int       `json:"tenants"`
	Feedback     int       `json:"feedback_events"`
	LastFeedback time.Time `json:"last_feedback,omitempty"`

	DBSize      int64 `json:"db_size"`
	LexicalSize int64 `json:"lexical_size"`
	VectorSize  int64 `json:"vector_size"`
}

// Status renders data directory status.
func (r *Renderer) Status(info StatusInfo) error {
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Data: "+info.DataDir))

	_, _ = fmt.Fprintf(r.out, "  Documents:  %d\n", info.Documents)
	_, _ = fmt.Fprintf(r.out, "  Vectors:    %d\n", info.Vectors)
	_, _ = fmt.Fprintf(r.out, "  Graph:      %d nodes, %d edges\n", info.Nodes, info.Edges)
	_, _ = fmt.Fprintf(r.out, "  Tenants:    %d\n", info.Tenants)
	_, _ = fmt.Fprintf(r.out, "  Feedback:   %d", info.Feedback)
	if !info.LastFeedback.IsZero() {
		_, _ = fmt.Fprintf(r.out, " (last %s)", formatTime(info.LastFeedback))
	}
	_, _ = fmt.Fprintln(r.out)
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintln(r.out, "  Storage:")
	_, _ = fmt.Fprintf(r.out, "    Database: %s\n", FormatBytes(info.DBSize))
	_, _ = fmt.Fprintf(r.out, "    Lexical:  %s\n", FormatBytes(info.LexicalSize))
	_, _ = fmt.Fprintf(r.out, "    Vectors:  %s\n", FormatBytes(info.VectorSize))
	return nil
}

func formatTime(t time.Time) string {
	diff := time.Since(t)
	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute") + " ago"
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour") + " ago"
	case diff < 7*24*time.Hour:
		return plural(int(diff.Hours()/24), "day") + " ago"
	default:
		return t.Format("2006-01-02 15:04")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// FormatBytes formats bytes to human-readable format.
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
