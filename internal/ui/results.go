package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/Aman-CERP/amanrecall/internal/bandit"
	"github.com/Aman-CERP/amanrecall/internal/retrieval"
	"github.com/Aman-CERP/amanrecall/internal/store"
	"github.com/Aman-CERP/amanrecall/internal/strategy"
)

// Renderer writes human or JSON output.
type Renderer struct {
	out    io.Writer
	styles Styles
}

// NewRenderer creates a renderer; colour follows noColor.
func NewRenderer(out io.Writer, noColor bool) *Renderer {
	return &Renderer{out: out, styles: GetStyles(noColor)}
}

// JSON writes v indented.
func (r *Renderer) JSON(v any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Response renders a query answer.
func (r *Renderer) Response(resp retrieval.Response, docs map[string]store.Document) error {
	mode := "sampled"
	if resp.ColdStart {
		mode = "cold start"
	}
	_, _ = fmt.Fprintf(r.out, "%s %s\n", r.styles.Header.Render("Query"), r.styles.Dim.Render(resp.QueryID))
	_, _ = fmt.Fprintf(r.out, "  %s %s (%s)\n", r.styles.Label.Render("Arm:       "), resp.ArmID, mode)
	_, _ = fmt.Fprintf(r.out, "  %s %.3f", r.styles.Label.Render("Confidence:"), resp.Confidence)
	if resp.Degraded {
		_, _ = fmt.Fprintf(r.out, "  %s", r.styles.Warning.Render("degraded"))
	}
	_, _ = fmt.Fprintln(r.out)
	for _, o := range resp.Strategies {
		status := string(o.Status)
		if o.Status != strategy.StatusOK {
			status = r.styles.Warning.Render(status)
		}
		_, _ = fmt.Fprintf(r.out, "  %s %-8s %s %d hits in %s\n",
			r.styles.Label.Render("Strategy:  "), o.Strategy, status, o.Hits, o.Elapsed.Round(100*time.Microsecond))
	}
	_, _ = fmt.Fprintln(r.out)

	if len(resp.Ranked) == 0 {
		_, _ = fmt.Fprintln(r.out, r.styles.Dim.Render("  no results"))
		return nil
	}

	rows := make([][]string, 0, len(resp.Ranked))
	for _, it := range resp.Ranked {
		preview := ""
		if d, ok := docs[it.DocID]; ok {
			preview = truncate(d.Text, 60)
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", it.Rank),
			it.DocID,
			fmt.Sprintf("%.5f", it.Score),
			strings.Join(it.Strategies, ","),
			preview,
		})
	}
	_, _ = fmt.Fprintln(r.out, r.table([]string{"#", "DOC", "SCORE", "STRATEGIES", "TEXT"}, rows))
	return nil
}

// Arms renders a tenant's arms, best posterior mean first.
func (r *Renderer) Arms(scope bandit.Scope, arms []bandit.Arm) error {
	sorted := make([]bandit.Arm, len(arms))
	copy(sorted, arms)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Mean() != sorted[j].Mean() {
			return sorted[i].Mean() > sorted[j].Mean()
		}
		return sorted[i].ID < sorted[j].ID
	})

	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Arms: "+scope.String()))
	rows := make([][]string, 0, len(sorted))
	for _, a := range sorted {
		rows = append(rows, []string{
			a.ID,
			fmt.Sprintf("%.3f", a.Mean()),
			Sparkline([]float64{a.Mean()}),
			fmt.Sprintf("%.2f", a.Alpha),
			fmt.Sprintf("%.2f", a.Beta),
			fmt.Sprintf("%d", a.Updates),
			fmt.Sprintf("%d", a.Selections),
			formatWeights(a.Weights),
		})
	}
	_, _ = fmt.Fprintln(r.out, r.table([]string{"ARM", "MEAN", "", "ALPHA", "BETA", "UPDATES", "SELECTED", "WEIGHTS"}, rows))
	return nil
}

func (r *Renderer) table(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	var b strings.Builder
	line := func(cells []string, style lipgloss.Style) {
		b.WriteString("  ")
		for i, c := range cells {
			b.WriteString(style.Render(c))
			if i < len(cells)-1 {
				b.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(c)+2))
			}
		}
		b.WriteString("\n")
	}
	line(headers, r.styles.Label)
	for _, row := range rows {
		line(row, lipgloss.NewStyle())
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatWeights(w map[string]float64) string {
	keys := make([]string, 0, len(w))
	for k := range w {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%.2g", k, w[k])
	}
	return strings.Join(parts, " ")
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}
