// Package output renders scan results and profile listings as plain text.
package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/HolbyKate/cooptme/internal/scanner"
	"github.com/HolbyKate/cooptme/pkg/plugin"
)

// TextWriter writes scan outcomes to a plain text file,
// mirroring the terminal output (without ANSI color codes).
type TextWriter struct {
	path  string
	lines []string
	mu    sync.Mutex
}

// NewTextWriter creates a new plain-text output writer.
func NewTextWriter(path string) *TextWriter {
	return &TextWriter{path: path}
}

func (w *TextWriter) Name() string { return "text" }

func (w *TextWriter) WriteOutcome(o scanner.Outcome, d time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.lines = append(w.lines, OutcomeLine(o, d))
	if o.Succeeded() && o.Profile != nil {
		for _, line := range profileLines(*o.Profile) {
			w.lines = append(w.lines, "      +-- "+line)
		}
	}
	return nil
}

func (w *TextWriter) Finalize(stats scanner.Stats, startedAt time.Time, elapsed time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var b strings.Builder

	b.WriteString("\n  COOPTME\n")
	b.WriteString("  Profile scan report\n")
	b.WriteString("  " + strings.Repeat("-", 58) + "\n\n")
	b.WriteString(fmt.Sprintf("  Started: %s\n\n", startedAt.Format(time.RFC1123)))

	for _, line := range w.lines {
		b.WriteString(line + "\n")
	}

	b.WriteString("\n  " + strings.Repeat("-", 50) + "\n")
	b.WriteString("  Scan complete\n")
	b.WriteString(fmt.Sprintf("    Profiles: %d saved, %d failed of %d in %s\n",
		stats.Succeeded, stats.Failed, stats.Attempts, FmtDur(elapsed)))
	if reasons := ReasonCounts(stats); reasons != "" {
		b.WriteString("    Reasons:  " + reasons + "\n")
	}
	b.WriteString("\n")

	return os.WriteFile(w.path, []byte(b.String()), 0644)
}

// ---------- helpers ----------

// OutcomeLine is the one-line summary of an attempt.
func OutcomeLine(o scanner.Outcome, d time.Duration) string {
	if o.Succeeded() {
		name := ""
		if o.Profile != nil {
			name = o.Profile.FullName()
		}
		return fmt.Sprintf("  [ok] %s (%s) %s", o.URL, FmtDur(d), name)
	}
	return fmt.Sprintf("  [%s] %s (%s) %s", o.Reason, o.URL, FmtDur(d), o.Reason.Message())
}

func profileLines(p plugin.Profile) []string {
	var lines []string
	for _, f := range [][2]string{
		{"title", p.Title},
		{"company", p.Company},
		{"location", p.Location},
		{"url", p.ProfileURL},
	} {
		if f[1] != "" {
			lines = append(lines, f[0]+": "+f[1])
		}
	}
	return lines
}

// ReasonCounts formats failure counts in a stable order.
func ReasonCounts(stats scanner.Stats) string {
	if len(stats.ByReason) == 0 {
		return ""
	}
	reasons := make([]string, 0, len(stats.ByReason))
	for r, n := range stats.ByReason {
		if n > 0 {
			reasons = append(reasons, fmt.Sprintf("%s:%d", r, n))
		}
	}
	sort.Strings(reasons)
	return strings.Join(reasons, ", ")
}

// WriteProfiles prints profiles as an aligned table.
func WriteProfiles(out io.Writer, profiles []plugin.Profile) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTITLE\tCOMPANY\tLOCATION\tUPDATED\tURL")
	for _, p := range profiles {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			dash(p.FullName()), dash(p.Title), dash(p.Company), dash(p.Location),
			p.UpdatedAt.Local().Format("2006-01-02 15:04"), p.ProfileURL)
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// FmtDur formats d compactly: 850ms, 2.4s, 3m5s.
func FmtDur(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm%ds", m, s)
}
