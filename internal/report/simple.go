package report

import (
	"io"
	"slices"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/nao1215/proxyprobe/internal/model"
)

// SimpleWriter outputs the run summary as plain text for the terminal.
//
// Design decision: We use plain text without ANSI colors so the output can
// be piped to files or other tools unchanged.
type SimpleWriter struct {
	baseWriter

	// listWorking appends the working proxies after the counters.
	listWorking bool

	// tag selects number formatting.
	tag language.Tag
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithListWorking configures the writer to print every working proxy.
func WithListWorking(list bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.listWorking = list
	}
}

// WithLanguage sets the language used for number formatting.
func WithLanguage(tag language.Tag) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.tag = tag
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{
		baseWriter: newBaseWriter(output),
		tag:        language.English,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs the summary in human-readable format.
func (w *SimpleWriter) Write(summary *model.RunSummary) (int, error) {
	p := newPrinter(w.tag)
	var sb strings.Builder

	sb.WriteString(strings.Repeat("=", 50) + "\n")
	if summary.Cancelled {
		sb.WriteString("Proxy check cancelled (partial results)\n")
	} else {
		sb.WriteString("Proxy check complete\n")
	}
	sb.WriteString(strings.Repeat("=", 50) + "\n")

	sb.WriteString(p.Sprintf("Tested:       %d / %d\n", summary.Tested, summary.Total))
	sb.WriteString(p.Sprintf("Working:      %d\n", summary.Working))
	sb.WriteString(p.Sprintf("Failed:       %d\n", summary.Failed))
	sb.WriteString(p.Sprintf("Success rate: %.2f%%\n", summary.SuccessRate))
	sb.WriteString(p.Sprintf("Elapsed:      %s\n", summary.Elapsed().Round(millisecond)))

	if len(summary.Reasons) > 0 {
		sb.WriteString("\nFailure reasons:\n")
		for _, name := range SortedReasons(summary.Reasons) {
			sb.WriteString(p.Sprintf("  %-20s %d\n", name, summary.Reasons[name]))
		}
	}

	if w.listWorking && summary.HasWorking() {
		sb.WriteString("\nWorking proxies:\n")
		for _, c := range summary.WorkingProxies {
			sb.WriteString("  " + c.String() + "\n")
		}
	}

	return io.WriteString(w.output, sb.String())
}

// SortedReasons returns reason names ordered by count, highest first, then
// by name so output is stable.
func SortedReasons(reasons map[string]int) []string {
	names := make([]string, 0, len(reasons))
	for name := range reasons {
		names = append(names, name)
	}
	slices.SortFunc(names, func(a, b string) int {
		if reasons[a] != reasons[b] {
			return reasons[b] - reasons[a]
		}
		return strings.Compare(a, b)
	})
	return names
}

// FormatProgress renders a snapshot as a single status line.
func FormatProgress(p *message.Printer, snap model.Snapshot) string {
	return p.Sprintf("Tested %d/%d (%.1f%%) | working %d | failed %d | success %.1f%%",
		snap.Tested, snap.Total, snap.Percent(), snap.Working, snap.Failed, snap.SuccessRate())
}
