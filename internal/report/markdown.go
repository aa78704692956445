package report

import (
	"io"
	"strconv"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"
	"golang.org/x/text/language"

	"github.com/nao1215/proxyprobe/internal/model"
)

// MarkdownWriter outputs the summary as GitHub Flavored Markdown, suitable
// for pasting into an issue or committing next to a proxy list.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{baseWriter: newBaseWriter(output)}
}

// Write outputs the summary in Markdown format.
func (w *MarkdownWriter) Write(summary *model.RunSummary) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, summary)
	w.writeResultChart(md, summary)
	w.writeAlert(md, summary)
	w.writeReasons(md, summary)
	w.writeWorking(md, summary)
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, summary *model.RunSummary) {
	p := newPrinter(language.English)

	status := "✅ Complete"
	if summary.Cancelled {
		status = "⚠️ Cancelled (partial results)"
	}

	md.H1("Proxy Check Report")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Started", summary.StartedAt.Format("2006-01-02 15:04:05 MST")},
			{"Elapsed", summary.Elapsed().Round(millisecond).String()},
			{"Status", status},
			{"Tested", p.Sprintf("%d / %d", summary.Tested, summary.Total)},
			{"Working", p.Sprintf("%d", summary.Working)},
			{"Failed", p.Sprintf("%d", summary.Failed)},
			{"Success Rate", strconv.FormatFloat(summary.SuccessRate, 'f', 2, 64) + "%"},
		},
	})
	md.PlainText("")
}

// writeResultChart writes a mermaid pie chart of working against failed.
func (w *MarkdownWriter) writeResultChart(md *markdown.Markdown, summary *model.RunSummary) {
	if summary.Tested == 0 {
		return
	}

	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Probe Results"),
		piechart.WithShowData(true),
	)
	if summary.Working > 0 {
		chart.LabelAndIntValue("Working", uint64(summary.Working)) //nolint:gosec // counters are never negative
	}
	if summary.Failed > 0 {
		chart.LabelAndIntValue("Failed", uint64(summary.Failed)) //nolint:gosec // counters are never negative
	}

	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

func (w *MarkdownWriter) writeAlert(md *markdown.Markdown, summary *model.RunSummary) {
	switch {
	case summary.Cancelled:
		md.Warningf("The run was cancelled after %d of %d candidates.", summary.Tested, summary.Total)
	case summary.Total == 0:
		md.Note("The input contained no valid candidates.")
	case !summary.HasWorking():
		md.Cautionf("None of the %d candidates worked.", summary.Tested)
	default:
		md.Tip(newPrinter(language.English).Sprintf("%d working proxies found.", summary.Working))
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writeReasons(md *markdown.Markdown, summary *model.RunSummary) {
	if len(summary.Reasons) == 0 {
		return
	}

	md.H2("Failure Reasons")
	md.PlainText("")

	names := SortedReasons(summary.Reasons)
	rows := make([][]string, len(names))
	for i, name := range names {
		rows[i] = []string{name, strconv.Itoa(summary.Reasons[name])}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Reason", "Count"},
		Rows:   rows,
	})
	md.PlainText("")
}

func (w *MarkdownWriter) writeWorking(md *markdown.Markdown, summary *model.RunSummary) {
	md.H2("Working Proxies")
	md.PlainText("")

	if !summary.HasWorking() {
		md.PlainText("No working proxies.")
		md.PlainText("")
		return
	}

	items := make([]string, len(summary.WorkingProxies))
	for i, c := range summary.WorkingProxies {
		items[i] = "`" + c.String() + "`"
	}
	md.BulletList(items...)
	md.PlainText("")
}

func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by [proxyprobe](https://github.com/nao1215/proxyprobe)*")
}
