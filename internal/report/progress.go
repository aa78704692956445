package report

import (
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/nao1215/proxyprobe/internal/model"
)

// ProgressBar renders pipeline snapshots as a terminal progress bar.
// Update has the shape of a pipeline progress callback.
type ProgressBar struct {
	bar     *progressbar.ProgressBar
	printer *message.Printer
}

// NewProgressBar creates a bar for total candidates writing to w
// (normally stderr, so stdout stays clean for reports).
func NewProgressBar(w io.Writer, total int) *ProgressBar {
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("probing"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionOnCompletion(func() { _, _ = fmt.Fprintln(w) }),
	)
	return &ProgressBar{
		bar:     bar,
		printer: newPrinter(language.English),
	}
}

// Update moves the bar to snap.Tested and shows the running verdict counts.
func (p *ProgressBar) Update(snap model.Snapshot) error {
	p.bar.Describe(p.printer.Sprintf("working %d | failed %d", snap.Working, snap.Failed))
	return p.bar.Set(snap.Tested)
}

// Finish completes the bar. It is safe to call after a cancelled run.
func (p *ProgressBar) Finish() error {
	return p.bar.Finish()
}

// ProgressPrinter writes one status line per snapshot. It is used when the
// output is not a terminal or the bar is disabled.
type ProgressPrinter struct {
	output  io.Writer
	printer *message.Printer
}

// NewProgressPrinter creates a ProgressPrinter writing to w.
func NewProgressPrinter(w io.Writer) *ProgressPrinter {
	return &ProgressPrinter{output: w, printer: newPrinter(language.English)}
}

// Update writes the snapshot as a single line.
func (p *ProgressPrinter) Update(snap model.Snapshot) error {
	_, err := fmt.Fprintln(p.output, FormatProgress(p.printer, snap))
	return err
}
