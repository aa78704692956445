package report

import (
	"io"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/nao1215/proxyprobe/internal/model"
)

// Writer defines the interface for report output.
//
// Design decision: We use an interface so the check command can pick a
// format and a destination (file or stdout) independently.
type Writer interface {
	// Write outputs the summary to the configured destination.
	// Returns the number of bytes written and any error encountered.
	Write(summary *model.RunSummary) (int, error)
}

// MultiWriter writes to multiple Writers in order.
//
// Design decision: io.MultiWriter does not apply because our Writer writes
// summaries, not raw bytes.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a Writer that writes to all provided Writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write outputs the summary to all Writers, stopping on the first error.
func (m *MultiWriter) Write(summary *model.RunSummary) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.Write(summary)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// baseWriter provides common functionality for report writers.
type baseWriter struct {
	output io.Writer
}

func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}

// newPrinter returns a printer that formats numbers with thousands
// separators. Proxy lists run into the hundreds of thousands.
func newPrinter(tag language.Tag) *message.Printer {
	return message.NewPrinter(tag)
}
