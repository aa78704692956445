package report

import (
	"io"
	"time"

	"github.com/nao1215/proxyprobe/internal/model"
)

const millisecond = time.Millisecond

// ListWriter writes the working proxies one per line, the format other
// tools and the next proxyprobe run can read back.
type ListWriter struct {
	baseWriter
}

// NewListWriter creates a ListWriter that outputs to the given writer.
func NewListWriter(output io.Writer) *ListWriter {
	return &ListWriter{baseWriter: newBaseWriter(output)}
}

// Write outputs exactly summary.WorkingList().
func (w *ListWriter) Write(summary *model.RunSummary) (int, error) {
	return io.WriteString(w.output, summary.WorkingList())
}

// StreamWriter appends each working proxy as soon as it is confirmed.
// Its WriteCandidate method has the shape of a pipeline success callback.
//
// The pipeline serializes success callbacks, so StreamWriter does not lock.
type StreamWriter struct {
	baseWriter
}

// NewStreamWriter creates a StreamWriter that outputs to the given writer.
func NewStreamWriter(output io.Writer) *StreamWriter {
	return &StreamWriter{baseWriter: newBaseWriter(output)}
}

// WriteCandidate writes c followed by a newline.
func (w *StreamWriter) WriteCandidate(c model.Candidate) error {
	_, err := io.WriteString(w.output, c.String()+"\n")
	return err
}
