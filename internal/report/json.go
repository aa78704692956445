package report

import (
	"encoding/json"
	"io"

	"github.com/nao1215/proxyprobe/internal/model"
)

// JSONWriter outputs the summary as JSON for tool integration.
//
// Design decision: We use standard encoding/json. The summary is a flat
// struct with no performance-sensitive encoding, and no library in use here
// offers anything encoding/json does not.
type JSONWriter struct {
	baseWriter

	// indentString enables pretty-printed output when non-empty.
	indentString string

	// version is recorded in the output when set.
	version string
}

// JSONWriterOption configures a JSONWriter.
type JSONWriterOption func(*JSONWriter)

// WithPrettyPrint enables pretty-printed JSON with two-space indentation.
func WithPrettyPrint() JSONWriterOption {
	return func(w *JSONWriter) {
		w.indentString = "  "
	}
}

// WithVersion records the proxyprobe version in the output.
func WithVersion(version string) JSONWriterOption {
	return func(w *JSONWriter) {
		w.version = version
	}
}

// NewJSONWriter creates a JSONWriter that outputs to the given writer.
func NewJSONWriter(output io.Writer, opts ...JSONWriterOption) *JSONWriter {
	w := &JSONWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// JSONReport wraps the summary with output-only fields.
//
// Design decision: We wrap the summary rather than adding fields to
// model.RunSummary so the pipeline result stays free of presentation data.
type JSONReport struct {
	*model.RunSummary

	// Version is the proxyprobe version that produced the report.
	Version string `json:"version,omitempty"`

	// ElapsedSeconds is the wall-clock duration of the run.
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

// Write outputs the summary in JSON format followed by a newline.
func (w *JSONWriter) Write(summary *model.RunSummary) (int, error) {
	wrapped := JSONReport{
		RunSummary:     summary,
		Version:        w.version,
		ElapsedSeconds: summary.Elapsed().Seconds(),
	}

	var (
		data []byte
		err  error
	)
	if w.indentString != "" {
		data, err = json.MarshalIndent(wrapped, "", w.indentString)
	} else {
		data, err = json.Marshal(wrapped)
	}
	if err != nil {
		return 0, err
	}

	data = append(data, '\n')
	return w.output.Write(data)
}
