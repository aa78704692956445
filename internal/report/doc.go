// Package report renders run summaries and live progress.
//
// This package contains writers for different output formats:
//   - SimpleWriter: human-readable text for the terminal
//   - JSONWriter: structured JSON for tool integration
//   - MarkdownWriter: GitHub Flavored Markdown with a result pie chart
//   - ListWriter: the newline-separated working list, the persisted artifact
//
// It also provides the progress sinks and the streaming success writer that
// plug into the pipeline callbacks.
//
// Design decision: We separate report writing from the summary data
// structures (which are in the model package) so new output formats can be
// added without touching the pipeline.
package report
