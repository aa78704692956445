package model

import (
	"strings"
	"time"
)

// Snapshot is a point-in-time view of a run's counters.
// Tested always equals Working + Failed.
type Snapshot struct {
	Tested  int `json:"tested"`
	Total   int `json:"total"`
	Working int `json:"working"`
	Failed  int `json:"failed"`
}

// Percent returns tested/total as a percentage, or 0 when total is 0.
func (s Snapshot) Percent() float64 {
	return percentage(s.Tested, s.Total)
}

// SuccessRate returns working/tested as a percentage, or 0 when tested is 0.
func (s Snapshot) SuccessRate() float64 {
	return percentage(s.Working, s.Tested)
}

// RunSummary is the immutable result of one validation run.
// It is built once by the pipeline when the run finishes and is safe to share.
type RunSummary struct {
	// Total is the number of valid candidates submitted to the run.
	Total int `json:"total"`

	// Tested is the number of candidates that produced a verdict.
	// It is lower than Total only when the run was cancelled.
	Tested int `json:"tested"`

	// Working is the number of candidates with a Working verdict.
	Working int `json:"working"`

	// Failed is the number of candidates with a Failed verdict.
	Failed int `json:"failed"`

	// SuccessRate is Working/Tested as a percentage; 0 when Tested is 0.
	SuccessRate float64 `json:"success_rate"`

	// WorkingProxies lists the working candidates in completion order.
	WorkingProxies []Candidate `json:"working_proxies"`

	// Reasons counts failed probes by failure reason.
	Reasons map[string]int `json:"failure_reasons,omitempty"`

	// StartedAt is when the run began probing.
	StartedAt time.Time `json:"started_at"`

	// FinishedAt is when the last probe completed.
	FinishedAt time.Time `json:"finished_at"`

	// Cancelled is true when the run stopped before every candidate was tested.
	Cancelled bool `json:"cancelled"`
}

// NewRunSummary builds a summary from final counters. The working slice and
// reasons map are copied so later mutation by the caller cannot leak in.
func NewRunSummary(snap Snapshot, working []Candidate, reasons map[Reason]int, started, finished time.Time, cancelled bool) *RunSummary {
	list := make([]Candidate, len(working))
	copy(list, working)

	var byName map[string]int
	if len(reasons) > 0 {
		byName = make(map[string]int, len(reasons))
		for r, n := range reasons {
			byName[r.String()] = n
		}
	}

	return &RunSummary{
		Total:          snap.Total,
		Tested:         snap.Tested,
		Working:        snap.Working,
		Failed:         snap.Failed,
		SuccessRate:    snap.SuccessRate(),
		WorkingProxies: list,
		Reasons:        byName,
		StartedAt:      started,
		FinishedAt:     finished,
		Cancelled:      cancelled,
	}
}

// Snapshot returns the summary counters as a Snapshot.
func (s *RunSummary) Snapshot() Snapshot {
	return Snapshot{
		Tested:  s.Tested,
		Total:   s.Total,
		Working: s.Working,
		Failed:  s.Failed,
	}
}

// Elapsed returns the wall-clock duration of the run.
func (s *RunSummary) Elapsed() time.Duration {
	if s.FinishedAt.Before(s.StartedAt) {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// HasWorking reports whether at least one candidate worked.
func (s *RunSummary) HasWorking() bool {
	return len(s.WorkingProxies) > 0
}

// WorkingList returns the working candidates joined by newlines, one per line,
// with no trailing newline. This is the export format for result files.
func (s *RunSummary) WorkingList() string {
	lines := make([]string, len(s.WorkingProxies))
	for i, c := range s.WorkingProxies {
		lines[i] = c.String()
	}
	return strings.Join(lines, "\n")
}

// percentage returns part/whole*100, defined as 0 when whole is 0.
func percentage(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}
