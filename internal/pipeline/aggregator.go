package pipeline

import (
	"log/slog"

	"github.com/nao1215/proxyprobe/internal/model"
)

// aggregator maintains the run counters and decides when to emit progress.
// It is not safe for concurrent use; runState serializes access.
type aggregator struct {
	total   int
	tested  int
	working int
	failed  int

	// every is the completion cadence for progress snapshots.
	every int

	// reasons counts failures by reason for the final summary.
	reasons map[model.Reason]int

	onProgress ProgressFunc
	logger     *slog.Logger
}

// newAggregator creates an aggregator for a run of total candidates.
func newAggregator(total, every int, onProgress ProgressFunc, logger *slog.Logger) *aggregator {
	return &aggregator{
		total:      total,
		every:      every,
		reasons:    make(map[model.Reason]int),
		onProgress: onProgress,
		logger:     logger,
	}
}

// observe applies one result and reports whether a snapshot should be
// emitted for it: on every every-th completion, on every working outcome,
// and on the final completion.
func (a *aggregator) observe(result model.ProbeResult) (model.Snapshot, bool) {
	a.tested++
	if result.Working() {
		a.working++
	} else {
		a.failed++
		a.reasons[result.Reason]++
	}

	snap := a.snapshot()
	emit := result.Working() || a.tested%a.every == 0 || a.tested == a.total
	return snap, emit
}

// snapshot returns the current counters.
func (a *aggregator) snapshot() model.Snapshot {
	return model.Snapshot{
		Tested:  a.tested,
		Total:   a.total,
		Working: a.working,
		Failed:  a.failed,
	}
}

// emit delivers snap to the progress callback. A failing callback is logged
// and otherwise ignored.
func (a *aggregator) emit(snap model.Snapshot) {
	if a.onProgress == nil {
		return
	}
	invokeCallback(a.logger, "progress", func() error {
		return a.onProgress(snap)
	})
}
