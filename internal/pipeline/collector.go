package pipeline

import (
	"log/slog"

	"github.com/nao1215/proxyprobe/internal/model"
)

// collector accumulates working candidates in the order their probes
// completed. It is not safe for concurrent use; runState serializes access.
type collector struct {
	working   []model.Candidate
	onSuccess SuccessFunc
	logger    *slog.Logger
}

// newCollector creates an empty collector.
func newCollector(onSuccess SuccessFunc, logger *slog.Logger) *collector {
	return &collector{
		working:   make([]model.Candidate, 0),
		onSuccess: onSuccess,
		logger:    logger,
	}
}

// collect records result if it is working and notifies the success callback
// exactly once for it.
func (c *collector) collect(result model.ProbeResult) {
	if !result.Working() {
		return
	}

	c.working = append(c.working, result.Candidate)

	if c.onSuccess == nil {
		return
	}
	invokeCallback(c.logger, "success", func() error {
		return c.onSuccess(result.Candidate)
	})
}

// invokeCallback runs fn, logging and swallowing both errors and panics so a
// misbehaving observer cannot abort the run.
func invokeCallback(logger *slog.Logger, name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("callback panicked", "callback", name, "panic", r)
		}
	}()

	if err := fn(); err != nil {
		logger.Warn("callback failed", "callback", name, "error", err)
	}
}
