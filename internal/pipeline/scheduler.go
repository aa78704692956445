package pipeline

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/nao1215/proxyprobe/internal/model"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// task is the unit of work the scheduler runs for every candidate.
type task func(ctx context.Context, c model.Candidate)

// scheduler launches one task per candidate with at most limit tasks in
// flight at any instant.
//
// Design decision: We use errgroup.SetLimit rather than a hand-written worker
// pool. Every candidate gets its own goroutine, only limit of them run at the
// same time, and Wait is the single join point for the whole run.
type scheduler struct {
	// limit is the maximum number of tasks in flight.
	limit int

	// limiter optionally paces task launches. Nil means launch as fast as
	// slots free up.
	limiter *rate.Limiter

	logger *slog.Logger
}

// newScheduler creates a scheduler. launchRate is in launches per second;
// zero disables pacing.
func newScheduler(limit int, launchRate float64, logger *slog.Logger) *scheduler {
	s := &scheduler{
		limit:  limit,
		logger: logger,
	}
	if launchRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(launchRate), 1)
	}
	return s
}

// run executes fn for every candidate and blocks until all launched tasks
// have returned. It reports how many tasks actually started.
//
// Once ctx is cancelled no further task is started. Tasks already running
// receive a context detached from ctx's cancellation, so in-flight probes
// finish under their own timeouts and their results are still recorded.
// run returns ctx.Err() when it stopped early.
func (s *scheduler) run(ctx context.Context, candidates []model.Candidate, fn task) (int, error) {
	var started atomic.Int64

	taskCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(s.limit)

	for _, c := range candidates {
		if ctx.Err() != nil {
			break
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				break
			}
		}

		// g.Go blocks until a slot is free, so cancellation may have
		// happened while we waited. Check again before doing any work.
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			started.Add(1)
			fn(taskCtx, c)
			return nil
		})
	}

	_ = g.Wait() //nolint:errcheck // tasks never return errors

	launched := int(started.Load())
	if err := ctx.Err(); err != nil && launched < len(candidates) {
		s.logger.Warn("run cancelled before all candidates were probed",
			"launched", launched,
			"total", len(candidates),
			"reason", err,
		)
		return launched, err
	}
	return launched, nil
}
