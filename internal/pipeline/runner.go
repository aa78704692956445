package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nao1215/proxyprobe/internal/model"
)

// DefaultProgressEvery is the completion cadence for progress snapshots.
const DefaultProgressEvery = 10

// Runner configuration errors. They are returned by NewRunner so a run never
// starts half configured.
var (
	// ErrNilProbe is returned when no probe function is supplied.
	ErrNilProbe = errors.New("probe function must not be nil")

	// ErrInvalidConcurrency is returned when the concurrency limit is not positive.
	ErrInvalidConcurrency = errors.New("invalid concurrency: must be positive")

	// ErrInvalidProgressEvery is returned when the progress cadence is not positive.
	ErrInvalidProgressEvery = errors.New("invalid progress cadence: must be positive")

	// ErrInvalidLaunchRate is returned when the launch rate is negative.
	ErrInvalidLaunchRate = errors.New("invalid launch rate: must be non-negative")

	// ErrInvalidProbeDeadline is returned when the probe deadline is negative.
	ErrInvalidProbeDeadline = errors.New("invalid probe deadline: must be non-negative")
)

// ProbeFunc checks a single candidate. Implementations should honor ctx's
// deadline; the Runner enforces its own deadline as a backstop.
type ProbeFunc func(ctx context.Context, c model.Candidate) model.ProbeResult

// ProgressFunc receives progress snapshots. Errors are logged and ignored.
type ProgressFunc func(snap model.Snapshot) error

// SuccessFunc is called once for every working candidate, as soon as its
// probe completes. Errors are logged and ignored.
type SuccessFunc func(c model.Candidate) error

// Runner validates candidate proxies with bounded concurrency.
// A Runner holds configuration only and may be reused for several runs.
type Runner struct {
	probe ProbeFunc

	// concurrency is the maximum number of probes in flight.
	concurrency int

	// progressEvery is the completion cadence for progress snapshots.
	progressEvery int

	// probeDeadline is the hard limit for a single probe call. Zero means
	// the probe is trusted to return on its own.
	probeDeadline time.Duration

	// launchRate paces probe launches per second. Zero means unpaced.
	launchRate float64

	onProgress ProgressFunc
	onSuccess  SuccessFunc
	logger     *slog.Logger

	// now is replaceable for tests.
	now func() time.Time
}

// Option configures a Runner.
// This follows the functional options pattern used across the module.
type Option func(*Runner)

// WithConcurrency sets the maximum number of probes in flight.
// Default is 100.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		r.concurrency = n
	}
}

// WithProgressEvery sets how often, in completions, a snapshot is emitted.
// Working outcomes and the final completion always emit regardless.
func WithProgressEvery(k int) Option {
	return func(r *Runner) {
		r.progressEvery = k
	}
}

// WithProbeDeadline sets a hard limit on a single probe call. A probe that
// has not returned by then is recorded as failed with ReasonTimeout.
//
// The concurrency slot is released at the deadline, but the ProbeFunc call
// itself keeps running until it returns. A ProbeFunc that ignores its context
// can therefore leave more than the configured concurrency executing at
// once. Probe functions should honor ctx so that the deadline also stops
// their work.
func WithProbeDeadline(d time.Duration) Option {
	return func(r *Runner) {
		r.probeDeadline = d
	}
}

// WithLaunchRate limits how many probes are started per second.
// It never raises the concurrency bound; zero disables pacing.
func WithLaunchRate(perSecond float64) Option {
	return func(r *Runner) {
		r.launchRate = perSecond
	}
}

// WithOnProgress registers the progress callback.
func WithOnProgress(fn ProgressFunc) Option {
	return func(r *Runner) {
		r.onProgress = fn
	}
}

// WithOnSuccess registers the per-success callback.
func WithOnSuccess(fn SuccessFunc) Option {
	return func(r *Runner) {
		r.onSuccess = fn
	}
}

// WithLogger sets a custom logger.
// If not set, slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// NewRunner creates a Runner for probe and validates its configuration.
func NewRunner(probe ProbeFunc, opts ...Option) (*Runner, error) {
	r := &Runner{
		probe:         probe,
		concurrency:   100,
		progressEvery: DefaultProgressEvery,
		now:           time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.logger == nil {
		r.logger = slog.Default()
	}

	switch {
	case r.probe == nil:
		return nil, ErrNilProbe
	case r.concurrency <= 0:
		return nil, ErrInvalidConcurrency
	case r.progressEvery <= 0:
		return nil, ErrInvalidProgressEvery
	case r.launchRate < 0:
		return nil, ErrInvalidLaunchRate
	case r.probeDeadline < 0:
		return nil, ErrInvalidProbeDeadline
	}

	return r, nil
}

// Run probes every candidate exactly once and returns the final summary.
//
// Run blocks until every launched probe has produced a result. If ctx is
// cancelled, no further probes are launched, probes already in flight are
// allowed to finish, and the partial summary is returned together with
// ctx.Err(). The summary is never nil.
func (r *Runner) Run(ctx context.Context, candidates []model.Candidate) (*model.RunSummary, error) {
	started := r.now()
	state := newRunState(len(candidates), r.progressEvery, r.onProgress, r.onSuccess, r.logger)

	r.logger.Info("starting validation run",
		"total", len(candidates),
		"concurrency", r.concurrency,
		"progressEvery", r.progressEvery,
	)

	sched := newScheduler(r.concurrency, r.launchRate, r.logger)
	launched, err := sched.run(ctx, candidates, func(ctx context.Context, c model.Candidate) {
		result := r.guardedProbe(ctx, c)
		result.Candidate = c
		state.record(result)
	})

	summary := state.summary(started, r.now(), err != nil)

	r.logger.Info("validation run complete",
		"launched", launched,
		"tested", summary.Tested,
		"working", summary.Working,
		"failed", summary.Failed,
		"elapsed", summary.Elapsed(),
	)

	return summary, err
}

// guardedProbe calls the probe, converting panics and overruns of the probe
// deadline into failed results.
func (r *Runner) guardedProbe(ctx context.Context, c model.Candidate) model.ProbeResult {
	if r.probeDeadline <= 0 {
		return r.callProbe(ctx, c)
	}

	ctx, cancel := context.WithTimeout(ctx, r.probeDeadline)
	defer cancel()

	// Buffered so a probe that returns after the deadline does not leak
	// its goroutine forever on the send.
	done := make(chan model.ProbeResult, 1)
	go func() {
		done <- r.callProbe(ctx, c)
	}()

	select {
	case result := <-done:
		return result
	case <-ctx.Done():
		r.logger.Warn("probe exceeded deadline",
			"candidate", c.String(),
			"deadline", r.probeDeadline,
		)
		return model.Failed(c, model.ReasonTimeout)
	}
}

// callProbe invokes the probe function, recovering from panics.
func (r *Runner) callProbe(ctx context.Context, c model.Candidate) (result model.ProbeResult) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("probe panicked", "candidate", c.String(), "panic", rec)
			result = model.Failed(c, model.ReasonInternal)
		}
	}()
	return r.probe(ctx, c)
}

// runState is the single-writer state of one run.
// The mutex covers both the aggregator and the collector so each result is
// applied atomically.
type runState struct {
	mu  sync.Mutex
	agg *aggregator
	col *collector
}

// newRunState creates the state for a run of total candidates.
func newRunState(total, every int, onProgress ProgressFunc, onSuccess SuccessFunc, logger *slog.Logger) *runState {
	return &runState{
		agg: newAggregator(total, every, onProgress, logger),
		col: newCollector(onSuccess, logger),
	}
}

// record applies one probe result.
func (s *runState) record(result model.ProbeResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, emit := s.agg.observe(result)
	s.col.collect(result)
	if emit {
		s.agg.emit(snap)
	}
}

// summary freezes the state into a RunSummary. stopped reports whether the
// scheduler stopped early; the summary is marked cancelled only if that left
// candidates untested.
func (s *runState) summary(started, finished time.Time, stopped bool) *model.RunSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.agg.snapshot()
	cancelled := stopped && snap.Tested < snap.Total
	return model.NewRunSummary(snap, s.col.working, s.agg.reasons, started, finished, cancelled)
}
