package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nao1215/proxyprobe/internal/model"
)

// discardLogger keeps test output quiet.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// verdictProbe returns a probe that marks the given candidates as working and
// everything else as failed.
func verdictProbe(working ...model.Candidate) ProbeFunc {
	set := make(map[model.Candidate]bool, len(working))
	for _, c := range working {
		set[c] = true
	}
	return func(_ context.Context, c model.Candidate) model.ProbeResult {
		if set[c] {
			return model.ProbeResult{Candidate: c, Outcome: model.OutcomeWorking, StatusCode: 200}
		}
		return model.Failed(c, model.ReasonRefused)
	}
}

// makeCandidates generates n distinct candidates.
func makeCandidates(n int) []model.Candidate {
	candidates := make([]model.Candidate, n)
	for i := range candidates {
		candidates[i] = model.Candidate(fmt.Sprintf("10.0.%d.%d:8080", i/256, i%256))
	}
	return candidates
}

// TestNewRunner tests the Runner constructor.
func TestNewRunner(t *testing.T) {
	t.Parallel()

	t.Run("creates runner with defaults", func(t *testing.T) {
		t.Parallel()

		r, err := NewRunner(verdictProbe())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if r.concurrency != 100 {
			t.Errorf("expected default concurrency 100, got %d", r.concurrency)
		}
		if r.progressEvery != DefaultProgressEvery {
			t.Errorf("expected default progress cadence %d, got %d", DefaultProgressEvery, r.progressEvery)
		}
		if r.logger == nil {
			t.Error("expected non-nil logger")
		}
	})

	tests := []struct {
		name    string
		probe   ProbeFunc
		opts    []Option
		wantErr error
	}{
		{name: "nil probe", probe: nil, wantErr: ErrNilProbe},
		{name: "zero concurrency", probe: verdictProbe(), opts: []Option{WithConcurrency(0)}, wantErr: ErrInvalidConcurrency},
		{name: "negative concurrency", probe: verdictProbe(), opts: []Option{WithConcurrency(-3)}, wantErr: ErrInvalidConcurrency},
		{name: "zero progress cadence", probe: verdictProbe(), opts: []Option{WithProgressEvery(0)}, wantErr: ErrInvalidProgressEvery},
		{name: "negative launch rate", probe: verdictProbe(), opts: []Option{WithLaunchRate(-1)}, wantErr: ErrInvalidLaunchRate},
		{name: "negative deadline", probe: verdictProbe(), opts: []Option{WithProbeDeadline(-time.Second)}, wantErr: ErrInvalidProbeDeadline},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r, err := NewRunner(tt.probe, tt.opts...)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if r != nil {
				t.Error("expected nil runner on error")
			}
		})
	}
}

// TestRunnerRun tests complete validation runs.
func TestRunnerRun(t *testing.T) {
	t.Parallel()

	t.Run("mixed input scenario", func(t *testing.T) {
		t.Parallel()

		candidates := model.ParseLines([]string{"1.2.3.4:8080", "not-a-proxy", "5.6.7.8:80"})
		if len(candidates) != 2 {
			t.Fatalf("expected 2 valid candidates, got %d", len(candidates))
		}

		r, err := NewRunner(verdictProbe("1.2.3.4:8080"),
			WithConcurrency(2),
			WithLogger(discardLogger()),
		)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		summary, err := r.Run(context.Background(), candidates)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if summary.Total != 2 || summary.Tested != 2 || summary.Working != 1 || summary.Failed != 1 {
			t.Errorf("unexpected counts: %+v", summary)
		}
		if summary.SuccessRate != 50.0 {
			t.Errorf("expected success rate 50.0, got %v", summary.SuccessRate)
		}
		if !reflect.DeepEqual(summary.WorkingProxies, []model.Candidate{"1.2.3.4:8080"}) {
			t.Errorf("unexpected working list: %v", summary.WorkingProxies)
		}
		if summary.Cancelled {
			t.Error("expected run not to be cancelled")
		}
		if summary.Reasons["connection refused"] != 1 {
			t.Errorf("expected one refused failure, got %v", summary.Reasons)
		}
	})

	t.Run("empty input completes immediately", func(t *testing.T) {
		t.Parallel()

		var progressCalls atomic.Int32
		r, _ := NewRunner(verdictProbe(), //nolint:errcheck // options are valid
			WithLogger(discardLogger()),
			WithOnProgress(func(model.Snapshot) error {
				progressCalls.Add(1)
				return nil
			}),
		)

		summary, err := r.Run(context.Background(), nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if summary.Tested != 0 || summary.Working != 0 || summary.Failed != 0 {
			t.Errorf("expected zero counts, got %+v", summary)
		}
		if summary.SuccessRate != 0 {
			t.Errorf("expected success rate 0, got %v", summary.SuccessRate)
		}
		if progressCalls.Load() != 0 {
			t.Errorf("expected no progress for empty run, got %d", progressCalls.Load())
		}
	})

	t.Run("probes every candidate exactly once", func(t *testing.T) {
		t.Parallel()

		var mu sync.Mutex
		seen := make(map[model.Candidate]int)
		probe := func(_ context.Context, c model.Candidate) model.ProbeResult {
			mu.Lock()
			seen[c]++
			mu.Unlock()
			return model.Failed(c, model.ReasonTimeout)
		}

		candidates := makeCandidates(237)
		r, _ := NewRunner(probe, WithConcurrency(16), WithLogger(discardLogger())) //nolint:errcheck // options are valid

		summary, err := r.Run(context.Background(), candidates)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if summary.Tested != len(candidates) {
			t.Errorf("expected tested %d, got %d", len(candidates), summary.Tested)
		}

		mu.Lock()
		defer mu.Unlock()
		if len(seen) != len(candidates) {
			t.Errorf("expected %d distinct probes, got %d", len(candidates), len(seen))
		}
		for c, n := range seen {
			if n != 1 {
				t.Errorf("candidate %s probed %d times", c, n)
			}
		}
	})

	t.Run("respects concurrency limit", func(t *testing.T) {
		t.Parallel()

		var current, maxSeen atomic.Int32
		probe := func(_ context.Context, c model.Candidate) model.ProbeResult {
			n := current.Add(1)
			for {
				old := maxSeen.Load()
				if n <= old || maxSeen.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			current.Add(-1)
			return model.Failed(c, model.ReasonTimeout)
		}

		r, _ := NewRunner(probe, WithConcurrency(3), WithLogger(discardLogger())) //nolint:errcheck // options are valid
		if _, err := r.Run(context.Background(), makeCandidates(30)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if maxSeen.Load() > 3 {
			t.Errorf("max concurrent was %d, expected <= 3", maxSeen.Load())
		}
		if maxSeen.Load() < 2 {
			t.Errorf("expected probes to overlap, max concurrent was %d", maxSeen.Load())
		}
	})

	t.Run("working list follows completion order", func(t *testing.T) {
		t.Parallel()

		delays := map[model.Candidate]time.Duration{
			"1.1.1.1:80": 300 * time.Millisecond,
			"2.2.2.2:80": 10 * time.Millisecond,
			"3.3.3.3:80": 150 * time.Millisecond,
		}
		probe := func(_ context.Context, c model.Candidate) model.ProbeResult {
			time.Sleep(delays[c])
			return model.ProbeResult{Candidate: c, Outcome: model.OutcomeWorking}
		}

		r, _ := NewRunner(probe, WithConcurrency(3), WithLogger(discardLogger())) //nolint:errcheck // options are valid
		summary, err := r.Run(context.Background(), []model.Candidate{"1.1.1.1:80", "2.2.2.2:80", "3.3.3.3:80"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		want := []model.Candidate{"2.2.2.2:80", "3.3.3.3:80", "1.1.1.1:80"}
		if !reflect.DeepEqual(summary.WorkingProxies, want) {
			t.Errorf("expected completion order %v, got %v", want, summary.WorkingProxies)
		}
	})

	t.Run("hanging probe is forced to failed", func(t *testing.T) {
		t.Parallel()

		release := make(chan struct{})
		t.Cleanup(func() { close(release) })

		probe := func(_ context.Context, c model.Candidate) model.ProbeResult {
			if c == "9.9.9.9:99" {
				<-release // ignores its context on purpose
			}
			return model.ProbeResult{Candidate: c, Outcome: model.OutcomeWorking}
		}

		r, _ := NewRunner(probe, //nolint:errcheck // options are valid
			WithConcurrency(2),
			WithProbeDeadline(50*time.Millisecond),
			WithLogger(discardLogger()),
		)

		done := make(chan *model.RunSummary, 1)
		go func() {
			summary, _ := r.Run(context.Background(), []model.Candidate{"9.9.9.9:99", "1.2.3.4:80"}) //nolint:errcheck // checked via summary
			done <- summary
		}()

		select {
		case summary := <-done:
			if summary.Tested != 2 || summary.Working != 1 || summary.Failed != 1 {
				t.Errorf("unexpected counts: %+v", summary)
			}
			if summary.Reasons["timeout"] != 1 {
				t.Errorf("expected hanging probe to fail with timeout, got %v", summary.Reasons)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("run did not complete while a probe was hanging")
		}
	})

	t.Run("deadline cancels the context of a slow probe", func(t *testing.T) {
		t.Parallel()

		var running atomic.Int32
		observed := make(chan error, 3)
		probe := func(ctx context.Context, c model.Candidate) model.ProbeResult {
			running.Add(1)
			defer running.Add(-1)
			<-ctx.Done()
			observed <- ctx.Err()
			return model.Failed(c, model.ReasonTimeout)
		}

		r, _ := NewRunner(probe, //nolint:errcheck // options are valid
			WithConcurrency(1),
			WithProbeDeadline(30*time.Millisecond),
			WithLogger(discardLogger()),
		)

		summary, err := r.Run(context.Background(), makeCandidates(3))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if summary.Tested != 3 || summary.Reasons["timeout"] != 3 {
			t.Errorf("unexpected summary: %+v", summary)
		}

		for range 3 {
			select {
			case got := <-observed:
				if !errors.Is(got, context.DeadlineExceeded) {
					t.Errorf("expected deadline exceeded, got %v", got)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("probe never saw its context end")
			}
		}
		deadline := time.Now().Add(5 * time.Second)
		for running.Load() != 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		if n := running.Load(); n != 0 {
			t.Errorf("expected every probe call to return, %d still running", n)
		}
	})

	t.Run("panicking probe is recorded as failed", func(t *testing.T) {
		t.Parallel()

		probe := func(_ context.Context, c model.Candidate) model.ProbeResult {
			if c == "6.6.6.6:666" {
				panic("probe exploded")
			}
			return model.ProbeResult{Candidate: c, Outcome: model.OutcomeWorking}
		}

		r, _ := NewRunner(probe, WithLogger(discardLogger())) //nolint:errcheck // options are valid
		summary, err := r.Run(context.Background(), []model.Candidate{"6.6.6.6:666", "1.2.3.4:80"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if summary.Working != 1 || summary.Failed != 1 {
			t.Errorf("unexpected counts: %+v", summary)
		}
		if summary.Reasons["internal error"] != 1 {
			t.Errorf("expected internal error reason, got %v", summary.Reasons)
		}
	})

	t.Run("cancellation returns partial summary", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var calls atomic.Int32
		probe := func(_ context.Context, c model.Candidate) model.ProbeResult {
			if calls.Add(1) == 1 {
				cancel()
				time.Sleep(20 * time.Millisecond)
			}
			return model.ProbeResult{Candidate: c, Outcome: model.OutcomeWorking}
		}

		r, _ := NewRunner(probe, WithConcurrency(1), WithLogger(discardLogger())) //nolint:errcheck // options are valid
		summary, err := r.Run(ctx, makeCandidates(20))

		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if summary == nil {
			t.Fatal("expected a partial summary")
		}
		if !summary.Cancelled {
			t.Error("expected summary to be marked cancelled")
		}
		if summary.Tested < 1 || summary.Tested >= 20 {
			t.Errorf("expected partial completion, tested %d", summary.Tested)
		}
		if summary.Tested != summary.Working+summary.Failed {
			t.Errorf("counter invariant broken: %+v", summary)
		}
		if int(calls.Load()) != summary.Tested {
			t.Errorf("in-flight probe was not recorded: calls %d tested %d", calls.Load(), summary.Tested)
		}
	})

	t.Run("launch rate still completes", func(t *testing.T) {
		t.Parallel()

		r, _ := NewRunner(verdictProbe(), //nolint:errcheck // options are valid
			WithLaunchRate(1000),
			WithConcurrency(4),
			WithLogger(discardLogger()),
		)
		summary, err := r.Run(context.Background(), makeCandidates(10))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if summary.Tested != 10 {
			t.Errorf("expected 10 tested, got %d", summary.Tested)
		}
	})
}

// TestRunnerCallbacks tests progress and success notifications.
func TestRunnerCallbacks(t *testing.T) {
	t.Parallel()

	t.Run("snapshots keep tested equal to working plus failed", func(t *testing.T) {
		t.Parallel()

		candidates := makeCandidates(57)
		working := []model.Candidate{candidates[3], candidates[17], candidates[40]}

		var mu sync.Mutex
		var snaps []model.Snapshot
		r, _ := NewRunner(verdictProbe(working...), //nolint:errcheck // options are valid
			WithConcurrency(8),
			WithLogger(discardLogger()),
			WithOnProgress(func(s model.Snapshot) error {
				mu.Lock()
				snaps = append(snaps, s)
				mu.Unlock()
				return nil
			}),
		)

		if _, err := r.Run(context.Background(), candidates); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		mu.Lock()
		defer mu.Unlock()
		if len(snaps) == 0 {
			t.Fatal("expected progress snapshots")
		}
		for i, s := range snaps {
			if s.Tested != s.Working+s.Failed {
				t.Errorf("snapshot %d broke invariant: %+v", i, s)
			}
			if s.Total != len(candidates) {
				t.Errorf("snapshot %d has total %d", i, s.Total)
			}
			if i > 0 && s.Tested <= snaps[i-1].Tested {
				t.Errorf("snapshots not monotonic at %d: %d after %d", i, s.Tested, snaps[i-1].Tested)
			}
		}
		last := snaps[len(snaps)-1]
		if last.Tested != last.Total || last.Working != 3 {
			t.Errorf("unexpected final snapshot: %+v", last)
		}
	})

	t.Run("emits every kth completion when nothing works", func(t *testing.T) {
		t.Parallel()

		var mu sync.Mutex
		var tested []int
		r, _ := NewRunner(verdictProbe(), //nolint:errcheck // options are valid
			WithConcurrency(1),
			WithProgressEvery(10),
			WithLogger(discardLogger()),
			WithOnProgress(func(s model.Snapshot) error {
				mu.Lock()
				tested = append(tested, s.Tested)
				mu.Unlock()
				return nil
			}),
		)

		if _, err := r.Run(context.Background(), makeCandidates(25)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		mu.Lock()
		defer mu.Unlock()
		want := []int{10, 20, 25}
		if !reflect.DeepEqual(tested, want) {
			t.Errorf("expected snapshots at %v, got %v", want, tested)
		}
	})

	t.Run("success callback fires once per working candidate", func(t *testing.T) {
		t.Parallel()

		candidates := makeCandidates(40)
		working := candidates[:12]

		var mu sync.Mutex
		got := make(map[model.Candidate]int)
		r, _ := NewRunner(verdictProbe(working...), //nolint:errcheck // options are valid
			WithConcurrency(6),
			WithLogger(discardLogger()),
			WithOnSuccess(func(c model.Candidate) error {
				mu.Lock()
				got[c]++
				mu.Unlock()
				return nil
			}),
		)

		summary, err := r.Run(context.Background(), candidates)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		mu.Lock()
		defer mu.Unlock()
		if len(got) != len(working) {
			t.Errorf("expected %d success notifications, got %d", len(working), len(got))
		}
		for c, n := range got {
			if n != 1 {
				t.Errorf("candidate %s notified %d times", c, n)
			}
		}
		if summary.Working != len(working) {
			t.Errorf("expected %d working, got %d", len(working), summary.Working)
		}
	})

	t.Run("failing and panicking callbacks do not abort the run", func(t *testing.T) {
		t.Parallel()

		candidates := makeCandidates(30)
		r, _ := NewRunner(verdictProbe(candidates[:5]...), //nolint:errcheck // options are valid
			WithConcurrency(4),
			WithLogger(discardLogger()),
			WithOnProgress(func(model.Snapshot) error {
				return errors.New("message edit rejected")
			}),
			WithOnSuccess(func(model.Candidate) error {
				panic("forwarding blew up")
			}),
		)

		summary, err := r.Run(context.Background(), candidates)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if summary.Tested != 30 || summary.Working != 5 {
			t.Errorf("run was disturbed by callbacks: %+v", summary)
		}
	})
}
