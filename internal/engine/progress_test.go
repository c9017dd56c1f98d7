package engine

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

type recordedUpdate struct {
	JobID   string
	Percent int
	Message string
}

type recordingSink struct {
	mu      sync.Mutex
	updates []recordedUpdate
	err     error
}

func (s *recordingSink) UpdateProgress(ctx context.Context, jobID string, percent int, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, recordedUpdate{jobID, percent, message})
	return s.err
}

func (s *recordingSink) all() []recordedUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedUpdate{}, s.updates...)
}

func newTestReporter() (*ProgressReporter, *recordingSink) {
	sink := &recordingSink{}
	return NewProgressReporter(sink, zerolog.New(io.Discard)), sink
}

func TestUpdateEmitsNonDecreasingPercentages(t *testing.T) {
	r, sink := newTestReporter()
	ctx := context.Background()

	for _, p := range []int{10, 40, 25, 60, 5, 60, 90} {
		r.Update(ctx, "job-1", p, "working", false)
	}

	updates := sink.all()
	last := -1
	for _, u := range updates {
		if u.Percent < last {
			t.Fatalf("progress regressed: %v", updates)
		}
		last = u.Percent
	}
	if last != 90 {
		t.Fatalf("final percent = %d, want 90", last)
	}
	// Lower targets must not have emitted at all without force.
	if len(updates) != 4 {
		t.Fatalf("emitted %d updates, want 4 (10,40,60,90): %v", len(updates), updates)
	}
}

func TestForceEmitsHighWaterMarkNotLowerTarget(t *testing.T) {
	r, sink := newTestReporter()
	ctx := context.Background()

	r.Update(ctx, "job-1", 70, "generating", false)
	r.Update(ctx, "job-1", 30, "waiting for a free slot", true)

	updates := sink.all()
	if len(updates) != 2 {
		t.Fatalf("emitted %d updates, want 2", len(updates))
	}
	if updates[1].Percent != 70 {
		t.Fatalf("forced update percent = %d, want held 70", updates[1].Percent)
	}
	if updates[1].Message != "waiting for a free slot" {
		t.Fatalf("forced update message = %q", updates[1].Message)
	}
}

func TestJobsTrackIndependentMarks(t *testing.T) {
	r, sink := newTestReporter()
	ctx := context.Background()

	r.Update(ctx, "job-1", 80, "a", false)
	r.Update(ctx, "job-2", 20, "b", false)

	updates := sink.all()
	if len(updates) != 2 || updates[1].Percent != 20 {
		t.Fatalf("cross-job mark leakage: %v", updates)
	}
}

func TestCleanupResetsMark(t *testing.T) {
	r, sink := newTestReporter()
	ctx := context.Background()

	r.Update(ctx, "job-1", 100, "done", false)
	r.Cleanup("job-1")
	r.Update(ctx, "job-1", 10, "restarted", false)

	updates := sink.all()
	if len(updates) != 2 || updates[1].Percent != 10 {
		t.Fatalf("mark survived cleanup: %v", updates)
	}
}

func TestSinkFailureDoesNotPropagate(t *testing.T) {
	sink := &recordingSink{err: errors.New("db down")}
	r := NewProgressReporter(sink, zerolog.New(io.Discard))

	// Must not panic or block; failures are advisory.
	r.Update(context.Background(), "job-1", 50, "working", false)
	if len(sink.all()) != 1 {
		t.Fatalf("sink not invoked")
	}
}
