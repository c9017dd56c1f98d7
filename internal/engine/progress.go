package engine

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// ProgressSink receives progress updates destined for whatever observes job
// status externally (typically the jobs table).
type ProgressSink interface {
	UpdateProgress(ctx context.Context, jobID string, percent int, message string) error
}

// ProgressReporter keeps a per-job high-water mark so externally observed
// progress never decreases, no matter which internal path pushes an update.
type ProgressReporter struct {
	mu     sync.Mutex
	high   map[string]int
	sink   ProgressSink
	logger zerolog.Logger
}

// NewProgressReporter wires a reporter to its sink.
func NewProgressReporter(sink ProgressSink, logger zerolog.Logger) *ProgressReporter {
	return &ProgressReporter{
		high:   make(map[string]int),
		sink:   sink,
		logger: logger,
	}
}

// Update emits progress for jobID. The emitted percentage is the max of
// target and the recorded high-water mark; nothing is emitted unless target
// exceeds the mark or force is set (used for message-only refreshes such as
// rate-limit wait notices). Sink failures are logged, never propagated:
// progress is advisory and must not abort generation.
func (r *ProgressReporter) Update(ctx context.Context, jobID string, target int, message string, force bool) {
	r.mu.Lock()
	high := r.high[jobID]
	emit := force || target > high
	actual := target
	if actual < high {
		actual = high
	}
	if emit {
		r.high[jobID] = actual
	}
	r.mu.Unlock()

	if !emit {
		return
	}
	if err := r.sink.UpdateProgress(ctx, jobID, actual, message); err != nil {
		r.logger.Warn().Err(err).Str("job_id", jobID).Msg("progress: sink update failed")
	}
}

// Cleanup drops the in-memory mark once a job terminates.
func (r *ProgressReporter) Cleanup(jobID string) {
	r.mu.Lock()
	delete(r.high, jobID)
	r.mu.Unlock()
}
