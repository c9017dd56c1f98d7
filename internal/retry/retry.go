// Package retry wraps external calls with rate-limit-aware retries. Only
// rate-limit-class errors are retried; everything else propagates on first
// occurrence.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"portraitserver/internal/domain"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseSleep  = 8 * time.Second
)

// waitMessages are shown to users while we back off. They rotate by attempt
// number and deliberately say nothing about which provider is throttling us.
var waitMessages = []string{
	"Polishing the studio lights, one moment...",
	"Letting the camera cool down between shots...",
	"Steaming the backdrop so it hangs just right...",
	"Swapping in a fresh roll of film...",
	"Adjusting the reflectors for a better angle...",
}

// WaitMessage returns the deterministic wait notice for the given retry
// attempt (1-based).
func WaitMessage(attempt int) string {
	if attempt < 1 {
		attempt = 1
	}
	return waitMessages[(attempt-1)%len(waitMessages)]
}

// OnRetry is invoked before each backoff sleep with the 1-based retry attempt
// and the rounded number of seconds the executor is about to wait.
type OnRetry func(attempt int, waitSeconds int)

// Executor retries an operation on rate-limit errors with jittered backoff.
type Executor struct {
	MaxRetries int
	BaseSleep  time.Duration
	Logger     zerolog.Logger

	// sleep and jitter are injectable for tests.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

// New constructs an Executor with defaults applied for non-positive settings.
func New(maxRetries int, baseSleep time.Duration, logger zerolog.Logger) *Executor {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	if baseSleep <= 0 {
		baseSleep = DefaultBaseSleep
	}
	return &Executor{
		MaxRetries: maxRetries,
		BaseSleep:  baseSleep,
		Logger:     logger,
		sleep:      sleepCtx,
		jitter:     rand.Float64,
	}
}

// Do runs op, retrying up to MaxRetries times on rate-limit errors. onRetry
// may be nil. The original rate-limit error is returned once retries are
// exhausted; non-rate-limit errors are returned immediately.
func (e *Executor) Do(ctx context.Context, name string, op func(ctx context.Context) error, onRetry OnRetry) error {
	retries := 0
	for {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !domain.IsRateLimit(err) {
			return err
		}
		retries++
		if retries > e.MaxRetries {
			e.Logger.Warn().Str("op", name).Int("retries", retries-1).Msg("retry: rate limit retries exhausted")
			return err
		}

		sleep := e.BaseSleep + time.Duration(e.jitter()*0.5*float64(e.BaseSleep))
		waitSeconds := int(math.Round(sleep.Seconds()))
		e.Logger.Info().
			Str("op", name).
			Int("attempt", retries).
			Int("wait_seconds", waitSeconds).
			Msg("retry: rate limited, backing off")
		if onRetry != nil {
			onRetry(retries, waitSeconds)
		}
		if err := e.sleep(ctx, sleep); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
