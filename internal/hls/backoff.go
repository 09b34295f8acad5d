package hls

import (
	"context"
	"time"
)

// BackoffOptions tunes RunWithBackoff.
type BackoffOptions struct {
	StartInterval time.Duration // gap before the first scheduled retry; doubles afterwards
	MaxRetry      int           // scheduled attempts beyond the immediate one
}

const (
	defaultBackoffInterval = time.Second
	defaultBackoffRetries  = 10
)

// Attempt is one try of a retryable operation. elapsed is the offset at
// which the attempt was scheduled relative to the first one; retry is its
// ordinal (0 for the immediate attempt).
type Attempt[T any] func(ctx context.Context, elapsed time.Duration, retry int) (T, error)

// RunWithBackoff races a retryable operation against a binary exponential
// schedule: the first attempt starts immediately, further attempts start
// after gaps of StartInterval, 2*StartInterval, 4*StartInterval, ... up to
// MaxRetry scheduled attempts. Attempts run concurrently; the first one to
// succeed wins and cancels the rest of the schedule. When every attempt
// fails, the first recorded error is returned. Attempts must therefore be
// idempotent in their side effects.
func RunWithBackoff[T any](ctx context.Context, attempt Attempt[T], opts BackoffOptions) (T, error) {
	interval := opts.StartInterval
	if interval <= 0 {
		interval = defaultBackoffInterval
	}
	maxRetry := opts.MaxRetry
	if maxRetry <= 0 {
		maxRetry = defaultBackoffRetries
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	results := make(chan outcome, maxRetry+1)
	launch := func(elapsed time.Duration, retry int) {
		go func() {
			value, err := attempt(runCtx, elapsed, retry)
			results <- outcome{value: value, err: err}
		}()
	}

	launch(0, 0)

	// The scheduler reports how many retries it actually launched so the
	// collector knows when every in-flight attempt has been drained.
	scheduled := make(chan int, 1)
	go func() {
		launched := 0
		defer func() { scheduled <- launched }()
		gap := interval
		elapsed := time.Duration(0)
		timer := time.NewTimer(gap)
		defer timer.Stop()
		for retry := 1; retry <= maxRetry; retry++ {
			select {
			case <-runCtx.Done():
				return
			case <-timer.C:
			}
			elapsed += gap
			launch(elapsed, retry)
			launched++
			gap *= 2
			timer.Reset(gap)
		}
	}()

	var zero T
	var firstErr error
	launched := 1
	schedulerDone := false
	finished := 0
	for {
		if schedulerDone && finished == launched {
			return zero, firstErr
		}
		select {
		case n := <-scheduled:
			launched += n
			schedulerDone = true
		case res := <-results:
			finished++
			if res.err == nil {
				return res.value, nil
			}
			if firstErr == nil {
				firstErr = res.err
			}
		}
	}
}
