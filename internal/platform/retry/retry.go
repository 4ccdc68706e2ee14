// Package retry runs an operation with exponential backoff on an injectable clock.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// Action tells Do how to continue after a failed attempt.
type Action int

const (
	Stop  Action = iota // permanent error, abort immediately
	Retry               // transient error, use normal backoff
	Later               // environment not ready yet, wait SlowBackoff
)

type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	SlowBackoff    time.Duration
	MaxBackoff     time.Duration // 0 means uncapped
	Clock          clockwork.Clock
	OnRetry        func(attempt int, err error, backoff time.Duration)
}

type Classify func(err error) Action

// Do calls op until it succeeds, classify returns Stop, the attempts are used
// up or ctx is done. A policy with MaxAttempts below 1 makes a single attempt.
func Do[T any](ctx context.Context, p Policy, classify Classify, op func() (T, error)) (T, error) {
	var zero T

	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	attempts := max(p.MaxAttempts, 1)
	backoff := p.InitialBackoff

	for attempt := 1; ; attempt++ {
		val, err := op()
		if err == nil {
			return val, nil
		}

		action := classify(err)
		switch {
		case action == Stop:
			return zero, &PermanentError{Err: err}
		case attempt >= attempts:
			return zero, fmt.Errorf("failed after %d attempts: %w", attempts, err)
		}

		wait := backoff
		if action == Later && p.SlowBackoff > wait {
			wait = p.SlowBackoff
		}
		if p.MaxBackoff > 0 {
			wait = min(wait, p.MaxBackoff)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}

		timer := clock.NewTimer(wait)
		select {
		case <-timer.Chan():
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
		backoff *= 2
	}
}

// PermanentError wraps the error that made Do give up early.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }
