package usecase

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"AsmrPipeline/internal/domain"
)

// RetryPolicy bounds repeated attempts of a single pipeline stage. Only
// failures classified Transient are retried; anything else surfaces on the
// first attempt.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration

	// sleep is swappable for tests; defaults to a context-aware wait.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy builds a policy with exponential backoff (base 2, jitter).
func NewRetryPolicy(maxAttempts int, initialBackoff time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    maxAttempts,
		InitialBackoff: initialBackoff,
		sleep:          sleepContext,
	}
}

// Do invokes fn until it succeeds, fails permanently, or attempts run out.
// The returned error is the last failure observed.
func (p RetryPolicy) Do(ctx context.Context, stage string, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !domain.IsTransient(lastErr) {
			return fmt.Errorf("%s: %w", stage, lastErr)
		}
		if attempt == attempts {
			break
		}
		if err := p.wait(ctx, attempt); err != nil {
			return fmt.Errorf("%s: %w", stage, err)
		}
	}

	return fmt.Errorf("%s: retries exhausted after %d attempts: %w", stage, attempts, lastErr)
}

func (p RetryPolicy) wait(ctx context.Context, attempt int) error {
	backoff := p.InitialBackoff << (attempt - 1)
	// Full jitter on top of the exponential step.
	backoff += time.Duration(rand.Int63n(int64(p.InitialBackoff) + 1))
	if p.sleep == nil {
		p.sleep = sleepContext
	}
	return p.sleep(ctx, backoff)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
