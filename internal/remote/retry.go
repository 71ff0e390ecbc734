// Package remote wraps the document and issue gateways with bounded
// exponential backoff. Reads and writes have separate retry budgets.
package remote

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"time"

	"github.com/Mschirtzinger/tasksync/internal/config"
	"github.com/Mschirtzinger/tasksync/internal/core"
)

// RetryPolicy is bounded exponential backoff with jitter.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      float64 // fraction of the delay, 0..1

	// Retryable decides whether an error is worth another attempt.
	// Defaults to core.IsRetryable.
	Retryable func(error) bool

	// Sleep waits between attempts; nil uses a timer honouring ctx.
	Sleep func(ctx context.Context, d time.Duration) error

	Logger *log.Logger
}

// PolicyFromConfig builds a policy from one configured retry budget.
func PolicyFromConfig(c config.RetryPolicyConfig, logger *log.Logger) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   c.BaseDelay,
		MaxDelay:    c.MaxDelay,
		Multiplier:  c.Multiplier,
		Jitter:      c.Jitter,
		Logger:      logger,
	}
}

// Delay returns the wait before attempt n+1, without jitter.
func (p RetryPolicy) Delay(n int) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 2
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(n-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d)
}

func (p RetryPolicy) jittered(d time.Duration) time.Duration {
	if p.Jitter <= 0 || d <= 0 {
		return d
	}
	spread := float64(d) * p.Jitter
	return time.Duration(float64(d) - spread + rand.Float64()*2*spread)
}

// Do runs fn until it succeeds, fails with a non-retryable error, the
// attempts are used up or ctx is done. The last error is returned.
func Do[T any](ctx context.Context, p RetryPolicy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = core.IsRetryable
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !retryable(err) || attempt == attempts {
			break
		}
		d := p.jittered(p.Delay(attempt))
		if p.Logger != nil {
			p.Logger.Printf("%s: attempt %d/%d failed, retrying in %v: %v", op, attempt, attempts, d.Round(time.Millisecond), err)
		}
		if err := sleep(ctx, d); err != nil {
			return zero, err
		}
	}
	return zero, fmt.Errorf("%s: %w", op, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
