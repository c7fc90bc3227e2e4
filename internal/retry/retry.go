package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dyike/cortexflow/config"
	"github.com/dyike/cortexflow/internal/errs"
)

// Policy configures retries of transient failures.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	// Timeout bounds every single attempt. Zero means no per-call timeout.
	Timeout time.Duration
	// OnRetry is called before sleeping ahead of attempt n+1.
	OnRetry func(op string, attempt int, err error)
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    60 * time.Second,
		Multiplier:  2.0,
	}
}

// FromConfig builds a policy from the configured retry policy and stage timeout.
func FromConfig(cfg *config.Config) Policy {
	p := Policy{
		MaxAttempts: cfg.RetryPolicy.MaxAttempts,
		BaseDelay:   cfg.RetryPolicy.Backoff.Std(),
		MaxDelay:    cfg.RetryPolicy.MaxBackoff.Std(),
		Multiplier:  cfg.RetryPolicy.Multiplier,
		Timeout:     cfg.StageTimeout.Std(),
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	return p
}

// Delay returns the backoff before attempt n (n >= 1 is the first retry).
func (p Policy) Delay(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	delay := float64(p.BaseDelay)
	for i := 1; i < n; i++ {
		delay *= p.Multiplier
	}
	d := time.Duration(delay)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Do runs fn until it succeeds, fails with a non-transient error, or the attempt
// budget is spent. An exhausted budget is fatal with code retry_exhausted.
func Do(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func DoValue[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if p.OnRetry != nil {
				p.OnRetry(op, attempt, lastErr)
			}
			if err := sleep(ctx, p.Delay(attempt)); err != nil {
				return zero, errs.Fatal(errs.CodeCancelled, op, err)
			}
		}
		if err := ctx.Err(); err != nil {
			return zero, errs.Fatal(errs.CodeCancelled, op, err)
		}

		v, err := call(ctx, p.Timeout, fn)
		if err == nil {
			return v, nil
		}
		// a deadline of the parent context is cancellation, not a slow call
		if ctx.Err() != nil {
			return zero, errs.Fatal(errs.CodeCancelled, op, err)
		}
		if !errs.IsTransient(err) {
			return zero, err
		}
		lastErr = err
	}
	return zero, errs.Fatal(errs.CodeRetryExhausted, op, fmt.Errorf("max retries exceeded after %d attempts: %w", attempts, lastErr))
}

func call[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	v, err := fn(callCtx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		err = errs.Transient("call", err)
	}
	return v, err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
