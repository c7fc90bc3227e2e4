package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dyike/cortexflow/internal/errs"
)

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func TestDoRetriesTransient(t *testing.T) {
	calls := 0
	var retried []int
	p := fastPolicy(3)
	p.OnRetry = func(op string, attempt int, err error) { retried = append(retried, attempt) }

	err := Do(context.Background(), p, "invoke", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errs.Transient("invoke", errors.New("connection reset"))
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, []int{1, 2}, retried)
}

func TestDoExhaustedIsFatal(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(2), "invoke", func(ctx context.Context) error {
		calls++
		return errors.New("503 unavailable")
	})
	require.Error(t, err)
	require.Equal(t, 2, calls)
	require.True(t, errs.IsFatal(err))
	require.Equal(t, errs.CodeRetryExhausted, errs.CodeOf(err))
}

func TestDoDoesNotRetryValidation(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5), "parse", func(ctx context.Context) error {
		calls++
		return errs.Validation("parse", errors.New("garbage"))
	})
	require.True(t, errs.IsValidation(err))
	require.Equal(t, 1, calls)
}

func TestDoPerCallTimeoutIsTransient(t *testing.T) {
	p := fastPolicy(2)
	p.Timeout = 10 * time.Millisecond
	calls := 0
	v, err := DoValue(context.Background(), p, "slow", func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", v)
	require.Equal(t, 2, calls)
}

func TestDoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, fastPolicy(3), "invoke", func(ctx context.Context) error { return nil })
	require.Equal(t, errs.CodeCancelled, errs.CodeOf(err))
}

func TestDelayIsCapped(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 2}
	require.Equal(t, time.Duration(0), p.Delay(0))
	require.Equal(t, time.Second, p.Delay(1))
	require.Equal(t, 2*time.Second, p.Delay(2))
	require.Equal(t, 3*time.Second, p.Delay(3))
}
