package chain

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"migrationScope/internal/metrics"
)

// RetryPolicy bounds how chain calls are retried after transient failures.
// Timer is overridable so tests can run retries without real sleeps.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Logger      *zap.Logger
	Timer       backoff.Timer
}

// DefaultRetryPolicy returns the stock retry settings.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
	}
}

// Run executes fn under the policy. Transient failures are retried with
// exponential backoff until the attempt budget is spent, which yields a
// SyncError. Permanent failures and caller cancellation return immediately.
func (p RetryPolicy) Run(ctx context.Context, op string, fn func(context.Context) error) error {
	log := p.Logger
	if log == nil {
		log = zap.NewNop()
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	attempts := 0
	operation := func() error {
		attempts++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var perm *PermanentError
		if errors.As(err, &perm) || errors.Is(err, context.Canceled) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, d time.Duration) {
		metrics.RPCRetries.Inc()
		log.Warn("chain call retry",
			zap.String("op", op),
			zap.Int("attempt", attempts),
			zap.Duration("delay", d),
			zap.Error(err))
	}

	err := backoff.RetryNotifyWithTimer(operation, p.newBackOff(ctx, maxAttempts), notify, p.Timer)
	if err == nil {
		return nil
	}
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	var perm *PermanentError
	if errors.As(err, &perm) {
		return err
	}
	return &SyncError{Op: op, Attempts: attempts, Err: err}
}

func (p RetryPolicy) newBackOff(ctx context.Context, maxAttempts int) backoff.BackOff {
	base := p.BaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	exp := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(base),
		backoff.WithMaxInterval(maxDelay),
		backoff.WithMaxElapsedTime(0),
	)
	var b backoff.BackOff = backoff.WithMaxRetries(exp, uint64(maxAttempts-1))
	return backoff.WithContext(b, ctx)
}
