package chain

import (
	"context"
	"errors"
	"testing"
	"time"
)

// instantTimer fires immediately so retry tests run without real sleeps.
type instantTimer struct {
	ch chan time.Time
}

func newInstantTimer() *instantTimer {
	return &instantTimer{ch: make(chan time.Time, 1)}
}

func (t *instantTimer) Start(time.Duration) {
	select {
	case t.ch <- time.Now():
	default:
	}
}

func (t *instantTimer) C() <-chan time.Time { return t.ch }

func (t *instantTimer) Stop() {}

func testPolicy(maxAttempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
		Timer:       newInstantTimer(),
	}
}

func TestRetryTransientExhaustion(t *testing.T) {
	calls := 0
	err := testPolicy(3).Run(context.Background(), "test_op", func(context.Context) error {
		calls++
		return &TransientError{Op: "test_op", Err: errors.New("flaky upstream")}
	})

	var syncErr *SyncError
	if !errors.As(err, &syncErr) {
		t.Fatalf("got %v, want SyncError", err)
	}
	if calls != 3 {
		t.Fatalf("made %d calls, want 3", calls)
	}
	if syncErr.Attempts != 3 {
		t.Fatalf("reported %d attempts, want 3", syncErr.Attempts)
	}
}

func TestRetryPermanentStopsImmediately(t *testing.T) {
	calls := 0
	err := testPolicy(5).Run(context.Background(), "test_op", func(context.Context) error {
		calls++
		return &PermanentError{Op: "test_op", Err: errors.New("bad request")}
	})

	var permErr *PermanentError
	if !errors.As(err, &permErr) {
		t.Fatalf("got %v, want PermanentError", err)
	}
	if calls != 1 {
		t.Fatalf("made %d calls, want 1", calls)
	}
}

func TestRetryRecoversAfterTransient(t *testing.T) {
	calls := 0
	err := testPolicy(5).Run(context.Background(), "test_op", func(context.Context) error {
		calls++
		if calls < 3 {
			return &TransientError{Op: "test_op", Err: errors.New("flaky upstream")}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("made %d calls, want 3", calls)
	}
}

func TestRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := testPolicy(5).Run(ctx, "test_op", func(context.Context) error {
		calls++
		return &TransientError{Op: "test_op", Err: errors.New("flaky upstream")}
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("made %d calls, want 1", calls)
	}
}
