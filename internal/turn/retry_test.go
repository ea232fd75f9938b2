package turn

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryPolicy_SucceedsFirstAttempt(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{MaxAttempts: 3}
	attempts, err := p.Do(context.Background(), func(context.Context, int) error {
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetryPolicy_RecoversWithinBudget(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{MaxAttempts: 2}
	attempts, err := p.Do(context.Background(), func(_ context.Context, attempt int) error {
		if attempt == 0 {
			return errors.New("malformed")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestRetryPolicy_ExhaustsBudget(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("still malformed")
	p := RetryPolicy{MaxAttempts: 2}
	attempts, err := p.Do(context.Background(), func(context.Context, int) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestRetryPolicy_ZeroMaxAttemptsBehavesAsOne(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{}
	attempts, err := p.Do(context.Background(), func(context.Context, int) error {
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetryPolicy_ContextCancelStopsRetrying(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	p := RetryPolicy{MaxAttempts: 5, Backoff: time.Hour}

	attempts, err := p.Do(ctx, func(context.Context, int) error {
		cancel()
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}
