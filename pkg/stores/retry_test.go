package stores

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryPolicy_Delay(t *testing.T) {
	p := DefaultRetryPolicy()
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, w := range want {
		if got := p.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
	if got := p.Delay(0); got != 0 {
		t.Errorf("Delay(0) = %v, want 0", got)
	}
}

func TestRetryPolicy_Budget(t *testing.T) {
	// 5 attempts x 10s + (1+2+4+8)s of sleeps
	if got, want := DefaultRetryPolicy().Budget(), 65*time.Second; got != want {
		t.Errorf("Budget() = %v, want %v", got, want)
	}
}

func TestRetryPolicy_Normalized(t *testing.T) {
	p := RetryPolicy{}.normalized()
	if p.MaxAttempts != 1 {
		t.Errorf("MaxAttempts = %d, want 1", p.MaxAttempts)
	}
	if p.Multiplier != 2 {
		t.Errorf("Multiplier = %v, want 2", p.Multiplier)
	}
	if p.AttemptTimeout <= 0 {
		t.Errorf("AttemptTimeout = %v, want positive", p.AttemptTimeout)
	}
}

func TestRunWithRetry_SucceedsOnNthAttempt(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, Multiplier: 2, AttemptTimeout: time.Second}

	for n := 1; n <= policy.MaxAttempts; n++ {
		timer := &recordingTimer{}
		ex := NewExecutor(policy, true, nil, nil)
		ex.SetTimer(timer)

		calls := 0
		got, err := RunWithRetry(context.Background(), ex, "execute", KindStatement, func(ctx context.Context, attempt int) Outcome[int] {
			calls++
			if attempt != calls {
				t.Errorf("attempt = %d, want %d", attempt, calls)
			}
			if attempt < n {
				return Retry[int](errors.New("transient"))
			}
			return Succeed(attempt)
		})
		if err != nil {
			t.Fatalf("n=%d: RunWithRetry() error = %v", n, err)
		}
		if got != n || calls != n {
			t.Errorf("n=%d: got value %d after %d calls", n, got, calls)
		}

		delays := timer.Delays()
		if len(delays) != n-1 {
			t.Fatalf("n=%d: %d sleeps, want %d", n, len(delays), n-1)
		}
		for k, d := range delays {
			if want := policy.Delay(k + 1); d != want {
				t.Errorf("n=%d: sleep %d = %v, want %v", n, k+1, d, want)
			}
		}
	}
}

func TestRunWithRetry_AttemptHasDeadline(t *testing.T) {
	ex := NewExecutor(RetryPolicy{MaxAttempts: 1, AttemptTimeout: time.Second}, true, nil, nil)

	_, err := RunWithRetry(context.Background(), ex, "execute", KindStatement, func(ctx context.Context, attempt int) Outcome[struct{}] {
		deadline, ok := ctx.Deadline()
		if !ok {
			t.Error("attempt context has no deadline")
		} else if time.Until(deadline) > time.Second {
			t.Errorf("attempt deadline %v is beyond the attempt timeout", time.Until(deadline))
		}
		return Succeed(struct{}{})
	})
	if err != nil {
		t.Fatalf("RunWithRetry() error = %v", err)
	}
}

func TestRunWithRetry_Exhaustion(t *testing.T) {
	cause := errors.New("connection reset")

	tests := []struct {
		name    string
		strict  bool
		wantErr bool
	}{
		{name: "strict propagates", strict: true, wantErr: true},
		{name: "permissive degrades", strict: false, wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			timer := &recordingTimer{}
			ex := NewExecutor(testRetryPolicy(), tt.strict, nil, nil)
			ex.SetTimer(timer)

			calls := 0
			rows, err := RunWithRetry(context.Background(), ex, "execute", KindStatement, func(ctx context.Context, attempt int) Outcome[[]Row] {
				calls++
				return Retry[[]Row](cause)
			})

			if calls != 3 {
				t.Errorf("calls = %d, want 3", calls)
			}
			if rows != nil {
				t.Errorf("rows = %v, want nil", rows)
			}
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("err = %v, want nil", err)
				}
				return
			}

			var se *StoreError
			if !errors.As(err, &se) {
				t.Fatalf("err = %v, want *StoreError", err)
			}
			if se.Kind != KindStatement || se.Attempts != 3 {
				t.Errorf("got kind=%s attempts=%d", se.Kind, se.Attempts)
			}
			if !errors.Is(err, ErrStatement) || !errors.Is(err, cause) {
				t.Errorf("err %v does not match ErrStatement and its cause", err)
			}
		})
	}
}

func TestRunWithRetry_FailStopsImmediately(t *testing.T) {
	ex := NewExecutor(testRetryPolicy(), true, nil, nil)
	ex.SetTimer(&recordingTimer{})

	calls := 0
	_, err := RunWithRetry(context.Background(), ex, "transaction", KindTransaction, func(ctx context.Context, attempt int) Outcome[bool] {
		calls++
		return Fail[bool](errors.New("constraint violated"))
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !errors.Is(err, ErrTransaction) {
		t.Errorf("err = %v, want transaction error", err)
	}
}

func TestRunWithRetry_ConfigurationErrorAlwaysPropagates(t *testing.T) {
	ex := NewExecutor(testRetryPolicy(), false, nil, nil)
	ex.SetTimer(&recordingTimer{})

	_, err := RunWithRetry(context.Background(), ex, "switch", KindConnection, func(ctx context.Context, attempt int) Outcome[bool] {
		return Fail[bool](configurationError("switch", "missing host"))
	})
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("err = %v, want configuration error in permissive mode", err)
	}
}

func TestRunWithRetry_CancelledContext(t *testing.T) {
	ex := NewExecutor(testRetryPolicy(), true, nil, nil)
	ex.SetTimer(&recordingTimer{})

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := RunWithRetry(ctx, ex, "execute", KindStatement, func(ctx context.Context, attempt int) Outcome[int] {
		calls++
		cancel()
		return Retry[int](errors.New("transient"))
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled in chain", err)
	}
}
