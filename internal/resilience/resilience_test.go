package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/edgard/tgarchive/internal/resilience"
)

var (
	errDelay = errors.New("delay")
	errFatal = errors.New("fatal")
)

func TestBounded(t *testing.T) {
	t.Parallel()

	type testCase struct {
		name          string
		failures      []error
		wantAttempts  int
		wantExhausted bool
		wantErr       error
		wantHooks     int
	}

	tests := []testCase{
		{name: "first attempt succeeds", failures: nil, wantAttempts: 1},
		{name: "succeeds on third attempt", failures: []error{errDelay, errDelay}, wantAttempts: 3, wantHooks: 2},
		{name: "exhausted", failures: []error{errDelay, errDelay, errDelay}, wantAttempts: 3, wantExhausted: true, wantErr: resilience.ErrExhaustedRetries, wantHooks: 2},
		{name: "non retryable stops", failures: []error{errDelay, errFatal}, wantAttempts: 2, wantErr: errFatal, wantHooks: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			hooks := 0
			res := resilience.Bounded(context.Background(), resilience.BoundedConfig{
				MaxAttempts: 3,
				Retryable:   func(err error) bool { return errors.Is(err, errDelay) },
				BeforeRetry: func(context.Context, int, error) error {
					hooks++
					return nil
				},
			}, func(_ context.Context, attempt int) error {
				if attempt <= len(tt.failures) {
					return tt.failures[attempt-1]
				}
				return nil
			})

			if res.Attempts != tt.wantAttempts {
				t.Errorf("Attempts = %d, want %d", res.Attempts, tt.wantAttempts)
			}
			if res.Exhausted != tt.wantExhausted {
				t.Errorf("Exhausted = %v, want %v", res.Exhausted, tt.wantExhausted)
			}
			if tt.wantErr == nil && res.Err != nil {
				t.Errorf("Err = %v, want nil", res.Err)
			}
			if tt.wantErr != nil && !errors.Is(res.Err, tt.wantErr) {
				t.Errorf("Err = %v, want %v", res.Err, tt.wantErr)
			}
			if hooks != tt.wantHooks {
				t.Errorf("BeforeRetry calls = %d, want %d", hooks, tt.wantHooks)
			}
		})
	}
}

func TestBoundedHookAborts(t *testing.T) {
	t.Parallel()

	abort := errors.New("operator gave up")
	calls := 0
	res := resilience.Bounded(context.Background(), resilience.BoundedConfig{
		MaxAttempts: 3,
		BeforeRetry: func(context.Context, int, error) error { return abort },
	}, func(context.Context, int) error {
		calls++
		return errDelay
	})

	if calls != 1 || !errors.Is(res.Err, abort) || res.Exhausted {
		t.Fatalf("calls=%d res=%+v", calls, res)
	}
}

func TestForeverRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	var waits []time.Duration
	calls := 0
	err := resilience.Forever(context.Background(),
		resilience.BackoffConfig{InitialInterval: time.Millisecond, MaxInterval: time.Second, Multiplier: 2},
		func(err error) bool { return errors.Is(err, errDelay) },
		func(_ error, wait time.Duration) { waits = append(waits, wait) },
		func(context.Context) error {
			calls++
			if calls < 4 {
				return errDelay
			}
			return nil
		})
	if err != nil {
		t.Fatalf("Forever() error = %v", err)
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
	want := []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond}
	if len(waits) != len(want) {
		t.Fatalf("waits = %v, want %v", waits, want)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Errorf("wait[%d] = %v, want %v", i, waits[i], want[i])
		}
	}
}

func TestForeverStopsOnPermanent(t *testing.T) {
	t.Parallel()

	calls := 0
	err := resilience.Forever(context.Background(),
		resilience.BackoffConfig{InitialInterval: time.Millisecond, MaxInterval: time.Second, Multiplier: 2},
		func(err error) bool { return errors.Is(err, errDelay) },
		nil,
		func(context.Context) error {
			calls++
			return errFatal
		})
	if !errors.Is(err, errFatal) || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestForeverHonoursCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := resilience.Forever(ctx,
		resilience.BackoffConfig{InitialInterval: time.Hour, MaxInterval: time.Hour, Multiplier: 2},
		nil,
		func(error, time.Duration) { cancel() },
		func(context.Context) error {
			calls++
			return errDelay
		})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
