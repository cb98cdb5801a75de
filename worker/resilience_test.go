package main

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, time.Hour)

	for i := 0; i < 2; i++ {
		cb.RecordFailure()
	}
	if state := cb.State(); state != StateClosed {
		t.Fatalf("state after 2 failures = %v, want closed", state)
	}

	cb.RecordFailure()
	if state := cb.State(); state != StateOpen {
		t.Fatalf("state after 3 failures = %v, want open", state)
	}
	if cb.Allow() {
		t.Error("open circuit must not allow requests before the cool-down")
	}
}

func TestCircuitBreakerProbesAfterCooldown(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 10*time.Millisecond)
	cb.RecordFailure()

	time.Sleep(20 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("cool-down elapsed, probe must be allowed")
	}
	if state := cb.State(); state != StateHalfOpen {
		t.Fatalf("state = %v, want half-open", state)
	}

	cb.RecordSuccess()
	if state := cb.State(); state != StateClosed {
		t.Errorf("state after successful probe = %v, want closed", state)
	}
}

func TestCircuitBreakerFailedProbeReopens(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 10*time.Millisecond)
	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	cb.Allow()

	cb.RecordFailure()
	if state := cb.State(); state != StateOpen {
		t.Errorf("state after failed probe = %v, want open", state)
	}
}

func TestRetryWithBackoffEventuallySucceeds(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}

	calls := 0
	err := RetryWithBackoff(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RetryWithBackoff: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryWithBackoffGivesUp(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   1.0,
	}

	permanent := errors.New("permanent")
	err := RetryWithBackoff(context.Background(), cfg, func() error { return permanent })
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if !errors.Is(err, permanent) {
		t.Errorf("error %v does not wrap the last failure", err)
	}
}

func TestRetryWithBackoffFailsFastWhenCircuitOpen(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts:    3,
		InitialDelay:   time.Millisecond,
		MaxDelay:       time.Millisecond,
		Multiplier:     1.0,
		CircuitBreaker: NewCircuitBreaker("test", 1, time.Hour),
	}
	cfg.CircuitBreaker.RecordFailure()

	calls := 0
	err := RetryWithBackoff(context.Background(), cfg, func() error {
		calls++
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if calls != 0 {
		t.Errorf("fn ran %d times behind an open circuit", calls)
	}
}
