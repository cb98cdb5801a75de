package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// CircuitState is the coarse health assessment of the balance service.
type CircuitState int

const (
	StateClosed   CircuitState = iota // normal operation
	StateHalfOpen                     // probing after a cool-down
	StateOpen                         // failing fast
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker stops hammering the balance service once it has failed
// maxFailures times in a row, and probes it again after resetTimeout.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration

	mu          sync.Mutex
	state       CircuitState
	failures    int
	lastFailure time.Time
}

func NewCircuitBreaker(name string, maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:         name,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
	}
}

// Allow reports whether a request may go out right now. While open, one
// probe is let through after the cool-down by flipping to half-open.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if time.Since(cb.lastFailure) < cb.resetTimeout {
			return false
		}
		cb.state = StateHalfOpen
		log.Printf("[CircuitBreaker:%s] open -> half-open", cb.name)
	}
	return true
}

// RecordSuccess resets the failure streak; a successful half-open probe
// closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		log.Printf("[CircuitBreaker:%s] half-open -> closed", cb.name)
	}
	cb.state = StateClosed
	cb.failures = 0
}

// RecordFailure extends the failure streak and opens the circuit once the
// threshold is hit. A failed half-open probe reopens it immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = time.Now()

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.maxFailures {
			cb.state = StateOpen
			log.Printf("[CircuitBreaker:%s] closed -> open after %d failures", cb.name, cb.failures)
		}
	case StateHalfOpen:
		cb.state = StateOpen
		log.Printf("[CircuitBreaker:%s] half-open -> open, probe failed", cb.name)
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// RetryConfig drives RetryWithBackoff.
type RetryConfig struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	CircuitBreaker *CircuitBreaker
}

func DefaultRetryConfig(name string) RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       2 * time.Second,
		Multiplier:     2.0,
		CircuitBreaker: NewCircuitBreaker(name, 5, 30*time.Second),
	}
}

// RetryWithBackoff runs fn with exponential backoff, consulting the
// circuit breaker before each attempt.
func RetryWithBackoff(ctx context.Context, cfg RetryConfig, fn func() error) error {
	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if cfg.CircuitBreaker != nil && !cfg.CircuitBreaker.Allow() {
			return ErrCircuitOpen
		}

		err := fn()
		if err == nil {
			if cfg.CircuitBreaker != nil {
				cfg.CircuitBreaker.RecordSuccess()
			}
			return nil
		}

		lastErr = err
		if cfg.CircuitBreaker != nil {
			cfg.CircuitBreaker.RecordFailure()
		}

		if attempt >= cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", cfg.MaxAttempts, lastErr)
}
