package resilience

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"time"
)

// RetryConfig holds tuning knobs for [Retry].
type RetryConfig struct {
	// MaxRetries is the number of re-attempts after the initial call.
	// Default: 2 (three attempts total).
	MaxRetries int

	// BaseDelay is the backoff before the first retry. Default: 750ms.
	BaseDelay time.Duration

	// Multiplier scales the delay on each subsequent retry. Default: 2.
	Multiplier float64

	// MaxDelay caps the computed backoff. Default: 10s.
	MaxDelay time.Duration

	// Jitter is the maximum random fraction added to each delay, in
	// [0, Jitter]. Default: 0.3.
	Jitter float64

	// RetryIf overrides the default retryability check when non-nil.
	RetryIf func(error) bool

	// OnRetry, when non-nil, is invoked before each re-attempt with the
	// 1-based retry number and the error that triggered it.
	OnRetry func(attempt int, err error)
}

// withDefaults fills zero-value fields with defaults.
func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 750 * time.Millisecond
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.Jitter <= 0 {
		c.Jitter = 0.3
	}
	return c
}

// HTTPStatusError marks an upstream HTTP failure with its status code so the
// retry layer can distinguish transient statuses from permanent ones.
type HTTPStatusError struct {
	StatusCode int
	Message    string
}

// Error implements error.
func (e *HTTPStatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upstream returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Message)
}

// transientError wraps an error to mark it explicitly retryable.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as retryable regardless of its underlying type.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsRetryable reports whether err is worth retrying. Retryable errors are
// network-level transients, upstream 429/502/503/504 responses, and anything
// wrapped by [Transient]. [ErrCircuitOpen] and context cancellation are never
// retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var te *transientError
	if errors.As(err, &te) {
		return true
	}

	var se *HTTPStatusError
	if errors.As(err, &se) {
		switch se.StatusCode {
		case 429, 502, 503, 504:
			return true
		}
		return false
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return false
}

// backoffDelay computes the sleep before the retry following the given
// 0-based attempt: BaseDelay * Multiplier^attempt plus random jitter. MaxDelay
// caps the result after jitter so the sleep never exceeds it.
func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	delay := cfg.BaseDelay
	for i := 0; i < attempt; i++ {
		delay = time.Duration(float64(delay) * cfg.Multiplier)
	}
	delay += time.Duration(rand.Float64() * cfg.Jitter * float64(delay))
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	return delay
}

// Retry invokes fn until it succeeds, returns a non-retryable error, exhausts
// the retry budget, or ctx is done. The delay before attempt n is
// BaseDelay * Multiplier^(n-1) plus random jitter, capped at MaxDelay.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	cfg = cfg.withDefaults()
	retryIf := cfg.RetryIf
	if retryIf == nil {
		retryIf = IsRetryable
	}

	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) {
			return err
		}
		if attempt >= cfg.MaxRetries || !retryIf(err) {
			return err
		}

		timer := time.NewTimer(backoffDelay(cfg, attempt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("resilience: retry aborted: %w", ctx.Err())
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err)
		}
	}
}
