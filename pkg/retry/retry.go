// Package retry re-runs transient failures with exponential backoff.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"
)

// Config defines retry behavior with exponential backoff.
type Config struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64 // 0.0-1.0
}

// DefaultConfig returns 3 retries starting at 100ms, capped at 5s, doubling, with 10% jitter.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// Once returns a config that retries a single time after delay.
func Once(delay time.Duration) *Config {
	return Fixed(1, delay)
}

// Fixed returns a config that retries up to retries times with a constant delay.
// Negative retries are treated as zero.
func Fixed(retries int, delay time.Duration) *Config {
	return &Config{
		MaxRetries:   max(retries, 0),
		InitialDelay: delay,
		MaxDelay:     delay,
		Multiplier:   1,
	}
}

func applyJitter(delay time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return delay
	}
	jitter := float64(delay) * jitterFactor * (rand.Float64()*2 - 1)
	return time.Duration(float64(delay) + jitter)
}

// wait sleeps for the current delay and returns the next one, or ctx.Err().
func (cfg *Config) wait(ctx context.Context, delay time.Duration) (time.Duration, error) {
	timer := time.NewTimer(applyJitter(delay, cfg.JitterFactor))
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		return delay, ctx.Err()
	}

	next := time.Duration(float64(delay) * cfg.Multiplier)
	if cfg.MaxDelay > 0 && next > cfg.MaxDelay {
		next = cfg.MaxDelay
	}
	return next, nil
}

// Do executes fn until it succeeds or retries are exhausted, returning the last error.
func Do(ctx context.Context, cfg *Config, fn func() error) error {
	_, err := DoWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResult executes fn and retries any error.
func DoWithResult[T any](ctx context.Context, cfg *Config, fn func() (T, error)) (T, error) {
	return run(ctx, cfg, fn, func(error) bool { return true })
}

// DoIfRetryable retries only errors IsRetryable accepts. Permanent errors return immediately.
func DoIfRetryable[T any](ctx context.Context, cfg *Config, fn func() (T, error)) (T, error) {
	return run(ctx, cfg, fn, IsRetryable)
}

func run[T any](ctx context.Context, cfg *Config, fn func() (T, error), shouldRetry func(error) bool) (T, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var (
		result T
		err    error
	)
	delay := cfg.InitialDelay

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		result, err = fn()
		if err == nil {
			return result, nil
		}
		if attempt == cfg.MaxRetries || !shouldRetry(err) {
			break
		}
		if delay, err = cfg.wait(ctx, delay); err != nil {
			return result, err
		}
	}
	return result, err
}

// RetryableError is implemented by errors that declare their own retryability.
type RetryableError interface {
	error
	IsRetryable() bool
}

var retryablePatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"timeout",
	"timed out",
	"temporary failure",
	"too many connections",
	"i/o timeout",
	"network is unreachable",
	"429",
	"502",
	"503",
	"504",
	"rate limit",
	"service unavailable",
	"too many requests",
}

// IsRetryable reports whether err is transient. Errors implementing RetryableError
// anywhere in the chain decide for themselves; others are matched by message.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var r RetryableError
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
