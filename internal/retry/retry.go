// Package retry implements the reconnect backoff used by transport clients.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Config configures retry behavior.
type Config struct {
	// MaxAttempts is the maximum number of attempts. Zero means retry until
	// the context is done.
	MaxAttempts int
	// InitialDelay is the delay after the first failure.
	InitialDelay time.Duration
	// MaxDelay caps the delay between attempts.
	MaxDelay time.Duration
	Factor   float64
	Jitter   bool
}

// DefaultConfig returns the reconnect policy used by the relay client.
func DefaultConfig() Config {
	return Config{
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     15 * time.Second,
		Factor:       2.0,
		Jitter:       true,
	}
}

func (c Config) normalized() Config {
	if c.MaxAttempts < 0 {
		c.MaxAttempts = 0
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 250 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 15 * time.Second
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.Factor < 1 {
		c.Factor = 2.0
	}
	return c
}

// Delay returns the wait before the given attempt (1-based, the first retry
// is attempt 1). Jitter scales the delay into [0.5, 1.5).
func (c Config) Delay(attempt int) time.Duration {
	c = c.normalized()
	if attempt < 1 {
		attempt = 1
	}
	d := float64(c.InitialDelay) * math.Pow(c.Factor, float64(attempt-1))
	if d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	if c.Jitter {
		d *= 0.5 + rand.Float64() // #nosec G404 -- jitter does not require cryptographic randomness
	}
	return time.Duration(d)
}

// Do runs op until it succeeds, returns a permanent error, exhausts
// MaxAttempts, or ctx is done. onRetry, if set, is called before each wait.
func Do(ctx context.Context, config Config, op func(attempt int) error, onRetry func(attempt int, err error, wait time.Duration)) error {
	config = config.normalized()
	var lastErr error
	for attempt := 1; config.MaxAttempts == 0 || attempt <= config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return errors.Join(err, lastErr)
			}
			return err
		}
		lastErr = op(attempt)
		if lastErr == nil {
			return nil
		}
		if IsPermanent(lastErr) {
			return lastErr
		}
		if config.MaxAttempts != 0 && attempt >= config.MaxAttempts {
			break
		}
		wait := config.Delay(attempt)
		if onRetry != nil {
			onRetry(attempt, lastErr, wait)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(ctx.Err(), lastErr)
		case <-timer.C:
		}
	}
	return lastErr
}

// PermanentError is an error that should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps an error to indicate it should not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}
