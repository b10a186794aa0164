package session

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"net"
	"strings"
	"syscall"
	"time"
)

// RetryConfig is the backoff applied to bootstrap and site list calls.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig waits roughly 300ms then 600ms between three attempts.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 300 * time.Millisecond,
		MaxDelay:     3 * time.Second,
		Multiplier:   2.0,
	}
}

// delay is the pause before retry number n (0-based), with ±25% jitter.
func (c RetryConfig) delay(n int) time.Duration {
	base := float64(c.InitialDelay)
	for i := 0; i < n; i++ {
		base *= c.Multiplier
		if base >= float64(c.MaxDelay) {
			break
		}
	}
	jittered := time.Duration(base * (0.75 + rand.Float64()*0.5))
	return min(jittered, c.MaxDelay)
}

// RetryWithBackoff calls fn until it succeeds, returns a permanent error or
// runs out of attempts. A cancelled ctx ends the wait early.
func RetryWithBackoff(ctx context.Context, cfg RetryConfig, fn func() error) error {
	attempts := max(cfg.MaxAttempts, 1)
	var err error
	for n := 0; n < attempts; n++ {
		if n > 0 {
			timer := time.NewTimer(cfg.delay(n - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		if err = fn(); err == nil || !isTransientError(err) {
			return err
		}
	}
	return err
}

// isTransientError separates failures worth another try (network trouble,
// timeouts, 5xx) from answers that will not change (4xx, bad credentials).
func isTransientError(err error) bool {
	var requestErr *RequestError
	var netErr net.Error
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.As(err, &requestErr):
		return requestErr.Code >= 500
	case errors.As(err, &netErr),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF):
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range []string{"timeout", "connection reset", "connection refused", "eof"} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}
