package backend

import (
	"context"
	"math"
	"net/http"
	"time"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
)

// RetryPolicy bounds the retry sequence of a single call: at most MaxRetries
// retries after the first attempt, waiting BaseDelay * 2^n before retry n.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// Delay returns the wait before retry attempt n (0-indexed).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	return time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(attempt)))
}

// ShouldRetry reports whether a failed attempt qualifies for another try.
// attempt is the 0-indexed number of the attempt that just failed.
func (p RetryPolicy) ShouldRetry(err *Error, attempt int) bool {
	return err.Retryable && attempt < p.MaxRetries
}

// retryableStatus covers server errors and rate limiting. Other 4xx are
// client errors and never retried.
func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status <= 599)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
