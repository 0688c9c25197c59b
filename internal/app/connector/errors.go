package connector

import (
	"errors"
	"fmt"
	"time"
)

// RateLimitedError reports an upstream 429. RetryAfter may be zero when the
// upstream gave no hint.
type RateLimitedError struct {
	Connector  string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited, retry after %s", e.Connector, e.RetryAfter)
	}
	return fmt.Sprintf("%s: rate limited", e.Connector)
}

// NetworkError wraps transport-level failures (dial, timeout, reset).
type NetworkError struct {
	Connector string
	Err       error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network: %v", e.Connector, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// UpstreamError reports a non-2xx response that is not a rate limit.
type UpstreamError struct {
	Connector  string
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: upstream status %d", e.Connector, e.StatusCode)
}

// Transient reports whether retrying the same call later could succeed.
func (e *UpstreamError) Transient() bool {
	return e.StatusCode >= 500
}

// IsTransient reports whether err is worth retrying. Rate limits, network
// failures and 5xx responses are transient; everything else is not.
func IsTransient(err error) bool {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return true
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return true
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Transient()
	}
	return false
}
