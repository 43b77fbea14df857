package gist

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrNotFound matches any HTTPError with status 404.
var ErrNotFound = errors.New("remote document not found")

// ErrQueueFailed is joined to a RateLimitError when the write could not
// be persisted for retry. Such a write is lost.
var ErrQueueFailed = errors.New("queueing rate-limited write failed")

// RateLimitError is returned when the API signals rate limiting.
// ResetAt is the earliest instant at which the call may succeed.
type RateLimitError struct {
	StatusCode int
	ResetAt    time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (http %d), resets at %s", e.StatusCode, e.ResetAt.Format(time.RFC3339))
}

// TransportError wraps network and response parsing failures.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// HTTPError is a non-2xx response that is not rate limiting.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("http %d", e.StatusCode)
}

func (e *HTTPError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// IsRateLimit returns the RateLimitError in err's chain, if any.
func IsRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}
