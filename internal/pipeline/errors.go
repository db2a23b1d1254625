package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// HTTPError reports a non-2xx response from a source host.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d fetching %s", e.StatusCode, e.URL)
}

// ParseError reports structurally unparsable content. It is never retried.
type ParseError struct {
	ID     string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.ID, e.Reason)
}

// BackendError reports a failure talking to a corpus backend. It leaves the
// record one stage short of indexed so the next run retries only that stage.
type BackendError struct {
	Corpus string
	Op     string
	Err    error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s %s: %v", e.Corpus, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Transient reports whether the error is worth retrying with backoff.
// Timeouts, 5xx responses, and rate-limit responses are transient; other
// 4xx responses and parse failures are permanent.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == http.StatusTooManyRequests {
			return true
		}
		return httpErr.StatusCode >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return true
}
