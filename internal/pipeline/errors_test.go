package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTransientClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		err       error
		transient bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"server error", &HTTPError{URL: "https://wikem.org/wiki/X", StatusCode: http.StatusBadGateway}, true},
		{"rate limited", &HTTPError{URL: "https://wikem.org/wiki/X", StatusCode: http.StatusTooManyRequests}, true},
		{"not found", &HTTPError{URL: "https://wikem.org/wiki/X", StatusCode: http.StatusNotFound}, false},
		{"forbidden", &HTTPError{URL: "https://wikem.org/wiki/X", StatusCode: http.StatusForbidden}, false},
		{"parse failure", &ParseError{ID: "hyponatremia", Reason: "no content container"}, false},
		{"wrapped parse failure", fmt.Errorf("extract: %w", &ParseError{ID: "x", Reason: "empty"}), false},
		{"wrapped server error", fmt.Errorf("fetch: %w", &HTTPError{StatusCode: 503}), true},
		{"generic", errors.New("connection reset"), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.transient, Transient(tc.err))
		})
	}
}

func TestExponentialRetryPolicy(t *testing.T) {
	t.Parallel()

	policy := NewExponentialRetryPolicy(3, 100*time.Millisecond, time.Second)

	serverErr := &HTTPError{StatusCode: 500}
	require.True(t, policy.ShouldRetry(serverErr, 0))
	require.True(t, policy.ShouldRetry(serverErr, 2))
	require.False(t, policy.ShouldRetry(serverErr, 3), "attempt bound must be honored")
	require.False(t, policy.ShouldRetry(nil, 0))
	require.False(t, policy.ShouldRetry(&HTTPError{StatusCode: 404}, 0))

	for attempt := 0; attempt < 6; attempt++ {
		backoff := policy.Backoff(attempt)
		require.Greater(t, backoff, time.Duration(0))
		require.LessOrEqual(t, backoff, time.Second)
	}
}

func TestBackendErrorUnwrap(t *testing.T) {
	t.Parallel()

	inner := errors.New("connection refused")
	err := &BackendError{Corpus: "wikem", Op: "submit", Err: inner}
	require.ErrorIs(t, err, inner)
	require.Contains(t, err.Error(), "wikem")
}
