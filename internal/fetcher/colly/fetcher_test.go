package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clinassist/kbpipeline/internal/pipeline"
)

func TestFetchReturnsBodyAndMetadata(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "kb-test-agent", r.UserAgent())
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body>hyponatremia</body></html>"))
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "kb-test-agent", Timeout: 5 * time.Second})
	resp, err := f.Fetch(context.Background(), pipeline.FetchRequest{
		Source: "wikem",
		ID:     "Hyponatremia",
		URL:    srv.URL,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(resp.Body), "hyponatremia")
	require.False(t, resp.FetchedAt.IsZero())
}

func TestFetchMapsNonSuccessToHTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := New(Config{Timeout: 5 * time.Second})
	_, err := f.Fetch(context.Background(), pipeline.FetchRequest{URL: srv.URL})
	require.Error(t, err)

	var httpErr *pipeline.HTTPError
	require.True(t, errors.As(err, &httpErr))
	require.Equal(t, http.StatusServiceUnavailable, httpErr.StatusCode)
	require.True(t, pipeline.Transient(err))
}

func TestFetchNotFoundIsPermanent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(Config{Timeout: 5 * time.Second})
	_, err := f.Fetch(context.Background(), pipeline.FetchRequest{URL: srv.URL})
	require.Error(t, err)
	require.False(t, pipeline.Transient(err))
}
