package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestBackend(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL+"/app", WithLogger(zap.NewNop()))
	require.NoError(t, err)
	return client
}

func TestNewClientRejectsRelativeBase(t *testing.T) {
	t.Parallel()

	_, err := NewClient("/app")
	require.Error(t, err)
}

func TestResolve(t *testing.T) {
	t.Parallel()

	client, err := NewClient("http://maps.local:8080/app")
	require.NoError(t, err)

	tests := []struct {
		endpoint string
		want     string
	}{
		{"ping", "http://maps.local:8080/app/ping"},
		{"/compute_bundles", "http://maps.local:8080/app/compute_bundles"},
		{"compute_network?force=1", "http://maps.local:8080/app/compute_network?force=1"},
		{"https://other.local/ping", "https://other.local/ping"},
	}
	for _, tt := range tests {
		got, err := client.Resolve(tt.endpoint)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.endpoint)
	}
	assert.Equal(t, "http://maps.local:8080/app/", client.BaseURL())
}

func TestTriggerSuccess(t *testing.T) {
	t.Parallel()

	var gotPath string
	client := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"error":false}`))
	})

	resp, err := client.Trigger(context.Background(), "compute_bundles")
	require.NoError(t, err)
	assert.True(t, resp.Succeeded())
	assert.Equal(t, "/app/compute_bundles", gotPath)
}

func TestTriggerReportsJobError(t *testing.T) {
	t.Parallel()

	client := newTestBackend(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"error":true,"errorMessage":"worker busy"}`))
	})

	resp, err := client.Trigger(context.Background(), "compute_network")
	require.Error(t, err)
	var jobErr *JobError
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, "worker busy", jobErr.Message)
	assert.False(t, resp.Succeeded())
	assert.Contains(t, err.Error(), "compute_network")
}

func TestTriggerMissingErrorField(t *testing.T) {
	t.Parallel()

	client := newTestBackend(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"errorMessage":"?"}`))
	})

	_, err := client.Trigger(context.Background(), "compute_bundles")
	require.ErrorIs(t, err, ErrMalformedResponse)
}

func TestTriggerInvalidJSON(t *testing.T) {
	t.Parallel()

	client := newTestBackend(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>oops</html>`))
	})

	_, err := client.Trigger(context.Background(), "compute_bundles")
	require.ErrorIs(t, err, ErrMalformedResponse)
}

func TestTriggerNon2xx(t *testing.T) {
	t.Parallel()

	client := newTestBackend(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no dataset loaded", http.StatusInternalServerError)
	})

	_, err := client.Trigger(context.Background(), "compute_bundles")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "no dataset loaded", apiErr.Message)
	assert.Equal(t, "compute_bundles", apiErr.Endpoint)
}

func TestPing(t *testing.T) {
	t.Parallel()

	client := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/app/ping", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		_, _ = w.Write([]byte(`{"algorithmProcess":42}`))
	})

	resp, err := client.Ping(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 42.0, resp.Progress(), 1e-9)
}

func TestPingMissingField(t *testing.T) {
	t.Parallel()

	client := newTestBackend(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	_, err := client.Ping(context.Background())
	require.True(t, errors.Is(err, ErrMalformedResponse), "got %v", err)
}

func TestGetRespectsContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	client := newTestBackend(t, func(w http.ResponseWriter, _ *http.Request) {
		<-release
		_, _ = w.Write([]byte(`{"error":false}`))
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := client.Trigger(ctx, "compute_bundles")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRateLimitSpacesRequests(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"algorithmProcess":1}`))
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(srv.URL, WithRateLimit(10))
	require.NoError(t, err)

	ctx := context.Background()
	// burst of 10 drains first, the 11th waits for a fresh token.
	for i := 0; i < 10; i++ {
		_, err := client.Ping(ctx)
		require.NoError(t, err)
	}
	start := time.Now()
	_, err = client.Ping(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, int32(11), hits.Load())
}

func TestWithTimeout(t *testing.T) {
	t.Parallel()

	client, err := NewClient("http://localhost", WithTimeout(3*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, client.httpClient.Timeout)
}

func TestWithTimeoutLeavesSharedClientAlone(t *testing.T) {
	t.Parallel()

	shared := &http.Client{Timeout: time.Minute}
	for name, opts := range map[string][]Option{
		"timeout first":     {WithTimeout(3 * time.Second), WithHTTPClient(shared)},
		"http client first": {WithHTTPClient(shared), WithTimeout(3 * time.Second)},
	} {
		client, err := NewClient("http://localhost", opts...)
		require.NoError(t, err, name)
		assert.Equal(t, 3*time.Second, client.httpClient.Timeout, name)
		assert.NotSame(t, shared, client.httpClient, name)
	}
	assert.Equal(t, time.Minute, shared.Timeout)

	client, err := NewClient("http://localhost", WithHTTPClient(http.DefaultClient))
	require.NoError(t, err)
	assert.Zero(t, client.httpClient.Timeout)
	assert.Zero(t, http.DefaultClient.Timeout)
}
