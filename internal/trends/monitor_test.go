package trends

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastBackoff() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 3)
}

func TestStaticMonitorReturnsCopies(t *testing.T) {
	m := NewStatic(map[string][]string{"tech": {"ai"}})
	got, err := m.MonitorTrends(context.Background())
	require.NoError(t, err)
	got["tech"][0] = "changed"

	again, err := m.MonitorTrends(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ai"}, again["tech"])
}

func TestStaticMonitorCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewStatic(nil).MonitorTrends(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTTPMonitorRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tech":["edge ai","open models"],"culture":["slow media"]}`))
	}))
	defer srv.Close()

	m := NewHTTP(srv.URL, HTTPOptions{Timeout: time.Second})
	m.BuildBackoff = fastBackoff
	got, err := m.MonitorTrends(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []string{"edge ai", "open models"}, got["tech"])
	assert.Equal(t, []string{"slow media", "edge ai", "open models"}, got.Flatten())
}

func TestHTTPMonitorClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	m := NewHTTP(srv.URL, HTTPOptions{})
	m.BuildBackoff = fastBackoff
	_, err := m.MonitorTrends(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPMonitorBadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	m := NewHTTP(srv.URL, HTTPOptions{Rate: 100})
	m.BuildBackoff = fastBackoff
	_, err := m.MonitorTrends(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode trends")
}
