package publish

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"herald/internal/content"
	"herald/internal/logging"
)

func sample() content.Content {
	return content.Content{
		Text:      "hello",
		Type:      "post",
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Themes:    []string{"design"},
	}
}

func TestWebhookPublisherDelivers(t *testing.T) {
	var got webhookBody
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := NewWebhookPublisher([]Hook{
		{Name: "main", URL: srv.URL, Secret: "s3cret"},
		{Name: "threads-only", URL: srv.URL, ContentTypes: []string{"thread"}},
	}, logging.Discard())
	rc, err := p.Publish(context.Background(), sample())
	require.NoError(t, err)
	assert.Equal(t, []string{"main"}, rc.Targets)
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, rc.DeliveryID, got.DeliveryID)
	assert.Equal(t, "2024-01-01T00:00:00Z", got.Timestamp)
	assert.Equal(t, "content.post", headers.Get("X-Herald-Event"))
	assert.Equal(t, "s3cret", headers.Get("X-Herald-Secret"))
	assert.Equal(t, rc.DeliveryID, headers.Get("X-Herald-Delivery"))
	require.NoError(t, p.Close())
}

func TestWebhookPublisherRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewWebhookPublisher([]Hook{{URL: srv.URL}}, nil)
	p.BuildBackoff = func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 2)
	}
	rc, err := p.Publish(context.Background(), sample())
	require.NoError(t, err)
	assert.Equal(t, []string{srv.URL}, rc.Targets)
	assert.Equal(t, int32(2), calls.Load())
}

func TestWebhookPublisherFailsWhenNoHookAccepts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad secret", http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewWebhookPublisher([]Hook{{Name: "main", URL: srv.URL}}, nil)
	_, err := p.Publish(context.Background(), sample())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Equal(t, int32(1), calls.Load())
}

func TestWebhookPublisherNoMatchingHookIsNotAnError(t *testing.T) {
	p := NewWebhookPublisher([]Hook{{URL: "http://127.0.0.1:0", ContentTypes: []string{"thread"}}}, nil)
	rc, err := p.Publish(context.Background(), sample())
	require.NoError(t, err)
	assert.Empty(t, rc.Targets)
}

func TestLogPublisher(t *testing.T) {
	sink := logging.NewSink(4)
	log := logging.New(logging.Config{Output: io.Discard, Sink: sink})
	rc, err := LogPublisher{Log: log}.Publish(context.Background(), sample())
	require.NoError(t, err)
	assert.Equal(t, []string{"log"}, rc.Targets)
	entries := sink.Recent(0)
	require.Len(t, entries, 1)
	assert.Equal(t, logging.Action, entries[0].Category)
}
