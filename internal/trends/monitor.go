// Package trends polls trend sources and returns labels grouped by category.
package trends

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// Trends maps a category to its current labels.
type Trends map[string][]string

// Flatten returns every label, categories in name order.
func (t Trends) Flatten() []string {
	cats := make([]string, 0, len(t))
	for c := range t {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	var out []string
	for _, c := range cats {
		out = append(out, t[c]...)
	}
	return out
}

type Monitor interface {
	MonitorTrends(ctx context.Context) (Trends, error)
}

// StaticMonitor serves a fixed set of trends, typically from config.
type StaticMonitor struct {
	mu     sync.RWMutex
	trends Trends
}

func NewStatic(t map[string][]string) *StaticMonitor {
	m := &StaticMonitor{}
	m.Set(t)
	return m
}

func (m *StaticMonitor) Set(t map[string][]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trends = copyTrends(t)
}

func (m *StaticMonitor) MonitorTrends(ctx context.Context) (Trends, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyTrends(m.trends), nil
}

// HTTPMonitor fetches {"category": ["label", ...]} from a JSON endpoint,
// retrying transient failures with exponential backoff.
type HTTPMonitor struct {
	URL          string
	Client       *http.Client
	Limiter      *rate.Limiter
	BuildBackoff func() backoff.BackOff
}

type HTTPOptions struct {
	Timeout time.Duration
	// Rate caps requests per second; 0 disables limiting.
	Rate float64
}

func NewHTTP(url string, opts HTTPOptions) *HTTPMonitor {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	m := &HTTPMonitor{
		URL:    url,
		Client: &http.Client{Timeout: opts.Timeout},
		BuildBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxElapsedTime = 5 * time.Second
			return b
		},
	}
	if opts.Rate > 0 {
		m.Limiter = rate.NewLimiter(rate.Limit(opts.Rate), 1)
	}
	return m
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("trend source returned %d: %s", e.code, e.body)
}

func (m *HTTPMonitor) MonitorTrends(ctx context.Context) (Trends, error) {
	if m.Limiter != nil {
		if err := m.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	var out Trends
	op := func() error {
		t, err := m.fetch(ctx)
		if err != nil {
			var se *statusError
			if errors.As(err, &se) && se.code >= 400 && se.code < 500 && se.code != http.StatusTooManyRequests {
				return backoff.Permanent(err)
			}
			return err
		}
		out = t
		return nil
	}
	b := m.BuildBackoff
	if b == nil {
		b = func() backoff.BackOff { return &backoff.StopBackOff{} }
	}
	if err := backoff.Retry(op, backoff.WithContext(b(), ctx)); err != nil {
		return nil, fmt.Errorf("monitor trends: %w", err)
	}
	return out, nil
}

func (m *HTTPMonitor) fetch(ctx context.Context) (Trends, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.URL, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	client := m.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &statusError{code: resp.StatusCode, body: string(body)}
	}
	var t Trends
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode trends: %w", err))
	}
	return t, nil
}

func copyTrends(t map[string][]string) Trends {
	out := make(Trends, len(t))
	for k, v := range t {
		out[k] = append([]string(nil), v...)
	}
	return out
}
