// Package publish delivers generated content to its destinations.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"herald/internal/content"
	"herald/internal/logging"
)

const defaultWebhookTimeout = 5 * time.Second

type Publisher interface {
	Publish(ctx context.Context, c content.Content) (Receipt, error)
}

// Receipt lists where a piece of content was delivered.
type Receipt struct {
	DeliveryID string   `json:"delivery_id"`
	Targets    []string `json:"targets"`
}

type Hook struct {
	Name         string
	URL          string
	Secret       string
	ContentTypes []string
}

type WebhookPublisher struct {
	hooks        []Hook
	client       *http.Client
	log          *slog.Logger
	BuildBackoff func() backoff.BackOff
}

func NewWebhookPublisher(hooks []Hook, log *slog.Logger) *WebhookPublisher {
	return &WebhookPublisher{
		hooks:  hooks,
		client: &http.Client{Timeout: defaultWebhookTimeout},
		log:    logging.For(log, logging.Action),
		BuildBackoff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
		},
	}
}

type webhookBody struct {
	DeliveryID string         `json:"delivery_id"`
	Type       string         `json:"type"`
	Content    string         `json:"content"`
	Themes     []string       `json:"themes,omitempty"`
	Timestamp  string         `json:"timestamp"`
	Brief      content.Brief  `json:"brief"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Publish posts the content to every hook whose filter matches. It fails when
// no matching hook accepted the delivery.
func (p *WebhookPublisher) Publish(ctx context.Context, c content.Content) (Receipt, error) {
	rc := Receipt{DeliveryID: uuid.NewString()}
	body := webhookBody{
		DeliveryID: rc.DeliveryID,
		Type:       c.Type,
		Content:    c.Text,
		Themes:     c.Themes,
		Timestamp:  c.Timestamp.UTC().Format(time.RFC3339),
		Brief:      c.Brief,
		Metadata:   map[string]any{"style": c.Style},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return rc, err
	}
	var errs []error
	matched := 0
	for _, hook := range p.hooks {
		if strings.TrimSpace(hook.URL) == "" || !newTypeFilter(hook.ContentTypes).match(c.Type) {
			continue
		}
		matched++
		if err := p.deliver(ctx, hook, rc.DeliveryID, c.Type, data); err != nil {
			p.log.Warn("webhook delivery failed", "hook", hookName(hook), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", hookName(hook), err))
			continue
		}
		rc.Targets = append(rc.Targets, hookName(hook))
	}
	if matched > 0 && len(rc.Targets) == 0 {
		return rc, errors.Join(errs...)
	}
	return rc, nil
}

func (p *WebhookPublisher) deliver(ctx context.Context, hook Hook, deliveryID, contentType string, data []byte) error {
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Herald-Event", "content."+contentType)
		req.Header.Set("X-Herald-Delivery", deliveryID)
		if strings.TrimSpace(hook.Secret) != "" {
			req.Header.Set("X-Herald-Secret", hook.Secret)
		}
		res, err := p.client.Do(req)
		if err != nil {
			return err
		}
		defer res.Body.Close()
		if res.StatusCode < 200 || res.StatusCode >= 300 {
			bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
			err := fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
			if res.StatusCode < 500 && res.StatusCode != http.StatusTooManyRequests {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}
	b := p.BuildBackoff
	if b == nil {
		b = func() backoff.BackOff { return &backoff.StopBackOff{} }
	}
	return backoff.Retry(op, backoff.WithContext(b(), ctx))
}

// Close releases idle connections.
func (p *WebhookPublisher) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

func hookName(h Hook) string {
	if h.Name != "" {
		return h.Name
	}
	return h.URL
}

type typeFilter struct {
	all bool
	set map[string]struct{}
}

func newTypeFilter(types []string) typeFilter {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		if key := strings.TrimSpace(t); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return typeFilter{all: true}
	}
	return typeFilter{set: set}
}

func (f typeFilter) match(t string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[t]
	return ok
}

// LogPublisher only logs content. It is used when no destination is configured.
type LogPublisher struct {
	Log *slog.Logger
}

func (p LogPublisher) Publish(ctx context.Context, c content.Content) (Receipt, error) {
	logging.For(p.Log, logging.Action).Info("content ready", "type", c.Type, "content", c.Text, "themes", c.Themes)
	return Receipt{DeliveryID: uuid.NewString(), Targets: []string{"log"}}, nil
}
