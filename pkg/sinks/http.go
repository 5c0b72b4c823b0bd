package sinks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/samvad-hq/review-watcher/internal/domain"
	"github.com/samvad-hq/review-watcher/pkg/httpclient"
)

// Webhook headers describing the delivered review. Idempotency-Key carries the
// event's message id, which is stable for a given review.
const (
	headerIdempotencyKey = "Idempotency-Key"
	headerMarketplace    = "X-Review-Marketplace"
	headerExtension      = "X-Review-Extension"
	headerEvent          = "X-Review-Event"
)

// webhookPublisher posts one review event per request as JSON.
type webhookPublisher struct {
	id      string
	method  string
	url     string
	headers map[string]string
	client  *resty.Client
	log     Logger
}

func newHTTPPublisher(_ context.Context, cfg SinkConfig, log Logger) (Publisher, error) {
	if cfg.HTTP == nil {
		return nil, fmt.Errorf("sink %q missing http configuration", cfg.ID)
	}
	cfg = sanitizeSinkConfig(cfg)

	return &webhookPublisher{
		id:      cfg.ID,
		method:  cfg.HTTP.Method,
		url:     cfg.HTTP.URL,
		headers: cfg.HTTP.Headers,
		client:  httpclient.NewRestyHTTPClient(time.Duration(cfg.HTTP.TimeoutSeconds) * time.Second),
		log:     ensureLogger(log),
	}, nil
}

func (h *webhookPublisher) ID() string   { return h.id }
func (h *webhookPublisher) Type() string { return TypeHTTP }

// Publish sends evt. Configured headers may override the review headers but
// not the content type.
func (h *webhookPublisher) Publish(ctx context.Context, evt domain.Event) error {
	req := h.client.R().
		SetContext(ctx).
		SetHeaders(reviewHeaders(evt)).
		SetHeaders(h.headers).
		SetHeader("Content-Type", "application/json").
		SetBody(evt)

	resp, err := req.Execute(h.method, h.url)
	if err != nil {
		return fmt.Errorf("webhook %s %s: %w", h.method, h.url, err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook response status %d for review %s: %s",
			resp.StatusCode(), evt.MessageID, readBodySnippet(resp.Body()))
	}
	h.log.DebugObj("webhook delivered review", "sink_http_delivery", map[string]any{
		"sink_id":      h.id,
		"message_id":   evt.MessageID,
		"extension_id": evt.ExtensionID,
		"status":       resp.StatusCode(),
	})
	return nil
}

func reviewHeaders(evt domain.Event) map[string]string {
	out := make(map[string]string, 4)
	for k, v := range map[string]string{
		headerIdempotencyKey: evt.MessageID,
		headerMarketplace:    evt.Marketplace,
		headerExtension:      evt.ExtensionID,
		headerEvent:          evt.Name,
	} {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

func readBodySnippet(body []byte) string {
	if len(body) > 512 {
		body = body[:512]
	}
	return strings.TrimSpace(string(body))
}
