package sinks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/samvad-hq/review-watcher/internal/domain"
	"github.com/samvad-hq/review-watcher/pkg/httpclient"
)

// ErrMissingWriteKey is returned when a Segment publisher has no write key.
var ErrMissingWriteKey = errors.New("segment write key is required")

const (
	segmentDefaultEndpoint = "https://api.segment.io"
	segmentBatchPath       = "/v1/batch"
	segmentMaxBatch        = 100
	segmentLibraryName     = "review-watcher"
	segmentDefaultTimeout  = 10 * time.Second
)

// segmentPublisher sends track calls through the Segment HTTP tracking API.
type segmentPublisher struct {
	id       string
	writeKey string
	endpoint string
	client   *resty.Client
	log      Logger
	now      func() time.Time
}

type segmentBatch struct {
	Batch  []segmentMessage `json:"batch"`
	SentAt time.Time        `json:"sentAt"`
}

type segmentMessage struct {
	Type       string         `json:"type"`
	Event      string         `json:"event"`
	UserID     string         `json:"userId"`
	Properties map[string]any `json:"properties"`
	Timestamp  time.Time      `json:"timestamp"`
	MessageID  string         `json:"messageId"`
	Context    map[string]any `json:"context"`
}

// NewSegmentPublisher builds the tracking backend publisher. A missing write
// key is a configuration error.
func NewSegmentPublisher(id string, cfg SegmentSinkConfig, log Logger) (Publisher, error) {
	if cfg.WriteKey == "" {
		return nil, ErrMissingWriteKey
	}
	if id == "" {
		id = TypeSegment
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = segmentDefaultEndpoint
	}
	timeout := segmentDefaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	return &segmentPublisher{
		id:       id,
		writeKey: cfg.WriteKey,
		endpoint: endpoint,
		client:   httpclient.NewRestyHTTPClient(timeout),
		log:      ensureLogger(log),
		now:      time.Now,
	}, nil
}

func newSegmentPublisherFromConfig(_ context.Context, cfg SinkConfig, log Logger) (Publisher, error) {
	if cfg.Segment == nil {
		return nil, fmt.Errorf("sink %q missing segment configuration", cfg.ID)
	}
	cfg = sanitizeSinkConfig(cfg)
	return NewSegmentPublisher(cfg.ID, *cfg.Segment, log)
}

func (s *segmentPublisher) ID() string   { return s.id }
func (s *segmentPublisher) Type() string { return TypeSegment }

// Publish sends a single track call.
func (s *segmentPublisher) Publish(ctx context.Context, evt domain.Event) error {
	return s.PublishBatch(ctx, []domain.Event{evt})
}

// PublishBatch sends events in chunks of at most segmentMaxBatch messages.
func (s *segmentPublisher) PublishBatch(ctx context.Context, evts []domain.Event) error {
	var errs []error
	for start := 0; start < len(evts); start += segmentMaxBatch {
		end := min(start+segmentMaxBatch, len(evts))
		if err := s.send(ctx, evts[start:end]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *segmentPublisher) send(ctx context.Context, evts []domain.Event) error {
	payload := segmentBatch{
		Batch:  make([]segmentMessage, 0, len(evts)),
		SentAt: s.now().UTC(),
	}
	for _, evt := range evts {
		payload.Batch = append(payload.Batch, toSegmentMessage(evt))
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetBasicAuth(s.writeKey, "").
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(s.endpoint + segmentBatchPath)
	if err != nil {
		return fmt.Errorf("segment request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("segment response status %d: %s", resp.StatusCode(), readBodySnippet(resp.Body()))
	}

	s.log.DebugObj("segment batch delivered", "sink_segment_delivery", map[string]any{
		"sink_id": s.id,
		"events":  len(evts),
	})
	return nil
}

func toSegmentMessage(evt domain.Event) segmentMessage {
	return segmentMessage{
		Type:       "track",
		Event:      evt.Name,
		UserID:     evt.UserID,
		Properties: evt.Properties,
		Timestamp:  evt.Timestamp.UTC(),
		MessageID:  evt.MessageID,
		Context: map[string]any{
			"library": map[string]string{"name": segmentLibraryName},
		},
	}
}
