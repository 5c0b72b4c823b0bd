package sinks

import (
	"context"

	"github.com/samvad-hq/review-watcher/internal/domain"
)

// Publisher delivers events to a downstream backend (Segment, SQS, HTTP, etc).
type Publisher interface {
	ID() string
	Type() string
	Publish(ctx context.Context, evt domain.Event) error
}

// BatchPublisher is implemented by publishers that deliver a whole flush in
// one call.
type BatchPublisher interface {
	Publisher
	PublishBatch(ctx context.Context, evts []domain.Event) error
}

// closer is implemented by publishers holding client resources.
type closer interface {
	Close() error
}
