package watcher

import (
	"context"

	"github.com/samvad-hq/review-watcher/internal/domain"
)

// EventSink queues outbound events and delivers them on Flush.
type EventSink interface {
	Enqueue(evt domain.Event)
	Flush(ctx context.Context) (int, error)
}

// Source is the marketplace surface a cycle needs.
type Source interface {
	ID() string
	IdentityField() string
	FetchReviews(ctx context.Context, target domain.WatchTarget) ([]domain.Review, error)
	Translate(target domain.WatchTarget, review domain.Review) (domain.Event, error)
}

// Metrics receives cycle counters. *metrics.Collector satisfies it.
type Metrics interface {
	ReviewsFetched(marketplace string, n int)
	ReviewsNew(marketplace string, n int)
	EventsEnqueued(marketplace string, n int)
	CycleFailed(marketplace, stage string)
	CorruptSnapshot(marketplace string)
	Seeded(marketplace string)
}

type nopMetrics struct{}

func (nopMetrics) ReviewsFetched(string, int) {}
func (nopMetrics) ReviewsNew(string, int)     {}
func (nopMetrics) EventsEnqueued(string, int) {}
func (nopMetrics) CycleFailed(string, string) {}
func (nopMetrics) CorruptSnapshot(string)     {}
func (nopMetrics) Seeded(string)              {}
