package sinks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/samvad-hq/review-watcher/internal/domain"
)

// Sink buffers events and delivers them to every configured publisher on Flush.
type Sink struct {
	mu         sync.Mutex
	publishers []Publisher
	queue      []domain.Event
	log        Logger
	closed     bool
}

// NewSink builds a buffered sink that fans out flushed events across publishers.
func NewSink(pubs []Publisher, log Logger) *Sink {
	cp := make([]Publisher, 0, len(pubs))
	for _, p := range pubs {
		if p == nil {
			continue
		}
		cp = append(cp, p)
	}
	return &Sink{publishers: cp, log: ensureLogger(log)}
}

// Enqueue appends evt to the outbound queue.
func (s *Sink) Enqueue(evt domain.Event) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.queue = append(s.queue, evt)
	s.mu.Unlock()
}

// Pending returns the number of queued events.
func (s *Sink) Pending() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Flush delivers every event enqueued before the call and empties the queue.
// Delivery is best-effort: failed events are not requeued. It returns the
// number of events flushed and the joined publisher errors.
func (s *Sink) Flush(ctx context.Context) (int, error) {
	if s == nil {
		return 0, nil
	}

	s.mu.Lock()
	batch := s.queue
	s.queue = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return 0, nil
	}

	var errs []error
	for _, p := range s.publishers {
		if err := deliver(ctx, p, batch); err != nil {
			errs = append(errs, fmt.Errorf("%s publisher[%s]: %w", p.Type(), p.ID(), err))
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		s.log.ErrorObj("sink flush failed", "sink_error", map[string]any{
			"events": len(batch),
			"error":  err.Error(),
		})
	} else {
		s.log.DebugObj("sink flushed", "sink_flush", map[string]any{
			"events":     len(batch),
			"publishers": len(s.publishers),
		})
	}
	return len(batch), err
}

func deliver(ctx context.Context, p Publisher, batch []domain.Event) error {
	if bp, ok := p.(BatchPublisher); ok {
		return bp.PublishBatch(ctx, batch)
	}

	var errs []error
	for _, evt := range batch {
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, fmt.Errorf("event %s: %w", evt.MessageID, err))
		}
	}
	return errors.Join(errs...)
}

// Close flushes remaining events and releases publisher resources. It is safe
// to call more than once.
func (s *Sink) Close(ctx context.Context) error {
	if s == nil {
		return nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	_, flushErr := s.Flush(ctx)

	errs := []error{flushErr}
	for _, p := range s.publishers {
		if c, ok := p.(closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s publisher[%s]: %w", p.Type(), p.ID(), err))
			}
		}
	}
	return errors.Join(errs...)
}

// Size returns the number of active publishers.
func (s *Sink) Size() int {
	if s == nil {
		return 0
	}
	return len(s.publishers)
}
