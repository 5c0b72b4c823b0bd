package watcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/samvad-hq/review-watcher/internal/domain"
	"github.com/samvad-hq/review-watcher/internal/logger"
	"github.com/samvad-hq/review-watcher/internal/metrics"
	"github.com/samvad-hq/review-watcher/internal/storage"
)

// ErrFetch wraps marketplace fetch failures returned by RunCycle.
var ErrFetch = errors.New("fetch reviews")

// CycleResult summarizes one RunCycle call.
type CycleResult struct {
	Target   domain.WatchTarget
	Fetched  int
	Previous int
	New      int
	Enqueued int
	Seeded   bool
}

// Engine runs the fetch, persist, diff and emit cycle for one target at a time.
// It keeps no state between cycles other than the snapshot store.
type Engine struct {
	store   storage.Store
	log     logger.Logger
	metrics Metrics
}

// NewEngine wires an engine to a snapshot store. m may be nil.
func NewEngine(store storage.Store, log logger.Logger, m Metrics) *Engine {
	if m == nil {
		m = nopMetrics{}
	}
	return &Engine{
		store:   store,
		log:     logger.Ensure(log),
		metrics: m,
	}
}

// RunCycle processes a single watch target. A returned error means the cycle
// was aborted before any event could be emitted; the caller moves on to the
// next target.
func (e *Engine) RunCycle(ctx context.Context, target domain.WatchTarget, src Source, sink EventSink) (CycleResult, error) {
	res := CycleResult{Target: target}
	if e == nil || e.store == nil {
		return res, fmt.Errorf("watcher engine is not initialized")
	}
	if src == nil || sink == nil {
		return res, fmt.Errorf("cycle %s: marketplace and sink are required", target)
	}
	mp := src.ID()

	current, err := src.FetchReviews(ctx, target)
	if err != nil {
		e.metrics.CycleFailed(mp, metrics.StageFetch)
		return res, fmt.Errorf("%w %s: %w", ErrFetch, target, err)
	}
	res.Fetched = len(current)
	e.metrics.ReviewsFetched(mp, len(current))

	snap, found, err := e.store.Load(target.ExtensionID)
	corrupt := errors.Is(err, storage.ErrCorruptSnapshot)
	if err != nil && !corrupt {
		e.metrics.CycleFailed(mp, metrics.StageLoad)
		return res, fmt.Errorf("load snapshot %s: %w", target, err)
	}
	var previous map[string]struct{}
	if found && !corrupt {
		previous = e.previousIDs(target, snap, src.IdentityField())
		if len(previous) == 0 && len(snap.Records) > 0 {
			corrupt = true
			err = fmt.Errorf("snapshot %s: %w: no record carries %q", target.ExtensionID, storage.ErrCorruptSnapshot, src.IdentityField())
		}
	}
	if corrupt {
		e.metrics.CorruptSnapshot(mp)
		e.log.ErrorObj("snapshot unreadable; re-seeding", "snapshot_corrupt", map[string]any{
			"target": target.String(),
			"error":  err.Error(),
		})
	}

	// The snapshot is replaced before the delta is computed.
	if err := e.store.Save(target.ExtensionID, current); err != nil {
		e.metrics.CycleFailed(mp, metrics.StageSave)
		e.log.ErrorObj("snapshot save failed", "snapshot_save_error", map[string]any{
			"target": target.String(),
			"error":  err.Error(),
		})
	}

	if !found || corrupt {
		res.Seeded = true
		e.metrics.Seeded(mp)
		e.log.InfoObj("snapshot seeded", "cycle_result", map[string]any{
			"target":  target.String(),
			"fetched": res.Fetched,
		})
		return res, nil
	}

	res.Previous = len(snap.Records)

	delta := newReviews(previous, current)
	res.New = len(delta)
	e.metrics.ReviewsNew(mp, len(delta))
	if len(delta) == 0 {
		e.log.InfoObj("no new reviews", "cycle_result", map[string]any{
			"target":  target.String(),
			"fetched": res.Fetched,
		})
		return res, nil
	}

	for _, review := range delta {
		evt, err := src.Translate(target, review)
		if err != nil {
			e.metrics.CycleFailed(mp, metrics.StageTranslate)
			e.log.WarnObj("review translation failed", "translate_error", map[string]any{
				"target":    target.String(),
				"review_id": review.ID,
				"error":     err.Error(),
			})
			continue
		}
		sink.Enqueue(evt)
		res.Enqueued++
	}
	e.metrics.EventsEnqueued(mp, res.Enqueued)

	if res.Enqueued > 0 {
		delivered, err := sink.Flush(ctx)
		if err != nil {
			e.metrics.CycleFailed(mp, metrics.StageFlush)
			e.log.ErrorObj("sink flush failed", "flush_error", map[string]any{
				"target": target.String(),
				"error":  err.Error(),
			})
		} else {
			e.log.DebugObj("sink flushed", "flush_result", map[string]any{
				"target": target.String(),
				"events": delivered,
			})
		}
	}

	e.log.InfoObj("new reviews emitted", "cycle_result", map[string]any{
		"target":   target.String(),
		"fetched":  res.Fetched,
		"new":      res.New,
		"enqueued": res.Enqueued,
	})
	return res, nil
}

// previousIDs builds the identity set of a stored snapshot. Records without a
// readable identity are skipped.
func (e *Engine) previousIDs(target domain.WatchTarget, snap storage.Snapshot, idField string) map[string]struct{} {
	ids := make(map[string]struct{}, len(snap.Records))
	for i, raw := range snap.Records {
		id, err := domain.RecordID(raw, idField)
		if err != nil {
			e.log.WarnObj("snapshot record skipped", "snapshot_record", map[string]any{
				"target": target.String(),
				"index":  i,
				"error":  err.Error(),
			})
			continue
		}
		ids[id] = struct{}{}
	}
	return ids
}

// NewReviews returns the items of current whose identity does not occur in
// previous, in current order. An identity repeated in current is returned once.
func NewReviews(previous, current []domain.Review) []domain.Review {
	ids := make(map[string]struct{}, len(previous))
	for _, r := range previous {
		ids[r.ID] = struct{}{}
	}
	return newReviews(ids, current)
}

func newReviews(previous map[string]struct{}, current []domain.Review) []domain.Review {
	var out []domain.Review
	emitted := make(map[string]struct{})
	for _, r := range current {
		if _, seen := previous[r.ID]; seen {
			continue
		}
		if _, dup := emitted[r.ID]; dup {
			continue
		}
		emitted[r.ID] = struct{}{}
		out = append(out, r)
	}
	return out
}
