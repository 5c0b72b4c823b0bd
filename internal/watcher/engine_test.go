package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/samvad-hq/review-watcher/internal/domain"
	"github.com/samvad-hq/review-watcher/internal/storage"
)

type fakeSource struct {
	reviews  []domain.Review
	err      error
	failOnID string
	fetches  int
}

func (f *fakeSource) ID() string            { return "fake" }
func (f *fakeSource) IdentityField() string { return "id" }

func (f *fakeSource) FetchReviews(_ context.Context, _ domain.WatchTarget) ([]domain.Review, error) {
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	return f.reviews, nil
}

func (f *fakeSource) Translate(target domain.WatchTarget, r domain.Review) (domain.Event, error) {
	if r.ID == f.failOnID {
		return domain.Event{}, errors.New("untranslatable")
	}
	return domain.Event{
		Name:        domain.EventReview,
		UserID:      "user-" + r.ID,
		ExtensionID: target.ExtensionID,
		MessageID:   r.ID,
	}, nil
}

type fakeSink struct {
	queued  []domain.Event
	flushed [][]domain.Event
	err     error
}

func (f *fakeSink) Enqueue(evt domain.Event) { f.queued = append(f.queued, evt) }

func (f *fakeSink) Flush(context.Context) (int, error) {
	batch := f.queued
	f.queued = nil
	f.flushed = append(f.flushed, batch)
	return len(batch), f.err
}

func (f *fakeSink) events() []domain.Event {
	var out []domain.Event
	for _, b := range f.flushed {
		out = append(out, b...)
	}
	return out
}

// failingStore wraps a real store and injects errors.
type failingStore struct {
	storage.Store
	loadErr error
	saveErr error
}

func (f *failingStore) Load(id string) (storage.Snapshot, bool, error) {
	if f.loadErr != nil {
		return storage.Snapshot{}, false, f.loadErr
	}
	return f.Store.Load(id)
}

func (f *failingStore) Save(id string, reviews []domain.Review) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	return f.Store.Save(id, reviews)
}

func reviews(t *testing.T, raw string) []domain.Review {
	t.Helper()
	out, err := domain.DecodeReviews([]byte(raw), "id")
	if err != nil {
		t.Fatalf("DecodeReviews: %v", err)
	}
	return out
}

func newFileStore(t *testing.T) (storage.Store, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewStore(storage.TypeFile, storage.Options{Dir: dir})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, dir
}

func readSnapshot(t *testing.T, dir, id string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, id+".json"))
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	var out []map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	return out
}

var target = domain.WatchTarget{Marketplace: "fake", ExtensionID: "ext-1"}

func TestRunCycleSeedsWithoutEvents(t *testing.T) {
	store, dir := newFileStore(t)
	src := &fakeSource{reviews: reviews(t, `[{"id":"1"},{"id":"2"}]`)}
	sink := &fakeSink{}

	res, err := NewEngine(store, nil, nil).RunCycle(context.Background(), target, src, sink)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if !res.Seeded || res.Fetched != 2 || res.Enqueued != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(sink.flushed) != 0 || len(sink.queued) != 0 {
		t.Fatalf("seeding run must not emit events")
	}
	if snap := readSnapshot(t, dir, "ext-1"); len(snap) != 2 {
		t.Fatalf("expected 2 records in snapshot, got %d", len(snap))
	}
}

func TestRunCycleEmitsOnlyNewReviews(t *testing.T) {
	store, dir := newFileStore(t)
	if err := store.Save("ext-1", reviews(t, `[{"id":"1"}]`)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	src := &fakeSource{reviews: reviews(t, `[{"id":"1"},{"id":"2"}]`)}
	sink := &fakeSink{}

	res, err := NewEngine(store, nil, nil).RunCycle(context.Background(), target, src, sink)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.Seeded || res.New != 1 || res.Enqueued != 1 || res.Previous != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	evts := sink.events()
	if len(sink.flushed) != 1 || len(evts) != 1 || evts[0].MessageID != "2" {
		t.Fatalf("expected one flush with review 2, got %#v", sink.flushed)
	}

	snap := readSnapshot(t, dir, "ext-1")
	if len(snap) != 2 || snap[0]["id"] != "1" || snap[1]["id"] != "2" {
		t.Fatalf("snapshot should equal latest fetch, got %#v", snap)
	}
}

func TestRunCycleIdempotentRerun(t *testing.T) {
	store, _ := newFileStore(t)
	if err := store.Save("ext-1", reviews(t, `[{"id":"1"}]`)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	src := &fakeSource{reviews: reviews(t, `[{"id":"1"},{"id":"2"}]`)}
	sink := &fakeSink{}
	engine := NewEngine(store, nil, nil)

	if _, err := engine.RunCycle(context.Background(), target, src, sink); err != nil {
		t.Fatalf("first RunCycle: %v", err)
	}
	res, err := engine.RunCycle(context.Background(), target, src, sink)
	if err != nil {
		t.Fatalf("second RunCycle: %v", err)
	}
	if res.New != 0 || len(sink.events()) != 1 {
		t.Fatalf("second run must not emit, result %+v events %d", res, len(sink.events()))
	}
}

func TestRunCycleOverwritesRatherThanMerges(t *testing.T) {
	store, dir := newFileStore(t)
	if err := store.Save("ext-1", reviews(t, `[{"id":"1"},{"id":"2"}]`)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	src := &fakeSource{reviews: reviews(t, `[{"id":"3"}]`)}
	sink := &fakeSink{}

	if _, err := NewEngine(store, nil, nil).RunCycle(context.Background(), target, src, sink); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	snap := readSnapshot(t, dir, "ext-1")
	if len(snap) != 1 || snap[0]["id"] != "3" {
		t.Fatalf("snapshot must not be merged with history, got %#v", snap)
	}
}

func TestRunCycleFetchFailureLeavesSnapshot(t *testing.T) {
	store, dir := newFileStore(t)
	if err := store.Save("ext-1", reviews(t, `[{"id":"1"}]`)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	src := &fakeSource{err: errors.New("503")}
	sink := &fakeSink{}

	_, err := NewEngine(store, nil, nil).RunCycle(context.Background(), target, src, sink)
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("expected ErrFetch, got %v", err)
	}
	if len(sink.flushed) != 0 {
		t.Fatalf("no events expected on fetch failure")
	}
	if snap := readSnapshot(t, dir, "ext-1"); len(snap) != 1 {
		t.Fatalf("snapshot must be untouched, got %#v", snap)
	}
}

func TestRunCycleReseedsCorruptSnapshot(t *testing.T) {
	store, dir := newFileStore(t)
	if err := os.WriteFile(filepath.Join(dir, "ext-1.json"), []byte(`{"not":"an array"}`), 0o644); err != nil {
		t.Fatalf("write corrupt snapshot: %v", err)
	}
	src := &fakeSource{reviews: reviews(t, `[{"id":"1"}]`)}
	sink := &fakeSink{}

	res, err := NewEngine(store, nil, nil).RunCycle(context.Background(), target, src, sink)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if !res.Seeded || len(sink.flushed) != 0 {
		t.Fatalf("corrupt snapshot should re-seed without events, got %+v", res)
	}
	if snap := readSnapshot(t, dir, "ext-1"); len(snap) != 1 {
		t.Fatalf("snapshot not rewritten: %#v", snap)
	}
}

func TestRunCycleReseedsSnapshotWithoutIdentities(t *testing.T) {
	store, dir := newFileStore(t)
	if err := os.WriteFile(filepath.Join(dir, "ext-1.json"), []byte(`[{"name":"a"},"junk"]`), 0o644); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	src := &fakeSource{reviews: reviews(t, `[{"id":"1"},{"id":"2"}]`)}
	sink := &fakeSink{}

	res, err := NewEngine(store, nil, nil).RunCycle(context.Background(), target, src, sink)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if !res.Seeded || len(sink.events()) != 0 {
		t.Fatalf("snapshot without identities should re-seed silently, got %+v events=%d", res, len(sink.events()))
	}
	if snap := readSnapshot(t, dir, "ext-1"); len(snap) != 2 {
		t.Fatalf("snapshot not rewritten: %#v", snap)
	}
}

func TestRunCycleEmptySnapshotStillDiffs(t *testing.T) {
	store, _ := newFileStore(t)
	if err := store.Save("ext-1", reviews(t, `[]`)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	src := &fakeSource{reviews: reviews(t, `[{"id":"1"}]`)}
	sink := &fakeSink{}

	res, err := NewEngine(store, nil, nil).RunCycle(context.Background(), target, src, sink)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.Seeded || res.Enqueued != 1 {
		t.Fatalf("an empty previous collection is a valid baseline, got %+v", res)
	}
}

func TestRunCycleAbortsOnLoadError(t *testing.T) {
	base, _ := newFileStore(t)
	store := &failingStore{Store: base, loadErr: errors.New("permission denied")}
	src := &fakeSource{reviews: reviews(t, `[{"id":"1"}]`)}

	if _, err := NewEngine(store, nil, nil).RunCycle(context.Background(), target, src, &fakeSink{}); err == nil {
		t.Fatalf("expected load error to abort the cycle")
	}
}

func TestRunCycleContinuesAfterSaveError(t *testing.T) {
	base, _ := newFileStore(t)
	if err := base.Save("ext-1", reviews(t, `[{"id":"1"}]`)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	store := &failingStore{Store: base, saveErr: errors.New("disk full")}
	src := &fakeSource{reviews: reviews(t, `[{"id":"1"},{"id":"2"}]`)}
	sink := &fakeSink{}

	res, err := NewEngine(store, nil, nil).RunCycle(context.Background(), target, src, sink)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.Enqueued != 1 {
		t.Fatalf("save failure must not block emission, got %+v", res)
	}
}

func TestRunCycleSkipsUntranslatableReviews(t *testing.T) {
	store, _ := newFileStore(t)
	if err := store.Save("ext-1", reviews(t, `[]`)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	src := &fakeSource{reviews: reviews(t, `[{"id":"1"},{"id":"2"}]`), failOnID: "1"}
	sink := &fakeSink{}

	res, err := NewEngine(store, nil, nil).RunCycle(context.Background(), target, src, sink)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.New != 2 || res.Enqueued != 1 || sink.events()[0].MessageID != "2" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestRunCycleIgnoresFlushError(t *testing.T) {
	store, _ := newFileStore(t)
	if err := store.Save("ext-1", reviews(t, `[]`)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	src := &fakeSource{reviews: reviews(t, `[{"id":"1"}]`)}
	sink := &fakeSink{err: errors.New("segment down")}

	if _, err := NewEngine(store, nil, nil).RunCycle(context.Background(), target, src, sink); err != nil {
		t.Fatalf("flush errors must not fail the cycle: %v", err)
	}
}

func TestNewReviews(t *testing.T) {
	prev := []domain.Review{{ID: "1"}, {ID: "3"}}
	cur := []domain.Review{{ID: "4"}, {ID: "1"}, {ID: "2"}, {ID: "4"}, {ID: "3"}}

	got := NewReviews(prev, cur)
	if len(got) != 2 || got[0].ID != "4" || got[1].ID != "2" {
		t.Fatalf("unexpected delta %#v", got)
	}
	if len(NewReviews(nil, nil)) != 0 {
		t.Fatalf("empty inputs must yield empty delta")
	}
	if got := NewReviews(nil, []domain.Review{{ID: "a"}}); len(got) != 1 {
		t.Fatalf("everything is new against an empty previous set")
	}
}
