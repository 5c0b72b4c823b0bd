package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func counterValue(t *testing.T, c *Collector, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := c.Gatherer().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metric:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue metric
				}
			}
			if m.GetCounter() != nil {
				return m.GetCounter().GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	return 0
}

func TestCollectorCounts(t *testing.T) {
	c := New("review-watcher")
	c.ReviewsFetched("jetbrains", 3)
	c.ReviewsFetched("jetbrains", 2)
	c.ReviewsNew("vscode", 1)
	c.CycleFailed("vscode", StageFetch)
	c.CycleFailed("vscode", StageFetch)
	c.CorruptSnapshot("jetbrains")
	c.ReviewsFetched("jetbrains", 0)

	if got := counterValue(t, c, "review_watcher_reviews_fetched_total", map[string]string{"marketplace": "jetbrains"}); got != 5 {
		t.Fatalf("reviews fetched = %v", got)
	}
	if got := counterValue(t, c, "review_watcher_reviews_new_total", map[string]string{"marketplace": "vscode"}); got != 1 {
		t.Fatalf("reviews new = %v", got)
	}
	if got := counterValue(t, c, "review_watcher_cycle_failures_total", map[string]string{"marketplace": "vscode", "stage": StageFetch}); got != 2 {
		t.Fatalf("cycle failures = %v", got)
	}
	if got := counterValue(t, c, "review_watcher_corrupt_snapshots_total", map[string]string{"marketplace": "jetbrains"}); got != 1 {
		t.Fatalf("corrupt snapshots = %v", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.ReviewsFetched("x", 1)
	c.CycleFailed("x", StageSave)
	c.RunCompleted(time.Second)
	if err := c.WriteTextfile(filepath.Join(t.TempDir(), "m.prom")); err != nil {
		t.Fatalf("WriteTextfile on nil collector: %v", err)
	}
}

func TestWriteTextfile(t *testing.T) {
	c := New("")
	c.EventsEnqueued("vscode", 4)
	c.RunCompleted(1500 * time.Millisecond)

	path := filepath.Join(t.TempDir(), "watcher.prom")
	if err := c.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, `review_watcher_events_enqueued_total{marketplace="vscode"} 4`) {
		t.Fatalf("events counter missing:\n%s", out)
	}
	if !strings.Contains(out, "review_watcher_last_run_duration_seconds 1.5") {
		t.Fatalf("duration gauge missing:\n%s", out)
	}
}
