package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Failure stages reported by CycleFailed.
const (
	StageFetch     = "fetch"
	StageLoad      = "load"
	StageSave      = "save"
	StageTranslate = "translate"
	StageFlush     = "flush"
	StageList      = "list"
)

// Collector holds the counters of one watcher process on a private registry.
type Collector struct {
	registry *prometheus.Registry

	reviewsFetched   *prometheus.CounterVec
	reviewsNew       *prometheus.CounterVec
	eventsEnqueued   *prometheus.CounterVec
	cycleFailures    *prometheus.CounterVec
	corruptSnapshots *prometheus.CounterVec
	seededTargets    *prometheus.CounterVec
	lastRunDuration  prometheus.Gauge
}

// New registers the watcher metrics under the given namespace.
func New(namespace string) *Collector {
	ns := strings.ReplaceAll(strings.TrimSpace(namespace), "-", "_")
	if ns == "" {
		ns = "review_watcher"
	}

	c := &Collector{registry: prometheus.NewRegistry()}

	c.reviewsFetched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "reviews_fetched_total",
		Help:      "Reviews returned by marketplace fetches.",
	}, []string{"marketplace"})
	c.reviewsNew = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "reviews_new_total",
		Help:      "Reviews absent from the previous snapshot.",
	}, []string{"marketplace"})
	c.eventsEnqueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "events_enqueued_total",
		Help:      "Review events handed to the sink.",
	}, []string{"marketplace"})
	c.cycleFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "cycle_failures_total",
		Help:      "Failed cycle steps by stage.",
	}, []string{"marketplace", "stage"})
	c.corruptSnapshots = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "corrupt_snapshots_total",
		Help:      "Snapshots that could not be decoded and were re-seeded.",
	}, []string{"marketplace"})
	c.seededTargets = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "seeded_targets_total",
		Help:      "Cycles that wrote an initial snapshot.",
	}, []string{"marketplace"})
	c.lastRunDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "last_run_duration_seconds",
		Help:      "Wall time of the most recent run.",
	})

	c.registry.MustRegister(
		c.reviewsFetched,
		c.reviewsNew,
		c.eventsEnqueued,
		c.cycleFailures,
		c.corruptSnapshots,
		c.seededTargets,
		c.lastRunDuration,
	)
	return c
}

// Methods are nil-safe so components can run without metrics.

func (c *Collector) ReviewsFetched(marketplace string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.reviewsFetched.WithLabelValues(marketplace).Add(float64(n))
}

func (c *Collector) ReviewsNew(marketplace string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.reviewsNew.WithLabelValues(marketplace).Add(float64(n))
}

func (c *Collector) EventsEnqueued(marketplace string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.eventsEnqueued.WithLabelValues(marketplace).Add(float64(n))
}

func (c *Collector) CycleFailed(marketplace, stage string) {
	if c == nil {
		return
	}
	c.cycleFailures.WithLabelValues(marketplace, stage).Inc()
}

func (c *Collector) CorruptSnapshot(marketplace string) {
	if c == nil {
		return
	}
	c.corruptSnapshots.WithLabelValues(marketplace).Inc()
}

func (c *Collector) Seeded(marketplace string) {
	if c == nil {
		return
	}
	c.seededTargets.WithLabelValues(marketplace).Inc()
}

func (c *Collector) RunCompleted(elapsed time.Duration) {
	if c == nil {
		return
	}
	c.lastRunDuration.Set(elapsed.Seconds())
}

// Gatherer exposes the private registry.
func (c *Collector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return prometheus.NewRegistry()
	}
	return c.registry
}

// WriteTextfile dumps all metrics in the node-exporter textfile format.
// An empty path is a no-op.
func (c *Collector) WriteTextfile(path string) error {
	if c == nil || strings.TrimSpace(path) == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, c.registry)
}
