package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/samvad-hq/review-watcher/internal/config"
	"github.com/samvad-hq/review-watcher/internal/domain"
	"github.com/samvad-hq/review-watcher/internal/logger"
	"github.com/samvad-hq/review-watcher/internal/metrics"
	"github.com/samvad-hq/review-watcher/internal/storage"
	"github.com/samvad-hq/review-watcher/internal/watcher"
	"github.com/samvad-hq/review-watcher/pkg/httpclient"
	"github.com/samvad-hq/review-watcher/pkg/marketplaces"
	"github.com/samvad-hq/review-watcher/pkg/sinks"
)

// EventSink is the run-scoped outbound queue. *sinks.Sink implements it.
type EventSink interface {
	watcher.EventSink
	Close(ctx context.Context) error
	Size() int
}

// Watcher is the review watcher runtime. It enumerates every configured
// marketplace publisher, runs the diff cycle per extension and owns the sink
// and snapshot store for the lifetime of Run.
type Watcher struct {
	cfg         *config.Config
	sources     []marketplaces.Source
	registry    marketplaces.Registry
	engine      *watcher.Engine
	sink        EventSink
	store       storage.Store
	metrics     *metrics.Collector
	runInterval time.Duration
	log         logger.Logger
}

// NewWatcher builds a watcher runtime from config.
func NewWatcher(ctx context.Context, cfg *config.Config, log logger.Logger) (*Watcher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	log = logger.Ensure(log)
	if ctx == nil {
		ctx = context.Background()
	}

	sourceReg, err := loadSources(cfg.MarketplacesFile, log)
	if err != nil {
		return nil, err
	}
	sources, err := selectSources(sourceReg, cfg.MarketplaceID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(sources))
	for _, s := range sources {
		ids = append(ids, s.ID)
	}
	log.InfoObj("marketplaces loaded", "marketplaces_meta", map[string]any{
		"count": len(ids),
		"ids":   ids,
	})

	// The tracking backend is mandatory; other sinks are optional extras.
	segment, err := sinks.NewSegmentPublisher(sinks.TypeSegment, sinks.SegmentSinkConfig{
		WriteKey:       cfg.SegmentWriteKey,
		Endpoint:       cfg.SegmentEndpoint,
		TimeoutSeconds: int(cfg.HTTPTimeoutSeconds),
	}, log)
	if err != nil {
		return nil, fmt.Errorf("build segment sink: %w", err)
	}
	pubs := []sinks.Publisher{segment}

	extra, err := extraSinks(ctx, cfg.SinksFile, log)
	if err != nil {
		return nil, err
	}
	pubs = append(pubs, extra...)

	summaries := make([]map[string]string, 0, len(pubs))
	for _, p := range pubs {
		summaries = append(summaries, map[string]string{"id": p.ID(), "type": p.Type()})
	}
	log.InfoObj("sinks configured", "sinks_meta", map[string]any{
		"count": len(summaries),
		"sinks": summaries,
	})
	sink := sinks.NewSink(pubs, log)

	store, err := storage.NewStore(cfg.StorageType, storage.Options{
		Dir:       cfg.ReviewsDir,
		BBoltPath: cfg.BBoltPath,
	})
	if err != nil {
		if cerr := sink.Close(ctx); cerr != nil {
			log.ErrorObj("sink close failed", "error", cerr.Error())
		}
		return nil, fmt.Errorf("init storage: %w", err)
	}
	log.InfoObj("storage initialized", "storage_config", map[string]any{
		"type":        cfg.StorageType,
		"reviews_dir": cfg.ReviewsDir,
		"bbolt_path":  cfg.BBoltPath,
	})

	collector := metrics.New(cfg.AppName)
	client := httpclient.NewRestyClient(cfg.HTTPTimeout)

	return &Watcher{
		cfg:         cfg,
		sources:     sources,
		registry:    marketplaces.DefaultRegistry(client),
		engine:      watcher.NewEngine(store, log, collector),
		sink:        sink,
		store:       store,
		metrics:     collector,
		runInterval: cfg.RunInterval,
		log:         log,
	}, nil
}

// loadSources reads the marketplaces file, falling back to the built-in
// publishers when the file does not exist.
func loadSources(path string, log logger.Logger) (*marketplaces.SourceRegistry, error) {
	if strings.TrimSpace(path) != "" {
		reg, err := marketplaces.LoadRegistry(path)
		if err == nil {
			return reg, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load marketplaces registry: %w", err)
		}
		log.WarnObj("marketplaces file not found; using defaults", "marketplaces_file", path)
	}
	return marketplaces.NewSourceRegistry(marketplaces.DefaultSources())
}

// selectSources returns the enabled sources, or only the one named by id.
// An explicitly selected source runs even when disabled in the file.
func selectSources(reg *marketplaces.SourceRegistry, id string) ([]marketplaces.Source, error) {
	if id == "" {
		return reg.Enabled(), nil
	}
	src, ok := reg.ByID(id)
	if !ok {
		return nil, fmt.Errorf("marketplace %q is not configured", id)
	}
	return []marketplaces.Source{src}, nil
}

// extraSinks builds the optional publishers from sinks_file.
var extraSinks = buildExtraSinks

func buildExtraSinks(ctx context.Context, path string, log logger.Logger) ([]sinks.Publisher, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	reg, err := sinks.LoadRegistry(path)
	if err != nil {
		return nil, fmt.Errorf("load sinks registry: %w", err)
	}
	pubs, err := sinks.BuildAll(ctx, sinks.DefaultRegistry(), reg.Enabled(), log)
	if err != nil {
		return nil, fmt.Errorf("build sinks: %w", err)
	}
	return pubs, nil
}

// Run executes one pass, or repeats passes on the configured interval until
// ctx is cancelled. The sink and store are released on every exit path.
func (w *Watcher) Run(ctx context.Context) error {
	if w == nil || w.engine == nil || w.sink == nil {
		return fmt.Errorf("watcher is not initialized")
	}
	defer w.shutdown()

	if len(w.sources) == 0 {
		w.log.WarnObj("no marketplaces enabled; nothing to watch", "marketplaces_file", w.cfg.MarketplacesFile)
		return nil
	}

	w.log.InfoObj("watcher starting", "watcher_state", map[string]any{
		"marketplaces_count": len(w.sources),
		"sinks_count":        w.sink.Size(),
		"run_interval":       w.runInterval.String(),
	})

	if err := w.runOnce(ctx); err != nil {
		w.log.ErrorObj("run finished with errors", "error", err.Error())
	}
	if w.runInterval <= 0 {
		return nil
	}

	ticker := time.NewTicker(w.runInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.InfoObj("watcher loop exiting", "reason", ctx.Err().Error())
			return nil
		case <-ticker.C:
			if err := w.runOnce(ctx); err != nil {
				w.log.ErrorObj("scheduled run finished with errors", "error", err.Error())
			}
		}
	}
}

// runOnce walks every source and target sequentially. Failures are collected
// per target and never stop the pass.
func (w *Watcher) runOnce(ctx context.Context) error {
	start := time.Now()
	w.log.InfoObj("run started", "run_meta", map[string]any{
		"marketplaces_count": len(w.sources),
		"started_at":         start.UTC(),
	})

	var (
		errs    []error
		targets int
		emitted int
	)
	for _, src := range w.sources {
		if ctx.Err() != nil {
			break
		}
		n, e, err := w.runSource(ctx, src)
		targets += n
		emitted += e
		if err != nil {
			errs = append(errs, err)
		}
	}

	elapsed := time.Since(start)
	w.metrics.RunCompleted(elapsed)
	if err := w.metrics.WriteTextfile(w.cfg.MetricsTextfile); err != nil {
		w.log.WarnObj("metrics textfile write failed", "error", err.Error())
	}
	w.log.InfoObj("run completed", "run_meta", map[string]any{
		"targets":    targets,
		"events":     emitted,
		"failures":   len(errs),
		"elapsed_ms": elapsed.Milliseconds(),
	})
	return errors.Join(errs...)
}

// runSource enumerates a publisher's extensions and cycles each one.
func (w *Watcher) runSource(ctx context.Context, src marketplaces.Source) (int, int, error) {
	mp, err := w.registry.MarketplaceFor(src)
	if err != nil {
		return 0, 0, fmt.Errorf("resolve marketplace %s: %w", src.ID, err)
	}

	targets, err := mp.ListExtensions(ctx, src.Publisher)
	if err != nil {
		w.metrics.CycleFailed(src.ID, metrics.StageList)
		w.log.ErrorObj("list extensions failed", "marketplace_error", map[string]any{
			"marketplace_id":   src.ID,
			"marketplace_type": mp.Type(),
			"publisher":        src.Publisher,
			"error":            err.Error(),
		})
		return 0, 0, fmt.Errorf("list extensions %s/%s: %w", src.ID, src.Publisher, err)
	}
	w.log.InfoObj("extensions listed", "marketplace_meta", map[string]any{
		"marketplace_id":   src.ID,
		"marketplace_type": mp.Type(),
		"publisher":        src.Publisher,
		"extensions":       len(targets),
	})

	var (
		errs    []error
		done    int
		emitted int
	)
	for _, target := range targets {
		if ctx.Err() != nil {
			break
		}
		res, err := w.engine.RunCycle(ctx, target, mp, w.sink)
		done++
		emitted += res.Enqueued
		if err != nil {
			errs = append(errs, err)
			w.log.ErrorObj("review cycle failed", "cycle_error", map[string]any{
				"target": targetLabel(target),
				"error":  err.Error(),
			})
		}
	}
	return done, emitted, errors.Join(errs...)
}

func targetLabel(t domain.WatchTarget) string {
	if t.DisplayName == "" {
		return t.String()
	}
	return t.String() + " (" + t.DisplayName + ")"
}

// shutdown flushes and closes the sink, then closes the store.
func (w *Watcher) shutdown() {
	// Detached from the run context, which may already be cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := w.sink.Close(ctx); err != nil {
		w.log.ErrorObj("sink close failed", "error", err.Error())
	}
	if w.store != nil {
		if err := w.store.Close(); err != nil {
			w.log.ErrorObj("storage close failed", "error", err.Error())
		}
	}
}
