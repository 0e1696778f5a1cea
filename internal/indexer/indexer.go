package indexer

import (
	"context"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"media-indexer/internal/catalog"
	"media-indexer/internal/config"
	"media-indexer/internal/logging"
	"media-indexer/internal/mediatypes"
	"media-indexer/internal/metrics"
	"media-indexer/internal/pipeline"
	"media-indexer/internal/scanner"
	"media-indexer/internal/search"
	"media-indexer/internal/slots"
	"media-indexer/internal/ui"
)

// Processor is one conversion pipeline. The three kind pipelines implement it.
type Processor interface {
	Process(ctx context.Context, file string, slot *slots.Slot) pipeline.Outcome
}

// Indexer drives a full indexing run.
type Indexer struct {
	cfg    *config.Resolved
	store  catalog.Store
	search search.Index
	pool   *slots.Pool
	ui     ui.UI

	pipelines map[mediatypes.Kind]Processor
	scan      *scanner.Scanner
	cache     *pathCache
	queue     chan slots.Item
	runCtx    context.Context

	// Stats is readable while the run is in flight.
	Stats Stats
}

// New wires an Indexer from the shared pipeline environment.
func New(env *pipeline.Env) *Indexer {
	ix := &Indexer{
		cfg:    env.Cfg,
		store:  env.Store,
		search: env.Search,
		pool:   env.Pool,
		ui:     env.UI,
		cache:  newPathCache(env.Cfg.Cache),
		queue:  make(chan slots.Item, env.Pool.Size()*2),
	}

	ix.pipelines = make(map[mediatypes.Kind]Processor)
	if env.Cfg.Image.Enabled {
		ix.pipelines[mediatypes.KindImage] = pipeline.NewImage(env)
	}
	if env.Cfg.Text.Enabled {
		ix.pipelines[mediatypes.KindText] = pipeline.NewText(env)
	}
	if env.Cfg.Video.Enabled {
		ix.pipelines[mediatypes.KindVideo] = pipeline.NewVideo(env)
	}

	var rules []scanner.Rule
	for _, kind := range mediatypes.Kinds {
		if _, ok := ix.pipelines[kind]; !ok {
			continue
		}
		common := ix.common(kind)
		rules = append(rules, scanner.Rule{
			Kind:    kind,
			Pattern: common.Pattern,
			Exclude: common.Exclude,
		})
	}
	ix.scan = scanner.New(env.Cfg.Scanner, rules, ix)

	return ix
}

func (ix *Indexer) common(kind mediatypes.Kind) config.ResolvedCommon {
	switch kind {
	case mediatypes.KindImage:
		return ix.cfg.Image.ResolvedCommon
	case mediatypes.KindText:
		return ix.cfg.Text.ResolvedCommon
	default:
		return ix.cfg.Video.ResolvedCommon
	}
}

// Scanned implements scanner.Sink: count the emission, consult the path cache
// and enqueue for conversion.
func (ix *Indexer) Scanned(kind mediatypes.Kind, index int64, path string) {
	metrics.FilesScanned.WithLabelValues(string(kind)).Inc()
	ix.Stats.Files.Add(1)
	ix.ui.SetTotal(ix.Stats.Files.Load())

	if ix.cache.Has(path) {
		logging.Debug("cached, skipping: %s", path)
		metrics.FilesSkipped.WithLabelValues(string(kind)).Inc()
		ix.Stats.Skipped.Add(1)
		ix.ui.Advance()
		return
	}

	logging.Debug("scanned #%d %s: %s", index, kind, path)
	select {
	case ix.queue <- slots.Item{Kind: kind, File: path}:
	case <-ix.runCtx.Done():
		// run cancelled while the queue was full; the file stays unprocessed
	}
}

// Run executes the indexing run and blocks until it finishes or ctx is
// cancelled. In persistent mode the scan repeats on the configured interval.
func (ix *Indexer) Run(ctx context.Context) error {
	ix.runCtx = ctx
	runID := uuid.NewString()
	started := time.Now()
	logging.Info("run %s starting over %v", runID, ix.cfg.Scan)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ix.pool.Run(ctx, ix.queue, ix.handle)
	}()

	for {
		ix.scan.Add(ix.cfg.Scan...)
		ix.scan.Scan(ctx)

		dirs, _ := ix.scan.Counters()
		ix.Stats.Directories.Store(dirs)
		metrics.DirectoriesScanned.Add(float64(dirs))

		if !ix.cfg.Scanner.Persistent || ctx.Err() != nil {
			break
		}

		interval := time.Duration(ix.cfg.Scanner.RescanMS) * time.Millisecond
		if interval <= 0 {
			interval = time.Minute
		}
		logging.Debug("rescan in %v", interval)
		select {
		case <-ctx.Done():
		case <-time.After(interval):
			ix.scan.Clear()
			continue
		}
		break
	}

	close(ix.queue)
	<-done

	return ix.finish(ctx, runID, started)
}

// handle converts one queued file in its slot.
func (ix *Indexer) handle(ctx context.Context, item slots.Item, slot *slots.Slot) {
	proc, ok := ix.pipelines[item.Kind]
	if !ok {
		logging.Error("no pipeline for %s: %s", item.Kind, item.File)
		ix.Stats.Failed.Add(1)
		ix.ui.Advance()
		return
	}

	metrics.SlotsBusy.Inc()
	defer metrics.SlotsBusy.Dec()

	kind := string(item.Kind)
	ix.ui.SlotStart(slot.Row, kind, filepath.Base(item.File))
	defer ix.ui.SlotStop(slot.Row)

	start := time.Now()
	outcome := proc.Process(ctx, item.File, slot)
	metrics.ConversionDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	switch outcome {
	case pipeline.Converted:
		ix.Stats.Converted.Add(1)
		metrics.FilesConverted.WithLabelValues(kind).Inc()
		// per-type counters track successful conversions, not emissions
		switch item.Kind {
		case mediatypes.KindImage:
			ix.Stats.Images.Add(1)
		case mediatypes.KindText:
			ix.Stats.Texts.Add(1)
		case mediatypes.KindVideo:
			ix.Stats.Videos.Add(1)
		}
	case pipeline.Duplicate:
		ix.Stats.Duplicates.Add(1)
		metrics.FilesDuplicate.WithLabelValues(kind).Inc()
	case pipeline.Skipped:
		ix.Stats.Skipped.Add(1)
		metrics.FilesSkipped.WithLabelValues(kind).Inc()
	case pipeline.Failed:
		ix.Stats.Failed.Add(1)
		metrics.FilesFailed.WithLabelValues(kind).Inc()
	}
	logging.Debug("%s: %s (%s)", outcome, item.File, time.Since(start).Round(time.Millisecond))

	if outcome != pipeline.Failed {
		ix.cache.Add(item.File)
	}
	ix.ui.Advance()
}

// finish persists the cache, refreshes search and records the run.
func (ix *Indexer) finish(ctx context.Context, runID string, started time.Time) error {
	if err := ix.FlushIndexCache(); err != nil {
		logging.Error("cannot flush index cache: %v", err)
	}

	if ix.cfg.Search.Enabled {
		for _, idx := range []string{ix.cfg.Search.Index, ix.cfg.Search.SubtitlesIndex} {
			if err := ix.search.Refresh(ctx, idx); err != nil {
				logging.Warn("refresh %s: %v", idx, err)
			}
		}
	}

	snap := ix.Stats.Snapshot()
	run := catalog.Run{
		ID:       runID,
		Started:  started,
		Finished: time.Now(),
		Stats:    ix.Stats.JSON(),
	}
	if err := ix.store.RecordRun(ctx, run); err != nil {
		logging.Error("cannot record run %s: %v", runID, err)
	}

	logging.Info("run %s finished in %s: %d dirs, %d files (%d converted, %d duplicates, %d skipped, %d failed)",
		runID, time.Since(started).Round(time.Second),
		snap.Directories, snap.Files,
		snap.Converted, snap.Duplicates, snap.Skipped, snap.Failed)
	return nil
}

// FlushIndexCache writes the indexed-path cache to disk. Safe to call while a
// run is in flight; the signal handler uses it.
func (ix *Indexer) FlushIndexCache() error {
	return ix.cache.Flush()
}
