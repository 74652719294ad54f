package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/async"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/export"
	"github.com/joseph-ayodele/docflow/internal/ingest"
)

// BatchStats summarizes a directory run.
type BatchStats struct {
	ingest.DirStats
	Completed  int `json:"completed"`
	WithErrors int `json:"with_errors"`
}

// RunBatch processes every PDF under root with Pipeline.Workers documents in
// flight. Files that fail ingestion still get an output artifact. Documents
// are returned in walk order.
func (a *App) RunBatch(ctx context.Context, root string, skipHidden bool) ([]*entity.DocumentRecord, BatchStats, error) {
	start := time.Now()
	results, dirStats, err := a.Ingestor.IngestDirectory(ctx, root, skipHidden)
	if err != nil {
		return nil, BatchStats{DirStats: dirStats}, err
	}

	docs := make([]*entity.DocumentRecord, len(results))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, a.Config.Pipeline.Workers))
	for i, r := range results {
		if r.Doc == nil && !constants.IsAllowedExt(filepath.Ext(r.Path)) {
			continue
		}
		g.Go(func() error {
			if r.Err != nil || r.Doc == nil {
				docs[i], _ = a.Orchestrator.ProcessFile(gctx, r.Path)
				return nil
			}
			docs[i] = r.Doc
			_ = a.Orchestrator.Process(gctx, r.Doc)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, BatchStats{DirStats: dirStats}, err
	}

	out := docs[:0]
	stats := BatchStats{DirStats: dirStats}
	for _, d := range docs {
		if d == nil {
			continue
		}
		out = append(out, d)
		if d.ErrorMessage != "" {
			stats.WithErrors++
		} else {
			stats.Completed++
		}
	}
	a.Logger.Info("batch.done",
		"root", root,
		"documents", len(out),
		"completed", stats.Completed,
		"with_errors", stats.WithErrors,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, stats, ctx.Err()
}

// WriteWorkbook renders docs as an XLSX summary at path.
func (a *App) WriteWorkbook(docs []*entity.DocumentRecord, path string) error {
	body, err := export.Workbook(docs, a.Logger)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, body, 0o644)
}

// Watch feeds files appearing under roots into a worker queue until ctx is
// done, then drains the queue within the drain timeout. onResult may be nil.
func (a *App) Watch(ctx context.Context, roots []string, drain time.Duration, onResult async.ResultFunc) error {
	p := a.Config.Pipeline
	q := async.NewQueue(a.Orchestrator, a.Logger,
		async.WithWorkers(p.Workers),
		async.WithQueueSize(p.QueueSize),
		async.WithProcessTimeout(p.ProcessTimeout),
		async.WithResultFunc(onResult),
	)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), drain)
		defer cancel()
		q.Shutdown(sctx)
	}()

	paths, errs, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
		Roots:       roots,
		InitialScan: true,
		Debounce:    p.Debounce,
		SkipHidden:  true,
	}, a.Logger)
	if err != nil {
		return err
	}

	for {
		select {
		case path, ok := <-paths:
			if !ok {
				return nil
			}
			if err := q.Enqueue(ctx, async.NewJob(path)); err != nil {
				if errors.Is(err, async.ErrQueueClosed) || ctx.Err() != nil {
					return nil
				}
				a.Logger.Error("watch.enqueue.failed", "path", path, "error", err)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			a.Logger.Error("watch.error", "error", err)
		}
	}
}
