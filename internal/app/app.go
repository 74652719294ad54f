// Package app assembles the pipeline from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joseph-ayodele/docflow/internal/bbox"
	"github.com/joseph-ayodele/docflow/internal/cache"
	"github.com/joseph-ayodele/docflow/internal/classify"
	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/export"
	"github.com/joseph-ayodele/docflow/internal/extract"
	"github.com/joseph-ayodele/docflow/internal/gcp"
	"github.com/joseph-ayodele/docflow/internal/ingest"
	"github.com/joseph-ayodele/docflow/internal/llm"
	"github.com/joseph-ayodele/docflow/internal/llm/anthropic"
	"github.com/joseph-ayodele/docflow/internal/llm/gemini"
	"github.com/joseph-ayodele/docflow/internal/llm/openai"
	"github.com/joseph-ayodele/docflow/internal/normalize"
	"github.com/joseph-ayodele/docflow/internal/ocr"
	"github.com/joseph-ayodele/docflow/internal/pipeline"
	"github.com/joseph-ayodele/docflow/internal/repository"
	"github.com/joseph-ayodele/docflow/internal/schema"
	"github.com/joseph-ayodele/docflow/internal/validate"
)

// Options adjust how New wires the pipeline.
type Options struct {
	// InMemory uses a private in-memory SQLite database.
	InMemory bool
	// NoDatabase skips persistence entirely.
	NoDatabase bool
	// Registerer receives the pipeline metrics; nil uses the default registry.
	Registerer prometheus.Registerer
	// Providers replaces the configured LLM providers.
	Providers []llm.Provider
	// Locator replaces the PDF text/OCR locator.
	Locator pipeline.Locator
	// PageCounter replaces the ingest page counter.
	PageCounter ingest.PageCounter
}

// App owns every long-lived dependency of a pipeline run.
type App struct {
	Config       *common.Config
	Logger       *slog.Logger
	Metrics      *pipeline.Metrics
	Ingestor     *ingest.Ingestor
	Orchestrator *pipeline.Orchestrator
	Store        *repository.Store
	Storage      *gcp.Storage
	Status       *gcp.StatusStore

	closers []func() error
}

// New builds the pipeline described by cfg. Close releases what it opened.
func New(ctx context.Context, cfg *common.Config, logger *slog.Logger, opts Options) (a *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a = &App{Config: cfg, Logger: logger, Metrics: pipeline.NewMetrics(opts.Registerer)}
	defer func() {
		if err != nil {
			_ = a.Close()
			a = nil
		}
	}()

	if err := a.openStore(ctx, opts); err != nil {
		return nil, err
	}
	if err := a.openGCP(ctx); err != nil {
		return nil, err
	}

	providers := append([]llm.Provider(nil), opts.Providers...)
	if len(providers) == 0 {
		if providers, err = a.buildProviders(ctx); err != nil {
			return nil, err
		}
	}
	for i, p := range providers {
		providers[i] = a.Metrics.Instrument(llm.NewLimited(p, cfg.LLM.RequestsPerSecond, cfg.LLM.Burst))
	}
	if len(providers) == 0 {
		return nil, common.NewConfigurationError("no llm providers configured", common.ErrConfig)
	}

	ocrCfg := ocr.ConfigFrom(cfg.OCR)
	renderer := ocr.NewRenderer(ocrCfg, nil, logger)
	var locator pipeline.Locator = ocr.NewLocator(ocrCfg, logger)
	if opts.Locator != nil {
		locator = opts.Locator
	}

	results := cache.NewMemory(cfg.Cache.TTL, cfg.Cache.Cleanup)
	schemas := schema.NewFileStore(cfg.Extract.SchemaDir, logger)

	a.Ingestor = a.newIngestor(opts)
	stages := pipeline.Stages{
		Ingester:   a.Ingestor,
		Locator:    locator,
		Cleaner:    normalize.New(logger),
		Classifier: classify.New(classify.ConfigFrom(cfg.Classify, cfg.LLM), providers, logger, classify.WithRenderer(renderer), classify.WithCache(results)),
		Extractor:  extract.New(extract.ConfigFrom(cfg.Extract, cfg.LLM), schemas, providers, logger, extract.WithCache(results)),
		Resolver:   bbox.New(bbox.ConfigFrom(cfg.BBox, cfg.Extract.Retry), logger, bbox.WithVision(providers[0], renderer)),
		Validator:  validate.New(logger),
		Schemas:    schemas,
	}

	popts := []pipeline.Option{
		pipeline.WithMetrics(a.Metrics),
		pipeline.WithSink(export.NewJSONSink(cfg.Output.Dir, logger)),
	}
	if a.Storage != nil && cfg.Output.UploadGCS {
		popts = append(popts, pipeline.WithSink(a.Storage))
	}
	if a.Store != nil {
		popts = append(popts, pipeline.WithResultStore(a.Store))
	}
	if a.Status != nil {
		popts = append(popts, pipeline.WithResultStore(a.Status))
	}

	if a.Orchestrator, err = pipeline.New(stages, logger, popts...); err != nil {
		return nil, err
	}
	logger.Info("app.ready",
		"providers", len(providers),
		"db", a.Store != nil,
		"gcs", a.Storage != nil,
		"firestore", a.Status != nil,
	)
	return a, nil
}

func (a *App) newIngestor(opts Options) *ingest.Ingestor {
	var iopts []ingest.Option
	if a.Storage != nil {
		iopts = append(iopts, ingest.WithFetcher(a.Storage))
	}
	switch {
	case a.Store != nil:
		iopts = append(iopts, ingest.WithHashIndex(a.Store))
	case a.Status != nil:
		iopts = append(iopts, ingest.WithHashIndex(a.Status))
	}
	if opts.PageCounter != nil {
		iopts = append(iopts, ingest.WithPageCounter(opts.PageCounter))
	}
	return ingest.New(a.Logger, iopts...)
}

// openStore picks Postgres when a DSN is set, otherwise SQLite. SQLite
// schemas are migrated on open.
func (a *App) openStore(ctx context.Context, opts Options) error {
	db := a.Config.Database
	var (
		s   *repository.Store
		err error
	)
	switch {
	case opts.NoDatabase:
		return nil
	case opts.InMemory:
		s, err = repository.OpenSQLite(ctx, ":memory:", a.Logger)
	case db.DSN != "":
		s, err = repository.Open(ctx, repository.ConfigFrom(db), a.Logger)
	case db.SQLitePath != "":
		s, err = repository.OpenSQLite(ctx, db.SQLitePath, a.Logger)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	a.Store = s
	a.closers = append(a.closers, s.Close)

	if db.DSN == "" || opts.InMemory {
		return s.Migrate(ctx)
	}
	return s.HealthCheck(ctx, db.DialTimeout)
}

func (a *App) openGCP(ctx context.Context) error {
	g := a.Config.GCP
	if g.Bucket != "" {
		s, err := gcp.NewStorage(ctx, g.Bucket, a.Logger)
		if err != nil {
			return err
		}
		a.Storage = s
		a.closers = append(a.closers, s.Close)
	}
	if g.FirestoreCollection != "" {
		client, err := gcp.NewFirestoreClient(ctx, g.ProjectID)
		if err != nil {
			return err
		}
		a.Status = gcp.NewStatusStore(client, g.FirestoreCollection, a.Logger)
		a.closers = append(a.closers, a.Status.Close)
	}
	return nil
}

// buildProviders creates the configured providers in order.
func (a *App) buildProviders(ctx context.Context) ([]llm.Provider, error) {
	l := a.Config.LLM
	var out []llm.Provider
	for _, name := range l.Providers {
		switch name {
		case llm.ProviderOpenAI:
			out = append(out, openai.NewClient(openai.Config{
				APIKey:      l.OpenAI.APIKey,
				BaseURL:     l.OpenAI.BaseURL,
				Model:       l.OpenAI.Model,
				VisionModel: l.OpenAI.VisionModel,
				MaxTokens:   l.MaxTokens,
				Timeout:     l.Timeout,
			}, a.Logger))
		case llm.ProviderAnthropic:
			out = append(out, anthropic.NewClient(anthropic.Config{
				APIKey:    l.Anthropic.APIKey,
				BaseURL:   l.Anthropic.BaseURL,
				Model:     l.Anthropic.Model,
				MaxTokens: l.MaxTokens,
				Timeout:   l.Timeout,
			}, a.Logger))
		case llm.ProviderGemini:
			g, err := gemini.NewClient(ctx, gemini.Config{
				ProjectID: a.Config.GCP.ProjectID,
				Region:    a.Config.GCP.Region,
				Model:     l.Gemini.Model,
				MaxTokens: l.MaxTokens,
			}, a.Logger)
			if err != nil {
				return nil, common.NewConfigurationError("gemini provider", err)
			}
			out = append(out, g)
			a.closers = append(a.closers, g.Close)
		default:
			return nil, common.NewConfigurationError("unknown llm provider "+name, common.ErrConfig)
		}
	}
	return out, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
