// Package extract turns cleaned document text into a schema-shaped tree of
// extracted fields.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/cache"
	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/llm"
	"github.com/joseph-ayodele/docflow/internal/schema"
)

// Extraction modes reported in Metadata.
const (
	ModeSingle  = "single"
	ModeChunked = "chunked"
)

type Config struct {
	ChunkSize    int
	ChunkOverlap int
	TokenBudget  int
	Overhead     int
	Parallelism  int
	SumTolerance float64
	MaxTokens    int
	Temperature  float32
	Timeout      time.Duration
	Retry        llm.Backoff
}

// ConfigFrom adapts the application config sections.
func ConfigFrom(c common.ExtractConfig, l common.LLMConfig) Config {
	return Config{
		ChunkSize:    c.ChunkSize,
		ChunkOverlap: c.ChunkOverlap,
		TokenBudget:  c.TokenBudget,
		Overhead:     c.Overhead,
		Parallelism:  c.Parallelism,
		SumTolerance: c.SumTolerance,
		MaxTokens:    l.MaxTokens,
		Temperature:  l.Temperature,
		Timeout:      l.Timeout,
		Retry:        llm.BackoffFrom(c.Retry),
	}
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 50000
	}
	if c.ChunkOverlap <= 0 {
		c.ChunkOverlap = 2000
	}
	if c.TokenBudget <= 0 {
		c.TokenBudget = 100000
	}
	if c.Overhead <= 0 {
		c.Overhead = 1000
	}
	if c.Parallelism <= 0 {
		c.Parallelism = 1
	}
	if c.SumTolerance <= 0 {
		c.SumTolerance = 0.01
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4000
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 3
	}
	return c
}

// Input is what extraction needs from the document.
type Input struct {
	Text         string
	DocumentType constants.DocumentType
	Filename     string
}

// Metadata describes how a tree was produced.
type Metadata struct {
	Mode            string                   `json:"mode"`
	ChunkCount      int                      `json:"chunk_count"`
	FailedChunks    []int                    `json:"failed_chunks,omitempty"`
	ChunkErrors     []string                 `json:"chunk_errors,omitempty"`
	Provider        string                   `json:"provider"`
	TokensEstimated int                      `json:"tokens_estimated"`
	TokensUsed      int                      `json:"tokens_used"`
	Retries         int                      `json:"retries"`
	Quality         Quality                  `json:"quality"`
	AddedFields     []string                 `json:"added_fields,omitempty"`
	Sanitized       []string                 `json:"sanitized_fields,omitempty"`
	Reconciled      []Reconciliation         `json:"reconciled,omitempty"`
	Cached          bool                     `json:"cached"`
	Duration        time.Duration            `json:"duration"`
	Status          constants.PipelineStatus `json:"status"`
}

// Result is the completed tree plus its metadata.
type Result struct {
	Data     map[string]any
	Metadata Metadata
}

// chunkOutcome is the result of one chunk call; failures are kept, not thrown.
type chunkOutcome struct {
	Index     int
	Tree      map[string]any
	Provider  string
	Tokens    int
	Retries   int
	Sanitized []string
	Err       error
}

type Extractor struct {
	cfg       Config
	schemas   schema.Store
	providers []llm.Provider
	cache     cache.Typed[Result]
	logger    *slog.Logger

	compiled sync.Map // constants.DocumentType -> *jsonschema.Schema
}

type Option func(*Extractor)

// WithCache shares a result cache across documents.
func WithCache(m *cache.Memory) Option {
	return func(e *Extractor) { e.cache = cache.NewTyped[Result](m) }
}

func New(cfg Config, schemas schema.Store, providers []llm.Provider, logger *slog.Logger, opts ...Option) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Extractor{cfg: cfg.withDefaults(), schemas: schemas, providers: providers, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract runs single-pass or chunked extraction, then completes the tree
// against the schema and reconciles summed amounts.
func (e *Extractor) Extract(ctx context.Context, in Input) (*Result, error) {
	start := time.Now()
	log := common.LoggerFrom(ctx, e.logger).With("doc_type", in.DocumentType)

	fs, err := e.schemas.Load(ctx, in.DocumentType)
	if err != nil {
		return nil, err
	}
	if len(e.providers) == 0 {
		return nil, common.NewExtractionError("no llm providers configured", common.ErrConfig)
	}

	key := cache.Key("extract", in.Text, string(in.DocumentType))
	if cached, ok := e.cache.Get(key); ok {
		cached.Data = entity.CopyTree(cached.Data)
		cached.Metadata.Cached = true
		log.Info("extract.cache.hit", "quality", cached.Metadata.Quality.Score)
		return &cached, nil
	}

	meta := Metadata{TokensEstimated: EstimateTokens(len(in.Text)) + EstimateTokens(len(fs.Raw())) + e.cfg.Overhead}
	var tree map[string]any
	if meta.TokensEstimated > e.cfg.TokenBudget {
		tree, err = e.extractChunked(ctx, log, in.Text, fs, &meta)
	} else {
		tree, err = e.extractSingle(ctx, log, in.Text, fs, &meta)
	}
	if err != nil {
		return nil, err
	}

	meta.Quality = Assess(tree, fs)
	meta.AddedFields = Complete(tree, fs)
	meta.Reconciled = Reconcile(tree, e.cfg.SumTolerance)
	meta.Status = meta.Quality.Level.ExtractionStatus()
	meta.Duration = time.Since(start)

	for _, r := range meta.Reconciled {
		log.Warn("extract.reconcile.corrected", "path", r.Path, "reported", r.Reported, "computed", r.Computed)
	}
	log.Info("extract.ok",
		"mode", meta.Mode,
		"chunks", meta.ChunkCount,
		"failed_chunks", len(meta.FailedChunks),
		"provider", meta.Provider,
		"tokens_estimated", meta.TokensEstimated,
		"tokens_used", meta.TokensUsed,
		"quality", meta.Quality.Score,
		"level", meta.Quality.Level,
		"added_fields", len(meta.AddedFields),
		"reconciled", len(meta.Reconciled),
		"elapsed_ms", meta.Duration.Milliseconds(),
	)

	res := Result{Data: tree, Metadata: meta}
	e.cache.Set(key, Result{Data: entity.CopyTree(tree), Metadata: meta})
	return &res, nil
}

func (e *Extractor) extractSingle(ctx context.Context, log *slog.Logger, text string, fs *schema.FieldSchema, meta *Metadata) (map[string]any, error) {
	meta.Mode, meta.ChunkCount = ModeSingle, 1
	log.Info("extract.start", "mode", ModeSingle, "chars", len(text), "tokens_estimated", meta.TokensEstimated)

	out := e.callProviders(ctx, log, 0, text, fs, "")
	meta.Retries += out.Retries
	if out.Err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, common.NewExtractionError("extraction failed", out.Err).With("mode", ModeSingle)
	}
	meta.Provider, meta.TokensUsed, meta.Sanitized = out.Provider, out.Tokens, out.Sanitized
	return out.Tree, nil
}

func (e *Extractor) extractChunked(ctx context.Context, log *slog.Logger, text string, fs *schema.FieldSchema, meta *Metadata) (map[string]any, error) {
	chunks := SplitText(text, e.cfg.ChunkSize, e.cfg.ChunkOverlap)
	meta.Mode, meta.ChunkCount = ModeChunked, len(chunks)
	log.Info("extract.start",
		"mode", ModeChunked,
		"chars", len(text),
		"chunks", len(chunks),
		"tokens_estimated", meta.TokensEstimated,
		"parallelism", e.cfg.Parallelism,
	)

	outcomes := make([]chunkOutcome, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Parallelism)
	for i, c := range chunks {
		g.Go(func() error {
			label := fmt.Sprintf("chunk %d of %d", i+1, len(chunks))
			outcomes[i] = e.callProviders(gctx, log.With("chunk", i+1), i, c.Text, fs, label)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var trees []map[string]any
	providers := map[string]bool{}
	for _, o := range outcomes {
		meta.Retries += o.Retries
		if o.Err != nil {
			meta.FailedChunks = append(meta.FailedChunks, o.Index)
			meta.ChunkErrors = append(meta.ChunkErrors, fmt.Sprintf("chunk %d: %v", o.Index+1, o.Err))
			log.Warn("extract.chunk.failed", "chunk", o.Index+1, "error", o.Err)
			continue
		}
		trees = append(trees, o.Tree)
		meta.TokensUsed += o.Tokens
		meta.Sanitized = append(meta.Sanitized, o.Sanitized...)
		if !providers[o.Provider] {
			providers[o.Provider] = true
			if meta.Provider != "" {
				meta.Provider += ","
			}
			meta.Provider += o.Provider
		}
		log.Debug("extract.chunk.ok", "chunk", o.Index+1, "provider", o.Provider, "tokens", o.Tokens)
	}
	if len(trees) == 0 {
		return nil, common.NewExtractionError("all chunks failed", errors.New(strings.Join(meta.ChunkErrors, "; "))).
			With("chunks", len(chunks))
	}
	return Merge(trees...), nil
}

// callProviders tries each provider in order, retrying transient failures.
func (e *Extractor) callProviders(ctx context.Context, log *slog.Logger, index int, text string, fs *schema.FieldSchema, label string) chunkOutcome {
	req := llm.Request{
		System:      systemPrompt,
		Prompt:      buildPrompt(text, fs, label),
		JSON:        true,
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: e.cfg.Temperature,
		Timeout:     e.cfg.Timeout,
	}
	out := chunkOutcome{Index: index}
	var errs []error
	for _, p := range e.providers {
		got, retries, err := llm.Retry(ctx, e.cfg.Retry, log, "extract.provider", func(ctx context.Context, _ int) (chunkOutcome, error) {
			return e.call(ctx, p, req, fs)
		})
		out.Retries += retries
		if err == nil {
			got.Index, got.Retries = index, out.Retries
			return got
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		if ctx.Err() != nil {
			break
		}
		log.Warn("extract.provider.failed", "provider", p.Name(), "retries", retries, "error", err)
	}
	out.Err = errors.Join(errs...)
	return out
}

func (e *Extractor) call(ctx context.Context, p llm.Provider, req llm.Request, fs *schema.FieldSchema) (chunkOutcome, error) {
	resp, err := p.Complete(ctx, req)
	if err != nil {
		return chunkOutcome{}, err
	}
	tree, err := llm.DecodeJSONObject(resp.Content)
	if err != nil {
		return chunkOutcome{}, fmt.Errorf("%w: %v", common.ErrValidation, err)
	}
	sanitized, err := e.conform(fs, tree)
	if err != nil {
		return chunkOutcome{}, err
	}
	return chunkOutcome{Tree: tree, Provider: p.Name(), Tokens: resp.TokensUsed, Sanitized: sanitized}, nil
}

// conform validates tree strictly, falling back to lenient coercion and a
// second validation when the first one fails.
func (e *Extractor) conform(fs *schema.FieldSchema, tree map[string]any) ([]string, error) {
	compiled, err := e.responseSchema(fs)
	if err != nil {
		return nil, err
	}
	if err := compiled.Validate(any(tree)); err == nil {
		return nil, nil
	}
	leaves := fs.Leaves()
	changed := llm.SanitizeExtractedFields(tree, func(path string) bool {
		n, ok := leaves[path]
		return ok && (n.Type == "number" || n.Type == "integer")
	})
	if err := compiled.Validate(any(tree)); err != nil {
		return changed, fmt.Errorf("%w: response does not match schema: %v", common.ErrValidation, err)
	}
	return changed, nil
}

func (e *Extractor) responseSchema(fs *schema.FieldSchema) (*jsonschema.Schema, error) {
	if s, ok := e.compiled.Load(fs.DocumentType); ok {
		return s.(*jsonschema.Schema), nil
	}
	s, err := llm.CompileSchema(fs.ResponseSchema())
	if err != nil {
		return nil, common.NewConfigurationError("compile response schema", err)
	}
	e.compiled.Store(fs.DocumentType, s)
	return s, nil
}
