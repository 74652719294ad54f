// Package classify assigns a document type from the fixed taxonomy.
package classify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/cache"
	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/llm"
	"github.com/joseph-ayodele/docflow/internal/ocr"
)

// ProviderFallback is reported when every provider failed.
const ProviderFallback = "fallback"

// defaults used when the model omits a confidence
const (
	defaultConfidence = 0.85
	invalidConfidence = 0.2
	visionPages       = 2
)

type Config struct {
	MinTextLength   int
	MinQuality      float64
	HeadChars       int
	TailChars       int
	WindowThreshold int
	FallbackType    constants.DocumentType
	MaxTokens       int
	Timeout         time.Duration
	Retry           llm.Backoff
}

// ConfigFrom adapts the application config section.
func ConfigFrom(c common.ClassifyConfig, l common.LLMConfig) Config {
	fallback, _ := constants.ParseDocumentType(c.FallbackType)
	return Config{
		MinTextLength:   c.MinTextLength,
		MinQuality:      c.MinQuality,
		HeadChars:       c.HeadChars,
		TailChars:       c.TailChars,
		WindowThreshold: c.WindowThreshold,
		FallbackType:    fallback,
		MaxTokens:       200,
		Timeout:         l.Timeout,
		Retry:           llm.BackoffFrom(c.Retry),
	}
}

// PageRenderer renders page images for vision classification.
type PageRenderer interface {
	RenderPageImages(ctx context.Context, path string, pages []int) ([]ocr.PageImage, error)
}

// Input is what the classifier needs from the document.
type Input struct {
	Text       string
	Filename   string
	SourcePath string
	PageCount  int
}

// Result of one classification.
type Result struct {
	Type        constants.DocumentType   `json:"document_type"`
	Confidence  float64                  `json:"confidence"`
	Band        constants.ConfidenceBand `json:"confidence_level"`
	Provider    string                   `json:"provider"`
	Retries     int                      `json:"retries"`
	Mode        constants.ProcessingMode `json:"mode"`
	TextQuality float64                  `json:"text_quality"`
	Cached      bool                     `json:"cached"`
	Errors      []string                 `json:"errors,omitempty"`
}

// Status is the pipeline status for this result.
func (r Result) Status() constants.PipelineStatus { return r.Band.ClassificationStatus() }

type Classifier struct {
	cfg       Config
	providers []llm.Provider
	renderer  PageRenderer
	cache     cache.Typed[Result]
	logger    *slog.Logger
}

type Option func(*Classifier)

// WithRenderer enables images for vision-mode classification.
func WithRenderer(r PageRenderer) Option { return func(c *Classifier) { c.renderer = r } }

// WithCache shares a result cache across documents.
func WithCache(m *cache.Memory) Option {
	return func(c *Classifier) { c.cache = cache.NewTyped[Result](m) }
}

// New builds a classifier trying providers in order.
func New(cfg Config, providers []llm.Provider, logger *slog.Logger, opts ...Option) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MinTextLength <= 0 {
		cfg.MinTextLength = 100
	}
	if cfg.HeadChars <= 0 {
		cfg.HeadChars = 2000
	}
	if cfg.TailChars <= 0 {
		cfg.TailChars = 1000
	}
	if cfg.WindowThreshold <= 0 {
		cfg.WindowThreshold = 3000
	}
	if cfg.FallbackType == "" {
		cfg.FallbackType = constants.DocUnknown
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 200
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 3
	}
	c := &Classifier{cfg: cfg, providers: providers, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify never returns an error for provider failures: when every provider
// is exhausted it returns the fallback type with zero confidence. Only
// context cancellation is returned.
func (c *Classifier) Classify(ctx context.Context, in Input) (Result, error) {
	start := time.Now()
	log := common.LoggerFrom(ctx, c.logger)

	key := cache.Key("classify", in.Text, in.Filename)
	if cached, ok := c.cache.Get(key); ok {
		cached.Cached = true
		log.Info("classify.cache.hit", "document_type", cached.Type, "confidence", cached.Confidence)
		return cached, nil
	}

	mode, quality := Mode(in.Text, c.cfg.MinTextLength, c.cfg.MinQuality)
	images := c.images(ctx, log, mode, in)
	req := llm.Request{
		System:    systemPrompt,
		Prompt:    buildPrompt(Window(in.Text, c.cfg.WindowThreshold, c.cfg.HeadChars, c.cfg.TailChars), in.Filename, len(images) > 0),
		Images:    images,
		JSON:      true,
		MaxTokens: c.cfg.MaxTokens,
		Timeout:   c.cfg.Timeout,
	}

	log.Info("classify.start",
		"mode", mode,
		"text_quality", quality,
		"chars", len(in.Text),
		"images", len(images),
		"providers", len(c.providers),
	)

	res := Result{Mode: mode, TextQuality: quality}
	for _, p := range c.providers {
		out, retries, err := llm.Retry(ctx, c.cfg.Retry, log, "classify.provider", func(ctx context.Context, attempt int) (Result, error) {
			return c.call(ctx, p, req)
		})
		res.Retries += retries
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", p.Name(), err))
			log.Warn("classify.provider.failed", "provider", p.Name(), "retries", retries, "error", err)
			continue
		}
		out.Mode, out.TextQuality, out.Retries, out.Errors = mode, quality, res.Retries, res.Errors
		out.Band = constants.BandFor(out.Confidence)
		c.cache.Set(key, out)
		log.Info("classify.ok",
			"document_type", out.Type,
			"confidence", out.Confidence,
			"band", out.Band,
			"provider", out.Provider,
			"retries", out.Retries,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return out, nil
	}

	res.Type = c.cfg.FallbackType
	res.Confidence = 0
	res.Band = constants.BandFor(0)
	res.Provider = ProviderFallback
	log.Error("classify.fallback",
		"document_type", res.Type,
		"errors", strings.Join(res.Errors, "; "),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (c *Classifier) call(ctx context.Context, p llm.Provider, req llm.Request) (Result, error) {
	resp, err := p.Complete(ctx, req)
	if err != nil {
		return Result{}, err
	}
	docType, conf := parseResponse(resp.Content)
	return Result{Type: docType, Confidence: conf, Provider: p.Name()}, nil
}

// parseResponse accepts the JSON reply or, failing that, a bare label.
// Labels outside the taxonomy become Unknown with low confidence.
func parseResponse(content string) (constants.DocumentType, float64) {
	label := strings.Trim(strings.TrimSpace(content), `"'.`)
	conf := defaultConfidence
	if m, err := llm.DecodeJSONObject(content); err == nil {
		label, _ = m["document_type"].(string)
		if f, ok := common.AsFloat(m["confidence"]); ok {
			conf = f
			if conf > 1 && conf <= 100 {
				conf /= 100
			}
			conf = max(0, min(1, conf))
		}
	}
	t, ok := constants.ParseDocumentType(label)
	if !ok {
		return constants.DocUnknown, invalidConfidence
	}
	return t, conf
}

func (c *Classifier) images(ctx context.Context, log *slog.Logger, mode constants.ProcessingMode, in Input) []llm.Image {
	if mode != constants.ModeVision || c.renderer == nil || in.SourcePath == "" {
		return nil
	}
	n := visionPages
	if in.PageCount > 0 && in.PageCount < n {
		n = in.PageCount
	}
	pages := make([]int, 0, n)
	for i := 1; i <= n; i++ {
		pages = append(pages, i)
	}
	rendered, err := c.renderer.RenderPageImages(ctx, in.SourcePath, pages)
	if err != nil {
		log.Warn("classify.vision.render_failed", "error", err)
		return nil
	}
	out := make([]llm.Image, 0, len(rendered))
	for _, r := range rendered {
		out = append(out, llm.Image{MIMEType: r.MIMEType, Data: r.Data})
	}
	return out
}
