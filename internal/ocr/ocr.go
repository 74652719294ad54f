package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/entity"
)

// Method names recorded on a Result.
const (
	MethodPDFText = "pdf-text"
	MethodPDFOCR  = "pdf-ocr"
)

type Config struct {
	Pdftoppm  string // binary name or absolute path; if empty -> "pdftoppm"
	Tesseract string // binary name or absolute path; if empty -> "tesseract"

	TesseractLang string // default "eng"
	TessdataDir   string
	DPI           int // rasterization DPI for scanned PDFs, default 300
	MaxPages      int // 0 = no limit

	MinTextLength     int     // direct text shorter than this falls back to OCR
	MinWordConfidence float64 // tesseract conf (0..100) below this is dropped

	ImageWidth  int // vision render width, default 800
	JPEGQuality int // vision render quality, default 70
}

// ConfigFrom adapts the application config section.
func ConfigFrom(c common.OCRConfig) Config {
	return Config{
		Pdftoppm:          c.Pdftoppm,
		Tesseract:         c.Tesseract,
		TesseractLang:     c.TesseractLang,
		TessdataDir:       c.TessdataDir,
		DPI:               c.DPI,
		MaxPages:          c.MaxPages,
		MinTextLength:     c.MinTextLength,
		MinWordConfidence: c.MinWordConfidence,
		ImageWidth:        c.ImageWidth,
		JPEGQuality:       c.JPEGQuality,
	}
}

func (c Config) withDefaults() Config {
	if c.Pdftoppm == "" {
		c.Pdftoppm = "pdftoppm"
	}
	if c.Tesseract == "" {
		c.Tesseract = "tesseract"
	}
	if c.TesseractLang == "" {
		c.TesseractLang = "eng"
	}
	if c.DPI <= 0 {
		c.DPI = 300
	}
	if c.MinTextLength <= 0 {
		c.MinTextLength = 100
	}
	if c.ImageWidth <= 0 {
		c.ImageWidth = 800
	}
	if c.JPEGQuality <= 0 {
		c.JPEGQuality = 70
	}
	return c
}

// TextSource extracts embedded text with word geometry.
type TextSource interface {
	ExtractPages(ctx context.Context, path string) ([]entity.Page, error)
}

// Engine renders a PDF and returns word-level OCR output per page.
type Engine interface {
	RenderAndOCR(ctx context.Context, path string, dpi int) ([]entity.Page, error)
}

// Result is what Locate hands to the pipeline.
type Result struct {
	RawText   string
	Pages     []entity.Page
	IsScanned bool
	Method    string
	Warnings  []string
	Duration  time.Duration
}

// Locator tries direct text first and OCRs only when that yields too little.
type Locator struct {
	cfg    Config
	direct TextSource
	engine Engine
	logger *slog.Logger
}

type Option func(*Locator)

// WithTextSource replaces the embedded-text extractor.
func WithTextSource(s TextSource) Option { return func(l *Locator) { l.direct = s } }

// WithEngine replaces the OCR engine.
func WithEngine(e Engine) Option { return func(l *Locator) { l.engine = e } }

// WithRunner runs the default tesseract engine through r.
func WithRunner(r Runner) Option {
	return func(l *Locator) { l.engine = NewTesseract(l.cfg, r, l.logger) }
}

func NewLocator(cfg Config, logger *slog.Logger, opts ...Option) *Locator {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	l := &Locator{cfg: cfg, logger: logger}
	l.direct = NewPDFText(logger)
	l.engine = NewTesseract(cfg, execRunner{logger: logger}, logger)
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Locate returns the document text and located words.
func (l *Locator) Locate(ctx context.Context, path string) (*Result, error) {
	logger := common.LoggerFrom(ctx, l.logger)
	start := time.Now()
	res := &Result{}

	logger.Info("ocr.locate.start", "path", path)

	if l.direct != nil {
		pages, err := l.direct.ExtractPages(ctx, path)
		if err != nil {
			res.Warnings = append(res.Warnings, "direct text: "+err.Error())
			logger.Warn("ocr.direct.failed", "path", path, "error", err)
		}
		text := JoinPages(pages)
		if len(strings.TrimSpace(text)) >= l.cfg.MinTextLength && countWords(pages) > 0 {
			res.Pages = l.limit(pages)
			res.RawText = JoinPages(res.Pages)
			res.Method = MethodPDFText
			res.Duration = time.Since(start)
			logger.Info("ocr.locate.ok",
				"path", path,
				"method", res.Method,
				"pages", len(res.Pages),
				"chars", len(res.RawText),
				"elapsed_ms", res.Duration.Milliseconds(),
			)
			return res, nil
		}
		logger.Info("ocr.direct.insufficient", "path", path, "chars", len(strings.TrimSpace(text)), "min", l.cfg.MinTextLength)
		// keep for diagnostics if OCR fails
		res.Pages = pages
	}

	res.IsScanned = true
	res.Method = MethodPDFOCR
	if l.engine == nil {
		return res, common.NewOCRError("no OCR engine configured", errors.New("ocr engine unavailable"))
	}

	pages, err := l.engine.RenderAndOCR(ctx, path, l.cfg.DPI)
	if len(pages) > 0 {
		res.Pages = l.limit(pages)
		res.RawText = JoinPages(res.Pages)
	}
	res.Duration = time.Since(start)
	if err != nil {
		logger.Error("ocr.engine.failed", "path", path, "error", err, "elapsed_ms", res.Duration.Milliseconds())
		return res, common.NewOCRError("ocr engine failed", err).With("path", path)
	}
	if countWords(res.Pages) == 0 {
		logger.Error("ocr.locate.no_words", "path", path, "pages", len(res.Pages))
		return res, common.NewOCRError("no words extracted", fmt.Errorf("%d pages produced zero words", len(res.Pages))).With("path", path)
	}

	logger.Info("ocr.locate.ok",
		"path", path,
		"method", res.Method,
		"pages", len(res.Pages),
		"words", countWords(res.Pages),
		"elapsed_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

func (l *Locator) limit(pages []entity.Page) []entity.Page {
	if l.cfg.MaxPages > 0 && len(pages) > l.cfg.MaxPages {
		return pages[:l.cfg.MaxPages]
	}
	return pages
}

// JoinPages concatenates page texts with a blank line between pages.
func JoinPages(pages []entity.Page) string {
	parts := make([]string, 0, len(pages))
	for _, p := range pages {
		if t := strings.TrimSpace(p.RawText); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}

func countWords(pages []entity.Page) int {
	n := 0
	for _, p := range pages {
		n += len(p.Words)
	}
	return n
}
