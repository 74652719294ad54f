package ocr

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/disintegration/imaging"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/joseph-ayodele/docflow/internal/common"
)

// PageImage is a rendered page ready for a vision call.
type PageImage struct {
	Page     int
	MIMEType string
	Data     []byte
}

// Renderer produces downscaled JPEG page images.
type Renderer struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewRenderer(cfg Config, runner Runner, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = execRunner{logger: logger}
	}
	return &Renderer{cfg: cfg.withDefaults(), runner: runner, logger: logger}
}

// RenderPageImages renders the given 1-based pages, resizes them to the
// configured width and encodes them as JPEG. Pages that fail to render are
// skipped and logged.
func (r *Renderer) RenderPageImages(ctx context.Context, path string, pages []int) ([]PageImage, error) {
	tmpDir, err := os.MkdirTemp("", "docflow-render-*")
	if err != nil {
		return nil, err
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	out := make([]PageImage, 0, len(pages))
	for _, p := range pages {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		dir, err := os.MkdirTemp(tmpDir, "p*")
		if err != nil {
			return out, err
		}
		files, err := renderPNG(ctx, r.runner, r.cfg.Pdftoppm, path, dir, r.cfg.DPI, p)
		if err != nil {
			common.LoggerFrom(ctx, r.logger).Warn("ocr.render.page_failed", "page", p, "error", err)
			continue
		}
		data, err := r.encode(files[0])
		if err != nil {
			common.LoggerFrom(ctx, r.logger).Warn("ocr.render.encode_failed", "page", p, "error", err)
			continue
		}
		out = append(out, PageImage{Page: p, MIMEType: "image/jpeg", Data: data})
	}
	if len(out) == 0 && len(pages) > 0 {
		return nil, fmt.Errorf("no pages rendered from %s", path)
	}
	return out, nil
}

func (r *Renderer) encode(pngPath string) ([]byte, error) {
	img, err := imaging.Open(pngPath)
	if err != nil {
		return nil, fmt.Errorf("open rendered page: %w", err)
	}
	if img.Bounds().Dx() > r.cfg.ImageWidth {
		img = imaging.Resize(img, r.cfg.ImageWidth, 0, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(r.cfg.JPEGQuality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// PageCount reads the page count from the PDF structure.
func PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("page count %q: %w", path, err)
	}
	return n, nil
}
