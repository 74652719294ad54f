package ocr

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/png" // register PNG for DecodeConfig
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/entity"
)

// Tesseract renders pages with pdftoppm and OCRs them with tesseract TSV output.
type Tesseract struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewTesseract(cfg Config, runner Runner, logger *slog.Logger) *Tesseract {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tesseract{cfg: cfg.withDefaults(), runner: runner, logger: logger}
}

// RenderAndOCR returns one Page per rendered image. Pages whose OCR fails
// are kept empty so numbering stays aligned with the PDF.
func (t *Tesseract) RenderAndOCR(ctx context.Context, path string, dpi int) ([]entity.Page, error) {
	tmpDir, err := os.MkdirTemp("", "docflow-ocr-*")
	if err != nil {
		return nil, err
	}
	defer func(dir string) {
		if err := os.RemoveAll(dir); err != nil {
			common.LoggerFrom(ctx, t.logger).Warn("ocr.tmp.cleanup_failed", "dir", dir, "error", err)
		}
	}(tmpDir)

	images, err := renderPNG(ctx, t.runner, t.cfg.Pdftoppm, path, tmpDir, dpi, 0)
	if err != nil {
		return nil, err
	}
	if t.cfg.MaxPages > 0 && len(images) > t.cfg.MaxPages {
		images = images[:t.cfg.MaxPages]
	}

	pages := make([]entity.Page, 0, len(images))
	for i, img := range images {
		num := i + 1
		page, err := t.ocrImage(ctx, img, num)
		if err != nil {
			common.LoggerFrom(ctx, t.logger).Warn("ocr.page.failed", "page", num, "error", err)
			pages = append(pages, entity.Page{Number: num})
			continue
		}
		pages = append(pages, page)
	}
	return pages, nil
}

func (t *Tesseract) ocrImage(ctx context.Context, imgPath string, num int) (entity.Page, error) {
	w, h, err := imageSize(imgPath)
	if err != nil {
		return entity.Page{}, err
	}
	args := []string{imgPath, "stdout", "-l", t.cfg.TesseractLang}
	if t.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", t.cfg.TessdataDir)
	}
	args = append(args, "tsv")

	out, errb, err := t.runner.Run(ctx, t.cfg.Tesseract, args...)
	if err != nil {
		return entity.Page{}, fmt.Errorf("tesseract: %w: %s", err, truncate(string(errb), 512))
	}
	words := ParseTSV(out, num, float64(w), float64(h), t.cfg.MinWordConfidence)
	text := PageText(words)
	return entity.Page{
		Number:  num,
		Text:    text,
		RawText: text,
		Words:   words,
		Width:   float64(w),
		Height:  float64(h),
	}, nil
}

// ParseTSV converts tesseract TSV output into normalized words. Rows with
// conf -1, conf below minConf, or empty text are dropped.
//
// Columns: level page_num block_num par_num line_num word_num left top width height conf text
func ParseTSV(tsv []byte, page int, imgW, imgH, minConf float64) []entity.Word {
	var words []entity.Word
	type lineKey struct{ block, par, line int }
	lineIDs := map[lineKey]int{}
	paraIDs := map[[2]int]int{}

	sc := bufio.NewScanner(bytes.NewReader(tsv))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	first := true
	for sc.Scan() {
		ln := sc.Text()
		if first {
			first = false
			if strings.HasPrefix(ln, "level") {
				continue
			}
		}
		cols := strings.Split(ln, "\t")
		if len(cols) < 12 || cols[0] != "5" {
			continue
		}
		text := strings.TrimSpace(strings.Join(cols[11:], "\t"))
		if text == "" {
			continue
		}
		conf, err := strconv.ParseFloat(cols[10], 64)
		if err != nil || conf < 0 || conf < minConf {
			continue
		}
		nums := make([]float64, 0, 8)
		for _, c := range cols[2:10] {
			v, err := strconv.ParseFloat(c, 64)
			if err != nil {
				nums = nil
				break
			}
			nums = append(nums, v)
		}
		if nums == nil {
			continue
		}
		block, par, line := int(nums[0]), int(nums[1]), int(nums[2])
		left, top, width, height := nums[4], nums[5], nums[6], nums[7]

		pk := [2]int{block, par}
		if _, ok := paraIDs[pk]; !ok {
			paraIDs[pk] = len(paraIDs)
		}
		lk := lineKey{block, par, line}
		if _, ok := lineIDs[lk]; !ok {
			lineIDs[lk] = len(lineIDs)
		}

		words = append(words, entity.Word{
			Text:       text,
			Box:        entity.NewNormalizedBox(left, top, width, height, imgW, imgH),
			Page:       page,
			Confidence: conf / 100,
			Line:       lineIDs[lk],
			Block:      paraIDs[pk],
		})
	}
	return words
}

// renderPNG runs pdftoppm and returns the produced images in page order.
// first=0 renders every page; otherwise only that page.
func renderPNG(ctx context.Context, r Runner, bin, path, dir string, dpi, first int) ([]string, error) {
	prefix := filepath.Join(dir, "page")
	args := []string{"-r", strconv.Itoa(dpi), "-png"}
	if first > 0 {
		args = append(args, "-f", strconv.Itoa(first), "-l", strconv.Itoa(first))
	}
	args = append(args, path, prefix)
	if _, errb, err := r.Run(ctx, bin, args...); err != nil {
		return nil, fmt.Errorf("pdftoppm: %w: %s", err, truncate(string(errb), 512))
	}

	matches, _ := filepath.Glob(prefix + "-*.png")
	if len(matches) == 0 {
		return nil, fmt.Errorf("pdftoppm produced no images")
	}
	// pdftoppm zero-pads to the page count width, but sort numerically to be safe
	sort.Slice(matches, func(i, j int) bool { return pageIndex(matches[i]) < pageIndex(matches[j]) })
	return matches, nil
}

func pageIndex(p string) int {
	base := strings.TrimSuffix(filepath.Base(p), ".png")
	i := strings.LastIndex(base, "-")
	n, _ := strconv.Atoi(base[i+1:])
	return n
}

func imageSize(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = f.Close() }()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("decode image header: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}
