package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dslipak/pdf"

	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/entity"
)

// letter size in points, used when a page carries no MediaBox
const (
	defaultPageWidth  = 612.0
	defaultPageHeight = 792.0
)

// PDFText reads embedded text and glyph positions with dslipak/pdf.
type PDFText struct {
	logger *slog.Logger
}

func NewPDFText(logger *slog.Logger) *PDFText {
	if logger == nil {
		logger = slog.Default()
	}
	return &PDFText{logger: logger}
}

// ExtractPages returns one Page per PDF page with words positioned from the
// PDF geometry, normalized by the page MediaBox.
func (p *PDFText) ExtractPages(ctx context.Context, path string) (pages []entity.Page, err error) {
	// the pdf reader panics on some malformed streams
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf text: %v", r)
		}
	}()

	r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf %q: %w", path, err)
	}

	n := r.NumPage()
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return pages, err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			pages = append(pages, entity.Page{Number: i})
			continue
		}
		box := mediaBox(page)
		rows, rerr := page.GetTextByRow()
		if rerr != nil {
			common.LoggerFrom(ctx, p.logger).Warn("ocr.direct.page_failed", "page", i, "error", rerr)
			pages = append(pages, entity.Page{Number: i, Width: box.w, Height: box.h})
			continue
		}

		var lines [][]glyph
		for _, row := range rows {
			var line []glyph
			for _, t := range row.Content {
				line = append(line, glyph{X: t.X - box.x, Y: t.Y - box.y, W: t.W, Size: t.FontSize, S: t.S})
			}
			lines = append(lines, line)
		}
		words := wordsFromLines(lines, i, box.w, box.h)
		text := PageText(words)
		pages = append(pages, entity.Page{
			Number:  i,
			Text:    text,
			RawText: text,
			Words:   words,
			Width:   box.w,
			Height:  box.h,
		})
	}
	return pages, nil
}

type pageBox struct{ x, y, w, h float64 }

func mediaBox(page pdf.Page) pageBox {
	for _, v := range []pdf.Value{page.V.Key("MediaBox"), page.V.Key("Parent").Key("MediaBox")} {
		if v.Len() == 4 {
			x0, y0 := v.Index(0).Float64(), v.Index(1).Float64()
			x1, y1 := v.Index(2).Float64(), v.Index(3).Float64()
			if x1 > x0 && y1 > y0 {
				return pageBox{x: x0, y: y0, w: x1 - x0, h: y1 - y0}
			}
		}
	}
	return pageBox{w: defaultPageWidth, h: defaultPageHeight}
}

// glyph is one positioned text run. Y is the baseline measured from the
// bottom of the page.
type glyph struct {
	X, Y, W, Size float64
	S             string
}

// wordsFromLines splits glyph runs into words on whitespace and on
// horizontal gaps wider than a fifth of the font size. Lines are ordered
// top to bottom; a vertical gap wider than 1.8 line heights starts a new
// paragraph.
func wordsFromLines(lines [][]glyph, page int, pageW, pageH float64) []entity.Word {
	type span struct {
		line     []glyph
		baseline float64
	}
	spans := make([]span, 0, len(lines))
	for _, l := range lines {
		if len(l) == 0 {
			continue
		}
		sort.SliceStable(l, func(i, j int) bool { return l[i].X < l[j].X })
		spans = append(spans, span{line: l, baseline: l[0].Y})
	}
	sort.SliceStable(spans, func(i, j int) bool { return spans[i].baseline > spans[j].baseline })

	var words []entity.Word
	block := 0
	for li, sp := range spans {
		if li > 0 {
			prev := spans[li-1]
			size := lineSize(prev.line)
			if prev.baseline-sp.baseline > 1.8*size {
				block++
			}
		}

		var cur strings.Builder
		var x0, x1, top, size float64
		flush := func() {
			if cur.Len() == 0 {
				return
			}
			words = append(words, entity.Word{
				Text:       cur.String(),
				Box:        entity.NewNormalizedBox(x0, pageH-top, x1-x0, size, pageW, pageH),
				Page:       page,
				Confidence: 1,
				Line:       li,
				Block:      block,
			})
			cur.Reset()
		}

		for _, g := range sp.line {
			n := utf8.RuneCountInString(g.S)
			if n == 0 {
				continue
			}
			step := g.W / float64(n)
			x := g.X
			for _, r := range g.S {
				if unicode.IsSpace(r) {
					flush()
					x += step
					continue
				}
				if cur.Len() > 0 && x-x1 > 0.2*g.Size {
					flush()
				}
				if cur.Len() == 0 {
					x0, top, size = x, g.Y+g.Size, g.Size
				}
				cur.WriteRune(r)
				x1 = x + step
				if g.Y+g.Size > top {
					top = g.Y + g.Size
				}
				x += step
			}
		}
		flush()
	}
	return words
}

func lineSize(l []glyph) float64 {
	size := 0.0
	for _, g := range l {
		if g.Size > size {
			size = g.Size
		}
	}
	if size == 0 {
		size = 10
	}
	return size
}
