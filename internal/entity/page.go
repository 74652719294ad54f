package entity

import "fmt"

// BoundingBox is a normalized rectangle; every component lies in [0,1].
type BoundingBox struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// NewNormalizedBox divides pixel coordinates by the image size and clamps into [0,1].
func NewNormalizedBox(left, top, width, height, imgW, imgH float64) BoundingBox {
	if imgW <= 0 || imgH <= 0 {
		return BoundingBox{}
	}
	return BoundingBox{
		Left:   clamp01(left / imgW),
		Top:    clamp01(top / imgH),
		Width:  clamp01(width / imgW),
		Height: clamp01(height / imgH),
	}.Clamp()
}

// Clamp keeps the box within the page.
func (b BoundingBox) Clamp() BoundingBox {
	b.Left, b.Top = clamp01(b.Left), clamp01(b.Top)
	b.Width, b.Height = clamp01(b.Width), clamp01(b.Height)
	if b.Left+b.Width > 1 {
		b.Width = 1 - b.Left
	}
	if b.Top+b.Height > 1 {
		b.Height = 1 - b.Top
	}
	return b
}

// Valid reports whether all components are within [0,1].
func (b BoundingBox) Valid() bool {
	for _, v := range []float64{b.Left, b.Top, b.Width, b.Height} {
		if v < 0 || v > 1 {
			return false
		}
	}
	return true
}

// String renders the "left,top,width,height" coordinate string stored on fields.
func (b BoundingBox) String() string {
	return fmt.Sprintf("%s,%s,%s,%s", fmtCoord(b.Left), fmtCoord(b.Top), fmtCoord(b.Width), fmtCoord(b.Height))
}

func fmtCoord(f float64) string {
	return fmt.Sprintf("%.6g", f)
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

// Word is one located token. Immutable once produced.
type Word struct {
	Text       string      `json:"text"`
	Box        BoundingBox `json:"box"`
	Page       int         `json:"page"`
	Confidence float64     `json:"confidence"`
	Line       int         `json:"line,omitempty"`
	Block      int         `json:"block,omitempty"`
}

// Page is owned by a DocumentRecord. Number is 1-based.
type Page struct {
	Number  int     `json:"number"`
	Text    string  `json:"text"`
	RawText string  `json:"raw_text"`
	Words   []Word  `json:"words"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
}
