// Package normalize cleans located text before classification and extraction.
package normalize

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// maxRounds bounds the fixed-point loop in Clean.
const maxRounds = 5

var (
	reZeroWidth   = regexp.MustCompile("[\u200b\u200c\u200d\u2060\ufeff]")
	reDigitL      = regexp.MustCompile(`(\d)[lI|](\d)`)
	reDigitO      = regexp.MustCompile(`(\d)[Oo](\d)`)
	reHyphenBreak = regexp.MustCompile(`([a-z])-[ \t]*\n[ \t]*([a-z])`)
	reCurrency    = regexp.MustCompile(`([$€£¥₹])[ \t]+(\d)`)
	reISOCurrency = regexp.MustCompile(`\b(USD|EUR|GBP|JPY|CHF|CAD|AUD)[ \t]*(\d)`)
	rePercent     = regexp.MustCompile(`(\d)[ \t]+%`)
	reSpaces      = regexp.MustCompile(`[ \t\f\v]+`)
	reBlankLines  = regexp.MustCompile(`\n{3,}`)
	reParagraphs  = regexp.MustCompile(`\n{2,}`)

	reEdgePageNumber = regexp.MustCompile(`^\d{1,3}$`)
)

// artifactLines are whole lines dropped wherever they occur.
var artifactLines = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^page\s+\d+(\s+of\s+\d+)?$`),
	regexp.MustCompile(`(?i)^(confidential|private|internal|draft|preliminary)$`),
	regexp.MustCompile(`(?i)^(not\s+for\s+distribution|for\s+internal\s+use\s+only|strictly\s+private\s+and\s+confidential)$`),
	regexp.MustCompile(`^\|$`),
	regexp.MustCompile(`^[|+\-=_ ]{2,}$`),
}

// Normalizer runs the cleaning passes. It holds no per-document state and is
// safe for concurrent use.
type Normalizer struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{logger: logger}
}

// Clean applies every pass repeatedly until the text stops changing, so
// Clean(Clean(s)) == Clean(s).
func (n *Normalizer) Clean(text string) string {
	cur := text
	for i := 0; i < maxRounds; i++ {
		next := cleanOnce(cur)
		if next == cur {
			return next
		}
		cur = next
	}
	n.logger.Warn("normalize.no_fixed_point", "rounds", maxRounds, "chars", len(cur))
	return cur
}

// Process cleans text and assesses the result.
func (n *Normalizer) Process(text string) (string, Report) {
	cleaned := n.Clean(text)
	return cleaned, Assess(text, cleaned)
}

func cleanOnce(s string) string {
	s = canonicalize(s)
	s = fixOCRConfusions(s)
	s = dehyphenate(s)
	s = stripArtifacts(s)
	s = joinParagraphLines(s)
	s = normalizeSymbols(s)
	return collapseWhitespace(s)
}

func canonicalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = norm.NFKC.String(s)
	return reZeroWidth.ReplaceAllString(s, "")
}

// fixOCRConfusions repairs letters read in place of digits when both
// neighbours are digits: "1O0" -> "100", "2l5" -> "215".
func fixOCRConfusions(s string) string {
	s = reDigitL.ReplaceAllString(s, "${1}1${2}")
	return reDigitO.ReplaceAllString(s, "${1}0${2}")
}

func dehyphenate(s string) string {
	return reHyphenBreak.ReplaceAllString(s, "$1$2")
}

// stripArtifacts drops header, footer and table-border lines. Bare numbers
// are treated as page numbers only in the leading and trailing runs of
// artifact lines, which are removed whole so one pass is enough.
func stripArtifacts(s string) string {
	lines := strings.Split(s, "\n")
	edge := func(l string) bool {
		t := strings.TrimSpace(l)
		return t == "" || isArtifact(t, true)
	}
	lo := 0
	for lo < len(lines) && edge(lines[lo]) {
		lo++
	}
	hi := len(lines) - 1
	for hi >= lo && edge(lines[hi]) {
		hi--
	}

	out := make([]string, 0, len(lines))
	for i, l := range lines {
		t := strings.TrimSpace(l)
		if t == "" {
			out = append(out, l)
			continue
		}
		if i < lo || i > hi || isArtifact(t, false) {
			continue
		}
		out = append(out, l)
	}
	return strings.Join(out, "\n")
}

func isArtifact(line string, edge bool) bool {
	if edge && reEdgePageNumber.MatchString(line) {
		return true
	}
	for _, re := range artifactLines {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// joinParagraphLines turns single newlines into spaces and keeps blank-line
// paragraph breaks.
func joinParagraphLines(s string) string {
	paras := reParagraphs.Split(s, -1)
	for i, p := range paras {
		paras[i] = strings.ReplaceAll(p, "\n", " ")
	}
	return strings.Join(paras, "\n\n")
}

func normalizeSymbols(s string) string {
	s = reCurrency.ReplaceAllString(s, "$1$2")
	s = reISOCurrency.ReplaceAllString(s, "$1 $2")
	return rePercent.ReplaceAllString(s, "$1%")
}

func collapseWhitespace(s string) string {
	s = reSpaces.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	s = strings.Join(lines, "\n")
	s = reBlankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// Report is the advisory quality assessment of one cleaning run.
type Report struct {
	OriginalLength       int      `json:"original_length"`
	CleanedLength        int      `json:"cleaned_length"`
	OriginalWords        int      `json:"word_count_original"`
	CleanedWords         int      `json:"word_count_cleaned"`
	LengthReductionRatio float64  `json:"length_reduction_ratio"`
	WordLossRatio        float64  `json:"word_loss_ratio"`
	QualityScore         float64  `json:"quality_score"`
	Warnings             []string `json:"warnings,omitempty"`
}

// Degraded reports whether the cleaning crossed a penalty threshold.
func (r Report) Degraded() bool { return r.QualityScore < 1 }

// Assess compares original and cleaned text. Length reduction above 30% and
// word loss above 20% lower the score; it never blocks the pipeline.
func Assess(original, cleaned string) Report {
	if strings.TrimSpace(original) == "" || strings.TrimSpace(cleaned) == "" {
		return Report{Warnings: []string{"empty text provided"}}
	}
	r := Report{
		OriginalLength: len(original),
		CleanedLength:  len(cleaned),
		OriginalWords:  len(strings.Fields(original)),
		CleanedWords:   len(strings.Fields(cleaned)),
	}
	r.LengthReductionRatio = float64(r.OriginalLength-r.CleanedLength) / float64(r.OriginalLength)
	if r.OriginalWords > 0 {
		r.WordLossRatio = float64(r.OriginalWords-r.CleanedWords) / float64(r.OriginalWords)
	}

	if r.LengthReductionRatio > 0.5 {
		r.Warnings = append(r.Warnings, fmt.Sprintf("high text reduction: %.2f%%", r.LengthReductionRatio*100))
	}
	if r.WordLossRatio > 0.3 {
		r.Warnings = append(r.Warnings, fmt.Sprintf("high word loss: %.2f%%", r.WordLossRatio*100))
	}

	score := 1.0
	if r.LengthReductionRatio > 0.3 {
		score -= 0.2
	}
	if r.WordLossRatio > 0.2 {
		score -= 0.3
	}
	if len(r.Warnings) > 2 {
		score -= 0.2
	}
	r.QualityScore = max(0, min(1, score))
	return r
}
