package bbox

import (
	"regexp"
	"strings"

	"github.com/joseph-ayodele/docflow/internal/entity"
)

// Match methods recorded per field.
const (
	MethodWord     = "word"
	MethodSequence = "sequence"
	MethodCurrency = "currency"
	MethodLLM      = "llm"
)

var normalizer = strings.NewReplacer("$", "", ",", "", ".", "", "-", "", " ", "")

// Normalize is the equality key for matching: currency and number
// punctuation removed, lower-cased.
func Normalize(s string) string {
	return strings.ToLower(normalizer.Replace(strings.TrimSpace(s)))
}

var ignored = map[string]bool{"": true, "-": true, "na": true, "n/a": true, "nan": true, "null": true, "none": true}

// Ignored reports values that never get a box.
func Ignored(v string) bool {
	return ignored[strings.ToLower(strings.TrimSpace(v))]
}

var (
	reCurrencySymbol = regexp.MustCompile(`[$€£¥]`)
	reNumeric        = regexp.MustCompile(`\(?-?\d[\d,]*(?:\.\d+)?\)?`)
)

// Match is a located value.
type Match struct {
	Boxes  []entity.BoundingBox
	Page   int
	Method string
}

// Strings renders the boxes as coordinate strings, one per matched word.
func (m Match) Strings() []any {
	out := make([]any, 0, len(m.Boxes))
	for _, b := range m.Boxes {
		out = append(out, b.String())
	}
	return out
}

// Matcher searches OCR words in emission order.
type Matcher struct {
	words []entity.Word
	norm  []string
}

func NewMatcher(words []entity.Word) *Matcher {
	m := &Matcher{words: words, norm: make([]string, len(words))}
	for i, w := range words {
		m.norm[i] = Normalize(w.Text)
	}
	return m
}

// FindWord returns the first word equal to value after normalization.
func (m *Matcher) FindWord(value string) (Match, bool) {
	target := Normalize(value)
	if target == "" {
		return Match{}, false
	}
	for i, n := range m.norm {
		if n == target {
			w := m.words[i]
			return Match{Boxes: []entity.BoundingBox{w.Box}, Page: w.Page, Method: MethodWord}, true
		}
	}
	return Match{}, false
}

// FindSequence slides over the words and returns the first window where
// every token equals the corresponding word. One box per word.
func (m *Matcher) FindSequence(tokens []string) (Match, bool) {
	if len(tokens) == 0 {
		return Match{}, false
	}
	want := make([]string, len(tokens))
	for i, t := range tokens {
		want[i] = Normalize(t)
	}
	for i := 0; i+len(want) <= len(m.norm); i++ {
		ok := true
		for j, t := range want {
			if m.norm[i+j] != t {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		boxes := make([]entity.BoundingBox, len(want))
		for j := range want {
			boxes[j] = m.words[i+j].Box
		}
		return Match{Boxes: boxes, Page: m.words[i].Page, Method: MethodSequence}, true
	}
	return Match{}, false
}

// FindCurrency locates the bare number of a currency value and widens the
// box leftwards so it covers the symbol.
func (m *Matcher) FindCurrency(value string, widen float64) (Match, bool) {
	num := reNumeric.FindString(value)
	if num == "" {
		return Match{}, false
	}
	target := Normalize(num)
	for i, n := range m.norm {
		if n != target {
			continue
		}
		w := m.words[i]
		b := w.Box
		shift := min(widen, b.Left)
		b.Left -= shift
		b.Width += widen
		return Match{Boxes: []entity.BoundingBox{b.Clamp()}, Page: w.Page, Method: MethodCurrency}, true
	}
	return Match{}, false
}

// IsCurrency reports fields that qualify for currency approximation.
func IsCurrency(key, value string) bool {
	return strings.HasSuffix(strings.ToLower(key), "_currency") || reCurrencySymbol.MatchString(value)
}
