package classify

import (
	"strings"

	"github.com/joseph-ayodele/docflow/constants"
)

var ocrArtifacts = []string{"|||", "___", "###", "�"}

// TextQuality scores how usable extracted text is: the mean of a length
// score (words/100) and a density score (words per line / 10), less 0.1 per
// OCR artifact occurrence, clamped to [0,1].
func TextQuality(text string) float64 {
	if len(strings.TrimSpace(text)) < 10 {
		return 0
	}
	words := len(strings.Fields(text))
	lines := max(len(strings.Split(text, "\n")), 1)

	length := min(float64(words)/100, 1)
	density := min(float64(words)/float64(lines)/10, 1)

	penalty := 0.0
	for _, a := range ocrArtifacts {
		penalty += float64(strings.Count(text, a)) * 0.1
	}
	return max(0, min(1, (length+density)/2-penalty))
}

// Mode picks text or vision classification.
func Mode(text string, minLength int, minQuality float64) (constants.ProcessingMode, float64) {
	q := TextQuality(text)
	if len(strings.TrimSpace(text)) < minLength || q < minQuality {
		return constants.ModeVision, q
	}
	return constants.ModeText, q
}

// Window keeps the head and tail of long text.
func Window(text string, threshold, head, tail int) string {
	if threshold <= 0 || len(text) <= threshold || head+tail >= len(text) {
		return text
	}
	return safePrefix(text, head) + "\n...\n" + safeSuffix(text, tail)
}

func safePrefix(s string, n int) string {
	for n > 0 && n < len(s) && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func safeSuffix(s string, n int) string {
	i := len(s) - n
	for i > 0 && i < len(s) && !isRuneStart(s[i]) {
		i++
	}
	return s[i:]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
