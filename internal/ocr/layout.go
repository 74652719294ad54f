package ocr

import (
	"strings"

	"github.com/joseph-ayodele/docflow/internal/entity"
)

// PageText joins words in emission order: words on the same Line with a
// space, lines with "\n", and a change of Block with "\n\n".
func PageText(words []entity.Word) string {
	var b strings.Builder
	for i, w := range words {
		if i > 0 {
			prev := words[i-1]
			switch {
			case w.Block != prev.Block:
				b.WriteString("\n\n")
			case w.Line != prev.Line:
				b.WriteString("\n")
			default:
				b.WriteString(" ")
			}
		}
		b.WriteString(w.Text)
	}
	return b.String()
}
