package bbox

import (
	"fmt"
	"strings"

	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/llm"
)

const systemPrompt = "You are a precise bounding box extraction expert. Return only valid JSON in the specified format."

const coreRules = `Rules:
1. Single-word keys: return the one box most likely correct in left-to-right, top-to-bottom reading order. Format "left,top,width,height".
2. Multi-word keys: return one box per word, concatenated in reading order. Format "left,top,width,height,left,top,width,height,...".
3. Never reuse a box for different keys unless the text is at the same location.
4. Keys with the same value should get distinct boxes where the document shows the value more than once.
5. Keep coordinates normalized to [0,1] and do not round them.
6. Dates may be written differently in the document ("11/10/2023" vs "October 11, 2023"); use the document's rendering to locate them.
7. Never return placeholder or estimated coordinates such as "0.1,0.2,0.3,0.4". Omit any key you cannot locate precisely.
8. Never return the Account key.`

const responseFormat = `Output (JSON only):
{
  "BoundingBox": {"key1": "left,top,width,height", "key2": "left,top,width,height,left,top,width,height"},
  "PageNumber": {"key1": 1, "key2": 2}
}`

// ocrTable renders words as a markdown table, at most limit rows.
func ocrTable(words []entity.Word, limit int) string {
	var b strings.Builder
	b.WriteString("| text | left | top | width | height | page |\n| --- | --- | --- | --- | --- | --- |\n")
	for i, w := range words {
		if limit > 0 && i >= limit {
			fmt.Fprintf(&b, "| ... %d more words omitted | | | | | |\n", len(words)-limit)
			break
		}
		fmt.Fprintf(&b, "| %s | %.4f | %.4f | %.4f | %.4f | %d |\n",
			strings.ReplaceAll(w.Text, "|", "/"), w.Box.Left, w.Box.Top, w.Box.Width, w.Box.Height, w.Page)
	}
	return b.String()
}

func buildDocumentPrompt(fields map[string]string, table string) string {
	return llm.JoinLines(
		"You are given images of a PDF document, the verbatim text of extracted fields, and OCR word boxes.",
		"Match each key to its precise bounding box on the document images. Return NORMALIZED values only.",
		"",
		coreRules,
		"",
		"Verbatim text:",
		llm.MustJSON(fields),
		"",
		"OCR word boxes (left, top, width, height, page):",
		table,
		responseFormat,
		llm.JSONOnlyInstruction,
	)
}

func buildPagePrompt(page, totalPages, totalFields int, fields map[string]string, table string) string {
	return llm.JoinLines(
		fmt.Sprintf("You are given page %d of %d of a PDF document as an image, the verbatim text of extracted fields, and the OCR word boxes of this page.", page, totalPages),
		fmt.Sprintf("The document has %d fields in total; only the ones below may appear on this page.", totalFields),
		fmt.Sprintf("Return boxes ONLY for fields actually visible on page %d. Omit any field that is not on this page.", page),
		"",
		coreRules,
		"",
		fmt.Sprintf("Fields to look for on page %d:", page),
		llm.MustJSON(fields),
		"",
		fmt.Sprintf("Page %d OCR word boxes (left, top, width, height, page):", page),
		table,
		responseFormat,
		llm.JSONOnlyInstruction,
	)
}
