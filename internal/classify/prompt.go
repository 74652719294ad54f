package classify

import (
	"fmt"
	"strings"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/llm"
)

const systemPrompt = "You are a precise document classification expert for private-markets fund documents. " +
	"Reply with a JSON object only."

func buildPrompt(text, filename string, withImages bool) string {
	var types strings.Builder
	for _, t := range constants.DocumentTypes {
		fmt.Fprintf(&types, "- %s: %s\n", t, t.Description())
	}

	content := text
	if strings.TrimSpace(content) == "" {
		content = "(no extractable text)"
	}
	var imageNote string
	if withImages {
		imageNote = "Images of the first pages are attached; rely on them where the text is sparse or garbled."
	}

	return llm.JoinLines(
		"Classify the following document into exactly one of these types:",
		"",
		types.String(),
		"Guidelines:",
		"- Analyze the content, structure and terminology.",
		"- Look for key phrases such as \"capital call\", \"distribution\", \"statement of account\", \"annual general meeting\".",
		"- If uncertain, answer \"Unknown\".",
		imageNote,
		"",
		"Document filename: "+filename,
		"Document content:",
		"---",
		content,
		"---",
		"",
		`Respond as {"document_type": "<one of the types above>", "confidence": <number between 0 and 1>}.`,
		llm.JSONOnlyInstruction,
	)
}
