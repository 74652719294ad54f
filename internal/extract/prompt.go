package extract

import (
	"fmt"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/llm"
	"github.com/joseph-ayodele/docflow/internal/schema"
)

const systemPrompt = "You are a precise data extraction expert for financial documents. Return only valid JSON."

const distributionNote = `Distribution notices list one row per investor. Extract EVERY row of the distribution table as its own portfolio entry, across all pages. Shared values such as Security, TransactionDate and Currency repeat on each entry.`

func buildPrompt(text string, fs *schema.FieldSchema, chunk string) string {
	var chunkNote, typeNote string
	if chunk != "" {
		chunkNote = fmt.Sprintf("This is %s of a larger document. Extract everything relevant from this section only.", chunk)
	}
	if fs.DocumentType == constants.DocDistribution {
		typeNote = distributionNote
	}

	return llm.JoinLines(
		fmt.Sprintf("Extract structured data from the following %s document according to the JSON schema below.", fs.DocumentType),
		"",
		"Rules:",
		"1. Every leaf field is an object with keys Value, ConfidenceScore, VerbatimText, BoundingBox and PageNumber.",
		"2. Use null for values that are not in the document. Never invent data.",
		"3. Include every field of the schema, even when its Value is null.",
		"4. ConfidenceScore is a number between 0 and 1.",
		"5. VerbatimText is ONLY the exact snippet from the document that supports the value, e.g. \"USD 12,889.47\" or \"May 30, 2025\". Never a whole paragraph.",
		"6. When a value is the sum of several amounts, VerbatimText lists those amounts separated by commas.",
		"7. Extract every row of every table; each row is a separate array entry.",
		"8. Leave BoundingBox null; it is filled in later.",
		typeNote,
		chunkNote,
		"",
		"JSON schema:",
		llm.MustJSON(fs.ResponseSchema()),
		"",
		"Document content:",
		"---",
		text,
		"---",
		llm.JSONOnlyInstruction,
	)
}
