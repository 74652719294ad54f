package constants

import "strings"

// DocumentType is the fixed taxonomy the classifier assigns.
type DocumentType string

const (
	DocStatement    DocumentType = "Statement"
	DocCapCall      DocumentType = "CapCall"
	DocDistribution DocumentType = "Distribution"
	DocAGM          DocumentType = "AGM"
	DocUnknown      DocumentType = "Unknown"
)

// DocumentTypes lists the taxonomy in prompt order.
var DocumentTypes = []DocumentType{DocStatement, DocCapCall, DocDistribution, DocAGM, DocUnknown}

var documentDescriptions = map[DocumentType]string{
	DocStatement:    "Periodic account or capital account statement showing balances, NAV, commitments and activity for a period",
	DocCapCall:      "Capital call notice requesting investors to contribute capital, with amount due and due date",
	DocDistribution: "Distribution notice informing investors of cash or stock distributed to them",
	DocAGM:          "Annual general meeting notice, agenda, minutes or related investor materials",
	DocUnknown:      "Any document that does not fit the types above",
}

var schemaFiles = map[DocumentType]string{
	DocStatement:    "statement_schema.json",
	DocCapCall:      "capcall_schema.json",
	DocDistribution: "distribution_schema.json",
	DocAGM:          "agm_schema.json",
}

// Description returns the prompt description of t.
func (t DocumentType) Description() string {
	return documentDescriptions[t]
}

// SchemaFile returns the field schema filename for t, or "" for types without a schema.
func (t DocumentType) SchemaFile() string {
	return schemaFiles[t]
}

// HasSchema reports whether extraction is defined for t.
func (t DocumentType) HasSchema() bool {
	_, ok := schemaFiles[t]
	return ok
}

// ParseDocumentType matches s case-insensitively against the taxonomy.
func ParseDocumentType(s string) (DocumentType, bool) {
	s = strings.TrimSpace(s)
	for _, t := range DocumentTypes {
		if strings.EqualFold(s, string(t)) {
			return t, true
		}
	}
	return DocUnknown, false
}
