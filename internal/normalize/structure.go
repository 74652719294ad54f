package normalize

import "regexp"

var (
	reDates = []*regexp.Regexp{
		regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
		regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{2,4}\b`),
		regexp.MustCompile(`(?i)\b(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+\d{1,2},?\s+\d{4}\b`),
		regexp.MustCompile(`(?i)\b\d{1,2}\s+(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+\d{4}\b`),
	}
	reAmounts = regexp.MustCompile(`[$€£]\s?-?\d{1,3}(?:,\d{3})*(?:\.\d+)?|-?\d{1,3}(?:,\d{3})+(?:\.\d+)?`)
)

// Structure lists dates and amounts seen in the raw text, kept in metadata
// so later stages can cross-check what cleaning touched.
type Structure struct {
	Dates   []string `json:"dates,omitempty"`
	Amounts []string `json:"amounts,omitempty"`
}

// ExtractStructure scans text for dates and amounts, de-duplicated in order.
func ExtractStructure(text string) Structure {
	var s Structure
	seen := map[string]bool{}
	for _, re := range reDates {
		for _, m := range re.FindAllString(text, -1) {
			if !seen[m] {
				seen[m] = true
				s.Dates = append(s.Dates, m)
			}
		}
	}
	for _, m := range reAmounts.FindAllString(text, -1) {
		if !seen[m] {
			seen[m] = true
			s.Amounts = append(s.Amounts, m)
		}
	}
	return s
}
