package extract

import "strings"

// Chunk is one overlapping slice of the document text.
type Chunk struct {
	Index int
	Start int
	End   int
	Text  string
}

// SplitText cuts text into chunks of at most size bytes that overlap by
// overlap bytes. Each cut is moved back to the nearest paragraph break,
// sentence end or line break found within the overlap window, in that order
// of preference.
func SplitText(text string, size, overlap int) []Chunk {
	if size <= 0 || len(text) <= size {
		return []Chunk{{Index: 0, Start: 0, End: len(text), Text: text}}
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var chunks []Chunk
	start := 0
	for start < len(text) {
		end := start + size
		if end < len(text) {
			floor := max(end-overlap, start)
			if cut := boundary(text, floor, end); cut > floor {
				end = cut
			}
		} else {
			end = len(text)
		}
		end = runeBoundary(text, end)

		if s := strings.TrimSpace(text[start:end]); s != "" {
			chunks = append(chunks, Chunk{Index: len(chunks), Start: start, End: end, Text: s})
		}
		if end >= len(text) {
			break
		}
		next := runeBoundary(text, end-overlap)
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// boundary searches backward from end to floor for a break point and
// returns the index just after it, or -1.
func boundary(text string, floor, end int) int {
	for i := end; i > floor; i-- {
		if i < len(text) && text[i-1] == '\n' && text[i] == '\n' {
			return i + 1
		}
	}
	for i := end; i > floor; i-- {
		if i+1 < len(text) && strings.IndexByte(".!?", text[i]) >= 0 && (text[i+1] == ' ' || text[i+1] == '\n') {
			return i + 1
		}
	}
	for i := end; i > floor; i-- {
		if i < len(text) && text[i] == '\n' {
			return i + 1
		}
	}
	return -1
}

func runeBoundary(s string, i int) int {
	if i <= 0 {
		return 0
	}
	for i < len(s) && s[i]&0xC0 == 0x80 {
		i++
	}
	return min(i, len(s))
}

// EstimateTokens approximates tokens at four characters each.
func EstimateTokens(n int) int { return n / 4 }
