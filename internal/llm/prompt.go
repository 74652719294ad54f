package llm

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// MustJSON renders v as indented JSON, or "{}" when it cannot be encoded.
func MustJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Truncate cuts s to at most n bytes without splitting a rune.
func Truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// JoinLines joins non-empty prompt parts with newlines.
func JoinLines(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n")
}

// JSONOnlyInstruction is appended to prompts whose reply must be one JSON object.
const JSONOnlyInstruction = "Return ONLY a single JSON object. No markdown, no comments, no explanations."
