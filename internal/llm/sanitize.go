package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoJSONObject is returned when a completion holds no JSON object.
var ErrNoJSONObject = errors.New("no json object in response")

var (
	reFence        = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
	reLineComment  = regexp.MustCompile(`(?m)^\s*//.*$`)
	reTrailingComa = regexp.MustCompile(`,(\s*[}\]])`)
)

// ExtractJSONObject strips markdown fences, whole-line // comments and
// trailing commas, then returns the outermost {...} span of s.
func ExtractJSONObject(s string) (string, error) {
	s = strings.TrimSpace(s)
	if m := reFence.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	s = reLineComment.ReplaceAllString(s, "")
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", ErrNoJSONObject
	}
	s = s[start : end+1]
	return reTrailingComa.ReplaceAllString(s, "$1"), nil
}

// DecodeJSONObject decodes a completion into a generic object.
func DecodeJSONObject(content string) (map[string]any, error) {
	obj, err := ExtractJSONObject(content)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(obj), &m); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return m, nil
}
