package llm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/docflow/internal/entity"
)

// SanitizeExtractedFields coerces loosely-typed leaf fields in place so the
// tree can pass strict validation: percentage confidences are scaled into
// [0,1], comma-separated box strings become lists, page numbers become
// integers, and numeric Values given as strings are parsed when numeric
// reports the schema path as a number. It returns the paths it changed.
func SanitizeExtractedFields(tree map[string]any, numeric func(schemaPath string) bool) []string {
	var changed []string
	for _, ref := range entity.CollectFields(tree) {
		f := ref.Field
		touched := false

		if c, ok := toFloat(f[entity.KeyConfidenceScore]); ok {
			if c > 1 && c <= 100 {
				c /= 100
			}
			if c < 0 {
				c = 0
			}
			if c > 1 {
				c = 1
			}
			if f[entity.KeyConfidenceScore] != c {
				f[entity.KeyConfidenceScore] = c
				touched = true
			}
		} else if f[entity.KeyConfidenceScore] != nil {
			f[entity.KeyConfidenceScore] = nil
			touched = true
		}

		switch bb := f[entity.KeyBoundingBox].(type) {
		case string:
			if strings.TrimSpace(bb) == "" {
				f[entity.KeyBoundingBox] = nil
			} else {
				f[entity.KeyBoundingBox] = []any{strings.TrimSpace(bb)}
			}
			touched = true
		case []any:
			for i, x := range bb {
				if _, ok := x.(string); !ok {
					bb[i] = fmt.Sprint(x)
					touched = true
				}
			}
		}

		if p, ok := toFloat(f[entity.KeyPageNumber]); ok {
			var want any
			if p >= 1 {
				want = float64(int(p))
			}
			if f[entity.KeyPageNumber] != want {
				f[entity.KeyPageNumber] = want
				touched = true
			}
		}

		if s, ok := f[entity.KeyValue].(string); ok && numeric != nil && numeric(entity.SchemaPath(ref.Path)) {
			if n, ok := parseAmount(s); ok {
				f[entity.KeyValue] = n
				if _, has := f[entity.KeyVerbatimText]; !has || f[entity.KeyVerbatimText] == nil {
					f[entity.KeyVerbatimText] = s
				}
			} else if strings.TrimSpace(s) == "" {
				f[entity.KeyValue] = nil
			}
			touched = true
		}

		if touched {
			changed = append(changed, ref.Path)
		}
	}
	return changed
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(t), "%"), 64)
		return f, err == nil
	}
	return 0, false
}

// parseAmount accepts "1,250.50", "$300", "(42.10)" and "-7".
func parseAmount(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}
	s = strings.NewReplacer(",", "", "$", "", "€", "", "£", "", " ", "").Replace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if neg {
		f = -f
	}
	return f, true
}
