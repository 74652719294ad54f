package entity

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Leaf keys carried by every extracted field.
const (
	KeyValue           = "Value"
	KeyConfidenceScore = "ConfidenceScore"
	KeyVerbatimText    = "VerbatimText"
	KeyBoundingBox     = "BoundingBox"
	KeyPageNumber      = "PageNumber"
)

// LeafKeys lists the extracted-field keys in output order.
var LeafKeys = []string{KeyValue, KeyConfidenceScore, KeyVerbatimText, KeyBoundingBox, KeyPageNumber}

// NullField returns a field stub with every key null.
func NullField() map[string]any {
	return map[string]any{
		KeyValue:           nil,
		KeyConfidenceScore: nil,
		KeyVerbatimText:    nil,
		KeyBoundingBox:     nil,
		KeyPageNumber:      nil,
	}
}

// AsField reports whether v is an extracted leaf field.
func AsField(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	if _, ok := m[KeyValue]; ok {
		return m, true
	}
	if _, ok := m[KeyVerbatimText]; ok {
		return m, true
	}
	return nil, false
}

// FieldRef points at one leaf inside an extracted-data tree.
type FieldRef struct {
	Path  string
	Key   string
	Field map[string]any
}

// Verbatim returns the field's VerbatimText, falling back to its Value.
func (r FieldRef) Verbatim() string {
	if s, ok := r.Field[KeyVerbatimText].(string); ok && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s)
	}
	switch v := r.Field[KeyValue].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// CollectFields walks tree in deterministic order (sorted keys, array index order)
// and returns every leaf field.
func CollectFields(tree map[string]any) []FieldRef {
	var out []FieldRef
	var walk func(v any, path, key string)
	walk = func(v any, path, key string) {
		if f, ok := AsField(v); ok {
			out = append(out, FieldRef{Path: path, Key: key, Field: f})
			return
		}
		switch t := v.(type) {
		case map[string]any:
			for _, k := range SortedKeys(t) {
				walk(t[k], JoinPath(path, k), k)
			}
		case []any:
			for i, item := range t {
				walk(item, fmt.Sprintf("%s[%d]", path, i), key)
			}
		}
	}
	walk(tree, "", "")
	return out
}

// JoinPath appends key to a dotted path.
func JoinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

var reIndex = regexp.MustCompile(`\[\d+\]`)

// SchemaPath turns a field path such as "entities[0].portfolio[2].Fee" into
// its schema path "entities[].portfolio[].Fee".
func SchemaPath(path string) string {
	return reIndex.ReplaceAllString(path, "[]")
}

// SortedKeys returns the keys of m in lexical order.
func SortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DeepCopy clones a decoded JSON value.
func DeepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = DeepCopy(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = DeepCopy(vv)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// CopyTree clones an extracted-data tree.
func CopyTree(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return DeepCopy(m).(map[string]any)
}
