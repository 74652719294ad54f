package extract

import (
	"reflect"
	"strings"

	"github.com/joseph-ayodele/docflow/internal/entity"
)

// Merge folds chunk results in order into one tree. Objects merge key by
// key, lists gain the items they do not already hold, and for scalars the
// earlier non-empty value wins. Inputs are not modified.
func Merge(trees ...map[string]any) map[string]any {
	out := map[string]any{}
	for _, t := range trees {
		if t == nil {
			continue
		}
		out = mergeValue(out, entity.CopyTree(t)).(map[string]any)
	}
	return out
}

func mergeValue(base, next any) any {
	switch b := base.(type) {
	case map[string]any:
		n, ok := next.(map[string]any)
		if !ok {
			return preferScalar(base, next)
		}
		for _, k := range entity.SortedKeys(n) {
			if cur, ok := b[k]; ok {
				b[k] = mergeValue(cur, n[k])
			} else {
				b[k] = n[k]
			}
		}
		return b
	case []any:
		n, ok := next.([]any)
		if !ok {
			return preferScalar(base, next)
		}
		for _, item := range n {
			if !containsValue(b, item) {
				b = append(b, item)
			}
		}
		return b
	default:
		return preferScalar(base, next)
	}
}

func preferScalar(base, next any) any {
	if isBlank(base) && !isBlank(next) {
		return next
	}
	return base
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

func containsValue(list []any, v any) bool {
	for _, item := range list {
		if reflect.DeepEqual(item, v) {
			return true
		}
	}
	return false
}
