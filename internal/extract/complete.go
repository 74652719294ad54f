package extract

import (
	"fmt"

	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/schema"
)

// Complete injects a null stub for every schema field missing from tree and
// returns the paths it added. Empty or missing arrays receive one stub item
// so that nested fields are present as well. Bare scalars the model returned
// in place of a field object are wrapped as the field's Value.
func Complete(tree map[string]any, fs *schema.FieldSchema) []string {
	var added []string
	completeObject(tree, fs.Root, "", &added)
	return added
}

func stub(n *schema.Node) any {
	switch n.Kind {
	case schema.KindObject:
		m := make(map[string]any, len(n.Children))
		for _, c := range n.Children {
			m[c.Name] = stub(c)
		}
		return m
	case schema.KindArray:
		return []any{stub(n.Items)}
	default:
		return entity.NullField()
	}
}

func completeObject(obj map[string]any, n *schema.Node, path string, added *[]string) {
	for _, c := range n.Children {
		p := entity.JoinPath(path, c.Name)
		cur, ok := obj[c.Name]
		if !ok || cur == nil {
			obj[c.Name] = stub(c)
			*added = append(*added, p)
			continue
		}
		obj[c.Name] = completeValue(cur, c, p, added)
	}
}

func completeValue(v any, n *schema.Node, path string, added *[]string) any {
	switch n.Kind {
	case schema.KindObject:
		m, ok := v.(map[string]any)
		if !ok {
			*added = append(*added, path)
			return stub(n)
		}
		completeObject(m, n, path, added)
		return m
	case schema.KindArray:
		list, ok := v.([]any)
		if !ok || len(list) == 0 {
			*added = append(*added, path+"[0]")
			return []any{stub(n.Items)}
		}
		for i, item := range list {
			list[i] = completeValue(item, n.Items, fmt.Sprintf("%s[%d]", path, i), added)
		}
		return list
	default:
		if f, ok := v.(map[string]any); ok {
			for _, k := range entity.LeafKeys {
				if _, ok := f[k]; !ok {
					f[k] = nil
				}
			}
			return f
		}
		f := entity.NullField()
		f[entity.KeyValue] = v
		return f
	}
}
