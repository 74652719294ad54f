package schema

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/entity"
)

// Kind tags a schema node.
type Kind int

const (
	KindLeaf Kind = iota
	KindObject
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	default:
		return "leaf"
	}
}

// Node is one element of a FieldSchema tree.
// Leaf nodes carry a scalar Type; objects carry Children; arrays carry Items.
type Node struct {
	Name        string
	Kind        Kind
	Type        string
	Format      string
	Description string
	Required    bool
	Children    []*Node
	Items       *Node
}

// Child looks up a direct child of an object node.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// FieldSchema is the read-only field tree for one document type.
type FieldSchema struct {
	DocumentType constants.DocumentType
	Title        string
	Root         *Node
	raw          []byte
}

// Raw returns the schema document as loaded.
func (s *FieldSchema) Raw() []byte { return s.raw }

// rawNode mirrors the subset of JSON Schema used by field schema files.
type rawNode struct {
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Type        any                 `json:"type"`
	Format      string              `json:"format"`
	Properties  map[string]*rawNode `json:"properties"`
	Items       *rawNode            `json:"items"`
	Required    []string            `json:"required"`
}

// Parse builds a FieldSchema from a schema document.
func Parse(docType constants.DocumentType, data []byte) (*FieldSchema, error) {
	var raw rawNode
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode schema %s: %w", docType, err)
	}
	root, err := convert("", &raw, false)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", docType, err)
	}
	if root.Kind != KindObject {
		return nil, fmt.Errorf("schema %s: root must be an object", docType)
	}
	return &FieldSchema{DocumentType: docType, Title: raw.Title, Root: root, raw: data}, nil
}

func convert(name string, r *rawNode, required bool) (*Node, error) {
	n := &Node{Name: name, Description: r.Description, Format: r.Format, Required: required}
	typ := primaryType(r.Type)
	switch {
	case typ == "object" || (typ == "" && r.Properties != nil):
		n.Kind = KindObject
		req := make(map[string]bool, len(r.Required))
		for _, k := range r.Required {
			req[k] = true
		}
		names := make([]string, 0, len(r.Properties))
		for k := range r.Properties {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			child, err := convert(k, r.Properties[k], req[k])
			if err != nil {
				return nil, err
			}
			n.Children = append(n.Children, child)
		}
	case typ == "array":
		n.Kind = KindArray
		if r.Items == nil {
			return nil, fmt.Errorf("array %q has no items", name)
		}
		item, err := convert("", r.Items, false)
		if err != nil {
			return nil, err
		}
		n.Items = item
	case typ == "string" || typ == "number" || typ == "integer" || typ == "boolean":
		n.Kind = KindLeaf
		n.Type = typ
	default:
		return nil, fmt.Errorf("field %q has unsupported type %v", name, r.Type)
	}
	return n, nil
}

// primaryType picks the first non-null entry of a JSON Schema "type".
func primaryType(t any) string {
	switch v := t.(type) {
	case string:
		return v
	case []any:
		for _, x := range v {
			if s, ok := x.(string); ok && s != "null" {
				return s
			}
		}
	}
	return ""
}

// Walk visits n and its descendants depth-first. Returning false from fn skips
// the node's children. Array items are reported with a "[]" path segment.
func Walk(n *Node, fn func(path string, n *Node) bool) {
	walk(n, "", fn)
}

func walk(n *Node, path string, fn func(string, *Node) bool) {
	if !fn(path, n) {
		return
	}
	switch n.Kind {
	case KindObject:
		for _, c := range n.Children {
			walk(c, entity.JoinPath(path, c.Name), fn)
		}
	case KindArray:
		walk(n.Items, path+"[]", fn)
	}
}

// Leaves returns every leaf node with its path.
func (s *FieldSchema) Leaves() map[string]*Node {
	out := map[string]*Node{}
	Walk(s.Root, func(path string, n *Node) bool {
		if n.Kind == KindLeaf {
			out[path] = n
		}
		return true
	})
	return out
}

// ResponseSchema renders the JSON Schema an LLM response must satisfy: the
// field tree with each leaf expanded into an extracted-field object. Fields
// are not required at this level; completeness is enforced after extraction.
func (s *FieldSchema) ResponseSchema() map[string]any {
	out := responseNode(s.Root)
	out["type"] = "object"
	return out
}

func responseNode(n *Node) map[string]any {
	switch n.Kind {
	case KindObject:
		props := make(map[string]any, len(n.Children))
		for _, c := range n.Children {
			props[c.Name] = responseNode(c)
		}
		return map[string]any{"type": []any{"object", "null"}, "properties": props}
	case KindArray:
		return map[string]any{"type": []any{"array", "null"}, "items": responseNode(n.Items)}
	default:
		valueType := []any{n.Type, "null"}
		if n.Type == "integer" {
			valueType = []any{"number", "null"}
		}
		return map[string]any{
			"type": []any{"object", "null"},
			"properties": map[string]any{
				entity.KeyValue:           map[string]any{"type": valueType},
				entity.KeyConfidenceScore: map[string]any{"type": []any{"number", "null"}, "minimum": 0, "maximum": 1},
				entity.KeyVerbatimText:    map[string]any{"type": []any{"string", "null"}},
				entity.KeyBoundingBox:     map[string]any{"type": []any{"array", "null"}, "items": map[string]any{"type": "string"}},
				entity.KeyPageNumber:      map[string]any{"type": []any{"integer", "null"}, "minimum": 1},
			},
		}
	}
}
