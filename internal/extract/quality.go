package extract

import (
	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/schema"
)

// Quality summarises how much of the schema an extraction filled.
type Quality struct {
	Completeness float64                `json:"completeness"`
	Required     float64                `json:"required_completeness"`
	Density      float64                `json:"density"`
	Score        float64                `json:"score"`
	Level        constants.QualityLevel `json:"level"`
}

type fieldCounts struct {
	total, present, nonNull int
	required, requiredFound int
}

// Assess scores tree against the schema before completion stubs are added:
// 0.4 * share of schema fields the model returned, 0.4 * share of required
// fields with a value, 0.2 * share of returned fields that are non-null.
func Assess(tree map[string]any, fs *schema.FieldSchema) Quality {
	if len(tree) == 0 {
		return Quality{Level: constants.QualityFailed}
	}
	var c fieldCounts
	countNode(tree, fs.Root, &c)

	q := Quality{
		Completeness: ratio(c.present, c.total, 0),
		Required:     ratio(c.requiredFound, c.required, 1),
		Density:      ratio(c.nonNull, c.present, 0),
	}
	q.Score = 0.4*q.Completeness + 0.4*q.Required + 0.2*q.Density
	q.Level = constants.QualityFor(q.Score)
	return q
}

func countNode(v any, n *schema.Node, c *fieldCounts) {
	switch n.Kind {
	case schema.KindObject:
		m, _ := v.(map[string]any)
		for _, child := range n.Children {
			var cv any
			if m != nil {
				cv = m[child.Name]
			}
			if child.Kind == schema.KindLeaf {
				countLeaf(cv, m != nil && hasKey(m, child.Name), child.Required, c)
				continue
			}
			countNode(cv, child, c)
		}
	case schema.KindArray:
		list, _ := v.([]any)
		if len(list) == 0 {
			countNode(nil, n.Items, c)
			return
		}
		for _, item := range list {
			countNode(item, n.Items, c)
		}
	default:
		countLeaf(v, v != nil, n.Required, c)
	}
}

func countLeaf(v any, present, required bool, c *fieldCounts) {
	c.total++
	if required {
		c.required++
	}
	if !present {
		return
	}
	c.present++
	filled := false
	if f, ok := entity.AsField(v); ok {
		filled = !isBlank(f[entity.KeyValue])
	} else {
		filled = !isBlank(v)
	}
	if filled {
		c.nonNull++
		if required {
			c.requiredFound++
		}
	}
}

func hasKey(m map[string]any, k string) bool {
	_, ok := m[k]
	return ok
}

func ratio(n, d int, empty float64) float64 {
	if d == 0 {
		return empty
	}
	return float64(n) / float64(d)
}
