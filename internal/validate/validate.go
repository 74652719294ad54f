// Package validate checks an extracted tree against its field schema and a
// small set of business rules. Violations never block the pipeline.
package validate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/schema"
)

// amountMarkers select numeric fields that must not be negative.
var amountMarkers = []string{"Amount", "CapitalCall", "Distribution", "Contribution", "Commitment", "Fee", "Expenses"}

// Result groups violations by severity.
type Result struct {
	Violations []common.Violation `json:"violations"`
	Errors     int                `json:"errors"`
	Warnings   int                `json:"warnings"`
}

// Valid reports whether no error-severity violation was found.
func (r Result) Valid() bool { return r.Errors == 0 }

type Validator struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{logger: logger}
}

// Validate walks fs alongside tree.
func (v *Validator) Validate(ctx context.Context, tree map[string]any, fs *schema.FieldSchema) Result {
	cv := common.NewValidator()
	checkObject(cv, tree, fs.Root, "")

	res := Result{Violations: cv.Violations()}
	for _, viol := range res.Violations {
		if viol.Severity == common.ViolationError {
			res.Errors++
		} else {
			res.Warnings++
		}
	}
	log := common.LoggerFrom(ctx, v.logger)
	if len(res.Violations) > 0 {
		log.Warn("validate.violations", "doc_type", fs.DocumentType, "errors", res.Errors, "warnings", res.Warnings)
	} else {
		log.Info("validate.ok", "doc_type", fs.DocumentType)
	}
	return res
}

func checkObject(cv *common.Validator, obj map[string]any, n *schema.Node, path string) {
	for _, c := range n.Children {
		checkNode(cv, obj[c.Name], c, entity.JoinPath(path, c.Name))
	}
}

func checkNode(cv *common.Validator, v any, n *schema.Node, path string) {
	switch n.Kind {
	case schema.KindObject:
		if v == nil {
			if n.Required {
				cv.Field(path, v, common.Required)
			}
			return
		}
		m, ok := v.(map[string]any)
		if !ok {
			cv.Field(path, v, common.OfType("object"))
			return
		}
		checkObject(cv, m, n, path)
	case schema.KindArray:
		if v == nil {
			if n.Required {
				cv.Field(path, v, common.Required)
			}
			return
		}
		list, ok := v.([]any)
		if !ok {
			cv.Field(path, v, common.OfType("array"))
			return
		}
		if n.Required {
			cv.Field(path, list, common.Required)
		}
		for i, item := range list {
			checkNode(cv, item, n.Items, fmt.Sprintf("%s[%d]", path, i))
		}
	default:
		checkLeaf(cv, v, n, path)
	}
}

func checkLeaf(cv *common.Validator, v any, n *schema.Node, path string) {
	f, ok := entity.AsField(v)
	if !ok {
		if v == nil && !n.Required {
			return
		}
		cv.Add(common.Violation{Path: path, Rule: "field", Message: "is not an extracted field", Severity: common.ViolationError, Value: v})
		return
	}
	value := f[entity.KeyValue]
	if n.Required {
		cv.Field(path, value, common.Required)
	}
	cv.Field(path, value, common.OfType(n.Type))
	if n.Type == "number" || n.Type == "integer" {
		if isAmount(n.Name) {
			cv.Field(path, value, common.NonNegative)
		}
	}
	if n.Format == "date" || strings.HasSuffix(n.Name, "Date") {
		cv.Field(path, value, common.DateLike)
	}

	cv.Field(path+"."+entity.KeyConfidenceScore, f[entity.KeyConfidenceScore], common.UnitInterval)
	cv.Field(path+"."+entity.KeyBoundingBox, f[entity.KeyBoundingBox], common.OfType("array"))
	cv.Field(path+"."+entity.KeyPageNumber, f[entity.KeyPageNumber], common.OfType("integer"), positive)
}

func isAmount(name string) bool {
	for _, m := range amountMarkers {
		if strings.Contains(name, m) {
			return true
		}
	}
	return false
}

func positive(path string, value any) *common.Violation {
	if f, ok := common.AsFloat(value); ok && f < 1 {
		return &common.Violation{Path: path, Rule: "page_number", Message: "must be 1 or greater", Severity: common.ViolationError, Value: value}
	}
	return nil
}
