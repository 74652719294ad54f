package validate

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/schema"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func leaf(v any) map[string]any {
	f := entity.NullField()
	f[entity.KeyValue] = v
	return f
}

func capCallTree(item map[string]any) map[string]any {
	return map[string]any{"entities": []any{map[string]any{
		"FundName":  leaf("Fund I"),
		"portfolio": []any{item},
	}}}
}

func rules(res Result) map[string]string {
	out := map[string]string{}
	for _, v := range res.Violations {
		out[v.Path] = v.Rule
	}
	return out
}

func load(t *testing.T) *schema.FieldSchema {
	t.Helper()
	fs, err := schema.NewFileStore("", quiet).Load(context.Background(), constants.DocCapCall)
	require.NoError(t, err)
	return fs
}

func TestValidateCleanTree(t *testing.T) {
	item := map[string]any{
		"Investor":        leaf("Jane Doe LP"),
		"TransactionDate": leaf("2024-03-01"),
		"CapitalCall":     leaf(1250.5),
		"Currency":        leaf("USD"),
	}
	item["CapitalCall"].(map[string]any)[entity.KeyConfidenceScore] = 0.97
	item["CapitalCall"].(map[string]any)[entity.KeyPageNumber] = 1.0
	item["CapitalCall"].(map[string]any)[entity.KeyBoundingBox] = []any{"0.1,0.1,0.1,0.1"}

	res := New(quiet).Validate(context.Background(), capCallTree(item), load(t))
	assert.True(t, res.Valid(), "%v", res.Violations)
	assert.Zero(t, res.Warnings)
}

func TestValidateReportsViolations(t *testing.T) {
	item := map[string]any{
		"Investor":        leaf(nil),
		"TransactionDate": leaf("sometime in spring"),
		"CapitalCall":     leaf(-5.0),
		"Currency":        leaf(42.0),
		"DueDate":         "2024-01-01",
	}
	item["Investor"].(map[string]any)[entity.KeyConfidenceScore] = 1.5
	item["CapitalCall"].(map[string]any)[entity.KeyPageNumber] = 0.0

	res := New(quiet).Validate(context.Background(), capCallTree(item), load(t))
	assert.False(t, res.Valid())

	got := rules(res)
	base := "entities[0].portfolio[0]."
	assert.Equal(t, "required", got[base+"Investor"])
	assert.Equal(t, "unit_interval", got[base+"Investor.ConfidenceScore"])
	assert.Equal(t, "date", got[base+"TransactionDate"])
	assert.Equal(t, "non_negative", got[base+"CapitalCall"])
	assert.Equal(t, "page_number", got[base+"CapitalCall.PageNumber"])
	assert.Equal(t, "type", got[base+"Currency"])
	assert.Equal(t, "field", got[base+"DueDate"])
	assert.Equal(t, 2, res.Warnings)
}

func TestValidateMissingRequiredArray(t *testing.T) {
	res := New(quiet).Validate(context.Background(), map[string]any{}, load(t))
	require.Len(t, res.Violations, 1)
	assert.Equal(t, common.Violation{Path: "entities", Rule: "required", Message: "is required", Severity: common.ViolationError}, res.Violations[0])
}
