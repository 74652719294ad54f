package schema

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/common"
)

func TestParseCapCallSchema(t *testing.T) {
	store := NewFileStore("", nil)
	s, err := store.Load(context.Background(), constants.DocCapCall)
	require.NoError(t, err)

	leaves := s.Leaves()
	require.Contains(t, leaves, "entities[].portfolio[].CapitalCall")
	assert.Equal(t, "number", leaves["entities[].portfolio[].CapitalCall"].Type)
	assert.True(t, leaves["entities[].portfolio[].CapitalCall"].Required)
	assert.False(t, leaves["entities[].portfolio[].WorkingCapital"].Required)
	assert.Equal(t, "string", leaves["entities[].FundName"].Type)

	entities := s.Root.Child("entities")
	require.NotNil(t, entities)
	assert.Equal(t, KindArray, entities.Kind)
	assert.Equal(t, KindObject, entities.Items.Kind)
}

func TestAllTypesWithSchemaLoad(t *testing.T) {
	store := NewFileStore("", nil)
	for _, dt := range constants.DocumentTypes {
		if !dt.HasSchema() {
			continue
		}
		s, err := store.Load(context.Background(), dt)
		require.NoError(t, err, dt)
		assert.NotEmpty(t, s.Leaves(), dt)
	}
}

func TestLoadCachesSchema(t *testing.T) {
	store := NewFileStore("", nil)
	a, err := store.Load(context.Background(), constants.DocStatement)
	require.NoError(t, err)
	b, err := store.Load(context.Background(), constants.DocStatement)
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestLoadUnknownTypeIsConfigError(t *testing.T) {
	store := NewFileStore("", nil)
	_, err := store.Load(context.Background(), constants.DocUnknown)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrConfig))

	var pe *common.PipelineError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, common.CategoryConfiguration, pe.Category)
}

func TestDirectoryOverridesEmbedded(t *testing.T) {
	dir := t.TempDir()
	doc := `{"type":"object","properties":{"Total":{"type":"number"}},"required":["Total"]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agm_schema.json"), []byte(doc), 0o644))

	store := NewFileStore(dir, nil)
	s, err := store.Load(context.Background(), constants.DocAGM)
	require.NoError(t, err)
	assert.Len(t, s.Leaves(), 1)
	assert.True(t, s.Root.Child("Total").Required)

	// files absent from the directory still come from the built-in set
	_, err = store.Load(context.Background(), constants.DocCapCall)
	require.NoError(t, err)
}

func TestParseRejectsUnsupportedType(t *testing.T) {
	_, err := Parse(constants.DocAGM, []byte(`{"type":"object","properties":{"x":{"type":"date"}}}`))
	require.Error(t, err)
}

func TestResponseSchemaExpandsLeaves(t *testing.T) {
	s, err := Parse(constants.DocAGM, []byte(`{"type":"object","properties":{"Total":{"type":"integer"}}}`))
	require.NoError(t, err)

	rs := s.ResponseSchema()
	assert.Equal(t, "object", rs["type"])
	total := rs["properties"].(map[string]any)["Total"].(map[string]any)
	props := total["properties"].(map[string]any)
	for _, k := range []string{"Value", "ConfidenceScore", "VerbatimText", "BoundingBox", "PageNumber"} {
		assert.Contains(t, props, k)
	}
}
