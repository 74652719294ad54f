package repository

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
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := OpenSQLite(ctx, ":memory:", quiet)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))
	return s
}

func sampleDoc() *entity.DocumentRecord {
	doc := entity.NewDocumentRecord("/in/call.pdf")
	doc.ContentHash = "abc123"
	doc.PageCount = 3
	doc.DocumentType = constants.DocCapCall
	doc.ClassificationConfidence = 0.93
	doc.ClassificationBand = constants.BandHigh
	doc.SetStatus(constants.StatusCompletedSuccessfully)
	doc.SetMeta("ocr_method", "pdf-text")
	doc.Violations = []common.Violation{{Path: "entities[0].FundName", Rule: "required", Message: "missing", Severity: common.ViolationError}}
	doc.AddEvent(entity.LevelInfo, "ocr", "located 10 words", map[string]any{"pages": 3})
	doc.AddEvent(entity.LevelWarning, "classification", "low confidence", nil)
	return doc
}

func TestStoreDocumentMetadataRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	doc := sampleDoc()

	require.NoError(t, s.StoreDocumentMetadata(ctx, doc))

	row, err := s.GetDocument(ctx, doc.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "call.pdf", row.Filename)
	assert.Equal(t, constants.StatusCompletedSuccessfully, row.Status)
	assert.Equal(t, "CapCall", row.DocumentType)
	assert.InDelta(t, 0.93, row.Confidence, 1e-9)
	assert.Equal(t, 3, row.PageCount)
	assert.Equal(t, "pdf-text", row.Metadata["ocr_method"])
	require.Len(t, row.Violations, 1)
	assert.Equal(t, "required", row.Violations[0].Rule)
	assert.Empty(t, row.ErrorMessage)

	events, err := s.Events(ctx, doc.ID.String())
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "ocr", events[0].Stage)
	assert.Equal(t, entity.LevelWarning, events[1].Level)
	assert.Equal(t, float64(3), events[0].Details["pages"])
}

func TestStoreDocumentMetadataIsIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	doc := sampleDoc()
	require.NoError(t, s.StoreDocumentMetadata(ctx, doc))

	doc.ErrorMessage = "output failed"
	doc.SetStatus(constants.StatusCompletedWithError)
	doc.AddEvent(entity.LevelError, "output", "disk full", nil)
	require.NoError(t, s.StoreDocumentMetadata(ctx, doc))

	row, err := s.GetDocument(ctx, doc.ID.String())
	require.NoError(t, err)
	assert.Equal(t, constants.StatusCompletedWithError, row.Status)
	assert.Equal(t, "output failed", row.ErrorMessage)

	events, err := s.Events(ctx, doc.ID.String())
	require.NoError(t, err)
	assert.Len(t, events, 3)

	all, err := s.ListDocuments(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	failed, err := s.ListDocuments(ctx, string(constants.StatusCompletedSuccessfully), 10)
	require.NoError(t, err)
	assert.Empty(t, failed)
}

func TestStoreExtraction(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	doc := sampleDoc()
	tree := map[string]any{"entities": []any{map[string]any{"FundName": map[string]any{"Value": "Fund I"}}}}

	// extraction before metadata still satisfies the foreign key
	require.NoError(t, s.StoreExtraction(ctx, "CapCall", tree, doc.ID.String()))
	require.NoError(t, s.StoreDocumentMetadata(ctx, doc))

	tree["entities"] = []any{map[string]any{"FundName": map[string]any{"Value": "Fund II"}}}
	require.NoError(t, s.StoreExtraction(ctx, "CapCall", tree, doc.ID.String()))

	got, docType, err := s.GetExtraction(ctx, doc.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "CapCall", docType)
	fund := got["entities"].([]any)[0].(map[string]any)["FundName"].(map[string]any)
	assert.Equal(t, "Fund II", fund["Value"])

	row, err := s.GetDocument(ctx, doc.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "call.pdf", row.Filename, "metadata replaces the placeholder row")
}

func TestLookupHash(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, found, err := s.LookupHash(ctx, "abc123")
	require.NoError(t, err)
	assert.False(t, found)

	doc := sampleDoc()
	require.NoError(t, s.StoreDocumentMetadata(ctx, doc))
	id, found, err := s.LookupHash(ctx, "abc123")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, doc.ID.String(), id)
}

func TestNotFound(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.GetDocument(ctx, "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, common.ErrNotFound)
	_, _, err = s.GetExtraction(ctx, "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.NoError(t, s.HealthCheck(ctx, 0))
}
