package export

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/entity"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func processedDoc() *entity.DocumentRecord {
	doc := entity.NewDocumentRecord("/secret/inbox/Q3 call.pdf")
	doc.PageCount = 2
	doc.Pages = []entity.Page{{Number: 1, Text: "page one"}}
	doc.DocumentType = constants.DocCapCall
	doc.ClassificationConfidence = 0.95
	doc.ClassificationBand = constants.BandHigh
	doc.ExtractedData = map[string]any{
		"entities": []any{map[string]any{
			"CapitalCall": map[string]any{
				entity.KeyValue:           1250000.0,
				entity.KeyConfidenceScore: 0.9,
				entity.KeyVerbatimText:    "$1,250,000.00",
				entity.KeyBoundingBox:     []any{"0.1,0.2,0.05,0.01"},
				entity.KeyPageNumber:      1.0,
			},
			"Account": map[string]any{
				entity.KeyValue:           "123-456",
				entity.KeyConfidenceScore: 0.8,
				entity.KeyVerbatimText:    "123-456",
				entity.KeyBoundingBox:     []any{"0.6,0.4,0.1,0.02"},
				entity.KeyPageNumber:      1.0,
			},
		}},
	}
	doc.SetStatus(constants.StatusCompletedSuccessfully)
	doc.AddEvent(entity.LevelInfo, "ocr", "located", nil)
	return doc
}

func TestOutputName(t *testing.T) {
	assert.Equal(t, "Q3 call_output.json", OutputName("Q3 call.pdf"))
	assert.Equal(t, "report_output.json", OutputName("/a/b/report.PDF"))
	assert.Equal(t, "document_output.json", OutputName(""))
}

func TestArtifactExcludesAndRedacts(t *testing.T) {
	doc := processedDoc()
	a, err := Artifact(doc)
	require.NoError(t, err)

	assert.NotContains(t, a, "source_path")
	assert.NotContains(t, a, "pages")
	assert.Equal(t, "Completed_Successfully", a["status"])

	ent := a["extracted_data"].(map[string]any)["entities"].([]any)[0].(map[string]any)
	assert.Nil(t, ent["Account"].(map[string]any)[entity.KeyBoundingBox])
	assert.NotNil(t, ent["CapitalCall"].(map[string]any)[entity.KeyBoundingBox])

	events := a["events"].([]any)
	require.Len(t, events, 1)
	assert.Contains(t, events[0].(map[string]any), "timestamp")

	// the in-memory record keeps its box
	acct := doc.ExtractedData["entities"].([]any)[0].(map[string]any)["Account"].(map[string]any)
	assert.NotNil(t, acct[entity.KeyBoundingBox])
}

func TestJSONSinkWrite(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	doc := processedDoc()

	path, err := NewJSONSink(dir, quiet).Write(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Q3 call_output.json"), path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(raw, []byte("{\n    \"")), "four-space indentation")

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, doc.ID.String(), got["id"])
	assert.NotContains(t, string(raw), "/secret/inbox")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestJSONSinkHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewJSONSink(t.TempDir(), quiet).Write(ctx, processedDoc())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWorkbook(t *testing.T) {
	failed := entity.NewDocumentRecord("/in/broken.pdf")
	failed.ErrorMessage = "ocr failed"
	failed.SetStatus(constants.StatusCompletedWithError)

	body, err := Workbook([]*entity.DocumentRecord{processedDoc(), failed}, quiet)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	docs, err := f.GetRows(documentsSheet)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, documentHeaders, docs[0])
	assert.Equal(t, "Q3 call.pdf", docs[1][0])
	assert.Equal(t, "CapCall", docs[1][1])
	assert.Equal(t, "Completed_With_Error", docs[2][4])
	assert.Equal(t, "ocr failed", docs[2][7])

	fields, err := f.GetRows(fieldsSheet)
	require.NoError(t, err)
	require.Len(t, fields, 3)
	assert.Equal(t, "entities[0].Account", fields[1][1])
	assert.Len(t, fields[1], 6, "redacted box leaves the last cell empty")
	assert.Equal(t, "entities[0].CapitalCall", fields[2][1])
	assert.Equal(t, "$1,250,000.00", fields[2][3])
	assert.Equal(t, "0.1,0.2,0.05,0.01", fields[2][6])
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab…", truncate("abcdef", 3))
}
