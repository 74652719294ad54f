package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/cache"
	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/llm"
	"github.com/joseph-ayodele/docflow/internal/llm/llmtest"
	"github.com/joseph-ayodele/docflow/internal/schema"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func field(value any, verbatim string) map[string]any {
	f := entity.NullField()
	f[entity.KeyValue] = value
	if verbatim != "" {
		f[entity.KeyVerbatimText] = verbatim
	}
	return f
}

func capCallResponse(investor, amount string) string {
	return fmt.Sprintf(`{"entities": [{"FundName": {"Value": "Fund I", "ConfidenceScore": 0.9, "VerbatimText": "Fund I", "BoundingBox": null, "PageNumber": 1},
  "portfolio": [{"Investor": {"Value": %q, "ConfidenceScore": 0.95, "VerbatimText": %q, "BoundingBox": null, "PageNumber": 1},
    "CapitalCall": {"Value": %q, "ConfidenceScore": 95, "VerbatimText": "$%s", "BoundingBox": null, "PageNumber": 1}}]}]}`,
		investor, investor, amount, amount)
}

func loadCapCall(t *testing.T) *schema.FieldSchema {
	t.Helper()
	fs, err := schema.NewFileStore("", quiet).Load(context.Background(), constants.DocCapCall)
	require.NoError(t, err)
	return fs
}

func testConfig() Config {
	return Config{Retry: llm.Backoff{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}}
}

func TestSplitTextShortInput(t *testing.T) {
	chunks := SplitText("short text", 100, 10)
	require.Len(t, chunks, 1)
	assert.Equal(t, "short text", chunks[0].Text)
}

func TestSplitTextPrefersParagraphBreaks(t *testing.T) {
	para := strings.Repeat("word ", 16) // 80 chars
	text := para + "\n\n" + para + "\n\n" + para
	chunks := SplitText(text, 100, 30)
	require.GreaterOrEqual(t, len(chunks), 3)
	assert.Equal(t, strings.TrimSpace(para), chunks[0].Text)
	assert.Equal(t, 82, chunks[0].End, "cut just after the blank line")

	for i := 1; i < len(chunks); i++ {
		assert.Less(t, chunks[i].Start, chunks[i-1].End, "chunks overlap")
	}
	assert.Equal(t, len(text), chunks[len(chunks)-1].End)
}

func TestSplitTextSentenceThenLineBreak(t *testing.T) {
	text := strings.Repeat("a", 90) + ". " + strings.Repeat("b", 50)
	chunks := SplitText(text, 95, 10)
	assert.Equal(t, 91, chunks[0].End)

	text = strings.Repeat("a", 90) + "\n" + strings.Repeat("b", 50)
	chunks = SplitText(text, 95, 10)
	assert.Equal(t, 91, chunks[0].End)
}

func TestMergePrefersFirstNonEmptyScalar(t *testing.T) {
	a := map[string]any{"Fund": nil, "Name": "Alpha", "Tags": []any{"x"}}
	b := map[string]any{"Fund": "Fund I", "Name": "Beta", "Tags": []any{"x", "y"}, "Extra": 1.0}

	got := Merge(a, b)
	assert.Equal(t, "Fund I", got["Fund"])
	assert.Equal(t, "Alpha", got["Name"])
	assert.Equal(t, []any{"x", "y"}, got["Tags"])
	assert.Equal(t, 1.0, got["Extra"])
	assert.Nil(t, a["Fund"], "inputs are not modified")
}

func TestMergeIsAssociative(t *testing.T) {
	a := map[string]any{"entities": []any{map[string]any{"FundName": field("Fund I", "")}}, "Note": ""}
	b := map[string]any{"entities": []any{map[string]any{"FundName": field("Fund II", "")}}, "Note": "from b", "Date": nil}
	c := map[string]any{"entities": []any{map[string]any{"FundName": field("Fund I", "")}}, "Note": "from c", "Date": "2024-01-01"}

	left := Merge(a, b, c)
	right := Merge(a, Merge(b, c))
	assert.Equal(t, left, right)
	assert.Len(t, left["entities"], 2)
	assert.Equal(t, "from b", left["Note"])
	assert.Equal(t, "2024-01-01", left["Date"])
}

func TestSumOperands(t *testing.T) {
	tests := []struct {
		in  string
		sum float64
		ok  bool
	}{
		{"1,250.5, 300.25", 1550.75, true},
		{"$100, $200, $300", 600, true},
		{"USD 1,000.10, USD 2,000", 3000.1, true},
		{"1,250.50", 0, false},
		{"2024-01-01, 2024-02-01", 0, false},
		{"Fees of 100 and 200", 0, false},
	}
	for _, tt := range tests {
		sum, _, ok := SumOperands(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		if tt.ok {
			assert.InDelta(t, tt.sum, sum, 1e-9, tt.in)
		}
	}
}

func TestReconcileCorrectsWrongSum(t *testing.T) {
	tree := map[string]any{"entities": []any{map[string]any{"portfolio": []any{map[string]any{
		"CapitalCall": field(1999.0, "1,250.5, 300.25"),
		"Fees":        field(600.004, "100, 200, 300"),
	}}}}}

	fixed := Reconcile(tree, 0.01)
	require.Len(t, fixed, 1)
	assert.Equal(t, "entities[0].portfolio[0].CapitalCall", fixed[0].Path)
	assert.Equal(t, 2, fixed[0].Operands)

	item := tree["entities"].([]any)[0].(map[string]any)["portfolio"].([]any)[0].(map[string]any)
	assert.Equal(t, 1550.75, item["CapitalCall"].(map[string]any)[entity.KeyValue])
	assert.Equal(t, 600.004, item["Fees"].(map[string]any)[entity.KeyValue])
}

func TestReconcileSkipsNonNumericValue(t *testing.T) {
	f := field("see schedule A", "100, 200, 300")
	tree := map[string]any{"CapitalCall": f}

	assert.Empty(t, Reconcile(tree, 0.01))
	assert.Equal(t, "see schedule A", f[entity.KeyValue])
}

func TestCompleteAddsEverySchemaField(t *testing.T) {
	fs := loadCapCall(t)
	tree := map[string]any{"entities": []any{map[string]any{
		"FundName":  "Fund I",
		"portfolio": []any{map[string]any{"CapitalCall": field(10.0, "10")}},
	}}}

	added := Complete(tree, fs)
	assert.NotEmpty(t, added)
	assert.Contains(t, added, "entities[0].portfolio[0].Investor")

	paths := map[string]bool{}
	for _, ref := range entity.CollectFields(tree) {
		paths[entity.SchemaPath(ref.Path)] = true
	}
	for leaf := range fs.Leaves() {
		assert.True(t, paths[leaf], "missing %s", leaf)
	}

	entityMap := tree["entities"].([]any)[0].(map[string]any)
	assert.Equal(t, "Fund I", entityMap["FundName"].(map[string]any)[entity.KeyValue])

	empty := map[string]any{}
	Complete(empty, fs)
	portfolio := empty["entities"].([]any)[0].(map[string]any)["portfolio"].([]any)
	require.Len(t, portfolio, 1)
	assert.Equal(t, entity.NullField(), portfolio[0].(map[string]any)["CapitalCall"])
}

func TestAssess(t *testing.T) {
	fs := loadCapCall(t)
	assert.Equal(t, constants.QualityFailed, Assess(map[string]any{}, fs).Level)

	full := map[string]any{}
	Complete(full, fs)
	for _, ref := range entity.CollectFields(full) {
		ref.Field[entity.KeyValue] = "x"
	}
	q := Assess(full, fs)
	assert.InDelta(t, 1.0, q.Score, 1e-9)
	assert.Equal(t, constants.QualityExcellent, q.Level)

	sparse := map[string]any{"entities": []any{map[string]any{"FundName": field("Fund I", "")}}}
	q = Assess(sparse, fs)
	assert.Less(t, q.Score, 0.5)
	assert.InDelta(t, 0.2, q.Required, 1e-9, "FundName is one of five required leaves")
	assert.Equal(t, 1.0, q.Density)
}

func TestExtractSinglePass(t *testing.T) {
	p := llmtest.Static("openai", capCallResponse("Jane Doe LP", "1,250.50"))
	e := New(testConfig(), schema.NewFileStore("", quiet), []llm.Provider{p}, quiet)

	res, err := e.Extract(context.Background(), Input{Text: "Capital call notice for Jane Doe LP. Amount due $1,250.50", DocumentType: constants.DocCapCall})
	require.NoError(t, err)
	assert.Equal(t, ModeSingle, res.Metadata.Mode)
	assert.Equal(t, 1, res.Metadata.ChunkCount)
	assert.Equal(t, "openai", res.Metadata.Provider)
	assert.NotEmpty(t, res.Metadata.Sanitized)
	assert.NotEmpty(t, res.Metadata.AddedFields)

	item := res.Data["entities"].([]any)[0].(map[string]any)["portfolio"].([]any)[0].(map[string]any)
	call := item["CapitalCall"].(map[string]any)
	assert.Equal(t, 1250.5, call[entity.KeyValue])
	assert.Equal(t, 0.95, call[entity.KeyConfidenceScore])
	assert.Equal(t, "$1,250.50", call[entity.KeyVerbatimText])
	assert.Contains(t, item, "DueDate")

	req := p.Requests()[0]
	assert.True(t, req.JSON)
	assert.Contains(t, req.Prompt, "Jane Doe LP")
	assert.NotContains(t, req.Prompt, "larger document")
}

func TestExtractChunkedSkipsFailedChunk(t *testing.T) {
	cfg := testConfig()
	cfg.ChunkSize, cfg.ChunkOverlap, cfg.TokenBudget, cfg.Parallelism = 200, 20, 10, 3

	para := strings.Repeat("Capital call amount due. ", 6)
	text := strings.Join([]string{para, para, para, para}, "\n\n")
	chunks := SplitText(text, 200, 20)
	require.GreaterOrEqual(t, len(chunks), 3)

	p := &llmtest.Fake{ProviderName: "openai", Respond: func(_ context.Context, _ int, req llm.Request) (string, error) {
		for i := range chunks {
			if strings.Contains(req.Prompt, fmt.Sprintf("chunk %d of %d", i+1, len(chunks))) {
				if i == 1 {
					return "", errors.New("model refused")
				}
				return capCallResponse(fmt.Sprintf("Investor %d", i+1), "100"), nil
			}
		}
		return "", errors.New("unexpected prompt")
	}}
	e := New(cfg, schema.NewFileStore("", quiet), []llm.Provider{p}, quiet)

	res, err := e.Extract(context.Background(), Input{Text: text, DocumentType: constants.DocCapCall})
	require.NoError(t, err)
	assert.Equal(t, ModeChunked, res.Metadata.Mode)
	assert.Equal(t, len(chunks), res.Metadata.ChunkCount)
	assert.Equal(t, []int{1}, res.Metadata.FailedChunks)
	assert.Len(t, res.Data["entities"], len(chunks)-1)

	first := res.Data["entities"].([]any)[0].(map[string]any)["portfolio"].([]any)[0].(map[string]any)
	assert.Equal(t, "Investor 1", first["Investor"].(map[string]any)[entity.KeyValue])
}

func TestExtractAllChunksFail(t *testing.T) {
	cfg := testConfig()
	cfg.ChunkSize, cfg.ChunkOverlap, cfg.TokenBudget = 100, 10, 10
	p := llmtest.Failing("openai", errors.New("bad request"))
	e := New(cfg, schema.NewFileStore("", quiet), []llm.Provider{p}, quiet)

	_, err := e.Extract(context.Background(), Input{Text: strings.Repeat("x ", 200), DocumentType: constants.DocCapCall})
	var pe *common.PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, common.CategoryExtraction, pe.Category)
	assert.True(t, pe.Fatal())
}

func TestExtractFallsBackToSecondProvider(t *testing.T) {
	p1 := llmtest.Failing("openai", common.ErrRateLimited)
	p2 := llmtest.Static("gemini", capCallResponse("Jane Doe LP", "10"))
	e := New(testConfig(), schema.NewFileStore("", quiet), []llm.Provider{p1, p2}, quiet)

	res, err := e.Extract(context.Background(), Input{Text: "capital call", DocumentType: constants.DocCapCall})
	require.NoError(t, err)
	assert.Equal(t, "gemini", res.Metadata.Provider)
	assert.Equal(t, 2, p1.Calls())
	assert.Equal(t, 1, res.Metadata.Retries)
}

func TestExtractRejectsNonJSON(t *testing.T) {
	p := llmtest.Static("openai", "I cannot help with that.")
	e := New(testConfig(), schema.NewFileStore("", quiet), []llm.Provider{p}, quiet)

	_, err := e.Extract(context.Background(), Input{Text: "capital call", DocumentType: constants.DocCapCall})
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestExtractUsesCacheAndReturnsCopies(t *testing.T) {
	p := llmtest.Static("openai", capCallResponse("Jane Doe LP", "10"))
	e := New(testConfig(), schema.NewFileStore("", quiet), []llm.Provider{p}, quiet,
		WithCache(cache.NewMemory(time.Minute, time.Minute)))
	in := Input{Text: "capital call", DocumentType: constants.DocCapCall}

	first, err := e.Extract(context.Background(), in)
	require.NoError(t, err)
	first.Data["entities"] = nil

	second, err := e.Extract(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, second.Metadata.Cached)
	assert.NotNil(t, second.Data["entities"])
	assert.Equal(t, 1, p.Calls())
}

func TestExtractUnknownTypeIsConfigurationError(t *testing.T) {
	e := New(testConfig(), schema.NewFileStore("", quiet), []llm.Provider{llmtest.Static("openai", "{}")}, quiet)
	_, err := e.Extract(context.Background(), Input{Text: "x", DocumentType: constants.DocUnknown})
	assert.ErrorIs(t, err, common.ErrConfig)
}
