package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/bbox"
	"github.com/joseph-ayodele/docflow/internal/classify"
	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/extract"
	"github.com/joseph-ayodele/docflow/internal/llm"
	"github.com/joseph-ayodele/docflow/internal/llm/llmtest"
	"github.com/joseph-ayodele/docflow/internal/normalize"
	"github.com/joseph-ayodele/docflow/internal/ocr"
	"github.com/joseph-ayodele/docflow/internal/schema"
	"github.com/joseph-ayodele/docflow/internal/validate"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

var fastRetry = llm.Backoff{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

type fakeLocator struct {
	pages []entity.Page
	errs  []error
	calls int
}

func (f *fakeLocator) Locate(context.Context, string) (*ocr.Result, error) {
	f.calls++
	res := &ocr.Result{Pages: f.pages, RawText: ocr.JoinPages(f.pages), Method: ocr.MethodPDFText}
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

type fakeClassifier struct {
	res   classify.Result
	calls int
}

func (f *fakeClassifier) Classify(context.Context, classify.Input) (classify.Result, error) {
	f.calls++
	return f.res, nil
}

type fakeExtractor struct {
	err   error
	calls int
}

func (f *fakeExtractor) Extract(context.Context, extract.Input) (*extract.Result, error) {
	f.calls++
	return nil, f.err
}

type failingResolver struct{}

func (failingResolver) Resolve(context.Context, bbox.Input) (*bbox.Report, error) {
	return nil, errors.New("renderer crashed")
}

type memorySink struct {
	docs []*entity.DocumentRecord
	err  error
}

func (m *memorySink) Write(_ context.Context, doc *entity.DocumentRecord) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.docs = append(m.docs, doc)
	return "memory://" + doc.Filename, nil
}

type memoryStore struct {
	extractions map[string]map[string]any
	metadata    []string
}

func (m *memoryStore) StoreExtraction(_ context.Context, docType string, tree map[string]any, docID string) error {
	if m.extractions == nil {
		m.extractions = map[string]map[string]any{}
	}
	m.extractions[docType+"/"+docID] = tree
	return nil
}

func (m *memoryStore) StoreDocumentMetadata(_ context.Context, doc *entity.DocumentRecord) error {
	m.metadata = append(m.metadata, string(doc.Status))
	return nil
}

func pageOf(n int, text string) entity.Page {
	var words []entity.Word
	for i, w := range strings.Fields(text) {
		words = append(words, entity.Word{
			Text: w,
			Page: n,
			Box: entity.BoundingBox{
				Left:   float64(i%10) * 0.09,
				Top:    0.05 + float64(i/10)*0.04,
				Width:  0.08,
				Height: 0.02,
			},
			Confidence: 99,
		})
	}
	return entity.Page{Number: n, RawText: text, Words: words}
}

// capitalCallPages returns three pages whose joined text is exactly 500
// characters long.
func capitalCallPages() []entity.Page {
	p1 := "Northwind Growth Fund I capital call notice. Investor Jane Doe LP is requested to contribute $1,250,000.00 in USD on 2024-03-15 for new investments of the fund."
	p2 := "Payment instructions follow. Wire funds to the account named in your subscription documents before the due date and quote your investor reference."
	p3 := "Questions regarding this notice should be directed to investor relations."
	target := 500 - len(p1) - len(p2) - 4 // two "\n\n" separators
	for len(p3) < target {
		p3 += " Thank you."
	}
	p3 = p3[:target-1] + "z"
	return []entity.Page{pageOf(1, p1), pageOf(2, p2), pageOf(3, p3)}
}

const capCallExtraction = `{"entities": [{
  "FundName": {"Value": "Northwind Growth Fund I", "ConfidenceScore": 0.93, "VerbatimText": "Northwind Growth Fund I", "BoundingBox": null, "PageNumber": 1},
  "portfolio": [{
    "Investor": {"Value": "Jane Doe LP", "ConfidenceScore": 0.95, "VerbatimText": "Jane Doe LP", "BoundingBox": null, "PageNumber": 1},
    "TransactionDate": {"Value": "2024-03-15", "ConfidenceScore": 0.9, "VerbatimText": "2024-03-15", "BoundingBox": null, "PageNumber": 1},
    "CapitalCall": {"Value": 1250000.00, "ConfidenceScore": 0.97, "VerbatimText": "$1,250,000.00", "BoundingBox": null, "PageNumber": 1},
    "Currency": {"Value": "USD", "ConfidenceScore": 0.9, "VerbatimText": "USD", "BoundingBox": null, "PageNumber": 1}
  }]
}]}`

type harness struct {
	orch      *Orchestrator
	locator   *fakeLocator
	classifyP *llmtest.Fake
	extractP  *llmtest.Fake
	sink      *memorySink
	store     *memoryStore
	metrics   *Metrics
}

func newHarness(t *testing.T, mutate func(*Stages)) *harness {
	t.Helper()
	h := &harness{
		locator:   &fakeLocator{pages: capitalCallPages()},
		classifyP: llmtest.Static("openai", `{"document_type": "CapCall", "confidence": 0.96}`),
		extractP:  llmtest.Static("openai", capCallExtraction),
		sink:      &memorySink{},
		store:     &memoryStore{},
		metrics:   NewMetrics(prometheus.NewRegistry()),
	}
	schemas := schema.NewFileStore("", quiet)
	st := Stages{
		Locator: h.locator,
		Cleaner: normalize.New(quiet),
		Classifier: classify.New(classify.Config{Retry: fastRetry},
			[]llm.Provider{h.metrics.Instrument(h.classifyP)}, quiet),
		Extractor: extract.New(extract.Config{Retry: fastRetry}, schemas,
			[]llm.Provider{h.metrics.Instrument(h.extractP)}, quiet),
		Resolver:  bbox.New(bbox.Config{Retry: fastRetry}, quiet),
		Validator: validate.New(quiet),
		Schemas:   schemas,
	}
	if mutate != nil {
		mutate(&st)
	}
	orch, err := New(st, quiet,
		WithSink(h.sink),
		WithResultStore(h.store),
		WithMetrics(h.metrics),
		WithRecovery(NewRecovery(quiet)),
	)
	require.NoError(t, err)
	h.orch = orch
	return h
}

func capitalCall(t *testing.T, tree map[string]any) map[string]any {
	t.Helper()
	entities, ok := tree["entities"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, entities)
	portfolio, ok := entities[0].(map[string]any)["portfolio"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, portfolio)
	f, ok := portfolio[0].(map[string]any)["CapitalCall"].(map[string]any)
	require.True(t, ok)
	return f
}

func stagesOf(doc *entity.DocumentRecord) []string {
	var out []string
	for _, ev := range doc.Events {
		out = append(out, ev.Stage)
	}
	return out
}

func TestProcessCapitalCallEndToEnd(t *testing.T) {
	h := newHarness(t, nil)
	doc := entity.NewDocumentRecord("/in/northwind_call.pdf")

	require.NoError(t, h.orch.Process(context.Background(), doc))

	assert.Len(t, doc.RawText, 500)
	assert.Equal(t, 3, doc.PageCount)
	assert.False(t, doc.IsScanned)
	assert.Equal(t, constants.StatusCompletedSuccessfully, doc.Status)
	assert.Empty(t, doc.ErrorMessage)

	assert.Equal(t, constants.DocCapCall, doc.DocumentType)
	assert.Equal(t, constants.BandHigh, doc.ClassificationBand)
	cls, ok := doc.Meta("classification")
	require.True(t, ok)
	assert.Equal(t, constants.ModeText, cls.(classify.Result).Mode)
	for _, req := range h.classifyP.Requests() {
		assert.Empty(t, req.Images, "text mode sends no page images")
	}

	meta, ok := doc.Meta("extraction")
	require.True(t, ok)
	assert.Equal(t, extract.ModeSingle, meta.(extract.Metadata).Mode)
	assert.Equal(t, 1, h.extractP.Calls())

	cc := capitalCall(t, doc.ExtractedData)
	require.NotNil(t, cc[entity.KeyBoundingBox])
	assert.Len(t, cc[entity.KeyBoundingBox], 1)
	assert.Equal(t, float64(1), cc[entity.KeyPageNumber])

	assert.Equal(t, []string{
		StageIngestion, StageOCR, StagePreprocessing, StageClassification,
		StageExtraction, StageBoundingBox, StageValidation, StageOutput,
	}, stagesOf(doc))

	require.Len(t, h.sink.docs, 1)
	assert.Contains(t, h.store.extractions, "CapCall/"+doc.ID.String())
	assert.Equal(t, []string{string(constants.StatusCompletedSuccessfully)}, h.store.metadata)
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.documentsTotal.WithLabelValues(string(constants.StatusCompletedSuccessfully))), 1e-9)
	assert.InDelta(t, 2, testutil.ToFloat64(h.metrics.llmCalls.WithLabelValues("openai", "ok")), 1e-9,
		"one classification and one extraction call")
}

func TestProcessOCRFailureStillProducesOutput(t *testing.T) {
	fc := &fakeClassifier{}
	h := newHarness(t, func(st *Stages) { st.Classifier = fc })
	h.locator.pages = []entity.Page{pageOf(1, "")}
	h.locator.errs = []error{common.NewOCRError("no words extracted", errors.New("0 words"))}

	doc := entity.NewDocumentRecord("/in/scan.pdf")
	err := h.orch.Process(context.Background(), doc)

	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Equal(t, constants.StatusCompletedWithError, doc.Status)
	failed, _ := doc.Meta("failed_status")
	assert.Equal(t, string(constants.StatusFailedOCR), failed)
	assert.NotEmpty(t, doc.ErrorMessage)
	assert.Len(t, doc.Pages, 1, "partial pages kept for diagnostics")
	assert.Zero(t, fc.calls)
	require.Len(t, h.sink.docs, 1, "output exists even on fatal failure")
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.stageErrors.WithLabelValues(StageOCR, string(common.CategoryOCR))), 1e-9)
}

func TestProcessUnknownTypeSkipsExtraction(t *testing.T) {
	fc := &fakeClassifier{res: classify.Result{Type: constants.DocUnknown, Provider: classify.ProviderFallback, Band: constants.BandUnknown}}
	fe := &fakeExtractor{}
	h := newHarness(t, func(st *Stages) {
		st.Classifier = fc
		st.Extractor = fe
	})

	doc := entity.NewDocumentRecord("/in/letter.pdf")
	require.NoError(t, h.orch.Process(context.Background(), doc))

	assert.Zero(t, fe.calls)
	skipped, _ := doc.Meta("extraction_skipped")
	assert.Equal(t, true, skipped)
	assert.Equal(t, constants.StatusCompletedSuccessfully, doc.Status)
	assert.Empty(t, h.store.extractions)
	assert.Len(t, h.store.metadata, 1)

	var warned bool
	for _, ev := range doc.Events {
		if ev.Stage == StageExtraction && ev.Level == entity.LevelWarning {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestProcessExtractionFailureIsFatal(t *testing.T) {
	fe := &fakeExtractor{err: common.NewExtractionError("all chunks failed", errors.New("bad json"))}
	h := newHarness(t, func(st *Stages) { st.Extractor = fe })

	doc := entity.NewDocumentRecord("/in/call.pdf")
	err := h.orch.Process(context.Background(), doc)

	require.Error(t, err)
	failed, _ := doc.Meta("failed_status")
	assert.Equal(t, string(constants.StatusFailedExtraction), failed)
	assert.Equal(t, constants.StatusCompletedWithError, doc.Status)
	assert.Equal(t, constants.DocCapCall, doc.DocumentType, "classification result kept")
	assert.NotContains(t, stagesOf(doc), StageBoundingBox)
	require.Len(t, h.sink.docs, 1)
}

func TestProcessBoundingBoxFailureDegrades(t *testing.T) {
	h := newHarness(t, func(st *Stages) { st.Resolver = failingResolver{} })

	doc := entity.NewDocumentRecord("/in/call.pdf")
	require.NoError(t, h.orch.Process(context.Background(), doc))

	assert.Equal(t, constants.StatusCompletedSuccessfully, doc.Status)
	assert.Contains(t, stagesOf(doc), StageValidation, "validation still runs")
	var found bool
	for _, ev := range doc.Events {
		if ev.Stage == StageBoundingBox {
			found = true
			assert.Equal(t, entity.LevelWarning, ev.Level)
		}
	}
	assert.True(t, found)
}

func TestProcessRecoversTransientLocatorError(t *testing.T) {
	h := newHarness(t, nil)
	h.locator.errs = []error{fmt.Errorf("fetch: %w", common.ErrConnection)}
	rec := NewRecovery(quiet)
	rec.Register(common.CategoryNetwork, RetryWithDelay(2, time.Millisecond, quiet))
	h.orch.recovery = rec

	doc := entity.NewDocumentRecord("/in/call.pdf")
	require.NoError(t, h.orch.Process(context.Background(), doc))
	assert.Equal(t, 2, h.locator.calls)
	assert.Equal(t, constants.StatusCompletedSuccessfully, doc.Status)
}

func TestSinkFailureMarksCompletedWithError(t *testing.T) {
	h := newHarness(t, nil)
	h.sink.err = errors.New("disk full")

	doc := entity.NewDocumentRecord("/in/call.pdf")
	require.NoError(t, h.orch.Process(context.Background(), doc))
	assert.Equal(t, constants.StatusCompletedWithError, doc.Status)
	assert.Contains(t, doc.ErrorMessage, "disk full")
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.stageErrors.WithLabelValues(StageOutput, string(common.CategoryOutput))), 1e-9)
}

type failingIngester struct{}

func (failingIngester) Ingest(context.Context, string) (*entity.DocumentRecord, error) {
	return nil, common.NewIngestionError("unsupported file type", common.ErrInvalidInput)
}

func TestProcessFileIngestionFailure(t *testing.T) {
	h := newHarness(t, func(st *Stages) { st.Ingester = failingIngester{} })

	doc, err := h.orch.ProcessFile(context.Background(), "/in/notes.txt")
	require.Error(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "notes.txt", doc.Filename)
	assert.Equal(t, constants.StatusCompletedWithError, doc.Status)
	assert.Zero(t, h.locator.calls)
	require.Len(t, h.sink.docs, 1)
}

func TestNewRequiresStages(t *testing.T) {
	_, err := New(Stages{}, quiet)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrConfig)
}

func TestInstrumentCountsOutcomes(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	p := m.Instrument(llmtest.Failing("gemini", fmt.Errorf("call: %w", common.ErrRateLimited)))

	_, err := p.Complete(context.Background(), llm.Request{Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, "gemini", p.Name())
	assert.InDelta(t, 1, testutil.ToFloat64(m.llmCalls.WithLabelValues("gemini", "transient")), 1e-9)
}
