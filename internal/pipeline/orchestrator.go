package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/bbox"
	"github.com/joseph-ayodele/docflow/internal/classify"
	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/extract"
)

// outputTimeout bounds sinks and stores, which run even after cancellation.
const outputTimeout = 30 * time.Second

// Orchestrator runs one document at a time through the stages. It holds no
// per-document state and may be shared by workers.
type Orchestrator struct {
	st       Stages
	sinks    []Sink
	stores   []ResultStore
	recovery *Recovery
	metrics  *Metrics
	logger   *slog.Logger
}

type Option func(*Orchestrator)

// WithSink adds an output sink. Sinks run in the order added.
func WithSink(s Sink) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.sinks = append(o.sinks, s)
		}
	}
}

// WithResultStore adds a persistence target.
func WithResultStore(s ResultStore) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.stores = append(o.stores, s)
		}
	}
}

func WithRecovery(r *Recovery) Option { return func(o *Orchestrator) { o.recovery = r } }

func WithMetrics(m *Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

func New(st Stages, logger *slog.Logger, opts ...Option) (*Orchestrator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := st.check(); err != nil {
		return nil, err
	}
	o := &Orchestrator{st: st, logger: logger}
	for _, opt := range opts {
		opt(o)
	}
	if o.recovery == nil {
		o.recovery = NewRecovery(logger)
	}
	return o, nil
}

type stageFunc func(ctx context.Context, log *slog.Logger, doc *entity.DocumentRecord) error

type step struct {
	name     string
	category common.ErrorCategory
	failed   constants.PipelineStatus
	run      stageFunc
}

func (o *Orchestrator) steps() []step {
	return []step{
		{StageOCR, common.CategoryOCR, constants.StatusFailedOCR, o.locate},
		{StagePreprocessing, common.CategoryPreprocessing, "", o.preprocess},
		{StageClassification, common.CategoryClassification, constants.StatusFailedClassification, o.classify},
		{StageExtraction, common.CategoryExtraction, constants.StatusFailedExtraction, o.extract},
		{StageBoundingBox, common.CategoryBoundingBox, "", o.resolve},
		{StageValidation, common.CategoryValidation, "", o.validate},
	}
}

// ProcessFile ingests path and processes the resulting record. A record is
// returned even when ingestion fails so callers can still report it.
func (o *Orchestrator) ProcessFile(ctx context.Context, path string) (*entity.DocumentRecord, error) {
	if o.st.Ingester == nil {
		doc := entity.NewDocumentRecord(path)
		return doc, o.Process(ctx, doc)
	}
	doc, err := o.st.Ingester.Ingest(ctx, path)
	if err != nil {
		if doc == nil {
			doc = entity.NewDocumentRecord(path)
		}
		pe := common.AsPipelineError(err, common.CategoryIngestion, StageIngestion)
		ctx = common.WithDocumentID(ctx, doc.ID.String())
		log := common.LoggerFrom(ctx, o.logger)
		log.Error("pipeline.stage.failed", "stage", StageIngestion, "category", pe.Category, "error", err)
		o.metrics.stageFailed(StageIngestion, pe.Category)
		doc.AddEvent(entity.LevelError, StageIngestion, pe.Error(), pe.Context)
		doc.Fail(constants.StatusFailedIngestion, pe)
		o.finish(ctx, log, doc, time.Now(), map[string]int64{})
		return doc, pe
	}
	return doc, o.Process(ctx, doc)
}

// Process runs every stage on doc and always finishes with output, even when
// a stage fails fatally. The returned error is that fatal stage error.
func (o *Orchestrator) Process(ctx context.Context, doc *entity.DocumentRecord) error {
	ctx = common.WithDocumentID(ctx, doc.ID.String())
	log := common.LoggerFrom(ctx, o.logger)
	start := time.Now()
	timings := map[string]int64{}

	log.Info("pipeline.start", "file", doc.Filename, "status", doc.Status)
	doc.AddEvent(entity.LevelInfo, StageIngestion, fmt.Sprintf("pipeline started for '%s'", doc.Filename), nil)

	var fatal error
	for _, s := range o.steps() {
		if err := o.runStage(ctx, log, doc, s, timings); err != nil {
			fatal = err
			break
		}
	}

	o.finish(ctx, log, doc, start, timings)
	return fatal
}

func (o *Orchestrator) runStage(ctx context.Context, log *slog.Logger, doc *entity.DocumentRecord, s step, timings map[string]int64) error {
	start := time.Now()
	err := ctx.Err()
	if err == nil {
		err = s.run(ctx, log, doc)
	}
	if err != nil && ctx.Err() == nil {
		pe := common.AsPipelineError(err, s.category, s.name)
		err = o.recovery.Recover(ctx, pe, func(ctx context.Context) error { return s.run(ctx, log, doc) })
	}
	elapsed := time.Since(start)
	timings[s.name] = elapsed.Milliseconds()
	o.metrics.stageDone(s.name, elapsed)

	if err == nil {
		log.Info("pipeline.stage.done", "stage", s.name, "status", doc.Status, "elapsed_ms", elapsed.Milliseconds())
		return nil
	}

	pe := common.AsPipelineError(err, s.category, s.name)
	o.metrics.stageFailed(s.name, pe.Category)
	if s.failed == "" || !pe.Fatal() {
		log.Warn("pipeline.stage.degraded", "stage", s.name, "category", pe.Category, "error", err, "elapsed_ms", elapsed.Milliseconds())
		doc.AddEvent(entity.LevelWarning, s.name, pe.Error(), pe.Context)
		return nil
	}

	log.Error("pipeline.stage.failed",
		"stage", s.name,
		"category", pe.Category,
		"severity", pe.Severity,
		"error", err,
		"elapsed_ms", elapsed.Milliseconds(),
	)
	doc.AddEvent(entity.LevelError, s.name, pe.Error(), pe.Context)
	doc.Fail(s.failed, pe)
	return pe
}

func (o *Orchestrator) locate(ctx context.Context, log *slog.Logger, doc *entity.DocumentRecord) error {
	res, err := o.st.Locator.Locate(ctx, doc.SourcePath)
	if res != nil {
		doc.Pages = res.Pages
		doc.RawText = res.RawText
		doc.IsScanned = res.IsScanned
		doc.SetMeta("ocr_method", res.Method)
		if len(res.Warnings) > 0 {
			doc.SetMeta("ocr_warnings", res.Warnings)
		}
	}
	if err != nil {
		return err
	}
	if res == nil {
		return common.NewOCRError("locator returned no result", nil)
	}
	if doc.PageCount == 0 {
		doc.PageCount = len(doc.Pages)
	}
	words := len(doc.Words())
	doc.SetStatus(constants.StatusOCRCompleted)
	doc.AddEvent(entity.LevelInfo, StageOCR,
		fmt.Sprintf("located %d words on %d pages", words, len(doc.Pages)),
		map[string]any{"method": res.Method, "is_scanned": res.IsScanned, "chars": len(doc.RawText)},
	)
	return nil
}

func (o *Orchestrator) preprocess(_ context.Context, log *slog.Logger, doc *entity.DocumentRecord) error {
	cleaned, rep := o.st.Cleaner.Process(doc.RawText)
	for i := range doc.Pages {
		doc.Pages[i].Text = o.st.Cleaner.Clean(doc.Pages[i].RawText)
	}
	doc.SetMeta("preprocessing", rep)

	if strings.TrimSpace(cleaned) == "" {
		doc.CleanedText = doc.RawText
		doc.SetStatus(constants.StatusPreprocessingCompleted)
		return common.NewPreprocessingError("cleaning produced empty text, using raw text", nil)
	}
	doc.CleanedText = cleaned
	doc.SetStatus(constants.StatusPreprocessingCompleted)

	details := map[string]any{
		"length_reduction_ratio": rep.LengthReductionRatio,
		"word_loss_ratio":        rep.WordLossRatio,
		"quality_score":          rep.QualityScore,
	}
	if rep.Degraded() {
		doc.SetMeta("preprocessing_warning", true)
		doc.AddEvent(entity.LevelWarning, StagePreprocessing, "text cleaning quality degraded: "+strings.Join(rep.Warnings, "; "), details)
		return nil
	}
	doc.AddEvent(entity.LevelInfo, StagePreprocessing, fmt.Sprintf("cleaned text to %d characters", len(cleaned)), details)
	return nil
}

func (o *Orchestrator) classify(ctx context.Context, log *slog.Logger, doc *entity.DocumentRecord) error {
	res, err := o.st.Classifier.Classify(ctx, classify.Input{
		Text:       doc.CleanedText,
		Filename:   doc.Filename,
		SourcePath: doc.SourcePath,
		PageCount:  doc.PageCount,
	})
	if err != nil {
		return common.NewClassificationError("classification aborted", err)
	}
	doc.DocumentType = res.Type
	doc.ClassificationConfidence = res.Confidence
	doc.ClassificationBand = res.Band
	doc.ClassificationProvider = res.Provider
	doc.SetMeta("classification", res)
	doc.SetStatus(res.Status())

	details := map[string]any{
		"confidence": res.Confidence,
		"band":       res.Band,
		"provider":   res.Provider,
		"mode":       res.Mode,
		"retries":    res.Retries,
	}
	msg := fmt.Sprintf("classified as %s (%.2f, %s)", res.Type, res.Confidence, res.Band)
	if res.Band == constants.BandHigh {
		doc.AddEvent(entity.LevelInfo, StageClassification, msg, details)
	} else {
		doc.AddEvent(entity.LevelWarning, StageClassification, msg, details)
	}
	return nil
}

func (o *Orchestrator) extract(ctx context.Context, log *slog.Logger, doc *entity.DocumentRecord) error {
	if doc.DocumentType == "" || doc.DocumentType == constants.DocUnknown {
		doc.SetMeta("extraction_skipped", true)
		doc.AddEvent(entity.LevelWarning, StageExtraction, "document type is Unknown, extraction skipped", nil)
		log.Warn("pipeline.extraction.skipped", "doc_type", doc.DocumentType)
		return nil
	}
	res, err := o.st.Extractor.Extract(ctx, extract.Input{
		Text:         doc.CleanedText,
		DocumentType: doc.DocumentType,
		Filename:     doc.Filename,
	})
	if err != nil {
		return err
	}
	doc.ExtractedData = res.Data
	doc.SetMeta("extraction", res.Metadata)
	doc.SetStatus(res.Metadata.Status)

	details := map[string]any{
		"mode":          res.Metadata.Mode,
		"chunks":        res.Metadata.ChunkCount,
		"quality_score": res.Metadata.Quality.Score,
		"quality_level": res.Metadata.Quality.Level,
		"provider":      res.Metadata.Provider,
		"reconciled":    len(res.Metadata.Reconciled),
	}
	level := entity.LevelInfo
	if len(res.Metadata.FailedChunks) > 0 || res.Metadata.Status != constants.StatusExtractionCompleted {
		level = entity.LevelWarning
		details["failed_chunks"] = res.Metadata.FailedChunks
	}
	doc.AddEvent(level, StageExtraction, fmt.Sprintf("extracted %s fields (%s)", doc.DocumentType, res.Metadata.Quality.Level), details)
	return nil
}

func (o *Orchestrator) resolve(ctx context.Context, log *slog.Logger, doc *entity.DocumentRecord) error {
	if o.st.Resolver == nil || len(doc.ExtractedData) == 0 {
		return nil
	}
	rep, err := o.st.Resolver.Resolve(ctx, bbox.Input{
		Tree:       doc.ExtractedData,
		Words:      doc.Words(),
		PageCount:  doc.PageCount,
		SourcePath: doc.SourcePath,
	})
	if rep != nil {
		doc.SetMeta("bounding_boxes", rep)
	}
	if err != nil {
		return common.NewBoundingBoxError("bounding box resolution failed", err)
	}
	doc.SetStatus(constants.StatusBoundingBoxCompleted)
	details := map[string]any{
		"fields":    rep.Fields,
		"resolved":  rep.Resolved,
		"by_method": rep.ByMethod,
		"llm_calls": rep.LLMCalls,
	}
	if len(rep.Errors) > 0 {
		details["errors"] = rep.Errors
		doc.AddEvent(entity.LevelWarning, StageBoundingBox, fmt.Sprintf("resolved %d of %d fields with errors", rep.Resolved, rep.Fields), details)
		return nil
	}
	doc.AddEvent(entity.LevelInfo, StageBoundingBox, fmt.Sprintf("resolved %d of %d fields", rep.Resolved, rep.Fields), details)
	return nil
}

func (o *Orchestrator) validate(ctx context.Context, log *slog.Logger, doc *entity.DocumentRecord) error {
	if o.st.Validator == nil || len(doc.ExtractedData) == 0 {
		return nil
	}
	fs, err := o.st.Schemas.Load(ctx, doc.DocumentType)
	if err != nil {
		return common.NewValidationError("schema unavailable for validation", err)
	}
	res := o.st.Validator.Validate(ctx, doc.ExtractedData, fs)
	doc.Violations = res.Violations
	doc.SetStatus(constants.StatusValidationCompleted)
	details := map[string]any{"errors": res.Errors, "warnings": res.Warnings}
	if len(res.Violations) > 0 {
		doc.AddEvent(entity.LevelWarning, StageValidation, fmt.Sprintf("%d violations found", len(res.Violations)), details)
		return nil
	}
	doc.AddEvent(entity.LevelInfo, StageValidation, "no violations found", details)
	return nil
}

// finish settles the terminal status and hands the record to every sink and
// store. It runs detached from ctx cancellation so output always exists.
func (o *Orchestrator) finish(ctx context.Context, log *slog.Logger, doc *entity.DocumentRecord, start time.Time, timings map[string]int64) {
	if doc.Status.IsFailed() {
		doc.SetMeta("failed_status", string(doc.Status))
	}
	if ctx.Err() != nil && doc.ErrorMessage == "" {
		doc.ErrorMessage = fmt.Sprintf("processing interrupted: %v", ctx.Err())
	}

	octx, cancel := context.WithTimeout(context.WithoutCancel(ctx), outputTimeout)
	defer cancel()

	o.settle(doc)
	doc.SetMeta("stage_timings_ms", timings)
	doc.SetMeta("processing_time_ms", time.Since(start).Milliseconds())

	for _, s := range o.sinks {
		where, err := s.Write(octx, doc)
		if err != nil {
			o.outputFailed(log, doc, common.NewOutputError("writing output failed", err))
			continue
		}
		doc.AddEvent(entity.LevelInfo, StageOutput, fmt.Sprintf("wrote output for '%s' to %s", doc.Filename, where), nil)
		log.Info("pipeline.output.ok", "dest", where)
	}

	for _, s := range o.stores {
		if doc.DocumentType != "" && doc.DocumentType != constants.DocUnknown && len(doc.ExtractedData) > 0 {
			if err := s.StoreExtraction(octx, string(doc.DocumentType), doc.ExtractedData, doc.ID.String()); err != nil {
				o.outputFailed(log, doc, common.NewOutputError("storing extraction failed", err))
			}
		}
		if err := s.StoreDocumentMetadata(octx, doc); err != nil {
			o.outputFailed(log, doc, common.NewOutputError("storing document metadata failed", err))
		}
	}

	o.metrics.documentDone(string(doc.Status))
	attrs := []any{
		"status", doc.Status,
		"doc_type", doc.DocumentType,
		"events", len(doc.Events),
		"elapsed_ms", time.Since(start).Milliseconds(),
	}
	if doc.ErrorMessage != "" {
		log.Warn("pipeline.done", append(attrs, "error", doc.ErrorMessage)...)
		return
	}
	log.Info("pipeline.done", attrs...)
}

func (o *Orchestrator) settle(doc *entity.DocumentRecord) {
	if doc.ErrorMessage != "" {
		doc.SetStatus(constants.StatusCompletedWithError)
		return
	}
	doc.SetStatus(constants.StatusCompletedSuccessfully)
}

func (o *Orchestrator) outputFailed(log *slog.Logger, doc *entity.DocumentRecord, pe *common.PipelineError) {
	log.Error("pipeline.output.failed", "error", pe)
	o.metrics.stageFailed(StageOutput, pe.Category)
	doc.AddEvent(entity.LevelError, StageOutput, pe.Error(), pe.Context)
	if doc.ErrorMessage == "" {
		doc.Fail(constants.StatusCompletedWithError, pe)
	}
}

// IsFatal reports whether err came from a stage that halted a document.
func IsFatal(err error) bool {
	var pe *common.PipelineError
	return errors.As(err, &pe) && pe.Fatal()
}
