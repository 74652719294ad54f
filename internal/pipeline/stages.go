// Package pipeline drives a document through location, cleaning,
// classification, extraction, bounding box resolution and validation.
package pipeline

import (
	"context"

	"github.com/joseph-ayodele/docflow/internal/bbox"
	"github.com/joseph-ayodele/docflow/internal/classify"
	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/extract"
	"github.com/joseph-ayodele/docflow/internal/normalize"
	"github.com/joseph-ayodele/docflow/internal/ocr"
	"github.com/joseph-ayodele/docflow/internal/schema"
	"github.com/joseph-ayodele/docflow/internal/validate"
)

// Stage names used in events, logs and metric labels.
const (
	StageIngestion      = "ingestion"
	StageOCR            = "ocr"
	StagePreprocessing  = "preprocessing"
	StageClassification = "classification"
	StageExtraction     = "extraction"
	StageBoundingBox    = "bounding_box"
	StageValidation     = "validation"
	StageOutput         = "output"
)

type Ingester interface {
	Ingest(ctx context.Context, path string) (*entity.DocumentRecord, error)
}

type Locator interface {
	Locate(ctx context.Context, path string) (*ocr.Result, error)
}

type Cleaner interface {
	Clean(text string) string
	Process(text string) (string, normalize.Report)
}

type Classifier interface {
	Classify(ctx context.Context, in classify.Input) (classify.Result, error)
}

type Extractor interface {
	Extract(ctx context.Context, in extract.Input) (*extract.Result, error)
}

type Resolver interface {
	Resolve(ctx context.Context, in bbox.Input) (*bbox.Report, error)
}

type Validator interface {
	Validate(ctx context.Context, tree map[string]any, fs *schema.FieldSchema) validate.Result
}

// Sink writes the finished record somewhere and returns where it went.
type Sink interface {
	Write(ctx context.Context, doc *entity.DocumentRecord) (string, error)
}

// ResultStore persists extraction results.
type ResultStore interface {
	StoreExtraction(ctx context.Context, docType string, tree map[string]any, docID string) error
	StoreDocumentMetadata(ctx context.Context, doc *entity.DocumentRecord) error
}

// Stages bundles the collaborators the orchestrator runs in order.
type Stages struct {
	Ingester   Ingester
	Locator    Locator
	Cleaner    Cleaner
	Classifier Classifier
	Extractor  Extractor
	Resolver   Resolver
	Validator  Validator
	Schemas    schema.Store
}

func (s Stages) check() error {
	switch {
	case s.Locator == nil:
		return common.NewConfigurationError("pipeline needs a locator", common.ErrConfig)
	case s.Cleaner == nil:
		return common.NewConfigurationError("pipeline needs a cleaner", common.ErrConfig)
	case s.Classifier == nil:
		return common.NewConfigurationError("pipeline needs a classifier", common.ErrConfig)
	case s.Extractor == nil:
		return common.NewConfigurationError("pipeline needs an extractor", common.ErrConfig)
	case s.Schemas == nil:
		return common.NewConfigurationError("pipeline needs a schema store", common.ErrConfig)
	}
	return nil
}
