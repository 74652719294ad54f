package entity

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/common"
)

// DocumentRecord is the unit of work flowing through the pipeline.
// Only the stage currently running may mutate it.
type DocumentRecord struct {
	ID          uuid.UUID                `json:"id"`
	SourcePath  string                   `json:"source_path"`
	Filename    string                   `json:"filename"`
	ContentHash string                   `json:"content_hash,omitempty"`
	PageCount   int                      `json:"page_count"`
	Status      constants.PipelineStatus `json:"status"`
	IsScanned   bool                     `json:"is_scanned"`

	RawText     string `json:"raw_text,omitempty"`
	CleanedText string `json:"cleaned_text,omitempty"`
	Pages       []Page `json:"pages,omitempty"`

	DocumentType             constants.DocumentType   `json:"document_type,omitempty"`
	ClassificationConfidence float64                  `json:"classification_confidence"`
	ClassificationBand       constants.ConfidenceBand `json:"classification_band,omitempty"`
	ClassificationProvider   string                   `json:"classification_provider,omitempty"`

	ExtractedData map[string]any     `json:"extracted_data"`
	Violations    []common.Violation `json:"violations"`
	Metadata      map[string]any     `json:"metadata"`
	Events        []ProcessingEvent  `json:"events"`

	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	mu sync.Mutex
}

// NewDocumentRecord creates a record in the Ingested state.
func NewDocumentRecord(sourcePath string) *DocumentRecord {
	now := time.Now().UTC()
	return &DocumentRecord{
		ID:            uuid.New(),
		SourcePath:    sourcePath,
		Filename:      filepath.Base(sourcePath),
		Status:        constants.StatusIngested,
		ExtractedData: map[string]any{},
		Violations:    []common.Violation{},
		Metadata:      map[string]any{},
		Events:        []ProcessingEvent{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// SetStatus moves the record to s.
func (d *DocumentRecord) SetStatus(s constants.PipelineStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Status = s
	d.UpdatedAt = time.Now().UTC()
}

// AddEvent appends to the event log. Events are never mutated or removed.
func (d *DocumentRecord) AddEvent(level EventLevel, stage, message string, details map[string]any) ProcessingEvent {
	ev := NewEvent(level, stage, message, details)
	d.mu.Lock()
	d.Events = append(d.Events, ev)
	d.UpdatedAt = ev.Timestamp
	d.mu.Unlock()
	return ev
}

// SetMeta records a metadata value.
func (d *DocumentRecord) SetMeta(key string, value any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Metadata == nil {
		d.Metadata = map[string]any{}
	}
	d.Metadata[key] = value
}

// Meta reads a metadata value.
func (d *DocumentRecord) Meta(key string) (any, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.Metadata[key]
	return v, ok
}

// Words returns all OCR words across pages in emission order.
func (d *DocumentRecord) Words() []Word {
	var out []Word
	for _, p := range d.Pages {
		out = append(out, p.Words...)
	}
	return out
}

// Fail records a fatal stage error.
func (d *DocumentRecord) Fail(status constants.PipelineStatus, err error) {
	d.SetStatus(status)
	d.mu.Lock()
	d.ErrorMessage = err.Error()
	d.mu.Unlock()
}
