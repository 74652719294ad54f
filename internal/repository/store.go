// Package repository persists documents, extractions and events through
// ent's SQL driver on Postgres (pgx) or embedded SQLite.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/entity"
)

// Store implements the result store, hash index and read queries.
type Store struct {
	drv     *entsql.Driver
	logger  *slog.Logger
	ping    func(context.Context) error
	closers []func() error
}

func newStore(drv *entsql.Driver, logger *slog.Logger) *Store {
	return &Store{drv: drv, logger: logger, ping: func(context.Context) error { return nil }}
}

// DocumentRow is the persisted summary of a DocumentRecord.
type DocumentRow struct {
	ID             string                   `json:"id"`
	Filename       string                   `json:"filename"`
	SourcePath     string                   `json:"source_path"`
	ContentHash    string                   `json:"content_hash"`
	PageCount      int                      `json:"page_count"`
	IsScanned      bool                     `json:"is_scanned"`
	Status         constants.PipelineStatus `json:"status"`
	DocumentType   string                   `json:"document_type"`
	Confidence     float64                  `json:"confidence"`
	ConfidenceBand string                   `json:"confidence_band"`
	ErrorMessage   string                   `json:"error_message,omitempty"`
	Violations     []common.Violation       `json:"violations"`
	Metadata       map[string]any           `json:"metadata"`
	CreatedAt      time.Time                `json:"created_at"`
	UpdatedAt      time.Time                `json:"updated_at"`
}

var documentColumns = []string{
	"id", "filename", "source_path", "content_hash", "page_count", "is_scanned", "status",
	"document_type", "confidence", "confidence_band", "error_message", "violations",
	"metadata", "created_at", "updated_at",
}

func (s *Store) builder() *entsql.DialectBuilder { return entsql.Dialect(s.drv.Dialect()) }

// StoreDocumentMetadata upserts the document row and replaces its events.
func (s *Store) StoreDocumentMetadata(ctx context.Context, doc *entity.DocumentRecord) error {
	violations, err := jsonText(doc.Violations)
	if err != nil {
		return err
	}
	meta, err := jsonText(doc.Metadata)
	if err != nil {
		return err
	}
	var errMsg any
	if doc.ErrorMessage != "" {
		errMsg = doc.ErrorMessage
	}

	b := s.builder()
	upsert, args := b.Insert(DocumentsTable.Name).
		Columns(documentColumns...).
		Values(
			doc.ID.String(), doc.Filename, doc.SourcePath, doc.ContentHash, doc.PageCount, doc.IsScanned,
			string(doc.Status), string(doc.DocumentType), doc.ClassificationConfidence,
			string(doc.ClassificationBand), errMsg, violations, meta, doc.CreatedAt, doc.UpdatedAt,
		).
		OnConflict(entsql.ConflictColumns("id"), entsql.ResolveWithNewValues()).
		Query()

	tx, err := s.drv.Tx(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := tx.Exec(ctx, upsert, args, nil); err != nil {
		return s.rollback(tx, fmt.Errorf("upsert document: %w", err))
	}

	del, dargs := b.Delete(EventsTable.Name).Where(entsql.EQ("document_id", doc.ID.String())).Query()
	if err := tx.Exec(ctx, del, dargs, nil); err != nil {
		return s.rollback(tx, fmt.Errorf("clear events: %w", err))
	}
	if len(doc.Events) > 0 {
		ins := b.Insert(EventsTable.Name).Columns("document_id", "seq", "timestamp", "level", "stage", "message", "details")
		for i, ev := range doc.Events {
			details, err := jsonText(ev.Details)
			if err != nil {
				return s.rollback(tx, err)
			}
			ins.Values(doc.ID.String(), i, ev.Timestamp, string(ev.Level), ev.Stage, ev.Message, details)
		}
		q, qargs := ins.Query()
		if err := tx.Exec(ctx, q, qargs, nil); err != nil {
			return s.rollback(tx, fmt.Errorf("insert events: %w", err))
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Debug("db.document.stored", "doc_id", doc.ID, "status", doc.Status, "events", len(doc.Events))
	return nil
}

// StoreExtraction upserts the extracted tree for docID. The document row
// must exist; the pipeline stores it first.
func (s *Store) StoreExtraction(ctx context.Context, docType string, tree map[string]any, docID string) error {
	data, err := jsonText(tree)
	if err != nil {
		return err
	}
	if err := s.ensureDocument(ctx, docID, docType); err != nil {
		return err
	}
	q, args := s.builder().Insert(ExtractionsTable.Name).
		Columns("document_id", "document_type", "data", "created_at").
		Values(docID, docType, data, time.Now().UTC()).
		OnConflict(entsql.ConflictColumns("document_id"), entsql.ResolveWithNewValues()).
		Query()
	if err := s.drv.Exec(ctx, q, args, nil); err != nil {
		s.logger.Error("db.extraction.failed", "doc_id", docID, "error", err)
		return fmt.Errorf("store extraction: %w", err)
	}
	s.logger.Debug("db.extraction.stored", "doc_id", docID, "doc_type", docType)
	return nil
}

// ensureDocument inserts a placeholder row so the extraction foreign key holds
// when extraction is stored before document metadata.
func (s *Store) ensureDocument(ctx context.Context, docID, docType string) error {
	now := time.Now().UTC()
	q, args := s.builder().Insert(DocumentsTable.Name).
		Columns("id", "filename", "source_path", "status", "document_type", "created_at", "updated_at").
		Values(docID, "", "", string(constants.StatusIngested), docType, now, now).
		OnConflict(entsql.ConflictColumns("id"), entsql.DoNothing()).
		Query()
	if err := s.drv.Exec(ctx, q, args, nil); err != nil {
		return fmt.Errorf("ensure document: %w", err)
	}
	return nil
}

// LookupHash returns the most recent document with the same content hash.
func (s *Store) LookupHash(ctx context.Context, hash string) (string, bool, error) {
	q, args := s.builder().Select("id").
		From(entsql.Table(DocumentsTable.Name)).
		Where(entsql.EQ("content_hash", hash)).
		OrderBy(entsql.Desc("updated_at")).
		Limit(1).
		Query()
	var rows entsql.Rows
	if err := s.drv.Query(ctx, q, args, &rows); err != nil {
		return "", false, fmt.Errorf("lookup hash: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return "", false, rows.Err()
	}
	var id string
	if err := rows.Scan(&id); err != nil {
		return "", false, err
	}
	return id, true, nil
}

// GetDocument loads one document row.
func (s *Store) GetDocument(ctx context.Context, id string) (*DocumentRow, error) {
	rows, err := s.queryDocuments(ctx, entsql.EQ("id", id), 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, common.WrapError(common.ErrNotFound, "document "+id)
	}
	return &rows[0], nil
}

// ListDocuments returns the latest documents, optionally filtered by status.
func (s *Store) ListDocuments(ctx context.Context, status string, limit int) ([]DocumentRow, error) {
	var p *entsql.Predicate
	if status != "" {
		p = entsql.EQ("status", status)
	}
	return s.queryDocuments(ctx, p, limit)
}

func (s *Store) queryDocuments(ctx context.Context, p *entsql.Predicate, limit int) ([]DocumentRow, error) {
	sel := s.builder().Select(documentColumns...).From(entsql.Table(DocumentsTable.Name))
	if p != nil {
		sel.Where(p)
	}
	sel.OrderBy(entsql.Desc("updated_at"))
	if limit > 0 {
		sel.Limit(limit)
	}
	q, args := sel.Query()

	var rows entsql.Rows
	if err := s.drv.Query(ctx, q, args, &rows); err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var out []DocumentRow
	for rows.Next() {
		var (
			r                    DocumentRow
			status               string
			errMsg               *string
			violations, metadata []byte
		)
		if err := rows.Scan(&r.ID, &r.Filename, &r.SourcePath, &r.ContentHash, &r.PageCount, &r.IsScanned,
			&status, &r.DocumentType, &r.Confidence, &r.ConfidenceBand, &errMsg, &violations, &metadata,
			&r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		r.Status = constants.PipelineStatus(status)
		if errMsg != nil {
			r.ErrorMessage = *errMsg
		}
		if err := fromJSON(violations, &r.Violations); err != nil {
			return nil, err
		}
		if err := fromJSON(metadata, &r.Metadata); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetExtraction loads the stored tree for docID.
func (s *Store) GetExtraction(ctx context.Context, docID string) (map[string]any, string, error) {
	q, args := s.builder().Select("document_type", "data").
		From(entsql.Table(ExtractionsTable.Name)).
		Where(entsql.EQ("document_id", docID)).
		Query()
	var rows entsql.Rows
	if err := s.drv.Query(ctx, q, args, &rows); err != nil {
		return nil, "", fmt.Errorf("query extraction: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, "", err
		}
		return nil, "", common.WrapError(common.ErrNotFound, "extraction for "+docID)
	}
	var (
		docType string
		data    []byte
	)
	if err := rows.Scan(&docType, &data); err != nil {
		return nil, "", err
	}
	tree := map[string]any{}
	if err := fromJSON(data, &tree); err != nil {
		return nil, "", err
	}
	return tree, docType, nil
}

// Events returns the stored event log for docID in order.
func (s *Store) Events(ctx context.Context, docID string) ([]entity.ProcessingEvent, error) {
	q, args := s.builder().Select("timestamp", "level", "stage", "message", "details").
		From(entsql.Table(EventsTable.Name)).
		Where(entsql.EQ("document_id", docID)).
		OrderBy("seq").
		Query()
	var rows entsql.Rows
	if err := s.drv.Query(ctx, q, args, &rows); err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []entity.ProcessingEvent
	for rows.Next() {
		var (
			ev      entity.ProcessingEvent
			level   string
			details []byte
		)
		if err := rows.Scan(&ev.Timestamp, &level, &ev.Stage, &ev.Message, &details); err != nil {
			return nil, err
		}
		ev.Level = entity.EventLevel(level)
		if err := fromJSON(details, &ev.Details); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) rollback(tx dialect.Tx, err error) error {
	if rerr := tx.Rollback(); rerr != nil {
		return errors.Join(err, fmt.Errorf("rollback: %w", rerr))
	}
	return err
}

// jsonText encodes v as a string so both jsonb and sqlite text columns accept it.
func jsonText(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	if string(b) == "null" {
		return nil, nil
	}
	return string(b), nil
}

func fromJSON(b []byte, v any) error {
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}
