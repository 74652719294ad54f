package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/joseph-ayodele/docflow/internal/entity"
)

// DefaultCollection holds one status document per processed file.
const DefaultCollection = "documents"

// StatusFields summarises doc for Firestore. Keys follow the collection's
// camelCase convention.
func StatusFields(doc *entity.DocumentRecord) map[string]any {
	f := map[string]any{
		"fileHash":         doc.ContentHash,
		"originalFilename": doc.Filename,
		"status":           string(doc.Status),
		"pageCount":        doc.PageCount,
		"documentType":     string(doc.DocumentType),
		"confidence":       doc.ClassificationConfidence,
		"confidenceBand":   string(doc.ClassificationBand),
		"violations":       len(doc.Violations),
		"events":           len(doc.Events),
		"createdAt":        doc.CreatedAt,
		"updatedAt":        doc.UpdatedAt,
		"errorDetails":     nil,
	}
	if doc.ErrorMessage != "" {
		f["errorDetails"] = doc.ErrorMessage
	}
	return f
}

// StatusStore mirrors document status and extractions into Firestore.
type StatusStore struct {
	client     *firestore.Client
	collection string
	logger     *slog.Logger
}

// NewFirestoreClient creates a Firestore client for projectID.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}
	return client, nil
}

func NewStatusStore(client *firestore.Client, collection string, logger *slog.Logger) *StatusStore {
	if collection == "" {
		collection = DefaultCollection
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusStore{client: client, collection: collection, logger: logger}
}

func (s *StatusStore) Close() error { return s.client.Close() }

func (s *StatusStore) ref(docID string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(docID)
}

// StoreDocumentMetadata writes the status summary, keeping any stored extraction.
func (s *StatusStore) StoreDocumentMetadata(ctx context.Context, doc *entity.DocumentRecord) error {
	fields := StatusFields(doc)
	if _, err := s.ref(doc.ID.String()).Set(ctx, fields, firestore.MergeAll); err != nil {
		s.logger.Error("firestore.status.failed", "doc_id", doc.ID.String(), "error", err)
		return classify(fmt.Errorf("failed to update status: %w", err))
	}
	s.logger.Debug("firestore.status.ok", "doc_id", doc.ID.String(), "status", doc.Status)
	return nil
}

// StoreExtraction stores the tree as a JSON string; Firestore rejects
// arrays nested directly in arrays.
func (s *StatusStore) StoreExtraction(ctx context.Context, docType string, tree map[string]any, docID string) error {
	raw, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("encode extraction: %w", err)
	}
	updates := map[string]any{
		"documentType":  docType,
		"extractedData": string(raw),
		"extractedAt":   time.Now().UTC(),
	}
	if _, err := s.ref(docID).Set(ctx, updates, firestore.MergeAll); err != nil {
		s.logger.Error("firestore.extraction.failed", "doc_id", docID, "error", err)
		return classify(fmt.Errorf("failed to store extraction: %w", err))
	}
	return nil
}

// LookupHash finds an earlier document with the same content hash.
func (s *StatusStore) LookupHash(ctx context.Context, hash string) (string, bool, error) {
	docs, err := s.client.Collection(s.collection).Where("fileHash", "==", hash).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return "", false, fmt.Errorf("failed to query for duplicates: %w", err)
	}
	if len(docs) == 0 {
		return "", false, nil
	}
	return docs[0].Ref.ID, true, nil
}
