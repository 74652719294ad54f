// Package gcp connects the pipeline to Cloud Storage and Firestore.
package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/export"
	"github.com/joseph-ayodele/docflow/internal/ingest"
	"github.com/joseph-ayodele/docflow/internal/llm"
)

// ObjectStore is the slice of Cloud Storage the pipeline needs.
type ObjectStore interface {
	NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, error)
	NewWriter(ctx context.Context, bucket, object, contentType string) io.WriteCloser
}

type gcsObjects struct{ client *storage.Client }

func (g gcsObjects) NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	return g.client.Bucket(bucket).Object(object).NewReader(ctx)
}

func (g gcsObjects) NewWriter(ctx context.Context, bucket, object, contentType string) io.WriteCloser {
	w := g.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType
	return w
}

// Storage fetches gs:// sources and uploads JSON artifacts.
type Storage struct {
	objects ObjectStore
	bucket  string
	prefix  string
	logger  *slog.Logger
	closer  func() error
}

// NewStorage creates a client with application default credentials.
// Artifacts go to bucket under "outputs/".
func NewStorage(ctx context.Context, bucket string, logger *slog.Logger, opts ...option.ClientOption) (*Storage, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	s := NewStorageWith(gcsObjects{client: client}, bucket, logger)
	s.closer = client.Close
	return s, nil
}

// NewStorageWith wraps an existing object store.
func NewStorageWith(objects ObjectStore, bucket string, logger *slog.Logger) *Storage {
	if logger == nil {
		logger = slog.Default()
	}
	return &Storage{objects: objects, bucket: bucket, prefix: "outputs", logger: logger}
}

func (s *Storage) Close() error {
	if s.closer != nil {
		return s.closer()
	}
	return nil
}

var _ ingest.Fetcher = (*Storage)(nil)

// ParseURI splits gs://bucket/object.
func ParseURI(uri string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(uri, ingest.GCSScheme)
	if !ok {
		return "", "", fmt.Errorf("%w: not a gs:// uri: %q", common.ErrInvalidInput, uri)
	}
	bucket, object, _ = strings.Cut(rest, "/")
	if bucket == "" || object == "" || strings.HasSuffix(object, "/") {
		return "", "", fmt.Errorf("%w: incomplete gs:// uri: %q", common.ErrInvalidInput, uri)
	}
	return bucket, object, nil
}

// Fetch streams the object into dir and returns the local path.
func (s *Storage) Fetch(ctx context.Context, uri, dir string) (string, error) {
	start := time.Now()
	bucket, object, err := ParseURI(uri)
	if err != nil {
		return "", err
	}
	r, err := s.objects.NewReader(ctx, bucket, object)
	if err != nil {
		return "", classify(fmt.Errorf("failed to get GCS object reader for %s: %w", uri, err))
	}
	defer r.Close()

	dest := filepath.Join(dir, path.Base(object))
	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file at %s: %w", dest, err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dest)
		return "", classify(fmt.Errorf("failed to copy GCS object to local file: %w", err))
	}
	s.logger.Info("gcs.fetch.ok", "uri", uri, "bytes", n, "elapsed_ms", time.Since(start).Milliseconds())
	return dest, nil
}

// Write uploads the document's JSON artifact and returns its gs:// URI.
// Re-processing overwrites the previous artifact.
func (s *Storage) Write(ctx context.Context, doc *entity.DocumentRecord) (string, error) {
	if s.bucket == "" {
		return "", fmt.Errorf("%w: no output bucket configured", common.ErrConfig)
	}
	body, err := export.MarshalArtifact(doc)
	if err != nil {
		return "", err
	}
	object := path.Join(s.prefix, export.OutputName(doc.Filename))
	w := s.objects.NewWriter(ctx, s.bucket, object, "application/json")
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return "", classify(fmt.Errorf("failed to write to GCS: %w", err))
	}
	if err := w.Close(); err != nil {
		return "", classify(fmt.Errorf("failed to finalize GCS write: %w", err))
	}
	uri := ingest.GCSScheme + s.bucket + "/" + object
	s.logger.Info("gcs.upload.ok", "doc_id", doc.ID.String(), "uri", uri, "bytes", len(body))
	return uri, nil
}

// classify marks retryable API and transport failures as transient.
func classify(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return llm.ClassifyHTTPStatus(gerr.Code, err)
	}
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("%w: %v", common.ErrNotFound, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return llm.ClassifyTransport(err)
}
