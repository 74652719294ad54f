// Package ingest turns source files into DocumentRecords ready for the
// pipeline.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/ocr"
)

// GCSScheme prefixes object storage sources.
const GCSScheme = "gs://"

// Fetcher downloads a remote source into dir and returns the local path.
type Fetcher interface {
	Fetch(ctx context.Context, uri, dir string) (string, error)
}

// HashIndex finds documents already ingested with the same content.
type HashIndex interface {
	LookupHash(ctx context.Context, hash string) (docID string, found bool, err error)
}

// PageCounter reads the number of pages in a local file.
type PageCounter func(path string) (int, error)

type Ingestor struct {
	fetcher   Fetcher
	index     HashIndex
	pageCount PageCounter
	tempDir   string
	logger    *slog.Logger
}

type Option func(*Ingestor)

// WithFetcher enables gs:// sources.
func WithFetcher(f Fetcher) Option { return func(i *Ingestor) { i.fetcher = f } }

// WithHashIndex flags re-ingested content as a duplicate.
func WithHashIndex(h HashIndex) Option { return func(i *Ingestor) { i.index = h } }

func WithPageCounter(fn PageCounter) Option { return func(i *Ingestor) { i.pageCount = fn } }

// WithTempDir sets where remote sources are downloaded.
func WithTempDir(dir string) Option { return func(i *Ingestor) { i.tempDir = dir } }

func New(logger *slog.Logger, opts ...Option) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	i := &Ingestor{pageCount: ocr.PageCount, tempDir: os.TempDir(), logger: logger}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Ingest validates path, hashes its content and counts its pages. The
// returned record is in the Ingested state.
func (i *Ingestor) Ingest(ctx context.Context, path string) (*entity.DocumentRecord, error) {
	local, err := i.localize(ctx, path)
	if err != nil {
		return nil, err
	}

	ext := constants.NormalizeExt(filepath.Ext(local))
	if !constants.IsAllowedExt(ext) {
		i.logger.Warn("ingest.unsupported", "path", path, "ext", ext)
		return nil, common.NewIngestionError(fmt.Sprintf("unsupported or missing extension %q", ext), common.ErrInvalidInput).With("path", path)
	}

	sum, size, err := hashFile(local)
	if err != nil {
		i.logger.Error("ingest.hash.failed", "path", local, "error", err)
		return nil, common.NewIngestionError("reading source failed", err).With("path", path)
	}

	doc := entity.NewDocumentRecord(local)
	if path != local {
		doc.Filename = filepath.Base(strings.TrimPrefix(path, GCSScheme))
		doc.SetMeta("source_uri", path)
	}
	doc.ContentHash = sum
	doc.SetMeta("file_size", size)

	if i.pageCount != nil {
		n, err := i.pageCount(local)
		if err != nil {
			i.logger.Error("ingest.page_count.failed", "path", local, "error", err)
			return doc, common.NewIngestionError("unreadable pdf", err).With("path", path)
		}
		doc.PageCount = n
	}

	if i.index != nil {
		prev, found, err := i.index.LookupHash(ctx, sum)
		switch {
		case err != nil:
			i.logger.Warn("ingest.dedupe.failed", "path", local, "error", err)
		case found:
			doc.SetMeta("duplicate_of", prev)
			i.logger.Info("ingest.duplicate", "path", local, "duplicate_of", prev)
		}
	}

	doc.AddEvent(entity.LevelInfo, "ingestion",
		fmt.Sprintf("ingested '%s' (%d pages)", doc.Filename, doc.PageCount),
		map[string]any{"content_hash": sum, "file_size": size},
	)
	i.logger.Info("ingest.ok", "path", local, "doc_id", doc.ID, "pages", doc.PageCount, "hash", sum[:12])
	return doc, nil
}

func (i *Ingestor) localize(ctx context.Context, path string) (string, error) {
	if !strings.HasPrefix(path, GCSScheme) {
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", common.NewIngestionError("resolving path failed", err).With("path", path)
		}
		return abs, nil
	}
	if i.fetcher == nil {
		return "", common.NewIngestionError("gs:// sources need object storage configured", common.ErrConfig).With("path", path)
	}
	local, err := i.fetcher.Fetch(ctx, path, i.tempDir)
	if err != nil {
		return "", common.NewIngestionError("downloading source failed", err).With("path", path)
	}
	i.logger.Info("ingest.fetched", "uri", path, "local", local)
	return local, nil
}

func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
