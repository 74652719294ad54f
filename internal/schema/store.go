package schema

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/common"
)

//go:embed schemas/*.json
var embedded embed.FS

// Store loads the field schema for a document type.
type Store interface {
	Load(ctx context.Context, docType constants.DocumentType) (*FieldSchema, error)
}

// FileStore reads schema files from a directory, falling back to the built-in
// set, and caches each parsed schema for the life of the process.
type FileStore struct {
	dir    fs.FS
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[constants.DocumentType]*FieldSchema
}

// NewFileStore serves schemas from dir, or only the built-in ones when dir is empty.
func NewFileStore(dir string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	s := &FileStore{logger: logger, cache: map[constants.DocumentType]*FieldSchema{}}
	if dir != "" {
		s.dir = os.DirFS(dir)
	}
	return s
}

// Load returns the cached schema or reads it. A missing schema is a
// configuration error for that document type only.
func (s *FileStore) Load(_ context.Context, docType constants.DocumentType) (*FieldSchema, error) {
	s.mu.RLock()
	cached, ok := s.cache[docType]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	name := docType.SchemaFile()
	if name == "" {
		return nil, common.NewConfigurationError(
			fmt.Sprintf("no schema defined for document type %q", docType),
			fmt.Errorf("%w: schema for %s", common.ErrConfig, docType))
	}

	data, src, err := s.read(name)
	if err != nil {
		s.logger.Error("schema.load.failed", "doc_type", docType, "file", name, "error", err)
		return nil, common.NewConfigurationError(
			fmt.Sprintf("schema file %s not found", name),
			fmt.Errorf("%w: %v", common.ErrConfig, err))
	}
	parsed, err := Parse(docType, data)
	if err != nil {
		return nil, common.NewConfigurationError("invalid schema file "+name, fmt.Errorf("%w: %v", common.ErrConfig, err))
	}

	s.mu.Lock()
	s.cache[docType] = parsed
	s.mu.Unlock()
	s.logger.Debug("schema.load.ok", "doc_type", docType, "source", src, "leaves", len(parsed.Leaves()))
	return parsed, nil
}

func (s *FileStore) read(name string) ([]byte, string, error) {
	if s.dir != nil {
		b, err := fs.ReadFile(s.dir, name)
		if err == nil {
			return b, "dir", nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}
	}
	b, err := embedded.ReadFile("schemas/" + name)
	return b, "embedded", err
}
