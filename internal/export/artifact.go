// Package export renders processed documents as JSON artifacts and XLSX workbooks.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joseph-ayodele/docflow/internal/bbox"
	"github.com/joseph-ayodele/docflow/internal/entity"
)

// OutputSuffix is appended to the source stem to name the JSON artifact.
const OutputSuffix = "_output.json"

// excluded never leave the process: the local path and per-page OCR words.
var excluded = []string{"source_path", "pages"}

// OutputName returns the artifact file name for a source filename.
func OutputName(filename string) string {
	stem := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	if stem == "" || stem == "." {
		stem = "document"
	}
	return stem + OutputSuffix
}

// Artifact returns the document as a JSON object without the excluded keys and
// with redacted keys stripped of their boxes. The record is not modified.
func Artifact(doc *entity.DocumentRecord) (map[string]any, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	for _, k := range excluded {
		delete(out, k)
	}
	if tree, ok := out["extracted_data"].(map[string]any); ok {
		bbox.Redact(tree)
	}
	return out, nil
}

// MarshalArtifact encodes Artifact(doc) with four-space indentation.
func MarshalArtifact(doc *entity.DocumentRecord) ([]byte, error) {
	a, err := Artifact(doc)
	if err != nil {
		return nil, err
	}
	b, err := json.MarshalIndent(a, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("encode artifact: %w", err)
	}
	return b, nil
}

// JSONSink writes one artifact per document into a directory.
type JSONSink struct {
	dir    string
	logger *slog.Logger
}

func NewJSONSink(dir string, logger *slog.Logger) *JSONSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &JSONSink{dir: dir, logger: logger}
}

// Write stores the artifact atomically and returns its path.
func (s *JSONSink) Write(ctx context.Context, doc *entity.DocumentRecord) (string, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	body, err := MarshalArtifact(doc)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	path := filepath.Join(s.dir, OutputName(doc.Filename))
	tmp, err := os.CreateTemp(s.dir, ".artifact-*")
	if err != nil {
		return "", fmt.Errorf("create temp: %w", err)
	}
	if _, err := tmp.Write(body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("rename artifact: %w", err)
	}

	s.logger.Info("export.json.ok",
		"doc_id", doc.ID.String(),
		"path", path,
		"bytes", len(body),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return path, nil
}
