package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/common"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func threePages(string) (int, error) { return 3, nil }

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

type fakeIndex map[string]string

func (f fakeIndex) LookupHash(_ context.Context, hash string) (string, bool, error) {
	id, ok := f[hash]
	return id, ok, nil
}

type fakeFetcher struct{ body string }

func (f fakeFetcher) Fetch(_ context.Context, uri, dir string) (string, error) {
	p := filepath.Join(dir, filepath.Base(uri))
	return p, os.WriteFile(p, []byte(f.body), 0o644)
}

func TestIngestLocalPDF(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "call.pdf", "%PDF-1.7 fake")
	ing := New(quiet, WithPageCounter(threePages))

	doc, err := ing.Ingest(context.Background(), path)
	require.NoError(t, err)

	sum := sha256.Sum256([]byte("%PDF-1.7 fake"))
	assert.Equal(t, hex.EncodeToString(sum[:]), doc.ContentHash)
	assert.Equal(t, 3, doc.PageCount)
	assert.Equal(t, "call.pdf", doc.Filename)
	assert.Equal(t, constants.StatusIngested, doc.Status)
	require.Len(t, doc.Events, 1)
	assert.Equal(t, "ingestion", doc.Events[0].Stage)
}

func TestIngestRejectsUnsupportedExtension(t *testing.T) {
	path := writeFile(t, t.TempDir(), "notes.txt", "hello")
	_, err := New(quiet, WithPageCounter(threePages)).Ingest(context.Background(), path)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	var pe *common.PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, common.CategoryIngestion, pe.Category)
}

func TestIngestPageCountFailureKeepsRecord(t *testing.T) {
	path := writeFile(t, t.TempDir(), "broken.pdf", "not a pdf")
	ing := New(quiet, WithPageCounter(func(string) (int, error) { return 0, errors.New("no xref") }))

	doc, err := ing.Ingest(context.Background(), path)
	require.Error(t, err)
	require.NotNil(t, doc)
	assert.NotEmpty(t, doc.ContentHash)
}

func TestIngestFlagsDuplicates(t *testing.T) {
	path := writeFile(t, t.TempDir(), "call.pdf", "same bytes")
	sum := sha256.Sum256([]byte("same bytes"))
	ing := New(quiet, WithPageCounter(threePages), WithHashIndex(fakeIndex{hex.EncodeToString(sum[:]): "doc-1"}))

	doc, err := ing.Ingest(context.Background(), path)
	require.NoError(t, err)
	prev, ok := doc.Meta("duplicate_of")
	assert.True(t, ok)
	assert.Equal(t, "doc-1", prev)
}

func TestIngestGCSSource(t *testing.T) {
	ing := New(quiet, WithPageCounter(threePages))
	_, err := ing.Ingest(context.Background(), "gs://bucket/in/call.pdf")
	assert.ErrorIs(t, err, common.ErrConfig)

	ing = New(quiet, WithPageCounter(threePages), WithFetcher(fakeFetcher{body: "pdf"}), WithTempDir(t.TempDir()))
	doc, err := ing.Ingest(context.Background(), "gs://bucket/in/call.pdf")
	require.NoError(t, err)
	assert.Equal(t, "call.pdf", doc.Filename)
	uri, _ := doc.Meta("source_uri")
	assert.Equal(t, "gs://bucket/in/call.pdf", uri)
}

func TestIngestDirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.pdf", "a")
	writeFile(t, root, "sub/b.PDF", "b")
	writeFile(t, root, "readme.txt", "skip")
	writeFile(t, root, ".hidden/c.pdf", "c")
	writeFile(t, root, ".d.pdf", "d")

	ing := New(quiet, WithPageCounter(threePages))
	results, stats, err := ing.IngestDirectory(context.Background(), root, true)
	require.NoError(t, err)

	assert.Equal(t, uint32(2), stats.Matched)
	assert.Equal(t, uint32(2), stats.Succeeded)
	assert.Zero(t, stats.Failed)
	require.Len(t, results, 2)
	for _, r := range results {
		require.NotNil(t, r.Doc)
		assert.NoError(t, r.Err)
	}

	_, stats, err = ing.IngestDirectory(context.Background(), root, false)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), stats.Matched)

	_, _, err = ing.IngestDirectory(context.Background(), " ", false)
	assert.Error(t, err)
}

func TestWatcherEmitsNewPDFs(t *testing.T) {
	root := t.TempDir()
	existing := writeFile(t, root, "old.pdf", "x")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, _, err := StartWatcher(ctx, WatchConfig{Roots: []string{root}, InitialScan: true, Debounce: 20 * time.Millisecond}, quiet)
	require.NoError(t, err)

	next := func() string {
		select {
		case p := <-events:
			return p
		case <-time.After(3 * time.Second):
			t.Fatal("no watcher event")
			return ""
		}
	}
	assert.Equal(t, existing, next())

	writeFile(t, root, "ignored.txt", "x")
	created := writeFile(t, root, "new.pdf", "y")
	assert.Equal(t, created, next())

	cancel()
	for range events {
	}
}

func TestWatcherNeedsRoots(t *testing.T) {
	_, _, err := StartWatcher(context.Background(), WatchConfig{}, quiet)
	assert.Error(t, err)
}
