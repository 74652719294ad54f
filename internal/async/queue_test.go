package async

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/entity"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type recordingProcessor struct {
	mu      sync.Mutex
	paths   []string
	traces  []string
	release chan struct{}
	fail    map[string]error
}

func (p *recordingProcessor) ProcessFile(ctx context.Context, path string) (*entity.DocumentRecord, error) {
	if p.release != nil {
		<-p.release
	}
	p.mu.Lock()
	p.paths = append(p.paths, path)
	p.traces = append(p.traces, common.RequestIDFromContext(ctx))
	p.mu.Unlock()
	return entity.NewDocumentRecord(path), p.fail[path]
}

func (p *recordingProcessor) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.paths...)
}

func TestQueueProcessesAllJobsBeforeShutdown(t *testing.T) {
	proc := &recordingProcessor{fail: map[string]error{"b.pdf": errors.New("boom")}}
	var mu sync.Mutex
	results := map[string]error{}
	q := NewQueue(proc, quiet, WithWorkers(2), WithQueueSize(4), WithResultFunc(func(job Job, doc *entity.DocumentRecord, err error) {
		mu.Lock()
		results[job.Path] = err
		mu.Unlock()
	}))

	for _, p := range []string{"a.pdf", "b.pdf", "c.pdf"} {
		require.NoError(t, q.Enqueue(context.Background(), NewJob(p)))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q.Shutdown(ctx)

	assert.ElementsMatch(t, []string{"a.pdf", "b.pdf", "c.pdf"}, proc.seen())
	assert.Len(t, results, 3)
	assert.Error(t, results["b.pdf"])
	assert.NoError(t, results["a.pdf"])
	for _, tr := range proc.traces {
		assert.NotEmpty(t, tr, "trace id travels as request id")
	}
	assert.Zero(t, q.Pending())
}

func TestQueueRejectsAfterShutdown(t *testing.T) {
	q := NewQueue(&recordingProcessor{}, quiet, WithWorkers(1))
	q.Shutdown(context.Background())
	err := q.Enqueue(context.Background(), NewJob("late.pdf"))
	assert.ErrorIs(t, err, ErrQueueClosed)
	q.Shutdown(context.Background())
}

func TestQueueSkipsPendingDuplicates(t *testing.T) {
	proc := &recordingProcessor{release: make(chan struct{})}
	q := NewQueue(proc, quiet, WithWorkers(1), WithQueueSize(4))

	require.NoError(t, q.Enqueue(context.Background(), NewJob("a.pdf")))
	require.NoError(t, q.Enqueue(context.Background(), NewJob("a.pdf")))
	forced := NewJob("a.pdf")
	forced.Force = true
	require.NoError(t, q.Enqueue(context.Background(), forced))

	close(proc.release)
	q.Shutdown(context.Background())
	assert.Equal(t, []string{"a.pdf", "a.pdf"}, proc.seen())
}

func TestQueueEnqueueHonoursContextWhenFull(t *testing.T) {
	proc := &recordingProcessor{release: make(chan struct{})}
	q := NewQueue(proc, quiet, WithWorkers(1), WithQueueSize(1))

	require.NoError(t, q.Enqueue(context.Background(), NewJob("a.pdf"))) // taken by the worker
	require.Eventually(t, func() bool { return len(q.ch) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, q.Enqueue(context.Background(), NewJob("b.pdf"))) // fills the buffer

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Enqueue(ctx, NewJob("c.pdf"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(proc.release)
	q.Shutdown(context.Background())
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, proc.seen())
}
