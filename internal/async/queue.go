// Package async runs documents through the pipeline on a bounded worker pool.
package async

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/entity"
)

// ErrQueueClosed is returned by Enqueue after Shutdown.
var ErrQueueClosed = errors.New("queue is shutting down")

// Job is one file to process.
type Job struct {
	Path        string
	Force       bool // enqueue even if the same path is already pending
	SubmittedAt time.Time
	TraceID     string
}

// NewJob stamps a job for path with a fresh trace ID.
func NewJob(path string) Job {
	return Job{Path: path, SubmittedAt: time.Now().UTC(), TraceID: uuid.NewString()}
}

// Processor is what the workers call for each job.
type Processor interface {
	ProcessFile(ctx context.Context, path string) (*entity.DocumentRecord, error)
}

// ResultFunc observes every finished job.
type ResultFunc func(job Job, doc *entity.DocumentRecord, err error)

type Queue struct {
	proc     Processor
	logger   *slog.Logger
	workers  int
	timeout  time.Duration
	onResult ResultFunc

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex // guards closed and ch sends
	closed bool

	pmu     sync.Mutex
	pending map[string]struct{}
}

type Option func(*Queue)

func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}

func WithProcessTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func WithResultFunc(fn ResultFunc) Option {
	return func(q *Queue) { q.onResult = fn }
}

// NewQueue starts the workers immediately.
func NewQueue(proc Processor, logger *slog.Logger, opts ...Option) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		proc:    proc,
		logger:  logger,
		workers: 4,
		timeout: 10 * time.Minute,
		ch:      make(chan Job, 256),
		pending: map[string]struct{}{},
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *Queue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("queue.worker.started", "worker_id", workerID)
				for job := range q.ch {
					q.run(workerID, job)
				}
				q.logger.Info("queue.worker.stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *Queue) run(workerID int, job Job) {
	defer q.release(job.Path)

	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()
	ctx = common.WithRequestID(ctx, job.TraceID)

	start := time.Now()
	doc, err := q.proc.ProcessFile(ctx, job.Path)
	attrs := []any{
		"worker_id", workerID,
		"path", job.Path,
		"trace_id", job.TraceID,
		"wait_ms", start.Sub(job.SubmittedAt).Milliseconds(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	}
	if doc != nil {
		attrs = append(attrs, "doc_id", doc.ID, "status", doc.Status)
	}
	if err != nil {
		q.logger.Error("queue.job.failed", append(attrs, "error", err)...)
	} else {
		q.logger.Info("queue.job.ok", attrs...)
	}
	if q.onResult != nil {
		q.onResult(job, doc, err)
	}
}

func (q *Queue) release(path string) {
	q.pmu.Lock()
	delete(q.pending, path)
	q.pmu.Unlock()
}

// Enqueue blocks while the buffer is full, until ctx is done. A path that is
// already pending is skipped unless job.Force is set.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now().UTC()
	}
	if job.TraceID == "" {
		job.TraceID = uuid.NewString()
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.logger.Warn("queue.enqueue.closed", "path", job.Path)
		return ErrQueueClosed
	}
	q.pmu.Lock()
	_, dup := q.pending[job.Path]
	if dup && !job.Force {
		q.pmu.Unlock()
		q.mu.Unlock()
		q.logger.Info("queue.enqueue.duplicate", "path", job.Path)
		return nil
	}
	q.pending[job.Path] = struct{}{}
	q.pmu.Unlock()

	// Holding mu while blocked keeps Shutdown from closing ch under a sender.
	defer q.mu.Unlock()
	select {
	case q.ch <- job:
		q.logger.Info("queue.enqueue.ok", "path", job.Path, "trace_id", job.TraceID, "force", job.Force)
		return nil
	default:
	}
	q.logger.Warn("queue.enqueue.backpressure", "path", job.Path)
	select {
	case q.ch <- job:
		return nil
	case <-ctx.Done():
		q.release(job.Path)
		return ctx.Err()
	}
}

// Pending reports how many paths are queued or in flight.
func (q *Queue) Pending() int {
	q.pmu.Lock()
	defer q.pmu.Unlock()
	return len(q.pending)
}

// Shutdown stops accepting jobs and waits for queued ones to drain or ctx to end.
func (q *Queue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("queue.shutdown.interrupted")
	case <-done:
		q.logger.Info("queue.shutdown.drained")
	}
}
