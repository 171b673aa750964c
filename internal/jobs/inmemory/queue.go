package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/finance-ledger/internal/apperrors"
	"github.com/dvloznov/finance-ledger/internal/jobs"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultWorkers    = 5
	defaultMaxRetries = 3
)

// Queue is an in-memory implementation of job publisher and consumer.
// It uses Go channels for job distribution and is safe for concurrent use.
// This implementation is suitable for single-instance deployments and testing.
type Queue struct {
	jobChan   chan *jobs.IngestJob
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	store     jobs.JobStore
	closed    bool

	workers int
	backoff func(attempt int) time.Duration
	log     zerolog.Logger
}

// NewQueue creates a new in-memory job queue.
// bufferSize determines how many jobs can be queued before PublishIngest blocks.
func NewQueue(bufferSize int, store jobs.JobStore, log zerolog.Logger) *Queue {
	return &Queue{
		jobChan:   make(chan *jobs.IngestJob, bufferSize),
		closeChan: make(chan struct{}),
		store:     store,
		workers:   defaultWorkers,
		backoff:   func(attempt int) time.Duration { return time.Duration(attempt) * time.Second },
		log:       log,
	}
}

// WithWorkers sets the number of concurrent workers Start launches.
func (q *Queue) WithWorkers(n int) *Queue {
	if n > 0 {
		q.workers = n
	}
	return q
}

// WithBackoff sets the delay before retry attempt n (1-based).
func (q *Queue) WithBackoff(fn func(attempt int) time.Duration) *Queue {
	q.backoff = fn
	return q
}

// PublishIngest implements the Publisher interface.
// It enqueues an ingestion job for asynchronous processing.
func (q *Queue) PublishIngest(ctx context.Context, job *jobs.IngestJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return fmt.Errorf("queue is closed")
	}

	// Generate job ID if not provided
	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}

	if job.Status == "" {
		job.Status = jobs.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = defaultMaxRetries
	}

	if q.store != nil {
		if err := q.store.SaveJob(ctx, job); err != nil {
			return fmt.Errorf("failed to save job: %w", err)
		}
	}

	select {
	case q.jobChan <- job:
		q.log.Debug().Str("job_id", job.JobID).Str("kind", string(job.Kind)).Msg("Job enqueued")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return fmt.Errorf("queue is closed")
	}
}

// Start implements the Consumer interface.
// It starts consuming jobs from the queue and processes them using the provided handler.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return fmt.Errorf("queue is closed")
	}
	q.mu.RUnlock()

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}
	q.log.Info().Int("workers", q.workers).Msg("Job queue started")
	return nil
}

// worker processes jobs from the queue.
func (q *Queue) worker(ctx context.Context, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case job := <-q.jobChan:
			if job == nil {
				return
			}

			q.processJob(ctx, job, handler)
		}
	}
}

// processJob executes a single job with retry logic. Validation and
// not-found failures are final.
func (q *Queue) processJob(ctx context.Context, job *jobs.IngestJob, handler jobs.JobHandler) {
	job.Status = jobs.JobStatusRunning
	now := time.Now()
	job.StartedAt = &now
	job.CompletedAt = nil

	if q.store != nil {
		_ = q.store.SaveJob(ctx, job)
	}

	err := handler(ctx, job)

	completedAt := time.Now()
	job.CompletedAt = &completedAt

	if err != nil {
		job.Error = err.Error()

		if retryable(err) && job.RetryCount < job.MaxRetries {
			job.RetryCount++
			job.Status = jobs.JobStatusRetrying
			retry := *job

			backoff := q.backoff(retry.RetryCount)
			q.log.Warn().Err(err).Str("job_id", job.JobID).Int("retry", retry.RetryCount).Dur("backoff", backoff).Msg("Job failed, retrying")
			time.AfterFunc(backoff, func() {
				retry.Status = jobs.JobStatusPending
				retry.StartedAt = nil
				retry.CompletedAt = nil
				if err := q.PublishIngest(ctx, &retry); err != nil {
					q.log.Error().Err(err).Str("job_id", retry.JobID).Msg("Failed to re-enqueue job")
				}
			})
		} else {
			job.Status = jobs.JobStatusFailed
			q.log.Error().Err(err).Str("job_id", job.JobID).Msg("Job failed")
		}
	} else {
		job.Status = jobs.JobStatusCompleted
		job.Error = ""
	}

	if q.store != nil {
		_ = q.store.SaveJob(ctx, job)
	}
}

func retryable(err error) bool {
	return !errors.Is(err, apperrors.ErrValidation) && !errors.Is(err, apperrors.ErrNotFound)
}

// Stop implements the Consumer interface.
// It stops the queue and waits for all in-flight jobs to complete.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements the Publisher interface.
// It closes the queue and releases resources.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

// Ensure Queue implements both Publisher and Consumer interfaces.
var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
