package jobs

import (
	"context"
	"time"

	"github.com/dvloznov/finance-ledger/internal/apperrors"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/pipeline"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeIngestCSV ingests a CSV export from a local path or gs:// URI.
	JobTypeIngestCSV JobType = "csv"
	// JobTypeRefresh runs the staged refresh from the ledger API.
	JobTypeRefresh JobType = "refresh"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

// ErrJobNotFound is returned for an unknown job id.
var ErrJobNotFound = apperrors.NewNotFoundError("job not found")

// IngestJob is one asynchronous CSV ingestion or API refresh.
type IngestJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	Kind JobType `json:"kind"`

	// Source is the CSV path or gs:// URI for csv jobs.
	Source string `json:"source,omitempty"`

	// Since is the refresh cutoff. Nil continues from the last refresh.
	Since *time.Time `json:"since,omitempty"`

	// ResumeFrom is set after a failed refresh so the retry skips the stages
	// that already completed.
	ResumeFrom pipeline.Stage `json:"resume_from,omitempty"`

	// Status is the current status of the job.
	Status JobStatus `json:"status"`

	// Report is the ingestion result once the job has run.
	Report *domain.IngestionReport `json:"report,omitempty"`

	// CreatedAt is when the job was created.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt is when the job started processing.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the job completed (success or failure).
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`

	// RetryCount is the number of times this job has been retried.
	RetryCount int `json:"retry_count"`

	// MaxRetries is the maximum number of retries allowed.
	MaxRetries int `json:"max_retries"`
}

// Job is a generic interface for all job types.
type Job interface {
	// GetID returns the unique job identifier.
	GetID() string

	// GetType returns the job type.
	GetType() JobType

	// GetStatus returns the current job status.
	GetStatus() JobStatus
}

// GetID implements the Job interface.
func (j *IngestJob) GetID() string {
	return j.JobID
}

// GetType implements the Job interface.
func (j *IngestJob) GetType() JobType {
	return j.Kind
}

// GetStatus implements the Job interface.
func (j *IngestJob) GetStatus() JobStatus {
	return j.Status
}

// Publisher defines the interface for publishing jobs to a queue.
type Publisher interface {
	// PublishIngest publishes an ingestion job.
	PublishIngest(ctx context.Context, job *IngestJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler is a function that processes a job.
// It should return an error if the job failed and should be retried.
type JobHandler func(ctx context.Context, job Job) error

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *IngestJob) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*IngestJob, error)

	// ListJobs retrieves jobs with optional filtering, newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*IngestJob, error)

	// UpdateJobStatus updates the status of a job.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	// Kind filters jobs by type.
	Kind JobType

	// Status filters jobs by status.
	Status JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}
