package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/dvloznov/finance-ledger/internal/pipeline"
	"github.com/rs/zerolog"
)

// CSVRunner ingests one CSV source.
type CSVRunner interface {
	IngestFromCSV(ctx context.Context, path string) (domain.IngestionReport, error)
}

// RefreshRunner runs or resumes an API refresh.
type RefreshRunner interface {
	RefreshFromAPI(ctx context.Context, since time.Time) (domain.IngestionReport, error)
	Resume(ctx context.Context, from pipeline.Stage) (domain.IngestionReport, error)
}

// Runner executes ingestion jobs one at a time. Queue workers run
// concurrently, but ingestion reads then writes the store in batches and
// must not interleave.
type Runner struct {
	csv     CSVRunner
	refresh RefreshRunner
	log     zerolog.Logger
	mu      sync.Mutex
}

// NewRunner creates a runner. Either argument may be nil when that job kind
// is not configured; jobs of that kind then fail.
func NewRunner(csv CSVRunner, refresh RefreshRunner, log zerolog.Logger) *Runner {
	return &Runner{csv: csv, refresh: refresh, log: log}
}

// Handle is a JobHandler.
func (r *Runner) Handle(ctx context.Context, j Job) error {
	job, ok := j.(*IngestJob)
	if !ok {
		return fmt.Errorf("unsupported job %T", j)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	log := logger.WithFields(r.log, map[string]interface{}{
		"job_id": job.JobID,
		"kind":   job.Kind,
	})
	log.Info().Int("retry", job.RetryCount).Msg("Running ingestion job")

	var (
		rep domain.IngestionReport
		err error
	)
	switch job.Kind {
	case JobTypeIngestCSV:
		if r.csv == nil {
			return fmt.Errorf("csv ingestion is not configured")
		}
		rep, err = r.csv.IngestFromCSV(ctx, job.Source)

	case JobTypeRefresh:
		if r.refresh == nil {
			return fmt.Errorf("ledger refresh is not configured")
		}
		if job.ResumeFrom > pipeline.StageFetch {
			rep, err = r.refresh.Resume(ctx, job.ResumeFrom)
		} else {
			var since time.Time
			if job.Since != nil {
				since = *job.Since
			}
			rep, err = r.refresh.RefreshFromAPI(ctx, since)
		}
		if stage, ok := pipeline.FailedStage(err); ok {
			job.ResumeFrom = stage
		}

	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}

	job.Report = &rep
	if err != nil {
		log.Error().Err(err).Msg("Ingestion job failed")
		return err
	}
	log.Info().Int("inserted", rep.InsertedCount).Int("updated", rep.UpdatedCount).Int("skipped", rep.SkippedCount).Msg("Ingestion job completed")
	return nil
}
