package jobs_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/jobs"
	"github.com/dvloznov/finance-ledger/internal/pipeline"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockCSVRunner is a mock implementation of CSVRunner for testing.
type MockCSVRunner struct {
	IngestFromCSVFunc func(ctx context.Context, path string) (domain.IngestionReport, error)
}

func (m *MockCSVRunner) IngestFromCSV(ctx context.Context, path string) (domain.IngestionReport, error) {
	return m.IngestFromCSVFunc(ctx, path)
}

// MockRefreshRunner is a mock implementation of RefreshRunner for testing.
type MockRefreshRunner struct {
	RefreshFromAPIFunc func(ctx context.Context, since time.Time) (domain.IngestionReport, error)
	ResumeFunc         func(ctx context.Context, from pipeline.Stage) (domain.IngestionReport, error)
}

func (m *MockRefreshRunner) RefreshFromAPI(ctx context.Context, since time.Time) (domain.IngestionReport, error) {
	return m.RefreshFromAPIFunc(ctx, since)
}

func (m *MockRefreshRunner) Resume(ctx context.Context, from pipeline.Stage) (domain.IngestionReport, error) {
	return m.ResumeFunc(ctx, from)
}

func TestRunnerCSVJob(t *testing.T) {
	csv := &MockCSVRunner{IngestFromCSVFunc: func(ctx context.Context, path string) (domain.IngestionReport, error) {
		assert.Equal(t, "gs://bucket/ledger.csv", path)
		return domain.IngestionReport{InsertedCount: 4, Total: 4}, nil
	}}
	r := jobs.NewRunner(csv, nil, zerolog.Nop())

	job := &jobs.IngestJob{JobID: "1", Kind: jobs.JobTypeIngestCSV, Source: "gs://bucket/ledger.csv"}
	require.NoError(t, r.Handle(context.Background(), job))
	require.NotNil(t, job.Report)
	assert.Equal(t, 4, job.Report.InsertedCount)
}

func TestRunnerRefreshResumesFailedStage(t *testing.T) {
	since := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	var resumed []pipeline.Stage
	refresh := &MockRefreshRunner{
		RefreshFromAPIFunc: func(ctx context.Context, got time.Time) (domain.IngestionReport, error) {
			assert.Equal(t, since, got)
			return domain.IngestionReport{Total: 3}, &pipeline.StageError{Stage: pipeline.StageImportNew, Err: errors.New("insert failed")}
		},
		ResumeFunc: func(ctx context.Context, from pipeline.Stage) (domain.IngestionReport, error) {
			resumed = append(resumed, from)
			return domain.IngestionReport{InsertedCount: 3, Total: 3}, nil
		},
	}
	r := jobs.NewRunner(nil, refresh, zerolog.Nop())

	job := &jobs.IngestJob{JobID: "2", Kind: jobs.JobTypeRefresh, Since: &since}
	require.Error(t, r.Handle(context.Background(), job))
	assert.Equal(t, pipeline.StageImportNew, job.ResumeFrom)

	require.NoError(t, r.Handle(context.Background(), job))
	assert.Equal(t, []pipeline.Stage{pipeline.StageImportNew}, resumed)
	assert.Equal(t, 3, job.Report.InsertedCount)
}

func TestRunnerRejectsUnconfiguredKinds(t *testing.T) {
	r := jobs.NewRunner(nil, nil, zerolog.Nop())

	assert.Error(t, r.Handle(context.Background(), &jobs.IngestJob{Kind: jobs.JobTypeIngestCSV}))
	assert.Error(t, r.Handle(context.Background(), &jobs.IngestJob{Kind: jobs.JobTypeRefresh}))
	assert.Error(t, r.Handle(context.Background(), &jobs.IngestJob{Kind: "pdf"}))
}
