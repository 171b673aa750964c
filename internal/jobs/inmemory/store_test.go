package inmemory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/finance-ledger/internal/apperrors"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreListJobs(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, kind := range []jobs.JobType{jobs.JobTypeIngestCSV, jobs.JobTypeRefresh, jobs.JobTypeIngestCSV} {
		require.NoError(t, s.SaveJob(ctx, &jobs.IngestJob{
			JobID:     string(rune('a' + i)),
			Kind:      kind,
			Status:    jobs.JobStatusPending,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := s.ListJobs(ctx, jobs.JobFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].JobID, "newest first")

	csv, err := s.ListJobs(ctx, jobs.JobFilter{Kind: jobs.JobTypeIngestCSV, Limit: 1})
	require.NoError(t, err)
	require.Len(t, csv, 1)
	assert.Equal(t, "c", csv[0].JobID)

	page, err := s.ListJobs(ctx, jobs.JobFilter{Offset: 5})
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestStoreCopiesJobs(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	job := &jobs.IngestJob{JobID: "j", Report: &domain.IngestionReport{InsertedCount: 1}}
	require.NoError(t, s.SaveJob(ctx, job))
	job.Report.InsertedCount = 99

	got, err := s.GetJob(ctx, "j")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Report.InsertedCount)

	require.NoError(t, s.UpdateJobStatus(ctx, "j", jobs.JobStatusFailed, "boom"))
	got, err = s.GetJob(ctx, "j")
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusFailed, got.Status)
	assert.Equal(t, "boom", got.Error)
}

func TestStoreMissingJob(t *testing.T) {
	s := NewStore()
	_, err := s.GetJob(context.Background(), "nope")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	assert.Error(t, s.SaveJob(context.Background(), &jobs.IngestJob{}))
	assert.True(t, errors.Is(s.UpdateJobStatus(context.Background(), "nope", jobs.JobStatusFailed, ""), jobs.ErrJobNotFound))
}
