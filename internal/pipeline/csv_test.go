package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/finance-ledger/internal/apperrors"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/pipeline"
	"github.com/dvloznov/finance-ledger/internal/reconcile"
	"github.com/dvloznov/finance-ledger/internal/staging"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/dvloznov/finance-ledger/internal/store/inmemory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = "\ufeffDate,Merchant,Amount,Currency,Account,Category,ID\r\n" +
	"2025-01-02,\"Coffee, Ltd\",-4.50,USD,Checking,Dining,1\r\n" +
	"2025-01-03,Salary,2000,USD,Checking,Income,2\r\n" +
	"\r\n" +
	"2025-01-04,\"Say \"\"hi\"\"\",-1,USD,Checking,Dining,3\r\n"

// MockCSVStore wraps an in-memory store and lets tests replace single calls.
type MockCSVStore struct {
	*inmemory.Store
	FindByExternalIDsFunc func(ctx context.Context, ids []string) (map[string]*domain.StoredTransaction, error)
	BulkWriteFunc         func(ctx context.Context, ops []store.WriteOp) (store.BulkResult, error)
}

func (m *MockCSVStore) FindByExternalIDs(ctx context.Context, ids []string) (map[string]*domain.StoredTransaction, error) {
	if m.FindByExternalIDsFunc != nil {
		return m.FindByExternalIDsFunc(ctx, ids)
	}
	return m.Store.FindByExternalIDs(ctx, ids)
}

func (m *MockCSVStore) BulkWrite(ctx context.Context, ops []store.WriteOp) (store.BulkResult, error) {
	if m.BulkWriteFunc != nil {
		return m.BulkWriteFunc(ctx, ops)
	}
	return m.Store.BulkWrite(ctx, ops)
}

func newIngestor(st pipeline.CSVStore) *pipeline.CSVIngestor {
	return pipeline.NewCSVIngestor(st, reconcile.NewEngine(zerolog.Nop()), zerolog.Nop())
}

func TestIngestFromCSVIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o644))

	st := inmemory.NewStore()
	ing := newIngestor(st)
	ctx := context.Background()

	first, err := ing.IngestFromCSV(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, domain.IngestionReport{InsertedCount: 3, Total: 3}, first)

	second, err := ing.IngestFromCSV(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, domain.IngestionReport{SkippedCount: 3, Total: 3}, second)
	assert.Equal(t, 3, st.Count())

	byID := map[string]domain.StoredTransaction{}
	for _, row := range st.All() {
		byID[*row.ExternalID] = row
	}
	assert.Equal(t, "Coffee, Ltd", *byID["1"].Description1)
	assert.Equal(t, `Say "hi"`, *byID["3"].Description1)
	assert.Equal(t, "-4.5", byID["1"].Amount.String())
}

func TestIngestFromReaderUpdatesChangedRows(t *testing.T) {
	st := inmemory.NewStore()
	ing := newIngestor(st)
	ctx := context.Background()

	_, err := ing.IngestFromReader(ctx, strings.NewReader("ID,Amount\n5,10\n"))
	require.NoError(t, err)

	rep, err := ing.IngestFromReader(ctx, strings.NewReader("ID,Amount\n5,12\n6,1\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.UpdatedCount)
	assert.Equal(t, 1, rep.InsertedCount)

	got, err := st.FindByExternalIDs(ctx, []string{"5"})
	require.NoError(t, err)
	assert.Equal(t, "12", got["5"].Amount.String())
}

func TestIngestFromReaderCountsMalformedRows(t *testing.T) {
	ing := newIngestor(inmemory.NewStore())

	data := "ID,Amount,Account\n1,10,Cash\n2,5\n3,1,Cash\n"
	rep, err := ing.IngestFromReader(context.Background(), strings.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 2, rep.InsertedCount)
	assert.Equal(t, 1, rep.MalformedCount)
	assert.Equal(t, 2, rep.Total)
}

func TestIngestFromReaderStrayQuoteSpoilsOnlyItsLine(t *testing.T) {
	st := inmemory.NewStore()
	ing := newIngestor(st)

	data := "ID,Date,Merchant,Amount\n" +
		"1,2025-01-01,\"Bad merchant,10\n" +
		"2,2025-01-02,Shop,20\r\n" +
		"3,2025-01-03,Shop,30"
	rep, err := ing.IngestFromReader(context.Background(), strings.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.MalformedCount)
	assert.Equal(t, 2, rep.InsertedCount)
	assert.Equal(t, 2, st.Count())

	got, err := st.FindByExternalIDs(context.Background(), []string{"2", "3"})
	require.NoError(t, err)
	assert.Equal(t, "20", got["2"].Amount.String())
	assert.Equal(t, "30", got["3"].Amount.String())
}

func TestIngestFromReaderBatchesAndCollapsesDuplicates(t *testing.T) {
	var batches []int
	st := &MockCSVStore{Store: inmemory.NewStore()}
	st.BulkWriteFunc = func(ctx context.Context, ops []store.WriteOp) (store.BulkResult, error) {
		batches = append(batches, len(ops))
		return st.Store.BulkWrite(ctx, ops)
	}

	data := "ID,Amount\n7,1\n7,2\n8,3\n9,4\n"
	rep, err := newIngestor(st).WithBatchSize(2).IngestFromReader(context.Background(), strings.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2}, batches)
	assert.Equal(t, 3, rep.InsertedCount)
	assert.Equal(t, 1, rep.SkippedCount)
	assert.Equal(t, 3, st.Count())

	got, err := st.FindByExternalIDs(context.Background(), []string{"7"})
	require.NoError(t, err)
	assert.Equal(t, "2", got["7"].Amount.String(), "later duplicate wins")
}

func TestIngestFromReaderContinuesAfterBatchFailure(t *testing.T) {
	calls := 0
	st := &MockCSVStore{Store: inmemory.NewStore()}
	st.FindByExternalIDsFunc = func(ctx context.Context, ids []string) (map[string]*domain.StoredTransaction, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("lookup timeout")
		}
		return st.Store.FindByExternalIDs(ctx, ids)
	}

	data := "ID,Amount\n1,1\n2,2\n3,3\n"
	rep, err := newIngestor(st).WithBatchSize(2).IngestFromReader(context.Background(), strings.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 2, rep.FailedCount)
	assert.Equal(t, 1, rep.InsertedCount)
	assert.Equal(t, 3, rep.Total)
}

func TestIngestFromReaderRecordsLastIngest(t *testing.T) {
	stg := staging.NewMemoryStore()
	ing := newIngestor(inmemory.NewStore()).WithAppData(stg)

	_, err := ing.IngestFromReader(context.Background(), strings.NewReader("ID\n1\n"))
	require.NoError(t, err)

	app, err := pipeline.LoadAppData(context.Background(), stg)
	require.NoError(t, err)
	require.NotNil(t, app.LastIngest)
	assert.WithinDuration(t, time.Now(), *app.LastIngest, time.Minute)
	assert.Nil(t, app.LastRefresh)
}

func TestIngestFromCSVErrors(t *testing.T) {
	ing := newIngestor(inmemory.NewStore())

	_, err := ing.IngestFromCSV(context.Background(), filepath.Join(t.TempDir(), "missing.csv"))
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	_, err = ing.IngestFromReader(context.Background(), strings.NewReader("\n\n"))
	assert.True(t, errors.Is(err, apperrors.ErrParse))
}

func TestClearAll(t *testing.T) {
	st := inmemory.NewStore()
	ing := newIngestor(st)
	_, err := ing.IngestFromReader(context.Background(), strings.NewReader("ID\n1\n2\n"))
	require.NoError(t, err)

	n, err := ing.ClearAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, 0, st.Count())
}
