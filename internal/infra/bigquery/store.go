package bigquery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// BigQueryTransactionStore is the BigQuery implementation of
// store.TransactionStore. It holds one shared client for every operation.
type BigQueryTransactionStore struct {
	client *bigquery.Client
	ref    TableRef
	log    zerolog.Logger
	now    func() time.Time

	seqMu   sync.Mutex
	lastSeq int64
}

// NewBigQueryTransactionStore creates a store with its own BigQuery client.
func NewBigQueryTransactionStore(ctx context.Context, ref TableRef, log zerolog.Logger) (*BigQueryTransactionStore, error) {
	client, err := bigquery.NewClient(ctx, ref.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("NewBigQueryTransactionStore: creating client: %w", err)
	}
	return NewBigQueryTransactionStoreWithClient(client, ref, log), nil
}

// NewBigQueryTransactionStoreWithClient wraps an existing client. Close will
// close it.
func NewBigQueryTransactionStoreWithClient(client *bigquery.Client, ref TableRef, log zerolog.Logger) *BigQueryTransactionStore {
	return &BigQueryTransactionStore{client: client, ref: ref, log: log, now: time.Now}
}

// Close closes the BigQuery client connection.
func (s *BigQueryTransactionStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// EnsureSchema creates the dataset and table when missing.
func (s *BigQueryTransactionStore) EnsureSchema(ctx context.Context) error {
	return EnsureSchemaWithClient(ctx, s.client, s.ref)
}

func (s *BigQueryTransactionStore) FindByExternalIDs(ctx context.Context, ids []string) (map[string]*domain.StoredTransaction, error) {
	return FindByExternalIDsWithClient(ctx, s.client, s.ref, ids)
}

func (s *BigQueryTransactionStore) ExistingExternalIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	return ExistingExternalIDsWithClient(ctx, s.client, s.ref, ids)
}

// BulkWrite streams every insert in one request and applies updates one
// statement each. Failures are counted per op and never abort the rest.
func (s *BigQueryTransactionStore) BulkWrite(ctx context.Context, ops []store.WriteOp) (store.BulkResult, error) {
	var res store.BulkResult
	var rows []*TransactionRow
	now := s.now()

	for i, op := range ops {
		if op.Doc == nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Errorf("op %d: empty document", i))
			continue
		}
		switch op.Kind {
		case store.OpInsert:
			rows = append(rows, NewTransactionRow(uuid.NewString(), op.Doc, now, s.nextSeq(now)))
		case store.OpUpdate:
			n, err := UpdateTransactionWithClient(ctx, s.client, s.ref, op.ExternalID, op.Doc)
			switch {
			case err != nil:
				res.Failed++
				res.Errors = append(res.Errors, fmt.Errorf("op %d: %w", i, err))
			case n == 0:
				res.Failed++
				res.Errors = append(res.Errors, fmt.Errorf("op %d: %q: %w", i, op.ExternalID, store.ErrNoMatch))
			default:
				res.Updated++
			}
		default:
			res.Failed++
			res.Errors = append(res.Errors, fmt.Errorf("op %d: unknown kind %d", i, op.Kind))
		}
	}

	failed, err := InsertTransactionsWithClient(ctx, s.client, s.ref, rows)
	res.Inserted += len(rows) - failed
	res.Failed += failed
	if err != nil {
		res.Errors = append(res.Errors, err)
		s.log.Warn().Err(err).Int("rejected", failed).Msg("Streaming insert rejected rows")
	}
	return res, nil
}

// nextSeq returns an insertion sequence seeded from the wall clock and
// strictly increasing within the process, so rows sharing a batch
// timestamp still order by insertion.
func (s *BigQueryTransactionStore) nextSeq(now time.Time) int64 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	n := now.UnixNano()
	if n <= s.lastSeq {
		n = s.lastSeq + 1
	}
	s.lastSeq = n
	return n
}

func (s *BigQueryTransactionStore) InsertMany(ctx context.Context, txs []*domain.Transaction) (store.BulkResult, error) {
	ops := make([]store.WriteOp, 0, len(txs))
	for _, tx := range txs {
		ops = append(ops, store.WriteOp{Kind: store.OpInsert, Doc: tx})
	}
	return s.BulkWrite(ctx, ops)
}

// UpsertByExternalID merges each record on its external id. Existence is
// checked up front so the result separates inserts from updates. Records
// without an id are counted as failed.
func (s *BigQueryTransactionStore) UpsertByExternalID(ctx context.Context, txs []*domain.Transaction) (store.BulkResult, error) {
	existing, err := s.ExistingExternalIDs(ctx, store.UniqueIDs(txs))
	if err != nil {
		return store.BulkResult{}, fmt.Errorf("UpsertByExternalID: checking existing ids: %w", err)
	}

	var res store.BulkResult
	for i, tx := range txs {
		key, ok := tx.Key()
		if !ok {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Errorf("record %d: missing external id", i))
			continue
		}
		if err := UpsertTransactionWithClient(ctx, s.client, s.ref, uuid.NewString(), key, s.nextSeq(s.now()), tx); err != nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Errorf("record %d: %w", i, err))
			continue
		}
		if existing[key] {
			res.Updated++
			continue
		}
		existing[key] = true
		res.Inserted++
	}
	return res, nil
}

func (s *BigQueryTransactionStore) ClearAll(ctx context.Context) (int64, error) {
	return ClearAllWithClient(ctx, s.client, s.ref)
}

func (s *BigQueryTransactionStore) LatestForAccount(ctx context.Context, account string, asOf time.Time) (*domain.StoredTransaction, error) {
	return LatestForAccountWithClient(ctx, s.client, s.ref, account, asOf)
}

func (s *BigQueryTransactionStore) CategoryRangeSum(ctx context.Context, category string, from, to time.Time) (decimal.Decimal, error) {
	return CategoryRangeSumWithClient(ctx, s.client, s.ref, category, from, to)
}

func (s *BigQueryTransactionStore) DistinctAccounts(ctx context.Context) ([]string, error) {
	return DistinctValuesWithClient(ctx, s.client, s.ref, ColumnAccount)
}

func (s *BigQueryTransactionStore) DistinctCategories(ctx context.Context) ([]string, error) {
	return DistinctValuesWithClient(ctx, s.client, s.ref, ColumnCategory)
}

var _ store.TransactionStore = (*BigQueryTransactionStore)(nil)
