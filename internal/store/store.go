// Package store defines the persistence contract for canonical transactions.
// Implementations live in store/inmemory and infra/bigquery.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

// ErrNoMatch is reported for an update whose external id is not stored.
var ErrNoMatch = errors.New("no stored transaction with that external id")

// OpKind is the kind of a single write in a bulk operation.
type OpKind int

const (
	OpInsert OpKind = iota
	OpUpdate
)

func (k OpKind) String() string {
	if k == OpUpdate {
		return "update"
	}
	return "insert"
}

// WriteOp is one independent write. For OpInsert, Doc is the full record.
// For OpUpdate, Doc holds only the fields to set on the row keyed by
// ExternalID.
type WriteOp struct {
	Kind       OpKind
	ExternalID string
	Doc        *domain.Transaction
}

// BulkResult counts the outcome of an unordered bulk write. A failing op
// never prevents the others from being applied.
type BulkResult struct {
	Inserted int
	Updated  int
	Failed   int
	Errors   []error
}

// Add merges o into r.
func (r *BulkResult) Add(o BulkResult) {
	r.Inserted += o.Inserted
	r.Updated += o.Updated
	r.Failed += o.Failed
	r.Errors = append(r.Errors, o.Errors...)
}

// SnapshotLookup resolves persisted snapshots by external id in one round trip.
type SnapshotLookup interface {
	FindByExternalIDs(ctx context.Context, ids []string) (map[string]*domain.StoredTransaction, error)
}

// Writer applies write plans.
type Writer interface {
	BulkWrite(ctx context.Context, ops []WriteOp) (BulkResult, error)
	InsertMany(ctx context.Context, txs []*domain.Transaction) (BulkResult, error)
	UpsertByExternalID(ctx context.Context, txs []*domain.Transaction) (BulkResult, error)
	ClearAll(ctx context.Context) (int64, error)
}

// Aggregates are the read-only queries reports are built from.
type Aggregates interface {
	// LatestForAccount returns the newest row for account dated on or before
	// asOf, or nil when there is none.
	LatestForAccount(ctx context.Context, account string, asOf time.Time) (*domain.StoredTransaction, error)
	// CategoryRangeSum sums BaseAmount, falling back to Amount, over rows of
	// category dated within [from, to].
	CategoryRangeSum(ctx context.Context, category string, from, to time.Time) (decimal.Decimal, error)
	DistinctAccounts(ctx context.Context) ([]string, error)
	DistinctCategories(ctx context.Context) ([]string, error)
}

// TransactionStore is the full persistence surface.
type TransactionStore interface {
	SnapshotLookup
	Writer
	Aggregates
	ExistingExternalIDs(ctx context.Context, ids []string) (map[string]bool, error)
	Close() error
}

// UniqueIDs returns the distinct non-blank keys of txs in first-seen order.
func UniqueIDs(txs []*domain.Transaction) []string {
	seen := make(map[string]bool, len(txs))
	ids := make([]string, 0, len(txs))
	for _, tx := range txs {
		if k, ok := tx.Key(); ok && !seen[k] {
			seen[k] = true
			ids = append(ids, k)
		}
	}
	return ids
}
