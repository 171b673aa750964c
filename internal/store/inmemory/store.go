package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store is an in-memory TransactionStore. It is safe for concurrent use.
// Data is lost on restart; it backs tests and the memory backend.
type Store struct {
	mu    sync.RWMutex
	rows  []*domain.StoredTransaction
	byID  map[string]*domain.StoredTransaction
	seq   int64
	clock func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		byID:  make(map[string]*domain.StoredTransaction),
		clock: time.Now,
	}
}

func (s *Store) FindByExternalIDs(ctx context.Context, ids []string) (map[string]*domain.StoredTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*domain.StoredTransaction, len(ids))
	for _, id := range ids {
		if row, ok := s.byID[id]; ok {
			cp := *row
			out[id] = &cp
		}
	}
	return out, nil
}

func (s *Store) ExistingExternalIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := s.byID[id]; ok {
			out[id] = true
		}
	}
	return out, nil
}

// BulkWrite applies ops independently. An op that cannot be applied is
// counted in Failed and the rest still run.
func (s *Store) BulkWrite(ctx context.Context, ops []store.WriteOp) (store.BulkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res store.BulkResult
	for i, op := range ops {
		if op.Doc == nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Errorf("op %d: empty document", i))
			continue
		}
		switch op.Kind {
		case store.OpInsert:
			s.insertLocked(op.Doc)
			res.Inserted++
		case store.OpUpdate:
			if err := s.updateLocked(op.ExternalID, op.Doc); err != nil {
				res.Failed++
				res.Errors = append(res.Errors, fmt.Errorf("op %d: %w", i, err))
				continue
			}
			res.Updated++
		default:
			res.Failed++
			res.Errors = append(res.Errors, fmt.Errorf("op %d: unknown kind %d", i, op.Kind))
		}
	}
	return res, nil
}

func (s *Store) InsertMany(ctx context.Context, txs []*domain.Transaction) (store.BulkResult, error) {
	ops := make([]store.WriteOp, 0, len(txs))
	for _, tx := range txs {
		ops = append(ops, store.WriteOp{Kind: store.OpInsert, Doc: tx})
	}
	return s.BulkWrite(ctx, ops)
}

// UpsertByExternalID sets the present fields of each record on the row with
// the same external id, inserting when there is none. Records without an id
// are counted as failed.
func (s *Store) UpsertByExternalID(ctx context.Context, txs []*domain.Transaction) (store.BulkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res store.BulkResult
	for i, tx := range txs {
		key, ok := tx.Key()
		if !ok {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Errorf("record %d: missing external id", i))
			continue
		}
		if _, exists := s.byID[key]; exists {
			_ = s.updateLocked(key, tx)
			res.Updated++
			continue
		}
		s.insertLocked(tx)
		res.Inserted++
	}
	return res, nil
}

func (s *Store) ClearAll(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := int64(len(s.rows))
	s.rows = nil
	s.byID = make(map[string]*domain.StoredTransaction)
	return n, nil
}

func (s *Store) LatestForAccount(ctx context.Context, account string, asOf time.Time) (*domain.StoredTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *domain.StoredTransaction
	for _, row := range s.rows {
		if row.Account == nil || *row.Account != account || row.Date == nil || row.Date.After(asOf) {
			continue
		}
		if best == nil || row.Date.After(*best.Date) || (row.Date.Equal(*best.Date) && row.Seq > best.Seq) {
			best = row
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (s *Store) CategoryRangeSum(ctx context.Context, category string, from, to time.Time) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := decimal.Zero
	for _, row := range s.rows {
		if row.Category == nil || *row.Category != category || row.Date == nil {
			continue
		}
		if row.Date.Before(from) || row.Date.After(to) {
			continue
		}
		switch {
		case row.BaseAmount != nil:
			sum = sum.Add(*row.BaseAmount)
		case row.Amount != nil:
			sum = sum.Add(*row.Amount)
		}
	}
	return sum, nil
}

func (s *Store) DistinctAccounts(ctx context.Context) ([]string, error) {
	return s.distinct(func(t *domain.StoredTransaction) *string { return t.Account }), nil
}

func (s *Store) DistinctCategories(ctx context.Context) ([]string, error) {
	return s.distinct(func(t *domain.StoredTransaction) *string { return t.Category }), nil
}

// Count returns the number of stored rows.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// All returns copies of every stored row in insertion order.
func (s *Store) All() []domain.StoredTransaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.StoredTransaction, 0, len(s.rows))
	for _, row := range s.rows {
		out = append(out, *row)
	}
	return out
}

func (s *Store) Close() error { return nil }

func (s *Store) distinct(field func(*domain.StoredTransaction) *string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, row := range s.rows {
		v := field(row)
		if v == nil || *v == "" || seen[*v] {
			continue
		}
		seen[*v] = true
		out = append(out, *v)
	}
	sort.Strings(out)
	return out
}

func (s *Store) insertLocked(tx *domain.Transaction) {
	s.seq++
	row := &domain.StoredTransaction{
		RowID:       uuid.NewString(),
		Seq:         s.seq,
		IngestedAt:  s.clock(),
		Transaction: *tx,
	}
	s.rows = append(s.rows, row)
	if key, ok := tx.Key(); ok {
		row.ExternalID = domain.String(key)
		s.byID[key] = row
	}
}

func (s *Store) updateLocked(key string, set *domain.Transaction) error {
	row, ok := s.byID[key]
	if !ok {
		return fmt.Errorf("%q: %w", key, store.ErrNoMatch)
	}
	row.Transaction = *row.Transaction.Overlay(set)
	row.ExternalID = domain.String(key)
	return nil
}

var _ store.TransactionStore = (*Store)(nil)
