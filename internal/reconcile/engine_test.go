package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/dvloznov/finance-ledger/internal/store/inmemory"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingLookup wraps a lookup and records every call.
type countingLookup struct {
	inner store.SnapshotLookup
	calls [][]string
	err   error
}

func (c *countingLookup) FindByExternalIDs(ctx context.Context, ids []string) (map[string]*domain.StoredTransaction, error) {
	c.calls = append(c.calls, ids)
	if c.err != nil {
		return nil, c.err
	}
	return c.inner.FindByExternalIDs(ctx, ids)
}

func tx(id string, amount int64) *domain.Transaction {
	t := &domain.Transaction{Amount: domain.Decimal(decimal.NewFromInt(amount))}
	if id != "" {
		t.ExternalID = domain.String(id)
	}
	return t
}

func seeded(t *testing.T, txs ...*domain.Transaction) *inmemory.Store {
	t.Helper()
	s := inmemory.NewStore()
	_, err := s.InsertMany(context.Background(), txs)
	require.NoError(t, err)
	return s
}

func TestReconcileClassification(t *testing.T) {
	s := seeded(t, tx("5", 10))
	lookup := &countingLookup{inner: s}
	engine := NewEngine(zerolog.Nop())

	plan, err := engine.Reconcile(context.Background(), []*domain.Transaction{
		tx("5", 12),
		tx("6", 1),
		tx("", 3),
	}, lookup)
	require.NoError(t, err)

	require.Len(t, plan.Decisions, 3)
	assert.Equal(t, ActionUpdate, plan.Decisions[0].Action)
	assert.NotNil(t, plan.Decisions[0].Existing)
	assert.Equal(t, ActionInsert, plan.Decisions[1].Action)
	assert.Equal(t, ActionInsert, plan.Decisions[2].Action, "no id means unconditional insert")
	assert.Equal(t, 2, plan.Inserted)
	assert.Equal(t, 1, plan.Updated)

	require.Len(t, lookup.calls, 1, "one lookup per batch")
	assert.ElementsMatch(t, []string{"5", "6"}, lookup.calls[0])
}

func TestReconcileIdenticalIsSkip(t *testing.T) {
	s := seeded(t, tx("5", 10))
	plan, err := NewEngine(zerolog.Nop()).Reconcile(context.Background(), []*domain.Transaction{tx("5", 10)}, s)
	require.NoError(t, err)

	assert.Equal(t, 1, plan.Skipped)
	assert.Empty(t, plan.Writes())
}

func TestReconcileDuplicateInBatchInsert(t *testing.T) {
	s := inmemory.NewStore()
	plan, err := NewEngine(zerolog.Nop()).Reconcile(context.Background(), []*domain.Transaction{
		tx("7", 1),
		tx("7", 2),
	}, s)
	require.NoError(t, err)

	assert.Equal(t, 1, plan.Inserted)
	assert.Equal(t, 1, plan.Skipped)

	writes := plan.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, "2", writes[0].Doc.Amount.String(), "later record wins")

	_, err = s.BulkWrite(context.Background(), writes)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Count())
}

func TestReconcileDuplicateInBatchInsertReplacesPayload(t *testing.T) {
	first := tx("9", 1)
	first.Memo = domain.String("only on the first copy")
	plan, err := NewEngine(zerolog.Nop()).Reconcile(context.Background(), []*domain.Transaction{
		first,
		tx("9", 4),
	}, inmemory.NewStore())
	require.NoError(t, err)

	writes := plan.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, store.OpInsert, writes[0].Kind)
	assert.Equal(t, "4", writes[0].Doc.Amount.String())
	assert.Nil(t, writes[0].Doc.Memo)
}

func TestReconcileDuplicateInBatchUpdate(t *testing.T) {
	s := seeded(t, tx("7", 1))
	batch := []*domain.Transaction{tx("7", 2), tx("7", 3), tx("7", 3)}
	batch[1].Memo = domain.String("second")

	plan, err := NewEngine(zerolog.Nop()).Reconcile(context.Background(), batch, s)
	require.NoError(t, err)

	assert.Equal(t, 1, plan.Updated)
	assert.Equal(t, 0, plan.Inserted)
	assert.Equal(t, 2, plan.Skipped)

	writes := plan.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, store.OpUpdate, writes[0].Kind)
	assert.Equal(t, "3", writes[0].Doc.Amount.String())
	assert.Equal(t, "second", *writes[0].Doc.Memo)

	_, err = s.BulkWrite(context.Background(), writes)
	require.NoError(t, err)
	got, _ := s.FindByExternalIDs(context.Background(), []string{"7"})
	assert.Equal(t, "3", got["7"].Amount.String())
	assert.Equal(t, 1, s.Count())
}

func TestReconcileRevertWithinBatchStillWritesOnce(t *testing.T) {
	s := seeded(t, tx("8", 1))
	plan, err := NewEngine(zerolog.Nop()).Reconcile(context.Background(), []*domain.Transaction{
		tx("8", 2),
		tx("8", 1),
	}, s)
	require.NoError(t, err)

	writes := plan.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, "1", writes[0].Doc.Amount.String(), "third view compares against the latest value")
}

func TestReconcileSkipsLookupWithoutIDs(t *testing.T) {
	lookup := &countingLookup{inner: inmemory.NewStore()}
	plan, err := NewEngine(zerolog.Nop()).Reconcile(context.Background(), []*domain.Transaction{tx("", 1), tx("  ", 2)}, lookup)
	require.NoError(t, err)

	assert.Equal(t, 2, plan.Inserted)
	assert.Empty(t, lookup.calls)
}

func TestReconcileLookupFailure(t *testing.T) {
	lookup := &countingLookup{err: errors.New("store unavailable")}
	_, err := NewEngine(zerolog.Nop()).Reconcile(context.Background(), []*domain.Transaction{tx("1", 1)}, lookup)
	assert.Error(t, err)
}
