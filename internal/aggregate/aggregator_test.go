package aggregate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/finance-ledger/internal/apperrors"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/store/inmemory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

func seed(t *testing.T, txs ...*domain.Transaction) *inmemory.Store {
	t.Helper()
	s := inmemory.NewStore()
	_, err := s.InsertMany(context.Background(), txs)
	require.NoError(t, err)
	return s
}

func TestAccountBalanceAsOf(t *testing.T) {
	s := seed(t,
		&domain.Transaction{Account: domain.String("Checking"), Date: domain.Time(date("2025-01-01")), ClosingBalance: domain.Decimal(decimal.NewFromInt(100)), Currency: domain.String(" eur ")},
		&domain.Transaction{Account: domain.String("Checking"), Date: domain.Time(date("2025-02-01")), ClosingBalance: domain.Decimal(decimal.NewFromInt(150))},
	)
	agg := New(s, "USD")
	ctx := context.Background()

	bal, err := agg.AccountBalanceAsOf(ctx, "Checking", date("2025-01-15"))
	require.NoError(t, err)
	assert.True(t, bal.Found)
	assert.Equal(t, "100", bal.RawBalance.String())
	assert.Equal(t, "EUR", bal.Currency)

	bal, err = agg.AccountBalanceAsOf(ctx, "Checking", date("2025-02-01"))
	require.NoError(t, err)
	assert.Equal(t, "150", bal.RawBalance.String())
	assert.Equal(t, "USD", bal.Currency, "missing currency defaults to base")

	bal, err = agg.AccountBalanceAsOf(ctx, "Checking", date("2024-06-01"))
	require.NoError(t, err)
	assert.False(t, bal.Found)
	assert.True(t, bal.RawBalance.IsZero())
}

func TestAccountBalanceAsOfIncludesWholeDay(t *testing.T) {
	s := seed(t, &domain.Transaction{
		Account:        domain.String("Card"),
		Date:           domain.Time(date("2025-03-10").Add(15 * time.Hour)),
		ClosingBalance: domain.Decimal(decimal.NewFromInt(-20)),
	})

	bal, err := New(s, "USD").AccountBalanceAsOf(context.Background(), "Card", date("2025-03-10"))
	require.NoError(t, err)
	assert.True(t, bal.Found)
}

func TestAccountBalanceAsOfValidation(t *testing.T) {
	agg := New(inmemory.NewStore(), "USD")

	_, err := agg.AccountBalanceAsOf(context.Background(), " ", date("2025-01-01"))
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	_, err = agg.AccountBalanceAsOf(context.Background(), "Checking", time.Time{})
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}

func TestCategoryRangeSum(t *testing.T) {
	s := seed(t,
		&domain.Transaction{Category: domain.String("Food"), Date: domain.Time(date("2025-01-31").Add(20 * time.Hour)), Amount: domain.Decimal(decimal.NewFromInt(-7))},
		&domain.Transaction{Category: domain.String("Food"), Date: domain.Time(date("2025-01-01")), BaseAmount: domain.Decimal(decimal.NewFromInt(-3)), Amount: domain.Decimal(decimal.NewFromInt(-99))},
	)
	agg := New(s, "USD")

	sum, err := agg.CategoryRangeSum(context.Background(), "Food", date("2025-01-01"), date("2025-01-31"))
	require.NoError(t, err)
	assert.Equal(t, "-10", sum.String())

	_, err = agg.CategoryRangeSum(context.Background(), "Food", date("2025-02-01"), date("2025-01-01"))
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}
