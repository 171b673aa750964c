// Package aggregate answers the read-only questions reports are built from:
// the as-of balance of an account and the sum of a category over a range.
package aggregate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/finance-ledger/internal/apperrors"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/shopspring/decimal"
)

// AccountBalance is the provider-reported closing balance of an account.
// Found is false when no row exists on or before the date; Currency and
// RawBalance then hold the base currency and zero.
type AccountBalance struct {
	Found      bool
	Currency   string
	RawBalance decimal.Decimal
	Date       time.Time
}

// Aggregator runs queries against the store. Computation happens in the
// store, never by loading every row.
type Aggregator struct {
	store        store.Aggregates
	baseCurrency string
}

func New(s store.Aggregates, baseCurrency string) *Aggregator {
	if baseCurrency == "" {
		baseCurrency = "USD"
	}
	return &Aggregator{store: s, baseCurrency: strings.ToUpper(baseCurrency)}
}

// BaseCurrency returns the currency report totals are expressed in.
func (a *Aggregator) BaseCurrency() string { return a.baseCurrency }

// AccountBalanceAsOf returns the closing balance of the newest row for
// account dated on or before asOf. A bare date includes the whole day.
func (a *Aggregator) AccountBalanceAsOf(ctx context.Context, account string, asOf time.Time) (AccountBalance, error) {
	if strings.TrimSpace(account) == "" {
		return AccountBalance{}, apperrors.NewValidationError("account is required")
	}
	if asOf.IsZero() {
		return AccountBalance{}, apperrors.NewValidationError("as-of date is required")
	}

	row, err := a.store.LatestForAccount(ctx, account, EndOfDay(asOf))
	if err != nil {
		return AccountBalance{}, apperrors.NewPersistenceError(
			fmt.Sprintf("loading balance for %q", account), err)
	}
	if row == nil {
		return AccountBalance{Currency: a.baseCurrency, RawBalance: decimal.Zero}, nil
	}

	bal := AccountBalance{Found: true, Currency: a.baseCurrency, RawBalance: decimal.Zero}
	if row.Currency != nil && strings.TrimSpace(*row.Currency) != "" {
		bal.Currency = strings.ToUpper(strings.TrimSpace(*row.Currency))
	}
	if row.ClosingBalance != nil {
		bal.RawBalance = *row.ClosingBalance
	}
	if row.Date != nil {
		bal.Date = *row.Date
	}
	return bal, nil
}

// CategoryRangeSum sums the base amount, falling back to the amount, of
// category over [from, to]. The to bound includes the whole day.
func (a *Aggregator) CategoryRangeSum(ctx context.Context, category string, from, to time.Time) (decimal.Decimal, error) {
	if strings.TrimSpace(category) == "" {
		return decimal.Zero, apperrors.NewValidationError("category is required")
	}
	if from.IsZero() || to.IsZero() {
		return decimal.Zero, apperrors.NewValidationError("from and to dates are required")
	}
	if from.After(to) {
		return decimal.Zero, apperrors.NewValidationError("from date must not be after to date")
	}

	sum, err := a.store.CategoryRangeSum(ctx, category, from, EndOfDay(to))
	if err != nil {
		return decimal.Zero, apperrors.NewPersistenceError(
			fmt.Sprintf("summing category %q", category), err)
	}
	return sum, nil
}

// EndOfDay moves a midnight timestamp to the last nanosecond of that day.
// Timestamps with a time component are returned unchanged.
func EndOfDay(t time.Time) time.Time {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Add(24*time.Hour - time.Nanosecond)
	}
	return t
}
