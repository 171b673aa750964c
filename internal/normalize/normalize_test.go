package normalize

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/ledger"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1,234.50", "1234.5"},
		{"-40", "-40"},
		{" 12 ", "12"},
		{"1 000", "1000"},
	}
	for _, tt := range tests {
		got := ParseNumber(tt.in)
		require.NotNil(t, got, tt.in)
		assert.Equal(t, tt.want, got.String())
	}

	assert.Nil(t, ParseNumber(""))
	assert.Nil(t, ParseNumber("n/a"))
	assert.Nil(t, ParseNumber("12abc"))
}

func TestParseDate(t *testing.T) {
	want := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{"2025-01-15", "01/15/2025", "15 Jan 2025", "2025-01-15T00:00:00Z"} {
		got := ParseDate(in)
		require.NotNil(t, got, in)
		assert.True(t, got.Equal(want), in)
	}
	assert.Nil(t, ParseDate("yesterday"))
	assert.Nil(t, ParseDate(""))
}

func TestFromCSVRow(t *testing.T) {
	row := map[string]string{
		"Date":                    "2025-01-15",
		"Merchant":                "Coffee Shop",
		"Amount":                  "-4.50",
		"Amount in base currency": "oops",
		"Account":                 " Checking ",
		"ID":                      "123",
		"Memo":                    "",
	}

	tx := FromCSVRow(row)
	require.NotNil(t, tx)
	assert.Equal(t, "Coffee Shop", *tx.Description1)
	assert.Equal(t, "-4.5", tx.Amount.String())
	assert.Nil(t, tx.BaseAmount, "unparsable number stays absent")
	assert.Nil(t, tx.Memo, "empty cell stays absent")
	assert.Equal(t, "Checking", *tx.Account)
	assert.Equal(t, "123", *tx.ExternalID)
}

func TestFromCSVRowEmpty(t *testing.T) {
	assert.Nil(t, FromCSVRow(map[string]string{"Date": "not a date", "Memo": " "}))
	assert.Nil(t, FromCSVRow(map[string]string{"Unknown": "x"}))
}

func TestFromLedger(t *testing.T) {
	raw := `{
		"id": 991,
		"payee": "Landlord",
		"original_payee": "",
		"date": "2025-02-01",
		"amount": -1200,
		"amount_in_base_currency": -1300.25,
		"type": "debit",
		"closing_balance": 5400.10,
		"labels": ["rent", "home"],
		"memo": null,
		"category": {"id": 5, "title": "Rent", "parent_id": 17},
		"transaction_account": {"name": "Checking", "currency_code": "eur", "institution": {"title": "Bank A"}}
	}`
	var lt ledger.Transaction
	require.NoError(t, json.Unmarshal([]byte(raw), &lt))

	tx := FromLedger(lt, "USD")
	assert.Equal(t, "991", *tx.ExternalID)
	assert.Equal(t, "Landlord", *tx.Description1)
	assert.Nil(t, tx.Description2)
	assert.Nil(t, tx.Memo)
	assert.Equal(t, "EUR", *tx.Currency)
	assert.Equal(t, "USD", *tx.BaseCurrency)
	assert.Equal(t, "-1300.25", tx.BaseAmount.String())
	assert.Equal(t, "rent,home", *tx.Labels)
	assert.Equal(t, "17", *tx.ParentCategories)
	assert.Equal(t, "Rent", *tx.Category)
	assert.Equal(t, "Checking", *tx.Account)
	assert.Equal(t, "Bank A", *tx.Bank)
	assert.True(t, tx.Date.Equal(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)))
}

type fakeLookup struct {
	titles map[string]string
	calls  map[string]int
}

func (f *fakeLookup) CategoryTitle(_ context.Context, id string) (string, error) {
	f.calls[id]++
	title, ok := f.titles[id]
	if !ok {
		return "", errors.New("not found")
	}
	return title, nil
}

func TestCategoryTitlesResolve(t *testing.T) {
	lookup := &fakeLookup{titles: map[string]string{"17": "Housing"}, calls: map[string]int{}}
	records := []*domain.Transaction{
		{ParentCategories: domain.String("17")},
		{ParentCategories: domain.String("17")},
		{ParentCategories: domain.String("99")},
		{ParentCategories: domain.String("Food")},
		{ParentCategories: domain.String("NaN")},
		{},
	}

	NewCategoryTitles(lookup, zerolog.Nop()).Resolve(context.Background(), records)

	assert.Equal(t, "Housing", *records[0].ParentCategories)
	assert.Equal(t, "Housing", *records[1].ParentCategories)
	assert.Equal(t, "99", *records[2].ParentCategories, "failed lookup keeps the id")
	assert.Equal(t, "Food", *records[3].ParentCategories)
	assert.Equal(t, "NaN", *records[4].ParentCategories, "non-finite ids are not looked up")
	assert.Equal(t, map[string]int{"17": 1, "99": 1}, lookup.calls)
}
