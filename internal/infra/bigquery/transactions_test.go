package bigquery

import (
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionRowPreservesAbsentFields(t *testing.T) {
	date := time.Date(2025, 3, 10, 15, 30, 0, 0, time.UTC)
	tx := &domain.Transaction{
		ExternalID: domain.String(" 42 "),
		Date:       domain.Time(date),
		Amount:     domain.Decimal(decimal.RequireFromString("-12.34")),
		Account:    domain.String("Checking"),
	}
	ingested := time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)

	row := NewTransactionRow("row-1", tx, ingested, 7)
	assert.Equal(t, "42", row.ExternalID.StringVal)
	assert.Equal(t, bigquery.NullInt64{Int64: 7, Valid: true}, row.IngestSeq)
	assert.Equal(t, "2025-03-10", row.TransactionDate.Date.String())
	assert.False(t, row.Category.Valid)
	assert.Nil(t, row.ClosingBalance)

	st := row.ToStored()
	assert.Equal(t, "row-1", st.RowID)
	assert.Equal(t, ingested, st.IngestedAt)
	assert.Equal(t, int64(7), st.Seq)
	require.NotNil(t, st.Date)
	assert.True(t, st.Date.Equal(date))
	assert.Equal(t, "-12.34", st.Amount.String())
	assert.Nil(t, st.Category)
	assert.Nil(t, st.BaseAmount)
	assert.False(t, tx.DiffersFrom(&st.Transaction), "a round trip must not look like a change")
}

func TestSameBatchRowsKeepInsertionOrder(t *testing.T) {
	s := &BigQueryTransactionStore{}
	now := time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	first := NewTransactionRow("a", &domain.Transaction{
		Account:        domain.String("Checking"),
		Date:           domain.Time(day),
		ClosingBalance: domain.Decimal(decimal.NewFromInt(100)),
	}, now, s.nextSeq(now))
	second := NewTransactionRow("b", &domain.Transaction{
		Account:        domain.String("Checking"),
		Date:           domain.Time(day),
		ClosingBalance: domain.Decimal(decimal.NewFromInt(110)),
	}, now, s.nextSeq(now))

	assert.Equal(t, first.IngestedTS, second.IngestedTS)
	assert.Greater(t, second.ToStored().Seq, first.ToStored().Seq)
}

func TestNextSeqIsMonotonic(t *testing.T) {
	s := &BigQueryTransactionStore{}
	later := time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)
	earlier := later.Add(-time.Hour)

	a := s.nextSeq(later)
	b := s.nextSeq(later)
	c := s.nextSeq(earlier)
	assert.Equal(t, later.UnixNano(), a)
	assert.Equal(t, a+1, b)
	assert.Equal(t, b+1, c)
}

func TestToStoredSeqFallsBackToIngestedTS(t *testing.T) {
	ingested := time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)
	row := &TransactionRow{RowID: "legacy", IngestedTS: ingested}
	assert.Equal(t, ingested.UnixNano(), row.ToStored().Seq)
}

func TestOrderByBreaksTiesOnSequence(t *testing.T) {
	assert.Equal(t, "transaction_ts DESC, ingest_seq DESC, ingested_ts DESC", orderBy)
}

func TestToStoredFallsBackToDate(t *testing.T) {
	row := &TransactionRow{RowID: "r"}
	row.TransactionDate.Valid = true
	row.TransactionDate.Date.Year, row.TransactionDate.Date.Month, row.TransactionDate.Date.Day = 2025, 1, 2

	st := row.ToStored()
	require.NotNil(t, st.Date)
	assert.Equal(t, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), *st.Date)
}

func TestColumnParams(t *testing.T) {
	params := columnParams(&domain.Transaction{Amount: domain.Decimal(decimal.NewFromInt(5))})

	byColumn := map[string]columnParam{}
	for _, p := range params {
		byColumn[p.column] = p
	}
	assert.Equal(t, "CAST(@amount AS NUMERIC)", byColumn["amount"].expr())
	assert.Equal(t, "@memo", byColumn["memo"].expr())
	assert.Equal(t, bigquery.NullString{StringVal: "5", Valid: true}, byColumn["amount"].value)
	assert.Equal(t, bigquery.NullString{}, byColumn["memo"].value)
	assert.NotContains(t, byColumn, "external_id")
}

func TestInferSchemaMatchesColumns(t *testing.T) {
	schema, err := bigquery.InferSchema(TransactionRow{})
	require.NoError(t, err)

	var names []string
	for _, f := range schema {
		names = append(names, f.Name)
	}
	for _, col := range strings.Split(transactionColumns, ",") {
		assert.Contains(t, names, strings.TrimSpace(col))
	}
}

func TestTableRefString(t *testing.T) {
	ref := TableRef{ProjectID: "p", DatasetID: "finance", TableID: "transactions"}
	assert.Equal(t, "`p.finance.transactions`", ref.String())
}
