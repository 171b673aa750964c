package bigquery

import (
	"math/big"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

// numericScale is the fractional precision of a BigQuery NUMERIC.
const numericScale = 9

// TransactionRow is a canonical transaction as stored in BigQuery. Absent
// source fields are NULL.
type TransactionRow struct {
	RowID      string              `bigquery:"row_id"`      // REQUIRED
	ExternalID bigquery.NullString `bigquery:"external_id"` // NULLABLE

	TransactionDate bigquery.NullDate      `bigquery:"transaction_date"` // partition column
	TransactionTS   bigquery.NullTimestamp `bigquery:"transaction_ts"`

	Description1 bigquery.NullString `bigquery:"description_1"`
	Description2 bigquery.NullString `bigquery:"description_2"`

	Amount       *big.Rat            `bigquery:"amount,nullable"`
	Currency     bigquery.NullString `bigquery:"currency"`
	BaseAmount   *big.Rat            `bigquery:"base_amount,nullable"`
	BaseCurrency bigquery.NullString `bigquery:"base_currency"`

	TransactionType bigquery.NullString `bigquery:"transaction_type"`
	Account         bigquery.NullString `bigquery:"account"`
	ClosingBalance  *big.Rat            `bigquery:"closing_balance,nullable"`

	Category         bigquery.NullString `bigquery:"category"`
	ParentCategories bigquery.NullString `bigquery:"parent_categories"`
	Labels           bigquery.NullString `bigquery:"labels"`
	Memo             bigquery.NullString `bigquery:"memo"`
	Note             bigquery.NullString `bigquery:"note"`
	Bank             bigquery.NullString `bigquery:"bank"`

	IngestedTS time.Time              `bigquery:"ingested_ts"` // REQUIRED
	UpdatedTS  bigquery.NullTimestamp `bigquery:"updated_ts"`
	// IngestSeq orders rows inserted in the same batch. NULL on rows
	// written before the column existed.
	IngestSeq bigquery.NullInt64 `bigquery:"ingest_seq"`
}

// transactionColumns is the SELECT list matching TransactionRow.
const transactionColumns = `
	row_id, external_id, transaction_date, transaction_ts,
	description_1, description_2,
	amount, currency, base_amount, base_currency,
	transaction_type, account, closing_balance,
	category, parent_categories, labels, memo, note, bank,
	ingested_ts, updated_ts, ingest_seq`

// NewTransactionRow converts tx for insertion. The external id is stored
// trimmed. seq must increase with every row the process inserts.
func NewTransactionRow(rowID string, tx *domain.Transaction, ingested time.Time, seq int64) *TransactionRow {
	row := &TransactionRow{
		RowID:            rowID,
		Description1:     nullString(tx.Description1),
		Description2:     nullString(tx.Description2),
		Amount:           rat(tx.Amount),
		Currency:         nullString(tx.Currency),
		BaseAmount:       rat(tx.BaseAmount),
		BaseCurrency:     nullString(tx.BaseCurrency),
		TransactionType:  nullString(tx.TransactionType),
		Account:          nullString(tx.Account),
		ClosingBalance:   rat(tx.ClosingBalance),
		Category:         nullString(tx.Category),
		ParentCategories: nullString(tx.ParentCategories),
		Labels:           nullString(tx.Labels),
		Memo:             nullString(tx.Memo),
		Note:             nullString(tx.Note),
		Bank:             nullString(tx.Bank),
		IngestedTS:       ingested.UTC(),
		IngestSeq:        bigquery.NullInt64{Int64: seq, Valid: true},
	}
	if key, ok := tx.Key(); ok {
		row.ExternalID = bigquery.NullString{StringVal: key, Valid: true}
	}
	if tx.Date != nil {
		row.TransactionDate = bigquery.NullDate{Date: civil.DateOf(tx.Date.UTC()), Valid: true}
		row.TransactionTS = bigquery.NullTimestamp{Timestamp: tx.Date.UTC(), Valid: true}
	}
	return row
}

// ToStored converts a row read back from BigQuery.
func (r *TransactionRow) ToStored() *domain.StoredTransaction {
	st := &domain.StoredTransaction{
		RowID:      r.RowID,
		Seq:        r.seq(),
		IngestedAt: r.IngestedTS,
		Transaction: domain.Transaction{
			ExternalID:       stringPtr(r.ExternalID),
			Description1:     stringPtr(r.Description1),
			Description2:     stringPtr(r.Description2),
			Amount:           decimalPtr(r.Amount),
			Currency:         stringPtr(r.Currency),
			BaseAmount:       decimalPtr(r.BaseAmount),
			BaseCurrency:     stringPtr(r.BaseCurrency),
			TransactionType:  stringPtr(r.TransactionType),
			Account:          stringPtr(r.Account),
			ClosingBalance:   decimalPtr(r.ClosingBalance),
			Category:         stringPtr(r.Category),
			ParentCategories: stringPtr(r.ParentCategories),
			Labels:           stringPtr(r.Labels),
			Memo:             stringPtr(r.Memo),
			Note:             stringPtr(r.Note),
			Bank:             stringPtr(r.Bank),
		},
	}
	switch {
	case r.TransactionTS.Valid:
		st.Date = domain.Time(r.TransactionTS.Timestamp.UTC())
	case r.TransactionDate.Valid:
		st.Date = domain.Time(r.TransactionDate.Date.In(time.UTC))
	}
	return st
}

// orderBy is the ORDER BY list that puts the newest snapshot first. Rows
// without a sequence sort after those with one.
const orderBy = "transaction_ts DESC, ingest_seq DESC, ingested_ts DESC"

func (r *TransactionRow) seq() int64 {
	if r.IngestSeq.Valid {
		return r.IngestSeq.Int64
	}
	return r.IngestedTS.UnixNano()
}

func nullString(s *string) bigquery.NullString {
	if s == nil {
		return bigquery.NullString{}
	}
	return bigquery.NullString{StringVal: *s, Valid: true}
}

func stringPtr(s bigquery.NullString) *string {
	if !s.Valid {
		return nil
	}
	return domain.String(s.StringVal)
}

func rat(d *decimal.Decimal) *big.Rat {
	if d == nil {
		return nil
	}
	return d.Rat()
}

func decimalPtr(r *big.Rat) *decimal.Decimal {
	if r == nil {
		return nil
	}
	d, err := decimal.NewFromString(r.FloatString(numericScale))
	if err != nil {
		return nil
	}
	return domain.Decimal(d)
}

// numericParam passes a decimal as a string parameter; queries CAST it to
// NUMERIC so NULL survives.
func numericParam(d *decimal.Decimal) bigquery.NullString {
	if d == nil {
		return bigquery.NullString{}
	}
	return bigquery.NullString{StringVal: d.String(), Valid: true}
}

func timestampParam(t *time.Time) bigquery.NullTimestamp {
	if t == nil {
		return bigquery.NullTimestamp{}
	}
	return bigquery.NullTimestamp{Timestamp: t.UTC(), Valid: true}
}

func dateParam(t *time.Time) bigquery.NullDate {
	if t == nil {
		return bigquery.NullDate{}
	}
	return bigquery.NullDate{Date: civil.DateOf(t.UTC()), Valid: true}
}

// TableRef names the transactions table.
type TableRef struct {
	ProjectID string
	DatasetID string
	TableID   string
}

// String returns the backquoted fully qualified name used in SQL.
func (t TableRef) String() string {
	return "`" + strings.Join([]string{t.ProjectID, t.DatasetID, t.TableID}, ".") + "`"
}
