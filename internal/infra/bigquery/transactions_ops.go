package bigquery

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"
)

// InsertTransactionsWithClient streams rows into the table. Row ids are used
// as insert ids so a retried batch does not duplicate. It returns the number
// of rows BigQuery rejected; a whole-request failure rejects every row.
func InsertTransactionsWithClient(ctx context.Context, client *bigquery.Client, ref TableRef, rows []*TransactionRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	schema, err := bigquery.InferSchema(TransactionRow{})
	if err != nil {
		return len(rows), fmt.Errorf("InsertTransactions: inferring schema: %w", err)
	}
	savers := make([]*bigquery.StructSaver, 0, len(rows))
	for _, r := range rows {
		savers = append(savers, &bigquery.StructSaver{Struct: r, Schema: schema, InsertID: r.RowID})
	}

	inserter := client.DatasetInProject(ref.ProjectID, ref.DatasetID).Table(ref.TableID).Inserter()
	if err := inserter.Put(ctx, savers); err != nil {
		var multi bigquery.PutMultiError
		if errors.As(err, &multi) {
			return len(multi), fmt.Errorf("InsertTransactions: %d rows rejected: %w", len(multi), err)
		}
		return len(rows), fmt.Errorf("InsertTransactions: inserting rows: %w", err)
	}
	return 0, nil
}

// FindByExternalIDsWithClient returns the newest row for each requested
// external id in one query.
func FindByExternalIDsWithClient(ctx context.Context, client *bigquery.Client, ref TableRef, ids []string) (map[string]*domain.StoredTransaction, error) {
	out := make(map[string]*domain.StoredTransaction, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	q := client.Query(fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE external_id IN UNNEST(@ids)
		QUALIFY ROW_NUMBER() OVER (PARTITION BY external_id ORDER BY ingest_seq DESC, ingested_ts DESC) = 1
	`, transactionColumns, ref))
	q.Parameters = []bigquery.QueryParameter{{Name: "ids", Value: ids}}

	rows, err := readRows(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("FindByExternalIDs: %w", err)
	}
	for _, r := range rows {
		st := r.ToStored()
		if key, ok := st.Key(); ok {
			out[key] = st
		}
	}
	return out, nil
}

// ExistingExternalIDsWithClient reports which of ids are already stored.
func ExistingExternalIDsWithClient(ctx context.Context, client *bigquery.Client, ref TableRef, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	q := client.Query(fmt.Sprintf(`
		SELECT DISTINCT external_id AS value
		FROM %s
		WHERE external_id IN UNNEST(@ids)
	`, ref))
	q.Parameters = []bigquery.QueryParameter{{Name: "ids", Value: ids}}

	values, err := readStrings(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("ExistingExternalIDs: %w", err)
	}
	for _, v := range values {
		out[v] = true
	}
	return out, nil
}

// UpdateTransactionWithClient sets the present fields of set on the rows
// keyed by externalID and returns the number of rows changed.
func UpdateTransactionWithClient(ctx context.Context, client *bigquery.Client, ref TableRef, externalID string, set *domain.Transaction) (int64, error) {
	params := columnParams(set)

	assignments := make([]string, 0, len(params)+1)
	for _, p := range params {
		assignments = append(assignments, fmt.Sprintf("%s = COALESCE(%s, %s)", p.column, p.expr(), p.column))
	}
	assignments = append(assignments, "updated_ts = CURRENT_TIMESTAMP()")

	q := client.Query(fmt.Sprintf(`
		UPDATE %s
		SET %s
		WHERE external_id = @external_id
	`, ref, strings.Join(assignments, ",\n\t\t\t")))
	q.Parameters = append(queryParams(params), bigquery.QueryParameter{Name: "external_id", Value: externalID})

	n, err := runDML(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("UpdateTransaction: %w", err)
	}
	return n, nil
}

// UpsertTransactionWithClient merges tx into the row with the same external
// id, inserting a new row under rowID and seq when there is none.
func UpsertTransactionWithClient(ctx context.Context, client *bigquery.Client, ref TableRef, rowID, externalID string, seq int64, tx *domain.Transaction) error {
	params := columnParams(tx)

	assignments := make([]string, 0, len(params)+1)
	columns := make([]string, 0, len(params))
	values := make([]string, 0, len(params))
	for _, p := range params {
		assignments = append(assignments, fmt.Sprintf("%s = COALESCE(%s, t.%s)", p.column, p.expr(), p.column))
		columns = append(columns, p.column)
		values = append(values, p.expr())
	}
	assignments = append(assignments, "updated_ts = CURRENT_TIMESTAMP()")

	q := client.Query(fmt.Sprintf(`
		MERGE %s AS t
		USING (SELECT @external_id AS external_id) AS s
		ON t.external_id = s.external_id
		WHEN MATCHED THEN
			UPDATE SET %s
		WHEN NOT MATCHED THEN
			INSERT (row_id, external_id, %s, ingested_ts, ingest_seq)
			VALUES (@row_id, @external_id, %s, CURRENT_TIMESTAMP(), @ingest_seq)
	`, ref, strings.Join(assignments, ", "), strings.Join(columns, ", "), strings.Join(values, ", ")))
	q.Parameters = append(queryParams(params),
		bigquery.QueryParameter{Name: "external_id", Value: externalID},
		bigquery.QueryParameter{Name: "row_id", Value: rowID},
		bigquery.QueryParameter{Name: "ingest_seq", Value: seq},
	)

	if _, err := runDML(ctx, q); err != nil {
		return fmt.Errorf("UpsertTransaction: %w", err)
	}
	return nil
}

// LatestForAccountWithClient returns the newest row for account dated on or
// before asOf, or nil.
func LatestForAccountWithClient(ctx context.Context, client *bigquery.Client, ref TableRef, account string, asOf time.Time) (*domain.StoredTransaction, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE account = @account
		  AND transaction_ts <= @as_of
		ORDER BY %s
		LIMIT 1
	`, transactionColumns, ref, orderBy))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "account", Value: account},
		{Name: "as_of", Value: asOf.UTC()},
	}

	rows, err := readRows(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("LatestForAccount: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].ToStored(), nil
}

// CategoryRangeSumWithClient sums base_amount, falling back to amount, for
// category over [from, to].
func CategoryRangeSumWithClient(ctx context.Context, client *bigquery.Client, ref TableRef, category string, from, to time.Time) (decimal.Decimal, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT COALESCE(SUM(COALESCE(base_amount, amount)), 0) AS total
		FROM %s
		WHERE category = @category
		  AND transaction_ts >= @from_ts
		  AND transaction_ts <= @to_ts
	`, ref))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "category", Value: category},
		{Name: "from_ts", Value: from.UTC()},
		{Name: "to_ts", Value: to.UTC()},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("CategoryRangeSum: query read: %w", err)
	}
	var row struct {
		Total *big.Rat `bigquery:"total"`
	}
	if err := it.Next(&row); err != nil {
		if err == iterator.Done {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("CategoryRangeSum: iter next: %w", err)
	}
	if sum := decimalPtr(row.Total); sum != nil {
		return *sum, nil
	}
	return decimal.Zero, nil
}

// Columns DistinctValuesWithClient may be asked for.
const (
	ColumnAccount  = "account"
	ColumnCategory = "category"
)

// DistinctValuesWithClient returns the sorted distinct non-blank values of a
// string column.
func DistinctValuesWithClient(ctx context.Context, client *bigquery.Client, ref TableRef, column string) ([]string, error) {
	if column != ColumnAccount && column != ColumnCategory {
		return nil, fmt.Errorf("DistinctValues: unsupported column %q", column)
	}

	q := client.Query(fmt.Sprintf(`
		SELECT DISTINCT %s AS value
		FROM %s
		WHERE %s IS NOT NULL AND %s != ''
		ORDER BY value
	`, column, ref, column, column))

	values, err := readStrings(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("DistinctValues: %w", err)
	}
	return values, nil
}

func readRows(ctx context.Context, q *bigquery.Query) ([]*TransactionRow, error) {
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("query read: %w", err)
	}

	var rows []*TransactionRow
	for {
		var r TransactionRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iter next: %w", err)
		}
		rows = append(rows, &r)
	}
	return rows, nil
}

func readStrings(ctx context.Context, q *bigquery.Query) ([]string, error) {
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("query read: %w", err)
	}

	var values []string
	for {
		var row struct {
			Value bigquery.NullString `bigquery:"value"`
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iter next: %w", err)
		}
		if row.Value.Valid {
			values = append(values, row.Value.StringVal)
		}
	}
	return values, nil
}

// columnParam binds one writable column to a query parameter of the same
// name.
type columnParam struct {
	column  string
	value   any
	numeric bool
}

func (p columnParam) expr() string {
	if p.numeric {
		return "CAST(@" + p.column + " AS NUMERIC)"
	}
	return "@" + p.column
}

// columnParams lists every writable column except the keys. Absent fields
// bind NULL.
func columnParams(tx *domain.Transaction) []columnParam {
	return []columnParam{
		{column: "transaction_date", value: dateParam(tx.Date)},
		{column: "transaction_ts", value: timestampParam(tx.Date)},
		{column: "description_1", value: nullString(tx.Description1)},
		{column: "description_2", value: nullString(tx.Description2)},
		{column: "amount", value: numericParam(tx.Amount), numeric: true},
		{column: "currency", value: nullString(tx.Currency)},
		{column: "base_amount", value: numericParam(tx.BaseAmount), numeric: true},
		{column: "base_currency", value: nullString(tx.BaseCurrency)},
		{column: "transaction_type", value: nullString(tx.TransactionType)},
		{column: "account", value: nullString(tx.Account)},
		{column: "closing_balance", value: numericParam(tx.ClosingBalance), numeric: true},
		{column: "category", value: nullString(tx.Category)},
		{column: "parent_categories", value: nullString(tx.ParentCategories)},
		{column: "labels", value: nullString(tx.Labels)},
		{column: "memo", value: nullString(tx.Memo)},
		{column: "note", value: nullString(tx.Note)},
		{column: "bank", value: nullString(tx.Bank)},
	}
}

func queryParams(params []columnParam) []bigquery.QueryParameter {
	out := make([]bigquery.QueryParameter, 0, len(params)+2)
	for _, p := range params {
		out = append(out, bigquery.QueryParameter{Name: p.column, Value: p.value})
	}
	return out
}
