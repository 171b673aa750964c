package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
)

// EnsureSchemaWithClient creates the dataset and the transactions table when
// they do not exist. The table is partitioned by transaction date and
// clustered on the columns the report queries filter by.
func EnsureSchemaWithClient(ctx context.Context, client *bigquery.Client, ref TableRef) error {
	dataset := fmt.Sprintf("`%s.%s`", ref.ProjectID, ref.DatasetID)
	if _, err := runDML(ctx, client.Query(`CREATE SCHEMA IF NOT EXISTS `+dataset)); err != nil {
		return fmt.Errorf("EnsureSchema: creating dataset: %w", err)
	}

	sql := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			row_id            STRING NOT NULL,
			external_id       STRING,
			transaction_date  DATE,
			transaction_ts    TIMESTAMP,
			description_1     STRING,
			description_2     STRING,
			amount            NUMERIC,
			currency          STRING,
			base_amount       NUMERIC,
			base_currency     STRING,
			transaction_type  STRING,
			account           STRING,
			closing_balance   NUMERIC,
			category          STRING,
			parent_categories STRING,
			labels            STRING,
			memo              STRING,
			note              STRING,
			bank              STRING,
			ingested_ts       TIMESTAMP NOT NULL,
			updated_ts        TIMESTAMP,
			ingest_seq        INT64
		)
		PARTITION BY transaction_date
		CLUSTER BY account, category, external_id
	`, ref)

	if _, err := runDML(ctx, client.Query(sql)); err != nil {
		return fmt.Errorf("EnsureSchema: creating table: %w", err)
	}
	return nil
}
