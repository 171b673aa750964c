package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
)

// ClearAllWithClient deletes every row of the transactions table and returns
// how many were removed.
func ClearAllWithClient(ctx context.Context, client *bigquery.Client, ref TableRef) (int64, error) {
	q := client.Query(fmt.Sprintf(`DELETE FROM %s WHERE TRUE`, ref))

	n, err := runDML(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("ClearAll: %w", err)
	}
	return n, nil
}

// runDML runs a statement to completion and returns the affected row count.
func runDML(ctx context.Context, q *bigquery.Query) (int64, error) {
	job, err := q.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("run query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("wait for job: %w", err)
	}

	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("job error: %w", err)
	}

	if status.Statistics != nil {
		if qs, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
			return qs.NumDMLAffectedRows, nil
		}
	}
	return 0, nil
}
