package pipeline

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/dvloznov/finance-ledger/internal/apperrors"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/normalize"
	"github.com/dvloznov/finance-ledger/internal/reconcile"
	"github.com/dvloznov/finance-ledger/internal/staging"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/rs/zerolog"
)

// DefaultBatchSize bounds how many rows are reconciled and written at once.
const DefaultBatchSize = 1000

// CSVStore is what CSV ingestion needs from the transaction store.
type CSVStore interface {
	store.SnapshotLookup
	BulkWrite(ctx context.Context, ops []store.WriteOp) (store.BulkResult, error)
	ClearAll(ctx context.Context) (int64, error)
}

// CSVIngestor streams a ledger CSV export into the store one batch at a time.
type CSVIngestor struct {
	store     CSVStore
	engine    *reconcile.Engine
	gcs       *storage.Client
	appData   staging.Store
	batchSize int
	log       zerolog.Logger
	now       func() time.Time
}

func NewCSVIngestor(st CSVStore, engine *reconcile.Engine, log zerolog.Logger) *CSVIngestor {
	return &CSVIngestor{
		store:     st,
		engine:    engine,
		batchSize: DefaultBatchSize,
		log:       log,
		now:       time.Now,
	}
}

// WithStorage enables gs:// sources.
func (c *CSVIngestor) WithStorage(client *storage.Client) *CSVIngestor {
	c.gcs = client
	return c
}

// WithBatchSize overrides DefaultBatchSize. Non-positive values are ignored.
func (c *CSVIngestor) WithBatchSize(n int) *CSVIngestor {
	if n > 0 {
		c.batchSize = n
	}
	return c
}

// WithAppData records the completion time of each ingestion in stg.
func (c *CSVIngestor) WithAppData(stg staging.Store) *CSVIngestor {
	c.appData = stg
	return c
}

// IngestFromCSV ingests a local file or a gs://bucket/object URI.
func (c *CSVIngestor) IngestFromCSV(ctx context.Context, path string) (domain.IngestionReport, error) {
	src, err := staging.OpenSource(ctx, c.gcs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, storage.ErrObjectNotExist) {
			return domain.IngestionReport{}, apperrors.NewNotFoundError(fmt.Sprintf("CSV source %s not found", path))
		}
		return domain.IngestionReport{}, fmt.Errorf("IngestFromCSV: %w", err)
	}
	defer src.Close()

	c.log.Info().Str("source", path).Int("batch_size", c.batchSize).Msg("Starting CSV ingestion")
	return c.IngestFromReader(ctx, src)
}

// IngestFromReader ingests CSV data from r. Each physical line is parsed on
// its own, so a stray quote spoils only its line. Batches are processed
// strictly in order; a batch that cannot be reconciled is counted as failed
// and the rest of the file still runs.
func (c *CSVIngestor) IngestFromReader(ctx context.Context, r io.Reader) (domain.IngestionReport, error) {
	reader := bufio.NewReader(r)

	var (
		report domain.IngestionReport
		header []string
		batch  = make([]*domain.Transaction, 0, c.batchSize)
		batchN int
		lineN  int
	)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		batchN++
		report.Add(c.writeBatch(ctx, batchN, batch))
		batch = make([]*domain.Transaction, 0, c.batchSize)
	}

	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		line, readErr := reader.ReadString('\n')
		if readErr != nil && readErr != io.EOF {
			return report, apperrors.NewParseError("reading CSV", readErr)
		}
		if line == "" && readErr == io.EOF {
			break
		}
		lineN++

		record, err := parseLine(line)
		if err != nil {
			report.MalformedCount++
			c.log.Debug().Err(err).Int("line", lineN).Msg("Skipping unparsable CSV row")
			continue
		}
		if blankRecord(record) {
			continue
		}

		if header == nil {
			header = make([]string, len(record))
			for i, h := range record {
				header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
			}
			continue
		}
		if len(record) < len(header) {
			report.MalformedCount++
			continue
		}

		row := make(map[string]string, len(header))
		for i, h := range header {
			row[h] = strings.TrimSpace(record[i])
		}
		tx := normalize.FromCSVRow(row)
		if tx == nil {
			report.MalformedCount++
			continue
		}

		batch = append(batch, tx)
		if len(batch) >= c.batchSize {
			flush()
		}
	}
	flush()

	if header == nil {
		return report, apperrors.NewParseError("CSV has no header row", nil)
	}

	c.log.Info().
		Int("inserted", report.InsertedCount).
		Int("updated", report.UpdatedCount).
		Int("skipped", report.SkippedCount).
		Int("failed", report.FailedCount).
		Int("malformed", report.MalformedCount).
		Int("total", report.Total).
		Msg("CSV ingestion finished")

	if c.appData != nil {
		finished := c.now().UTC()
		if err := updateAppData(ctx, c.appData, func(a *AppData) { a.LastIngest = &finished }); err != nil {
			c.log.Warn().Err(err).Msg("Failed to record ingest time")
		}
	}
	return report, nil
}

// writeBatch reconciles one batch and persists its write plan. Errors are
// logged and counted; they never stop the ingestion.
func (c *CSVIngestor) writeBatch(ctx context.Context, n int, batch []*domain.Transaction) domain.IngestionReport {
	rep := domain.IngestionReport{Total: len(batch)}
	log := c.log.With().Int("batch", n).Int("size", len(batch)).Logger()

	plan, err := c.engine.Reconcile(ctx, batch, c.store)
	if err != nil {
		log.Error().Err(err).Msg("Batch reconciliation failed")
		rep.FailedCount = len(batch)
		return rep
	}
	rep.SkippedCount = plan.Skipped

	ops := plan.Writes()
	if len(ops) == 0 {
		return rep
	}
	res, err := c.store.BulkWrite(ctx, ops)
	if err != nil {
		log.Error().Err(err).Int("ops", len(ops)).Msg("Bulk write failed")
		rep.FailedCount = len(ops)
		return rep
	}
	rep.InsertedCount = res.Inserted
	rep.UpdatedCount = res.Updated
	rep.FailedCount = res.Failed
	for _, werr := range res.Errors {
		log.Warn().Err(werr).Msg("Write rejected")
	}
	log.Debug().
		Int("inserted", res.Inserted).
		Int("updated", res.Updated).
		Int("skipped", plan.Skipped).
		Msg("Batch written")
	return rep
}

// ClearAll removes every stored transaction. Ingestion never calls it.
func (c *CSVIngestor) ClearAll(ctx context.Context) (int64, error) {
	n, err := c.store.ClearAll(ctx)
	if err != nil {
		return 0, apperrors.NewPersistenceError("clearing transactions", err)
	}
	c.log.Warn().Int64("deleted", n).Msg("Cleared all transactions")
	return n, nil
}

// parseLine splits one physical line into fields. Quotes are lenient and an
// unterminated quote runs to the end of the line only.
func parseLine(line string) ([]string, error) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return nil, nil
	}
	reader := csv.NewReader(strings.NewReader(line))
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	record, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	return record, err
}

func blankRecord(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
