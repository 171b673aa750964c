// Package app wires the configured store, staging area, ledger client and
// report builders for the API server and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"cloud.google.com/go/storage"
	"github.com/dvloznov/finance-ledger/internal/aggregate"
	"github.com/dvloznov/finance-ledger/internal/coa"
	"github.com/dvloznov/finance-ledger/internal/config"
	"github.com/dvloznov/finance-ledger/internal/fx"
	infraBQ "github.com/dvloznov/finance-ledger/internal/infra/bigquery"
	"github.com/dvloznov/finance-ledger/internal/ledger"
	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/dvloznov/finance-ledger/internal/pipeline"
	"github.com/dvloznov/finance-ledger/internal/reconcile"
	"github.com/dvloznov/finance-ledger/internal/report"
	"github.com/dvloznov/finance-ledger/internal/staging"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/dvloznov/finance-ledger/internal/store/inmemory"
	"github.com/rs/zerolog"
)

// App holds the long-lived dependencies.
type App struct {
	Config  *config.Config
	Store   store.TransactionStore
	Staging staging.Store
	GCS     *storage.Client

	// BigQuery is set for the bigquery backend only.
	BigQuery *infraBQ.BigQueryTransactionStore

	CSV *pipeline.CSVIngestor
	// Ledger and Refresher are nil when ledger credentials are not
	// configured.
	Ledger    *ledger.Client
	Refresher *pipeline.Refresher
	Analyzer  *coa.Analyzer
	Rates     *fx.Converter

	log zerolog.Logger
}

// New builds the application from cfg.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, log: log}

	switch cfg.StoreBackend {
	case config.BackendBigQuery:
		bq, err := infraBQ.NewBigQueryTransactionStore(ctx, infraBQ.TableRef{
			ProjectID: cfg.ProjectID,
			DatasetID: cfg.DatasetID,
			TableID:   cfg.TransactionsTable,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("app.New: %w", err)
		}
		a.BigQuery = bq
		a.Store = bq
	default:
		log.Warn().Msg("Using in-memory transaction store; data is lost on exit")
		a.Store = inmemory.NewStore()
	}

	gcs, err := storage.NewClient(ctx)
	if err != nil {
		if cfg.StagingBucket != "" {
			a.Close()
			return nil, fmt.Errorf("app.New: creating storage client: %w", err)
		}
		log.Warn().Err(err).Msg("Cloud Storage unavailable; gs:// sources are disabled")
	} else {
		a.GCS = gcs
	}

	if cfg.StagingBucket != "" {
		a.Staging = staging.NewGCSStore(a.GCS, cfg.StagingBucket, cfg.StagingPrefix)
	} else {
		fs, err := staging.NewFileStore(cfg.StagingDir)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app.New: %w", err)
		}
		a.Staging = fs
	}

	a.CSV = pipeline.NewCSVIngestor(a.Store, reconcile.NewEngine(log), logger.WithComponent(log, "csv")).
		WithStorage(a.GCS).
		WithBatchSize(cfg.BatchSize).
		WithAppData(a.Staging)

	if err := cfg.RequireLedger(); err != nil {
		log.Warn().Err(err).Msg("Ledger refresh disabled")
	} else {
		client, err := ledger.NewClient(ledger.Config{
			BaseURL:           cfg.LedgerBaseURL,
			APIKey:            cfg.LedgerAPIKey,
			UserID:            cfg.LedgerUserID,
			Timeout:           cfg.LedgerTimeout,
			RequestsPerSecond: cfg.LedgerRequestsPerSecond,
		}, logger.WithComponent(log, "ledger"))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app.New: %w", err)
		}
		a.Ledger = client
		a.Refresher = pipeline.NewRefresher(client, a.Store, a.Staging, pipeline.RefreshConfig{
			BaseCurrency:      cfg.BaseCurrency,
			ModifiedThreshold: cfg.ModifiedThreshold,
		}, logger.WithComponent(log, "refresh"))
	}

	a.Analyzer = coa.NewAnalyzer(a.Store, coa.Paths{
		Chart:      cfg.COAPath,
		Accounts:   cfg.AccountNamesPath,
		Categories: cfg.CategoryNamesPath,
	}, logger.WithComponent(log, "coa"))
	a.Rates = fx.NewConverter(fx.NewFrankfurter(cfg.FXBaseURL, cfg.FXTimeout), logger.WithComponent(log, "fx"))

	return a, nil
}

// Reports loads the chart and dictionaries and returns the report builders.
// A dictionary file that does not exist yet is skipped.
func (a *App) Reports() (*report.BalanceSheetBuilder, *report.CashFlowBuilder, error) {
	chart, err := coa.Load(a.Config.COAPath)
	if err != nil {
		return nil, nil, err
	}

	agg := aggregate.New(a.Store, a.Config.BaseCurrency)
	log := logger.WithComponent(a.log, "report")
	balance := report.NewBalanceSheetBuilder(chart, agg, a.Rates, a.Config.BaseCurrency, log)
	cashFlow := report.NewCashFlowBuilder(chart, agg, log)

	if d, ok := a.dictionary(a.Config.AccountNamesPath); ok {
		balance.WithDictionary(d)
	}
	if d, ok := a.dictionary(a.Config.CategoryNamesPath); ok {
		cashFlow.WithDictionary(d)
	}
	return balance, cashFlow, nil
}

func (a *App) dictionary(path string) (coa.Dictionary, bool) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		a.log.Debug().Str("path", path).Msg("Dictionary not generated yet")
		return nil, false
	}
	d, err := coa.LoadDictionary(path)
	if err != nil {
		a.log.Warn().Err(err).Str("path", path).Msg("Ignoring unreadable dictionary")
		return nil, false
	}
	return d, true
}

// Close releases the store and storage clients.
func (a *App) Close() {
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.log.Error().Err(err).Msg("Failed to close transaction store")
		}
	}
	if a.GCS != nil {
		if err := a.GCS.Close(); err != nil {
			a.log.Error().Err(err).Msg("Failed to close storage client")
		}
	}
}
