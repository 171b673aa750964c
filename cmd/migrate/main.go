package main

import (
	"context"
	"flag"
	"io/fs"
	"os"
	"time"

	"cloud.google.com/go/bigquery"
	infraBQ "github.com/dvloznov/finance-ledger/internal/infra/bigquery"
	"github.com/dvloznov/finance-ledger/internal/logger"
)

func main() {
	var (
		projectID = flag.String("project", os.Getenv("GCP_PROJECT_ID"), "GCP project ID (or set GCP_PROJECT_ID env)")
		datasetID = flag.String("dataset", envOr("BQ_DATASET", "finance"), "BigQuery dataset ID")
		tableID   = flag.String("table", envOr("BQ_TRANSACTIONS_TABLE", "ledger_transactions"), "Transactions table ID")
		appliedBy = flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
		dir       = flag.String("migrations", "", "Directory of migration files (defaults to the bundled set)")
		dryRun    = flag.Bool("dry-run", false, "List pending migrations without applying them")
	)
	flag.Parse()

	log := logger.New()

	if *projectID == "" {
		log.Fatal().Msg("Error: -project flag is required. Please specify your GCP project ID.")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	ref := infraBQ.TableRef{ProjectID: *projectID, DatasetID: *datasetID, TableID: *tableID}

	var source fs.FS = infraBQ.BundledMigrations()
	if *dir != "" {
		source = os.DirFS(*dir)
	}
	migrations, err := infraBQ.ParseMigrations(source, ref)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read migrations")
	}
	log.Info().Int("count", len(migrations)).Msg("Found migration files")

	client, err := bigquery.NewClient(ctx, *projectID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery client")
	}
	defer client.Close()

	log.Info().Str("project", *projectID).Str("dataset", *datasetID).Msg("Connected to BigQuery")

	done, err := infraBQ.NewMigrator(client, ref, *appliedBy, log).Apply(ctx, migrations, *dryRun)
	if err != nil {
		log.Error().Err(err).Int("applied", len(done)).Msg("Migration failed")
		client.Close()
		os.Exit(1)
	}

	switch {
	case *dryRun:
		log.Info().Int("pending", len(done)).Msg("Dry run complete")
	case len(done) == 0:
		log.Info().Msg("No new migrations to apply. Database is up to date.")
	default:
		log.Info().Int("applied", len(done)).Msg("Successfully applied migrations")
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
