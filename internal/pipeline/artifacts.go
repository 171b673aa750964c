package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/finance-ledger/internal/ledger"
	"github.com/dvloznov/finance-ledger/internal/staging"
)

// Staged artifact names.
const (
	ArtifactAll           = "all"
	ArtifactNew           = "new"
	ArtifactExisting      = "existing"
	ArtifactModified      = "modified"
	ArtifactImportReport  = "import_report"
	ArtifactUpdateReport  = "update_report"
	ArtifactRefreshReport = "refresh_report"
	ArtifactAppData       = "appdata"
)

// TransactionArtifacts are the staged transaction lists, in stage order.
var TransactionArtifacts = []string{ArtifactAll, ArtifactNew, ArtifactExisting, ArtifactModified}

// AppData records when each ingestion path last completed.
type AppData struct {
	LastIngest  *time.Time `json:"lastIngest,omitempty"`
	LastRefresh *time.Time `json:"lastRefresh,omitempty"`
}

// LoadAppData returns the saved AppData, or a zero value when none was saved.
func LoadAppData(ctx context.Context, stg staging.Store) (AppData, error) {
	var app AppData
	if err := stg.Load(ctx, ArtifactAppData, &app); err != nil {
		if errors.Is(err, staging.ErrNotFound) {
			return AppData{}, nil
		}
		return AppData{}, fmt.Errorf("LoadAppData: %w", err)
	}
	return app, nil
}

// updateAppData loads, modifies and saves AppData.
func updateAppData(ctx context.Context, stg staging.Store, fn func(*AppData)) error {
	app, err := LoadAppData(ctx, stg)
	if err != nil {
		return err
	}
	fn(&app)
	if err := stg.Save(ctx, ArtifactAppData, app); err != nil {
		return fmt.Errorf("saving appdata: %w", err)
	}
	return nil
}

// ArtifactCounts returns the number of transactions in each staged list. A
// list that was never staged counts as 0.
func ArtifactCounts(ctx context.Context, stg staging.Store) (map[string]int, error) {
	counts := make(map[string]int, len(TransactionArtifacts))
	for _, name := range TransactionArtifacts {
		txs, err := loadTransactions(ctx, stg, name)
		if err != nil {
			if errors.Is(err, staging.ErrNotFound) {
				counts[name] = 0
				continue
			}
			return nil, fmt.Errorf("ArtifactCounts: %w", err)
		}
		counts[name] = len(txs)
	}
	return counts, nil
}

func loadTransactions(ctx context.Context, stg staging.Store, name string) ([]ledger.Transaction, error) {
	var txs []ledger.Transaction
	if err := stg.Load(ctx, name, &txs); err != nil {
		return nil, err
	}
	return txs, nil
}

func saveTransactions(ctx context.Context, stg staging.Store, name string, txs []ledger.Transaction) error {
	if txs == nil {
		txs = []ledger.Transaction{}
	}
	if err := stg.Save(ctx, name, txs); err != nil {
		return fmt.Errorf("staging %s: %w", name, err)
	}
	return nil
}
