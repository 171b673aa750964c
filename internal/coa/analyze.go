package coa

import (
	"context"
	"fmt"

	"github.com/dvloznov/finance-ledger/internal/apperrors"
	"github.com/rs/zerolog"
)

// NameSource lists the distinct account and category names in the store.
type NameSource interface {
	DistinctAccounts(ctx context.Context) ([]string, error)
	DistinctCategories(ctx context.Context) ([]string, error)
}

// Paths locates the chart and the two dictionary files.
type Paths struct {
	Chart      string
	Accounts   string
	Categories string
}

// Analyzer regenerates the dictionaries from the store and checks the chart
// against them.
type Analyzer struct {
	src   NameSource
	paths Paths
	log   zerolog.Logger
}

func NewAnalyzer(src NameSource, paths Paths, log zerolog.Logger) *Analyzer {
	return &Analyzer{src: src, paths: paths, log: log}
}

// Analyze rewrites both dictionary files, reloads the chart and returns the
// integrity report. The chart is read on every call so edits are picked up
// without a restart.
func (a *Analyzer) Analyze(ctx context.Context) (IntegrityReport, error) {
	accounts, err := a.src.DistinctAccounts(ctx)
	if err != nil {
		return IntegrityReport{}, apperrors.NewPersistenceError("listing accounts", err)
	}
	categories, err := a.src.DistinctCategories(ctx)
	if err != nil {
		return IntegrityReport{}, apperrors.NewPersistenceError("listing categories", err)
	}

	if err := WriteDictionary(a.paths.Accounts, accounts); err != nil {
		return IntegrityReport{}, fmt.Errorf("Analyze: %w", err)
	}
	if err := WriteDictionary(a.paths.Categories, categories); err != nil {
		return IntegrityReport{}, fmt.Errorf("Analyze: %w", err)
	}

	chart, err := Load(a.paths.Chart)
	if err != nil {
		return IntegrityReport{}, err
	}

	rep := CheckIntegrity(chart, NewDictionary(accounts), NewDictionary(categories))
	a.log.Info().
		Int("accounts", len(accounts)).
		Int("categories", len(categories)).
		Bool("ok", rep.OK()).
		Int("missing_accounts", rep.MissingAccounts.Count).
		Int("unknown_accounts", rep.UnknownAccounts.Count).
		Int("missing_categories", rep.MissingCategories.Count).
		Int("unknown_categories", rep.UnknownCategories.Count).
		Msg("Chart of accounts analyzed")
	return rep, nil
}
