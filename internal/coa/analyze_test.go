package coa

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/dvloznov/finance-ledger/internal/apperrors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNames struct {
	accounts   []string
	categories []string
	err        error
}

func (f fakeNames) DistinctAccounts(ctx context.Context) ([]string, error) {
	return f.accounts, f.err
}

func (f fakeNames) DistinctCategories(ctx context.Context) ([]string, error) {
	return f.categories, f.err
}

func analyzerPaths(t *testing.T) Paths {
	dir := t.TempDir()
	chart := filepath.Join(dir, "coa.json")
	require.NoError(t, os.WriteFile(chart, []byte(sampleChart), 0o644))
	return Paths{
		Chart:      chart,
		Accounts:   filepath.Join(dir, "dict", "accounts.json"),
		Categories: filepath.Join(dir, "dict", "categories.json"),
	}
}

func TestAnalyzeWritesDictionariesAndChecks(t *testing.T) {
	paths := analyzerPaths(t)
	src := fakeNames{
		accounts:   []string{"Checking", "Savings", "Mystery Account"},
		categories: []string{"Salary", "Groceries"},
	}

	rep, err := NewAnalyzer(src, paths, zerolog.Nop()).Analyze(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusMissing, rep.MissingAccounts.Status)
	assert.Equal(t, []string{"Mystery Account"}, rep.MissingAccounts.Names)
	assert.Contains(t, rep.UnknownAccounts.Names, "Petty Cash Box")
	assert.Equal(t, StatusOK, rep.MissingCategories.Status)
	assert.False(t, rep.OK())

	accounts, err := LoadDictionary(paths.Accounts)
	require.NoError(t, err)
	assert.Equal(t, []string{"Checking", "Mystery Account", "Savings"}, accounts.Names())

	categories, err := LoadDictionary(paths.Categories)
	require.NoError(t, err)
	assert.Equal(t, []string{"Groceries", "Salary"}, categories.Names())
}

func TestAnalyzeStoreFailure(t *testing.T) {
	paths := analyzerPaths(t)
	src := fakeNames{err: errors.New("boom")}

	_, err := NewAnalyzer(src, paths, zerolog.Nop()).Analyze(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrPersistence))

	_, statErr := os.Stat(paths.Accounts)
	assert.True(t, os.IsNotExist(statErr))
}

func TestAnalyzeMissingChart(t *testing.T) {
	paths := analyzerPaths(t)
	paths.Chart = filepath.Join(t.TempDir(), "absent.json")

	_, err := NewAnalyzer(fakeNames{}, paths, zerolog.Nop()).Analyze(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrParse))
}
