package report

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dvloznov/finance-ledger/internal/aggregate"
	"github.com/dvloznov/finance-ledger/internal/apperrors"
	"github.com/dvloznov/finance-ledger/internal/coa"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/fx"
	"github.com/dvloznov/finance-ledger/internal/store/inmemory"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var asOf = time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)

type fakeBalances map[string]aggregate.AccountBalance

func (f fakeBalances) AccountBalanceAsOf(ctx context.Context, account string, asOf time.Time) (aggregate.AccountBalance, error) {
	return f[account], nil
}

type absentRates struct{}

func (absentRates) Rate(ctx context.Context, base, quote string, asOf time.Time) (decimal.Decimal, bool, error) {
	return decimal.Zero, false, nil
}

type fakeSums struct {
	mu     sync.Mutex
	totals map[string]int64
	asked  []string
}

func (f *fakeSums) CategoryRangeSum(ctx context.Context, category string, from, to time.Time) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asked = append(f.asked, category)
	return decimal.NewFromInt(f.totals[category]), nil
}

func mustChart(t *testing.T, doc string) *coa.Chart {
	t.Helper()
	chart, err := coa.Parse([]byte(doc))
	require.NoError(t, err)
	return chart
}

func usd(v int64) aggregate.AccountBalance {
	return aggregate.AccountBalance{Found: true, Currency: "USD", RawBalance: decimal.NewFromInt(v)}
}

func TestBalanceSheetRollup(t *testing.T) {
	chart := mustChart(t, `[{"Balance Sheet Accounts": [{"Cash": ["A", "B"]}]}]`)
	conv := fx.NewConverter(absentRates{}, zerolog.Nop())
	b := NewBalanceSheetBuilder(chart, fakeBalances{"A": usd(100), "B": usd(-40)}, conv, "USD", zerolog.Nop())

	sheet, err := b.Build(context.Background(), asOf)
	require.NoError(t, err)
	require.Len(t, sheet.Nodes, 1)
	assert.Equal(t, "60", sheet.Nodes[0].Total.String())

	data, err := json.Marshal(sheet)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Balance Sheet Accounts":[{"name":"Cash","totalUSD":60,"children":[
		{"name":"A","totalUSD":100},{"name":"B","totalUSD":-40}]}]}`, string(data))
}

func TestBalanceSheetFXFallback(t *testing.T) {
	chart := mustChart(t, `[{"Balance Sheet Accounts": ["Gold Vault", "Nowhere"]}]`)
	balances := fakeBalances{"Gold Vault": {Found: true, Currency: "XAU", RawBalance: decimal.NewFromInt(3)}}
	conv := fx.NewConverter(absentRates{}, zerolog.Nop())

	sheet, err := NewBalanceSheetBuilder(chart, balances, conv, "USD", zerolog.Nop()).Build(context.Background(), asOf)
	require.NoError(t, err)

	vault := sheet.Accounts["Gold Vault"]
	assert.True(t, vault.Degraded)
	assert.True(t, vault.BalanceUSD.Equal(vault.RawBalance))
	assert.Equal(t, []string{"XAU"}, sheet.DegradedCurrencies())

	tuple, err := json.Marshal(sheet.Accounts)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Gold Vault":["XAU",3,1,3],"Nowhere":[null,0,null,0]}`, string(tuple))
}

func TestBalanceSheetDictionarySkipsUnknown(t *testing.T) {
	chart := mustChart(t, `[{"Balance Sheet Accounts": ["A", "B"]}]`)
	conv := fx.NewConverter(absentRates{}, zerolog.Nop())
	b := NewBalanceSheetBuilder(chart, fakeBalances{"A": usd(5), "B": usd(7)}, conv, "USD", zerolog.Nop()).
		WithDictionary(coa.NewDictionary([]string{"A"}))

	sheet, err := b.Build(context.Background(), asOf)
	require.NoError(t, err)
	assert.False(t, sheet.Accounts["B"].Found)
	assert.Equal(t, "0", Find(sheet.Nodes, "B").Total.String())
}

func TestBalanceSheetFromStore(t *testing.T) {
	s := inmemory.NewStore()
	_, err := s.InsertMany(context.Background(), []*domain.Transaction{
		{Account: domain.String("Checking"), Date: domain.Time(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)), ClosingBalance: domain.Decimal(decimal.NewFromInt(100))},
		{Account: domain.String("Checking"), Date: domain.Time(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)), ClosingBalance: domain.Decimal(decimal.NewFromInt(150))},
	})
	require.NoError(t, err)

	chart := mustChart(t, `[{"Balance Sheet Accounts": [{"Cash": ["Checking"]}]}]`)
	agg := aggregate.New(s, "USD")
	conv := fx.NewConverter(absentRates{}, zerolog.Nop())

	sheet, err := NewBalanceSheetBuilder(chart, agg, conv, agg.BaseCurrency(), zerolog.Nop()).Build(context.Background(), asOf)
	require.NoError(t, err)
	assert.Equal(t, "100", sheet.Nodes[0].Total.String())
}

func TestBalanceSheetMissingSection(t *testing.T) {
	chart := mustChart(t, `[{"Profit & Loss Accounts": ["Rent"]}]`)
	sheet, err := NewBalanceSheetBuilder(chart, fakeBalances{}, fx.NewConverter(nil, zerolog.Nop()), "USD", zerolog.Nop()).
		Build(context.Background(), asOf)
	require.NoError(t, err)
	assert.True(t, sheet.Missing)

	data, err := json.Marshal(sheet)
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(data))
}

const cashFlowChart = `[{"Profit & Loss Accounts": [
  {"Income": ["Salary"]},
  {"Expenses": ["Rent", "Credit Card Payment"]},
  {"Transfers": ["Credit Card Payment", "Internal"]},
  {"Investments": [{"Unrealized G/L": ""}, "Dividends"]}
]}]`

func cashFlowSums() *fakeSums {
	return &fakeSums{totals: map[string]int64{
		"Salary": 1000, "Rent": -500, "Credit Card Payment": -200,
		"Internal": 50, "Unrealized G/L": -30, "Dividends": 10,
	}}
}

func names(nodes []*Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Name)
	}
	return out
}

func buildCashFlow(t *testing.T, sums *fakeSums, mode TransferMode, unrealized bool) *CashFlow {
	t.Helper()
	b := NewCashFlowBuilder(mustChart(t, cashFlowChart), sums, zerolog.Nop())
	cf, err := b.Build(context.Background(), CashFlowQuery{
		From:                time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		To:                  time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
		Transfers:           mode,
		IncludeUnrealizedGL: unrealized,
	})
	require.NoError(t, err)
	return cf
}

func TestCashFlowExcludesTransfers(t *testing.T) {
	sums := cashFlowSums()
	cf := buildCashFlow(t, sums, TransfersExclude, false)

	assert.Equal(t, []string{"Income", "Expenses", "Investments"}, names(cf.Nodes))
	assert.Equal(t, "-500", Find(cf.Nodes, "Expenses").Total.String())
	assert.Nil(t, Find(cf.Nodes, "Credit Card Payment"))
	assert.Equal(t, "10", Find(cf.Nodes, "Investments").Total.String())
	assert.NotContains(t, sums.asked, "Unrealized G/L")
	assert.NotContains(t, sums.asked, "Internal")
}

func TestCashFlowOnlyTransfers(t *testing.T) {
	cf := buildCashFlow(t, cashFlowSums(), TransfersOnly, false)

	assert.Equal(t, []string{"Expenses", "Transfers"}, names(cf.Nodes))
	assert.Equal(t, "-200", Find(cf.Nodes, "Expenses").Total.String())
	assert.Equal(t, "-150", Find(cf.Nodes, "Transfers").Total.String())
}

func TestCashFlowIncludeUnrealized(t *testing.T) {
	cf := buildCashFlow(t, cashFlowSums(), TransfersInclude, true)

	assert.Equal(t, []string{"Income", "Expenses", "Transfers", "Investments"}, names(cf.Nodes))
	assert.Equal(t, "-20", Find(cf.Nodes, "Investments").Total.String())
	assert.Equal(t, "-700", Find(cf.Nodes, "Expenses").Total.String())

	data, err := json.Marshal(cf)
	require.NoError(t, err)
	assert.Contains(t, string(data), `{"name":"Salary","total":1000}`)
}

func TestCashFlowDictionaryLeavesZero(t *testing.T) {
	sums := cashFlowSums()
	b := NewCashFlowBuilder(mustChart(t, cashFlowChart), sums, zerolog.Nop()).
		WithDictionary(coa.NewDictionary([]string{"Salary"}))

	cf, err := b.Build(context.Background(), CashFlowQuery{From: asOf, To: asOf})
	require.NoError(t, err)
	assert.Equal(t, []string{"Salary"}, sums.asked)
	assert.Equal(t, "0", Find(cf.Nodes, "Rent").Total.String())
}

func TestCashFlowValidation(t *testing.T) {
	b := NewCashFlowBuilder(mustChart(t, cashFlowChart), cashFlowSums(), zerolog.Nop())
	_, err := b.Build(context.Background(), CashFlowQuery{From: asOf, To: asOf.AddDate(0, 0, -1)})
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}

func TestParseTransferMode(t *testing.T) {
	assert.Equal(t, TransfersOnly, ParseTransferMode(" Only "))
	assert.Equal(t, TransfersInclude, ParseTransferMode("include"))
	assert.Equal(t, TransfersExclude, ParseTransferMode("bogus"))
}

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "cash_flow_report.json")
	cf := buildCashFlow(t, cashFlowSums(), TransfersExclude, false)
	require.NoError(t, WriteJSON(path, cf))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"Profit & Loss Accounts"`)
}
