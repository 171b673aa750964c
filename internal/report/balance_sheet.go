package report

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dvloznov/finance-ledger/internal/aggregate"
	"github.com/dvloznov/finance-ledger/internal/apperrors"
	"github.com/dvloznov/finance-ledger/internal/coa"
	"github.com/dvloznov/finance-ledger/internal/fx"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Balances answers as-of account balance queries.
type Balances interface {
	AccountBalanceAsOf(ctx context.Context, account string, asOf time.Time) (aggregate.AccountBalance, error)
}

// Rates resolves exchange rates with the fallback policy already applied.
type Rates interface {
	Rate(ctx context.Context, base, quote string, asOf time.Time) fx.Rate
}

// AccountValue is the resolved balance of one account. It marshals as the
// tuple [currency, rawBalance, fxRate, balanceInUSD], or [null, 0, null, 0]
// when the account has no row on or before the as-of date.
type AccountValue struct {
	Found      bool
	Currency   string
	RawBalance decimal.Decimal
	Rate       decimal.Decimal
	BalanceUSD decimal.Decimal
	Degraded   bool
}

func (v AccountValue) MarshalJSON() ([]byte, error) {
	if !v.Found {
		return []byte(`[null,0,null,0]`), nil
	}
	currency, err := marshal(v.Currency)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteByte('[')
	buf.Write(currency)
	buf.WriteString("," + v.RawBalance.String())
	buf.WriteString("," + v.Rate.String())
	buf.WriteString("," + v.BalanceUSD.String())
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// BalanceSheet is the resolved balance sheet tree.
type BalanceSheet struct {
	AsOf     time.Time
	Nodes    []*Node
	Accounts map[string]AccountValue
	// Missing is set when the chart has no balance sheet section.
	Missing bool
}

// MarshalJSON writes {"Balance Sheet Accounts": [...]}, or {} when the
// section is missing.
func (b *BalanceSheet) MarshalJSON() ([]byte, error) {
	if b.Missing {
		return []byte(`{}`), nil
	}
	return marshal(map[string][]*Node{coa.SectionBalanceSheet: b.Nodes})
}

// DegradedCurrencies lists the currencies converted at the fallback rate.
func (b *BalanceSheet) DegradedCurrencies() []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range b.Accounts {
		if v.Degraded && !seen[v.Currency] {
			seen[v.Currency] = true
			out = append(out, v.Currency)
		}
	}
	return out
}

// BalanceSheetBuilder builds balance sheets from a chart.
type BalanceSheetBuilder struct {
	chart        *coa.Chart
	balances     Balances
	rates        Rates
	baseCurrency string
	accounts     coa.Dictionary
	concurrency  int
	log          zerolog.Logger
}

func NewBalanceSheetBuilder(chart *coa.Chart, balances Balances, rates Rates, baseCurrency string, log zerolog.Logger) *BalanceSheetBuilder {
	return &BalanceSheetBuilder{
		chart:        chart,
		balances:     balances,
		rates:        rates,
		baseCurrency: strings.ToUpper(baseCurrency),
		concurrency:  DefaultConcurrency,
		log:          log,
	}
}

// WithDictionary restricts queries to the given account names. Leaves whose
// key is absent resolve as not found without a query.
func (b *BalanceSheetBuilder) WithDictionary(d coa.Dictionary) *BalanceSheetBuilder {
	b.accounts = d
	return b
}

// WithConcurrency sets the number of balance queries in flight.
func (b *BalanceSheetBuilder) WithConcurrency(n int) *BalanceSheetBuilder {
	b.concurrency = n
	return b
}

// Build resolves every balance sheet leaf as of asOf. A missing section
// yields an empty report and a warning, not an error.
func (b *BalanceSheetBuilder) Build(ctx context.Context, asOf time.Time) (*BalanceSheet, error) {
	if asOf.IsZero() {
		return nil, apperrors.NewValidationError("as-of date is required")
	}

	nodes, err := b.chart.Section(coa.SectionBalanceSheet)
	if err != nil {
		if errors.Is(err, apperrors.ErrConfigMissing) {
			b.log.Warn().Err(err).Msg("Building empty balance sheet")
			return &BalanceSheet{AsOf: asOf, Nodes: []*Node{}, Accounts: map[string]AccountValue{}, Missing: true}, nil
		}
		return nil, err
	}

	accounts, err := resolveAll(ctx, coa.LeafKeys(nodes), b.concurrency, func(ctx context.Context, key string) (AccountValue, error) {
		return b.account(ctx, key, asOf)
	})
	if err != nil {
		return nil, err
	}

	tree := Fold(nodes, Policy{
		TotalField: FieldTotalUSD,
		Value: func(leaf *coa.Node) (decimal.Decimal, bool) {
			return accounts[leaf.LedgerKey].BalanceUSD, true
		},
	})

	sheet := &BalanceSheet{AsOf: asOf, Nodes: tree, Accounts: accounts}
	if degraded := sheet.DegradedCurrencies(); len(degraded) > 0 {
		b.log.Warn().Strs("currencies", degraded).Time("as_of", asOf).Msg("Balance sheet used fallback FX rates")
	}
	return sheet, nil
}

func (b *BalanceSheetBuilder) account(ctx context.Context, key string, asOf time.Time) (AccountValue, error) {
	if b.accounts != nil && !b.accounts.Has(key) {
		return AccountValue{BalanceUSD: decimal.Zero}, nil
	}

	bal, err := b.balances.AccountBalanceAsOf(ctx, key, asOf)
	if err != nil {
		return AccountValue{}, err
	}
	if !bal.Found {
		return AccountValue{BalanceUSD: decimal.Zero}, nil
	}

	rate := b.rates.Rate(ctx, b.baseCurrency, bal.Currency, asOf)
	return AccountValue{
		Found:      true,
		Currency:   bal.Currency,
		RawBalance: bal.RawBalance,
		Rate:       rate.Value,
		BalanceUSD: fx.ToBase(bal.RawBalance, rate),
		Degraded:   rate.Degraded,
	}, nil
}
