package report

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dvloznov/finance-ledger/internal/apperrors"
	"github.com/dvloznov/finance-ledger/internal/coa"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// UnrealizedGLCategory is hidden from cash flow unless asked for.
const UnrealizedGLCategory = "Unrealized G/L"

// TransferMode controls how transfer categories appear in a cash flow.
type TransferMode string

const (
	TransfersExclude TransferMode = "exclude"
	TransfersInclude TransferMode = "include"
	TransfersOnly    TransferMode = "only"
)

// ParseTransferMode maps anything other than include or only to exclude.
func ParseTransferMode(s string) TransferMode {
	switch TransferMode(strings.ToLower(strings.TrimSpace(s))) {
	case TransfersInclude:
		return TransfersInclude
	case TransfersOnly:
		return TransfersOnly
	default:
		return TransfersExclude
	}
}

// CategorySums answers category range sums in the base currency.
type CategorySums interface {
	CategoryRangeSum(ctx context.Context, category string, from, to time.Time) (decimal.Decimal, error)
}

type CashFlowQuery struct {
	From                time.Time
	To                  time.Time
	Transfers           TransferMode
	IncludeUnrealizedGL bool
}

// CashFlow is the resolved profit and loss tree.
type CashFlow struct {
	Query  CashFlowQuery
	Nodes  []*Node
	Totals map[string]decimal.Decimal
	// Missing is set when the chart has no profit and loss section.
	Missing bool
}

// MarshalJSON writes {"Profit & Loss Accounts": [...]}, or {} when the
// section is missing.
func (c *CashFlow) MarshalJSON() ([]byte, error) {
	if c.Missing {
		return []byte(`{}`), nil
	}
	return marshal(map[string][]*Node{coa.SectionProfitLoss: c.Nodes})
}

// CashFlowBuilder builds cash flow reports from a chart.
type CashFlowBuilder struct {
	chart       *coa.Chart
	sums        CategorySums
	categories  coa.Dictionary
	concurrency int
	log         zerolog.Logger
}

func NewCashFlowBuilder(chart *coa.Chart, sums CategorySums, log zerolog.Logger) *CashFlowBuilder {
	return &CashFlowBuilder{chart: chart, sums: sums, concurrency: DefaultConcurrency, log: log}
}

// WithDictionary restricts queries to the given category names. Leaves
// whose key is absent total zero without a query.
func (b *CashFlowBuilder) WithDictionary(d coa.Dictionary) *CashFlowBuilder {
	b.categories = d
	return b
}

// WithConcurrency sets the number of sum queries in flight.
func (b *CashFlowBuilder) WithConcurrency(n int) *CashFlowBuilder {
	b.concurrency = n
	return b
}

// cashFlowFilter holds the visibility rules for one query.
type cashFlowFilter struct {
	mode      TransferMode
	transfers map[string]struct{}
	excluded  map[string]struct{}
}

func (f cashFlowFilter) isExcluded(name string) bool {
	_, ok := f.excluded[name]
	return ok
}

func (f cashFlowFilter) isTransfer(n *coa.Node) bool {
	_, byKey := f.transfers[n.LedgerKey]
	_, byName := f.transfers[n.Name]
	return byKey || byName
}

// skip applies the node-level exclusions. Groups match on name only.
func (f cashFlowFilter) skip(n *coa.Node) bool {
	if f.isExcluded(n.Name) {
		return true
	}
	return n.IsLeaf() && f.isExcluded(n.LedgerKey)
}

// keepLeaf applies the transfer mode to a leaf.
func (f cashFlowFilter) keepLeaf(n *coa.Node) bool {
	switch f.mode {
	case TransfersOnly:
		return n.Name == coa.TransfersGroup || f.isTransfer(n)
	case TransfersExclude:
		return !f.isTransfer(n)
	default:
		return true
	}
}

// Build resolves every visible profit and loss leaf over [From, To]. A
// missing section yields an empty report and a warning, not an error.
func (b *CashFlowBuilder) Build(ctx context.Context, q CashFlowQuery) (*CashFlow, error) {
	if q.From.IsZero() || q.To.IsZero() {
		return nil, apperrors.NewValidationError("from and to dates are required")
	}
	if q.From.After(q.To) {
		return nil, apperrors.NewValidationError("from date must not be after to date")
	}
	if q.Transfers == "" {
		q.Transfers = TransfersExclude
	}

	nodes, err := b.chart.Section(coa.SectionProfitLoss)
	if err != nil {
		if errors.Is(err, apperrors.ErrConfigMissing) {
			b.log.Warn().Err(err).Msg("Building empty cash flow")
			return &CashFlow{Query: q, Nodes: []*Node{}, Totals: map[string]decimal.Decimal{}, Missing: true}, nil
		}
		return nil, err
	}

	f := cashFlowFilter{mode: q.Transfers, transfers: coa.TransferKeys(nodes), excluded: map[string]struct{}{}}
	if !q.IncludeUnrealizedGL {
		f.excluded[UnrealizedGLCategory] = struct{}{}
	}

	if q.Transfers == TransfersExclude {
		top := make([]*coa.Node, 0, len(nodes))
		for _, n := range nodes {
			if n.Name != coa.TransfersGroup {
				top = append(top, n)
			}
		}
		nodes = top
	}

	totals, err := resolveAll(ctx, b.queryKeys(nodes, f), b.concurrency, func(ctx context.Context, key string) (decimal.Decimal, error) {
		return b.sums.CategoryRangeSum(ctx, key, q.From, q.To)
	})
	if err != nil {
		return nil, err
	}

	tree := Fold(nodes, Policy{
		TotalField: FieldTotal,
		Skip:       f.skip,
		Value: func(leaf *coa.Node) (decimal.Decimal, bool) {
			if !f.keepLeaf(leaf) {
				return decimal.Zero, false
			}
			total, ok := totals[leaf.LedgerKey]
			if !ok {
				total = decimal.Zero
			}
			return total, true
		},
		KeepGroup: func(group *coa.Node, children []*Node) bool {
			return q.Transfers != TransfersOnly || len(children) > 0 || group.Name == coa.TransfersGroup
		},
	})

	return &CashFlow{Query: q, Nodes: tree, Totals: totals}, nil
}

// queryKeys returns the ledger keys of leaves that survive the filter and
// the dictionary, walking only through groups that are not skipped.
func (b *CashFlowBuilder) queryKeys(nodes []*coa.Node, f cashFlowFilter) []string {
	seen := map[string]struct{}{}
	var keys []string
	var walk func([]*coa.Node)
	walk = func(nodes []*coa.Node) {
		for _, n := range nodes {
			if f.skip(n) {
				continue
			}
			if !n.IsLeaf() {
				walk(n.Children)
				continue
			}
			if !f.keepLeaf(n) {
				continue
			}
			if b.categories != nil && !b.categories.Has(n.LedgerKey) {
				continue
			}
			if _, ok := seen[n.LedgerKey]; ok {
				continue
			}
			seen[n.LedgerKey] = struct{}{}
			keys = append(keys, n.LedgerKey)
		}
	}
	walk(nodes)
	return keys
}
