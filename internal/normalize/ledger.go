package normalize

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/ledger"
	"github.com/rs/zerolog"
)

// FromLedger maps a ledger API transaction onto a Transaction. The parent
// category is left as the provider's numeric id; CategoryTitles resolves it.
func FromLedger(t ledger.Transaction, baseCurrency string) *domain.Transaction {
	tx := &domain.Transaction{
		Description1:    nonEmptyPtr(t.Payee),
		Description2:    nonEmptyPtr(t.OriginalPayee),
		Amount:          t.Amount,
		BaseAmount:      t.AmountInBaseCurrency,
		TransactionType: t.Type,
		ClosingBalance:  t.ClosingBalance,
		Memo:            nonEmptyPtr(t.Memo),
		Note:            nonEmptyPtr(t.Note),
	}
	if baseCurrency != "" {
		tx.BaseCurrency = domain.String(baseCurrency)
	}
	if t.Date != nil {
		tx.Date = ParseDate(*t.Date)
	}
	if t.HasID() {
		tx.ExternalID = domain.String(t.ID.String())
	}
	if t.Labels != nil {
		tx.Labels = domain.String(strings.Join(t.Labels, ","))
	}
	if cat := t.Category; cat != nil {
		tx.Category = cat.Title
		if cat.ParentID != nil && cat.ParentID.String() != "" {
			tx.ParentCategories = domain.String(cat.ParentID.String())
		}
	}
	if acct := t.TransactionAccount; acct != nil {
		tx.Account = acct.Name
		if acct.CurrencyCode != nil && *acct.CurrencyCode != "" {
			tx.Currency = domain.String(strings.ToUpper(*acct.CurrencyCode))
		}
		if acct.Institution != nil {
			tx.Bank = acct.Institution.Title
		}
	}
	return tx
}

// CategoryLookup resolves a numeric category id to its title.
type CategoryLookup interface {
	CategoryTitle(ctx context.Context, id string) (string, error)
}

// CategoryTitles replaces numeric ParentCategories with category titles.
type CategoryTitles struct {
	lookup CategoryLookup
	log    zerolog.Logger
}

func NewCategoryTitles(lookup CategoryLookup, log zerolog.Logger) *CategoryTitles {
	return &CategoryTitles{lookup: lookup, log: log}
}

// Resolve rewrites records in place. Each distinct id is looked up once per
// call. A failed or empty lookup leaves the numeric id.
func (c *CategoryTitles) Resolve(ctx context.Context, records []*domain.Transaction) {
	titles := make(map[string]string)
	tried := make(map[string]bool)

	for _, rec := range records {
		if rec == nil || rec.ParentCategories == nil {
			continue
		}
		id := strings.TrimSpace(*rec.ParentCategories)
		if !isNumeric(id) {
			continue
		}
		if !tried[id] {
			tried[id] = true
			title, err := c.lookup.CategoryTitle(ctx, id)
			if err != nil {
				c.log.Warn().Err(err).Str("category_id", id).Msg("Category title lookup failed")
			} else if title != "" {
				titles[id] = title
			}
		}
		if title, ok := titles[id]; ok {
			rec.ParentCategories = domain.String(title)
		}
	}
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	f, err := strconv.ParseFloat(s, 64)
	return err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
}
