package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is the canonical ledger record. Every field is optional: a nil
// pointer means the source did not supply the value, which is different from
// an empty string or a zero amount. Reconciliation relies on that difference.
type Transaction struct {
	ExternalID       *string          `json:"ID,omitempty"`
	Date             *time.Time       `json:"Date,omitempty"`
	Description1     *string          `json:"Description1,omitempty"`
	Description2     *string          `json:"Description2,omitempty"`
	Amount           *decimal.Decimal `json:"Amount,omitempty"`
	Currency         *string          `json:"Currency,omitempty"`
	BaseAmount       *decimal.Decimal `json:"BaseAmount,omitempty"`
	BaseCurrency     *string          `json:"BaseCurrency,omitempty"`
	TransactionType  *string          `json:"TransactionType,omitempty"`
	Account          *string          `json:"Account,omitempty"`
	ClosingBalance   *decimal.Decimal `json:"ClosingBalance,omitempty"`
	Category         *string          `json:"Category,omitempty"`
	ParentCategories *string          `json:"ParentCategories,omitempty"`
	Labels           *string          `json:"Labels,omitempty"`
	Memo             *string          `json:"Memo,omitempty"`
	Note             *string          `json:"Note,omitempty"`
	Bank             *string          `json:"Bank,omitempty"`
}

// StoredTransaction is a persisted snapshot. RowID is assigned by the store;
// Seq orders rows that share a Date (later insert wins).
type StoredTransaction struct {
	RowID      string    `json:"rowId"`
	Seq        int64     `json:"seq"`
	IngestedAt time.Time `json:"ingestedAt"`
	Transaction
}

// Key returns the trimmed external id. ok is false when there is none.
func (t *Transaction) Key() (string, bool) {
	if t == nil || t.ExternalID == nil {
		return "", false
	}
	k := strings.TrimSpace(*t.ExternalID)
	return k, k != ""
}

// IsEmpty reports whether no field is populated.
func (t *Transaction) IsEmpty() bool {
	if t == nil {
		return true
	}
	return t.ExternalID == nil && t.Date == nil && t.Description1 == nil &&
		t.Description2 == nil && t.Amount == nil && t.Currency == nil &&
		t.BaseAmount == nil && t.BaseCurrency == nil && t.TransactionType == nil &&
		t.Account == nil && t.ClosingBalance == nil && t.Category == nil &&
		t.ParentCategories == nil && t.Labels == nil && t.Memo == nil &&
		t.Note == nil && t.Bank == nil
}

// DiffersFrom reports whether any field present on t has a different value
// on existing. Fields absent on t are ignored. External ids compare trimmed,
// dates as instants and amounts by numeric value, so 10 and 10.00 are equal.
func (t *Transaction) DiffersFrom(existing *Transaction) bool {
	if existing == nil {
		return !t.IsEmpty()
	}
	return keyDiffers(t, existing) ||
		timeDiffers(t.Date, existing.Date) ||
		strDiffers(t.Description1, existing.Description1) ||
		strDiffers(t.Description2, existing.Description2) ||
		decDiffers(t.Amount, existing.Amount) ||
		strDiffers(t.Currency, existing.Currency) ||
		decDiffers(t.BaseAmount, existing.BaseAmount) ||
		strDiffers(t.BaseCurrency, existing.BaseCurrency) ||
		strDiffers(t.TransactionType, existing.TransactionType) ||
		strDiffers(t.Account, existing.Account) ||
		decDiffers(t.ClosingBalance, existing.ClosingBalance) ||
		strDiffers(t.Category, existing.Category) ||
		strDiffers(t.ParentCategories, existing.ParentCategories) ||
		strDiffers(t.Labels, existing.Labels) ||
		strDiffers(t.Memo, existing.Memo) ||
		strDiffers(t.Note, existing.Note) ||
		strDiffers(t.Bank, existing.Bank)
}

// Overlay returns a copy of t with every field present on incoming applied.
func (t *Transaction) Overlay(incoming *Transaction) *Transaction {
	out := &Transaction{}
	if t != nil {
		*out = *t
	}
	if incoming == nil {
		return out
	}
	overlayStr(&out.ExternalID, incoming.ExternalID)
	if incoming.Date != nil {
		out.Date = incoming.Date
	}
	overlayStr(&out.Description1, incoming.Description1)
	overlayStr(&out.Description2, incoming.Description2)
	overlayDec(&out.Amount, incoming.Amount)
	overlayStr(&out.Currency, incoming.Currency)
	overlayDec(&out.BaseAmount, incoming.BaseAmount)
	overlayStr(&out.BaseCurrency, incoming.BaseCurrency)
	overlayStr(&out.TransactionType, incoming.TransactionType)
	overlayStr(&out.Account, incoming.Account)
	overlayDec(&out.ClosingBalance, incoming.ClosingBalance)
	overlayStr(&out.Category, incoming.Category)
	overlayStr(&out.ParentCategories, incoming.ParentCategories)
	overlayStr(&out.Labels, incoming.Labels)
	overlayStr(&out.Memo, incoming.Memo)
	overlayStr(&out.Note, incoming.Note)
	overlayStr(&out.Bank, incoming.Bank)
	return out
}

func keyDiffers(incoming, existing *Transaction) bool {
	if incoming.ExternalID == nil {
		return false
	}
	in, _ := incoming.Key()
	ex, _ := existing.Key()
	return existing.ExternalID == nil || in != ex
}

func strDiffers(incoming, existing *string) bool {
	if incoming == nil {
		return false
	}
	return existing == nil || *incoming != *existing
}

func timeDiffers(incoming, existing *time.Time) bool {
	if incoming == nil {
		return false
	}
	return existing == nil || !incoming.Equal(*existing)
}

func decDiffers(incoming, existing *decimal.Decimal) bool {
	if incoming == nil {
		return false
	}
	return existing == nil || !incoming.Equal(*existing)
}

func overlayStr(dst **string, src *string) {
	if src != nil {
		*dst = src
	}
}

func overlayDec(dst **decimal.Decimal, src *decimal.Decimal) {
	if src != nil {
		*dst = src
	}
}

// String returns a pointer to s. Convenience for building records.
func String(s string) *string { return &s }

// Decimal returns a pointer to d.
func Decimal(d decimal.Decimal) *decimal.Decimal { return &d }

// Time returns a pointer to t.
func Time(t time.Time) *time.Time { return &t }

// Deref returns the pointed-to string, or "" for nil.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
