package ledger

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is a transaction as returned by the ledger API. Only the fields
// the normalizer reads are declared; unknown fields are dropped.
type Transaction struct {
	ID                   json.Number         `json:"id,omitempty"`
	Payee                *string             `json:"payee,omitempty"`
	OriginalPayee        *string             `json:"original_payee,omitempty"`
	Date                 *string             `json:"date,omitempty"`
	Amount               *decimal.Decimal    `json:"amount,omitempty"`
	AmountInBaseCurrency *decimal.Decimal    `json:"amount_in_base_currency,omitempty"`
	Type                 *string             `json:"type,omitempty"`
	ClosingBalance       *decimal.Decimal    `json:"closing_balance,omitempty"`
	Labels               []string            `json:"labels,omitempty"`
	Memo                 *string             `json:"memo,omitempty"`
	Note                 *string             `json:"note,omitempty"`
	Category             *Category           `json:"category,omitempty"`
	TransactionAccount   *TransactionAccount `json:"transaction_account,omitempty"`
	CreatedAt            *time.Time          `json:"created_at,omitempty"`
	UpdatedAt            *time.Time          `json:"updated_at,omitempty"`
}

// HasID reports whether the provider supplied an id.
func (t Transaction) HasID() bool {
	return t.ID.String() != ""
}

type Category struct {
	ID       json.Number  `json:"id,omitempty"`
	Title    *string      `json:"title,omitempty"`
	ParentID *json.Number `json:"parent_id,omitempty"`
}

type TransactionAccount struct {
	ID           json.Number  `json:"id,omitempty"`
	Name         *string      `json:"name,omitempty"`
	CurrencyCode *string      `json:"currency_code,omitempty"`
	Institution  *Institution `json:"institution,omitempty"`
}

type Institution struct {
	Title *string `json:"title,omitempty"`
}

// User is the subset of /users/{id} used for connectivity checks.
type User struct {
	ID           json.Number `json:"id"`
	Login        string      `json:"login"`
	Name         string      `json:"name"`
	BaseCurrency string      `json:"base_currency_code"`
}
