package normalize

import (
	"strings"

	"github.com/dvloznov/finance-ledger/internal/domain"
)

// CSV column names in the ledger export.
const (
	ColDate             = "Date"
	ColMerchant         = "Merchant"
	ColMerchantChanged  = "Merchant Changed From"
	ColAmount           = "Amount"
	ColCurrency         = "Currency"
	ColBaseAmount       = "Amount in base currency"
	ColBaseCurrency     = "Base currency"
	ColTransactionType  = "Transaction Type"
	ColAccount          = "Account"
	ColClosingBalance   = "Closing Balance"
	ColCategory         = "Category"
	ColParentCategories = "Parent Categories"
	ColLabels           = "Labels"
	ColMemo             = "Memo"
	ColNote             = "Note"
	ColID               = "ID"
	ColBank             = "Bank"
)

// FromCSVRow maps one CSV row, keyed by header, onto a Transaction. Empty or
// unparsable cells leave the field absent. Returns nil when nothing is set.
func FromCSVRow(row map[string]string) *domain.Transaction {
	get := func(col string) string { return strings.TrimSpace(row[col]) }

	tx := &domain.Transaction{
		Date:             ParseDate(get(ColDate)),
		Description1:     nonEmpty(get(ColMerchant)),
		Description2:     nonEmpty(get(ColMerchantChanged)),
		Amount:           ParseNumber(get(ColAmount)),
		Currency:         nonEmpty(get(ColCurrency)),
		BaseAmount:       ParseNumber(get(ColBaseAmount)),
		BaseCurrency:     nonEmpty(get(ColBaseCurrency)),
		TransactionType:  nonEmpty(get(ColTransactionType)),
		Account:          nonEmpty(get(ColAccount)),
		ClosingBalance:   ParseNumber(get(ColClosingBalance)),
		Category:         nonEmpty(get(ColCategory)),
		ParentCategories: nonEmpty(get(ColParentCategories)),
		Labels:           nonEmpty(get(ColLabels)),
		Memo:             nonEmpty(get(ColMemo)),
		Note:             nonEmpty(get(ColNote)),
		ExternalID:       nonEmpty(get(ColID)),
		Bank:             nonEmpty(get(ColBank)),
	}

	if tx.IsEmpty() {
		return nil
	}
	return tx
}
