package coa

import "sort"

// Integrity statuses.
const (
	StatusOK                  = "ok"
	StatusMissing             = "missing"
	StatusBalanceSheetMissing = "balance_sheet_missing"
	StatusProfitLossMissing   = "profit_loss_missing"
)

// NameCheck is one declared-vs-present comparison.
type NameCheck struct {
	Status string   `json:"status"`
	Names  []string `json:"names"`
	Count  int      `json:"count"`
}

// IntegrityReport compares the chart against the store's dictionaries.
// Missing lists names present in the store but absent from the chart;
// Unknown lists chart keys the store has never seen.
type IntegrityReport struct {
	MissingAccounts   NameCheck `json:"missingAccounts"`
	UnknownAccounts   NameCheck `json:"unknownAccounts"`
	MissingCategories NameCheck `json:"missingCategories"`
	UnknownCategories NameCheck `json:"unknownCategories"`
}

// OK reports whether every check passed.
func (r IntegrityReport) OK() bool {
	for _, c := range []NameCheck{r.MissingAccounts, r.UnknownAccounts, r.MissingCategories, r.UnknownCategories} {
		if c.Status != StatusOK {
			return false
		}
	}
	return true
}

// CheckIntegrity diffs accounts against the balance sheet section and
// categories against the profit and loss section.
func CheckIntegrity(chart *Chart, accounts, categories Dictionary) IntegrityReport {
	var r IntegrityReport
	r.MissingAccounts, r.UnknownAccounts = diffSection(chart, SectionBalanceSheet, StatusBalanceSheetMissing, accounts)
	r.MissingCategories, r.UnknownCategories = diffSection(chart, SectionProfitLoss, StatusProfitLossMissing, categories)
	return r
}

func diffSection(chart *Chart, section, absent string, dict Dictionary) (missing, unknown NameCheck) {
	nodes, err := chart.Section(section)
	if err != nil {
		empty := NameCheck{Status: absent, Names: []string{}}
		return empty, empty
	}

	declared := NewDictionary(LeafKeys(nodes))

	missing = NameCheck{Status: StatusOK, Names: []string{}}
	for _, name := range dict.Names() {
		if !declared.Has(name) {
			missing.Names = append(missing.Names, name)
		}
	}
	missing.Count = len(missing.Names)
	if missing.Count > 0 {
		missing.Status = StatusMissing
	}

	unknown = NameCheck{Status: StatusOK, Names: []string{}}
	for name := range declared {
		if !dict.Has(name) {
			unknown.Names = append(unknown.Names, name)
		}
	}
	sort.Strings(unknown.Names)
	unknown.Count = len(unknown.Names)
	if unknown.Count > 0 {
		unknown.Status = StatusMissing
	}
	return missing, unknown
}
