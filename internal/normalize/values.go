package normalize

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"2 Jan 2006",
	"Jan 2, 2006",
}

// ParseNumber parses a possibly thousands-separated number. Non-numeric
// input yields nil, never zero.
func ParseNumber(s string) *decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	s = strings.NewReplacer(",", "", " ", "").Replace(s)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	return &d
}

// ParseDate parses s with the known layouts. Values without a zone are UTC.
// Unparsable input yields nil.
func ParseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return &t
		}
	}
	return nil
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonEmptyPtr(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
