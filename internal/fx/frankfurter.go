package fx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dvloznov/finance-ledger/internal/apperrors"
	"github.com/shopspring/decimal"
)

const DefaultFrankfurterURL = "https://api.frankfurter.app"

// Frankfurter fetches historical reference rates from the Frankfurter API.
type Frankfurter struct {
	baseURL string
	http    *http.Client
}

// NewFrankfurter creates a provider with the given request timeout.
func NewFrankfurter(baseURL string, timeout time.Duration) *Frankfurter {
	if baseURL == "" {
		baseURL = DefaultFrankfurterURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Frankfurter{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type frankfurterResponse struct {
	Base  string                     `json:"base"`
	Date  string                     `json:"date"`
	Rates map[string]decimal.Decimal `json:"rates"`
}

// Rate returns how many units of quote one unit of base buys on asOf. A zero
// asOf asks for the latest rate. ok is false when the provider has no rate.
func (f *Frankfurter) Rate(ctx context.Context, base, quote string, asOf time.Time) (decimal.Decimal, bool, error) {
	base, quote = strings.ToUpper(base), strings.ToUpper(quote)

	datePath := "latest"
	if !asOf.IsZero() {
		datePath = asOf.UTC().Format("2006-01-02")
	}
	q := url.Values{}
	q.Set("from", base)
	q.Set("to", quote)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/"+datePath+"?"+q.Encode(), nil)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("Frankfurter.Rate: building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.http.Do(req)
	if err != nil {
		return decimal.Zero, false, apperrors.NewExternalServiceError("FX request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return decimal.Zero, false, nil
	}
	if resp.StatusCode >= 400 {
		return decimal.Zero, false, apperrors.NewExternalServiceError(
			fmt.Sprintf("FX provider returned %d", resp.StatusCode), nil)
	}

	var body frankfurterResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, false, apperrors.NewExternalServiceError("decoding FX response", err)
	}
	rate, ok := body.Rates[quote]
	return rate, ok, nil
}
