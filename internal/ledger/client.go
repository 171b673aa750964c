package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/finance-ledger/internal/apperrors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.pocketsmith.com/v2"
	defaultPerPage = 100
	maxPages       = 1000
)

// Config is the explicit session configuration for the ledger API.
type Config struct {
	BaseURL           string
	APIKey            string
	UserID            string
	Timeout           time.Duration
	RequestsPerSecond float64
	PerPage           int
}

// Client talks to the ledger API. Safe for concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger
}

// NewClient creates a client. A zero RequestsPerSecond disables rate limiting.
func NewClient(cfg Config, log zerolog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, apperrors.NewValidationError("ledger API key is required")
	}
	if cfg.UserID == "" {
		return nil, apperrors.NewValidationError("ledger user id is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.PerPage <= 0 {
		cfg.PerPage = defaultPerPage
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		log:     log.With().Str("component", "ledger_client").Logger(),
	}, nil
}

// TransactionsUpdatedSince returns every transaction changed since the
// cutoff, following pagination. On failure it returns the pages fetched so
// far together with the error.
func (c *Client) TransactionsUpdatedSince(ctx context.Context, since time.Time) ([]Transaction, error) {
	var all []Transaction

	for page := 1; page <= maxPages; page++ {
		q := url.Values{}
		q.Set("updated_since", since.UTC().Format(time.RFC3339))
		q.Set("page", strconv.Itoa(page))
		q.Set("per_page", strconv.Itoa(c.cfg.PerPage))

		var batch []Transaction
		header, err := c.get(ctx, "/users/"+url.PathEscape(c.cfg.UserID)+"/transactions?"+q.Encode(), &batch)
		if err != nil {
			return all, fmt.Errorf("TransactionsUpdatedSince: page %d: %w", page, err)
		}
		all = append(all, batch...)

		c.log.Debug().Int("page", page).Int("count", len(batch)).Msg("Fetched transactions page")

		if !hasNextPage(header, len(batch), c.cfg.PerPage) {
			break
		}
	}

	return all, nil
}

// CategoryTitle resolves a category id to its title.
func (c *Client) CategoryTitle(ctx context.Context, id string) (string, error) {
	var cat Category
	if _, err := c.get(ctx, "/categories/"+url.PathEscape(id), &cat); err != nil {
		return "", fmt.Errorf("CategoryTitle: %w", err)
	}
	if cat.Title == nil {
		return "", nil
	}
	return *cat.Title, nil
}

// User fetches the configured user.
func (c *Client) User(ctx context.Context) (*User, error) {
	var u User
	if _, err := c.get(ctx, "/users/"+url.PathEscape(c.cfg.UserID), &u); err != nil {
		return nil, fmt.Errorf("User: %w", err)
	}
	return &u, nil
}

// TransactionAccounts lists the user's transaction accounts.
func (c *Client) TransactionAccounts(ctx context.Context) ([]TransactionAccount, error) {
	var accounts []TransactionAccount
	if _, err := c.get(ctx, "/users/"+url.PathEscape(c.cfg.UserID)+"/transaction_accounts", &accounts); err != nil {
		return nil, fmt.Errorf("TransactionAccounts: %w", err)
	}
	return accounts, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) (http.Header, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, apperrors.NewExternalServiceError("ledger API rate limiter", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Developer-Key", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.NewExternalServiceError("ledger API request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewExternalServiceError("reading ledger API response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperrors.NewExternalServiceError(
			fmt.Sprintf("ledger API returned %d", resp.StatusCode),
			fmt.Errorf("%s", strings.TrimSpace(string(body))),
		)
	}

	if len(body) == 0 {
		return resp.Header, nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return nil, apperrors.NewExternalServiceError("decoding ledger API response", err)
	}
	return resp.Header, nil
}

// hasNextPage prefers the Link header; without one, a full page means there
// may be more.
func hasNextPage(h http.Header, got, perPage int) bool {
	if got == 0 {
		return false
	}
	if link := h.Get("Link"); link != "" {
		return strings.Contains(link, `rel="next"`)
	}
	return got >= perPage
}
