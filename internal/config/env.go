package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	BackendBigQuery = "bigquery"
	BackendMemory   = "memory"
)

// Config holds everything the API server and CLI need. Values come from
// environment variables; see LoadFromEnv for defaults.
type Config struct {
	// Transaction store
	StoreBackend      string
	ProjectID         string
	DatasetID         string
	TransactionsTable string

	// Staging store. A bucket takes precedence over the local dir.
	StagingBucket string
	StagingPrefix string
	StagingDir    string

	// Static configuration files
	COAPath           string
	AccountNamesPath  string
	CategoryNamesPath string
	CSVPath           string

	// External ledger API
	LedgerBaseURL           string
	LedgerAPIKey            string
	LedgerUserID            string
	LedgerTimeout           time.Duration
	LedgerRequestsPerSecond float64

	// FX provider
	FXBaseURL    string
	FXTimeout    time.Duration
	BaseCurrency string

	ModifiedThreshold time.Duration
	BatchSize         int

	LogLevel string
	Port     string
}

// LoadFromEnv loads the configuration from environment variables
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		StoreBackend:      getEnv("STORE_BACKEND", BackendBigQuery),
		ProjectID:         os.Getenv("GCP_PROJECT_ID"),
		DatasetID:         getEnv("BQ_DATASET", "finance"),
		TransactionsTable: getEnv("BQ_TRANSACTIONS_TABLE", "ledger_transactions"),

		StagingBucket: os.Getenv("STAGING_BUCKET"),
		StagingPrefix: getEnv("STAGING_PREFIX", "staging"),
		StagingDir:    getEnv("STAGING_DIR", "data/.temp"),

		COAPath:           getEnv("COA_PATH", "data/coa.json"),
		AccountNamesPath:  getEnv("ACCOUNT_NAMES_PATH", "data/account_names.json"),
		CategoryNamesPath: getEnv("CATEGORY_NAMES_PATH", "data/category_names.json"),
		CSVPath:           getEnv("CSV_PATH", "data/ledger-transactions.csv"),

		LedgerBaseURL: getEnv("LEDGER_BASE_URL", "https://api.pocketsmith.com/v2"),
		LedgerAPIKey:  os.Getenv("LEDGER_API_KEY"),
		LedgerUserID:  os.Getenv("LEDGER_USER_ID"),

		FXBaseURL:    getEnv("FX_BASE_URL", "https://api.frankfurter.app"),
		BaseCurrency: getEnv("BASE_CURRENCY", "USD"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		Port:     getEnv("PORT", "8080"),
	}

	var err error
	if cfg.LedgerTimeout, err = getDuration("LEDGER_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.FXTimeout, err = getDuration("FX_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.ModifiedThreshold, err = getDuration("MODIFIED_THRESHOLD", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.BatchSize, err = getInt("CSV_BATCH_SIZE", 1000); err != nil {
		return nil, err
	}

	rps := getEnv("LEDGER_RPS", "2")
	if cfg.LedgerRequestsPerSecond, err = strconv.ParseFloat(rps, 64); err != nil {
		return nil, fmt.Errorf("LEDGER_RPS: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks internal consistency.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendBigQuery:
		if c.ProjectID == "" {
			return errors.New("GCP_PROJECT_ID environment variable is required for the bigquery backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.BatchSize <= 0 {
		return errors.New("CSV_BATCH_SIZE must be positive")
	}
	if c.LedgerTimeout <= 0 || c.FXTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	if c.ModifiedThreshold < 0 {
		return errors.New("MODIFIED_THRESHOLD must not be negative")
	}
	if c.LedgerRequestsPerSecond <= 0 {
		return errors.New("LEDGER_RPS must be positive")
	}
	return nil
}

// RequireLedger reports an error unless ledger credentials are set.
func (c *Config) RequireLedger() error {
	if c.LedgerAPIKey == "" {
		return errors.New("LEDGER_API_KEY environment variable is required")
	}
	if c.LedgerUserID == "" {
		return errors.New("LEDGER_USER_ID environment variable is required")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
