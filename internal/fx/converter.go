// Package fx looks up point-in-time exchange rates and applies the rate=1
// fallback when a rate is unavailable.
package fx

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// RateProvider is the FX collaborator.
type RateProvider interface {
	Rate(ctx context.Context, base, quote string, asOf time.Time) (decimal.Decimal, bool, error)
}

// Rate is a resolved rate. Degraded is set when the provider could not
// supply a usable value and 1 was substituted.
type Rate struct {
	Value    decimal.Decimal
	Degraded bool
}

// Converter wraps a provider with the fallback policy and memoises usable
// rates per currency pair and day. Fallbacks are not memoised, so a later
// call retries the provider. Safe for concurrent use.
type Converter struct {
	provider RateProvider
	log      zerolog.Logger

	mu    sync.Mutex
	cache map[string]Rate
}

func NewConverter(provider RateProvider, log zerolog.Logger) *Converter {
	return &Converter{
		provider: provider,
		log:      log,
		cache:    make(map[string]Rate),
	}
}

// Rate never fails. Same currency yields 1 without a provider call; an
// absent, failed or non-positive lookup yields 1 with Degraded set and a
// warning logged.
func (c *Converter) Rate(ctx context.Context, base, quote string, asOf time.Time) Rate {
	base = strings.ToUpper(strings.TrimSpace(base))
	quote = strings.ToUpper(strings.TrimSpace(quote))
	if base == quote {
		return Rate{Value: decimal.NewFromInt(1)}
	}

	key := base + "/" + quote + "@" + asOf.UTC().Format("2006-01-02")
	c.mu.Lock()
	if r, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return r
	}
	c.mu.Unlock()

	r := c.lookup(ctx, base, quote, asOf)
	if r.Degraded {
		return r
	}

	c.mu.Lock()
	c.cache[key] = r
	c.mu.Unlock()
	return r
}

func (c *Converter) lookup(ctx context.Context, base, quote string, asOf time.Time) Rate {
	fallback := Rate{Value: decimal.NewFromInt(1), Degraded: true}
	if c.provider == nil {
		return fallback
	}

	value, ok, err := c.provider.Rate(ctx, base, quote, asOf)
	switch {
	case err != nil:
		c.warn(base, quote, asOf).Err(err).Msg("FX lookup failed, using rate 1")
		return fallback
	case !ok:
		c.warn(base, quote, asOf).Msg("FX rate unavailable, using rate 1")
		return fallback
	case !value.IsPositive():
		c.warn(base, quote, asOf).Str("rate", value.String()).Msg("FX rate not positive, using rate 1")
		return fallback
	}
	return Rate{Value: value}
}

func (c *Converter) warn(base, quote string, asOf time.Time) *zerolog.Event {
	return c.log.Warn().Str("base", base).Str("quote", quote).Time("as_of", asOf)
}

// ToBase converts amount quoted in a currency to the base currency using a
// rate expressed as quote units per base unit.
func ToBase(amount decimal.Decimal, r Rate) decimal.Decimal {
	if r.Value.IsZero() {
		return amount
	}
	return amount.DivRound(r.Value, 8)
}
