package fetcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"watch-arbitrage/internal/model"
)

// RateCache stores unit rates keyed by pair and date. A zero rate marks a
// pair the upstream source could not serve.
type RateCache interface {
	GetRate(ctx context.Context, key string) (decimal.Decimal, bool, error)
	SetRate(ctx context.Context, key string, rate decimal.Decimal) error
}

// quoteAmount is the amount requested upstream when learning a unit rate.
// Sources round their converted result, so quoting a unit amount would lose
// the significant digits of small rates such as JPY or KRW.
var quoteAmount = decimal.NewFromInt(10000)

// Cached memoises unit rates of an upstream fetcher.
type Cached struct {
	inner  HistoricalRateFetcher
	cache  RateCache
	logger zerolog.Logger
}

// NewCached wraps inner with cache.
func NewCached(inner HistoricalRateFetcher, cache RateCache, logger zerolog.Logger) *Cached {
	return &Cached{inner: inner, cache: cache, logger: logger.With().Str("component", "rate_cache").Logger()}
}

// Convert serves the unit rate from cache when possible and scales it by amount.
func (c *Cached) Convert(ctx context.Context, amount decimal.Decimal, from, to string, date time.Time) (decimal.Decimal, error) {
	from = strings.ToUpper(strings.TrimSpace(from))
	to = strings.ToUpper(strings.TrimSpace(to))
	if from == to {
		return amount, nil
	}

	key := RateKey(from, to, date)
	rate, found, err := c.cache.GetRate(ctx, key)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("rate cache read failed")
	}
	if err == nil && found {
		if rate.IsZero() {
			return decimal.Decimal{}, fmt.Errorf("%w: %s->%s on %s (cached)", ErrRateUnavailable, from, to, model.DateKey(date))
		}
		return amount.Mul(rate), nil
	}

	quoted, err := c.inner.Convert(ctx, quoteAmount, from, to, date)
	if err != nil {
		if errors.Is(err, ErrRateUnavailable) {
			c.store(ctx, key, decimal.Zero)
		}
		return decimal.Decimal{}, err
	}
	rate = quoted.Div(quoteAmount)

	c.store(ctx, key, rate)
	return amount.Mul(rate), nil
}

func (c *Cached) store(ctx context.Context, key string, rate decimal.Decimal) {
	if err := c.cache.SetRate(ctx, key, rate); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("rate cache write failed")
	}
}

// RateKey builds the cache key for a pair on a calendar date.
func RateKey(from, to string, date time.Time) string {
	return "fx:" + from + ":" + to + ":" + model.DateKey(date)
}

var _ HistoricalRateFetcher = (*Cached)(nil)
