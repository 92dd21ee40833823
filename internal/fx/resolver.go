// Package fx resolves quoted prices into the reference currency.
package fx

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"watch-arbitrage/internal/fetcher"
	"watch-arbitrage/internal/model"
)

// Reason classifies a conversion failure.
type Reason string

const (
	NoRateAvailable     Reason = "no-rate-available"
	RateDisagreement    Reason = "rate-disagreement"
	OutOfPlausibleRange Reason = "out-of-plausible-range"
)

// ConversionFailure is the per-row error produced when a price cannot be trusted.
type ConversionFailure struct {
	Currency string
	Reason   Reason
}

func (e *ConversionFailure) Error() string {
	return fmt.Sprintf("convert %s: %s", e.Currency, e.Reason)
}

// Resolution is a successfully resolved reference-currency amount.
type Resolution struct {
	Amount decimal.Decimal
	Method model.ConversionMethod
	// Disagreement is set when a precise rate was discarded in favour of the fallback table.
	Disagreement bool
}

// ResolverOptions parameterise a Resolver.
type ResolverOptions struct {
	ReferenceCurrency string
	Fallback          FallbackTable
	// Tolerance is the maximum relative distance between precise and fallback amounts.
	Tolerance decimal.Decimal
}

// Resolver converts amounts into the reference currency, preferring a precise
// historical source and cross-checking it against a static fallback table.
type Resolver struct {
	reference string
	fallback  FallbackTable
	tolerance decimal.Decimal
	precise   fetcher.HistoricalRateFetcher
	logger    zerolog.Logger
}

// NewResolver constructs a Resolver. precise may be nil, in which case only the fallback table is used.
func NewResolver(opts ResolverOptions, precise fetcher.HistoricalRateFetcher, logger zerolog.Logger) *Resolver {
	reference := strings.ToUpper(strings.TrimSpace(opts.ReferenceCurrency))
	if reference == "" {
		reference = "EUR"
	}
	tolerance := opts.Tolerance
	if !tolerance.IsPositive() {
		tolerance = decimal.NewFromFloat(0.10)
	}
	fallback := opts.Fallback
	if fallback == nil {
		fallback = FallbackTable{}
	}
	return &Resolver{
		reference: reference,
		fallback:  fallback,
		tolerance: tolerance,
		precise:   precise,
		logger:    logger.With().Str("component", "resolver").Logger(),
	}
}

// ReferenceCurrency returns the currency every amount is resolved into.
func (r *Resolver) ReferenceCurrency() string {
	return r.reference
}

// Resolve returns amount expressed in the reference currency. The error, when
// not nil, is always a *ConversionFailure.
func (r *Resolver) Resolve(ctx context.Context, amount decimal.Decimal, currency string, date time.Time) (Resolution, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == r.reference {
		return Resolution{Amount: amount, Method: model.MethodIdentity}, nil
	}

	var (
		precise    decimal.Decimal
		hasPrecise bool
	)
	if r.precise != nil {
		converted, err := r.precise.Convert(ctx, amount, currency, r.reference, date)
		if err != nil {
			r.logger.Debug().Err(err).
				Str("currency", currency).
				Str("date", model.DateKey(date)).
				Msg("precise conversion unavailable")
		} else if converted.IsPositive() {
			precise, hasPrecise = converted, true
		}
	}

	estimate, hasFallback := r.fallback.Estimate(amount, currency)

	switch {
	case hasPrecise && hasFallback:
		if r.agrees(precise, estimate) {
			return Resolution{Amount: precise, Method: model.MethodPrecise}, nil
		}
		r.logger.Debug().
			Str("currency", currency).
			Str("date", model.DateKey(date)).
			Str("precise", precise.StringFixed(2)).
			Str("fallback", estimate.StringFixed(2)).
			Msg("precise rate disagrees with fallback table")
		return Resolution{Amount: estimate, Method: model.MethodFallback, Disagreement: true}, nil
	case hasPrecise:
		return Resolution{Amount: precise, Method: model.MethodPrecise}, nil
	case hasFallback:
		return Resolution{Amount: estimate, Method: model.MethodFallback}, nil
	default:
		return Resolution{}, &ConversionFailure{Currency: currency, Reason: NoRateAvailable}
	}
}

func (r *Resolver) agrees(precise, estimate decimal.Decimal) bool {
	if estimate.IsZero() {
		return false
	}
	deviation := precise.Sub(estimate).Abs().Div(estimate)
	return deviation.LessThanOrEqual(r.tolerance)
}
