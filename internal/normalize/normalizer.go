// Package normalize converts raw observations into reference-currency prices.
package normalize

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"watch-arbitrage/internal/fx"
	"watch-arbitrage/internal/model"
)

// Resolver is the rate resolution dependency of the normalizer.
type Resolver interface {
	Resolve(ctx context.Context, amount decimal.Decimal, currency string, date time.Time) (fx.Resolution, error)
}

// Options tune normalizer behaviour.
type Options struct {
	Bound   model.Bound
	Workers int
}

// Normalizer applies the resolver and the plausibility bound to every observation.
type Normalizer struct {
	resolver Resolver
	bound    model.Bound
	workers  int
	logger   zerolog.Logger
}

// New constructs a Normalizer.
func New(resolver Resolver, opts Options, logger zerolog.Logger) *Normalizer {
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	bound := opts.Bound
	if bound.Max.IsZero() {
		bound = model.DefaultBound()
	}
	return &Normalizer{
		resolver: resolver,
		bound:    bound,
		workers:  workers,
		logger:   logger.With().Str("component", "normalizer").Logger(),
	}
}

// Normalize resolves every observation. The output is one-to-one with the
// input and in the same order; failed rows are kept with MethodFailed.
func (n *Normalizer) Normalize(ctx context.Context, observations []model.RawObservation) ([]model.NormalizedObservation, Stats) {
	out := make([]model.NormalizedObservation, len(observations))
	stats := newStatsCollector()

	if n.workers == 1 || len(observations) < 2 {
		for i, obs := range observations {
			out[i] = n.normalizeOne(ctx, obs, stats)
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(n.workers)
		for i := range observations {
			i := i
			g.Go(func() error {
				out[i] = n.normalizeOne(gctx, observations[i], stats)
				return nil
			})
		}
		_ = g.Wait()
	}

	result := stats.snapshot()
	n.logger.Info().
		Int("observations", len(observations)).
		Int("converted", result.Total.Converted()).
		Int("failed", result.Total.Failed).
		Msg("normalization completed")
	for _, cs := range result.Currencies {
		n.logger.Debug().
			Str("currency", cs.Currency).
			Int("attempted", cs.Attempted).
			Int("identity", cs.Identity).
			Int("precise", cs.Precise).
			Int("fallback", cs.Fallback).
			Int("disagreements", cs.Disagreements).
			Int("failed", cs.Failed).
			Msg("conversion statistics")
	}

	return out, result
}

func (n *Normalizer) normalizeOne(ctx context.Context, obs model.RawObservation, stats *statsCollector) model.NormalizedObservation {
	normalized := model.NormalizedObservation{RawObservation: obs, Method: model.MethodFailed}

	res, err := n.resolver.Resolve(ctx, obs.Price, obs.Currency, obs.Date)
	if err != nil {
		reason := fx.NoRateAvailable
		var failure *fx.ConversionFailure
		if errors.As(err, &failure) {
			reason = failure.Reason
		}
		normalized.FailureReason = string(reason)
		stats.record(obs.Currency, normalized, false)
		n.logger.Debug().Err(err).
			Str("product_id", obs.ProductID).
			Str("currency", obs.Currency).
			Str("date", model.DateKey(obs.Date)).
			Msg("conversion failed")
		return normalized
	}

	if !n.bound.Contains(res.Amount) {
		normalized.FailureReason = string(fx.OutOfPlausibleRange)
		stats.record(obs.Currency, normalized, res.Disagreement)
		n.logger.Debug().
			Str("product_id", obs.ProductID).
			Str("currency", obs.Currency).
			Str("reference_price", res.Amount.StringFixed(2)).
			Msg("converted price outside plausibility bound")
		return normalized
	}

	normalized.ReferencePrice = res.Amount
	normalized.Method = res.Method
	stats.record(obs.Currency, normalized, res.Disagreement)
	return normalized
}

// Usable drops observations without a reference price, preserving order.
func Usable(observations []model.NormalizedObservation) []model.NormalizedObservation {
	out := make([]model.NormalizedObservation, 0, len(observations))
	for _, obs := range observations {
		if obs.HasReferencePrice() {
			out = append(out, obs)
		}
	}
	return out
}

// CurrencyStats counts conversion outcomes for one source currency.
type CurrencyStats struct {
	Currency      string
	Attempted     int
	Identity      int
	Precise       int
	Fallback      int
	Disagreements int
	Failed        int
	FailedBy      map[string]int
}

// Converted returns the number of observations that kept a reference price.
func (c CurrencyStats) Converted() int {
	return c.Identity + c.Precise + c.Fallback
}

// SuccessRate returns the converted share of attempts, 0 when nothing was attempted.
func (c CurrencyStats) SuccessRate() float64 {
	if c.Attempted == 0 {
		return 0
	}
	return float64(c.Converted()) / float64(c.Attempted)
}

// Stats summarises one normalization pass.
type Stats struct {
	Total      CurrencyStats
	Currencies []CurrencyStats
}

type statsCollector struct {
	mu     sync.Mutex
	byCode map[string]*CurrencyStats
}

func newStatsCollector() *statsCollector {
	return &statsCollector{byCode: make(map[string]*CurrencyStats)}
}

func (s *statsCollector) record(currency string, obs model.NormalizedObservation, disagreement bool) {
	currency = strings.ToUpper(strings.TrimSpace(currency))

	s.mu.Lock()
	defer s.mu.Unlock()

	cs, ok := s.byCode[currency]
	if !ok {
		cs = &CurrencyStats{Currency: currency, FailedBy: map[string]int{}}
		s.byCode[currency] = cs
	}
	cs.Attempted++
	if disagreement {
		cs.Disagreements++
	}
	switch obs.Method {
	case model.MethodIdentity:
		cs.Identity++
	case model.MethodPrecise:
		cs.Precise++
	case model.MethodFallback:
		cs.Fallback++
	default:
		cs.Failed++
		cs.FailedBy[obs.FailureReason]++
	}
}

func (s *statsCollector) snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{Total: CurrencyStats{Currency: "ALL", FailedBy: map[string]int{}}}
	codes := make([]string, 0, len(s.byCode))
	for code := range s.byCode {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	for _, code := range codes {
		cs := *s.byCode[code]
		stats.Currencies = append(stats.Currencies, cs)
		stats.Total.Attempted += cs.Attempted
		stats.Total.Identity += cs.Identity
		stats.Total.Precise += cs.Precise
		stats.Total.Fallback += cs.Fallback
		stats.Total.Disagreements += cs.Disagreements
		stats.Total.Failed += cs.Failed
		for reason, count := range cs.FailedBy {
			stats.Total.FailedBy[reason] += count
		}
	}
	return stats
}
