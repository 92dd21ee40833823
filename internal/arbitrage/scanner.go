// Package arbitrage detects cross-currency price discrepancies per product and date.
package arbitrage

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"watch-arbitrage/internal/model"
)

// SkipReason explains why a (product, date) group produced no comparison.
type SkipReason string

const (
	NoReferenceAnchor SkipReason = "no-reference-anchor"
	AnchorOutOfRange  SkipReason = "anchor-out-of-range"
)

// GroupSkip records a group the scanner deliberately did not evaluate.
type GroupSkip struct {
	ProductID string
	Date      time.Time
	Reason    SkipReason
}

// Config holds scanner thresholds.
type Config struct {
	ReferenceCurrency string
	AllowedCurrencies []string
	MinProfitPct      decimal.Decimal
	MaxProfitPct      decimal.Decimal
	Bound             model.Bound
	Workers           int
}

// DefaultConfig returns the scanner defaults for a EUR reference.
func DefaultConfig() Config {
	return Config{
		ReferenceCurrency: "EUR",
		AllowedCurrencies: []string{"EUR", "USD", "GBP", "CHF", "JPY", "SGD", "CNY", "AED"},
		MinProfitPct:      decimal.NewFromInt(1),
		MaxProfitPct:      decimal.NewFromInt(15),
		Bound:             model.DefaultBound(),
		Workers:           1,
	}
}

// Result is the scanner output.
type Result struct {
	Opportunities []model.Opportunity
	Skipped       []GroupSkip
}

// Scanner compares every foreign quote of a product against its reference quote on the same day.
type Scanner struct {
	cfg     Config
	allowed map[string]struct{}
	logger  zerolog.Logger
}

// NewScanner constructs a Scanner, filling unset fields from DefaultConfig.
func NewScanner(cfg Config, logger zerolog.Logger) *Scanner {
	def := DefaultConfig()
	cfg.ReferenceCurrency = strings.ToUpper(strings.TrimSpace(cfg.ReferenceCurrency))
	if cfg.ReferenceCurrency == "" {
		cfg.ReferenceCurrency = def.ReferenceCurrency
	}
	if len(cfg.AllowedCurrencies) == 0 {
		cfg.AllowedCurrencies = def.AllowedCurrencies
	}
	if cfg.MinProfitPct.IsZero() && cfg.MaxProfitPct.IsZero() {
		cfg.MinProfitPct, cfg.MaxProfitPct = def.MinProfitPct, def.MaxProfitPct
	}
	if cfg.Bound.Max.IsZero() {
		cfg.Bound = def.Bound
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	allowed := make(map[string]struct{}, len(cfg.AllowedCurrencies)+1)
	allowed[cfg.ReferenceCurrency] = struct{}{}
	for _, code := range cfg.AllowedCurrencies {
		allowed[strings.ToUpper(strings.TrimSpace(code))] = struct{}{}
	}

	return &Scanner{
		cfg:     cfg,
		allowed: allowed,
		logger:  logger.With().Str("component", "scanner").Logger(),
	}
}

// Config returns the effective configuration.
func (s *Scanner) Config() Config {
	return s.cfg
}

type groupKey struct {
	productID string
	date      string
}

type group struct {
	productID string
	date      time.Time
	// quotes keeps the first observation per currency.
	quotes map[string]model.NormalizedObservation
}

type groupOutcome struct {
	opportunities []model.Opportunity
	skip          *GroupSkip
}

// Scan evaluates every (product, date) group. Groups are processed in product
// then date order, currencies within a group in code order.
func (s *Scanner) Scan(ctx context.Context, observations []model.NormalizedObservation) (Result, error) {
	groups := s.group(observations)
	outcomes := make([]groupOutcome, len(groups))

	if s.cfg.Workers == 1 || len(groups) < 2 {
		for i, g := range groups {
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
			outcomes[i] = s.scanGroup(g)
		}
	} else {
		eg, egctx := errgroup.WithContext(ctx)
		eg.SetLimit(s.cfg.Workers)
		for i := range groups {
			i := i
			eg.Go(func() error {
				if err := egctx.Err(); err != nil {
					return err
				}
				outcomes[i] = s.scanGroup(groups[i])
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return Result{}, err
		}
	}

	var result Result
	for _, outcome := range outcomes {
		result.Opportunities = append(result.Opportunities, outcome.opportunities...)
		if outcome.skip != nil {
			result.Skipped = append(result.Skipped, *outcome.skip)
		}
	}

	s.logger.Info().
		Int("groups", len(groups)).
		Int("skipped", len(result.Skipped)).
		Int("opportunities", len(result.Opportunities)).
		Msg("arbitrage scan completed")

	return result, nil
}

func (s *Scanner) group(observations []model.NormalizedObservation) []*group {
	index := make(map[groupKey]*group)
	for _, obs := range observations {
		if !obs.HasReferencePrice() {
			continue
		}
		code := strings.ToUpper(strings.TrimSpace(obs.Currency))
		if _, ok := s.allowed[code]; !ok {
			continue
		}
		key := groupKey{productID: obs.ProductID, date: model.DateKey(obs.Date)}
		g, ok := index[key]
		if !ok {
			g = &group{productID: obs.ProductID, date: model.Day(obs.Date), quotes: make(map[string]model.NormalizedObservation)}
			index[key] = g
		}
		if _, dup := g.quotes[code]; dup {
			continue
		}
		g.quotes[code] = obs
	}

	groups := make([]*group, 0, len(index))
	for _, g := range index {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].productID != groups[j].productID {
			return groups[i].productID < groups[j].productID
		}
		return groups[i].date.Before(groups[j].date)
	})
	return groups
}

func (s *Scanner) scanGroup(g *group) groupOutcome {
	anchor, ok := g.quotes[s.cfg.ReferenceCurrency]
	if !ok {
		return s.skip(g, NoReferenceAnchor)
	}
	if !s.cfg.Bound.Contains(anchor.Price) {
		return s.skip(g, AnchorOutOfRange)
	}

	codes := make([]string, 0, len(g.quotes))
	for code := range g.quotes {
		if code != s.cfg.ReferenceCurrency {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)

	var out groupOutcome
	hundred := decimal.NewFromInt(100)
	for _, code := range codes {
		foreign := g.quotes[code]
		if !s.cfg.Bound.Contains(foreign.ReferencePrice) || !foreign.Price.IsPositive() {
			continue
		}
		implied := foreign.ReferencePrice.Div(foreign.Price)

		switch {
		case foreign.ReferencePrice.GreaterThan(anchor.Price):
			profit := foreign.ReferencePrice.Sub(anchor.Price)
			pct := profit.Div(anchor.Price).Mul(hundred)
			if s.inBand(pct) {
				out.opportunities = append(out.opportunities, model.Opportunity{
					ProductID:          g.productID,
					Date:               g.date,
					BuyCurrency:        s.cfg.ReferenceCurrency,
					BuyPriceLocal:      anchor.Price,
					BuyPriceReference:  anchor.Price,
					SellCurrency:       code,
					SellPriceLocal:     foreign.Price,
					SellPriceReference: foreign.ReferencePrice,
					ImpliedRate:        implied,
					ProfitReference:    profit,
					ProfitPct:          pct,
					Direction:          model.ReferenceToForeign,
				})
			}
		case anchor.Price.GreaterThan(foreign.ReferencePrice):
			profit := anchor.Price.Sub(foreign.ReferencePrice)
			pct := profit.Div(foreign.ReferencePrice).Mul(hundred)
			if s.inBand(pct) {
				out.opportunities = append(out.opportunities, model.Opportunity{
					ProductID:          g.productID,
					Date:               g.date,
					BuyCurrency:        code,
					BuyPriceLocal:      foreign.Price,
					BuyPriceReference:  foreign.ReferencePrice,
					SellCurrency:       s.cfg.ReferenceCurrency,
					SellPriceLocal:     anchor.Price,
					SellPriceReference: anchor.Price,
					ImpliedRate:        implied,
					ProfitReference:    profit,
					ProfitPct:          pct,
					Direction:          model.ForeignToReference,
				})
			}
		}
	}
	return out
}

func (s *Scanner) inBand(pct decimal.Decimal) bool {
	return pct.GreaterThanOrEqual(s.cfg.MinProfitPct) && pct.LessThanOrEqual(s.cfg.MaxProfitPct)
}

func (s *Scanner) skip(g *group, reason SkipReason) groupOutcome {
	s.logger.Debug().
		Str("product_id", g.productID).
		Str("date", model.DateKey(g.date)).
		Str("reason", string(reason)).
		Msg("group skipped")
	return groupOutcome{skip: &GroupSkip{ProductID: g.productID, Date: g.date, Reason: reason}}
}
