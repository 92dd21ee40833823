package ingest

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"watch-arbitrage/internal/model"
)

// Drop reasons reported by Clean.
const (
	DropMissingField     = "missing-field"
	DropNonPositivePrice = "non-positive-price"
	DropAboveCeiling     = "above-price-ceiling"
)

// DefaultMaxRawPrice is the price ceiling above which quotes are treated as data errors.
var DefaultMaxRawPrice = decimal.NewFromInt(150000)

// CleanOptions tune the price ceiling applied by Clean.
type CleanOptions struct {
	// MaxPrice is the ceiling in reference-currency units. Zero selects DefaultMaxRawPrice.
	MaxPrice decimal.Decimal
	// Rates convert one unit of a foreign currency into the reference currency.
	// Quotes in a currency without a rate are compared to MaxPrice as given.
	Rates map[string]decimal.Decimal
}

func (o CleanOptions) ceilingValue(obs model.RawObservation) decimal.Decimal {
	if rate, ok := o.Rates[obs.Currency]; ok && rate.IsPositive() {
		return obs.Price.Mul(rate)
	}
	return obs.Price
}

// CleanReport counts what Clean kept and dropped.
type CleanReport struct {
	Input   int
	Kept    int
	Dropped map[string]int
}

// Reasons returns the drop reasons in a stable order.
func (r CleanReport) Reasons() []string {
	out := make([]string, 0, len(r.Dropped))
	for reason := range r.Dropped {
		out = append(out, reason)
	}
	sort.Strings(out)
	return out
}

// Clean standardises identifiers and currency codes and drops rows that cannot
// be priced. The ceiling is checked against the approximate reference value of
// each quote, so JPY or KRW list prices are not dropped for being large
// numbers. The input slice is not modified.
func Clean(observations []model.RawObservation, opts CleanOptions) ([]model.RawObservation, CleanReport) {
	if !opts.MaxPrice.IsPositive() {
		opts.MaxPrice = DefaultMaxRawPrice
	}
	report := CleanReport{Input: len(observations), Dropped: map[string]int{}}
	out := make([]model.RawObservation, 0, len(observations))

	for _, obs := range observations {
		obs.ProductID = strings.TrimSpace(obs.ProductID)
		obs.Collection = strings.TrimSpace(obs.Collection)
		obs.Brand = strings.TrimSpace(obs.Brand)
		obs.Currency = strings.ToUpper(strings.TrimSpace(obs.Currency))
		if !obs.Date.IsZero() {
			obs.Date = model.Day(obs.Date)
		}

		switch {
		case obs.ProductID == "" || obs.Currency == "" || obs.Date.IsZero():
			report.Dropped[DropMissingField]++
		case !obs.Price.IsPositive():
			report.Dropped[DropNonPositivePrice]++
		case opts.ceilingValue(obs).GreaterThan(opts.MaxPrice):
			report.Dropped[DropAboveCeiling]++
		default:
			out = append(out, obs)
		}
	}
	report.Kept = len(out)
	return out, report
}
