// Package report aggregates arbitrage opportunities and observation snapshots
// into summaries and human-readable text.
package report

import (
	"sort"

	"github.com/shopspring/decimal"

	"watch-arbitrage/internal/model"
)

// CurrencyCount is the number of opportunities involving one foreign currency.
type CurrencyCount struct {
	Currency string
	Count    int
}

// ProductProfit is the mean profit of one product across its opportunities.
type ProductProfit struct {
	ProductID string
	Mean      decimal.Decimal
}

// Summary aggregates opportunities meeting a profit threshold.
type Summary struct {
	Count         int
	MeanProfit    decimal.Decimal
	MeanProfitPct decimal.Decimal
	// Best is the opportunity with the highest absolute profit, nil when Count is 0.
	Best        *model.Opportunity
	ByCurrency  []CurrencyCount
	TopProducts []ProductProfit
}

// Empty reports whether the summary holds no opportunities.
func (s Summary) Empty() bool {
	return s.Count == 0
}

// Summarize keeps opportunities with ProfitPct >= minProfitPct and aggregates them.
// An empty or fully filtered input yields the zero Summary.
func Summarize(opps []model.Opportunity, minProfitPct decimal.Decimal) Summary {
	valid := make([]model.Opportunity, 0, len(opps))
	for _, o := range opps {
		if o.ProfitPct.GreaterThanOrEqual(minProfitPct) {
			valid = append(valid, o)
		}
	}
	if len(valid) == 0 {
		return Summary{}
	}

	var (
		sumProfit, sumPct decimal.Decimal
		best              = valid[0]
		counts            = make(map[string]int)
	)
	for _, o := range valid {
		sumProfit = sumProfit.Add(o.ProfitReference)
		sumPct = sumPct.Add(o.ProfitPct)
		if o.ProfitReference.GreaterThan(best.ProfitReference) {
			best = o
		}
		counts[o.ForeignCurrency()]++
	}

	n := decimal.NewFromInt(int64(len(valid)))
	return Summary{
		Count:         len(valid),
		MeanProfit:    sumProfit.Div(n),
		MeanProfitPct: sumPct.Div(n),
		Best:          &best,
		ByCurrency:    sortedCounts(counts),
		TopProducts: topProducts(valid, 5, func(o model.Opportunity) decimal.Decimal {
			return o.ProfitReference
		}),
	}
}

// CurrencyStats describes how consistently one foreign currency yields opportunities.
type CurrencyStats struct {
	Currency      string
	Occurrences   int
	MeanProfit    decimal.Decimal
	MeanProfitPct decimal.Decimal
	// SuccessRate is the fraction of occurrences whose ProfitPct meets the minimum.
	SuccessRate  float64
	BestProducts []ProductProfit
}

// FindStablePairs returns foreign currencies with at least minOccurrence
// opportunities and a mean profit percentage of at least minProfitPct,
// sorted by mean profit percentage descending.
func FindStablePairs(opps []model.Opportunity, minOccurrence int, minProfitPct decimal.Decimal) []CurrencyStats {
	byCurrency := make(map[string][]model.Opportunity)
	var order []string
	for _, o := range opps {
		code := o.ForeignCurrency()
		if _, ok := byCurrency[code]; !ok {
			order = append(order, code)
		}
		byCurrency[code] = append(byCurrency[code], o)
	}

	out := make([]CurrencyStats, 0, len(order))
	for _, code := range order {
		group := byCurrency[code]
		if len(group) < minOccurrence || len(group) == 0 {
			continue
		}
		var sumProfit, sumPct decimal.Decimal
		meeting := 0
		for _, o := range group {
			sumProfit = sumProfit.Add(o.ProfitReference)
			sumPct = sumPct.Add(o.ProfitPct)
			if o.ProfitPct.GreaterThanOrEqual(minProfitPct) {
				meeting++
			}
		}
		n := decimal.NewFromInt(int64(len(group)))
		meanPct := sumPct.Div(n)
		if meanPct.LessThan(minProfitPct) {
			continue
		}
		out = append(out, CurrencyStats{
			Currency:      code,
			Occurrences:   len(group),
			MeanProfit:    sumProfit.Div(n),
			MeanProfitPct: meanPct,
			SuccessRate:   float64(meeting) / float64(len(group)),
			BestProducts: topProducts(group, 3, func(o model.Opportunity) decimal.Decimal {
				return o.ProfitPct
			}),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].MeanProfitPct.GreaterThan(out[j].MeanProfitPct)
	})
	return out
}

func sortedCounts(counts map[string]int) []CurrencyCount {
	out := make([]CurrencyCount, 0, len(counts))
	for code, n := range counts {
		out = append(out, CurrencyCount{Currency: code, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Currency < out[j].Currency
	})
	return out
}

func topProducts(opps []model.Opportunity, limit int, value func(model.Opportunity) decimal.Decimal) []ProductProfit {
	sums := make(map[string]decimal.Decimal)
	counts := make(map[string]int64)
	for _, o := range opps {
		sums[o.ProductID] = sums[o.ProductID].Add(value(o))
		counts[o.ProductID]++
	}

	out := make([]ProductProfit, 0, len(sums))
	for id, sum := range sums {
		out = append(out, ProductProfit{ProductID: id, Mean: sum.Div(decimal.NewFromInt(counts[id]))})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Mean.Equal(out[j].Mean) {
			return out[i].Mean.GreaterThan(out[j].Mean)
		}
		return out[i].ProductID < out[j].ProductID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
