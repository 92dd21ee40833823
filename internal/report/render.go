package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"watch-arbitrage/internal/model"
)

// NoOpportunities is the report text for an empty opportunity set.
const NoOpportunities = "No arbitrage opportunities found."

// RenderOptions tune the text report.
type RenderOptions struct {
	ReferenceCurrency string
	Brand             string
	TopN              int
}

// Render produces the text report: global overview, per-direction breakdown
// and the best opportunities on the most recent date.
func Render(opps []model.Opportunity, opts RenderOptions) string {
	if len(opps) == 0 {
		return NoOpportunities
	}
	ref := strings.ToUpper(opts.ReferenceCurrency)
	if ref == "" {
		ref = "EUR"
	}
	topN := opts.TopN
	if topN <= 0 {
		topN = 5
	}
	title := strings.ToUpper(strings.TrimSpace(opts.Brand))
	if title == "" {
		title = "WATCH"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s ARBITRAGE REPORT\n\n", title)

	b.WriteString("1. GENERAL OVERVIEW\n")
	profit, pct := means(opps)
	fmt.Fprintf(&b, "Total opportunities: %d\n", len(opps))
	fmt.Fprintf(&b, "Average profit: %s %s\n", profit.StringFixed(2), ref)
	fmt.Fprintf(&b, "Average profit (%%): %s%%\n", pct.StringFixed(1))

	b.WriteString("\n2. DIRECTIONAL ANALYSIS\n")
	for _, dir := range model.Directions {
		var subset []model.Opportunity
		for _, o := range opps {
			if o.Direction == dir {
				subset = append(subset, o)
			}
		}
		label := dir.Label(ref)
		fmt.Fprintf(&b, "\n%s:\n", label)
		fmt.Fprintf(&b, "- Number of opportunities: %d\n", len(subset))
		if len(subset) == 0 {
			continue
		}
		profit, pct := means(subset)
		fmt.Fprintf(&b, "- Average profit: %s %s\n", profit.StringFixed(2), ref)
		fmt.Fprintf(&b, "- Average profit (%%): %s%%\n", pct.StringFixed(1))

		best := subset[0]
		for _, o := range subset[1:] {
			if o.ProfitReference.GreaterThan(best.ProfitReference) {
				best = o
			}
		}
		fmt.Fprintf(&b, "\nBest opportunity %s:\n", label)
		fmt.Fprintf(&b, "- Reference: %s\n", best.ProductID)
		fmt.Fprintf(&b, "- Buy: %s %s\n", best.BuyPriceLocal.StringFixed(2), best.BuyCurrency)
		fmt.Fprintf(&b, "- Sell: %s %s\n", best.SellPriceLocal.StringFixed(2), best.SellCurrency)
		fmt.Fprintf(&b, "- Profit: %s %s (%s%%)\n", best.ProfitReference.StringFixed(2), ref, best.ProfitPct.StringFixed(1))
		if dir == model.ReferenceToForeign && best.ImpliedRate.IsPositive() {
			fmt.Fprintf(&b, "- Exchange rate: 1 %s = %s %s\n", ref, decimal.NewFromInt(1).Div(best.ImpliedRate).StringFixed(4), best.SellCurrency)
		} else {
			fmt.Fprintf(&b, "- Exchange rate: 1 %s = %s %s\n", best.ForeignCurrency(), best.ImpliedRate.StringFixed(4), ref)
		}
	}

	latest := latestDate(opps)
	current := make([]model.Opportunity, 0)
	for _, o := range opps {
		if o.Date.Equal(latest) {
			current = append(current, o)
		}
	}
	sort.SliceStable(current, func(i, j int) bool {
		return current[i].ProfitPct.GreaterThan(current[j].ProfitPct)
	})
	if len(current) > topN {
		current = current[:topN]
	}

	fmt.Fprintf(&b, "\n3. CURRENT OPPORTUNITIES (Top %d)\n", topN)
	fmt.Fprintf(&b, "\nDate: %s\n", model.DateKey(latest))
	for _, o := range current {
		fmt.Fprintf(&b, "\nReference: %s\n", o.ProductID)
		fmt.Fprintf(&b, "Direction: %s\n", o.Direction.Label(ref))
		fmt.Fprintf(&b, "Buy: %s %s\n", o.BuyPriceLocal.StringFixed(2), o.BuyCurrency)
		fmt.Fprintf(&b, "Sell: %s %s\n", o.SellPriceLocal.StringFixed(2), o.SellCurrency)
		fmt.Fprintf(&b, "Rate: 1 %s = %s %s\n", o.ForeignCurrency(), o.ImpliedRate.StringFixed(4), ref)
		fmt.Fprintf(&b, "Profit: %s %s (%s%%)\n", o.ProfitReference.StringFixed(2), ref, o.ProfitPct.StringFixed(1))
	}

	return strings.TrimRight(b.String(), "\n")
}

func means(opps []model.Opportunity) (decimal.Decimal, decimal.Decimal) {
	if len(opps) == 0 {
		return decimal.Zero, decimal.Zero
	}
	var profit, pct decimal.Decimal
	for _, o := range opps {
		profit = profit.Add(o.ProfitReference)
		pct = pct.Add(o.ProfitPct)
	}
	n := decimal.NewFromInt(int64(len(opps)))
	return profit.Div(n), pct.Div(n)
}

func latestDate(opps []model.Opportunity) time.Time {
	var latest time.Time
	for _, o := range opps {
		if o.Date.After(latest) {
			latest = o.Date
		}
	}
	return latest
}
