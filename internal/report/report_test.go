package report

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watch-arbitrage/internal/model"
)

var (
	june1 = time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)
	june2 = time.Date(2022, 6, 2, 0, 0, 0, 0, time.UTC)
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func refToForeign(product string, date time.Time, foreign, buy, sellRef, pct string) model.Opportunity {
	profit := d(sellRef).Sub(d(buy))
	return model.Opportunity{
		ProductID:          product,
		Date:               date,
		BuyCurrency:        "EUR",
		BuyPriceLocal:      d(buy),
		BuyPriceReference:  d(buy),
		SellCurrency:       foreign,
		SellPriceLocal:     d(sellRef).Mul(d("1.1")),
		SellPriceReference: d(sellRef),
		ImpliedRate:        d("0.9"),
		ProfitReference:    profit,
		ProfitPct:          d(pct),
		Direction:          model.ReferenceToForeign,
	}
}

func foreignToRef(product string, date time.Time, foreign, buyRef, sell, pct string) model.Opportunity {
	return model.Opportunity{
		ProductID:          product,
		Date:               date,
		BuyCurrency:        foreign,
		BuyPriceLocal:      d(buyRef).Div(d("1.2")),
		BuyPriceReference:  d(buyRef),
		SellCurrency:       "EUR",
		SellPriceLocal:     d(sell),
		SellPriceReference: d(sell),
		ImpliedRate:        d("1.2"),
		ProfitReference:    d(sell).Sub(d(buyRef)),
		ProfitPct:          d(pct),
		Direction:          model.ForeignToReference,
	}
}

func sampleOpportunities() []model.Opportunity {
	return []model.Opportunity{
		refToForeign("P1", june1, "USD", "10000", "10800", "8"),
		foreignToRef("P2", june1, "GBP", "20000", "21000", "5"),
		refToForeign("P3", june2, "USD", "10000", "10150", "1.5"),
		refToForeign("P1", june2, "CHF", "10000", "11100", "10"),
		foreignToRef("P2", june2, "GBP", "20000", "21000", "5"),
	}
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil, decimal.NewFromInt(2))
	assert.True(t, s.Empty())
	assert.Nil(t, s.Best)
	assert.Empty(t, s.ByCurrency)
	assert.Empty(t, s.TopProducts)

	filtered := Summarize(sampleOpportunities(), decimal.NewFromInt(50))
	assert.True(t, filtered.Empty())
}

func TestSummarize(t *testing.T) {
	s := Summarize(sampleOpportunities(), decimal.NewFromInt(2))

	require.False(t, s.Empty())
	assert.Equal(t, 4, s.Count)
	assert.True(t, s.MeanProfitPct.Equal(d("7")), "got %s", s.MeanProfitPct)
	assert.True(t, s.MeanProfit.Equal(d("975")), "got %s", s.MeanProfit)

	require.NotNil(t, s.Best)
	assert.Equal(t, "P1", s.Best.ProductID)
	assert.Equal(t, "CHF", s.Best.SellCurrency)

	assert.Equal(t, []CurrencyCount{{"GBP", 2}, {"CHF", 1}, {"USD", 1}}, s.ByCurrency)
	require.Len(t, s.TopProducts, 2)
	assert.Equal(t, "P2", s.TopProducts[0].ProductID)
	assert.Equal(t, "P1", s.TopProducts[1].ProductID)
}

func TestSummarizeBestTieKeepsFirst(t *testing.T) {
	opps := []model.Opportunity{
		foreignToRef("P2", june1, "GBP", "20000", "21000", "5"),
		foreignToRef("P9", june2, "SGD", "20000", "21000", "5"),
	}
	s := Summarize(opps, decimal.Zero)
	require.NotNil(t, s.Best)
	assert.Equal(t, "P2", s.Best.ProductID)
}

func TestFindStablePairs(t *testing.T) {
	opps := append(sampleOpportunities(),
		refToForeign("P4", june2, "USD", "10000", "10100", "1"),
	)

	pairs := FindStablePairs(opps, 2, decimal.NewFromInt(2))
	require.Len(t, pairs, 2)

	assert.Equal(t, "GBP", pairs[0].Currency)
	assert.Equal(t, 2, pairs[0].Occurrences)
	assert.InDelta(t, 1.0, pairs[0].SuccessRate, 1e-9)

	usd := pairs[1]
	assert.Equal(t, "USD", usd.Currency)
	assert.Equal(t, 3, usd.Occurrences)
	assert.True(t, usd.MeanProfitPct.Equal(d("3.5")), "got %s", usd.MeanProfitPct)
	assert.InDelta(t, 1.0/3.0, usd.SuccessRate, 1e-9)
	require.Len(t, usd.BestProducts, 3)
	assert.Equal(t, "P1", usd.BestProducts[0].ProductID)

	assert.Empty(t, FindStablePairs(nil, 1, decimal.Zero))
	assert.Empty(t, FindStablePairs(opps, 10, decimal.Zero))
}

func TestRenderEmpty(t *testing.T) {
	assert.Equal(t, NoOpportunities, Render(nil, RenderOptions{}))
}

func TestRender(t *testing.T) {
	out := Render(sampleOpportunities(), RenderOptions{ReferenceCurrency: "EUR", Brand: "Panerai"})

	assert.True(t, strings.HasPrefix(out, "PANERAI ARBITRAGE REPORT"))
	assert.Contains(t, out, "Total opportunities: 5")
	assert.Contains(t, out, "EUR->Foreign:\n- Number of opportunities: 3")
	assert.Contains(t, out, "Foreign->EUR:\n- Number of opportunities: 2")
	assert.Contains(t, out, "Best opportunity EUR->Foreign:\n- Reference: P1")
	assert.Contains(t, out, "- Exchange rate: 1 EUR = 1.1111 CHF")
	assert.Contains(t, out, "- Exchange rate: 1 GBP = 1.2000 EUR")
	assert.Contains(t, out, "Date: 2022-06-02")

	current := out[strings.Index(out, "3. CURRENT OPPORTUNITIES"):]
	assert.Equal(t, 3, strings.Count(current, "Reference: "))
	assert.Less(t, strings.Index(current, "Reference: P1"), strings.Index(current, "Reference: P2"))
	assert.NotContains(t, current, "2022-06-01")
}

func normalized(product, collection string, date time.Time, price string) model.NormalizedObservation {
	return model.NormalizedObservation{
		RawObservation: model.RawObservation{
			ProductID:  product,
			Collection: collection,
			Price:      d(price),
			Currency:   "EUR",
			Date:       date,
		},
		ReferencePrice: d(price),
		Method:         model.MethodIdentity,
	}
}

func insightSample() []model.NormalizedObservation {
	oct := time.Date(2022, 10, 3, 0, 0, 0, 0, time.UTC)
	return []model.NormalizedObservation{
		normalized("PAM00111", "Luminor", june1, "8000"),
		normalized("PAM00111", "Luminor", oct, "9000"),
		normalized("PAM00312", "Luminor", june2, "12000"),
		normalized("PAM01392", "Radiomir", oct, "30000"),
		normalized("PAM00920", "Submersible", oct, "60000"),
		{RawObservation: model.RawObservation{ProductID: "X", Currency: "AED", Date: oct}, Method: model.MethodFailed},
	}
}

func TestDescribe(t *testing.T) {
	ov := Describe(insightSample())
	assert.Equal(t, 5, ov.Observations)
	assert.Equal(t, 4, ov.Products)
	assert.Equal(t, 3, ov.Collections)
	assert.Equal(t, 1, ov.Currencies)
	assert.Equal(t, "Luminor", ov.TopCollection)
	assert.True(t, ov.MeanPrice.Equal(d("23800")))
	assert.True(t, ov.MinPrice.Equal(d("8000")))
	assert.True(t, ov.MaxPrice.Equal(d("60000")))
	assert.Equal(t, june1, ov.FirstDate)

	assert.Equal(t, Overview{}, Describe(nil))
}

func TestCollections(t *testing.T) {
	stats := Collections(insightSample())
	require.Len(t, stats, 3)
	assert.Equal(t, "Luminor", stats[0].Collection)
	assert.Equal(t, 3, stats[0].Count)
	assert.True(t, stats[0].MeanPrice.Equal(d("9666.67")), "got %s", stats[0].MeanPrice)
	assert.True(t, stats[0].StdDev.Equal(d("2081.67")), "got %s", stats[0].StdDev)
	assert.True(t, stats[1].StdDev.IsZero())
}

func TestPriceSegments(t *testing.T) {
	segs := PriceSegments(insightSample())
	require.Len(t, segs, 4)
	assert.Equal(t, "Entry Level", segs[0].Label)
	assert.Equal(t, 2, segs[0].Count)
	assert.Equal(t, 1, segs[0].UniqueProducts)
	assert.Equal(t, "Mid Range", segs[1].Label)
	assert.Equal(t, "High End", segs[2].Label)
	assert.Equal(t, "Ultra Luxury", segs[3].Label)
}

func TestQuarterlyTrends(t *testing.T) {
	trends := QuarterlyTrends(insightSample())
	require.Len(t, trends, 2)
	assert.Equal(t, "2022Q2", trends[0].Quarter)
	assert.Equal(t, 2, trends[0].Count)
	assert.True(t, trends[0].MeanPrice.Equal(d("10000")))
	assert.Equal(t, "2022Q4", trends[1].Quarter)
	assert.Equal(t, 3, trends[1].UniqueCollections)
}

func TestRenderInsights(t *testing.T) {
	assert.Equal(t, "No usable observations.", RenderInsights(BuildInsights(nil), "EUR"))

	out := RenderInsights(BuildInsights(insightSample()), "EUR")
	assert.True(t, strings.HasPrefix(out, "DATASET INSIGHTS"))
	assert.Contains(t, out, "Observations: 5 (4 products, 3 collections, 1 currencies)")
	assert.Contains(t, out, "Period: 2022-06-01 to 2022-10-03")
	assert.Contains(t, out, "Most common collection: Luminor")
	assert.Contains(t, out, "- Entry Level: 2 obs, 1 products")
	assert.Contains(t, out, "- 2022Q4:")
}
