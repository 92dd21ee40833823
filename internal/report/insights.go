package report

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"watch-arbitrage/internal/model"
)

// Overview is a dataset-level description of normalized observations.
type Overview struct {
	Observations  int
	Products      int
	Collections   int
	Currencies    int
	Dates         int
	MeanPrice     decimal.Decimal
	MinPrice      decimal.Decimal
	MaxPrice      decimal.Decimal
	FirstDate     time.Time
	LastDate      time.Time
	TopCollection string
}

// Describe summarises observations carrying a reference price.
func Describe(observations []model.NormalizedObservation) Overview {
	var (
		ov          Overview
		sum         decimal.Decimal
		products    = make(map[string]struct{})
		currencies  = make(map[string]struct{})
		dates       = make(map[string]struct{})
		collections = make(map[string]int)
	)
	for _, o := range observations {
		if !o.HasReferencePrice() {
			continue
		}
		if ov.Observations == 0 {
			ov.MinPrice, ov.MaxPrice = o.ReferencePrice, o.ReferencePrice
			ov.FirstDate, ov.LastDate = o.Date, o.Date
		}
		ov.Observations++
		sum = sum.Add(o.ReferencePrice)
		ov.MinPrice = decimal.Min(ov.MinPrice, o.ReferencePrice)
		ov.MaxPrice = decimal.Max(ov.MaxPrice, o.ReferencePrice)
		if o.Date.Before(ov.FirstDate) {
			ov.FirstDate = o.Date
		}
		if o.Date.After(ov.LastDate) {
			ov.LastDate = o.Date
		}
		products[o.ProductID] = struct{}{}
		currencies[o.Currency] = struct{}{}
		dates[model.DateKey(o.Date)] = struct{}{}
		if o.Collection != "" {
			collections[o.Collection]++
		}
	}
	if ov.Observations == 0 {
		return Overview{}
	}

	ov.MeanPrice = sum.Div(decimal.NewFromInt(int64(ov.Observations)))
	ov.Products = len(products)
	ov.Currencies = len(currencies)
	ov.Dates = len(dates)
	ov.Collections = len(collections)
	best := 0
	for name, n := range collections {
		if n > best || (n == best && name < ov.TopCollection) {
			best, ov.TopCollection = n, name
		}
	}
	return ov
}

// CollectionStats describes reference prices within one collection.
type CollectionStats struct {
	Collection string
	Count      int
	MeanPrice  decimal.Decimal
	MinPrice   decimal.Decimal
	MaxPrice   decimal.Decimal
	// StdDev is the sample standard deviation, 0 for single-observation collections.
	StdDev decimal.Decimal
}

// Collections groups observations by collection, sorted by name.
func Collections(observations []model.NormalizedObservation) []CollectionStats {
	groups := make(map[string][]decimal.Decimal)
	for _, o := range observations {
		if !o.HasReferencePrice() || o.Collection == "" {
			continue
		}
		groups[o.Collection] = append(groups[o.Collection], o.ReferencePrice)
	}

	out := make([]CollectionStats, 0, len(groups))
	for name, prices := range groups {
		mean := decimal.Avg(prices[0], prices[1:]...)
		out = append(out, CollectionStats{
			Collection: name,
			Count:      len(prices),
			MeanPrice:  mean.Round(2),
			MinPrice:   decimal.Min(prices[0], prices[1:]...),
			MaxPrice:   decimal.Max(prices[0], prices[1:]...),
			StdDev:     sampleStdDev(prices, mean).Round(2),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Collection < out[j].Collection })
	return out
}

// Segment is one price band of the catalogue.
type Segment struct {
	Label             string
	Count             int
	UniqueProducts    int
	UniqueCollections int
	MeanPrice         decimal.Decimal
}

type segmentBand struct {
	label string
	upper decimal.Decimal
}

var segmentBands = []segmentBand{
	{label: "Entry Level", upper: decimal.NewFromInt(10000)},
	{label: "Mid Range", upper: decimal.NewFromInt(25000)},
	{label: "High End", upper: decimal.NewFromInt(50000)},
	{label: "Ultra Luxury"},
}

// PriceSegments buckets observations into right-inclusive price bands.
// Bands without observations are omitted.
func PriceSegments(observations []model.NormalizedObservation) []Segment {
	type acc struct {
		sum         decimal.Decimal
		count       int
		products    map[string]struct{}
		collections map[string]struct{}
	}
	accs := make([]acc, len(segmentBands))
	for i := range accs {
		accs[i].products = make(map[string]struct{})
		accs[i].collections = make(map[string]struct{})
	}

	for _, o := range observations {
		if !o.HasReferencePrice() {
			continue
		}
		idx := len(segmentBands) - 1
		for i, band := range segmentBands[:len(segmentBands)-1] {
			if o.ReferencePrice.LessThanOrEqual(band.upper) {
				idx = i
				break
			}
		}
		a := &accs[idx]
		a.sum = a.sum.Add(o.ReferencePrice)
		a.count++
		a.products[o.ProductID] = struct{}{}
		if o.Collection != "" {
			a.collections[o.Collection] = struct{}{}
		}
	}

	var out []Segment
	for i, a := range accs {
		if a.count == 0 {
			continue
		}
		out = append(out, Segment{
			Label:             segmentBands[i].label,
			Count:             a.count,
			UniqueProducts:    len(a.products),
			UniqueCollections: len(a.collections),
			MeanPrice:         a.sum.Div(decimal.NewFromInt(int64(a.count))).Round(2),
		})
	}
	return out
}

// QuarterTrend aggregates one calendar quarter.
type QuarterTrend struct {
	Quarter           string
	MeanPrice         decimal.Decimal
	Count             int
	UniqueProducts    int
	UniqueCollections int
}

// QuarterlyTrends groups observations by calendar quarter, oldest first.
func QuarterlyTrends(observations []model.NormalizedObservation) []QuarterTrend {
	type acc struct {
		sum         decimal.Decimal
		count       int
		products    map[string]struct{}
		collections map[string]struct{}
	}
	byQuarter := make(map[string]*acc)
	for _, o := range observations {
		if !o.HasReferencePrice() {
			continue
		}
		key := QuarterKey(o.Date)
		a, ok := byQuarter[key]
		if !ok {
			a = &acc{products: map[string]struct{}{}, collections: map[string]struct{}{}}
			byQuarter[key] = a
		}
		a.sum = a.sum.Add(o.ReferencePrice)
		a.count++
		a.products[o.ProductID] = struct{}{}
		if o.Collection != "" {
			a.collections[o.Collection] = struct{}{}
		}
	}

	out := make([]QuarterTrend, 0, len(byQuarter))
	for key, a := range byQuarter {
		out = append(out, QuarterTrend{
			Quarter:           key,
			MeanPrice:         a.sum.Div(decimal.NewFromInt(int64(a.count))).Round(2),
			Count:             a.count,
			UniqueProducts:    len(a.products),
			UniqueCollections: len(a.collections),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Quarter < out[j].Quarter })
	return out
}

// QuarterKey formats t as e.g. "2022Q2".
func QuarterKey(t time.Time) string {
	return fmt.Sprintf("%dQ%d", t.Year(), (int(t.Month())-1)/3+1)
}

func sampleStdDev(values []decimal.Decimal, mean decimal.Decimal) decimal.Decimal {
	if len(values) < 2 {
		return decimal.Zero
	}
	var ss decimal.Decimal
	for _, v := range values {
		d := v.Sub(mean)
		ss = ss.Add(d.Mul(d))
	}
	variance := ss.Div(decimal.NewFromInt(int64(len(values) - 1))).InexactFloat64()
	return decimal.NewFromFloat(math.Sqrt(variance))
}

// Insights bundles the dataset descriptions printed after the arbitrage report.
type Insights struct {
	Overview    Overview
	Collections []CollectionStats
	Segments    []Segment
	Quarters    []QuarterTrend
}

// BuildInsights computes every dataset description for observations.
func BuildInsights(observations []model.NormalizedObservation) Insights {
	return Insights{
		Overview:    Describe(observations),
		Collections: Collections(observations),
		Segments:    PriceSegments(observations),
		Quarters:    QuarterlyTrends(observations),
	}
}

// RenderInsights formats in as plain text. Empty datasets render a single line.
func RenderInsights(in Insights, reference string) string {
	ov := in.Overview
	if ov.Observations == 0 {
		return "No usable observations."
	}
	if reference == "" {
		reference = "EUR"
	}

	var b strings.Builder
	b.WriteString("DATASET INSIGHTS\n")
	fmt.Fprintf(&b, "Observations: %d (%d products, %d collections, %d currencies)\n", ov.Observations, ov.Products, ov.Collections, ov.Currencies)
	fmt.Fprintf(&b, "Period: %s to %s (%d dates)\n", model.DateKey(ov.FirstDate), model.DateKey(ov.LastDate), ov.Dates)
	fmt.Fprintf(&b, "Price %s: mean %s, min %s, max %s\n", reference, ov.MeanPrice.StringFixed(2), ov.MinPrice.StringFixed(2), ov.MaxPrice.StringFixed(2))
	if ov.TopCollection != "" {
		fmt.Fprintf(&b, "Most common collection: %s\n", ov.TopCollection)
	}

	if len(in.Collections) > 0 {
		b.WriteString("\nCollections:\n")
		for _, c := range in.Collections {
			fmt.Fprintf(&b, "- %s: %d obs, mean %s, range %s-%s, std %s\n",
				c.Collection, c.Count, c.MeanPrice.StringFixed(2), c.MinPrice.StringFixed(2), c.MaxPrice.StringFixed(2), c.StdDev.StringFixed(2))
		}
	}

	b.WriteString("\nPrice segments:\n")
	for _, s := range in.Segments {
		fmt.Fprintf(&b, "- %s: %d obs, %d products, mean %s\n", s.Label, s.Count, s.UniqueProducts, s.MeanPrice.StringFixed(2))
	}

	if len(in.Quarters) > 0 {
		b.WriteString("\nQuarterly trend:\n")
		for _, q := range in.Quarters {
			fmt.Fprintf(&b, "- %s: mean %s over %d obs, %d products\n", q.Quarter, q.MeanPrice.StringFixed(2), q.Count, q.UniqueProducts)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}
