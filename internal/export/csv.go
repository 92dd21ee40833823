// Package export writes analysis results to CSV files, PNG charts and object storage.
package export

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"

	"watch-arbitrage/internal/model"
	"watch-arbitrage/internal/report"
)

// WriteOpportunitiesCSV writes one row per opportunity.
func WriteOpportunitiesCSV(path string, opps []model.Opportunity) error {
	header := []string{
		"product_id", "date", "direction", "buy_currency", "buy_price_local", "buy_price_reference",
		"sell_currency", "sell_price_local", "sell_price_reference", "implied_rate", "profit_reference", "profit_pct",
	}
	records := make([][]string, 0, len(opps))
	for _, o := range opps {
		records = append(records, []string{
			o.ProductID,
			model.DateKey(o.Date),
			string(o.Direction),
			o.BuyCurrency,
			o.BuyPriceLocal.StringFixed(2),
			o.BuyPriceReference.StringFixed(2),
			o.SellCurrency,
			o.SellPriceLocal.StringFixed(2),
			o.SellPriceReference.StringFixed(2),
			o.ImpliedRate.StringFixed(6),
			o.ProfitReference.StringFixed(2),
			o.ProfitPct.StringFixed(4),
		})
	}
	return writeCSV(path, header, records)
}

// WriteNormalizedCSV writes the normalized dataset including failed rows.
func WriteNormalizedCSV(path string, observations []model.NormalizedObservation) error {
	header := []string{"product_id", "collection", "brand", "date", "currency", "price", "reference_price", "method", "failure_reason"}
	records := make([][]string, 0, len(observations))
	for _, o := range observations {
		ref := ""
		if o.HasReferencePrice() {
			ref = o.ReferencePrice.StringFixed(2)
		}
		records = append(records, []string{
			o.ProductID,
			o.Collection,
			o.Brand,
			model.DateKey(o.Date),
			o.Currency,
			o.Price.String(),
			ref,
			string(o.Method),
			o.FailureReason,
		})
	}
	return writeCSV(path, header, records)
}

// WriteStablePairsCSV writes the stable currency ranking.
func WriteStablePairsCSV(path string, pairs []report.CurrencyStats) error {
	header := []string{"currency", "occurrences", "mean_profit_reference", "mean_profit_pct", "success_rate", "best_products"}
	records := make([][]string, 0, len(pairs))
	for _, p := range pairs {
		best := ""
		for i, prod := range p.BestProducts {
			if i > 0 {
				best += ";"
			}
			best += prod.ProductID + "=" + prod.Mean.StringFixed(2)
		}
		records = append(records, []string{
			p.Currency,
			itoa(p.Occurrences),
			p.MeanProfit.StringFixed(2),
			p.MeanProfitPct.StringFixed(2),
			ftoa(p.SuccessRate),
			best,
		})
	}
	return writeCSV(path, header, records)
}

func writeCSV(path string, header []string, records [][]string) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(header); err != nil {
		return err
	}
	if err := writer.WriteAll(records); err != nil {
		return err
	}
	return writer.Error()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func itoa(v int) string { return strconv.Itoa(v) }

func ftoa(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) }
