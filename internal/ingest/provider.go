// Package ingest loads raw price observations from flat-file snapshots and
// cleans them before normalization.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"watch-arbitrage/internal/model"
)

// Provider returns the raw observation snapshot for one run.
type Provider interface {
	Fetch(ctx context.Context) ([]model.RawObservation, error)
}

var dateLayouts = []string{
	model.DateLayout,
	"2006-01-02 15:04:05",
	time.RFC3339,
	"02/01/2006",
	"2006/01/02",
}

// column aliases accepted in snapshot headers
var columnAliases = map[string][]string{
	"product":    {"reference_code", "product_id", "reference", "ref"},
	"collection": {"collection"},
	"brand":      {"brand"},
	"price":      {"price", "observed_price"},
	"currency":   {"currency", "quote_currency"},
	"date":       {"life_span_date", "observation_date", "date"},
}

type columnIndex map[string]int

func indexHeader(header []string) (columnIndex, error) {
	positions := make(map[string]int, len(header))
	for i, h := range header {
		positions[strings.ToLower(strings.TrimSpace(h))] = i
	}

	idx := make(columnIndex)
	for field, aliases := range columnAliases {
		for _, alias := range aliases {
			if pos, ok := positions[alias]; ok {
				idx[field] = pos
				break
			}
		}
	}
	for _, required := range []string{"product", "price", "currency", "date"} {
		if _, ok := idx[required]; !ok {
			return nil, fmt.Errorf("snapshot header missing %s column", required)
		}
	}
	return idx, nil
}

func (c columnIndex) cell(row []string, field string) string {
	pos, ok := c[field]
	if !ok || pos >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[pos])
}

// decodeRows maps data rows onto observations. Unparseable prices and dates are
// left zero so Clean can account for them.
func decodeRows(header []string, rows [][]string, brand string) ([]model.RawObservation, error) {
	idx, err := indexHeader(header)
	if err != nil {
		return nil, err
	}
	_, hasBrand := idx["brand"]
	brand = strings.TrimSpace(brand)

	out := make([]model.RawObservation, 0, len(rows))
	for _, row := range rows {
		if blank(row) {
			continue
		}
		obs := model.RawObservation{
			ProductID:  idx.cell(row, "product"),
			Collection: idx.cell(row, "collection"),
			Brand:      idx.cell(row, "brand"),
			Currency:   idx.cell(row, "currency"),
		}
		if hasBrand && brand != "" && !strings.EqualFold(obs.Brand, brand) {
			continue
		}
		if p, err := decimal.NewFromString(strings.ReplaceAll(idx.cell(row, "price"), ",", "")); err == nil {
			obs.Price = p
		}
		if d, ok := parseDate(idx.cell(row, "date")); ok {
			obs.Date = d
		}
		out = append(out, obs)
	}
	return out, nil
}

func parseDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return model.Day(t), true
		}
	}
	return time.Time{}, false
}

func blank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
