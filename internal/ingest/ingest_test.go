package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"watch-arbitrage/internal/model"
)

const snapshot = `reference_code,collection,brand,price,currency,life_span_date
PAM00111 , Luminor ,Panerai,"10,000",eur,2022-06-01
PAM00111,Luminor,Panerai,12000, usd ,01/06/2022
PAM01392,Radiomir,Rolex,9000,EUR,2022-06-01
PAM00312,Luminor,panerai,abc,GBP,2022-06-02
,,,,,
`

func TestReadCSV(t *testing.T) {
	obs, err := ReadCSV(context.Background(), strings.NewReader(snapshot), "Panerai")
	require.NoError(t, err)
	require.Len(t, obs, 3)

	june1 := time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "PAM00111", obs[0].ProductID)
	assert.True(t, obs[0].Price.Equal(decimal.NewFromInt(10000)))
	assert.Equal(t, june1, obs[0].Date)
	assert.Equal(t, june1, obs[1].Date)
	assert.Equal(t, "usd", obs[1].Currency)
	assert.True(t, obs[2].Price.IsZero(), "unparseable price is left for cleaning")
}

func TestReadCSVWithoutBrandFilter(t *testing.T) {
	obs, err := ReadCSV(context.Background(), strings.NewReader(snapshot), "")
	require.NoError(t, err)
	assert.Len(t, obs, 4)
}

func TestReadCSVMissingColumn(t *testing.T) {
	_, err := ReadCSV(context.Background(), strings.NewReader("reference_code,price,life_span_date\nP1,1,2022-06-01\n"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "currency")

	_, err = ReadCSV(context.Background(), strings.NewReader(""), "")
	assert.Error(t, err)
}

func TestCSVProviderFetch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices.csv")
	require.NoError(t, os.WriteFile(path, []byte(snapshot), 0o644))

	obs, err := NewCSVProvider(path, "Panerai", zerolog.Nop()).Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, obs, 3)

	_, err = NewCSVProvider(filepath.Join(t.TempDir(), "missing.csv"), "", zerolog.Nop()).Fetch(context.Background())
	assert.Error(t, err)
}

func TestXLSXProviderFetch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices.xlsx")
	f := excelize.NewFile()
	sheet := "Prices"
	_, err := f.NewSheet(sheet)
	require.NoError(t, err)
	rows := [][]interface{}{
		{"reference_code", "collection", "brand", "price", "currency", "life_span_date"},
		{"PAM00111", "Luminor", "Panerai", "10000", "EUR", "2022-06-01"},
		{"PAM00111", "Luminor", "Panerai", "12000", "USD", "2022-06-01"},
		{"PAM01392", "Radiomir", "Rolex", "9000", "EUR", "2022-06-01"},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	obs, err := NewXLSXProvider(path, sheet, "panerai", zerolog.Nop()).Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, obs, 2)
	assert.Equal(t, "USD", obs[1].Currency)
	assert.True(t, obs[1].Price.Equal(decimal.NewFromInt(12000)))

	_, err = NewXLSXProvider(path, "Sheet1", "", zerolog.Nop()).Fetch(context.Background())
	assert.Error(t, err, "default sheet is empty")
}

func TestClean(t *testing.T) {
	june1 := time.Date(2022, 6, 1, 15, 30, 0, 0, time.UTC)
	input := []model.RawObservation{
		{ProductID: " PAM00111 ", Collection: " Luminor ", Price: decimal.NewFromInt(10000), Currency: " eur ", Date: june1},
		{ProductID: "PAM00111", Price: decimal.NewFromInt(12000), Currency: "USD"},
		{ProductID: "", Price: decimal.NewFromInt(12000), Currency: "USD", Date: june1},
		{ProductID: "PAM00111", Price: decimal.Zero, Currency: "GBP", Date: june1},
		{ProductID: "PAM00111", Price: decimal.NewFromInt(-5), Currency: "GBP", Date: june1},
		{ProductID: "PAM00111", Price: decimal.NewFromInt(150001), Currency: "JPY", Date: june1},
		{ProductID: "PAM00111", Price: decimal.NewFromInt(150000), Currency: "JPY", Date: june1},
	}

	out, report := Clean(input, CleanOptions{})
	require.Len(t, out, 2)
	assert.Equal(t, "PAM00111", out[0].ProductID)
	assert.Equal(t, "Luminor", out[0].Collection)
	assert.Equal(t, "EUR", out[0].Currency)
	assert.Equal(t, model.Day(june1), out[0].Date)

	assert.Equal(t, 7, report.Input)
	assert.Equal(t, 2, report.Kept)
	assert.Equal(t, map[string]int{DropMissingField: 2, DropNonPositivePrice: 2, DropAboveCeiling: 1}, report.Dropped)
	assert.Equal(t, []string{DropAboveCeiling, DropMissingField, DropNonPositivePrice}, report.Reasons())

	assert.Equal(t, " eur ", input[0].Currency, "input must not be modified")
}

func TestCleanCeilingUsesReferenceRates(t *testing.T) {
	june1 := time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)
	input := []model.RawObservation{
		{ProductID: "PAM01312", Price: decimal.NewFromInt(1500000), Currency: "jpy", Date: june1},
		{ProductID: "PAM01312", Price: decimal.NewFromInt(90000), Currency: "CNY", Date: june1},
		{ProductID: "PAM01312", Price: decimal.NewFromInt(25000000), Currency: "JPY", Date: june1},
		{ProductID: "PAM01312", Price: decimal.NewFromInt(155000), Currency: "USD", Date: june1},
		{ProductID: "PAM01312", Price: decimal.NewFromInt(150001), Currency: "AED", Date: june1},
	}
	opts := CleanOptions{
		MaxPrice: decimal.NewFromInt(150000),
		Rates: map[string]decimal.Decimal{
			"JPY": decimal.RequireFromString("0.00723"),
			"CNY": decimal.RequireFromString("0.1410"),
			"USD": decimal.RequireFromString("0.9497"),
		},
	}

	out, report := Clean(input, opts)
	require.Len(t, out, 3)
	assert.Equal(t, "JPY", out[0].Currency)
	assert.True(t, out[0].Price.Equal(decimal.NewFromInt(1500000)))
	assert.Equal(t, "CNY", out[1].Currency)
	assert.Equal(t, "USD", out[2].Currency)
	assert.Equal(t, map[string]int{DropAboveCeiling: 2}, report.Dropped)
}
