// Package forecast projects reference prices with a least-squares trend line.
package forecast

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"watch-arbitrage/internal/model"
)

// Horizon is how far past the last observation the trend is projected.
const Horizon = 30 * 24 * time.Hour

// ErrInsufficientData is returned when fewer than two dated points are available.
var ErrInsufficientData = errors.New("insufficient data for forecast")

// Point is one (date, reference price) sample of a series.
type Point struct {
	Date  time.Time
	Price decimal.Decimal
}

// Result is the projection for one product and currency.
type Result struct {
	ProductID     string
	Currency      string
	Points        []Point
	Slope         float64
	Intercept     float64
	LastDate      time.Time
	LastPrice     decimal.Decimal
	ForecastDate  time.Time
	ForecastPrice decimal.Decimal
	// Benefit is ForecastPrice minus LastPrice.
	Benefit decimal.Decimal
}

// Forecast fits a trend over the product's reference prices quoted in currency
// and projects it Horizon past the last observed date.
func Forecast(observations []model.NormalizedObservation, productID, currency string) (Result, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	var points []Point
	for _, o := range observations {
		if o.ProductID != productID || !strings.EqualFold(o.Currency, currency) || !o.HasReferencePrice() || o.Date.IsZero() {
			continue
		}
		points = append(points, Point{Date: model.Day(o.Date), Price: o.ReferencePrice})
	}
	return fit(productID, currency, points)
}

// Best forecasts every currency the product is quoted in and returns the one
// with the highest benefit. Currencies with too few points are ignored.
func Best(observations []model.NormalizedObservation, productID string) (Result, error) {
	seen := make(map[string]struct{})
	var currencies []string
	for _, o := range observations {
		if o.ProductID != productID || !o.HasReferencePrice() {
			continue
		}
		code := strings.ToUpper(o.Currency)
		if _, ok := seen[code]; !ok {
			seen[code] = struct{}{}
			currencies = append(currencies, code)
		}
	}
	sort.Strings(currencies)

	var (
		best  Result
		found bool
	)
	for _, code := range currencies {
		res, err := Forecast(observations, productID, code)
		if errors.Is(err, ErrInsufficientData) {
			continue
		}
		if err != nil {
			return Result{}, err
		}
		if !found || res.Benefit.GreaterThan(best.Benefit) {
			best, found = res, true
		}
	}
	if !found {
		return Result{}, ErrInsufficientData
	}
	return best, nil
}

func fit(productID, currency string, points []Point) (Result, error) {
	if len(points) < 2 {
		return Result{}, ErrInsufficientData
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })

	n := float64(len(points))
	var sumX, sumY float64
	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	for i, p := range points {
		xs[i] = ordinal(p.Date)
		ys[i] = p.Price.InexactFloat64()
		sumX += xs[i]
		sumY += ys[i]
	}
	meanX, meanY := sumX/n, sumY/n

	var sxx, sxy float64
	for i := range xs {
		dx := xs[i] - meanX
		sxx += dx * dx
		sxy += dx * (ys[i] - meanY)
	}
	slope := 0.0
	if sxx > 0 {
		slope = sxy / sxx
	}
	intercept := meanY - slope*meanX

	last := points[len(points)-1]
	target := last.Date.Add(Horizon)
	predicted := decimal.NewFromFloat(intercept + slope*ordinal(target)).Round(2)

	return Result{
		ProductID:     productID,
		Currency:      currency,
		Points:        points,
		Slope:         slope,
		Intercept:     intercept,
		LastDate:      last.Date,
		LastPrice:     last.Price,
		ForecastDate:  target,
		ForecastPrice: predicted,
		Benefit:       predicted.Sub(last.Price),
	}, nil
}

// ordinal is the number of days since the Unix epoch.
func ordinal(t time.Time) float64 {
	return float64(model.Day(t).Unix() / 86400)
}
