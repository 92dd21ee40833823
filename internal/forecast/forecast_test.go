package forecast

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watch-arbitrage/internal/model"
)

var june1 = time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)

func point(product, currency string, day int, price int64) model.NormalizedObservation {
	return model.NormalizedObservation{
		RawObservation: model.RawObservation{
			ProductID: product,
			Currency:  currency,
			Price:     decimal.NewFromInt(price),
			Date:      june1.AddDate(0, 0, day),
		},
		ReferencePrice: decimal.NewFromInt(price),
		Method:         model.MethodFallback,
	}
}

func TestForecastLinearTrend(t *testing.T) {
	obs := []model.NormalizedObservation{
		point("P1", "USD", 20, 10200),
		point("P1", "USD", 0, 10000),
		point("P1", "USD", 10, 10100),
		point("P1", "GBP", 0, 50000),
		point("P2", "USD", 0, 1),
	}

	res, err := Forecast(obs, "P1", "usd")
	require.NoError(t, err)

	assert.Equal(t, "USD", res.Currency)
	assert.Len(t, res.Points, 3)
	assert.InDelta(t, 10.0, res.Slope, 1e-6)
	assert.Equal(t, june1.AddDate(0, 0, 20), res.LastDate)
	assert.True(t, res.LastPrice.Equal(decimal.NewFromInt(10200)))
	assert.Equal(t, june1.AddDate(0, 0, 50), res.ForecastDate)
	assert.True(t, res.ForecastPrice.Equal(decimal.NewFromInt(10500)), "got %s", res.ForecastPrice)
	assert.True(t, res.Benefit.Equal(decimal.NewFromInt(300)), "got %s", res.Benefit)
}

func TestForecastInsufficientData(t *testing.T) {
	obs := []model.NormalizedObservation{
		point("P1", "USD", 0, 10000),
		{RawObservation: model.RawObservation{ProductID: "P1", Currency: "USD", Date: june1.AddDate(0, 0, 3)}, Method: model.MethodFailed},
	}

	_, err := Forecast(obs, "P1", "USD")
	assert.True(t, errors.Is(err, ErrInsufficientData))

	_, err = Forecast(nil, "P1", "USD")
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestForecastFlatSeriesOnSingleDay(t *testing.T) {
	obs := []model.NormalizedObservation{
		point("P1", "EUR", 0, 10000),
		point("P1", "EUR", 0, 12000),
	}
	res, err := Forecast(obs, "P1", "EUR")
	require.NoError(t, err)
	assert.Zero(t, res.Slope)
	assert.True(t, res.ForecastPrice.Equal(decimal.NewFromInt(11000)))
	assert.True(t, res.Benefit.Equal(decimal.NewFromInt(-1000)))
}

func TestBestPicksHighestBenefit(t *testing.T) {
	obs := []model.NormalizedObservation{
		point("P1", "USD", 0, 10000),
		point("P1", "USD", 10, 10100),
		point("P1", "GBP", 0, 12000),
		point("P1", "GBP", 10, 11000),
		point("P1", "CHF", 0, 10000),
		point("P1", "CHF", 10, 10500),
		point("P1", "JPY", 0, 10000),
	}

	res, err := Best(obs, "P1")
	require.NoError(t, err)
	assert.Equal(t, "CHF", res.Currency)
	assert.True(t, res.Benefit.Equal(decimal.NewFromInt(1500)), "got %s", res.Benefit)

	_, err = Best(obs, "P404")
	assert.ErrorIs(t, err, ErrInsufficientData)
}
