package fetcher

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrRateUnavailable is returned when a source has no rate for the requested
// currency pair and date. Callers treat it as a per-row miss, not a fault.
var ErrRateUnavailable = errors.New("historical rate unavailable")

// HistoricalRateFetcher converts an amount between two currencies as of a calendar date.
type HistoricalRateFetcher interface {
	Convert(ctx context.Context, amount decimal.Decimal, from, to string, date time.Time) (decimal.Decimal, error)
}
