package fx

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// FallbackTable maps a currency code to reference-currency units per one foreign unit.
type FallbackTable map[string]decimal.Decimal

// NewFallbackTable builds a table from configuration values, upper-casing codes.
func NewFallbackTable(rates map[string]float64) (FallbackTable, error) {
	table := make(FallbackTable, len(rates))
	for code, rate := range rates {
		code = strings.ToUpper(strings.TrimSpace(code))
		if code == "" {
			return nil, fmt.Errorf("fallback rate with empty currency code")
		}
		if rate <= 0 {
			return nil, fmt.Errorf("fallback rate for %s must be greater than zero", code)
		}
		table[code] = decimal.NewFromFloat(rate)
	}
	return table, nil
}

// Estimate converts amount with the table rate, reporting whether the currency is known.
func (t FallbackTable) Estimate(amount decimal.Decimal, currency string) (decimal.Decimal, bool) {
	rate, ok := t[currency]
	if !ok {
		return decimal.Decimal{}, false
	}
	return amount.Mul(rate), true
}

// DefaultFallbackRates are 2022 average EUR rates per unit of foreign currency.
func DefaultFallbackRates() map[string]float64 {
	return map[string]float64{
		"USD": 0.9497,
		"GBP": 1.1727,
		"CHF": 0.9958,
		"JPY": 0.00723,
		"SGD": 0.6887,
		"CNY": 0.1410,
		"HKD": 0.1212,
		"AUD": 0.6590,
		"CAD": 0.7300,
		"KRW": 0.000735,
		"AED": 0.2586,
	}
}
