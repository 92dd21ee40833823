package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction identifies which side of a currency pair is bought.
type Direction string

const (
	// ReferenceToForeign means buy in the reference currency, sell in the foreign one.
	ReferenceToForeign Direction = "reference-to-foreign"
	// ForeignToReference means buy in the foreign currency, sell in the reference one.
	ForeignToReference Direction = "foreign-to-reference"
)

// Directions lists every direction in report order.
var Directions = []Direction{ReferenceToForeign, ForeignToReference}

// Label renders the direction with the reference currency code, e.g. "EUR->Foreign".
func (d Direction) Label(reference string) string {
	switch d {
	case ReferenceToForeign:
		return reference + "->Foreign"
	case ForeignToReference:
		return "Foreign->" + reference
	default:
		return string(d)
	}
}

// Opportunity is a price discrepancy for one product on one date between two currencies.
type Opportunity struct {
	ProductID          string
	Date               time.Time
	BuyCurrency        string
	BuyPriceLocal      decimal.Decimal
	BuyPriceReference  decimal.Decimal
	SellCurrency       string
	SellPriceLocal     decimal.Decimal
	SellPriceReference decimal.Decimal
	ImpliedRate        decimal.Decimal
	ProfitReference    decimal.Decimal
	ProfitPct          decimal.Decimal
	Direction          Direction
}

// ForeignCurrency returns the non-reference side of the pair.
func (o Opportunity) ForeignCurrency() string {
	if o.Direction == ForeignToReference {
		return o.BuyCurrency
	}
	return o.SellCurrency
}
