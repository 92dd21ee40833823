package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the canonical calendar-date representation used in keys and exports.
const DateLayout = "2006-01-02"

// RawObservation is one quoted retail price for a watch reference on a given day.
type RawObservation struct {
	ProductID  string
	Collection string
	Brand      string
	Price      decimal.Decimal
	Currency   string
	Date       time.Time
}

// ConversionMethod records how a reference-currency price was obtained.
type ConversionMethod string

const (
	MethodIdentity ConversionMethod = "identity"
	MethodPrecise  ConversionMethod = "precise-historical"
	MethodFallback ConversionMethod = "fallback-table"
	MethodFailed   ConversionMethod = "failed"
)

// Converted reports whether the method carries a reference price.
func (m ConversionMethod) Converted() bool {
	switch m {
	case MethodIdentity, MethodPrecise, MethodFallback:
		return true
	default:
		return false
	}
}

// NormalizedObservation is a RawObservation with its resolved reference price.
// ReferencePrice is only meaningful when Method.Converted() is true.
type NormalizedObservation struct {
	RawObservation
	ReferencePrice decimal.Decimal
	Method         ConversionMethod
	FailureReason  string
}

// HasReferencePrice reports whether the observation survived normalization.
func (n NormalizedObservation) HasReferencePrice() bool {
	return n.Method.Converted()
}

// Day truncates t to a UTC calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateKey formats t as a calendar-date key.
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}

// Bound is an inclusive [Min, Max] plausibility range in reference currency.
type Bound struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// Contains reports whether v lies inside the bound, both ends inclusive.
func (b Bound) Contains(v decimal.Decimal) bool {
	return v.GreaterThanOrEqual(b.Min) && v.LessThanOrEqual(b.Max)
}

// DefaultBound returns the [1000, 100000] bound used across the pipeline.
func DefaultBound() Bound {
	return Bound{Min: decimal.NewFromInt(1000), Max: decimal.NewFromInt(100000)}
}
