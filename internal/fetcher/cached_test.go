package fetcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type mapCache struct {
	rates map[string]decimal.Decimal
}

func (m *mapCache) GetRate(_ context.Context, key string) (decimal.Decimal, bool, error) {
	r, ok := m.rates[key]
	return r, ok, nil
}

func (m *mapCache) SetRate(_ context.Context, key string, rate decimal.Decimal) error {
	m.rates[key] = rate
	return nil
}

type countingFetcher struct {
	rate    decimal.Decimal
	err     error
	calls   int
	amounts []decimal.Decimal
	// places rounds the converted result the way upstream APIs do; zero keeps it exact.
	places int32
}

func (c *countingFetcher) Convert(_ context.Context, amount decimal.Decimal, _, _ string, _ time.Time) (decimal.Decimal, error) {
	c.calls++
	c.amounts = append(c.amounts, amount)
	if c.err != nil {
		return decimal.Decimal{}, c.err
	}
	out := amount.Mul(c.rate)
	if c.places > 0 {
		out = out.Round(c.places)
	}
	return out, nil
}

func TestCachedReusesUnitRate(t *testing.T) {
	inner := &countingFetcher{rate: decimal.RequireFromString("0.95")}
	c := NewCached(inner, &mapCache{rates: map[string]decimal.Decimal{}}, noopLogger())

	first, err := c.Convert(context.Background(), decimal.NewFromInt(1000), "USD", "EUR", june1)
	if err != nil {
		t.Fatalf("first convert failed: %v", err)
	}
	second, err := c.Convert(context.Background(), decimal.NewFromInt(2000), "usd", "EUR", june1)
	if err != nil {
		t.Fatalf("second convert failed: %v", err)
	}

	if !first.Equal(decimal.NewFromInt(950)) || !second.Equal(decimal.NewFromInt(1900)) {
		t.Fatalf("unexpected conversions %s %s", first, second)
	}
	if inner.calls != 1 {
		t.Fatalf("upstream should be called once, got %d", inner.calls)
	}
}

func TestCachedRemembersUnavailablePairs(t *testing.T) {
	inner := &countingFetcher{err: ErrRateUnavailable}
	c := NewCached(inner, &mapCache{rates: map[string]decimal.Decimal{}}, noopLogger())

	for i := 0; i < 3; i++ {
		_, err := c.Convert(context.Background(), decimal.NewFromInt(1000), "AED", "EUR", june1)
		if !errors.Is(err, ErrRateUnavailable) {
			t.Fatalf("expected ErrRateUnavailable, got %v", err)
		}
	}
	if inner.calls != 1 {
		t.Fatalf("negative result should be cached, got %d upstream calls", inner.calls)
	}
}

func TestCachedDoesNotCacheTransportErrors(t *testing.T) {
	inner := &countingFetcher{err: errors.New("connection reset")}
	c := NewCached(inner, &mapCache{rates: map[string]decimal.Decimal{}}, noopLogger())

	for i := 0; i < 2; i++ {
		if _, err := c.Convert(context.Background(), decimal.NewFromInt(1000), "USD", "EUR", june1); err == nil {
			t.Fatal("transport error should surface")
		}
	}
	if inner.calls != 2 {
		t.Fatalf("transport errors must not be cached, got %d upstream calls", inner.calls)
	}
}

func TestCachedQuotesScaledAmountForSmallRates(t *testing.T) {
	inner := &countingFetcher{rate: decimal.RequireFromString("0.0072345"), places: 2}
	c := NewCached(inner, &mapCache{rates: map[string]decimal.Decimal{}}, noopLogger())

	got, err := c.Convert(context.Background(), decimal.NewFromInt(1500000), "JPY", "EUR", june1)
	if err != nil {
		t.Fatalf("convert failed: %v", err)
	}

	if len(inner.amounts) != 1 || !inner.amounts[0].Equal(decimal.NewFromInt(10000)) {
		t.Fatalf("expected one upstream quote for 10000, got %v", inner.amounts)
	}
	// 10000 JPY rounds to 72.35 EUR upstream, a unit rate of 0.007235.
	if want := decimal.RequireFromString("10852.5"); !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}
