// Package cache provides rate cache backends for the precise historical rate source.
package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
)

// Memory keeps unit rates in process memory.
type Memory struct {
	store *gocache.Cache
}

// NewMemory creates an in-process cache. A non-positive ttl keeps entries for the process lifetime.
func NewMemory(ttl time.Duration) *Memory {
	expiration := gocache.NoExpiration
	cleanup := time.Duration(0)
	if ttl > 0 {
		expiration = ttl
		cleanup = 2 * ttl
	}
	return &Memory{store: gocache.New(expiration, cleanup)}
}

// GetRate returns the cached rate for key.
func (m *Memory) GetRate(_ context.Context, key string) (decimal.Decimal, bool, error) {
	v, ok := m.store.Get(key)
	if !ok {
		return decimal.Decimal{}, false, nil
	}
	rate, ok := v.(decimal.Decimal)
	if !ok {
		return decimal.Decimal{}, false, nil
	}
	return rate, true, nil
}

// SetRate stores rate under key with the default expiration.
func (m *Memory) SetRate(_ context.Context, key string, rate decimal.Decimal) error {
	m.store.Set(key, rate, gocache.DefaultExpiration)
	return nil
}

// ItemCount reports the number of live entries.
func (m *Memory) ItemCount() int {
	return m.store.ItemCount()
}
