package cache

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// RedisConfig holds connection parameters for the shared rate cache.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	TLSEnabled bool
	Prefix     string
	TTL        time.Duration
}

// Redis shares unit rates between runs and hosts. Each rate is a plain string
// value at "{prefix}{key}".
type Redis struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "watcharb:"
	}
	return &Redis{rdb: rdb, prefix: prefix, ttl: cfg.TTL}, nil
}

// GetRate returns the cached rate for key.
func (r *Redis) GetRate(ctx context.Context, key string) (decimal.Decimal, bool, error) {
	raw, err := r.rdb.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Decimal{}, false, nil
	}
	if err != nil {
		return decimal.Decimal{}, false, fmt.Errorf("redis: get rate %s: %w", key, err)
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, false, fmt.Errorf("redis: parse rate %s: %w", key, err)
	}
	return rate, true, nil
}

// SetRate stores rate under key with the configured ttl.
func (r *Redis) SetRate(ctx context.Context, key string, rate decimal.Decimal) error {
	if err := r.rdb.Set(ctx, r.prefix+key, rate.String(), r.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set rate %s: %w", key, err)
	}
	return nil
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.rdb.Close()
}
