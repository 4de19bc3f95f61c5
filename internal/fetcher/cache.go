package fetcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const fiatCacheKeyPrefix = "gaswatch:fiat:"

// CachedFiat memoises fiat rates in Redis. Cache failures fall through to the upstream fetcher.
type CachedFiat struct {
	next   FiatRateFetcher
	redis  *redis.Client
	ttl    time.Duration
	vs     string
	logger zerolog.Logger
}

// NewCachedFiat wraps next with a Redis cache. vsCurrency must match the one next quotes in,
// entries are keyed per currency.
func NewCachedFiat(next FiatRateFetcher, client *redis.Client, ttl time.Duration, vsCurrency string, logger zerolog.Logger) *CachedFiat {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if vsCurrency == "" {
		vsCurrency = "usd"
	}
	return &CachedFiat{
		next:   next,
		redis:  client,
		ttl:    ttl,
		vs:     strings.ToLower(vsCurrency),
		logger: logger.With().Str("component", "fiat_cache").Logger(),
	}
}

// ConnectRedis parses a redis URL and verifies connectivity.
func ConnectRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opt.DialTimeout == 0 {
		opt.DialTimeout = 5 * time.Second
	}
	if opt.ReadTimeout == 0 {
		opt.ReadTimeout = 2 * time.Second
	}
	if opt.WriteTimeout == 0 {
		opt.WriteTimeout = 2 * time.Second
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// FetchRate serves from cache when fresh, otherwise fetches and stores.
func (c *CachedFiat) FetchRate(ctx context.Context, asset string) (decimal.Decimal, error) {
	key := c.key(asset)

	val, err := c.redis.Get(ctx, key).Result()
	switch {
	case err == nil:
		if rate, parseErr := decimal.NewFromString(val); parseErr == nil {
			return rate, nil
		}
		c.logger.Warn().Str("key", key).Str("value", val).Msg("discarding unparsable cached rate")
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn().Err(err).Str("key", key).Msg("redis get failed; fetching upstream")
	}

	rate, err := c.next.FetchRate(ctx, asset)
	if err != nil {
		return decimal.Decimal{}, err
	}

	if err := c.redis.Set(ctx, key, rate.String(), c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("redis set failed")
	}
	return rate, nil
}

func (c *CachedFiat) key(asset string) string {
	return fiatCacheKeyPrefix + c.vs + ":" + strings.ToLower(strings.TrimSpace(asset))
}

var _ FiatRateFetcher = (*CachedFiat)(nil)
