package cache

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opensource-finance/repricer/internal/domain"
)

const (
	redisKeyspace   = "repricer"
	redisScanCount  = 200
	redisDialWait   = 5 * time.Second
	redisOpDeadline = 2 * time.Second
)

// RedisCache stores entries under "repricer:<seller>:<key>". It is shared by
// every replica and serves as L2 of TwoPhaseCache.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to the configured Redis and verifies it answers.
func NewRedisCache(cfg domain.CacheConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cmp.Or(cfg.RedisAddr, "localhost:6379"),
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		ClientName:   "repricer",
		DialTimeout:  redisDialWait,
		ReadTimeout:  redisOpDeadline,
		WriteTimeout: redisOpDeadline,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisDialWait)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis at %s unreachable: %w", cmp.Or(cfg.RedisAddr, "localhost:6379"), err)
	}
	return newRedisCacheWithClient(client), nil
}

func newRedisCacheWithClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func redisKey(sellerID, key string) string {
	return redisKeyspace + ":" + sellerID + ":" + key
}

// globEscaper protects seller IDs and prefixes used in SCAN patterns.
var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func (c *RedisCache) Get(ctx context.Context, sellerID string, key string) ([]byte, error) {
	if sellerID == "" {
		return nil, errSellerRequired
	}

	val, err := c.client.Get(ctx, redisKey(sellerID, key)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return val, nil
}

func (c *RedisCache) Set(ctx context.Context, sellerID string, key string, value []byte, ttl time.Duration) error {
	if sellerID == "" {
		return errSellerRequired
	}
	if err := c.client.Set(ctx, redisKey(sellerID, key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, sellerID string, key string) error {
	if sellerID == "" {
		return errSellerRequired
	}
	if err := c.client.Del(ctx, redisKey(sellerID, key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Purge walks the seller's keys starting with prefix using SCAN and deletes
// each page as it goes. It returns the number of keys removed.
func (c *RedisCache) Purge(ctx context.Context, sellerID string, prefix string) (int, error) {
	if sellerID == "" {
		return 0, errSellerRequired
	}

	match := redisKey(globEscaper.Replace(sellerID), globEscaper.Replace(prefix)) + "*"

	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, match, redisScanCount).Result()
		if err != nil {
			return removed, fmt.Errorf("redis scan %s: %w", match, err)
		}
		if len(keys) > 0 {
			n, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				return removed, fmt.Errorf("redis del: %w", err)
			}
			removed += int(n)
		}
		if next == 0 {
			return removed, nil
		}
		cursor = next
	}
}

func (c *RedisCache) GetCompetitorPrices(ctx context.Context, sellerID string, sku string) ([]domain.CompetitorPrice, error) {
	return getPrices(ctx, c, sellerID, sku)
}

func (c *RedisCache) SetCompetitorPrices(ctx context.Context, sellerID string, sku string, prices []domain.CompetitorPrice, ttl time.Duration) error {
	return setPrices(ctx, c, sellerID, sku, prices, ttl)
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
