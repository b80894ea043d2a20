package domain

import (
	"context"
	"time"
)

// Cache is a seller-scoped byte cache with typed helpers for competitor
// observations. Implementations reject an empty sellerID.
type Cache interface {
	// Get returns nil, nil on a miss.
	Get(ctx context.Context, sellerID string, key string) ([]byte, error)
	Set(ctx context.Context, sellerID string, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, sellerID string, key string) error

	// GetCompetitorPrices returns nil, nil on a miss; an empty non-nil slice is
	// a cached "no observations".
	GetCompetitorPrices(ctx context.Context, sellerID string, sku string) ([]CompetitorPrice, error)
	SetCompetitorPrices(ctx context.Context, sellerID string, sku string, prices []CompetitorPrice, ttl time.Duration) error

	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig selects and tunes the cache. Type is "memory", "redis" or "none".
type CacheConfig struct {
	Type string `mapstructure:"type"`

	// LocalMaxSize bounds the in-process LRU; LocalTTL caps its entry lifetime
	// when it fronts Redis.
	LocalMaxSize int           `mapstructure:"local_max_size"`
	LocalTTL     time.Duration `mapstructure:"local_ttl"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	// EnableTwoPhase puts the LRU in front of Redis.
	EnableTwoPhase bool `mapstructure:"enable_two_phase"`

	// FeedTTL bounds how long competitor prices are served from cache.
	FeedTTL time.Duration `mapstructure:"feed_ttl"`
}
