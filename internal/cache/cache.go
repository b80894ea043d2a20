package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/repricer/internal/domain"
)

// DefaultL1TTL caps how long TwoPhaseCache keeps an entry in process memory.
const DefaultL1TTL = 5 * time.Minute

var errSellerRequired = errors.New("sellerID is required")

// New builds the cache selected by cfg.Type:
//
//	memory  in-process LRU
//	redis   Redis, fronted by an LRU when EnableTwoPhase is set
//	none    no cache (nil, nil)
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "none":
		return nil, nil
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil
	case "redis":
		if cfg.EnableTwoPhase {
			c, err := NewTwoPhaseCache(cfg)
			if err != nil {
				return nil, err
			}
			return c, nil
		}
		c, err := NewRedisCache(cfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// TwoPhaseCache reads through a local LRU (L1) to Redis (L2) and writes to
// both. L1 entries live at most l1TTL so replicas converge on L2.
type TwoPhaseCache struct {
	l1    *LRUCache
	l2    *RedisCache
	l1TTL time.Duration
}

// NewTwoPhaseCache connects to Redis and puts an LRU in front of it.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	remote, err := NewRedisCache(cfg)
	if err != nil {
		return nil, err
	}
	return newTwoPhase(NewLRUCache(cfg.LocalMaxSize), remote, cfg.LocalTTL), nil
}

func newTwoPhase(l1 *LRUCache, l2 *RedisCache, l1TTL time.Duration) *TwoPhaseCache {
	if l1TTL <= 0 {
		l1TTL = DefaultL1TTL
	}
	return &TwoPhaseCache{l1: l1, l2: l2, l1TTL: l1TTL}
}

func (c *TwoPhaseCache) Get(ctx context.Context, sellerID string, key string) ([]byte, error) {
	if val, err := c.l1.Get(ctx, sellerID, key); err != nil || val != nil {
		return val, err
	}

	val, err := c.l2.Get(ctx, sellerID, key)
	if err != nil || val == nil {
		return nil, err
	}
	_ = c.l1.Set(ctx, sellerID, key, val, c.l1TTL)
	return val, nil
}

func (c *TwoPhaseCache) Set(ctx context.Context, sellerID string, key string, value []byte, ttl time.Duration) error {
	if err := c.l1.Set(ctx, sellerID, key, value, min(ttl, c.l1TTL)); err != nil {
		return err
	}
	return c.l2.Set(ctx, sellerID, key, value, ttl)
}

// Delete removes the key from L2 first; on failure L1 is left as is.
func (c *TwoPhaseCache) Delete(ctx context.Context, sellerID string, key string) error {
	if err := c.l2.Delete(ctx, sellerID, key); err != nil {
		return err
	}
	return c.l1.Delete(ctx, sellerID, key)
}

// Purge clears L2 before L1 so L1 is never refilled from a stale L2 entry.
func (c *TwoPhaseCache) Purge(ctx context.Context, sellerID string, prefix string) (int, error) {
	n, err := c.l2.Purge(ctx, sellerID, prefix)
	if err != nil {
		return n, err
	}
	if _, err := c.l1.Purge(ctx, sellerID, prefix); err != nil {
		return n, err
	}
	return n, nil
}

func (c *TwoPhaseCache) GetCompetitorPrices(ctx context.Context, sellerID string, sku string) ([]domain.CompetitorPrice, error) {
	return getPrices(ctx, c, sellerID, sku)
}

func (c *TwoPhaseCache) SetCompetitorPrices(ctx context.Context, sellerID string, sku string, prices []domain.CompetitorPrice, ttl time.Duration) error {
	return setPrices(ctx, c, sellerID, sku, prices, ttl)
}

// Ping reports L2 health; L1 is always available.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.l2.Ping(ctx); err != nil {
		return fmt.Errorf("redis layer: %w", err)
	}
	return nil
}

func (c *TwoPhaseCache) Close() error {
	return errors.Join(c.l1.Close(), c.l2.Close())
}

// Stats reports the L1 size and limit.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.l1.Stats()
}

type byteCache interface {
	Get(ctx context.Context, sellerID string, key string) ([]byte, error)
	Set(ctx context.Context, sellerID string, key string, value []byte, ttl time.Duration) error
}

func pricesKey(sku string) string {
	return "competitors:" + sku
}

// getPrices returns nil on a miss and a non-nil slice for a cached empty list.
func getPrices(ctx context.Context, c byteCache, sellerID, sku string) ([]domain.CompetitorPrice, error) {
	data, err := c.Get(ctx, sellerID, pricesKey(sku))
	if err != nil || data == nil {
		return nil, err
	}

	prices := []domain.CompetitorPrice{}
	if err := json.Unmarshal(data, &prices); err != nil {
		return nil, fmt.Errorf("corrupt competitor cache entry for %s: %w", sku, err)
	}
	return prices, nil
}

func setPrices(ctx context.Context, c byteCache, sellerID, sku string, prices []domain.CompetitorPrice, ttl time.Duration) error {
	if prices == nil {
		prices = []domain.CompetitorPrice{}
	}
	data, err := json.Marshal(prices)
	if err != nil {
		return err
	}
	return c.Set(ctx, sellerID, pricesKey(sku), data, ttl)
}
