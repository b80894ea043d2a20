// Package cache provides caching implementations for the repricer.
package cache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/opensource-finance/repricer/internal/domain"
)

// DefaultLRUSize is the entry limit used when none is configured.
const DefaultLRUSize = 10000

type entryKey struct {
	seller string
	key    string
}

type lruEntry struct {
	id        entryKey
	value     []byte
	expiresAt time.Time
}

// LRUCache is an in-process cache with per-entry TTL. It backs single-node
// deployments and is the L1 layer of TwoPhaseCache.
type LRUCache struct {
	mu      sync.Mutex
	limit   int
	entries map[entryKey]*list.Element
	recency *list.List // front is most recently used
	now     func() time.Time
}

// NewLRUCache creates a cache holding at most maxSize entries.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = DefaultLRUSize
	}
	return &LRUCache{
		limit:   maxSize,
		entries: make(map[entryKey]*list.Element),
		recency: list.New(),
		now:     time.Now,
	}
}

// lookup returns the live element for id, dropping it if it has expired.
// Callers hold c.mu.
func (c *LRUCache) lookup(id entryKey) *list.Element {
	elem, ok := c.entries[id]
	if !ok {
		return nil
	}
	if c.now().After(elem.Value.(*lruEntry).expiresAt) {
		c.drop(elem)
		return nil
	}
	return elem
}

func (c *LRUCache) drop(elem *list.Element) {
	c.recency.Remove(elem)
	delete(c.entries, elem.Value.(*lruEntry).id)
}

func (c *LRUCache) Get(ctx context.Context, sellerID string, key string) ([]byte, error) {
	if sellerID == "" {
		return nil, errSellerRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem := c.lookup(entryKey{sellerID, key})
	if elem == nil {
		return nil, nil
	}
	c.recency.MoveToFront(elem)
	return elem.Value.(*lruEntry).value, nil
}

func (c *LRUCache) Set(ctx context.Context, sellerID string, key string, value []byte, ttl time.Duration) error {
	if sellerID == "" {
		return errSellerRequired
	}

	id := entryKey{sellerID, key}
	expiresAt := c.now().Add(ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[id]; ok {
		e := elem.Value.(*lruEntry)
		e.value, e.expiresAt = value, expiresAt
		c.recency.MoveToFront(elem)
		return nil
	}

	c.entries[id] = c.recency.PushFront(&lruEntry{id: id, value: value, expiresAt: expiresAt})
	for c.recency.Len() > c.limit {
		c.drop(c.recency.Back())
	}
	return nil
}

func (c *LRUCache) Delete(ctx context.Context, sellerID string, key string) error {
	if sellerID == "" {
		return errSellerRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[entryKey{sellerID, key}]; ok {
		c.drop(elem)
	}
	return nil
}

// Purge removes every entry of the seller whose key starts with prefix.
func (c *LRUCache) Purge(ctx context.Context, sellerID string, prefix string) (int, error) {
	if sellerID == "" {
		return 0, errSellerRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for id, elem := range c.entries {
		if id.seller == sellerID && strings.HasPrefix(id.key, prefix) {
			c.drop(elem)
			n++
		}
	}
	return n, nil
}

func (c *LRUCache) GetCompetitorPrices(ctx context.Context, sellerID string, sku string) ([]domain.CompetitorPrice, error) {
	return getPrices(ctx, c, sellerID, sku)
}

func (c *LRUCache) SetCompetitorPrices(ctx context.Context, sellerID string, sku string, prices []domain.CompetitorPrice, ttl time.Duration) error {
	return setPrices(ctx, c, sellerID, sku, prices, ttl)
}

func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close empties the cache.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
	c.recency.Init()
	return nil
}

// Stats reports the current entry count and the configured limit.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recency.Len(), c.limit
}
