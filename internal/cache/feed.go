package cache

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/opensource-finance/repricer/internal/domain"
)

// DefaultFeedTTL bounds how stale cached competitor prices may get.
const DefaultFeedTTL = time.Minute

// CachedFeed serves competitor prices from cache, falling back to the inner feed.
// Concurrent misses for the same SKU share one inner lookup.
type CachedFeed struct {
	inner domain.CompetitorFeed
	cache domain.Cache
	ttl   time.Duration
	group singleflight.Group
}

// NewCachedFeed wraps a feed with a cache.
func NewCachedFeed(inner domain.CompetitorFeed, cache domain.Cache, ttl time.Duration) *CachedFeed {
	if ttl <= 0 {
		ttl = DefaultFeedTTL
	}
	return &CachedFeed{inner: inner, cache: cache, ttl: ttl}
}

// PricesForSku implements domain.CompetitorFeed. Cache errors degrade to the inner feed.
func (f *CachedFeed) PricesForSku(ctx context.Context, sellerID string, sku string) ([]domain.CompetitorPrice, error) {
	cached, err := f.cache.GetCompetitorPrices(ctx, sellerID, sku)
	if err != nil {
		slog.Warn("competitor cache read failed", "seller_id", sellerID, "sku", sku, "error", err)
	} else if cached != nil {
		return cached, nil
	}

	v, err, _ := f.group.Do(sellerID+"/"+sku, func() (interface{}, error) {
		prices, err := f.inner.PricesForSku(ctx, sellerID, sku)
		if err != nil {
			return nil, err
		}
		if err := f.cache.SetCompetitorPrices(ctx, sellerID, sku, prices, f.ttl); err != nil {
			slog.Warn("competitor cache write failed", "seller_id", sellerID, "sku", sku, "error", err)
		}
		return prices, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.CompetitorPrice), nil
}

// Invalidate drops cached observations for the given SKUs.
func (f *CachedFeed) Invalidate(ctx context.Context, sellerID string, skus ...string) error {
	for _, sku := range skus {
		if err := f.cache.Delete(ctx, sellerID, pricesKey(sku)); err != nil {
			return err
		}
	}
	return nil
}

type purger interface {
	Purge(ctx context.Context, sellerID string, prefix string) (int, error)
}

// InvalidateSeller drops every cached observation of the seller. It reports
// false when the underlying cache cannot purge by prefix.
func (f *CachedFeed) InvalidateSeller(ctx context.Context, sellerID string) (bool, error) {
	p, ok := f.cache.(purger)
	if !ok {
		return false, nil
	}
	n, err := p.Purge(ctx, sellerID, pricesKey(""))
	if err != nil {
		return true, err
	}
	slog.Debug("competitor cache purged", "seller_id", sellerID, "entries", n)
	return true, nil
}

var _ domain.CompetitorFeed = (*CachedFeed)(nil)
