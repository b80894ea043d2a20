package cache

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/repricer/internal/domain"
)

// fakeClock drives LRU expiry without sleeping.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()
	sellerID := "seller-001"

	t.Run("RoundTrip", func(t *testing.T) {
		if err := cache.Set(ctx, sellerID, "competitors:SKU-1", []byte("v1"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		if val, err := cache.Get(ctx, sellerID, "competitors:SKU-1"); err != nil || string(val) != "v1" {
			t.Errorf("expected v1, got %q (%v)", val, err)
		}

		if err := cache.Set(ctx, sellerID, "competitors:SKU-1", []byte("v2"), time.Minute); err != nil {
			t.Fatalf("overwrite failed: %v", err)
		}
		if val, _ := cache.Get(ctx, sellerID, "competitors:SKU-1"); string(val) != "v2" {
			t.Errorf("expected overwrite to v2, got %q", val)
		}

		if err := cache.Delete(ctx, sellerID, "competitors:SKU-1"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if val, _ := cache.Get(ctx, sellerID, "competitors:SKU-1"); val != nil {
			t.Errorf("expected miss after delete, got %q", val)
		}
	})

	t.Run("Expiry", func(t *testing.T) {
		clock := &fakeClock{t: time.Date(2024, 6, 18, 10, 0, 0, 0, time.UTC)}
		c := NewLRUCache(10)
		c.now = clock.now

		_ = c.Set(ctx, sellerID, "k", []byte("v"), time.Minute)
		clock.advance(59 * time.Second)
		if val, _ := c.Get(ctx, sellerID, "k"); val == nil {
			t.Error("expected hit before ttl")
		}

		clock.advance(2 * time.Second)
		if val, _ := c.Get(ctx, sellerID, "k"); val != nil {
			t.Error("expected miss after ttl")
		}
		if size, _ := c.Stats(); size != 0 {
			t.Errorf("expected expired entry dropped, size %d", size)
		}
	})

	t.Run("EvictsLeastRecentlyUsed", func(t *testing.T) {
		c := NewLRUCache(3)
		for _, k := range []string{"a", "b", "c"} {
			_ = c.Set(ctx, sellerID, k, []byte(k), time.Minute)
		}
		_, _ = c.Get(ctx, sellerID, "a")
		_ = c.Set(ctx, sellerID, "d", []byte("d"), time.Minute)

		for k, want := range map[string]bool{"a": true, "b": false, "c": true, "d": true} {
			val, _ := c.Get(ctx, sellerID, k)
			if (val != nil) != want {
				t.Errorf("key %s: expected present=%v", k, want)
			}
		}
	})

	t.Run("SellerIsolation", func(t *testing.T) {
		_ = cache.Set(ctx, "seller-001", "shared", []byte("one"), time.Minute)
		_ = cache.Set(ctx, "seller-002", "shared", []byte("two"), time.Minute)

		if val, _ := cache.Get(ctx, "seller-001", "shared"); string(val) != "one" {
			t.Errorf("seller-001: expected one, got %q", val)
		}
		if val, _ := cache.Get(ctx, "seller-002", "shared"); string(val) != "two" {
			t.Errorf("seller-002: expected two, got %q", val)
		}
	})

	t.Run("RequiresSellerID", func(t *testing.T) {
		if err := cache.Set(ctx, "", "k", []byte("v"), time.Minute); err == nil {
			t.Error("Set: expected error for empty sellerID")
		}
		if _, err := cache.Get(ctx, "", "k"); err == nil {
			t.Error("Get: expected error for empty sellerID")
		}
		if err := cache.Delete(ctx, "", "k"); err == nil {
			t.Error("Delete: expected error for empty sellerID")
		}
	})

	t.Run("CompetitorPrices", func(t *testing.T) {
		miss, err := cache.GetCompetitorPrices(ctx, sellerID, "SKU-001")
		if err != nil {
			t.Fatalf("GetCompetitorPrices failed: %v", err)
		}
		if miss != nil {
			t.Errorf("expected nil on miss, got %v", miss)
		}

		prices := []domain.CompetitorPrice{
			{SKU: "SKU-001", CompetitorName: "Loja A", Price: 97.5, Marketplace: domain.MarketplaceMagalu},
		}
		if err := cache.SetCompetitorPrices(ctx, sellerID, "SKU-001", prices, time.Minute); err != nil {
			t.Fatalf("SetCompetitorPrices failed: %v", err)
		}

		got, err := cache.GetCompetitorPrices(ctx, sellerID, "SKU-001")
		if err != nil {
			t.Fatalf("GetCompetitorPrices failed: %v", err)
		}
		if len(got) != 1 || got[0].Price != 97.5 || got[0].CompetitorName != "Loja A" {
			t.Errorf("unexpected cached prices: %+v", got)
		}
	})

	t.Run("CachedEmptyPrices", func(t *testing.T) {
		if err := cache.SetCompetitorPrices(ctx, sellerID, "SKU-EMPTY", nil, time.Minute); err != nil {
			t.Fatalf("SetCompetitorPrices failed: %v", err)
		}
		got, err := cache.GetCompetitorPrices(ctx, sellerID, "SKU-EMPTY")
		if err != nil {
			t.Fatalf("GetCompetitorPrices failed: %v", err)
		}
		if got == nil || len(got) != 0 {
			t.Errorf("expected empty non-nil slice, got %#v", got)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		statsCache := NewLRUCache(50)
		_ = statsCache.Set(ctx, sellerID, "k1", []byte("v1"), time.Minute)
		_ = statsCache.Set(ctx, sellerID, "k2", []byte("v2"), time.Minute)

		size, capacity := statsCache.Stats()
		if size != 2 {
			t.Errorf("expected size 2, got %d", size)
		}
		if capacity != 50 {
			t.Errorf("expected capacity 50, got %d", capacity)
		}
	})

	t.Run("Purge", func(t *testing.T) {
		c := NewLRUCache(10)
		_ = c.Set(ctx, sellerID, "competitors:A", []byte("a"), time.Minute)
		_ = c.Set(ctx, sellerID, "competitors:B", []byte("b"), time.Minute)
		_ = c.Set(ctx, sellerID, "rules:1", []byte("r"), time.Minute)
		_ = c.Set(ctx, "seller-002", "competitors:A", []byte("other"), time.Minute)

		n, err := c.Purge(ctx, sellerID, "competitors:")
		if err != nil {
			t.Fatalf("Purge failed: %v", err)
		}
		if n != 2 {
			t.Errorf("expected 2 purged, got %d", n)
		}
		if val, _ := c.Get(ctx, sellerID, "competitors:A"); val != nil {
			t.Error("expected competitors:A purged")
		}
		if val, _ := c.Get(ctx, sellerID, "rules:1"); val == nil {
			t.Error("expected rules:1 kept")
		}
		if val, _ := c.Get(ctx, "seller-002", "competitors:A"); string(val) != "other" {
			t.Error("expected other seller untouched")
		}
		if _, err := c.Purge(ctx, "", "competitors:"); err == nil {
			t.Error("expected error for empty sellerID")
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := cache.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("Close", func(t *testing.T) {
		testCache := NewLRUCache(10)
		_ = testCache.Set(ctx, sellerID, "k", []byte("v"), time.Minute)

		err := testCache.Close()
		if err != nil {
			t.Errorf("Close failed: %v", err)
		}

		// Cache should be empty after close
		val, _ := testCache.Get(ctx, sellerID, "k")
		if val != nil {
			t.Error("expected cache to be cleared after close")
		}
	})
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		cfg := domain.CacheConfig{
			Type:         "memory",
			LocalMaxSize: 100,
		}

		cache, err := New(cfg)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer cache.Close()

		_, ok := cache.(*LRUCache)
		if !ok {
			t.Error("expected LRUCache for memory type")
		}
	})

	t.Run("NoneType", func(t *testing.T) {
		cache, err := New(domain.CacheConfig{Type: "none"})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if cache != nil {
			t.Error("expected nil cache for none type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		cfg := domain.CacheConfig{
			Type: "memcached",
		}

		_, err := New(cfg)
		if err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}
