package cache

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
)

func TestRedisCompetitorPrices(t *testing.T) {
	ctx := context.Background()
	client, mock := redismock.NewClientMock()
	c := newRedisCacheWithClient(client)

	key := "repricer:seller-001:competitors:SKU-001"

	t.Run("Miss", func(t *testing.T) {
		mock.ExpectGet(key).RedisNil()

		got, err := c.GetCompetitorPrices(ctx, "seller-001", "SKU-001")
		if err != nil {
			t.Fatalf("GetCompetitorPrices failed: %v", err)
		}
		if got != nil {
			t.Errorf("expected nil on miss, got %v", got)
		}
	})

	t.Run("Hit", func(t *testing.T) {
		mock.ExpectGet(key).SetVal(`[{"id":"1","sku":"SKU-001","competitorName":"Loja A","competitorPrice":97.5,"marketplace":"magalu","capturedAt":"2024-01-01T10:00:00Z"}]`)

		got, err := c.GetCompetitorPrices(ctx, "seller-001", "SKU-001")
		if err != nil {
			t.Fatalf("GetCompetitorPrices failed: %v", err)
		}
		if len(got) != 1 || got[0].Price != 97.5 || got[0].CompetitorName != "Loja A" {
			t.Errorf("unexpected prices: %+v", got)
		}
	})

	t.Run("CorruptEntry", func(t *testing.T) {
		mock.ExpectGet(key).SetVal(`not json`)

		if _, err := c.GetCompetitorPrices(ctx, "seller-001", "SKU-001"); err == nil {
			t.Error("expected error for corrupt entry")
		}
	})

	t.Run("RequiresSellerID", func(t *testing.T) {
		if _, err := c.Get(ctx, "", "k"); err == nil {
			t.Error("expected error for empty sellerID")
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet redis expectations: %v", err)
	}
}

func TestRedisPurge(t *testing.T) {
	ctx := context.Background()
	client, mock := redismock.NewClientMock()
	c := newRedisCacheWithClient(client)

	t.Run("DeletesEveryPage", func(t *testing.T) {
		match := "repricer:seller-001:competitors:*"
		mock.ExpectScan(0, match, redisScanCount).SetVal([]string{
			"repricer:seller-001:competitors:SKU-001",
			"repricer:seller-001:competitors:SKU-002",
		}, 42)
		mock.ExpectDel("repricer:seller-001:competitors:SKU-001", "repricer:seller-001:competitors:SKU-002").SetVal(2)
		mock.ExpectScan(42, match, redisScanCount).SetVal([]string{"repricer:seller-001:competitors:SKU-003"}, 0)
		mock.ExpectDel("repricer:seller-001:competitors:SKU-003").SetVal(1)

		n, err := c.Purge(ctx, "seller-001", "competitors:")
		if err != nil {
			t.Fatalf("Purge failed: %v", err)
		}
		if n != 3 {
			t.Errorf("expected 3 keys removed, got %d", n)
		}
	})

	t.Run("EscapesGlob", func(t *testing.T) {
		mock.ExpectScan(0, `repricer:sel\*ler:competitors:*`, redisScanCount).SetVal(nil, 0)

		if _, err := c.Purge(ctx, "sel*ler", "competitors:"); err != nil {
			t.Fatalf("Purge failed: %v", err)
		}
	})

	t.Run("CachedFeedUsesPurge", func(t *testing.T) {
		mock.ExpectScan(0, "repricer:seller-001:competitors:*", redisScanCount).SetVal(nil, 0)

		feed := NewCachedFeed(&countingFeed{}, c, 0)
		done, err := feed.InvalidateSeller(ctx, "seller-001")
		if err != nil || !done {
			t.Errorf("expected purge, got done=%v err=%v", done, err)
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet redis expectations: %v", err)
	}
}

func TestTwoPhaseCache(t *testing.T) {
	ctx := context.Background()
	client, mock := redismock.NewClientMock()
	c := newTwoPhase(NewLRUCache(10), newRedisCacheWithClient(client), time.Minute)

	t.Run("L2HitFillsL1", func(t *testing.T) {
		mock.ExpectGet("repricer:seller-001:k").SetVal("v")

		for i := 0; i < 2; i++ {
			val, err := c.Get(ctx, "seller-001", "k")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if string(val) != "v" {
				t.Errorf("read %d: expected v, got %q", i, val)
			}
		}
	})

	t.Run("SetWritesBothLayers", func(t *testing.T) {
		mock.ExpectSet("repricer:seller-001:k2", []byte("v2"), time.Hour).SetVal("OK")

		if err := c.Set(ctx, "seller-001", "k2", []byte("v2"), time.Hour); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		if val, _ := c.l1.Get(ctx, "seller-001", "k2"); string(val) != "v2" {
			t.Errorf("expected L1 to hold v2, got %q", val)
		}
	})

	t.Run("PurgeClearsL1", func(t *testing.T) {
		_ = c.l1.Set(ctx, "seller-001", "competitors:SKU-001", []byte("[]"), time.Minute)
		mock.ExpectScan(0, "repricer:seller-001:competitors:*", redisScanCount).SetVal(nil, 0)

		if _, err := c.Purge(ctx, "seller-001", "competitors:"); err != nil {
			t.Fatalf("Purge failed: %v", err)
		}
		if val, _ := c.l1.Get(ctx, "seller-001", "competitors:SKU-001"); val != nil {
			t.Error("expected L1 entry purged")
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet redis expectations: %v", err)
	}
}
