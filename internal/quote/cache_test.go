package quote

import (
	"fmt"
	"testing"
	"time"
)

func TestCacheExpiresAfterTTL(t *testing.T) {
	now := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	c := NewCache(5*time.Second, 50)
	c.now = func() time.Time { return now }

	c.Put("BTC/USDT:USDT", 89999, 90001)

	if mid, ok := c.Get("BTC/USDT:USDT"); !ok || mid != 90000 {
		t.Fatalf("expected fresh hit at mid 90000, got %v %v", mid, ok)
	}

	now = now.Add(6 * time.Second)
	if _, ok := c.Get("BTC/USDT:USDT"); ok {
		t.Fatalf("entry older than TTL should miss")
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewCache(time.Minute, 3)

	c.Put("A", 1, 1)
	c.Put("B", 2, 2)
	c.Put("C", 3, 3)

	// 触碰A让其成为最近使用，B成为淘汰候选。
	if _, ok := c.Get("A"); !ok {
		t.Fatalf("A should be present")
	}

	c.Put("D", 4, 4)

	if _, ok := c.Get("B"); ok {
		t.Fatalf("least recently used entry B should have been evicted")
	}
	for _, sym := range []string{"A", "C", "D"} {
		if _, ok := c.Get(sym); !ok {
			t.Fatalf("entry %s should have survived eviction", sym)
		}
	}
	if c.Len() != 3 {
		t.Fatalf("cache should hold exactly its capacity, got %d", c.Len())
	}
}

func TestCachePutRefreshesExisting(t *testing.T) {
	c := NewCache(time.Minute, 2)

	c.Put("A", 1, 1)
	c.Put("B", 2, 2)
	c.Put("A", 10, 10)
	c.Put("C", 3, 3)

	if _, ok := c.Get("B"); ok {
		t.Fatalf("B should have been evicted after A was refreshed")
	}
	if mid, ok := c.Get("A"); !ok || mid != 10 {
		t.Fatalf("A should carry the refreshed price, got %v %v", mid, ok)
	}
}

func TestCacheSweepRemovesExpiredAndOrphaned(t *testing.T) {
	now := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	c := NewCache(5*time.Second, 50)
	c.now = func() time.Time { return now }

	c.Put("KEEP", 1, 1)
	c.Put("ORPHAN", 2, 2)
	now = now.Add(3 * time.Second)
	c.Put("FRESH", 3, 3)
	now = now.Add(3 * time.Second)

	removed := c.Sweep(func(symbol string) bool { return symbol != "ORPHAN" })

	// KEEP 已过期，ORPHAN 无人引用，只有 FRESH 幸存。
	if removed != 2 {
		t.Fatalf("expected 2 removals, got %d", removed)
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 surviving entry, got %d", c.Len())
	}
}

func TestCacheHitRate(t *testing.T) {
	c := NewCache(time.Minute, 10)

	for i := 0; i < 5; i++ {
		c.Put(fmt.Sprintf("S%d", i), float64(i), float64(i))
	}
	for i := 0; i < 5; i++ {
		c.Get(fmt.Sprintf("S%d", i))
	}
	c.Get("MISSING")

	want := 5.0 / 6.0
	if got := c.HitRate(); got < want-1e-9 || got > want+1e-9 {
		t.Fatalf("hit rate mismatch: got %f want %f", got, want)
	}
}
