package cache

import (
	"context"
	"testing"
	"time"
)

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRUCache[int](2, 0)
	var evicted []string
	c.OnEvict(func(key string, _ int) { evicted = append(evicted, key) })

	c.Set("a", 1)
	c.Set("b", 2)
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("expected a present")
	}
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Fatalf("expected b evicted")
	}
	if len(evicted) != 1 || evicted[0] != "b" {
		t.Fatalf("unexpected evictions %v", evicted)
	}
	if got := c.Keys(); len(got) != 2 || got[0] != "c" || got[1] != "a" {
		t.Fatalf("unexpected order %v", got)
	}
	if c.Stats().Evictions != 1 {
		t.Fatalf("expected one eviction, got %+v", c.Stats())
	}
}

func TestLRUTTL(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	c := NewLRUCache[string](4, time.Minute)
	c.now = func() time.Time { return now }

	c.Set("k", "v")
	now = now.Add(30 * time.Second)
	if v, ok := c.Get("k"); !ok || v != "v" {
		t.Fatalf("expected hit before expiry")
	}
	now = now.Add(2 * time.Minute)
	if _, ok := c.Peek("k"); ok {
		t.Fatalf("expected expired entry hidden")
	}
	if n := c.CleanExpired(); n != 1 {
		t.Fatalf("expected 1 cleaned, got %d", n)
	}
	if c.Size() != 0 {
		t.Fatalf("expected empty cache")
	}
}

func TestLRUZeroTTLNeverExpires(t *testing.T) {
	c := NewLRUCache[int](1, 0)
	c.now = func() time.Time { return time.Unix(0, 0) }
	c.Set("k", 1)
	c.now = func() time.Time { return time.Unix(1<<40, 0) }
	if _, ok := c.Get("k"); !ok {
		t.Fatalf("expected entry without ttl to survive")
	}
}

func TestManagerSweep(t *testing.T) {
	now := time.Now()
	c := NewLRUCache[int](4, time.Second)
	c.now = func() time.Time { return now }
	c.Set("a", 1)
	c.Set("b", 2)
	now = now.Add(time.Hour)

	m := NewManager()
	m.Register("views", c)
	if n := m.Sweep(context.Background()); n != 2 {
		t.Fatalf("expected 2 removed, got %d", n)
	}

	m.StartCleanup(context.Background(), time.Millisecond)
	m.Stop()
	m.Stop()
}
