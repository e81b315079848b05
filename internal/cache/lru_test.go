package cache

import (
	"fmt"
	"testing"
	"time"
)

func TestLRU_GetSet(t *testing.T) {
	c := NewLRU[string](10, time.Hour)

	if _, ok := c.Get("missing"); ok {
		t.Error("Get on empty cache returned ok")
	}

	c.Set("k", "v")
	got, ok := c.Get("k")
	if !ok || got != "v" {
		t.Errorf("Get = (%q, %v), want (v, true)", got, ok)
	}
}

func TestLRU_EvictsOldestAtCapacity(t *testing.T) {
	c := NewLRU[int](3, time.Hour)

	for i := 0; i < 4; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
	}

	if _, ok := c.Get("k0"); ok {
		t.Error("oldest entry k0 survived eviction")
	}
	if _, ok := c.Get("k3"); !ok {
		t.Error("newest entry k3 missing")
	}
	if c.Len() != 3 {
		t.Errorf("Len = %d, want 3", c.Len())
	}
}

func TestLRU_RecentUseProtectsFromEviction(t *testing.T) {
	c := NewLRU[int](2, time.Hour)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a") // now b is the least recently used
	c.Set("c", 3)

	if _, ok := c.Get("a"); !ok {
		t.Error("recently used entry a was evicted")
	}
	if _, ok := c.Get("b"); ok {
		t.Error("least recently used entry b survived")
	}
}

func TestLRU_TTLExpiry(t *testing.T) {
	c := NewLRU[string](10, time.Hour)

	now := time.Date(2025, 2, 10, 12, 0, 0, 0, time.UTC)
	c.SetClock(func() time.Time { return now })

	c.Set("k", "v")

	now = now.Add(59 * time.Minute)
	if _, ok := c.Get("k"); !ok {
		t.Error("entry expired before TTL")
	}

	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("k"); ok {
		t.Error("entry survived past TTL")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry not removed, Len = %d", c.Len())
	}
}

func TestLRU_SetOverwrites(t *testing.T) {
	c := NewLRU[int](2, time.Hour)

	c.Set("k", 1)
	c.Set("k", 2)

	got, ok := c.Get("k")
	if !ok || got != 2 {
		t.Errorf("Get = (%d, %v), want (2, true)", got, ok)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}
