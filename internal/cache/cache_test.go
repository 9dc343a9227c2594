package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestCache(t *testing.T) *QueryCache {
	t.Helper()
	c, err := NewQueryCache(16)
	if err != nil {
		t.Fatalf("NewQueryCache: %v", err)
	}
	return c
}

func TestQueryCache_ClearDropsEntries(t *testing.T) {
	c := newTestCache(t)
	c.Set(Key{"memberships", "u1"}, []string{"org1"})
	c.Set(Key{"role", "u1", "org1"}, "owner")

	c.ClearAll()

	if c.Len() != 0 {
		t.Errorf("Len after ClearAll = %d, want 0", c.Len())
	}
	if _, _, ok := c.Get(Key{"memberships", "u1"}, 0); ok {
		t.Error("entry should be gone after ClearAll")
	}
}

func TestQueryCache_InvalidateKeepsDataButMarksStale(t *testing.T) {
	c := newTestCache(t)
	key := Key{"memberships", "u1"}
	c.Set(key, "snapshot")

	c.InvalidateAll()

	v, fresh, ok := c.Get(key, 0)
	if !ok {
		t.Fatal("entry should survive InvalidateAll")
	}
	if fresh {
		t.Error("entry should be stale after InvalidateAll")
	}
	if v != "snapshot" {
		t.Errorf("value = %v, want snapshot", v)
	}
}

func TestQueryCache_InvalidateScoped(t *testing.T) {
	c := newTestCache(t)
	c.Set(Key{"schedule", "org1", "lots"}, 1)
	c.Set(Key{"schedule", "org2", "lots"}, 2)
	c.Set(Key{"memberships", "u1"}, 3)

	c.InvalidateScoped(Key{"schedule", "org1"})

	if _, fresh, _ := c.Get(Key{"schedule", "org1", "lots"}, 0); fresh {
		t.Error("scoped entry should be stale")
	}
	if _, fresh, _ := c.Get(Key{"schedule", "org2", "lots"}, 0); !fresh {
		t.Error("entry outside scope should stay fresh")
	}
	if _, fresh, _ := c.Get(Key{"memberships", "u1"}, 0); !fresh {
		t.Error("unrelated entry should stay fresh")
	}
}

func TestQueryCache_MaxAge(t *testing.T) {
	c := newTestCache(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.nowF = func() time.Time { return now }
	c.Set(Key{"role", "u1", "org1"}, "owner")

	now = now.Add(4 * time.Minute)
	if _, fresh, _ := c.Get(Key{"role", "u1", "org1"}, 5*time.Minute); !fresh {
		t.Error("entry within freshness window should be fresh")
	}
	now = now.Add(2 * time.Minute)
	if _, fresh, _ := c.Get(Key{"role", "u1", "org1"}, 5*time.Minute); fresh {
		t.Error("entry past freshness window should be stale")
	}
}

func TestFetch_ServesFreshAndReloadsStale(t *testing.T) {
	c := newTestCache(t)
	key := Key{"role", "u1", "org1"}
	calls := 0
	load := func(context.Context) (string, error) {
		calls++
		return "manager", nil
	}

	for i := 0; i < 3; i++ {
		v, err := Fetch(context.Background(), c, key, time.Minute, load)
		if err != nil || v != "manager" {
			t.Fatalf("Fetch = (%q, %v)", v, err)
		}
	}
	if calls != 1 {
		t.Errorf("loader calls = %d, want 1", calls)
	}

	c.InvalidateAll()
	if _, err := Fetch(context.Background(), c, key, time.Minute, load); err != nil {
		t.Fatalf("Fetch after invalidate: %v", err)
	}
	if calls != 2 {
		t.Errorf("loader calls after invalidate = %d, want 2", calls)
	}
}

func TestFetch_ErrorKeepsExistingEntry(t *testing.T) {
	c := newTestCache(t)
	key := Key{"memberships", "u1"}
	c.Set(key, "old")
	c.InvalidateAll()

	_, err := Fetch(context.Background(), c, key, 0, func(context.Context) (string, error) {
		return "", errors.New("network down")
	})
	if err == nil {
		t.Fatal("expected loader error")
	}
	v, _, ok := c.Get(key, 0)
	if !ok || v != "old" {
		t.Errorf("existing entry = (%v, %v), want old", v, ok)
	}
}

func TestFetch_ClearDuringLoadIsNotCached(t *testing.T) {
	c := newTestCache(t)
	key := Key{"memberships", "u1"}

	v, err := Fetch(context.Background(), c, key, 0, func(context.Context) (string, error) {
		c.ClearAll() // e.g. a sign-in lands while the request is in flight
		return "previous-identity-data", nil
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if v != "previous-identity-data" {
		t.Errorf("Fetch returned %q", v)
	}
	if _, _, ok := c.Get(key, 0); ok {
		t.Error("result of a load that straddled ClearAll must not be cached")
	}
}

func TestQueryCache_UpdatePreservesStaleness(t *testing.T) {
	c := newTestCache(t)
	key := Key{"schedule", "org1"}
	c.Set(key, 1)
	c.InvalidateAll()

	if !c.Update(key, func(old any) any { return old.(int) + 1 }) {
		t.Fatal("Update should find the entry")
	}
	v, fresh, _ := c.Get(key, 0)
	if v != 2 {
		t.Errorf("value = %v, want 2", v)
	}
	if fresh {
		t.Error("Update should not make a stale entry fresh")
	}
	if c.Update(Key{"missing"}, func(old any) any { return old }) {
		t.Error("Update on missing key should return false")
	}
}

func TestPeek_TypeMismatch(t *testing.T) {
	c := newTestCache(t)
	c.Set(Key{"k"}, 42)
	if _, _, ok := Peek[string](c, Key{"k"}); ok {
		t.Error("Peek with wrong type should report not ok")
	}
	if v, fresh, ok := Peek[int](c, Key{"k"}); !ok || !fresh || v != 42 {
		t.Errorf("Peek = (%v, %v, %v)", v, fresh, ok)
	}
}

func TestKey_HasPrefix(t *testing.T) {
	k := Key{"a", "b", "c"}
	if !k.HasPrefix(Key{"a", "b"}) || !k.HasPrefix(Key{}) || !k.HasPrefix(k) {
		t.Error("expected prefix match")
	}
	if k.HasPrefix(Key{"a", "c"}) || k.HasPrefix(Key{"a", "b", "c", "d"}) {
		t.Error("unexpected prefix match")
	}
}
