// Package cache holds the process-wide read cache shared by tenant-scoped consumers
// and the policy that decides when it is cleared or merely invalidated.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultSize is the LRU capacity used when NewQueryCache is given a non-positive size.
const DefaultSize = 1024

// Key identifies a cached query. Keys are hierarchical: Key{"memberships", userID}.
type Key []string

func (k Key) String() string {
	return strings.Join(k, "\x1f")
}

// HasPrefix reports whether p is a leading segment sequence of k.
func (k Key) HasPrefix(p Key) bool {
	if len(p) > len(k) {
		return false
	}
	for i := range p {
		if k[i] != p[i] {
			return false
		}
	}
	return true
}

// Controller is the clear/invalidate surface of the shared cache. Only the session
// lifecycle policy and tenant commands call ClearAll/InvalidateAll; other collaborators
// use InvalidateScoped after their own mutations.
type Controller interface {
	// ClearAll drops every entry outright.
	ClearAll()
	// InvalidateAll marks every entry stale; data stays readable until refetched.
	InvalidateAll()
	// InvalidateScoped marks stale every entry whose key starts with one of prefixes.
	InvalidateScoped(prefixes ...Key)
}

type entry struct {
	key       Key
	value     any
	updatedAt time.Time
	stale     bool
}

// QueryCache is an LRU-bounded keyed cache with stale marks. Safe for concurrent use.
type QueryCache struct {
	mu         sync.Mutex
	entries    *lru.Cache[string, *entry]
	generation uint64
	nowF       func() time.Time
}

var _ Controller = (*QueryCache)(nil)

// NewQueryCache returns a cache holding at most size entries.
func NewQueryCache(size int) (*QueryCache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	entries, err := lru.New[string, *entry](size)
	if err != nil {
		return nil, err
	}
	return &QueryCache{entries: entries, nowF: time.Now}, nil
}

// Get returns the cached value for key. fresh is false when the entry is marked stale
// or older than maxAge (maxAge <= 0 means no age limit).
func (c *QueryCache) Get(key Key, maxAge time.Duration) (value any, fresh bool, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries.Get(key.String())
	if !ok {
		return nil, false, false
	}
	return e.value, c.isFresh(e, maxAge), true
}

// Set stores value under key as fresh.
func (c *QueryCache) Set(key Key, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Add(key.String(), &entry{key: key, value: value, updatedAt: c.nowF()})
}

// Update applies fn to the cached value under key and stores the result with its
// staleness unchanged. Returns false when nothing is cached under key.
func (c *QueryCache) Update(key Key, fn func(old any) any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries.Peek(key.String())
	if !ok {
		return false
	}
	c.entries.Add(key.String(), &entry{key: e.key, value: fn(e.value), updatedAt: e.updatedAt, stale: e.stale})
	return true
}

// Remove drops a single entry.
func (c *QueryCache) Remove(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Remove(key.String())
}

// Generation returns a counter bumped by every ClearAll.
func (c *QueryCache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// ClearAll drops every entry and starts a new generation so loads that began
// before the clear cannot repopulate the cache.
func (c *QueryCache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
	c.generation++
}

// InvalidateAll marks every entry stale.
func (c *QueryCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range c.entries.Keys() {
		if e, ok := c.entries.Peek(k); ok {
			e.stale = true
		}
	}
}

// InvalidateScoped marks stale every entry whose key has one of the given prefixes.
func (c *QueryCache) InvalidateScoped(prefixes ...Key) {
	if len(prefixes) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range c.entries.Keys() {
		e, ok := c.entries.Peek(k)
		if !ok {
			continue
		}
		for _, p := range prefixes {
			if e.key.HasPrefix(p) {
				e.stale = true
				break
			}
		}
	}
}

// Len returns the number of cached entries.
func (c *QueryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

func (c *QueryCache) isFresh(e *entry, maxAge time.Duration) bool {
	if e.stale {
		return false
	}
	return maxAge <= 0 || c.nowF().Sub(e.updatedAt) < maxAge
}

// storeIfCurrent writes value unless a ClearAll happened after gen was read.
func (c *QueryCache) storeIfCurrent(gen uint64, key Key, value any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return false
	}
	c.entries.Add(key.String(), &entry{key: key, value: value, updatedAt: c.nowF()})
	return true
}

// Fetch returns the fresh cached value for key or calls load and caches its result.
// A load error is returned as is and leaves any existing entry untouched.
// If the cache is cleared while load runs, the result is returned to the caller but not cached.
func Fetch[T any](ctx context.Context, c *QueryCache, key Key, maxAge time.Duration, load func(context.Context) (T, error)) (T, error) {
	if v, fresh, ok := c.Get(key, maxAge); ok && fresh {
		if typed, ok := v.(T); ok {
			return typed, nil
		}
	}
	gen := c.Generation()
	v, err := load(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	c.storeIfCurrent(gen, key, v)
	return v, nil
}

// Peek returns the cached value for key as T regardless of freshness.
func Peek[T any](c *QueryCache, key Key) (value T, fresh bool, ok bool) {
	v, fresh, ok := c.Get(key, 0)
	if !ok {
		return value, false, false
	}
	typed, ok := v.(T)
	if !ok {
		return value, false, false
	}
	return typed, fresh, true
}
