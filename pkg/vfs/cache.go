package vfs

import (
	"container/list"
	"sync"
	"time"

	"github.com/staffdrive/staffdrive/internal/logger"
)

// ListingCache memoizes folder listings by exact path.
//
// Cache Strategy:
//   - Keyed by the cleaned logical path
//   - Dropped wholesale by InvalidateAll after any mutation in the tree
//   - Entries expire after TTL even without mutations, which bounds how
//     long changes made outside this process (for example in the MEGA web
//     client) stay invisible
//   - LRU eviction once MaxEntries is reached
//
// Every invalidation bumps a generation counter. A listing computed while an
// invalidation happened is discarded by PutIfGeneration instead of
// resurrecting pre-mutation state.
//
// Thread Safety:
// All operations take mu. Get takes the write lock because it reorders the
// LRU list.
type ListingCache struct {
	enabled    bool
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu         sync.Mutex
	entries    map[string]*cacheEntry
	lru        *list.List
	generation uint64

	hits   uint64
	misses uint64
}

type cacheEntry struct {
	listing   []FileInfo
	timestamp time.Time
	lruNode   *list.Element
}

// CacheConfig holds configuration for the listing cache.
type CacheConfig struct {
	// Enabled controls whether caching is active
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// TTL is how long cached listings remain valid. 0 means no expiry.
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl" validate:"gte=0"`

	// MaxEntries limits the number of cached folders (LRU eviction).
	MaxEntries int `mapstructure:"max_entries" yaml:"max_entries" validate:"gte=0"`
}

// DefaultCacheConfig returns the configuration used when none is given.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:    true,
		TTL:        30 * time.Second,
		MaxEntries: 1000,
	}
}

// NewListingCache returns an empty cache.
func NewListingCache(config CacheConfig) *ListingCache {
	if !config.Enabled {
		logger.Info("Listing cache disabled")
	} else {
		logger.Info("Listing cache enabled: ttl=%v max_entries=%d", config.TTL, config.MaxEntries)
	}

	maxEntries := config.MaxEntries
	if maxEntries <= 0 {
		maxEntries = DefaultCacheConfig().MaxEntries
	}

	return &ListingCache{
		enabled:    config.Enabled,
		ttl:        config.TTL,
		maxEntries: maxEntries,
		now:        time.Now,
		entries:    make(map[string]*cacheEntry),
		lru:        list.New(),
	}
}

// Get returns a copy of the cached listing for path.
func (c *ListingCache) Get(path string) ([]FileInfo, bool) {
	if !c.enabled {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[path]
	if !ok {
		c.misses++
		return nil, false
	}

	if c.ttl > 0 && c.now().Sub(entry.timestamp) > c.ttl {
		c.removeLocked(path, entry)
		c.misses++
		return nil, false
	}

	c.lru.MoveToFront(entry.lruNode)
	c.hits++
	return cloneListing(entry.listing), true
}

// Put stores listing under path, replacing any previous entry.
func (c *ListingCache) Put(path string, listing []FileInfo) {
	if !c.enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.putLocked(path, listing)
}

// Generation returns a token identifying the current cache epoch.
func (c *ListingCache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// PutIfGeneration stores listing only if no invalidation happened since gen
// was obtained. It reports whether the entry was stored.
func (c *ListingCache) PutIfGeneration(path string, listing []FileInfo, gen uint64) bool {
	if !c.enabled {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation != gen {
		logger.Debug("Listing cache: dropping stale listing for %q", path)
		return false
	}
	c.putLocked(path, listing)
	return true
}

func (c *ListingCache) putLocked(path string, listing []FileInfo) {
	listing = cloneListing(listing)

	if existing, ok := c.entries[path]; ok {
		existing.listing = listing
		existing.timestamp = c.now()
		c.lru.MoveToFront(existing.lruNode)
		return
	}

	if len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}

	entry := &cacheEntry{listing: listing, timestamp: c.now()}
	entry.lruNode = c.lru.PushFront(path)
	c.entries[path] = entry
}

func (c *ListingCache) evictOldestLocked() {
	oldest := c.lru.Back()
	if oldest == nil {
		return
	}
	key := oldest.Value.(string)
	c.removeLocked(key, c.entries[key])
	logger.Debug("Evicted listing cache entry: %q", key)
}

func (c *ListingCache) removeLocked(path string, entry *cacheEntry) {
	c.lru.Remove(entry.lruNode)
	delete(c.entries, path)
}

// InvalidateAll drops every entry.
func (c *ListingCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	if len(c.entries) == 0 {
		return
	}
	c.entries = make(map[string]*cacheEntry)
	c.lru.Init()
}

// Len returns the number of cached listings.
func (c *ListingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns hit/miss counters and the current number of entries.
func (c *ListingCache) Stats() (hits, misses uint64, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, len(c.entries)
}

func cloneListing(in []FileInfo) []FileInfo {
	if in == nil {
		return nil
	}
	out := make([]FileInfo, len(in))
	copy(out, in)
	return out
}
