// Package cache implements the two-tier cache layer: a bounded in-process
// LRU (Tier 1) backed by an optional shared KV store (Tier 2), with TTLs
// and tag-based bulk invalidation.
//
// Grounded on original_source/backend/performance/cache_manager.py's
// PerformanceCacheManager (Redis-first get, dual-write set, LRU eviction by
// byte size, tag index, get_or_set, warm_cache) and on the teacher's own use
// of container/list for its draw-order queues (session/client.go).
package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/artifactor-hq/collab-core/internal/v1/kv"
	"github.com/artifactor-hq/collab-core/internal/v1/logging"
	"github.com/artifactor-hq/collab-core/internal/v1/metrics"
	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Entry is a generic Tier-1 cache entry, matching spec.md §3's "Cache
// entry" data model.
type Entry struct {
	Key          string
	Value        json.RawMessage
	CreatedAt    time.Time
	LastAccessed time.Time
	TTL          time.Duration
	SizeBytes    int64
	Tags         []string
}

func (e *Entry) expired(now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}
	return now.After(e.CreatedAt.Add(e.TTL))
}

// Cache is the two-tier cache: an LRU Tier 1 in-process, and an optional
// Tier 2 backed by *kv.Store. A nil tier2 runs the cache in memory-only mode.
type Cache struct {
	mu           sync.Mutex
	entries      map[string]*list.Element // key -> element holding *Entry
	order        *list.List                // front = most recently used
	tagIndex     map[string]map[string]struct{}
	memoryUsage  int64
	maxBytes     int64
	defaultTTL   time.Duration
	tier2        *kv.Store
	tier2TTL     time.Duration

	warmMu   sync.Mutex
	warmStop map[string]context.CancelFunc
}

// New constructs a Cache with Tier 1 capped at maxBytes and Tier 2 backed by
// tier2 (nil for memory-only operation).
func New(maxBytes int64, defaultTTL, tier2TTL time.Duration, tier2 *kv.Store) *Cache {
	return &Cache{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		tagIndex:   make(map[string]map[string]struct{}),
		maxBytes:   maxBytes,
		defaultTTL: defaultTTL,
		tier2:      tier2,
		tier2TTL:   tier2TTL,
		warmStop:   make(map[string]context.CancelFunc),
	}
}

// Get checks Tier 1 then Tier 2. A Tier 2 hit is promoted into Tier 1.
func (c *Cache) Get(ctx context.Context, key string) (json.RawMessage, bool) {
	if v, ok := c.getTier1(key); ok {
		metrics.CacheOperationsTotal.WithLabelValues("tier1", "hit").Inc()
		return v, true
	}
	metrics.CacheOperationsTotal.WithLabelValues("tier1", "miss").Inc()

	if c.tier2 == nil {
		return nil, false
	}
	raw, err := c.tier2.Get(ctx, key)
	if err != nil {
		metrics.CacheOperationsTotal.WithLabelValues("tier2", "miss").Inc()
		return nil, false
	}
	metrics.CacheOperationsTotal.WithLabelValues("tier2", "hit").Inc()

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		logging.Warn(ctx, "cache: tier2 entry decode failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	c.setTier1(key, entry.Value, entry.TTL, entry.Tags)
	return entry.Value, true
}

func (c *Cache) getTier1(key string) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*Entry)
	if entry.expired(time.Now()) {
		c.removeLocked(el)
		return nil, false
	}
	entry.LastAccessed = time.Now()
	c.order.MoveToFront(el)
	return entry.Value, true
}

// Set writes value to Tier 1 and, if configured, Tier 2 (write-through).
func (c *Cache) Set(ctx context.Context, key string, value json.RawMessage, ttl time.Duration, tags ...string) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.setTier1(key, value, ttl, tags)

	if c.tier2 != nil {
		entry := Entry{Key: key, Value: value, CreatedAt: time.Now().UTC(), TTL: ttl, Tags: tags}
		data, err := json.Marshal(entry)
		if err != nil {
			return
		}
		tier2TTL := c.tier2TTL
		if tier2TTL <= 0 {
			tier2TTL = ttl
		}
		if err := c.tier2.Set(ctx, key, data, tier2TTL); err != nil {
			logging.Warn(ctx, "cache: tier2 write failed", zap.String("key", key), zap.Error(err))
			return
		}
		for _, tag := range tags {
			_ = c.tier2.SetAdd(ctx, tagKey(tag), key)
		}
	}
}

func (c *Cache) setTier1(key string, value json.RawMessage, ttl time.Duration, tags []string) {
	size := int64(len(value))

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.removeLocked(el)
	}

	now := time.Now().UTC()
	entry := &Entry{
		Key:          key,
		Value:        value,
		CreatedAt:    now,
		LastAccessed: now,
		TTL:          ttl,
		SizeBytes:    size,
		Tags:         tags,
	}

	c.evictLocked(size)

	el := c.order.PushFront(entry)
	c.entries[key] = el
	c.memoryUsage += size
	for _, tag := range tags {
		if c.tagIndex[tag] == nil {
			c.tagIndex[tag] = make(map[string]struct{})
		}
		c.tagIndex[tag][key] = struct{}{}
	}
	metrics.CacheMemoryUsageBytes.Set(float64(c.memoryUsage))
}

// evictLocked frees at least incoming bytes of headroom, evicting the
// least-recently-used entries (back of the list). Caller holds c.mu.
func (c *Cache) evictLocked(incoming int64) {
	for c.maxBytes > 0 && c.memoryUsage+incoming > c.maxBytes && c.order.Len() > 0 {
		back := c.order.Back()
		if back == nil {
			break
		}
		evicted := back.Value.(*Entry)
		c.removeLocked(back)
		metrics.CacheOperationsTotal.WithLabelValues("tier1", "eviction").Inc()
		logging.Debug(context.Background(), "cache: evicted entry",
			zap.String("key", evicted.Key), zap.String("freed", humanize.Bytes(uint64(evicted.SizeBytes))))
	}
}

// removeLocked detaches el from the LRU list and tag index. Caller holds c.mu.
func (c *Cache) removeLocked(el *list.Element) {
	entry := el.Value.(*Entry)
	c.order.Remove(el)
	delete(c.entries, entry.Key)
	c.memoryUsage -= entry.SizeBytes
	for _, tag := range entry.Tags {
		if set, ok := c.tagIndex[tag]; ok {
			delete(set, entry.Key)
			if len(set) == 0 {
				delete(c.tagIndex, tag)
			}
		}
	}
}

// Delete removes key from both tiers.
func (c *Cache) Delete(ctx context.Context, key string) {
	c.mu.Lock()
	if el, ok := c.entries[key]; ok {
		c.removeLocked(el)
	}
	c.mu.Unlock()
	metrics.CacheMemoryUsageBytes.Set(float64(c.MemoryUsage()))

	if c.tier2 != nil {
		if err := c.tier2.Delete(ctx, key); err != nil {
			logging.Warn(ctx, "cache: tier2 delete failed", zap.String("key", key), zap.Error(err))
		}
	}
}

// DeleteByTag removes every entry (in both tiers) carrying tag, returning
// the number of Tier-1 entries removed.
func (c *Cache) DeleteByTag(ctx context.Context, tag string) int {
	c.mu.Lock()
	keys := make([]string, 0, len(c.tagIndex[tag]))
	for key := range c.tagIndex[tag] {
		keys = append(keys, key)
	}
	for _, key := range keys {
		if el, ok := c.entries[key]; ok {
			c.removeLocked(el)
		}
	}
	c.mu.Unlock()
	metrics.CacheMemoryUsageBytes.Set(float64(c.MemoryUsage()))

	if c.tier2 != nil {
		tier2Keys, err := c.tier2.SetMembers(ctx, tagKey(tag))
		if err == nil {
			for _, key := range tier2Keys {
				_ = c.tier2.Delete(ctx, key)
			}
			_ = c.tier2.Delete(ctx, tagKey(tag))
		}
	}
	return len(keys)
}

// Clear empties Tier 1. Tier 2 is left untouched (a shared store may back
// other consumers); callers needing a full reset should also flush the KV
// namespace directly.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
	c.tagIndex = make(map[string]map[string]struct{})
	c.memoryUsage = 0
	metrics.CacheMemoryUsageBytes.Set(0)
}

// MemoryUsage returns Tier 1's current resident byte count.
func (c *Cache) MemoryUsage() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.memoryUsage
}

// Factory computes the value to store when GetOrSet misses.
type Factory func(ctx context.Context) (json.RawMessage, error)

// GetOrSet returns the cached value for key, computing and storing it via
// factory on miss. Not exactly-once under concurrent callers racing on the
// same key; the spec only requires no inconsistent stored value, which
// last-writer-wins satisfies.
func (c *Cache) GetOrSet(ctx context.Context, key string, factory Factory, ttl time.Duration, tags ...string) (json.RawMessage, error) {
	if v, ok := c.Get(ctx, key); ok {
		return v, nil
	}
	value, err := factory(ctx)
	if err != nil {
		return nil, err
	}
	c.Set(ctx, key, value, ttl, tags...)
	return value, nil
}

// WarmPeriodically recomputes and sets key's value every interval until ctx
// is cancelled or StopWarming(key) is called. Scheduled with
// github.com/robfig/cron/v3, the same scheduler the presence sweep and
// metrics collector use; its @every schedule fires on whole-second
// boundaries, so an interval under one second runs once a second and the
// first run comes after the first interval, not immediately.
func (c *Cache) WarmPeriodically(ctx context.Context, key string, factory Factory, ttl, interval time.Duration, tags ...string) {
	c.warmMu.Lock()
	if stop, ok := c.warmStop[key]; ok {
		stop()
	}
	warmCtx, cancel := context.WithCancel(ctx)
	c.warmStop[key] = cancel
	c.warmMu.Unlock()

	sched := cron.New(cron.WithSeconds())
	_, err := sched.AddFunc("@every "+interval.String(), func() {
		value, err := factory(warmCtx)
		if err != nil {
			logging.Error(warmCtx, "cache: warm task failed", zap.String("key", key), zap.Error(err))
			return
		}
		c.Set(warmCtx, key, value, ttl, tags...)
	})
	if err != nil {
		logging.Error(ctx, "cache: failed to schedule warm task", zap.String("key", key), zap.Error(err))
		return
	}
	sched.Start()
	go func() {
		<-warmCtx.Done()
		sched.Stop()
	}()
}

// StopWarming cancels a previously started WarmPeriodically task for key.
func (c *Cache) StopWarming(key string) {
	c.warmMu.Lock()
	defer c.warmMu.Unlock()
	if stop, ok := c.warmStop[key]; ok {
		stop()
		delete(c.warmStop, key)
	}
}

func tagKey(tag string) string {
	return "cache:tag:" + tag
}
