// File: internal/perception/cache.go
package perception

import (
	"container/list"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// cacheEntry is one stored snapshot with its amortized size and expiry.
type cacheEntry struct {
	key       string
	sessionID string
	url       string
	snap      *schemas.PerceptionSnapshot
	size      int64
	expiresAt time.Time
}

// cacheTier is one LRU-bounded tier. Eviction honors both the entry-count
// and byte-size ceilings; expired entries are dropped lazily on access and
// in bulk by the sweep.
type cacheTier struct {
	cfg config.CacheTierConfig

	mu    sync.Mutex
	ll    *list.List // front = most recently used
	index map[string]*list.Element
	bytes int64

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

func newCacheTier(cfg config.CacheTierConfig) *cacheTier {
	return &cacheTier{cfg: cfg, ll: list.New(), index: make(map[string]*list.Element)}
}

func (t *cacheTier) get(key string, now time.Time) *schemas.PerceptionSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	el, ok := t.index[key]
	if !ok {
		t.misses.Add(1)
		return nil
	}
	entry := el.Value.(*cacheEntry)
	if now.After(entry.expiresAt) {
		t.removeLocked(el)
		t.misses.Add(1)
		return nil
	}
	t.ll.MoveToFront(el)
	t.hits.Add(1)
	return entry.snap
}

func (t *cacheTier) put(entry *cacheEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if el, ok := t.index[entry.key]; ok {
		t.removeLocked(el)
	}
	el := t.ll.PushFront(entry)
	t.index[entry.key] = el
	t.bytes += entry.size

	for (t.cfg.MaxEntries > 0 && t.ll.Len() > t.cfg.MaxEntries) ||
		(t.cfg.MaxBytes > 0 && t.bytes > t.cfg.MaxBytes) {
		back := t.ll.Back()
		if back == nil || back == el {
			break
		}
		t.removeLocked(back)
		t.evictions.Add(1)
	}
}

func (t *cacheTier) removeLocked(el *list.Element) {
	entry := el.Value.(*cacheEntry)
	t.ll.Remove(el)
	delete(t.index, entry.key)
	t.bytes -= entry.size
}

// removeIf drops every entry the predicate selects.
func (t *cacheTier) removeIf(pred func(*cacheEntry) bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	var victims []*list.Element
	for el := t.ll.Front(); el != nil; el = el.Next() {
		if pred(el.Value.(*cacheEntry)) {
			victims = append(victims, el)
		}
	}
	for _, el := range victims {
		t.removeLocked(el)
	}
	return len(victims)
}

func (t *cacheTier) sweep(now time.Time) int {
	return t.removeIf(func(e *cacheEntry) bool { return now.After(e.expiresAt) })
}

func (t *cacheTier) usage() (entries int, bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ll.Len(), t.bytes
}

// Cache is the three-tier snapshot cache. Lightning and Quick snapshots
// land in their own short-TTL tiers; Standard and Deep snapshots share the
// long-TTL element tier.
type Cache struct {
	lightning *cacheTier
	quick     *cacheTier
	element   *cacheTier

	sweepInterval time.Duration
	logger        *zap.Logger
	stopOnce      sync.Once
	stop          chan struct{}
}

// NewCache builds the tiers and starts the periodic expiry sweep.
func NewCache(cfg config.PerceptionConfig, logger *zap.Logger) *Cache {
	c := &Cache{
		lightning:     newCacheTier(cfg.LightningCache),
		quick:         newCacheTier(cfg.QuickCache),
		element:       newCacheTier(cfg.ElementCache),
		sweepInterval: cfg.SweepInterval,
		logger:        logger.Named("perception_cache"),
		stop:          make(chan struct{}),
	}
	if c.sweepInterval > 0 {
		go c.sweepLoop()
	}
	return c
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			expired := c.lightning.sweep(now) + c.quick.sweep(now) + c.element.sweep(now)
			if expired > 0 {
				c.logger.Debug("Swept expired snapshot entries.", zap.Int("count", expired))
			}
		case <-c.stop:
			return
		}
	}
}

// Close stops the sweep goroutine. Idempotent.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Cache) tierFor(depth schemas.PerceptionDepth) *cacheTier {
	switch depth {
	case schemas.DepthLightning:
		return c.lightning
	case schemas.DepthQuick:
		return c.quick
	default:
		return c.element
	}
}

func cacheKey(sessionID, url string, depth schemas.PerceptionDepth) string {
	return sessionID + "|" + url + "|" + string(depth)
}

// Get returns a still-valid snapshot or nil.
func (c *Cache) Get(sessionID, url string, depth schemas.PerceptionDepth) *schemas.PerceptionSnapshot {
	return c.tierFor(depth).get(cacheKey(sessionID, url, depth), time.Now())
}

// Put stores a snapshot in the tier matching its depth. Truncated
// snapshots are not cached; a later request deserves a full attempt.
func (c *Cache) Put(sessionID string, snap *schemas.PerceptionSnapshot) {
	if snap == nil || snap.Truncated {
		return
	}
	tier := c.tierFor(snap.Depth)
	size := estimateSize(snap)
	tier.put(&cacheEntry{
		key:       cacheKey(sessionID, snap.URL, snap.Depth),
		sessionID: sessionID,
		url:       snap.URL,
		snap:      snap,
		size:      size,
		expiresAt: time.Now().Add(tier.cfg.TTL),
	})
}

// InvalidateSession drops every tier's entries for one session. Called on
// navigation events and session teardown.
func (c *Cache) InvalidateSession(sessionID string) {
	pred := func(e *cacheEntry) bool { return e.sessionID == sessionID }
	n := c.lightning.removeIf(pred) + c.quick.removeIf(pred) + c.element.removeIf(pred)
	if n > 0 {
		c.logger.Debug("Invalidated session cache entries.",
			zap.String("session_id", sessionID), zap.Int("count", n))
	}
}

// InvalidateURLPrefix drops entries across all tiers whose URL starts with
// prefix, for every session.
func (c *Cache) InvalidateURLPrefix(prefix string) {
	pred := func(e *cacheEntry) bool { return strings.HasPrefix(e.url, prefix) }
	c.lightning.removeIf(pred)
	c.quick.removeIf(pred)
	c.element.removeIf(pred)
}

// Stats reports aggregate hit/miss/eviction counters and current sizes.
func (c *Cache) Stats() schemas.CacheStats {
	var stats schemas.CacheStats
	for _, tier := range []*cacheTier{c.lightning, c.quick, c.element} {
		stats.Hits += uint64(tier.hits.Load())
		stats.Misses += uint64(tier.misses.Load())
		stats.Evictions += uint64(tier.evictions.Load())
		entries, bytes := tier.usage()
		stats.Entries += entries
		stats.Bytes += bytes
	}
	return stats
}

// estimateSize approximates an entry's resident footprint from its JSON
// encoding. Exact accounting is not worth a reflection walk.
func estimateSize(snap *schemas.PerceptionSnapshot) int64 {
	encoded, err := json.Marshal(snap)
	if err != nil {
		return 1024
	}
	return int64(len(encoded)) + 256
}
