// File: internal/perception/cache_test.go
package perception

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/config"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	cfg := config.NewDefaultConfig().Perception
	cfg.SweepInterval = 0 // no background goroutine in unit tests
	c := NewCache(cfg, zap.NewNop())
	t.Cleanup(c.Close)
	return c
}

func quickSnap(url string) *schemas.PerceptionSnapshot {
	return &schemas.PerceptionSnapshot{
		Depth:      schemas.DepthQuick,
		URL:        url,
		Title:      "t",
		CapturedAt: time.Now(),
		Status:     schemas.PageReady,
		Elements:   []schemas.PerceivedElement{{Locator: "css=#x", Role: schemas.RoleButton}},
	}
}

func TestCachePutGet(t *testing.T) {
	c := newTestCache(t)
	snap := quickSnap("https://example.test/")

	assert.Nil(t, c.Get("s1", snap.URL, schemas.DepthQuick))
	c.Put("s1", snap)

	got := c.Get("s1", snap.URL, schemas.DepthQuick)
	require.NotNil(t, got)
	assert.Same(t, snap, got)

	// Sessions do not see each other's entries.
	assert.Nil(t, c.Get("s2", snap.URL, schemas.DepthQuick))
	// Depth tiers are independent keys.
	assert.Nil(t, c.Get("s1", snap.URL, schemas.DepthStandard))

	stats := c.Stats()
	assert.EqualValues(t, 1, stats.Hits)
	assert.EqualValues(t, 3, stats.Misses)
	assert.Positive(t, stats.Bytes)
}

func TestCacheTruncatedNotStored(t *testing.T) {
	c := newTestCache(t)
	snap := quickSnap("https://example.test/")
	snap.Truncated = true
	c.Put("s1", snap)
	assert.Nil(t, c.Get("s1", snap.URL, schemas.DepthQuick))
}

func TestCacheTTLExpiry(t *testing.T) {
	cfg := config.NewDefaultConfig().Perception
	cfg.SweepInterval = 0
	cfg.QuickCache.TTL = 10 * time.Millisecond
	c := NewCache(cfg, zap.NewNop())
	defer c.Close()

	snap := quickSnap("https://example.test/")
	c.Put("s1", snap)
	require.NotNil(t, c.Get("s1", snap.URL, schemas.DepthQuick))

	time.Sleep(20 * time.Millisecond)
	assert.Nil(t, c.Get("s1", snap.URL, schemas.DepthQuick))
}

func TestCacheLRUEviction(t *testing.T) {
	cfg := config.NewDefaultConfig().Perception
	cfg.SweepInterval = 0
	cfg.QuickCache.MaxEntries = 3
	c := NewCache(cfg, zap.NewNop())
	defer c.Close()

	for i := 0; i < 3; i++ {
		c.Put("s1", quickSnap(fmt.Sprintf("https://example.test/p%d", i)))
	}
	// Touch p0 so p1 becomes the LRU victim.
	require.NotNil(t, c.Get("s1", "https://example.test/p0", schemas.DepthQuick))

	c.Put("s1", quickSnap("https://example.test/p3"))

	assert.NotNil(t, c.Get("s1", "https://example.test/p0", schemas.DepthQuick))
	assert.Nil(t, c.Get("s1", "https://example.test/p1", schemas.DepthQuick))
	assert.NotNil(t, c.Get("s1", "https://example.test/p2", schemas.DepthQuick))
	assert.NotNil(t, c.Get("s1", "https://example.test/p3", schemas.DepthQuick))
	assert.EqualValues(t, 1, c.Stats().Evictions)
}

func TestCacheByteCeiling(t *testing.T) {
	cfg := config.NewDefaultConfig().Perception
	cfg.SweepInterval = 0
	cfg.QuickCache.MaxBytes = 1 // every insertion evicts the rest
	c := NewCache(cfg, zap.NewNop())
	defer c.Close()

	c.Put("s1", quickSnap("https://example.test/a"))
	c.Put("s1", quickSnap("https://example.test/b"))

	assert.Nil(t, c.Get("s1", "https://example.test/a", schemas.DepthQuick))
	assert.NotNil(t, c.Get("s1", "https://example.test/b", schemas.DepthQuick))
}

func TestCacheInvalidation(t *testing.T) {
	c := newTestCache(t)
	c.Put("s1", quickSnap("https://example.test/a"))
	c.Put("s1", quickSnap("https://example.test/b"))
	c.Put("s2", quickSnap("https://example.test/a"))
	c.Put("s2", quickSnap("https://other.test/"))

	t.Run("by session", func(t *testing.T) {
		c.InvalidateSession("s1")
		assert.Nil(t, c.Get("s1", "https://example.test/a", schemas.DepthQuick))
		assert.Nil(t, c.Get("s1", "https://example.test/b", schemas.DepthQuick))
		assert.NotNil(t, c.Get("s2", "https://example.test/a", schemas.DepthQuick))
	})

	t.Run("by url prefix across sessions", func(t *testing.T) {
		c.InvalidateURLPrefix("https://example.test/")
		assert.Nil(t, c.Get("s2", "https://example.test/a", schemas.DepthQuick))
		assert.NotNil(t, c.Get("s2", "https://other.test/", schemas.DepthQuick))
	})
}

func TestCacheSweep(t *testing.T) {
	cfg := config.NewDefaultConfig().Perception
	cfg.SweepInterval = 0
	cfg.QuickCache.TTL = time.Millisecond
	c := NewCache(cfg, zap.NewNop())
	defer c.Close()

	c.Put("s1", quickSnap("https://example.test/"))
	time.Sleep(5 * time.Millisecond)

	expired := c.quick.sweep(time.Now())
	assert.Equal(t, 1, expired)
	assert.Equal(t, 0, c.Stats().Entries)
}
