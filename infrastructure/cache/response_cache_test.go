package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ridwanabdusalam/cleanlab/internal/domain"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1_700_000_000, 0)} }

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func TestResponseCache_GetPut(t *testing.T) {
	c := New[string]()

	_, ok := c.Get("missing")
	assert.False(t, ok, "Empty cache should miss")

	c.Put("k", "v", 1)
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", got)

	c.Put("k", "v2", 1)
	got, _ = c.Get("k")
	assert.Equal(t, "v2", got, "Put should replace an existing value")
	assert.Equal(t, 1, c.Len())

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

// TestResponseCache_LRUEviction tests that the least recently used entry is
// evicted and that a Get refreshes recency.
func TestResponseCache_LRUEviction(t *testing.T) {
	c := New[int](WithMaxSize(2))

	c.Put("a", 1, 1)
	c.Put("b", 2, 1)
	_, ok := c.Get("a") // a is now most recent
	require.True(t, ok)

	c.Put("c", 3, 1)

	assert.Equal(t, 2, c.Len(), "Size must never exceed MaxSize after a put")
	_, ok = c.Get("b")
	assert.False(t, ok, "b was least recently used and should be evicted")
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestResponseCache_SizeBound(t *testing.T) {
	c := New[int](WithMaxSize(10))
	for i := 0; i < 100; i++ {
		c.Put(fmt.Sprintf("k%d", i), i, 1)
		assert.LessOrEqual(t, c.Len(), 10)
	}

	// The ten most recent keys survive.
	for i := 90; i < 100; i++ {
		_, ok := c.Get(fmt.Sprintf("k%d", i))
		assert.True(t, ok, "k%d should be present", i)
	}
}

// TestResponseCache_TTL tests that expired entries are never returned and
// are removed on the read path.
func TestResponseCache_TTL(t *testing.T) {
	clock := newFakeClock()
	c := New[string](WithTTL(300*time.Second), WithClock(clock.Now))

	c.Put("k", "v", 1)
	clock.Advance(300 * time.Second)
	_, ok := c.Get("k")
	assert.True(t, ok, "Entry exactly at TTL is still live")

	clock.Advance(time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok, "Entry past TTL must not be returned")
	assert.Equal(t, 0, c.Len(), "Expired entry should be deleted on read")
	assert.Equal(t, int64(1), c.Stats().Expirations)
}

func TestResponseCache_Sweep(t *testing.T) {
	clock := newFakeClock()
	c := New[string](WithTTL(time.Minute), WithClock(clock.Now))

	c.Put("old1", "v", 1)
	c.Put("old2", "v", 1)
	clock.Advance(30 * time.Second)
	c.Put("fresh", "v", 1)
	clock.Advance(31 * time.Second)

	removed := c.Sweep()
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("fresh")
	assert.True(t, ok)
}

func TestResponseCache_NoTTL(t *testing.T) {
	clock := newFakeClock()
	c := New[string](WithTTL(0), WithClock(clock.Now))

	c.Put("k", "v", 1)
	clock.Advance(24 * time.Hour)
	_, ok := c.Get("k")
	assert.True(t, ok, "Zero TTL disables expiry")
	assert.Equal(t, 0, c.Sweep())
}

func TestResponseCache_DeleteClear(t *testing.T) {
	c := New[string]()
	c.Put("a", "1", 1)
	c.Put("b", "2", 1)

	assert.True(t, c.Delete("a"))
	assert.False(t, c.Delete("a"))
	assert.Equal(t, 1, c.Len())

	c.Clear()
	assert.Equal(t, 0, c.Len())
}

// TestResponseCache_BackgroundSweeper tests that Start runs sweeps and
// Close stops the goroutine.
func TestResponseCache_BackgroundSweeper(t *testing.T) {
	clock := newFakeClock()
	c := New[string](WithTTL(time.Second), WithClock(clock.Now), WithSweepInterval(5*time.Millisecond))

	c.Put("k", "v", 1)
	clock.Advance(2 * time.Second)

	c.Start(context.Background())
	c.Start(context.Background()) // second call is a no-op
	defer c.Close()

	require.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond,
		"Sweeper should remove the expired entry")
}

func TestResponseCache_Concurrent(t *testing.T) {
	c := NewScoreCache(WithMaxSize(50))

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", (g*31+i)%80)
				c.Put(key, domain.TrustScore{Score: float64(i) / 200}, 1)
				c.Get(key)
			}
		}(g)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 50)
}

func TestResponseCache_CloseWithoutStart(t *testing.T) {
	c := New[string]()
	assert.NotPanics(t, func() {
		c.Close()
		c.Close()
	})
}
