// Package cache provides the in-process response cache shared by every
// scoring function: a TTL bounded, strictly least-recently-used map.
package cache

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Ridwanabdusalam/cleanlab/internal/domain"
	"github.com/Ridwanabdusalam/cleanlab/internal/ports"
)

// Default cache settings.
const (
	DefaultMaxSize       = 1000
	DefaultTTL           = 300 * time.Second
	DefaultSweepInterval = 60 * time.Second
)

// Options configures a ResponseCache.
type Options struct {
	// MaxSize is the entry count above which least recently used entries
	// are evicted.
	MaxSize int
	// TTL is how long an entry stays valid after insertion. Zero disables
	// expiry.
	TTL time.Duration
	// SweepInterval is how often the background sweeper removes expired
	// entries.
	SweepInterval time.Duration
	// Name labels metrics and log lines so several caches can coexist.
	Name    string
	Metrics ports.MetricsCollector
	Logger  *slog.Logger
	// Now is the clock. Tests replace it to control expiry.
	Now func() time.Time
}

// DefaultOptions returns the default cache settings.
func DefaultOptions() Options {
	return Options{
		MaxSize:       DefaultMaxSize,
		TTL:           DefaultTTL,
		SweepInterval: DefaultSweepInterval,
		Name:          "responses",
		Metrics:       ports.NoopMetrics{},
		Logger:        slog.Default(),
		Now:           time.Now,
	}
}

// Option mutates Options.
type Option func(*Options)

// WithMaxSize sets the maximum entry count.
func WithMaxSize(n int) Option { return func(o *Options) { o.MaxSize = n } }

// WithTTL sets the entry lifetime.
func WithTTL(ttl time.Duration) Option { return func(o *Options) { o.TTL = ttl } }

// WithSweepInterval sets the background sweep period.
func WithSweepInterval(d time.Duration) Option { return func(o *Options) { o.SweepInterval = d } }

// WithName sets the metric and log label.
func WithName(name string) Option { return func(o *Options) { o.Name = name } }

// WithMetrics sets the metrics collector.
func WithMetrics(m ports.MetricsCollector) Option { return func(o *Options) { o.Metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(o *Options) { o.Logger = l } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(o *Options) { o.Now = now } }

type entry[V any] struct {
	key        string
	value      V
	size       int
	insertedAt time.Time
	lastAccess time.Time
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Entries     int
	Hits        int64
	Misses      int64
	Evictions   int64
	Expirations int64
}

// ResponseCache is a TTL + LRU cache. All methods are safe for concurrent
// use; no lock is held while calling out of the cache.
type ResponseCache[V any] struct {
	mu    sync.Mutex
	items map[string]*list.Element
	lru   *list.List // front is most recently used
	opts  Options

	hits        atomic.Int64
	misses      atomic.Int64
	evictions   atomic.Int64
	expirations atomic.Int64

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
	started  atomic.Bool
}

// New creates an empty cache. The sweeper is not running until Start.
func New[V any](opts ...Option) *ResponseCache[V] {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if options.MaxSize <= 0 {
		options.MaxSize = DefaultMaxSize
	}
	if options.SweepInterval <= 0 {
		options.SweepInterval = DefaultSweepInterval
	}
	if options.Metrics == nil {
		options.Metrics = ports.NoopMetrics{}
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.Now == nil {
		options.Now = time.Now
	}

	return &ResponseCache[V]{
		items: make(map[string]*list.Element),
		lru:   list.New(),
		opts:  options,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// NewScoreCache is the cache the detector uses for whole trust scores.
func NewScoreCache(opts ...Option) *ResponseCache[domain.TrustScore] {
	return New[domain.TrustScore](opts...)
}

var _ ports.ScoreCache = (*ResponseCache[domain.TrustScore])(nil)

// Get returns the value for key if present and not expired. A hit marks the
// entry most recently used; an expired entry is deleted on the spot.
func (c *ResponseCache[V]) Get(key string) (V, bool) {
	var zero V
	now := c.opts.Now()

	c.mu.Lock()
	el, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		c.recordMiss()
		return zero, false
	}

	e := el.Value.(*entry[V])
	if c.expired(e, now) {
		c.removeElement(el)
		c.mu.Unlock()
		c.expirations.Add(1)
		c.recordMiss()
		c.opts.Metrics.RecordCounter("cache_events_total", 1, c.labels("expired"))
		return zero, false
	}

	e.lastAccess = now
	c.lru.MoveToFront(el)
	value := e.value
	c.mu.Unlock()

	c.hits.Add(1)
	c.opts.Metrics.RecordCounter("cache_events_total", 1, c.labels("hit"))
	return value, true
}

// Put inserts or replaces the value for key and evicts least recently used
// entries until the cache is back at MaxSize.
func (c *ResponseCache[V]) Put(key string, value V, size int) {
	now := c.opts.Now()

	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[V])
		e.value = value
		e.size = size
		e.insertedAt = now
		e.lastAccess = now
		c.lru.MoveToFront(el)
		c.mu.Unlock()
		return
	}

	el := c.lru.PushFront(&entry[V]{
		key:        key,
		value:      value,
		size:       size,
		insertedAt: now,
		lastAccess: now,
	})
	c.items[key] = el

	evicted := 0
	for c.lru.Len() > c.opts.MaxSize {
		c.removeElement(c.lru.Back())
		evicted++
	}
	n := c.lru.Len()
	c.mu.Unlock()

	if evicted > 0 {
		c.evictions.Add(int64(evicted))
		c.opts.Metrics.RecordCounter("cache_events_total", float64(evicted), c.labels("evicted"))
	}
	c.opts.Metrics.RecordGauge("cache_entries", float64(n), c.labels(""))
}

// Delete removes key. It reports whether an entry was present.
func (c *ResponseCache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeElement(el)
	return true
}

// Clear drops every entry.
func (c *ResponseCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.lru.Init()
}

// Len returns the number of stored entries, including expired ones that
// have not been swept yet.
func (c *ResponseCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Sweep removes every expired entry and returns how many were removed.
func (c *ResponseCache[V]) Sweep() int {
	if c.opts.TTL <= 0 {
		return 0
	}
	now := c.opts.Now()

	c.mu.Lock()
	removed := 0
	for el := c.lru.Back(); el != nil; {
		prev := el.Prev()
		if c.expired(el.Value.(*entry[V]), now) {
			c.removeElement(el)
			removed++
		}
		el = prev
	}
	c.mu.Unlock()

	if removed > 0 {
		c.expirations.Add(int64(removed))
		c.opts.Metrics.RecordCounter("cache_events_total", float64(removed), c.labels("expired"))
		c.opts.Logger.Debug("cache sweep removed expired entries",
			slog.String("cache", c.opts.Name),
			slog.Int("removed", removed),
		)
	}
	return removed
}

// Start launches the background sweeper. It runs until ctx is done or
// Close is called. Calling Start more than once has no effect.
func (c *ResponseCache[V]) Start(ctx context.Context) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}

	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.opts.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			case <-ticker.C:
				c.Sweep()
			}
		}
	}()
}

// Close stops the sweeper and waits for it to exit.
func (c *ResponseCache[V]) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
	if c.started.Load() {
		<-c.done
	}
}

// Stats returns the current counters.
func (c *ResponseCache[V]) Stats() Stats {
	return Stats{
		Entries:     c.Len(),
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Evictions:   c.evictions.Load(),
		Expirations: c.expirations.Load(),
	}
}

func (c *ResponseCache[V]) expired(e *entry[V], now time.Time) bool {
	return c.opts.TTL > 0 && now.Sub(e.insertedAt) > c.opts.TTL
}

// removeElement must be called with c.mu held.
func (c *ResponseCache[V]) removeElement(el *list.Element) {
	e := el.Value.(*entry[V])
	delete(c.items, e.key)
	c.lru.Remove(el)
}

func (c *ResponseCache[V]) recordMiss() {
	c.misses.Add(1)
	c.opts.Metrics.RecordCounter("cache_events_total", 1, c.labels("miss"))
}

func (c *ResponseCache[V]) labels(event string) map[string]string {
	l := map[string]string{"cache": c.opts.Name}
	if event != "" {
		l["event"] = event
	}
	return l
}
