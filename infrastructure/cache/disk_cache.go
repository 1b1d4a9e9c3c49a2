package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/Ridwanabdusalam/cleanlab/internal/ports"
)

// DefaultGCInterval is how often the value log of a persistent DiskCache is
// compacted.
const DefaultGCInterval = 5 * time.Minute

// DiskOptions configures a DiskCache.
type DiskOptions struct {
	// Path is the badger directory. It is created when missing and ignored
	// when InMemory is set.
	Path     string
	InMemory bool
	// TTL bounds how long an entry survives, across restarts too. Zero keeps
	// entries until they are deleted.
	TTL        time.Duration
	GCInterval time.Duration
	Name       string
	Metrics    ports.MetricsCollector
	Logger     *slog.Logger
}

// DiskCache is a persistent key-value cache on badger. Values are stored as
// JSON under a "name/" key prefix, so several caches can share one
// directory layout. It is safe for concurrent use.
type DiskCache[V any] struct {
	db   *badger.DB
	opts DiskOptions

	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// OpenDisk opens or creates the cache described by opts.
func OpenDisk[V any](opts DiskOptions) (*DiskCache[V], error) {
	if !opts.InMemory && opts.Path == "" {
		return nil, errors.New("disk cache: path is required")
	}
	if opts.Name == "" {
		opts.Name = "responses"
	}
	if opts.Metrics == nil {
		opts.Metrics = ports.NoopMetrics{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(opts.Path, 0o750); err != nil {
			return nil, fmt.Errorf("disk cache: create %s: %w", opts.Path, err)
		}
		bopts = badger.DefaultOptions(opts.Path)
	}
	bopts = bopts.WithNumVersionsToKeep(1).WithLogger(badgerLogger{opts.Logger})

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("disk cache: open: %w", err)
	}

	c := &DiskCache[V]{
		db:   db,
		opts: opts,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	if opts.InMemory {
		close(c.done)
		return c, nil
	}
	if c.opts.GCInterval <= 0 {
		c.opts.GCInterval = DefaultGCInterval
	}
	go c.gcLoop()
	return c, nil
}

func (c *DiskCache[V]) key(k string) []byte {
	return []byte(c.opts.Name + "/" + k)
}

// Get returns the value for key if present and not expired. Undecodable
// entries count as misses.
func (c *DiskCache[V]) Get(key string) (V, bool) {
	var value V
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(c.key(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &value)
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			c.opts.Logger.Warn("disk cache read failed",
				slog.String("cache", c.opts.Name),
				slog.String("error", err.Error()),
			)
		}
		c.opts.Metrics.RecordCounter("cache_events_total", 1, c.labels("miss"))
		var zero V
		return zero, false
	}
	c.opts.Metrics.RecordCounter("cache_events_total", 1, c.labels("hit"))
	return value, true
}

// Put stores value under key with the configured TTL. The size argument is
// accepted for interface compatibility with ResponseCache.
func (c *DiskCache[V]) Put(key string, value V, _ int) {
	data, err := json.Marshal(value)
	if err != nil {
		c.opts.Logger.Warn("disk cache encode failed",
			slog.String("cache", c.opts.Name),
			slog.String("error", err.Error()),
		)
		return
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(c.key(key), data)
		if c.opts.TTL > 0 {
			e = e.WithTTL(c.opts.TTL)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		c.opts.Logger.Warn("disk cache write failed",
			slog.String("cache", c.opts.Name),
			slog.String("error", err.Error()),
		)
	}
}

// Delete removes key and reports whether it was present.
func (c *DiskCache[V]) Delete(key string) bool {
	found := false
	err := c.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(c.key(key)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		found = true
		return txn.Delete(c.key(key))
	})
	return err == nil && found
}

// Len counts live entries under this cache's prefix.
func (c *DiskCache[V]) Len() int {
	n := 0
	_ = c.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(c.opts.Name + "/")})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n
}

// Close stops garbage collection and closes the database. It is safe to
// call more than once.
func (c *DiskCache[V]) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stop)
		<-c.done
		err = c.db.Close()
	})
	return err
}

func (c *DiskCache[V]) gcLoop() {
	defer close(c.done)
	ticker := time.NewTicker(c.opts.GCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			err := c.db.RunValueLogGC(0.5)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				c.opts.Logger.Warn("disk cache gc failed",
					slog.String("cache", c.opts.Name),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (c *DiskCache[V]) labels(event string) map[string]string {
	return map[string]string{"cache": c.opts.Name, "event": event}
}

// badgerLogger routes badger's internal logging to slog. Info and debug
// chatter is demoted to debug.
type badgerLogger struct{ l *slog.Logger }

func (b badgerLogger) Errorf(format string, args ...any) {
	b.l.Error(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

func (b badgerLogger) Warningf(format string, args ...any) {
	b.l.Warn(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

func (b badgerLogger) Infof(format string, args ...any) {
	b.l.Debug(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

func (b badgerLogger) Debugf(format string, args ...any) {
	b.l.Debug(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}
