//file: internal/filter/cache.go

package filter

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"filter-router/internal/logger"
	"filter-router/internal/metrics"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
)

// DefaultCacheTTL is the sliding idle window of a compiled filter
const DefaultCacheTTL = 2 * time.Hour

type CacheOptions struct {
	TTL        time.Duration   // idle expiry, <= 0 disables expiry
	MaxEntries int             // <= 0 means unbounded
	Clock      clockwork.Clock // nil uses the real clock
}

// CacheStats is a snapshot of cache counters
type CacheStats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Compiles  uint64
}

type cacheEntry struct {
	key        string
	expr       Expression
	lastAccess time.Time
}

// inflight is one compilation shared by every caller asking for the same key
type inflight struct {
	done chan struct{}
	expr Expression
	err  error
}

// Cache memoizes compiled filters with sliding expiry, LRU bounding and
// one in-flight compilation per filter text
type Cache struct {
	inner      Factory
	ttl        time.Duration
	maxEntries int
	clock      clockwork.Clock
	logger     *logger.Logger
	metrics    *metrics.Metrics

	mu        sync.Mutex
	entries   map[string]*list.Element // of *cacheEntry
	lru       *list.List               // front is most recently used
	pending   map[string]*inflight
	stats     CacheStats
	scheduler gocron.Scheduler
}

// NewCache wraps inner. log and m may be nil.
func NewCache(inner Factory, opts CacheOptions, log *logger.Logger, m *metrics.Metrics) *Cache {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Cache{
		inner:      inner,
		ttl:        opts.TTL,
		maxEntries: opts.MaxEntries,
		clock:      opts.Clock,
		logger:     log,
		metrics:    m,
		entries:    make(map[string]*list.Element),
		lru:        list.New(),
		pending:    make(map[string]*inflight),
	}
}

// GetExpression returns the cached tree for text, compiling it at most once
// across concurrent callers. Failed compilations are not cached.
func (c *Cache) GetExpression(ctx context.Context, text string) (Expression, error) {
	c.mu.Lock()

	if el, ok := c.entries[text]; ok {
		entry := el.Value.(*cacheEntry)
		now := c.clock.Now()
		if !c.expired(entry, now) {
			entry.lastAccess = now
			c.lru.MoveToFront(el)
			c.stats.Hits++
			c.mu.Unlock()
			if c.metrics != nil {
				c.metrics.IncFilterCacheHits()
			}
			return entry.expr, nil
		}
		c.removeLocked(el)
		c.stats.Evictions++
		if c.metrics != nil {
			c.metrics.AddFilterCacheEvictions(1)
		}
	}

	c.stats.Misses++
	if c.metrics != nil {
		c.metrics.IncFilterCacheMisses()
	}

	if call, ok := c.pending[text]; ok {
		c.mu.Unlock()
		return wait(ctx, call)
	}

	call := &inflight{done: make(chan struct{})}
	c.pending[text] = call
	c.stats.Compiles++
	c.mu.Unlock()

	c.compile(ctx, text, call)
	return call.expr, call.err
}

// compile runs the inner factory detached from the caller's cancellation.
// Every waiter receives its result.
func (c *Cache) compile(ctx context.Context, text string, call *inflight) {
	defer func() {
		if r := recover(); r != nil {
			call.expr, call.err = nil, fmt.Errorf("filter compilation panicked: %v", r)
		}
		c.finish(text, call)
	}()
	call.expr, call.err = c.inner.GetExpression(context.WithoutCancel(ctx), text)
}

func (c *Cache) finish(text string, call *inflight) {
	c.mu.Lock()
	delete(c.pending, text)
	if call.err == nil {
		el := c.lru.PushFront(&cacheEntry{key: text, expr: call.expr, lastAccess: c.clock.Now()})
		c.entries[text] = el
		c.evictOverflowLocked()
	}
	c.mu.Unlock()
	close(call.done)
}

func wait(ctx context.Context, call *inflight) (Expression, error) {
	select {
	case <-call.done:
		return call.expr, call.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) expired(entry *cacheEntry, now time.Time) bool {
	return c.ttl > 0 && now.Sub(entry.lastAccess) > c.ttl
}

func (c *Cache) removeLocked(el *list.Element) {
	entry := c.lru.Remove(el).(*cacheEntry)
	delete(c.entries, entry.key)
}

func (c *Cache) evictOverflowLocked() {
	if c.maxEntries <= 0 {
		return
	}
	evicted := 0
	for c.lru.Len() > c.maxEntries {
		c.removeLocked(c.lru.Back())
		evicted++
	}
	if evicted > 0 {
		c.stats.Evictions += uint64(evicted)
		if c.metrics != nil {
			c.metrics.AddFilterCacheEvictions(evicted)
		}
	}
}

// Sweep drops every entry idle for longer than the TTL and returns how many
func (c *Cache) Sweep() int {
	if c.ttl <= 0 {
		return 0
	}

	c.mu.Lock()
	now := c.clock.Now()
	removed := 0
	// The back of the list holds the least recently used entries
	for el := c.lru.Back(); el != nil; {
		entry := el.Value.(*cacheEntry)
		if !c.expired(entry, now) {
			break
		}
		prev := el.Prev()
		c.removeLocked(el)
		removed++
		el = prev
	}
	c.stats.Evictions += uint64(removed)
	size := c.lru.Len()
	c.mu.Unlock()

	if c.metrics != nil {
		if removed > 0 {
			c.metrics.AddFilterCacheEvictions(removed)
		}
		c.metrics.SetFilterCacheSize(float64(size))
	}
	return removed
}

// StartJanitor runs Sweep on the given cron schedule, e.g. "@every 1m"
func (c *Cache) StartJanitor(schedule string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.scheduler != nil {
		return fmt.Errorf("cache janitor already running")
	}

	s, err := gocron.NewScheduler(
		gocron.WithLogger(c.logger),
		gocron.WithClock(c.clock),
	)
	if err != nil {
		return fmt.Errorf("failed to create cache janitor: %w", err)
	}

	_, err = s.NewJob(
		gocron.CronJob(schedule, false),
		gocron.NewTask(func() {
			if n := c.Sweep(); n > 0 {
				c.logger.Debug("swept idle filters", "removed", n, "remaining", c.Len())
			}
		}),
		gocron.WithName("filter-cache-janitor"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("failed to schedule cache janitor %q: %w", schedule, err)
	}

	s.Start()
	c.scheduler = s
	return nil
}

// Len returns the number of cached filters, including idle ones not yet swept
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Close stops the janitor. Cached entries stay usable.
func (c *Cache) Close() error {
	c.mu.Lock()
	s := c.scheduler
	c.scheduler = nil
	c.mu.Unlock()

	if s == nil {
		return nil
	}
	if err := s.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop cache janitor: %w", err)
	}
	return nil
}
