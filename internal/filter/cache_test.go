//file: internal/filter/cache_test.go

package filter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"filter-router/internal/logger"

	"github.com/jonboulle/clockwork"
)

// countingFactory parses like ParserFactory and records how often it ran.
// When gate is set every call blocks until it is closed.
type countingFactory struct {
	calls   atomic.Int32
	gate    chan struct{}
	started chan struct{}
}

func (f *countingFactory) GetExpression(ctx context.Context, text string) (Expression, error) {
	f.calls.Add(1)
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.gate != nil {
		<-f.gate
	}
	return Parse(text)
}

func newTestCache(inner Factory, ttl time.Duration, max int) (*Cache, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	c := NewCache(inner, CacheOptions{TTL: ttl, MaxEntries: max, Clock: clock}, logger.NewNopLogger(), nil)
	return c, clock
}

func TestCacheHitReturnsSameInstance(t *testing.T) {
	f := &countingFactory{}
	c, _ := newTestCache(f, time.Hour, 0)
	ctx := context.Background()

	first, err := c.GetExpression(ctx, "A = 1")
	if err != nil {
		t.Fatalf("GetExpression() error = %v", err)
	}
	second, err := c.GetExpression(ctx, "A = 1")
	if err != nil {
		t.Fatalf("GetExpression() error = %v", err)
	}

	if first != second {
		t.Error("cache hit returned a different instance")
	}
	if got := f.calls.Load(); got != 1 {
		t.Errorf("inner factory called %d times, want 1", got)
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Compiles != 1 {
		t.Errorf("Stats() = %+v, want 1 hit, 1 miss, 1 compile", stats)
	}
}

func TestCacheCoalescesConcurrentCompiles(t *testing.T) {
	f := &countingFactory{gate: make(chan struct{}), started: make(chan struct{}, 1)}
	c, _ := newTestCache(f, time.Hour, 0)

	const callers = 20
	results := make([]Expression, callers)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = c.GetExpression(context.Background(), "A = 1 and B = 2")
	}()
	<-f.started // leader is compiling

	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = c.GetExpression(context.Background(), "A = 1 and B = 2")
		}(i)
	}

	// Wait until every follower has registered as a miss on the pending call
	deadline := time.Now().Add(2 * time.Second)
	for c.Stats().Misses < callers && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	close(f.gate)
	wg.Wait()

	if got := f.calls.Load(); got != 1 {
		t.Errorf("inner factory called %d times, want 1", got)
	}
	for i, r := range results {
		if r == nil || r != results[0] {
			t.Fatalf("caller %d got %v, want the shared instance", i, r)
		}
	}
}

func TestCacheWaiterCancellation(t *testing.T) {
	f := &countingFactory{gate: make(chan struct{}), started: make(chan struct{}, 1)}
	c, _ := newTestCache(f, time.Hour, 0)

	leaderDone := make(chan Expression)
	go func() {
		expr, _ := c.GetExpression(context.Background(), "A = 1")
		leaderDone <- expr
	}()
	<-f.started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.GetExpression(ctx, "A = 1"); !errors.Is(err, context.Canceled) {
		t.Errorf("waiter error = %v, want context.Canceled", err)
	}

	// The compile itself is undisturbed
	close(f.gate)
	if expr := <-leaderDone; expr == nil {
		t.Fatal("leader got nil expression")
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestCacheDoesNotCacheErrors(t *testing.T) {
	f := &countingFactory{}
	c, _ := newTestCache(f, time.Hour, 0)

	for i := 0; i < 2; i++ {
		_, err := c.GetExpression(context.Background(), "A =")
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("GetExpression() error = %v, want *ParseError", err)
		}
	}
	if got := f.calls.Load(); got != 2 {
		t.Errorf("inner factory called %d times, want 2", got)
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}

func TestCacheSlidingExpiry(t *testing.T) {
	f := &countingFactory{}
	c, clock := newTestCache(f, 2*time.Hour, 0)
	ctx := context.Background()

	first, _ := c.GetExpression(ctx, "A = 1")

	// Access within the window slides it forward
	clock.Advance(90 * time.Minute)
	if again, _ := c.GetExpression(ctx, "A = 1"); again != first {
		t.Fatal("entry expired before its idle window")
	}
	clock.Advance(90 * time.Minute)
	if again, _ := c.GetExpression(ctx, "A = 1"); again != first {
		t.Fatal("access did not refresh the idle window")
	}

	// Idle past the window is a miss
	clock.Advance(2*time.Hour + time.Second)
	recompiled, _ := c.GetExpression(ctx, "A = 1")
	if recompiled == first {
		t.Error("expired entry was served")
	}
	if got := f.calls.Load(); got != 2 {
		t.Errorf("inner factory called %d times, want 2", got)
	}
}

func TestCacheSweep(t *testing.T) {
	c, clock := newTestCache(&countingFactory{}, time.Hour, 0)
	ctx := context.Background()

	_, _ = c.GetExpression(ctx, "A = 1")
	_, _ = c.GetExpression(ctx, "B = 1")
	clock.Advance(45 * time.Minute)
	_, _ = c.GetExpression(ctx, "C = 1")
	_, _ = c.GetExpression(ctx, "A = 1") // refresh A

	clock.Advance(30 * time.Minute)
	if removed := c.Sweep(); removed != 1 {
		t.Errorf("Sweep() removed %d, want 1 (B)", removed)
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}

	clock.Advance(2 * time.Hour)
	if removed := c.Sweep(); removed != 2 {
		t.Errorf("Sweep() removed %d, want 2", removed)
	}
	if c.Stats().Evictions != 3 {
		t.Errorf("Evictions = %d, want 3", c.Stats().Evictions)
	}
}

func TestCacheNegativeTTLNeverExpires(t *testing.T) {
	f := &countingFactory{}
	c, clock := newTestCache(f, -1, 0)
	ctx := context.Background()

	first, _ := c.GetExpression(ctx, "A = 1")
	clock.Advance(1000 * time.Hour)

	if removed := c.Sweep(); removed != 0 {
		t.Errorf("Sweep() removed %d, want 0", removed)
	}
	if again, _ := c.GetExpression(ctx, "A = 1"); again != first {
		t.Error("entry expired with expiry disabled")
	}
	if got := f.calls.Load(); got != 1 {
		t.Errorf("inner factory called %d times, want 1", got)
	}
}

func TestCacheMaxEntriesEvictsLeastRecentlyUsed(t *testing.T) {
	f := &countingFactory{}
	c, _ := newTestCache(f, time.Hour, 2)
	ctx := context.Background()

	a, _ := c.GetExpression(ctx, "A = 1")
	_, _ = c.GetExpression(ctx, "B = 1")
	_, _ = c.GetExpression(ctx, "A = 1") // A is now most recent
	_, _ = c.GetExpression(ctx, "C = 1") // evicts B

	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}
	if again, _ := c.GetExpression(ctx, "A = 1"); again != a {
		t.Error("most recently used entry was evicted")
	}
	calls := f.calls.Load()
	_, _ = c.GetExpression(ctx, "B = 1")
	if f.calls.Load() != calls+1 {
		t.Error("least recently used entry was not evicted")
	}
}

func TestCacheJanitor(t *testing.T) {
	c, _ := newTestCache(&countingFactory{}, time.Hour, 0)

	if err := c.StartJanitor("not a schedule"); err == nil {
		t.Error("StartJanitor() expected error for invalid schedule")
	}
	if err := c.StartJanitor("@every 1m"); err != nil {
		t.Fatalf("StartJanitor() error = %v", err)
	}
	if err := c.StartJanitor("@every 1m"); err == nil {
		t.Error("second StartJanitor() expected error")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestParserFactoryHonoursContext(t *testing.T) {
	f := NewParserFactory(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.GetExpression(ctx, "A = 1"); !errors.Is(err, context.Canceled) {
		t.Errorf("GetExpression() error = %v, want context.Canceled", err)
	}
	if _, err := f.GetExpression(context.Background(), "A = 1"); err != nil {
		t.Errorf("GetExpression() error = %v", err)
	}
}
