//file: internal/hub/hub_test.go

package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"filter-router/internal/dispatch"
	"filter-router/internal/filter"
	"filter-router/internal/logger"
	"filter-router/internal/subscription"
)

// fakeTransport records upstream calls and can be told to fail them
type fakeTransport struct {
	mu            sync.Mutex
	subscribes    map[string]int
	unsubscribes  map[string]int
	callbacks     map[string]dispatch.Callback
	failSubscribe atomic.Bool
	failUnsub     atomic.Bool
	published     []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		subscribes:   make(map[string]int),
		unsubscribes: make(map[string]int),
		callbacks:    make(map[string]dispatch.Callback),
	}
}

func key(topic, f string) string { return topic + "|" + f }

func (f *fakeTransport) Publish(_ context.Context, topic, payload string, _ map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, topic+":"+payload)
	return nil
}

func (f *fakeTransport) Subscribe(_ context.Context, topic, filterText string, cb dispatch.Callback) error {
	if f.failSubscribe.Load() {
		return errors.New("broker unavailable")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes[key(topic, filterText)]++
	f.callbacks[key(topic, filterText)] = cb
	return nil
}

func (f *fakeTransport) Unsubscribe(_ context.Context, topic, filterText string) error {
	if f.failUnsub.Load() {
		return errors.New("broker unavailable")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribes[key(topic, filterText)]++
	delete(f.callbacks, key(topic, filterText))
	return nil
}

func (f *fakeTransport) counts(topic, filterText string) (subs, unsubs int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes[key(topic, filterText)], f.unsubscribes[key(topic, filterText)]
}

func (f *fakeTransport) callback(topic, filterText string) dispatch.Callback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callbacks[key(topic, filterText)]
}

type deliveries struct {
	mu   sync.Mutex
	got  map[string][]string
	fail map[string]bool
}

func newDeliveries() *deliveries {
	return &deliveries{got: make(map[string][]string), fail: make(map[string]bool)}
}

func (d *deliveries) deliver(conn, topic, f, payload string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail[conn] {
		return fmt.Errorf("connection %s closed", conn)
	}
	d.got[conn] = append(d.got[conn], payload)
	return nil
}

func newTestHub(tr Transport, d *deliveries) *MessageHub {
	factory := filter.NewCache(filter.NewParserFactory(nil), filter.CacheOptions{TTL: filter.DefaultCacheTTL}, nil, nil)
	return NewMessageHub(tr, factory, d.deliver, logger.NewNopLogger(), nil)
}

func TestSubscribeRefCounting(t *testing.T) {
	tr := newFakeTransport()
	h := newTestHub(tr, newDeliveries())
	ctx := context.Background()

	for _, conn := range []string{"c1", "c2", "c3"} {
		if err := h.Subscribe(ctx, conn, "orders", "Amount > 1"); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", conn, err)
		}
	}
	// Repeat from the same connection counts once
	if err := h.Subscribe(ctx, "c1", "orders", "Amount > 1"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if subs, _ := tr.counts("orders", "Amount > 1"); subs != 1 {
		t.Errorf("upstream subscribes = %d, want 1", subs)
	}
	if got := h.RefCount("orders", "Amount > 1"); got != 3 {
		t.Errorf("RefCount() = %d, want 3", got)
	}

	for _, conn := range []string{"c1", "c2"} {
		if err := h.Unsubscribe(ctx, conn, "orders", "Amount > 1"); err != nil {
			t.Fatalf("Unsubscribe(%s) error = %v", conn, err)
		}
	}
	if _, unsubs := tr.counts("orders", "Amount > 1"); unsubs != 0 {
		t.Errorf("upstream unsubscribes = %d before last connection left, want 0", unsubs)
	}

	if err := h.Unsubscribe(ctx, "c3", "orders", "Amount > 1"); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if _, unsubs := tr.counts("orders", "Amount > 1"); unsubs != 1 {
		t.Errorf("upstream unsubscribes = %d, want 1", unsubs)
	}
	if h.SelectorCount() != 0 || h.ConnectionCount() != 0 {
		t.Errorf("hub not empty: %d selectors, %d connections", h.SelectorCount(), h.ConnectionCount())
	}

	// Unknown pairs are a no-op
	if err := h.Unsubscribe(ctx, "c3", "orders", "Amount > 1"); err != nil {
		t.Errorf("Unsubscribe() of unknown pair error = %v", err)
	}
	if _, unsubs := tr.counts("orders", "Amount > 1"); unsubs != 1 {
		t.Errorf("upstream unsubscribes = %d after no-op, want 1", unsubs)
	}
}

func TestSubscribeValidation(t *testing.T) {
	tr := newFakeTransport()
	h := newTestHub(tr, newDeliveries())
	ctx := context.Background()

	err := h.Subscribe(ctx, "c1", "orders", "Amount >")
	var pe *filter.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("Subscribe() error = %v, want *filter.ParseError", err)
	}

	// a filter that closes the topic group is rejected on its own
	err = h.Subscribe(ctx, "c1", "orders", "Foo = 1) OR (Bar = 2")
	if !errors.As(err, &pe) {
		t.Fatalf("Subscribe() error = %v, want *filter.ParseError", err)
	}

	if err := h.Subscribe(ctx, "c1", "", "A = 1"); !errors.Is(err, subscription.ErrTopicRequired) {
		t.Errorf("Subscribe() error = %v, want ErrTopicRequired", err)
	}

	if h.SelectorCount() != 0 {
		t.Errorf("SelectorCount() = %d after rejected subscribes, want 0", h.SelectorCount())
	}
	if subs, _ := tr.counts("orders", "Foo = 1) OR (Bar = 2"); subs != 0 {
		t.Errorf("upstream subscribes = %d for escaping filter, want 0", subs)
	}
	if subs, _ := tr.counts("orders", "Amount >"); subs != 0 {
		t.Errorf("upstream subscribes = %d, want 0", subs)
	}
}

func TestSubscribeRollbackOnUpstreamFailure(t *testing.T) {
	tr := newFakeTransport()
	h := newTestHub(tr, newDeliveries())
	ctx := context.Background()

	tr.failSubscribe.Store(true)
	err := h.Subscribe(ctx, "c1", "orders", "")
	var ue *UpstreamError
	if !errors.As(err, &ue) || ue.Op != "subscribe" {
		t.Fatalf("Subscribe() error = %v, want subscribe *UpstreamError", err)
	}
	if got := h.RefCount("orders", ""); got != 0 {
		t.Errorf("RefCount() = %d after failed subscribe, want 0", got)
	}
	if len(h.Subscriptions("c1")) != 0 {
		t.Error("failed subscribe left the connection registered")
	}

	// A retry subscribes upstream again
	tr.failSubscribe.Store(false)
	if err := h.Subscribe(ctx, "c1", "orders", ""); err != nil {
		t.Fatalf("Subscribe() retry error = %v", err)
	}
	if subs, _ := tr.counts("orders", ""); subs != 1 {
		t.Errorf("upstream subscribes = %d, want 1", subs)
	}
	if got := h.RefCount("orders", ""); got != 1 {
		t.Errorf("RefCount() = %d, want 1", got)
	}
}

func TestUnsubscribeRollbackOnUpstreamFailure(t *testing.T) {
	tr := newFakeTransport()
	h := newTestHub(tr, newDeliveries())
	ctx := context.Background()

	if err := h.Subscribe(ctx, "c1", "orders", ""); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	tr.failUnsub.Store(true)
	err := h.Unsubscribe(ctx, "c1", "orders", "")
	var ue *UpstreamError
	if !errors.As(err, &ue) || ue.Op != "unsubscribe" {
		t.Fatalf("Unsubscribe() error = %v, want unsubscribe *UpstreamError", err)
	}
	if got := h.RefCount("orders", ""); got != 1 {
		t.Errorf("RefCount() = %d after failed unsubscribe, want 1", got)
	}

	tr.failUnsub.Store(false)
	if err := h.Unsubscribe(ctx, "c1", "orders", ""); err != nil {
		t.Fatalf("Unsubscribe() retry error = %v", err)
	}
	if got := h.RefCount("orders", ""); got != 0 {
		t.Errorf("RefCount() = %d, want 0", got)
	}
}

func TestUnsubscribeConnection(t *testing.T) {
	tr := newFakeTransport()
	h := newTestHub(tr, newDeliveries())
	ctx := context.Background()

	_ = h.Subscribe(ctx, "c1", "orders", "")
	_ = h.Subscribe(ctx, "c1", "invoices", "Total > 5")
	_ = h.Subscribe(ctx, "c2", "orders", "")

	if err := h.UnsubscribeConnection(ctx, "c1"); err != nil {
		t.Fatalf("UnsubscribeConnection() error = %v", err)
	}
	if got := h.RefCount("orders", ""); got != 1 {
		t.Errorf("RefCount(orders) = %d, want 1", got)
	}
	if _, unsubs := tr.counts("invoices", "Total > 5"); unsubs != 1 {
		t.Errorf("invoices upstream unsubscribes = %d, want 1", unsubs)
	}

	// Upstream failure still detaches the connection
	tr.failUnsub.Store(true)
	err := h.UnsubscribeConnection(ctx, "c2")
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("UnsubscribeConnection() error = %v, want *UpstreamError", err)
	}
	if h.ConnectionCount() != 0 || h.SelectorCount() != 0 {
		t.Errorf("hub not empty: %d selectors, %d connections", h.SelectorCount(), h.ConnectionCount())
	}
}

func TestFanOutToConnections(t *testing.T) {
	tr := newFakeTransport()
	d := newDeliveries()
	h := newTestHub(tr, d)
	ctx := context.Background()

	_ = h.Subscribe(ctx, "c1", "orders", "")
	_ = h.Subscribe(ctx, "c2", "orders", "")
	_ = h.Subscribe(ctx, "broken", "orders", "")
	d.fail["broken"] = true

	cb := tr.callback("orders", "")
	if cb == nil {
		t.Fatal("no upstream callback registered")
	}
	if err := cb("orders", "", "hello"); err != nil {
		t.Fatalf("callback error = %v", err)
	}

	for _, conn := range []string{"c1", "c2"} {
		if len(d.got[conn]) != 1 || d.got[conn][0] != "hello" {
			t.Errorf("connection %s got %v, want [hello]", conn, d.got[conn])
		}
	}
}

func TestPublish(t *testing.T) {
	tr := newFakeTransport()
	h := newTestHub(tr, newDeliveries())

	if err := h.Publish(context.Background(), "orders", "x", nil); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(tr.published) != 1 || tr.published[0] != "orders:x" {
		t.Errorf("published = %v, want [orders:x]", tr.published)
	}
	if err := h.Publish(context.Background(), "", "x", nil); !errors.Is(err, subscription.ErrTopicRequired) {
		t.Errorf("Publish() error = %v, want ErrTopicRequired", err)
	}
}

func TestConcurrentSubscribeUnsubscribe(t *testing.T) {
	tr := newFakeTransport()
	h := newTestHub(tr, newDeliveries())
	ctx := context.Background()

	const conns = 50
	var wg sync.WaitGroup
	for i := 0; i < conns; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := fmt.Sprintf("c%d", i)
			if err := h.Subscribe(ctx, conn, "orders", "Amount > 1"); err != nil {
				t.Errorf("Subscribe() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	if subs, _ := tr.counts("orders", "Amount > 1"); subs != 1 {
		t.Errorf("upstream subscribes = %d, want 1", subs)
	}
	if got := h.RefCount("orders", "Amount > 1"); got != conns {
		t.Errorf("RefCount() = %d, want %d", got, conns)
	}

	for i := 0; i < conns; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := fmt.Sprintf("c%d", i)
			if err := h.Unsubscribe(ctx, conn, "orders", "Amount > 1"); err != nil {
				t.Errorf("Unsubscribe() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	subs, unsubs := tr.counts("orders", "Amount > 1")
	if subs != 1 || unsubs != 1 {
		t.Errorf("upstream subscribes/unsubscribes = %d/%d, want 1/1", subs, unsubs)
	}
	if h.SelectorCount() != 0 {
		t.Errorf("SelectorCount() = %d, want 0", h.SelectorCount())
	}
}

func TestConcurrentChurnKeepsUpstreamBalanced(t *testing.T) {
	tr := newFakeTransport()
	h := newTestHub(tr, newDeliveries())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := fmt.Sprintf("c%d", i%4)
			for j := 0; j < 25; j++ {
				_ = h.Subscribe(ctx, conn, "orders", "")
				_ = h.Unsubscribe(ctx, conn, "orders", "")
			}
		}(i)
	}
	wg.Wait()

	subs, unsubs := tr.counts("orders", "")
	active := 0
	if h.RefCount("orders", "") > 0 {
		active = 1
	}
	if subs-unsubs != active {
		t.Errorf("upstream subscribes %d - unsubscribes %d = %d, want %d", subs, unsubs, subs-unsubs, active)
	}
}
