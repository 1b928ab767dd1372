//file: internal/hub/hub.go

package hub

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"filter-router/internal/dispatch"
	"filter-router/internal/filter"
	"filter-router/internal/logger"
	"filter-router/internal/metrics"
	"filter-router/internal/subscription"
)

// Transport is the upstream bus the hub subscribes on behalf of its connections
type Transport interface {
	Publish(ctx context.Context, topic, payload string, properties map[string]any) error
	Subscribe(ctx context.Context, topic, filter string, cb dispatch.Callback) error
	Unsubscribe(ctx context.Context, topic, filter string) error
}

// DeliverFunc hands a matching message to one downstream connection
type DeliverFunc func(connectionID, topic, filter, payload string) error

// UpstreamError wraps a transport failure during subscribe or unsubscribe
type UpstreamError struct {
	Op       string
	Selector string
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s failed for %q: %v", e.Op, e.Selector, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

const lockStripes = 64

type selectorState struct {
	id    subscription.Identifier
	conns map[string]struct{}
}

// MessageHub reference-counts connection subscriptions per selector so the
// transport sees exactly one subscribe per selector while any connection
// holds it, and exactly one unsubscribe when the last one leaves
type MessageHub struct {
	transport Transport
	factory   filter.Factory
	deliver   DeliverFunc
	logger    *logger.Logger
	metrics   *metrics.Metrics

	// stripes serialize the read-modify-write of one selector, including
	// the upstream call; mu only guards the maps
	stripes [lockStripes]sync.Mutex

	mu          sync.RWMutex
	selectors   map[string]*selectorState
	connections map[string]map[string]subscription.Identifier
}

func NewMessageHub(transport Transport, factory filter.Factory, deliver DeliverFunc, log *logger.Logger, m *metrics.Metrics) *MessageHub {
	return &MessageHub{
		transport:   transport,
		factory:     factory,
		deliver:     deliver,
		logger:      log,
		metrics:     m,
		selectors:   make(map[string]*selectorState),
		connections: make(map[string]map[string]subscription.Identifier),
	}
}

func (h *MessageHub) stripe(key string) *sync.Mutex {
	hash := fnv.New32a()
	_, _ = hash.Write([]byte(key))
	return &h.stripes[hash.Sum32()%lockStripes]
}

// Subscribe attaches connectionID to topic/filter. The filter is compiled
// first so syntax errors are returned before anything is registered. The
// first connection on a selector subscribes upstream; if that fails nothing
// is recorded and an *UpstreamError is returned.
func (h *MessageHub) Subscribe(ctx context.Context, connectionID, topic, filterText string) error {
	id, err := subscription.New(topic, filterText)
	if err != nil {
		return err
	}
	if _, err := h.factory.GetExpression(ctx, id.Filter()); err != nil {
		return err
	}

	key := id.Key()
	lock := h.stripe(key)
	lock.Lock()
	defer lock.Unlock()

	h.mu.RLock()
	state := h.selectors[key]
	attached := false
	if state != nil {
		_, attached = state.conns[connectionID]
	}
	h.mu.RUnlock()

	if attached {
		return nil
	}

	if state == nil {
		err := h.transport.Subscribe(ctx, id.Topic(), id.Filter(), h.fanOut(key))
		if h.metrics != nil {
			h.metrics.IncUpstreamOps("subscribe", err == nil)
		}
		if err != nil {
			return &UpstreamError{Op: "subscribe", Selector: key, Err: err}
		}
		h.logger.Debug("subscribed upstream", "selector", key)
	}

	h.mu.Lock()
	if state == nil {
		state = &selectorState{id: id, conns: make(map[string]struct{})}
		h.selectors[key] = state
	}
	state.conns[connectionID] = struct{}{}
	byConn := h.connections[connectionID]
	if byConn == nil {
		byConn = make(map[string]subscription.Identifier)
		h.connections[connectionID] = byConn
	}
	byConn[key] = id
	h.mu.Unlock()

	h.updateGauges()
	return nil
}

// Unsubscribe detaches connectionID from topic/filter. The last connection
// on a selector unsubscribes upstream; if that fails the subscription stays
// in place and an *UpstreamError is returned. Unknown pairs are a no-op.
func (h *MessageHub) Unsubscribe(ctx context.Context, connectionID, topic, filterText string) error {
	id, err := subscription.New(topic, filterText)
	if err != nil {
		return err
	}
	return h.unsubscribe(ctx, connectionID, id, false)
}

// UnsubscribeConnection drops every subscription of connectionID. The
// connection is detached even when an upstream unsubscribe fails; those
// failures are logged and returned joined.
func (h *MessageHub) UnsubscribeConnection(ctx context.Context, connectionID string) error {
	h.mu.RLock()
	ids := make([]subscription.Identifier, 0, len(h.connections[connectionID]))
	for _, id := range h.connections[connectionID] {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	var errs []error
	for _, id := range ids {
		if err := h.unsubscribe(ctx, connectionID, id, true); err != nil {
			h.logger.Warn("upstream unsubscribe failed while dropping connection",
				"connection", connectionID,
				"selector", id.Selector(),
				"error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *MessageHub) unsubscribe(ctx context.Context, connectionID string, id subscription.Identifier, force bool) error {
	key := id.Key()
	lock := h.stripe(key)
	lock.Lock()
	defer lock.Unlock()

	h.mu.RLock()
	state := h.selectors[key]
	attached := false
	last := false
	if state != nil {
		_, attached = state.conns[connectionID]
		last = len(state.conns) == 1
	}
	h.mu.RUnlock()

	if !attached {
		return nil
	}

	var upstreamErr error
	if last {
		err := h.transport.Unsubscribe(ctx, id.Topic(), id.Filter())
		if h.metrics != nil {
			h.metrics.IncUpstreamOps("unsubscribe", err == nil)
		}
		if err != nil {
			upstreamErr = &UpstreamError{Op: "unsubscribe", Selector: key, Err: err}
			if !force {
				return upstreamErr
			}
		} else {
			h.logger.Debug("unsubscribed upstream", "selector", key)
		}
	}

	h.mu.Lock()
	delete(state.conns, connectionID)
	if len(state.conns) == 0 {
		delete(h.selectors, key)
	}
	if byConn := h.connections[connectionID]; byConn != nil {
		delete(byConn, key)
		if len(byConn) == 0 {
			delete(h.connections, connectionID)
		}
	}
	h.mu.Unlock()

	h.updateGauges()
	return upstreamErr
}

// Publish forwards a message to the transport
func (h *MessageHub) Publish(ctx context.Context, topic, payload string, properties map[string]any) error {
	if topic == "" {
		return subscription.ErrTopicRequired
	}
	if err := h.transport.Publish(ctx, topic, payload, properties); err != nil {
		if h.metrics != nil {
			h.metrics.IncMessagesTotal(metrics.StatusError)
		}
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}
	if h.metrics != nil {
		h.metrics.IncMessagesTotal(metrics.StatusPublished)
	}
	return nil
}

// fanOut is the upstream callback of one selector. It delivers to every
// attached connection; a failing connection is logged and skipped.
func (h *MessageHub) fanOut(key string) dispatch.Callback {
	return func(topic, filterText, payload string) error {
		h.mu.RLock()
		var conns []string
		if state := h.selectors[key]; state != nil {
			conns = make([]string, 0, len(state.conns))
			for conn := range state.conns {
				conns = append(conns, conn)
			}
		}
		h.mu.RUnlock()

		var wg sync.WaitGroup
		for _, conn := range conns {
			wg.Add(1)
			go func(conn string) {
				defer wg.Done()
				if err := h.deliverTo(conn, topic, filterText, payload); err != nil {
					h.logger.Error("delivery to connection failed",
						"connection", conn,
						"selector", key,
						"error", err)
					if h.metrics != nil {
						h.metrics.IncCallbackFailures()
					}
				}
			}(conn)
		}
		wg.Wait()
		return nil
	}
}

func (h *MessageHub) deliverTo(conn, topic, filterText, payload string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("deliver panicked: %v", r)
		}
	}()
	return h.deliver(conn, topic, filterText, payload)
}

func (h *MessageHub) updateGauges() {
	if h.metrics == nil {
		return
	}
	h.mu.RLock()
	selectors, conns := len(h.selectors), len(h.connections)
	h.mu.RUnlock()
	h.metrics.SetSelectorsActive(float64(selectors))
	h.metrics.SetConnectionsActive(float64(conns))
}

// SelectorCount returns the number of selectors subscribed upstream
func (h *MessageHub) SelectorCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.selectors)
}

// ConnectionCount returns the number of connections with at least one subscription
func (h *MessageHub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// RefCount returns how many connections hold topic/filter
func (h *MessageHub) RefCount(topic, filterText string) int {
	id, err := subscription.New(topic, filterText)
	if err != nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if state := h.selectors[id.Key()]; state != nil {
		return len(state.conns)
	}
	return 0
}

// Subscriptions returns the identifiers held by connectionID
func (h *MessageHub) Subscriptions(connectionID string) []subscription.Identifier {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]subscription.Identifier, 0, len(h.connections[connectionID]))
	for _, id := range h.connections[connectionID] {
		ids = append(ids, id)
	}
	return ids
}
