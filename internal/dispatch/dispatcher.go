//file: internal/dispatch/dispatcher.go

package dispatch

import (
	"context"
	"fmt"
	"sync"

	"filter-router/internal/logger"
	"filter-router/internal/metrics"
	"filter-router/internal/subscription"
)

// Dispatcher owns the callback table of a transport and delivers inbound
// messages to every subscription whose filter matches
type Dispatcher struct {
	filtering *FilteringService
	logger    *logger.Logger
	metrics   *metrics.Metrics

	mu      sync.RWMutex
	entries map[string]Entry
}

func NewDispatcher(filtering *FilteringService, log *logger.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		filtering: filtering,
		logger:    log,
		metrics:   m,
		entries:   make(map[string]Entry),
	}
}

// Subscribe registers cb for id, replacing any previous callback
func (d *Dispatcher) Subscribe(id subscription.Identifier, cb Callback) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[id.Key()] = Entry{ID: id, Callback: cb}
}

// Unsubscribe removes id and reports whether it was registered
func (d *Dispatcher) Unsubscribe(id subscription.Identifier) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.entries[id.Key()]; !ok {
		return false
	}
	delete(d.entries, id.Key())
	return true
}

func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// DispatchMessage invokes every matching callback concurrently and waits for
// all of them. Callback failures are logged and counted, never returned.
// The only error is a context that was already done.
func (d *Dispatcher) DispatchMessage(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.RLock()
	snapshot := make([]Entry, 0, len(d.entries))
	for _, e := range d.entries {
		snapshot = append(snapshot, e)
	}
	d.mu.RUnlock()

	if d.metrics != nil {
		d.metrics.IncMessagesTotal(metrics.StatusReceived)
	}

	matches := d.filtering.Filter(ctx, msg.Context, snapshot)
	if len(matches) == 0 {
		d.logger.Debug("no subscriptions matched", "topic", msg.Topic, "subscriptions", len(snapshot))
		return nil
	}

	var wg sync.WaitGroup
	for _, entry := range matches {
		wg.Add(1)
		go func(entry Entry) {
			defer wg.Done()
			if err := invoke(entry, msg); err != nil {
				d.logger.Error("subscriber callback failed",
					"selector", entry.ID.Selector(),
					"topic", msg.Topic,
					"error", err)
				if d.metrics != nil {
					d.metrics.IncCallbackFailures()
				}
				return
			}
			if d.metrics != nil {
				d.metrics.IncMessagesTotal(metrics.StatusDispatched)
			}
		}(entry)
	}
	wg.Wait()

	return nil
}

func invoke(entry Entry, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panicked: %v", r)
		}
	}()
	return entry.Callback(entry.ID.Topic(), entry.ID.Filter(), msg.Body)
}
