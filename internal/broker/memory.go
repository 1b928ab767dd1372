//file: internal/broker/memory.go

package broker

import (
	"context"

	"filter-router/internal/dispatch"
	"filter-router/internal/subscription"

	"github.com/google/uuid"
)

// MemoryBus is an in-process transport. Publish dispatches synchronously to
// the registered callbacks.
type MemoryBus struct {
	dispatcher *dispatch.Dispatcher
}

func NewMemoryBus(dispatcher *dispatch.Dispatcher) *MemoryBus {
	return &MemoryBus{dispatcher: dispatcher}
}

func (b *MemoryBus) Publish(ctx context.Context, topic, payload string, properties map[string]any) error {
	if topic == "" {
		return subscription.ErrTopicRequired
	}
	msg := dispatch.NewMessage(topic, payload, properties)
	msg.ID = uuid.NewString()
	return b.dispatcher.DispatchMessage(ctx, msg)
}

func (b *MemoryBus) Subscribe(ctx context.Context, topic, filter string, cb dispatch.Callback) error {
	id, err := subscription.New(topic, filter)
	if err != nil {
		return err
	}
	b.dispatcher.Subscribe(id, cb)
	return nil
}

func (b *MemoryBus) Unsubscribe(ctx context.Context, topic, filter string) error {
	id, err := subscription.New(topic, filter)
	if err != nil {
		return err
	}
	b.dispatcher.Unsubscribe(id)
	return nil
}

// Start is a no-op; the memory bus dispatches on Publish.
func (b *MemoryBus) Start(ctx context.Context) error { return nil }

func (b *MemoryBus) Stop() error { return nil }
