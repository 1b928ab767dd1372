//file: internal/broker/bus.go

package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"filter-router/config"
	"filter-router/internal/dispatch"
	"filter-router/internal/logger"
	"filter-router/internal/metrics"
	"filter-router/internal/subscription"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Header names set on published and forwarded messages
const (
	TopicHeader  = "Topic"
	FilterHeader = "Filter"
)

// NATSBus carries published messages as envelopes on a single NATS subject
// and dispatches inbound envelopes to the registered subscriptions
type NATSBus struct {
	conn       *nats.Conn
	js         jetstream.JetStream
	cfg        config.BusConfig
	dispatcher *dispatch.Dispatcher
	logger     *logger.Logger
	metrics    *metrics.Metrics

	mu      sync.Mutex
	sub     *nats.Subscription
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

func NewNATSBus(nc *nats.Conn, cfg config.BusConfig, dispatcher *dispatch.Dispatcher, log *logger.Logger, m *metrics.Metrics) (*NATSBus, error) {
	bus := &NATSBus{
		conn:       nc,
		cfg:        cfg,
		dispatcher: dispatcher,
		logger:     log,
		metrics:    m,
	}
	if cfg.Mode == config.BusModeJetStream {
		js, err := jetstream.New(nc)
		if err != nil {
			return nil, fmt.Errorf("failed to create JetStream context: %w", err)
		}
		bus.js = js
	}
	return bus, nil
}

func (b *NATSBus) Subscribe(ctx context.Context, topic, filter string, cb dispatch.Callback) error {
	id, err := subscription.New(topic, filter)
	if err != nil {
		return err
	}
	b.dispatcher.Subscribe(id, cb)
	return nil
}

func (b *NATSBus) Unsubscribe(ctx context.Context, topic, filter string) error {
	id, err := subscription.New(topic, filter)
	if err != nil {
		return err
	}
	b.dispatcher.Unsubscribe(id)
	return nil
}

// Publish encodes the message as an envelope and publishes it to the bus
// subject, retrying with exponential backoff
func (b *NATSBus) Publish(ctx context.Context, topic, payload string, properties map[string]any) error {
	if topic == "" {
		return subscription.ErrTopicRequired
	}

	env := NewEnvelope(topic, payload, properties)
	data, err := env.Encode()
	if err != nil {
		return err
	}

	msg := nats.NewMsg(b.cfg.Subject)
	msg.Header.Set(TopicHeader, topic)
	msg.Header.Set(nats.MsgIdHdr, env.ID)
	msg.Data = data

	return b.publishWithRetry(ctx, msg, env.ID)
}

func (b *NATSBus) publishWithRetry(ctx context.Context, msg *nats.Msg, id string) error {
	maxRetries := b.cfg.Publish.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}
	baseDelay := b.cfg.Publish.RetryBaseDelay

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("context cancelled: %w", ctx.Err())
		}

		err := b.publishOnce(ctx, msg, id)
		if err == nil {
			if attempt > 0 {
				b.logger.Info("message published after retry",
					"subject", msg.Subject,
					"id", id,
					"attempts", attempt+1)
			}
			return nil
		}
		lastErr = err

		b.logger.Warn("bus publish failed",
			"attempt", attempt+1,
			"maxRetries", maxRetries,
			"subject", msg.Subject,
			"error", err)

		if attempt == maxRetries-1 {
			break
		}
		if b.metrics != nil {
			b.metrics.IncPublishRetries()
		}

		delay := baseDelay * time.Duration(1<<attempt)
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled during retry backoff: %w", ctx.Err())
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("failed to publish after %d attempts: %w", maxRetries, lastErr)
}

func (b *NATSBus) publishOnce(ctx context.Context, msg *nats.Msg, id string) error {
	if b.js == nil {
		return b.conn.PublishMsg(msg)
	}
	pubCtx, cancel := context.WithTimeout(ctx, b.cfg.Publish.AckTimeout)
	defer cancel()
	_, err := b.js.PublishMsg(pubCtx, msg, jetstream.WithMsgID(id))
	return err
}

// Start begins consuming the bus subject. Workers run until ctx is
// cancelled or Stop is called.
func (b *NATSBus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return errors.New("bus already started")
	}

	workerCtx, cancel := context.WithCancel(ctx)
	var err error
	if b.js != nil {
		err = b.startJetStream(workerCtx)
	} else {
		err = b.startCore(workerCtx)
	}
	if err != nil {
		cancel()
		return err
	}

	b.cancel = cancel
	b.running = true
	b.logger.Info("bus started", "mode", b.cfg.Mode, "subject", b.cfg.Subject)
	return nil
}

func (b *NATSBus) startCore(ctx context.Context) error {
	ch := make(chan *nats.Msg, 256)
	sub, err := b.conn.ChanSubscribe(b.cfg.Subject, ch)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.cfg.Subject, err)
	}
	b.sub = sub

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-ctx.Done():
				b.logger.Debug("core worker stopping", "subject", b.cfg.Subject)
				return
			case msg := <-ch:
				b.handle(ctx, msg.Data)
			}
		}
	}()
	return nil
}

func (b *NATSBus) startJetStream(ctx context.Context) error {
	_, err := b.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     b.cfg.Stream,
		Subjects: []string{b.cfg.Subject},
	})
	if err != nil {
		return fmt.Errorf("failed to create stream %s: %w", b.cfg.Stream, err)
	}

	consumer, err := b.js.OrderedConsumer(ctx, b.cfg.Stream, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{b.cfg.Subject},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer on %s: %w", b.cfg.Stream, err)
	}

	iter, err := consumer.Messages()
	if err != nil {
		return fmt.Errorf("failed to create message iterator: %w", err)
	}

	b.wg.Add(1)
	go b.worker(ctx, iter)
	return nil
}

func (b *NATSBus) worker(ctx context.Context, iter jetstream.MessagesContext) {
	defer b.wg.Done()
	defer iter.Stop()

	// unblocks a pending iter.Next()
	go func() {
		<-ctx.Done()
		iter.Stop()
	}()

	for {
		msg, err := iter.Next()
		if err != nil {
			if ctx.Err() != nil {
				b.logger.Debug("jetstream worker stopping", "stream", b.cfg.Stream)
				return
			}
			b.logger.Debug("iterator error", "stream", b.cfg.Stream, "error", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}
		b.handle(ctx, msg.Data())
	}
}

func (b *NATSBus) handle(ctx context.Context, data []byte) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		b.logger.Warn("dropping undecodable bus message", "subject", b.cfg.Subject, "error", err)
		if b.metrics != nil {
			b.metrics.IncMessagesTotal(metrics.StatusError)
		}
		return
	}
	if err := b.dispatcher.DispatchMessage(ctx, env.ToMessage()); err != nil {
		b.logger.Debug("dispatch abandoned", "id", env.ID, "error", err)
	}
}

// Stop halts the workers and waits for in-flight dispatches
func (b *NATSBus) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return nil
	}

	b.cancel()
	b.wg.Wait()

	var err error
	if b.sub != nil {
		err = b.sub.Unsubscribe()
		b.sub = nil
	}
	b.running = false
	b.logger.Info("bus stopped", "subject", b.cfg.Subject)
	return err
}
