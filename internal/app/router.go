// file: internal/app/router.go

package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"filter-router/config"
	"filter-router/internal/broker"
	"filter-router/internal/lifecycle"
	"filter-router/internal/logger"

	"github.com/nats-io/nats.go"
)

// Verify RouterApp implements lifecycle.Application interface at compile time
var _ lifecycle.Application = (*RouterApp)(nil)

type route struct {
	cfg     config.RouteConfig
	matched atomic.Uint64
}

// RouterApp holds the configured routes as standing hub subscriptions. Each
// route is a hub connection named after the route.
type RouterApp struct {
	config *config.Config
	base   *BaseApp
	logger *logger.Logger
	routes map[string]*route

	closeOnce sync.Once
	closeErr  error
}

// NewRouterApp builds every component and subscribes the configured routes.
// A route whose filter does not parse fails construction.
func NewRouterApp(cfg *config.Config) (*RouterApp, error) {
	app := &RouterApp{
		config: cfg,
		routes: make(map[string]*route, len(cfg.Routes)),
	}
	for _, rc := range cfg.Routes {
		app.routes[rc.Name] = &route{cfg: rc}
	}

	base, err := NewAppBuilder(cfg).
		WithLogger().
		WithMetrics().
		WithNATS().
		WithFilterCache().
		WithBus().
		WithHub(app.deliver).
		Build()
	if err != nil {
		return nil, err
	}
	app.base = base
	app.logger = base.Logger

	if err := app.setupRoutes(); err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("failed to setup routes: %w", err)
	}
	return app, nil
}

func (app *RouterApp) setupRoutes() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, rc := range app.config.Routes {
		if err := app.base.Hub.Subscribe(ctx, rc.Name, rc.Topic, rc.Filter); err != nil {
			return fmt.Errorf("route %s: %w", rc.Name, err)
		}
		app.logger.Info("route configured",
			"route", rc.Name,
			"topic", rc.Topic,
			"filter", rc.Filter,
			"subject", rc.Subject)
	}
	return nil
}

// Run starts the bus and blocks until ctx is cancelled
func (app *RouterApp) Run(ctx context.Context) error {
	app.logger.Info("starting filter-router",
		"busMode", app.config.Bus.Mode,
		"routes", len(app.routes),
		"metricsEnabled", app.config.Metrics.Enabled)

	if err := app.base.Bus.Start(ctx); err != nil {
		return fmt.Errorf("failed to start bus: %w", err)
	}

	<-ctx.Done()
	app.logger.Info("shutting down gracefully...")
	return nil
}

// Publish sends a message through the hub
func (app *RouterApp) Publish(ctx context.Context, topic, payload string, properties map[string]any) error {
	return app.base.Hub.Publish(ctx, topic, payload, properties)
}

// Matched returns how many messages the named route has received
func (app *RouterApp) Matched(name string) uint64 {
	if r, ok := app.routes[name]; ok {
		return r.matched.Load()
	}
	return 0
}

// deliver forwards a matching message to the route's subject, or logs it
// when the route has none
func (app *RouterApp) deliver(connectionID, topic, filterText, payload string) error {
	r, ok := app.routes[connectionID]
	if !ok {
		return fmt.Errorf("unknown route %s", connectionID)
	}
	r.matched.Add(1)

	if r.cfg.Subject == "" {
		app.logger.Info("route matched",
			"route", connectionID,
			"topic", topic,
			"filter", filterText,
			"payloadSize", len(payload))
		return nil
	}

	msg := nats.NewMsg(r.cfg.Subject)
	msg.Header.Set(broker.TopicHeader, topic)
	msg.Header.Set(broker.FilterHeader, filterText)
	msg.Data = []byte(payload)
	if err := app.base.Conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to forward to %s: %w", r.cfg.Subject, err)
	}

	app.logger.Debug("route forwarded",
		"route", connectionID,
		"topic", topic,
		"subject", r.cfg.Subject)
	return nil
}

// Close unsubscribes every route and releases all components
func (app *RouterApp) Close() error {
	app.closeOnce.Do(func() {
		if app.base == nil {
			return
		}
		app.logger.Info("closing application components")

		if app.base.Hub != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			for name := range app.routes {
				if err := app.base.Hub.UnsubscribeConnection(ctx, name); err != nil {
					app.logger.Warn("failed to unsubscribe route", "route", name, "error", err)
				}
			}
		}

		app.closeErr = app.base.Close()
	})
	return app.closeErr
}
