// file: internal/app/builder.go

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"filter-router/config"
	"filter-router/internal/broker"
	"filter-router/internal/dispatch"
	"filter-router/internal/filter"
	"filter-router/internal/hub"
	"filter-router/internal/logger"
	"filter-router/internal/metrics"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Bus is a hub transport with a consume loop
type Bus interface {
	hub.Transport
	Start(ctx context.Context) error
	Stop() error
}

var (
	_ Bus = (*broker.MemoryBus)(nil)
	_ Bus = (*broker.NATSBus)(nil)
)

// BaseApp holds the common, initialized components for any application.
type BaseApp struct {
	Logger        *logger.Logger
	Metrics       *metrics.Metrics
	MetricsServer *http.Server
	Collector     *metrics.MetricsCollector
	Conn          *nats.Conn
	Cache         *filter.Cache
	Dispatcher    *dispatch.Dispatcher
	Bus           Bus
	Hub           *hub.MessageHub
}

// AppBuilder constructs the BaseApp components fluently.
type AppBuilder struct {
	cfg  *config.Config
	base *BaseApp
	err  error
}

// NewAppBuilder creates a new builder.
func NewAppBuilder(cfg *config.Config) *AppBuilder {
	return &AppBuilder{
		cfg:  cfg,
		base: &BaseApp{},
	}
}

// WithLogger creates the logger from the logging config.
func (b *AppBuilder) WithLogger() *AppBuilder {
	if b.err != nil {
		return b
	}
	b.base.Logger, b.err = logger.NewLogger(&b.cfg.Logging)
	if b.err != nil {
		b.err = fmt.Errorf("failed to initialize logger: %w", b.err)
	}
	return b
}

// WithExistingLogger reuses a logger built elsewhere.
func (b *AppBuilder) WithExistingLogger(log *logger.Logger) *AppBuilder {
	if b.err != nil {
		return b
	}
	b.base.Logger = log
	return b
}

// WithMetrics creates the registry, the collector and the metrics server.
func (b *AppBuilder) WithMetrics() *AppBuilder {
	if b.err != nil {
		return b
	}
	if !b.cfg.Metrics.Enabled {
		b.base.Logger.Info("metrics disabled")
		return b
	}

	reg := prometheus.NewRegistry()
	var err error
	b.base.Metrics, err = metrics.NewMetrics(reg)
	if err != nil {
		b.err = fmt.Errorf("failed to create metrics service: %w", err)
		return b
	}

	updateInterval, err := time.ParseDuration(b.cfg.Metrics.UpdateInterval)
	if err != nil {
		b.err = fmt.Errorf("invalid metrics update interval: %w", err)
		return b
	}

	b.base.Collector = metrics.NewMetricsCollector(b.base.Metrics, updateInterval, b.base.Logger)
	if err := b.base.Collector.Start(); err != nil {
		b.err = err
		return b
	}

	mux := http.NewServeMux()
	mux.Handle(b.cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		Registry:          reg,
		EnableOpenMetrics: true,
	}))

	b.base.MetricsServer = &http.Server{
		Addr:              b.cfg.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		b.base.Logger.Info("starting metrics server",
			"address", b.cfg.Metrics.Address,
			"path", b.cfg.Metrics.Path)
		if err := b.base.MetricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			b.base.Logger.Error("metrics server error", "error", err)
		}
	}()

	b.base.Logger.Info("metrics initialized successfully",
		"address", b.cfg.Metrics.Address,
		"path", b.cfg.Metrics.Path,
		"updateInterval", updateInterval)

	return b
}

// WithNATS connects to NATS unless the bus runs in memory mode.
func (b *AppBuilder) WithNATS() *AppBuilder {
	if b.err != nil {
		return b
	}
	if b.cfg.Bus.Mode == config.BusModeMemory {
		b.base.Logger.Info("memory bus selected, skipping NATS connection")
		return b
	}

	b.base.Conn, b.err = broker.NewNATSConnection(&b.cfg.NATS, b.base.Logger, b.base.Metrics)
	return b
}

// WithFilterCache creates the compiled filter cache and its janitor.
func (b *AppBuilder) WithFilterCache() *AppBuilder {
	if b.err != nil {
		return b
	}

	b.base.Cache = filter.NewCache(
		filter.NewParserFactory(b.base.Metrics),
		filter.CacheOptions{
			TTL:        b.cfg.Cache.TTL,
			MaxEntries: b.cfg.Cache.MaxEntries,
		},
		b.base.Logger,
		b.base.Metrics,
	)
	if err := b.base.Cache.StartJanitor(b.cfg.Cache.SweepSchedule); err != nil {
		b.err = err
		return b
	}

	if b.base.Collector != nil {
		cache := b.base.Cache
		b.base.Collector.AddSampler(func(m *metrics.Metrics) {
			m.SetFilterCacheSize(float64(cache.Len()))
		})
	}

	b.base.Logger.Info("filter cache initialized",
		"ttl", b.cfg.Cache.TTL,
		"maxEntries", b.cfg.Cache.MaxEntries,
		"sweepSchedule", b.cfg.Cache.SweepSchedule)
	return b
}

// WithBus creates the dispatcher and the transport for the configured mode.
func (b *AppBuilder) WithBus() *AppBuilder {
	if b.err != nil {
		return b
	}
	if b.base.Cache == nil {
		b.err = errors.New("filter cache must be built before the bus")
		return b
	}

	filtering := dispatch.NewFilteringService(b.base.Cache, b.base.Logger, b.base.Metrics)
	b.base.Dispatcher = dispatch.NewDispatcher(filtering, b.base.Logger, b.base.Metrics)

	if b.cfg.Bus.Mode == config.BusModeMemory {
		b.base.Bus = broker.NewMemoryBus(b.base.Dispatcher)
		return b
	}
	if b.base.Conn == nil {
		b.err = errors.New("NATS connection must be built before a NATS bus")
		return b
	}

	bus, err := broker.NewNATSBus(b.base.Conn, b.cfg.Bus, b.base.Dispatcher, b.base.Logger, b.base.Metrics)
	if err != nil {
		b.err = fmt.Errorf("failed to create NATS bus: %w", err)
		return b
	}
	b.base.Bus = bus
	return b
}

// WithHub creates the message hub delivering through deliver.
func (b *AppBuilder) WithHub(deliver hub.DeliverFunc) *AppBuilder {
	if b.err != nil {
		return b
	}
	if b.base.Bus == nil {
		b.err = errors.New("bus must be built before the hub")
		return b
	}
	b.base.Hub = hub.NewMessageHub(b.base.Bus, b.base.Cache, deliver, b.base.Logger, b.base.Metrics)
	return b
}

// Build finalizes the construction and returns the BaseApp. On failure every
// component built so far is released.
func (b *AppBuilder) Build() (*BaseApp, error) {
	if b.err != nil {
		_ = b.base.Close()
		return nil, b.err
	}
	return b.base, nil
}

// Close stops every component that was built, in reverse dependency order.
func (base *BaseApp) Close() error {
	var errs []error

	if base.Bus != nil {
		if err := base.Bus.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop bus: %w", err))
		}
	}

	if base.Cache != nil {
		if err := base.Cache.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if base.Collector != nil {
		base.Collector.Stop()
	}

	if base.MetricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := base.MetricsServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown metrics server: %w", err))
		}
	}

	if base.Conn != nil {
		if err := base.Conn.Drain(); err != nil {
			errs = append(errs, fmt.Errorf("failed to drain NATS connection: %w", err))
		}
	}

	if base.Logger != nil {
		if err := base.Logger.Sync(); err != nil {
			base.Logger.Debug("logger sync completed", "error", err)
		}
	}

	return errors.Join(errs...)
}
