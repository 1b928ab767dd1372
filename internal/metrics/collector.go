// file: internal/metrics/collector.go

package metrics

import (
	"fmt"
	"sync"
	"time"

	"filter-router/internal/logger"

	"github.com/go-co-op/gocron/v2"
)

// Sampler copies a point-in-time reading (cache size, active selectors)
// into the metrics on every collection tick
type Sampler func(m *Metrics)

// MetricsCollector handles periodic collection of system metrics
type MetricsCollector struct {
	metrics        *Metrics
	updateInterval time.Duration
	logger         *logger.Logger

	mu        sync.Mutex
	samplers  []Sampler
	scheduler gocron.Scheduler
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(metrics *Metrics, updateInterval time.Duration, log *logger.Logger) *MetricsCollector {
	return &MetricsCollector{
		metrics:        metrics,
		updateInterval: updateInterval,
		logger:         log,
	}
}

// AddSampler registers a sampler run on every tick
func (mc *MetricsCollector) AddSampler(s Sampler) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.samplers = append(mc.samplers, s)
}

// Start begins periodic collection on a gocron duration job
func (mc *MetricsCollector) Start() error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if mc.scheduler != nil {
		return nil
	}

	s, err := gocron.NewScheduler(gocron.WithLogger(mc.logger))
	if err != nil {
		return fmt.Errorf("failed to create metrics scheduler: %w", err)
	}

	_, err = s.NewJob(
		gocron.DurationJob(mc.updateInterval),
		gocron.NewTask(mc.collect),
		gocron.WithName("metrics-collector"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("failed to schedule metrics collection: %w", err)
	}

	s.Start()
	mc.scheduler = s
	return nil
}

// Stop gracefully shuts down the metrics collector
func (mc *MetricsCollector) Stop() {
	mc.mu.Lock()
	s := mc.scheduler
	mc.scheduler = nil
	mc.mu.Unlock()

	if s == nil {
		return
	}
	if err := s.Shutdown(); err != nil {
		mc.logger.Warn("metrics scheduler shutdown failed", "error", err)
	}
}

// collect updates system metrics and runs every sampler
func (mc *MetricsCollector) collect() {
	mc.metrics.UpdateSystemMetrics()

	mc.mu.Lock()
	samplers := make([]Sampler, len(mc.samplers))
	copy(samplers, mc.samplers)
	mc.mu.Unlock()

	for _, sample := range samplers {
		sample(mc.metrics)
	}
}
