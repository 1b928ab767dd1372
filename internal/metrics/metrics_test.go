// file: internal/metrics/metrics_test.go

package metrics

import (
	"testing"
	"time"

	"filter-router/internal/logger"

	"github.com/prometheus/client_golang/prometheus"
)

// sampleValue returns the counter or gauge value of the named family with the given labels
func sampleValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) (float64, bool) {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if !labelsMatch(metric.GetLabel(), labels) {
				continue
			}
			switch {
			case metric.GetCounter() != nil:
				return metric.GetCounter().GetValue(), true
			case metric.GetGauge() != nil:
				return metric.GetGauge().GetValue(), true
			}
		}
	}
	return 0, false
}

func labelsMatch[L interface {
	GetName() string
	GetValue() string
}](got []L, want map[string]string) bool {
	if len(got) != len(want) {
		return false
	}
	for _, l := range got {
		if want[l.GetName()] != l.GetValue() {
			return false
		}
	}
	return true
}

func TestNewMetricsRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewMetrics(reg); err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	// A second registration on the same registry must collide
	if _, err := NewMetrics(reg); err == nil {
		t.Error("NewMetrics() on a used registry expected error")
	}
}

func TestMetricsRecording(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	m.IncMessagesTotal(StatusReceived)
	m.IncMessagesTotal(StatusReceived)
	m.IncMessagesTotal(StatusError)
	m.IncFiltersParsed(true)
	m.IncFiltersParsed(false)
	m.IncFilterCacheHits()
	m.AddFilterCacheEvictions(3)
	m.SetSelectorsActive(7)
	m.IncUpstreamOps("subscribe", false)
	m.SetNATSConnectionStatus(true)

	tests := []struct {
		name   string
		labels map[string]string
		want   float64
	}{
		{"messages_total", map[string]string{"status": "received"}, 2},
		{"messages_total", map[string]string{"status": "error"}, 1},
		{"filters_parsed_total", map[string]string{"status": "success"}, 1},
		{"filters_parsed_total", map[string]string{"status": "error"}, 1},
		{"filter_cache_hits_total", nil, 1},
		{"filter_cache_evictions_total", nil, 3},
		{"selectors_active", nil, 7},
		{"upstream_operations_total", map[string]string{"op": "subscribe", "status": "error"}, 1},
		{"nats_connection_status", nil, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := sampleValue(t, reg, tt.name, tt.labels)
			if !ok {
				t.Fatalf("metric %s%v not found", tt.name, tt.labels)
			}
			if got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
			}
		})
	}

	received, errs := m.GetStats()
	if received != 2 || errs != 1 {
		t.Errorf("GetStats() = (%d, %d), want (2, 1)", received, errs)
	}
}

func TestMetricsCollectorRunsSamplers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	mc := NewMetricsCollector(m, 10*time.Millisecond, logger.NewNopLogger())
	mc.AddSampler(func(m *Metrics) { m.SetFilterCacheSize(42) })

	if err := mc.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer mc.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if v, ok := sampleValue(t, reg, "filter_cache_size", nil); ok && v == 42 {
			if g, _ := sampleValue(t, reg, "process_goroutines", nil); g == 0 {
				t.Error("process_goroutines not updated by collector")
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("sampler did not run within 2s")
}

func TestMetricsCollectorStopIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, _ := NewMetrics(reg)
	mc := NewMetricsCollector(m, time.Second, logger.NewNopLogger())

	mc.Stop() // never started
	if err := mc.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	mc.Stop()
	mc.Stop()
}
