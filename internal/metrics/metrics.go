// Package metrics keeps in-process counters and gauges for collection and
// forecast runs. The snapshot is served by the HTTP API under /metrics.
package metrics

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/johnayoung/go-ohlcv-forecaster/internal/errors"
	"github.com/johnayoung/go-ohlcv-forecaster/internal/models"
)

// Metric names recorded by the pipeline.
const (
	CollectionSymbolsTotal = "collection_symbols_total"
	CollectionRunsTotal    = "collection_runs_total"
	CollectionLastRun      = "collection_last_run_timestamp"
	CollectionDuration     = "collection_duration_ms"
	CollectedBarsTotal     = "collected_bars_total"
	ForecastsTotal         = "forecasts_total"
	ForecastLastRun        = "forecast_last_run_timestamp"
	HTTPRequestsTotal      = "http_requests_total"
)

// historySize bounds the points kept per metric.
const historySize = 100

// MetricType represents different types of metrics
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
)

// Metric represents a single metric with metadata
type Metric struct {
	Name        string            `json:"name"`
	Type        MetricType        `json:"type"`
	Value       float64           `json:"value"`
	Labels      map[string]string `json:"labels,omitempty"`
	Description string            `json:"description"`
	UpdatedAt   time.Time         `json:"updated_at"`
	History     []MetricDataPoint `json:"history,omitempty"`
}

// MetricDataPoint represents a time-series data point
type MetricDataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// MetricsSnapshot represents a snapshot of all metrics at a point in time
type MetricsSnapshot struct {
	Timestamp     time.Time     `json:"timestamp"`
	Uptime        string        `json:"uptime"`
	Metrics       []Metric      `json:"metrics"`
	SystemMetrics SystemMetrics `json:"system_metrics"`
	ErrorCount    int64         `json:"error_count"`
}

// SystemMetrics represents process-level metrics
type SystemMetrics struct {
	GoroutineCount int    `json:"goroutine_count"`
	HeapAlloc      uint64 `json:"heap_alloc"`
	HeapSys        uint64 `json:"heap_sys"`
	NumGC          uint32 `json:"num_gc"`
}

// MetricsCollector manages application metrics. It is safe for concurrent
// use; the scheduler and the HTTP API share one instance.
type MetricsCollector struct {
	mu         sync.RWMutex
	metrics    map[string]Metric
	startTime  time.Time
	errorCount int64
	now        func() time.Time
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		metrics:   make(map[string]Metric),
		startTime: time.Now(),
		now:       time.Now,
	}
}

// RecordCounter adds delta to a counter metric
func (mc *MetricsCollector) RecordCounter(name string, delta float64, description string, labels map[string]string) {
	mc.recordMetric(name, MetricTypeCounter, delta, description, labels)
}

// RecordGauge sets a gauge metric value
func (mc *MetricsCollector) RecordGauge(name string, value float64, description string, labels map[string]string) {
	mc.recordMetric(name, MetricTypeGauge, value, description, labels)
}

// RecordError counts a failure under name and in the global error count
func (mc *MetricsCollector) RecordError(name, description string, labels map[string]string) {
	mc.recordMetric(name, MetricTypeCounter, 1, description, labels)
	atomic.AddInt64(&mc.errorCount, 1)
}

// RecordDuration records a duration metric in milliseconds
func (mc *MetricsCollector) RecordDuration(name string, duration time.Duration, description string, labels map[string]string) {
	ms := float64(duration.Nanoseconds()) / float64(time.Millisecond)
	mc.recordMetric(name, MetricTypeHistogram, ms, description, labels)
}

// ObserveCollection records the outcome of one collection run.
func (mc *MetricsCollector) ObserveCollection(report *models.CollectionReport) {
	if report == nil {
		return
	}
	mc.RecordCounter(CollectionRunsTotal, 1, "Collection runs", nil)
	mc.RecordGauge(CollectionLastRun, float64(report.FinishedAt.Unix()), "Unix time the last collection finished", nil)
	mc.RecordDuration(CollectionDuration, report.Duration(), "Collection run wall time", nil)

	for _, res := range report.Results {
		labels := map[string]string{"symbol": res.Symbol, "status": string(res.Status)}
		if res.Status == models.StatusFailed {
			mc.RecordError(CollectionSymbolsTotal, "Symbols processed by collection runs", labels)
			continue
		}
		mc.RecordCounter(CollectionSymbolsTotal, 1, "Symbols processed by collection runs", labels)
		if res.Bars > 0 {
			mc.RecordCounter(CollectedBarsTotal, float64(res.Bars), "Bars written to snapshots", map[string]string{"symbol": res.Symbol})
		}
	}
}

// ObserveForecast records one forecast attempt. A nil err counts as success.
func (mc *MetricsCollector) ObserveForecast(symbol string, err error) {
	status := "succeeded"
	if err != nil {
		status = string(apperrors.TypeOf(err))
	}
	labels := map[string]string{"symbol": symbol, "status": status}
	if err != nil {
		mc.RecordError(ForecastsTotal, "Forecast attempts", labels)
		return
	}
	mc.RecordCounter(ForecastsTotal, 1, "Forecast attempts", labels)
	mc.RecordGauge(ForecastLastRun, float64(mc.now().Unix()), "Unix time of the last successful forecast", map[string]string{"symbol": symbol})
}

// ObserveRequest counts one HTTP request by route and status class.
func (mc *MetricsCollector) ObserveRequest(route string, status int) {
	mc.RecordCounter(HTTPRequestsTotal, 1, "HTTP requests served", map[string]string{
		"route":  route,
		"status": fmt.Sprintf("%dxx", status/100),
	})
}

// Value returns the current value of the metric with exactly these labels.
func (mc *MetricsCollector) Value(name string, labels map[string]string) (float64, bool) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	m, ok := mc.metrics[metricKey(name, labels)]
	return m.Value, ok
}

// GetSnapshot returns a copy of every metric, sorted by name and labels.
func (mc *MetricsCollector) GetSnapshot() MetricsSnapshot {
	mc.mu.RLock()
	keys := make([]string, 0, len(mc.metrics))
	for k := range mc.metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	list := make([]Metric, 0, len(keys))
	for _, k := range keys {
		m := mc.metrics[k]
		m.History = append([]MetricDataPoint(nil), m.History...)
		list = append(list, m)
	}
	mc.mu.RUnlock()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return MetricsSnapshot{
		Timestamp: mc.now(),
		Uptime:    time.Since(mc.startTime).Round(time.Second).String(),
		Metrics:   list,
		SystemMetrics: SystemMetrics{
			GoroutineCount: runtime.NumGoroutine(),
			HeapAlloc:      mem.HeapAlloc,
			HeapSys:        mem.HeapSys,
			NumGC:          mem.NumGC,
		},
		ErrorCount: atomic.LoadInt64(&mc.errorCount),
	}
}

// recordMetric is the internal method for recording metrics
func (mc *MetricsCollector) recordMetric(name string, metricType MetricType, value float64, description string, labels map[string]string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := mc.now()
	key := metricKey(name, labels)

	existing, exists := mc.metrics[key]
	if !exists {
		existing = Metric{
			Name:        name,
			Type:        metricType,
			Labels:      copyLabels(labels),
			Description: description,
		}
	}

	if metricType == MetricTypeCounter {
		existing.Value += value
	} else {
		existing.Value = value
	}
	existing.UpdatedAt = now

	existing.History = append(existing.History, MetricDataPoint{Timestamp: now, Value: existing.Value})
	if len(existing.History) > historySize {
		existing.History = existing.History[len(existing.History)-historySize:]
	}

	mc.metrics[key] = existing
}

// metricKey renders name{k1=v1,k2=v2} with sorted label keys.
func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	b.WriteByte('}')
	return b.String()
}

func copyLabels(labels map[string]string) map[string]string {
	if len(labels) == 0 {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}
