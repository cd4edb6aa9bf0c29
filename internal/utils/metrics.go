// internal/utils/metrics.go
package utils

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsCollector collects application metrics
type MetricsCollector struct {
	counters   map[string]*int64
	gauges     map[string]*int64
	histograms map[string]*Histogram

	mu sync.RWMutex
}

// Histogram metric (count, sum, min, max)
type Histogram struct {
	count int64
	sum   int64
	min   int64
	max   int64
	mu    sync.Mutex
}

var (
	globalMetrics *MetricsCollector
	metricsOnce   sync.Once
)

// GetMetricsCollector returns the global metrics collector
func GetMetricsCollector() *MetricsCollector {
	metricsOnce.Do(func() {
		globalMetrics = NewMetricsCollector()
	})
	return globalMetrics
}

// NewMetricsCollector creates an empty collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		counters:   make(map[string]*int64),
		gauges:     make(map[string]*int64),
		histograms: make(map[string]*Histogram),
	}
}

// value returns the atomic cell for name, creating it under the write lock
func (m *MetricsCollector) value(set map[string]*int64, name string) *int64 {
	m.mu.RLock()
	v, exists := set[name]
	m.mu.RUnlock()
	if exists {
		return v
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if v, exists = set[name]; !exists {
		v = new(int64)
		set[name] = v
	}
	return v
}

// IncrementCounter increments a counter metric
func (m *MetricsCollector) IncrementCounter(name string) {
	atomic.AddInt64(m.value(m.counters, name), 1)
}

// AddCounter adds a value to a counter metric
func (m *MetricsCollector) AddCounter(name string, value int64) {
	atomic.AddInt64(m.value(m.counters, name), value)
}

// GetCounterValue gets the current value of a counter
func (m *MetricsCollector) GetCounterValue(name string) int64 {
	m.mu.RLock()
	v, exists := m.counters[name]
	m.mu.RUnlock()
	if !exists {
		return 0
	}
	return atomic.LoadInt64(v)
}

// SetGauge sets a gauge metric
func (m *MetricsCollector) SetGauge(name string, value int64) {
	atomic.StoreInt64(m.value(m.gauges, name), value)
}

// GetGauge gets the current value of a gauge
func (m *MetricsCollector) GetGauge(name string) int64 {
	m.mu.RLock()
	v, exists := m.gauges[name]
	m.mu.RUnlock()
	if !exists {
		return 0
	}
	return atomic.LoadInt64(v)
}

// RecordHistogram records a value in a histogram
func (m *MetricsCollector) RecordHistogram(name string, value int64) {
	m.mu.RLock()
	histogram, exists := m.histograms[name]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		histogram, exists = m.histograms[name]
		if !exists {
			histogram = &Histogram{min: value, max: value}
			m.histograms[name] = histogram
		}
		m.mu.Unlock()
	}

	histogram.mu.Lock()
	defer histogram.mu.Unlock()

	histogram.count++
	histogram.sum += value
	if value < histogram.min {
		histogram.min = value
	}
	if value > histogram.max {
		histogram.max = value
	}
}

// GetMetrics returns a snapshot of all metrics
func (m *MetricsCollector) GetMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counters := make(map[string]int64, len(m.counters))
	for name, v := range m.counters {
		counters[name] = atomic.LoadInt64(v)
	}

	gauges := make(map[string]int64, len(m.gauges))
	for name, v := range m.gauges {
		gauges[name] = atomic.LoadInt64(v)
	}

	histograms := make(map[string]map[string]int64, len(m.histograms))
	for name, h := range m.histograms {
		h.mu.Lock()
		histograms[name] = map[string]int64{
			"count": h.count,
			"sum":   h.sum,
			"min":   h.min,
			"max":   h.max,
		}
		h.mu.Unlock()
	}

	return map[string]interface{}{
		"counters":   counters,
		"gauges":     gauges,
		"histograms": histograms,
	}
}

// ScriptMetrics records wizard- and LLM-level metrics
type ScriptMetrics struct {
	metrics *MetricsCollector
	logger  *Logger
}

// NewScriptMetrics creates a recorder; nil arguments fall back to the globals
func NewScriptMetrics(metrics *MetricsCollector, logger *Logger) *ScriptMetrics {
	if metrics == nil {
		metrics = GetMetricsCollector()
	}
	if logger == nil {
		logger = GetLogger()
	}
	return &ScriptMetrics{metrics: metrics, logger: logger}
}

// Collector exposes the underlying collector
func (sm *ScriptMetrics) Collector() *MetricsCollector {
	return sm.metrics
}

// RecordAPIRequest records metrics for an API request
func (sm *ScriptMetrics) RecordAPIRequest(route, method string, statusCode int, duration time.Duration) {
	sm.metrics.IncrementCounter("api_requests_total")
	sm.metrics.IncrementCounter("api_requests_" + method + "_" + route)
	sm.metrics.IncrementCounter("api_responses_" + strconv.Itoa(statusCode/100) + "xx")
	sm.metrics.RecordHistogram("api_response_time_ms", duration.Milliseconds())
}

// RecordGeneration records a successful LLM generation
func (sm *ScriptMetrics) RecordGeneration(target, provider, model string, tokensUsed int, duration time.Duration) {
	sm.metrics.IncrementCounter("llm_requests_total")
	sm.metrics.IncrementCounter("llm_generations_" + target)
	sm.metrics.AddCounter("llm_tokens_total", int64(tokensUsed))
	sm.metrics.RecordHistogram("llm_response_time_ms", duration.Milliseconds())

	sm.logger.Info("LLM generation completed", map[string]interface{}{
		"target":   target,
		"provider": provider,
		"model":    model,
		"tokens":   tokensUsed,
		"duration": duration.Milliseconds(),
	})
}

// RecordRetry records a transient failure that will be retried
func (sm *ScriptMetrics) RecordRetry(kind string) {
	sm.metrics.IncrementCounter("llm_retries_total")
	sm.metrics.IncrementCounter("llm_retries_" + kind)
}

// RecordFailure records a generation that gave up
func (sm *ScriptMetrics) RecordFailure(errorType string) {
	sm.metrics.IncrementCounter("llm_failures_total")
	sm.metrics.IncrementCounter("llm_failures_" + errorType)
}

// SetActiveSessions updates the active session gauge
func (sm *ScriptMetrics) SetActiveSessions(n int) {
	sm.metrics.SetGauge("sessions_active", int64(n))
}
