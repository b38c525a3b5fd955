// Package metrics collects runtime statistics in memory and exports them to
// Prometheus.
package metrics

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Operation names for the collector.
const (
	OpEmbedding   = "embedding"
	OpLLMGenerate = "llm_generate"
	OpRerank      = "rerank"
	OpExtract     = "extract"
	OpDBInsert    = "db_insert"
	OpDBSearch    = "db_search"
	OpIngest      = "ingest"
)

// OperationMetrics holds aggregated metrics for a single operation type.
type OperationMetrics struct {
	Count     int64
	Errors    int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration

	// Token metrics (only for LLM operations)
	TotalInputTokens  int64
	TotalOutputTokens int64
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count             int64   `json:"count"`
	Errors            int64   `json:"errors"`
	TotalTimeMs       int64   `json:"total_time_ms"`
	AvgTimeMs         float64 `json:"avg_time_ms"`
	MinTimeMs         int64   `json:"min_time_ms"`
	MaxTimeMs         int64   `json:"max_time_ms"`
	TotalInputTokens  *int64  `json:"total_input_tokens,omitempty"`
	TotalOutputTokens *int64  `json:"total_output_tokens,omitempty"`
}

// Snapshot represents the service statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64                       `json:"uptime_seconds"`
	Operations    map[string]*OperationSnapshot `json:"operations"`
	Tasks         map[string]int64              `json:"tasks"`
}

// Collector aggregates in-memory runtime statistics and mirrors them into a
// dedicated Prometheus registry. All methods are thread-safe.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics
	tasks     map[string]int64

	registry     *prometheus.Registry
	opDuration   *prometheus.HistogramVec
	opErrors     *prometheus.CounterVec
	llmTokens    *prometheus.CounterVec
	tasksTotal   *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewCollector creates a new metrics collector with its own registry.
func NewCollector() *Collector {
	c := &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
		tasks:     make(map[string]int64),
		registry:  prometheus.NewRegistry(),
		opDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kintel_operation_duration_seconds",
				Help:    "Latency of pipeline operations by name.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"operation"},
		),
		opErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kintel_operation_errors_total",
				Help: "Failed pipeline operations by name.",
			},
			[]string{"operation"},
		),
		llmTokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kintel_llm_tokens_total",
				Help: "Tokens consumed by generation calls, by direction.",
			},
			[]string{"direction"},
		),
		tasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kintel_tasks_total",
				Help: "Ingestion tasks reaching a state.",
			},
			[]string{"state"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kintel_http_requests_total",
				Help: "HTTP requests by method, route and status.",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kintel_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	c.registry.MustRegister(
		c.opDuration,
		c.opErrors,
		c.llmTokens,
		c.tasksTotal,
		c.httpRequests,
		c.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{MinTime: time.Duration(math.MaxInt64)}
		c.ops[op] = m
	}
	return m
}

func (m *OperationMetrics) observe(d time.Duration) {
	m.Count++
	m.TotalTime += d
	if d < m.MinTime {
		m.MinTime = d
	}
	if d > m.MaxTime {
		m.MaxTime = d
	}
}

// RecordTiming records timing for an operation. A non-nil err also counts
// as a failure.
func (c *Collector) RecordTiming(op string, duration time.Duration, err error) {
	if c == nil {
		return
	}
	c.mu.Lock()
	m := c.getOrCreate(op)
	m.observe(duration)
	if err != nil {
		m.Errors++
	}
	c.mu.Unlock()

	c.opDuration.WithLabelValues(op).Observe(duration.Seconds())
	if err != nil {
		c.opErrors.WithLabelValues(op).Inc()
	}
}

// RecordLLMUsage records timing and token usage for a generation call.
func (c *Collector) RecordLLMUsage(duration time.Duration, inputTokens, outputTokens int64, err error) {
	if c == nil {
		return
	}
	c.RecordTiming(OpLLMGenerate, duration, err)

	c.mu.Lock()
	m := c.getOrCreate(OpLLMGenerate)
	m.TotalInputTokens += inputTokens
	m.TotalOutputTokens += outputTokens
	c.mu.Unlock()

	c.llmTokens.WithLabelValues("input").Add(float64(inputTokens))
	c.llmTokens.WithLabelValues("output").Add(float64(outputTokens))
}

// RecordTask counts a task entering state.
func (c *Collector) RecordTask(state string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.tasks[state]++
	c.mu.Unlock()
	c.tasksTotal.WithLabelValues(state).Inc()
}

// RecordHTTP records one served request.
func (c *Collector) RecordHTTP(method, route string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(m *OperationMetrics) *OperationSnapshot {
	if m == nil || m.Count == 0 {
		return nil
	}

	snap := &OperationSnapshot{
		Count:       m.Count,
		Errors:      m.Errors,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}
	if m.TotalInputTokens > 0 || m.TotalOutputTokens > 0 {
		in, out := m.TotalInputTokens, m.TotalOutputTokens
		snap.TotalInputTokens = &in
		snap.TotalOutputTokens = &out
	}
	return snap
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		Operations:    make(map[string]*OperationSnapshot, len(c.ops)),
		Tasks:         make(map[string]int64, len(c.tasks)),
	}
	for op, m := range c.ops {
		if s := snapshotOp(m); s != nil {
			snap.Operations[op] = s
		}
	}
	for state, n := range c.tasks {
		snap.Tasks[state] = n
	}
	return snap
}

// Handler returns the Prometheus scrape handler for this collector.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
