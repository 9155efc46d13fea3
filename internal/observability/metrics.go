// Package observability exposes Prometheus metrics for the HTTP surface,
// the worker loop, the task queue, and cleanup. Metrics are opt-in via
// METRICS_ENABLED; every method is nil-receiver safe so call sites never
// need to branch on whether metrics are on.
package observability

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/PoetCoderJun/autocut-backend/internal/platform/envutil"
	"github.com/PoetCoderJun/autocut-backend/internal/platform/logger"
)

type Metrics struct {
	registry *prometheus.Registry

	apiRequests *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec
	apiInflight prometheus.Gauge

	workerTasks        *prometheus.CounterVec
	workerTaskDuration *prometheus.HistogramVec

	queueDepth *prometheus.GaugeVec

	cleanupRemoved prometheus.Counter
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	return envutil.Bool("METRICS_ENABLED", false)
}

// Init builds the process-wide metrics instance, or returns nil when
// metrics are disabled.
func Init(baseLog *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		reg := prometheus.NewRegistry()
		factory := promauto.With(reg)
		instance = &Metrics{
			registry: reg,
			apiRequests: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "ac_api_requests_total",
				Help: "API requests by method/route/status.",
			}, []string{"method", "route", "status"}),
			apiLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "ac_api_request_duration_seconds",
				Help:    "API request latency in seconds by method/route.",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			}, []string{"method", "route"}),
			apiInflight: factory.NewGauge(prometheus.GaugeOpts{
				Name: "ac_api_inflight_requests",
				Help: "In-flight API requests.",
			}),
			workerTasks: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "ac_worker_tasks_total",
				Help: "Executed queue tasks by type/status.",
			}, []string{"task_type", "status"}),
			workerTaskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "ac_worker_task_duration_seconds",
				Help:    "Queue task execution duration in seconds by type/status.",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
			}, []string{"task_type", "status"}),
			queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
				Name: "ac_queue_tasks",
				Help: "Queue tasks by status.",
			}, []string{"status"}),
			cleanupRemoved: factory.NewCounter(prometheus.CounterOpts{
				Name: "ac_cleanup_jobs_total",
				Help: "Jobs drained by the cleanup sweeps.",
			}),
		}
	})
	return instance
}

// Handler serves the /metrics scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveAPI(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(method, route, status).Inc()
	m.apiLatency.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) ApiInflightInc() {
	if m != nil {
		m.apiInflight.Inc()
	}
}

func (m *Metrics) ApiInflightDec() {
	if m != nil {
		m.apiInflight.Dec()
	}
}

func (m *Metrics) ObserveWorkerTask(taskType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.workerTasks.WithLabelValues(taskType, status).Inc()
	m.workerTaskDuration.WithLabelValues(taskType, status).Observe(d.Seconds())
}

func (m *Metrics) ObserveCleanup(removed int) {
	if m == nil || removed <= 0 {
		return
	}
	m.cleanupRemoved.Add(float64(removed))
}

// queueCounter is the slice of the queue the depth collector needs.
type queueCounter interface {
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

// StartQueueDepthCollector samples queue depth by status on a fixed
// cadence until ctx is cancelled.
func (m *Metrics) StartQueueDepthCollector(ctx context.Context, log *logger.Logger, q queueCounter) {
	if m == nil || q == nil {
		return
	}
	interval := time.Duration(envutil.Int("METRICS_SCRAPE_INTERVAL_SECONDS", 10)) * time.Second
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				counts, err := q.CountByStatus(ctx)
				if err != nil {
					if log != nil {
						log.Warn("metrics: queue depth query failed", "error", err)
					}
					continue
				}
				for _, status := range []string{"QUEUED", "RUNNING", "SUCCEEDED", "FAILED"} {
					m.queueDepth.WithLabelValues(strings.ToLower(status)).Set(float64(counts[status]))
				}
			}
		}
	}()
}
