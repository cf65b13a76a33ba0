// Package monitoring exposes Prometheus metrics for runs and the HTTP API.
package monitoring

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agenthands/driftwatch/internal/core/model"
)

// MetricsCollector owns its registry so several collectors can coexist in
// one process (tests, mostly).
type MetricsCollector struct {
	serviceName string
	registry    *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	runsTotal     *prometheus.CounterVec
	runDuration   prometheus.Histogram
	jobsTotal     *prometheus.CounterVec
	findingsTotal *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
	truncations   prometheus.Counter
	lastRun       prometheus.Gauge
	runActive     prometheus.Gauge
}

// NewMetricsCollector creates a collector for the service
func NewMetricsCollector(serviceName, version string) *MetricsCollector {
	name := strings.ReplaceAll(serviceName, "-", "_")
	mc := &MetricsCollector{
		serviceName: name,
		registry:    prometheus.NewRegistry(),
	}

	mc.httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: name + "_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "endpoint", "status"})
	mc.httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    name + "_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"})

	mc.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: name + "_runs_total",
		Help: "Monitoring runs by trigger and result",
	}, []string{"trigger", "result"})
	mc.runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    name + "_run_duration_seconds",
		Help:    "Wall time of a monitoring run",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
	mc.jobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: name + "_jobs_total",
		Help: "Jobs by terminal state and failed stage",
	}, []string{"state", "stage", "kind"})
	mc.findingsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: name + "_findings_total",
		Help: "Findings by disposition",
	}, []string{"disposition"})
	mc.deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: name + "_deliveries_total",
		Help: "Notification outcomes",
	}, []string{"outcome"})
	mc.truncations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: name + "_prompt_truncations_total",
		Help: "Jobs whose discussion had to be truncated to fit the prompt",
	})
	mc.lastRun = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: name + "_last_run_timestamp_seconds",
		Help: "Finish time of the most recent run",
	})
	mc.runActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: name + "_run_active",
		Help: "1 while a run is in progress",
	})
	info := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: name + "_service_info",
		Help: "Service information",
	}, []string{"version"})
	info.WithLabelValues(version).Set(1)

	mc.registry.MustRegister(
		mc.httpRequestsTotal, mc.httpRequestDuration,
		mc.runsTotal, mc.runDuration, mc.jobsTotal, mc.findingsTotal,
		mc.deliveries, mc.truncations, mc.lastRun, mc.runActive, info,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return mc
}

// Registry returns the underlying registry.
func (mc *MetricsCollector) Registry() *prometheus.Registry {
	return mc.registry
}

// RunStarted marks a run as in progress.
func (mc *MetricsCollector) RunStarted() {
	mc.runActive.Set(1)
}

// RecordRun folds a finished run summary into the counters.
func (mc *MetricsCollector) RecordRun(s model.RunSummary) {
	mc.runActive.Set(0)

	result := "ok"
	switch {
	case s.Error != "":
		result = "error"
	case s.JobsFailed > 0:
		result = "partial"
	}
	mc.runsTotal.WithLabelValues(s.Trigger, result).Inc()
	if !s.FinishedAt.IsZero() {
		mc.runDuration.Observe(s.FinishedAt.Sub(s.StartedAt).Seconds())
		mc.lastRun.Set(float64(s.FinishedAt.Unix()))
	}

	for _, j := range s.Jobs {
		stage, kind := "", ""
		if j.Failure != nil {
			stage, kind = string(j.Failure.Stage), j.Failure.Kind
		}
		mc.jobsTotal.WithLabelValues(string(j.State), stage, kind).Inc()
		mc.findingsTotal.WithLabelValues("surfaced").Add(float64(j.Findings))
		mc.findingsTotal.WithLabelValues("suppressed").Add(float64(j.Suppressed))
		mc.findingsTotal.WithLabelValues("dropped").Add(float64(j.DroppedFindings))
	}
	mc.deliveries.WithLabelValues(string(model.OutcomeDelivered)).Add(float64(s.NotificationsSent))
	mc.deliveries.WithLabelValues(string(model.OutcomeUndeliverable)).Add(float64(s.Undeliverable))
	mc.deliveries.WithLabelValues(string(model.OutcomeFailed)).Add(float64(s.DeliveryFailures))
	mc.truncations.Add(float64(s.Truncations))
}

// MetricsMiddleware returns middleware that collects HTTP metrics
func (mc *MetricsCollector) MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unknown"
		}
		status := strconv.Itoa(c.Writer.Status())
		mc.httpRequestsTotal.WithLabelValues(c.Request.Method, endpoint, status).Inc()
		mc.httpRequestDuration.WithLabelValues(c.Request.Method, endpoint).Observe(time.Since(start).Seconds())
	}
}

// Handler returns the Prometheus metrics HTTP handler
func (mc *MetricsCollector) Handler() gin.HandlerFunc {
	handler := promhttp.HandlerFor(mc.registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		handler.ServeHTTP(c.Writer, c.Request)
	}
}
