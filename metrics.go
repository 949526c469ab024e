package jsonservice

import (
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for the call lifecycle. It is
// safe for concurrent use and every method is a no-op on a nil receiver.
type MetricsCollector struct {
	callsTotal    *prometheus.CounterVec
	callDuration  *prometheus.HistogramVec
	callsInFlight *prometheus.GaugeVec

	attemptsTotal *prometheus.CounterVec
	retriesTotal  *prometheus.CounterVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
	cacheErrors *prometheus.CounterVec

	poolSize prometheus.Gauge

	errorsTotal *prometheus.CounterVec

	registry prometheus.Registerer
}

// NewMetricsCollector creates a metrics collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using supplied registerer.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	mc := &MetricsCollector{
		callsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "jsonservice_calls_total",
				Help: "Total number of service calls completed",
			},
			[]string{"service", "outcome"},
		),
		callDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jsonservice_call_duration_seconds",
				Help:    "Duration of service calls in seconds, retries included",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service", "outcome"},
		),
		callsInFlight: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "jsonservice_calls_in_flight",
				Help: "Number of service calls currently in flight",
			},
			[]string{"service"},
		),
		attemptsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "jsonservice_attempts_total",
				Help: "Total number of transport attempts",
			},
			[]string{"service", "status_code"},
		),
		retriesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "jsonservice_retries_total",
				Help: "Total number of retries by failure class",
			},
			[]string{"service", "class"},
		),
		cacheHits: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "jsonservice_cache_hits_total",
				Help: "Total number of result cache hits",
			},
			[]string{"service"},
		),
		cacheMisses: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "jsonservice_cache_misses_total",
				Help: "Total number of result cache misses",
			},
			[]string{"service"},
		),
		cacheErrors: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "jsonservice_cache_errors_total",
				Help: "Total number of result cache store errors",
			},
			[]string{"operation"},
		),
		poolSize: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "jsonservice_pool_connections",
				Help: "Current number of pooled connections",
			},
		),
		errorsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "jsonservice_errors_total",
				Help: "Total number of failed calls by error kind",
			},
			[]string{"kind", "service"},
		),
		registry: registry,
	}

	return mc
}

// RecordCall records call count and duration.
func (mc *MetricsCollector) RecordCall(service, outcome string, duration time.Duration) {
	if mc == nil {
		return
	}

	mc.callsTotal.WithLabelValues(service, outcome).Inc()
	mc.callDuration.WithLabelValues(service, outcome).Observe(duration.Seconds())
}

// RecordCallStart increments in-flight gauge.
func (mc *MetricsCollector) RecordCallStart(service string) {
	if mc == nil {
		return
	}

	mc.callsInFlight.WithLabelValues(service).Inc()
}

// RecordCallEnd decrements in-flight gauge.
func (mc *MetricsCollector) RecordCallEnd(service string) {
	if mc == nil {
		return
	}

	mc.callsInFlight.WithLabelValues(service).Dec()
}

// RecordAttempt counts one transport attempt. statusCode is 0 when no
// response arrived.
func (mc *MetricsCollector) RecordAttempt(service string, statusCode int) {
	if mc == nil {
		return
	}

	mc.attemptsTotal.WithLabelValues(service, strconv.Itoa(statusCode)).Inc()
}

// RecordRetry increments retry counter for a failure class.
func (mc *MetricsCollector) RecordRetry(service, class string) {
	if mc == nil {
		return
	}

	mc.retriesTotal.WithLabelValues(service, class).Inc()
}

// RecordCacheHit increments cache hit counter.
func (mc *MetricsCollector) RecordCacheHit(service string) {
	if mc == nil {
		return
	}

	mc.cacheHits.WithLabelValues(service).Inc()
}

// RecordCacheMiss increments cache miss counter.
func (mc *MetricsCollector) RecordCacheMiss(service string) {
	if mc == nil {
		return
	}

	mc.cacheMisses.WithLabelValues(service).Inc()
}

// RecordCacheError increments the cache store error counter.
func (mc *MetricsCollector) RecordCacheError(operation string) {
	if mc == nil {
		return
	}

	mc.cacheErrors.WithLabelValues(operation).Inc()
}

// RecordPoolSize sets the pooled connection gauge.
func (mc *MetricsCollector) RecordPoolSize(size int) {
	if mc == nil {
		return
	}

	mc.poolSize.Set(float64(size))
}

// RecordError increments error counter by kind.
func (mc *MetricsCollector) RecordError(kind ErrorKind, service string) {
	if mc == nil {
		return
	}

	mc.errorsTotal.WithLabelValues(string(kind), service).Inc()
}

// GetRegistry exposes the underlying prometheus registerer.
func (mc *MetricsCollector) GetRegistry() prometheus.Registerer {
	if mc == nil {
		return nil
	}
	return mc.registry
}

// serviceLabel keeps metric cardinality bounded by dropping the scheme,
// query and credentials from an endpoint.
func serviceLabel(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return endpoint
	}
	return u.Host + u.Path
}
