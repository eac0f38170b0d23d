package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus registry and the service meters.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry            *prometheus.Registry
	OperationDuration   *prometheus.HistogramVec
	OperationTotal      *prometheus.CounterVec
	TotalWeight         prometheus.Gauge
	BlockHeight         prometheus.Gauge
	HookDeliveries      *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates a custom registry with the standard stake meters
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stake_operation_duration_seconds",
			Help:    "Duration of engine operations in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "status"}),
		OperationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stake_operation_total",
			Help: "Total number of engine operations.",
		}, []string{"operation", "status"}),
		TotalWeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stake_total_weight",
			Help: "Total voting weight of the group after the last committed call.",
		}),
		BlockHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stake_block_height",
			Help: "Block height of the last committed call.",
		}),
		HookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stake_hook_deliveries_total",
			Help: "Member changed hook deliveries by outcome.",
		}, []string{"status"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stake_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stake_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}

	reg.MustRegister(
		m.OperationDuration, m.OperationTotal, m.TotalWeight, m.BlockHeight,
		m.HookDeliveries, m.HTTPRequestsTotal, m.HTTPRequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// ObserveOperation records one engine call that started at start
func (m *Metrics) ObserveOperation(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.OperationTotal.WithLabelValues(op, status).Inc()
	m.OperationDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
}

// SetState records the state after a committed call
func (m *Metrics) SetState(height, totalWeight uint64) {
	if m == nil {
		return
	}
	m.BlockHeight.Set(float64(height))
	m.TotalWeight.Set(float64(totalWeight))
}

// ObserveHook records a hook delivery outcome
func (m *Metrics) ObserveHook(err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.HookDeliveries.WithLabelValues(status).Inc()
}

// ObserveHTTP records a served HTTP request
func (m *Metrics) ObserveHTTP(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}
