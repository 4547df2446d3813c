package obs

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type MetricsConfig struct {
	IdentityTopK      int
	HostTopK          int
	RecomputeInterval time.Duration
}

type Metrics struct {
	registry               *prometheus.Registry
	topk                   *TopK
	calls                  *prometheus.CounterVec
	retrieves              *prometheus.CounterVec
	fetchRequests          *prometheus.CounterVec
	fetchErrors            *prometheus.CounterVec
	fetchCoalesceBreakaway *prometheus.CounterVec
	fetchStoreFail         *prometheus.CounterVec
	fetchDuration          *prometheus.HistogramVec
	httpRequests           *prometheus.CounterVec
}

var (
	defaultMetricsMu sync.RWMutex
	defaultMetrics   *Metrics
)

func SetDefaultMetrics(metrics *Metrics) {
	defaultMetricsMu.Lock()
	defaultMetrics = metrics
	defaultMetricsMu.Unlock()
}

func DefaultMetrics() *Metrics {
	defaultMetricsMu.RLock()
	defer defaultMetricsMu.RUnlock()
	return defaultMetrics
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	registry := prometheus.NewRegistry()
	topk := NewTopK(cfg.IdentityTopK, cfg.HostTopK, cfg.RecomputeInterval)

	calls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kvcache_calls_total",
		Help: "Total invocations of counted cache operations",
	}, []string{"identity"})

	retrieves := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kvcache_retrieve_total",
		Help: "Total cache retrieve lookups",
	}, []string{"result"})

	fetchRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kvcache_fetch_requests_total",
		Help: "Total fetch cache requests",
	}, []string{"host", "status"})

	fetchErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kvcache_fetch_errors_total",
		Help: "Total external fetch failures",
	}, []string{"host", "category"})

	fetchCoalesceBreakaway := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kvcache_fetch_coalesce_breakaway_total",
		Help: "Total fetch coalesce breakaway events",
	}, []string{"host"})

	fetchStoreFail := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kvcache_fetch_store_fail_total",
		Help: "Total failures writing fetched bodies to the store",
	}, []string{"host"})

	fetchDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kvcache_fetch_duration_seconds",
		Help:    "External fetch duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"host"})

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kvcache_http_requests_total",
		Help: "Total HTTP API requests",
	}, []string{"handler", "status_class"})

	registry.MustRegister(calls, retrieves, fetchRequests, fetchErrors, fetchCoalesceBreakaway, fetchStoreFail, fetchDuration, httpRequests)

	return &Metrics{
		registry:               registry,
		topk:                   topk,
		calls:                  calls,
		retrieves:              retrieves,
		fetchRequests:          fetchRequests,
		fetchErrors:            fetchErrors,
		fetchCoalesceBreakaway: fetchCoalesceBreakaway,
		fetchStoreFail:         fetchStoreFail,
		fetchDuration:          fetchDuration,
		httpRequests:           httpRequests,
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the private registry so tests can gather values.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Close stops the top-K recompute loop.
func (m *Metrics) Close() {
	if m == nil {
		return
	}
	m.topk.Close()
}

func (m *Metrics) RecordCall(identity string) {
	if m == nil {
		return
	}
	defer func() {
		_ = recover()
	}()

	m.topk.ObserveHit(identity, "")
	canonIdentity := m.topk.CanonIdentity(identity)
	m.calls.WithLabelValues(canonIdentity).Inc()
}

func (m *Metrics) RecordRetrieve(result string) {
	if m == nil {
		return
	}
	defer func() {
		_ = recover()
	}()

	if result == "" {
		result = "unknown"
	}
	m.retrieves.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordFetchRequest(host string, status string) {
	if m == nil {
		return
	}
	defer func() {
		_ = recover()
	}()

	if status == "" {
		status = "unknown"
	}
	m.topk.ObserveHit("", host)
	canonHost := m.topk.CanonHost(host)
	m.fetchRequests.WithLabelValues(canonHost, status).Inc()
}

func (m *Metrics) RecordFetchError(host string, category string) {
	if m == nil {
		return
	}
	defer func() {
		_ = recover()
	}()

	if category == "" {
		category = "other"
	}
	canonHost := m.topk.CanonHost(host)
	m.fetchErrors.WithLabelValues(canonHost, category).Inc()
}

func (m *Metrics) ObserveFetch(host string, duration time.Duration) {
	if m == nil {
		return
	}
	defer func() {
		_ = recover()
	}()

	canonHost := m.topk.CanonHost(host)
	m.fetchDuration.WithLabelValues(canonHost).Observe(duration.Seconds())
}

func (m *Metrics) RecordFetchCoalesceBreakaway(host string) {
	if m == nil {
		return
	}
	defer func() {
		_ = recover()
	}()

	canonHost := m.topk.CanonHost(host)
	m.fetchCoalesceBreakaway.WithLabelValues(canonHost).Inc()
}

func (m *Metrics) RecordFetchStoreFail(host string) {
	if m == nil {
		return
	}
	defer func() {
		_ = recover()
	}()

	canonHost := m.topk.CanonHost(host)
	m.fetchStoreFail.WithLabelValues(canonHost).Inc()
}

func (m *Metrics) RecordHTTPRequest(handler string, status int) {
	if m == nil {
		return
	}
	defer func() {
		_ = recover()
	}()

	if handler == "" {
		handler = "unknown"
	}
	m.httpRequests.WithLabelValues(handler, statusClass(status)).Inc()
}

func statusClass(status int) string {
	if status <= 0 {
		return "unknown"
	}
	class := status / 100
	return fmt.Sprintf("%dxx", class)
}
