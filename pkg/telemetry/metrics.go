package telemetry

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the process's Prometheus collectors. Unlike the cluster
// manager's pkg/metrics (which scraped node/service/task counts off a
// raft-backed store on a ticker), these are pushed synchronously by the
// components that produce the underlying events: the token bucket records
// grants/denials as they happen, and each completed request's duration is
// recorded through the endpoint's request-log hook. ActiveConnections is
// registered and exported, but nothing in this module updates it.
type Metrics struct {
	TokenBucketGrants     *prometheus.CounterVec
	TokenBucketDenials    *prometheus.CounterVec
	ActiveConnections     *prometheus.GaugeVec
	RequestDuration       *prometheus.HistogramVec
	RequestsTotal         *prometheus.CounterVec
	registry              *prometheus.Registry
}

// NewMetrics builds a fresh, independent registry. The process builds
// one and hands it to the Builder; tests can build their own without touching the global
// Prometheus default registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		TokenBucketGrants: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lactoserv_tokenbucket_grants_total",
			Help: "Total number of token grants made by named token buckets.",
		}, []string{"bucket"}),
		TokenBucketDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lactoserv_tokenbucket_denials_total",
			Help: "Total number of grant denials (too-many-waiters or shutdown) by named token buckets.",
		}, []string{"bucket", "reason"}),
		ActiveConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lactoserv_endpoint_active_connections",
			Help: "Number of currently open connections, by endpoint.",
		}, []string{"endpoint"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lactoserv_request_duration_seconds",
			Help:    "Request handling duration in seconds, by endpoint and status class.",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint", "status_class"}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lactoserv_requests_total",
			Help: "Total number of requests handled, by endpoint and status class.",
		}, []string{"endpoint", "status_class"}),
		registry: reg,
	}

	reg.MustRegister(
		m.TokenBucketGrants,
		m.TokenBucketDenials,
		m.ActiveConnections,
		m.RequestDuration,
		m.RequestsTotal,
	)
	return m
}

// BucketObserver adapts Metrics to tokenbucket.Observer, so the token
// bucket package can report grants/denials without importing
// Prometheus itself.
type BucketObserver struct {
	m *Metrics
}

// NewBucketObserver builds a tokenbucket.Observer backed by m.
func NewBucketObserver(m *Metrics) *BucketObserver {
	return &BucketObserver{m: m}
}

// ObserveGrant implements tokenbucket.Observer.
func (o *BucketObserver) ObserveGrant(bucket string, amount float64) {
	o.m.TokenBucketGrants.WithLabelValues(bucket).Add(amount)
}

// ObserveDeny implements tokenbucket.Observer.
func (o *BucketObserver) ObserveDeny(bucket string, reason string) {
	o.m.TokenBucketDenials.WithLabelValues(bucket, reason).Inc()
}

// ObserveRequest records one completed request's duration and status.
func (m *Metrics) ObserveRequest(endpoint string, statusCode int, duration time.Duration) {
	class := statusClass(statusCode)
	m.RequestDuration.WithLabelValues(endpoint, class).Observe(duration.Seconds())
	m.RequestsTotal.WithLabelValues(endpoint, class).Inc()
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "other"
	}
}

// Server is a minimal http.Server wrapper exposing the metrics registry on
// a configurable path, started/stopped like any other ambient service.
type Server struct {
	addr   string
	path   string
	srv    *http.Server
	metric *Metrics
}

// NewServer builds (but does not start) a metrics HTTP server.
func NewServer(addr, path string, m *Metrics) *Server {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	return &Server{
		addr:   addr,
		path:   path,
		metric: m,
		srv:    &http.Server{Addr: addr, Handler: mux},
	}
}

// Start begins serving in the background. It returns once the listener is
// bound; Serve errors other than a clean shutdown are reported on errCh.
func (s *Server) Start() (errCh <-chan error, err error) {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, err
	}
	ch := make(chan error, 1)
	go func() {
		if serveErr := s.srv.Serve(ln); serveErr != nil && serveErr != http.ErrServerClosed {
			ch <- serveErr
		}
		close(ch)
	}()
	return ch, nil
}

// Stop gracefully shuts the metrics server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
