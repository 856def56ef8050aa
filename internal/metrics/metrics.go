package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shehryarbajwa/ai-in-one/pkg/models"
)

const namespace = "aiinone"

// Login attempt outcomes
const (
	LoginLaunched     = "launched"
	LoginRateLimited  = "rate_limited"
	LoginLaunchFailed = "launch_failed"
	LoginSynced       = "synced"
)

// Metrics holds the daemon's prometheus collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	cookieWrites    *prometheus.CounterVec
	loginAttempts   *prometheus.CounterVec
	viewsOpened     *prometheus.CounterVec
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	eventClients    prometheus.Gauge
}

// New creates a metrics collector
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		cookieWrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cookie_writes_total",
				Help:      "Cookie writes by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		loginAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "login_attempts_total",
				Help:      "External login attempts by service and outcome",
			},
			[]string{"service", "outcome"},
		),
		viewsOpened: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "views_opened_total",
				Help:      "Service views opened",
			},
			[]string{"service"},
		),
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "route"},
		),
		eventClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "event_clients",
				Help:      "Connected event stream clients",
			},
		),
	}
}

// Handler serves the registry in the prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// CookieWrites records the outcome of a batch of cookie writes
func (m *Metrics) CookieWrites(op string, written, failed int) {
	if written > 0 {
		m.cookieWrites.WithLabelValues(op, "written").Add(float64(written))
	}
	if failed > 0 {
		m.cookieWrites.WithLabelValues(op, "failed").Add(float64(failed))
	}
}

// LoginAttempt records an external login outcome
func (m *Metrics) LoginAttempt(service models.ServiceID, outcome string) {
	m.loginAttempts.WithLabelValues(string(service), outcome).Inc()
}

// ViewOpened records a service view being opened
func (m *Metrics) ViewOpened(service models.ServiceID) {
	m.viewsOpened.WithLabelValues(string(service)).Inc()
}

// ObserveRequest records one HTTP request
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// EventClientConnected and EventClientDisconnected track the event stream gauge
func (m *Metrics) EventClientConnected() { m.eventClients.Inc() }

func (m *Metrics) EventClientDisconnected() { m.eventClients.Dec() }
