package studio

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mostlygeek/genstudio/backend"
	"github.com/mostlygeek/genstudio/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's prometheus collectors on a private registry.
// It implements backend.Observer.
type Metrics struct {
	registry *prometheus.Registry

	DispatchTotal    *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
	PollTotal        *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		DispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "genstudio",
			Name:      "dispatch_total",
			Help:      "Vendor invocations by vendor and outcome",
		}, []string{"vendor", "outcome"}),
		DispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "genstudio",
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent in vendor invocations",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"vendor"}),
		PollTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "genstudio",
			Name:      "poll_total",
			Help:      "Status polls by vendor and resulting status",
		}, []string{"vendor", "status"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "genstudio",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code",
		}, []string{"method", "route", "code"}),
	}
	reg.MustRegister(m.DispatchTotal, m.DispatchDuration, m.PollTotal, m.HTTPRequests)
	return m
}

func (m *Metrics) ObserveDispatch(kind schema.Kind, outcome string, elapsed time.Duration) {
	m.DispatchTotal.WithLabelValues(string(kind), outcome).Inc()
	m.DispatchDuration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
}

func (m *Metrics) ObservePoll(kind schema.Kind, status backend.Status) {
	m.PollTotal.WithLabelValues(string(kind), string(status)).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// middleware counts requests by route template, not raw path, to keep
// label cardinality bounded.
func (m *Metrics) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}
