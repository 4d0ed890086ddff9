// Package metrics exposes broker instrumentation in the Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ailoop"

// Gauges are sampled at scrape time from the live broker state.
type Gauges struct {
	Connections     func() int
	PendingRequests func() int
	ActiveChannels  func() int
	QueuedMessages  func() int
}

// Metrics owns a private registry so tests can create as many as they need.
type Metrics struct {
	reg *prometheus.Registry

	messagesEnqueued *prometheus.CounterVec
	messagesEvicted  prometheus.Counter
	requestOutcomes  *prometheus.CounterVec
	requestWait      prometheus.Histogram
	viewersDropped   prometheus.Counter
	taskOps          *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
}

// New registers the broker's collectors. Nil gauge callbacks are skipped.
func New(g Gauges) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		messagesEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_enqueued_total",
			Help:      "Messages accepted into a channel queue, by content type.",
		}, []string{"content_type"}),
		messagesEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_evicted_total",
			Help:      "Messages dropped from channel history at capacity.",
		}),
		requestOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Blocking requests by outcome (answered, timeout, cancelled, discarded).",
		}, []string{"outcome"}),
		requestWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_wait_seconds",
			Help:      "Time blocking requests spent waiting for a response.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}),
		viewersDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "viewers_dropped_total",
			Help:      "Connections closed because their send queue was full.",
		}),
		taskOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_operations_total",
			Help:      "Task graph operations by kind and result.",
		}, []string{"operation", "status"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status code.",
		}, []string{"method", "code"}),
	}

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.messagesEnqueued,
		m.messagesEvicted,
		m.requestOutcomes,
		m.requestWait,
		m.viewersDropped,
		m.taskOps,
		m.httpRequests,
	)

	for name, fn := range map[string]struct {
		help string
		f    func() int
	}{
		"connections":      {"Open WebSocket connections.", g.Connections},
		"pending_requests": {"Requests waiting for a response.", g.PendingRequests},
		"active_channels":  {"Channels holding messages or subscribers.", g.ActiveChannels},
		"queued_messages":  {"Messages held across all channel histories.", g.QueuedMessages},
	} {
		if fn.f == nil {
			continue
		}
		f := fn.f
		m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      fn.help,
		}, func() float64 { return float64(f()) }))
	}
	return m
}

// Handler serves the registry at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) MessageEnqueued(contentType string) {
	m.messagesEnqueued.WithLabelValues(contentType).Inc()
}

func (m *Metrics) MessageEvicted() { m.messagesEvicted.Inc() }

func (m *Metrics) RequestOutcome(outcome string) {
	m.requestOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RequestWait(d time.Duration) { m.requestWait.Observe(d.Seconds()) }

func (m *Metrics) ViewerDropped() { m.viewersDropped.Inc() }

// TaskOp records a task graph operation; status is "ok" or "error".
func (m *Metrics) TaskOp(op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.taskOps.WithLabelValues(op, status).Inc()
}

// Instrument counts requests handled by next.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return promhttp.InstrumentHandlerCounter(m.httpRequests, next)
}
