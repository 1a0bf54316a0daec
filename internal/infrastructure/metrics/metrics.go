// Package metrics exposes engine counters to Prometheus.
//
// Collector implements engine.Metrics, so the same value is handed to the
// engine and to the HTTP router:
//
//	m := metrics.New(prometheus.NewRegistry())
//	eng, _ := engine.New(engine.Options{Metrics: m})
//	r.Handle("/metrics", m.Handler())
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricPrefix = "graylink_"

// Collector holds the link's Prometheus instruments.
//
// A nil *Collector is valid and records nothing.
type Collector struct {
	gatherer prometheus.Gatherer

	messagesReceived  *prometheus.CounterVec
	messagesMalformed *prometheus.CounterVec
	messagesDropped   *prometheus.CounterVec

	commandsSent       *prometheus.CounterVec
	commandResults     *prometheus.CounterVec
	commandLatency     *prometheus.HistogramVec
	responsesUnmatched prometheus.Counter
	pendingCommands    prometheus.Gauge

	statusUpdates  *prometheus.CounterVec
	observerErrors prometheus.Counter
}

// New creates the instruments and registers them, plus the Go runtime and
// process collectors, with reg.
func New(reg *prometheus.Registry) *Collector {
	c := &Collector{
		gatherer: reg,
		messagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "bus_messages_received_total",
				Help: "Inbound device messages by topic family",
			},
			[]string{"family"},
		),
		messagesMalformed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "bus_messages_malformed_total",
				Help: "Inbound device messages dropped as malformed, by topic family",
			},
			[]string{"family"},
		),
		messagesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "bus_messages_dropped_total",
				Help: "Inbound device messages dropped on shutdown, by topic family",
			},
			[]string{"family"},
		),
		commandsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "commands_sent_total",
				Help: "Commands registered for correlation, by command type",
			},
			[]string{"command"},
		),
		commandResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "command_results_total",
				Help: "Commands reaching a terminal status, by command type and status",
			},
			[]string{"command", "status"},
		),
		commandLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "command_latency_seconds",
				Help:    "Time from registration to terminal status",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		responsesUnmatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "responses_unmatched_total",
			Help: "Responses whose correlation ID matched no tracked command",
		}),
		pendingCommands: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "commands_pending",
			Help: "Commands awaiting a terminal response",
		}),
		statusUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "status_updates_total",
				Help: "Status cache updates by source",
			},
			[]string{"source"},
		),
		observerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "status_observer_errors_total",
			Help: "Status observers that returned an error or panicked",
		}),
	}

	reg.MustRegister(
		c.messagesReceived,
		c.messagesMalformed,
		c.messagesDropped,
		c.commandsSent,
		c.commandResults,
		c.commandLatency,
		c.responsesUnmatched,
		c.pendingCommands,
		c.statusUpdates,
		c.observerErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// MessageReceived implements devicebus.Metrics.
func (c *Collector) MessageReceived(family string) {
	if c == nil {
		return
	}
	c.messagesReceived.WithLabelValues(family).Inc()
}

// MessageMalformed implements devicebus.Metrics.
func (c *Collector) MessageMalformed(family string) {
	if c == nil {
		return
	}
	c.messagesMalformed.WithLabelValues(family).Inc()
}

// MessageDropped implements devicebus.Metrics.
func (c *Collector) MessageDropped(family string) {
	if c == nil {
		return
	}
	c.messagesDropped.WithLabelValues(family).Inc()
}

// CommandSent implements command.Metrics.
func (c *Collector) CommandSent(commandType string) {
	if c == nil {
		return
	}
	c.commandsSent.WithLabelValues(commandType).Inc()
}

// CommandResolved implements command.Metrics.
func (c *Collector) CommandResolved(commandType, status string, latency time.Duration) {
	if c == nil {
		return
	}
	c.commandResults.WithLabelValues(commandType, status).Inc()
	c.commandLatency.WithLabelValues(status).Observe(latency.Seconds())
}

// ResponseUnmatched implements command.Metrics.
func (c *Collector) ResponseUnmatched() {
	if c == nil {
		return
	}
	c.responsesUnmatched.Inc()
}

// PendingCommands implements command.Metrics.
func (c *Collector) PendingCommands(n int) {
	if c == nil {
		return
	}
	c.pendingCommands.Set(float64(n))
}

// StatusUpdated implements status.Metrics.
func (c *Collector) StatusUpdated(source string) {
	if c == nil {
		return
	}
	c.statusUpdates.WithLabelValues(source).Inc()
}

// ObserverFailed implements status.Metrics.
func (c *Collector) ObserverFailed() {
	if c == nil {
		return
	}
	c.observerErrors.Inc()
}
