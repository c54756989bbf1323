// Package telemetry owns the process metrics registry and tracer setup.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector the service exports. A nil *Metrics is
// valid and records nothing, so components can be built without it in tests.
type Metrics struct {
	reg *prometheus.Registry

	backfillTicks     *prometheus.CounterVec
	backfillPersisted prometheus.Counter
	backfillQueue     prometheus.Gauge
	liveEvents        *prometheus.CounterVec
	dispatchSeq       prometheus.Gauge
	dispatchBuffered  prometheus.Gauge
	subscribers       prometheus.Gauge
	webhooks          *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		backfillTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kaenbyou",
			Subsystem: "backfill",
			Name:      "ticks_total",
			Help:      "Backfill worker ticks by outcome.",
		}, []string{"outcome"}),
		backfillPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kaenbyou",
			Subsystem: "backfill",
			Name:      "messages_persisted_total",
			Help:      "Messages written by backfill pages.",
		}),
		backfillQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kaenbyou",
			Subsystem: "backfill",
			Name:      "queue_length",
			Help:      "Pending backfill tasks.",
		}),
		liveEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kaenbyou",
			Subsystem: "ingest",
			Name:      "events_total",
			Help:      "Live message events by kind and result.",
		}, []string{"kind", "result"}),
		dispatchSeq: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kaenbyou",
			Subsystem: "dispatch",
			Name:      "sequence",
			Help:      "Last assigned event sequence.",
		}),
		dispatchBuffered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kaenbyou",
			Subsystem: "dispatch",
			Name:      "buffered_events",
			Help:      "Events retained for resume.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kaenbyou",
			Subsystem: "dispatch",
			Name:      "subscribers",
			Help:      "Streaming WebSocket subscribers.",
		}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kaenbyou",
			Subsystem: "dispatch",
			Name:      "webhook_deliveries_total",
			Help:      "Webhook POSTs by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.backfillTicks,
		m.backfillPersisted,
		m.backfillQueue,
		m.liveEvents,
		m.dispatchSeq,
		m.dispatchBuffered,
		m.subscribers,
		m.webhooks,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) BackfillTick(outcome string) {
	if m == nil {
		return
	}
	m.backfillTicks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) BackfillPersisted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.backfillPersisted.Add(float64(n))
}

func (m *Metrics) BackfillQueue(n int) {
	if m == nil {
		return
	}
	m.backfillQueue.Set(float64(n))
}

func (m *Metrics) LiveEvent(kind, result string) {
	if m == nil {
		return
	}
	m.liveEvents.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) Dispatched(seq int64, buffered int) {
	if m == nil {
		return
	}
	m.dispatchSeq.Set(float64(seq))
	m.dispatchBuffered.Set(float64(buffered))
}

func (m *Metrics) Subscribers(n int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(n))
}

func (m *Metrics) Webhook(result string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(result).Inc()
}
