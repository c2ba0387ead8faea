// Package observability exposes Prometheus metrics and the latest health snapshot.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chat_hub"

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	Sessions       prometheus.Gauge
	OnlineUsers    prometheus.Gauge
	Channels       prometheus.Gauge
	InboundEvents  *prometheus.CounterVec
	EventDuration  *prometheus.HistogramVec
	OutboundFrames *prometheus.CounterVec
	DroppedFrames  *prometheus.CounterVec
	ProcessRSS     prometheus.Gauge
	ProcessCPU     prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_sessions", Help: "Authenticated WebSocket sessions",
		}),
		OnlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "online_users", Help: "Users with at least one live session",
		}),
		Channels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "channels", Help: "Fan-out channels with at least one subscriber",
		}),
		InboundEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "inbound_events_total", Help: "Client events handled, by event and result code",
		}, []string{"event", "code"}),
		EventDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "event_duration_seconds", Help: "Time spent handling a client event",
			Buckets: prometheus.DefBuckets,
		}, []string{"event"}),
		OutboundFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "outbound_frames_total", Help: "Frames queued to sessions, by event",
		}, []string{"event"}),
		DroppedFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "dropped_frames_total", Help: "Frames dropped under backpressure, by reason",
		}, []string{"reason"}),
		ProcessRSS: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "process_rss_bytes", Help: "Resident memory reported by the presence reporter",
		}),
		ProcessCPU: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "process_cpu_percent", Help: "CPU usage reported by the presence reporter",
		}),
	}
	m.registry.MustRegister(
		m.Sessions, m.OnlineUsers, m.Channels,
		m.InboundEvents, m.EventDuration, m.OutboundFrames, m.DroppedFrames,
		m.ProcessRSS, m.ProcessCPU,
		collectors.NewGoCollector(),
	)
	return m
}

// ObserveEvent records one handled client event.
func (m *Metrics) ObserveEvent(event, code string, started time.Time) {
	if code == "" {
		code = "ok"
	}
	m.InboundEvents.WithLabelValues(event, code).Inc()
	m.EventDuration.WithLabelValues(event).Observe(time.Since(started).Seconds())
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
