package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pulsechat"

// Metrics holds every collector the server exports. Each instance owns its
// registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	Connections  prometheus.Gauge
	PushSent     *prometheus.CounterVec
	PushDropped  *prometheus.CounterVec
	Evictions    prometheus.Counter
	TypingDenied prometheus.Counter

	EventsPublished *prometheus.CounterVec
	MediaUploaded   prometheus.Counter
	MediaBytes      prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "connections",
			Help: "Live realtime connections on this instance.",
		}),
		PushSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "push_sent_total",
			Help: "Events queued to a connection.",
		}, []string{"event"}),
		PushDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "push_dropped_total",
			Help: "Events that could not be delivered.",
		}, []string{"event", "reason"}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "evictions_total",
			Help: "Connections closed because their send buffer was full.",
		}),
		TypingDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "typing_rate_limited_total",
			Help: "Typing events dropped by the per-connection limiter.",
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "events", Name: "published_total",
			Help: "Lifecycle events handed to the event stream.",
		}, []string{"event", "result"}),
		MediaUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "media", Name: "uploads_total",
			Help: "Stored media objects.",
		}),
		MediaBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "media", Name: "upload_bytes_total",
			Help: "Bytes written to the media store.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequests, m.HTTPDuration,
		m.Connections, m.PushSent, m.PushDropped, m.Evictions, m.TypingDenied,
		m.EventsPublished, m.MediaUploaded, m.MediaBytes,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
