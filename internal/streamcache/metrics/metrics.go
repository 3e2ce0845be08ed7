package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the service's prometheus collectors. A nil *Metrics is
// valid and turns every record call into a no-op, which keeps tests and
// embedded uses free of a registry.
type Metrics struct {
	ActiveConnections prometheus.Gauge
	StreamsCreated    prometheus.Counter
	StreamsFinalized  prometheus.Counter
	StreamsEvicted    prometheus.Counter
	BytesUploaded     prometheus.Counter
	BytesDownloaded   prometheus.Counter
	ProtocolErrors    prometheus.Counter
}

// New creates the collector set and registers it with reg.
func New(reg prometheus.Registerer, activeStreams func() float64) *Metrics {
	m := &Metrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamcache_active_connections",
			Help: "Number of currently open websocket connections.",
		}),
		StreamsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamcache_streams_created_total",
			Help: "Streams created by START messages.",
		}),
		StreamsFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamcache_streams_finalized_total",
			Help: "Streams finalized by STOP messages.",
		}),
		StreamsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamcache_streams_evicted_total",
			Help: "Streams removed by idle eviction.",
		}),
		BytesUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamcache_bytes_uploaded_total",
			Help: "Payload bytes appended to streams.",
		}),
		BytesDownloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamcache_bytes_downloaded_total",
			Help: "Payload bytes served by GET requests.",
		}),
		ProtocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamcache_protocol_errors_total",
			Help: "ERROR responses sent to clients.",
		}),
	}

	reg.MustRegister(
		m.ActiveConnections,
		m.StreamsCreated,
		m.StreamsFinalized,
		m.StreamsEvicted,
		m.BytesUploaded,
		m.BytesDownloaded,
		m.ProtocolErrors,
	)

	if activeStreams != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "streamcache_active_streams",
			Help: "Number of streams currently registered.",
		}, activeStreams))
	}

	return m
}

// ConnectionOpened records a new websocket connection.
func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.ActiveConnections.Inc()
	}
}

// ConnectionClosed records a websocket connection going away.
func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.ActiveConnections.Dec()
	}
}

// StreamCreated records a successful START.
func (m *Metrics) StreamCreated() {
	if m != nil {
		m.StreamsCreated.Inc()
	}
}

// StreamFinalized records a successful STOP.
func (m *Metrics) StreamFinalized() {
	if m != nil {
		m.StreamsFinalized.Inc()
	}
}

// StreamsEvictedBy records idle evictions.
func (m *Metrics) StreamsEvictedBy(n int) {
	if m != nil && n > 0 {
		m.StreamsEvicted.Add(float64(n))
	}
}

// Uploaded records appended payload bytes.
func (m *Metrics) Uploaded(n int) {
	if m != nil {
		m.BytesUploaded.Add(float64(n))
	}
}

// Downloaded records served payload bytes.
func (m *Metrics) Downloaded(n int) {
	if m != nil {
		m.BytesDownloaded.Add(float64(n))
	}
}

// ErrorSent records an ERROR response.
func (m *Metrics) ErrorSent() {
	if m != nil {
		m.ProtocolErrors.Inc()
	}
}
