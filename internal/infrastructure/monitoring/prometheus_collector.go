package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"dualgate/internal/core/domain"
	"dualgate/internal/core/ports"
)

type PrometheusCollector struct {
	connectionsActive  *prometheus.GaugeVec
	connectionsTotal   *prometheus.CounterVec
	disconnectsTotal   *prometheus.CounterVec
	connectionLifetime prometheus.Histogram
	handshakeFailures  prometheus.Counter

	framesReceived    *prometheus.CounterVec
	bytesReceived     *prometheus.CounterVec
	framesDiscarded   *prometheus.CounterVec
	messagesEnqueued  *prometheus.CounterVec
	messagesDropped   *prometheus.CounterVec
	queueDepth        *prometheus.GaugeVec
	backpressureTotal *prometheus.CounterVec

	relaysActive  prometheus.Gauge
	relayBytes    prometheus.Counter
	relayDuration prometheus.Histogram
	noticesSent   *prometheus.CounterVec
}

var _ ports.Metrics = (*PrometheusCollector)(nil)

// NewPrometheusCollector registers every collector on reg.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)

	return &PrometheusCollector{
		connectionsActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dualgate_connections_active",
			Help: "Currently registered connections by transport",
		}, []string{"transport"}),

		connectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dualgate_connections_total",
			Help: "Connections accepted and registered by transport",
		}, []string{"transport"}),

		disconnectsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dualgate_disconnects_total",
			Help: "Connections moved to history by reason",
		}, []string{"transport", "reason"}),

		connectionLifetime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dualgate_connection_lifetime_seconds",
			Help:    "Time between registration and disconnect",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 10),
		}),

		handshakeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "dualgate_tls_handshake_failures_total",
			Help: "TLS handshakes that failed or presented an unacceptable certificate",
		}),

		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dualgate_frames_received_total",
			Help: "Frames read by transport",
		}, []string{"transport"}),

		bytesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dualgate_received_bytes_total",
			Help: "Frame payload bytes read by transport",
		}, []string{"transport"}),

		framesDiscarded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dualgate_frames_discarded_total",
			Help: "Frames consumed without being routed",
		}, []string{"reason"}),

		messagesEnqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dualgate_messages_enqueued_total",
			Help: "Messages placed on a priority queue",
		}, []string{"priority"}),

		messagesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dualgate_messages_dropped_total",
			Help: "Messages shed under load",
		}, []string{"priority"}),

		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dualgate_queue_depth",
			Help: "Messages waiting in each priority queue",
		}, []string{"priority"}),

		backpressureTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dualgate_backpressure_events_total",
			Help: "Times reading was paused because a queue was saturated",
		}, []string{"priority"}),

		relaysActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dualgate_relays_active",
			Help: "Direct relay sessions in progress",
		}),

		relayBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "dualgate_relay_bytes_total",
			Help: "Bytes copied by direct relays in both directions",
		}),

		relayDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dualgate_relay_duration_seconds",
			Help:    "Lifetime of direct relay sessions",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),

		noticesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dualgate_notices_total",
			Help: "Outbound notices by outcome",
		}, []string{"outcome"}),
	}
}

func (p *PrometheusCollector) ConnectionOpened(kind domain.TransportKind) {
	p.connectionsActive.WithLabelValues(kind.String()).Inc()
	p.connectionsTotal.WithLabelValues(kind.String()).Inc()
}

func (p *PrometheusCollector) ConnectionClosed(kind domain.TransportKind, reason domain.DisconnectReason, lifetime time.Duration) {
	p.connectionsActive.WithLabelValues(kind.String()).Dec()
	p.disconnectsTotal.WithLabelValues(kind.String(), string(reason)).Inc()
	p.connectionLifetime.Observe(lifetime.Seconds())
}

func (p *PrometheusCollector) HandshakeFailed() {
	p.handshakeFailures.Inc()
}

func (p *PrometheusCollector) FrameReceived(kind domain.TransportKind, bytes int) {
	p.framesReceived.WithLabelValues(kind.String()).Inc()
	p.bytesReceived.WithLabelValues(kind.String()).Add(float64(bytes))
}

func (p *PrometheusCollector) FrameDiscarded(reason string) {
	p.framesDiscarded.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) MessageEnqueued(priority domain.Priority) {
	p.messagesEnqueued.WithLabelValues(priority.String()).Inc()
}

func (p *PrometheusCollector) MessageDropped(priority domain.Priority) {
	p.messagesDropped.WithLabelValues(priority.String()).Inc()
}

func (p *PrometheusCollector) QueueDepth(priority domain.Priority, depth int) {
	p.queueDepth.WithLabelValues(priority.String()).Set(float64(depth))
}

func (p *PrometheusCollector) BackpressureEngaged(priority domain.Priority) {
	p.backpressureTotal.WithLabelValues(priority.String()).Inc()
}

func (p *PrometheusCollector) RelayStarted() {
	p.relaysActive.Inc()
}

func (p *PrometheusCollector) RelayFinished(bytes uint64, duration time.Duration) {
	p.relaysActive.Dec()
	p.relayBytes.Add(float64(bytes))
	p.relayDuration.Observe(duration.Seconds())
}

func (p *PrometheusCollector) NoticeSent(outcome string) {
	p.noticesSent.WithLabelValues(outcome).Inc()
}

// NopMetrics discards everything.
type NopMetrics struct{}

var _ ports.Metrics = NopMetrics{}

func (NopMetrics) ConnectionOpened(domain.TransportKind)                                         {}
func (NopMetrics) ConnectionClosed(domain.TransportKind, domain.DisconnectReason, time.Duration) {}
func (NopMetrics) HandshakeFailed()                                                              {}
func (NopMetrics) FrameReceived(domain.TransportKind, int)                                       {}
func (NopMetrics) FrameDiscarded(string)                                                         {}
func (NopMetrics) MessageEnqueued(domain.Priority)                                               {}
func (NopMetrics) MessageDropped(domain.Priority)                                                {}
func (NopMetrics) QueueDepth(domain.Priority, int)                                               {}
func (NopMetrics) BackpressureEngaged(domain.Priority)                                           {}
func (NopMetrics) RelayStarted()                                                                 {}
func (NopMetrics) RelayFinished(uint64, time.Duration)                                           {}
func (NopMetrics) NoticeSent(string)                                                             {}
