// Package metrics provides Prometheus metrics for the sync engine
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"LiveCanvas/internal/net"
	"LiveCanvas/internal/protocol"
	"LiveCanvas/internal/state"
)

// Metrics holds every collector of one session. It satisfies the gesture
// and connection observers.
type Metrics struct {
	registry *prometheus.Registry

	// Wire traffic
	MessagesSent     *prometheus.CounterVec
	MessagesReceived *prometheus.CounterVec
	MessagesDropped  *prometheus.CounterVec

	// Connection
	ConnectionState   prometheus.Gauge
	ReconnectAttempts prometheus.Counter
	ReconnectDelay    prometheus.Histogram
	QueueDepth        prometheus.Gauge

	// Editing
	LockConflicts    prometheus.Counter
	FrameFlushes     prometheus.Counter
	FrameShapes      prometheus.Histogram
	GestureSamples   *prometheus.CounterVec
	HistoryUndoDepth prometheus.Gauge
	HistoryRedoDepth prometheus.Gauge
}

// New creates and registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,

		MessagesSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "livecanvas_messages_sent_total",
			Help: "Messages written to the channel by type",
		}, []string{"type"}),
		MessagesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "livecanvas_messages_received_total",
			Help: "Inbound messages decoded by type",
		}, []string{"type"}),
		MessagesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "livecanvas_messages_dropped_total",
			Help: "Inbound messages dropped by reason",
		}, []string{"reason"}),

		ConnectionState: f.NewGauge(prometheus.GaugeOpts{
			Name: "livecanvas_connection_state",
			Help: "0 disconnected, 1 connecting, 2 connected, 3 reconnecting",
		}),
		ReconnectAttempts: f.NewCounter(prometheus.CounterOpts{
			Name: "livecanvas_reconnect_attempts_total",
			Help: "Reconnects scheduled",
		}),
		ReconnectDelay: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "livecanvas_reconnect_delay_seconds",
			Help:    "Delay before each scheduled reconnect",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 500ms to ~1min
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "livecanvas_operation_queue_depth",
			Help: "Intents waiting for the channel",
		}),

		LockConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "livecanvas_lock_conflicts_total",
			Help: "Local edits rejected because another actor holds the lock",
		}),
		FrameFlushes: f.NewCounter(prometheus.CounterOpts{
			Name: "livecanvas_frame_flushes_total",
			Help: "Frame callbacks that applied pending gesture samples",
		}),
		FrameShapes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "livecanvas_frame_shapes",
			Help:    "Shapes updated per frame flush",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		}),
		GestureSamples: f.NewCounterVec(prometheus.CounterOpts{
			Name: "livecanvas_gesture_samples_total",
			Help: "Gesture samples by kind and outcome (sent or throttled)",
		}, []string{"kind", "outcome"}),
		HistoryUndoDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "livecanvas_history_undo_depth",
			Help: "Entries on the undo stack",
		}),
		HistoryRedoDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "livecanvas_history_redo_depth",
			Help: "Entries on the redo stack",
		}),
	}
}

// Registry exposes the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) StateChanged(s net.State) { m.ConnectionState.Set(float64(s)) }

func (m *Metrics) MessageSent(t protocol.Type) { m.MessagesSent.WithLabelValues(string(t)).Inc() }

func (m *Metrics) Queued(depth int) { m.QueueDepth.Set(float64(depth)) }

func (m *Metrics) ReconnectScheduled(_ int, delay time.Duration) {
	m.ReconnectAttempts.Inc()
	m.ReconnectDelay.Observe(delay.Seconds())
}

func (m *Metrics) MessageReceived(t protocol.Type) {
	m.MessagesReceived.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) MessageDropped(reason string) { m.MessagesDropped.WithLabelValues(reason).Inc() }

func (m *Metrics) LockConflict() { m.LockConflicts.Inc() }

func (m *Metrics) FrameFlushed(shapes int) {
	m.FrameFlushes.Inc()
	m.FrameShapes.Observe(float64(shapes))
}

func (m *Metrics) SampleSent(kind state.GestureKind) {
	m.GestureSamples.WithLabelValues(kind.String(), "sent").Inc()
}

func (m *Metrics) SampleThrottled(kind state.GestureKind) {
	m.GestureSamples.WithLabelValues(kind.String(), "throttled").Inc()
}

func (m *Metrics) HistoryChanged(undo, redo int) {
	m.HistoryUndoDepth.Set(float64(undo))
	m.HistoryRedoDepth.Set(float64(redo))
}
