package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/verawat1234/tchat-sub013/internal/core/domain"
)

// PrometheusCollector holds every metric the service exports. All methods
// are safe on a nil receiver so components can run without metrics.
type PrometheusCollector struct {
	signalConnections prometheus.Gauge
	signalMessages    *prometheus.CounterVec
	signalDropped     *prometheus.CounterVec
	roomsActive       prometheus.Gauge
	streamViewers     *prometheus.GaugeVec

	peerSessions      prometheus.Gauge
	peerSessionSetup  prometheus.Histogram
	layerSwitches     *prometheus.CounterVec
	streamBandwidth   *prometheus.GaugeVec
	streamActiveLayer *prometheus.GaugeVec

	placements       *prometheus.CounterVec
	clusterHeartbeat prometheus.Counter

	recordings     *prometheus.CounterVec
	uploadDuration prometheus.Histogram
	uploadedBytes  prometheus.Counter

	kycTerminations *prometheus.CounterVec
}

// NewPrometheusCollector registers metrics on reg, or the default registry
// when reg is nil.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &PrometheusCollector{
		signalConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "live_signal_connections",
			Help: "Open signaling connections",
		}),
		signalMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "live_signal_messages_total",
			Help: "Inbound signaling messages by type",
		}, []string{"type"}),
		signalDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "live_signal_messages_dropped_total",
			Help: "Outbound messages dropped because a client queue was full",
		}, []string{"type"}),
		roomsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "live_rooms_active",
			Help: "Rooms with at least one member on this server",
		}),
		streamViewers: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "live_stream_viewers",
			Help: "Viewers per stream as last seen by this server",
		}, []string{"stream_id"}),

		peerSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "live_peer_sessions",
			Help: "Open media peer sessions",
		}),
		peerSessionSetup: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "live_peer_session_setup_seconds",
			Help:    "Time to answer an offer",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
		layerSwitches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "live_layer_switches_total",
			Help: "Simulcast layer changes",
		}, []string{"reason"}),
		streamBandwidth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "live_stream_bandwidth_kbps",
			Help: "Smoothed bandwidth estimate per stream",
		}, []string{"stream_id"}),
		streamActiveLayer: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "live_stream_active_layer",
			Help: "Active simulcast layer index per stream",
		}, []string{"stream_id"}),

		placements: f.NewCounterVec(prometheus.CounterOpts{
			Name: "live_cluster_placements_total",
			Help: "Server selections by outcome",
		}, []string{"result"}),
		clusterHeartbeat: f.NewCounter(prometheus.CounterOpts{
			Name: "live_cluster_heartbeats_total",
			Help: "Heartbeats published by this server",
		}),

		recordings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "live_recordings_total",
			Help: "Recording sessions by final status",
		}, []string{"status"}),
		uploadDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "live_recording_upload_seconds",
			Help:    "Time to upload a finished recording",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		uploadedBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "live_recording_uploaded_bytes_total",
			Help: "Bytes uploaded to object storage",
		}),

		kycTerminations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "live_kyc_terminations_total",
			Help: "Streams terminated by eligibility revalidation",
		}, []string{"stream_type"}),
	}
}

func (p *PrometheusCollector) RecordClientConnected() {
	if p == nil {
		return
	}
	p.signalConnections.Inc()
}

func (p *PrometheusCollector) RecordClientDisconnected() {
	if p == nil {
		return
	}
	p.signalConnections.Dec()
}

func (p *PrometheusCollector) RecordMessage(msgType string) {
	if p == nil {
		return
	}
	p.signalMessages.WithLabelValues(msgType).Inc()
}

func (p *PrometheusCollector) RecordDropped(msgType string) {
	if p == nil {
		return
	}
	p.signalDropped.WithLabelValues(msgType).Inc()
}

func (p *PrometheusCollector) SetRooms(n int) {
	if p == nil {
		return
	}
	p.roomsActive.Set(float64(n))
}

func (p *PrometheusCollector) SetViewers(streamID domain.StreamID, n int64) {
	if p == nil {
		return
	}
	p.streamViewers.WithLabelValues(string(streamID)).Set(float64(n))
}

func (p *PrometheusCollector) RecordSessionOpened(setup time.Duration) {
	if p == nil {
		return
	}
	p.peerSessions.Inc()
	p.peerSessionSetup.Observe(setup.Seconds())
}

func (p *PrometheusCollector) RecordSessionClosed() {
	if p == nil {
		return
	}
	p.peerSessions.Dec()
}

func (p *PrometheusCollector) RecordLayerSwitch(streamID domain.StreamID, reason domain.DecisionReason, layer int) {
	if p == nil {
		return
	}
	p.layerSwitches.WithLabelValues(string(reason)).Inc()
	p.streamActiveLayer.WithLabelValues(string(streamID)).Set(float64(layer))
}

func (p *PrometheusCollector) RecordBandwidth(streamID domain.StreamID, kbps float64) {
	if p == nil {
		return
	}
	p.streamBandwidth.WithLabelValues(string(streamID)).Set(kbps)
}

func (p *PrometheusCollector) RecordPlacement(result string) {
	if p == nil {
		return
	}
	p.placements.WithLabelValues(result).Inc()
}

func (p *PrometheusCollector) RecordHeartbeat() {
	if p == nil {
		return
	}
	p.clusterHeartbeat.Inc()
}

func (p *PrometheusCollector) RecordRecording(status domain.RecordingStatus) {
	if p == nil {
		return
	}
	p.recordings.WithLabelValues(string(status)).Inc()
}

func (p *PrometheusCollector) RecordUpload(d time.Duration, bytes int64) {
	if p == nil {
		return
	}
	p.uploadDuration.Observe(d.Seconds())
	p.uploadedBytes.Add(float64(bytes))
}

func (p *PrometheusCollector) RecordTermination(streamType domain.StreamType) {
	if p == nil {
		return
	}
	p.kycTerminations.WithLabelValues(string(streamType)).Inc()
}

// ForgetStream drops per-stream series once a stream ends.
func (p *PrometheusCollector) ForgetStream(streamID domain.StreamID) {
	if p == nil {
		return
	}
	p.streamViewers.DeleteLabelValues(string(streamID))
	p.streamBandwidth.DeleteLabelValues(string(streamID))
	p.streamActiveLayer.DeleteLabelValues(string(streamID))
}
