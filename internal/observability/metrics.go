package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	VTSConnected     prometheus.Gauge
	VTSReconnects    prometheus.Counter
	VTSRequests      *prometheus.CounterVec
	AuthEvents       *prometheus.CounterVec
	QueueDepth       prometheus.Gauge
	Playing          prometheus.Gauge
	Utterances       *prometheus.CounterVec
	SynthesisLatency *prometheus.HistogramVec
	ParameterInjects prometheus.Counter
	ProviderErrors   *prometheus.CounterVec

	gatherer prometheus.Gatherer
	stages   *stageWindow
}

// NewMetrics registers instruments on reg, or on the default registry when reg is nil.
func NewMetrics(namespace string, reg *prometheus.Registry) *Metrics {
	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg != nil {
		registerer = reg
		gatherer = reg
	}
	f := promauto.With(registerer)

	return &Metrics{
		VTSConnected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "vts_connected",
			Help:      "1 while an authenticated avatar server session is open.",
		}),
		VTSReconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vts_reconnects_total",
			Help:      "Reconnect attempts against the avatar server.",
		}),
		VTSRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vts_requests_total",
			Help:      "Avatar API requests by message type and outcome.",
		}, []string{"type", "outcome"}),
		AuthEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vts_auth_events_total",
			Help:      "Authentication events by kind.",
		}, []string{"event"}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "playback_queue_depth",
			Help:      "Synthesized utterances waiting to play.",
		}),
		Playing: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "playback_active",
			Help:      "1 while an utterance is playing.",
		}),
		Utterances: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_total",
			Help:      "Utterances by final outcome.",
		}, []string{"outcome"}),
		SynthesisLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synthesis_latency_ms",
			Help:      "Text-to-speech latency in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 4000, 8000},
		}, []string{"provider"}),
		ParameterInjects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parameter_injects_total",
			Help:      "Batched parameter updates sent to the avatar.",
		}),
		ProviderErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider errors by provider and code.",
		}, []string{"provider", "code"}),
		gatherer: gatherer,
		stages:   newStageWindow(256),
	}
}

func (m *Metrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	m.VTSConnected.Set(boolGauge(connected))
}

func (m *Metrics) IncReconnect() {
	if m == nil {
		return
	}
	m.VTSReconnects.Inc()
}

func (m *Metrics) ObserveRequest(msgType, outcome string) {
	if m == nil {
		return
	}
	m.VTSRequests.WithLabelValues(msgType, outcome).Inc()
}

func (m *Metrics) ObserveAuth(event string) {
	if m == nil {
		return
	}
	m.AuthEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) SetPlaying(playing bool) {
	if m == nil {
		return
	}
	m.Playing.Set(boolGauge(playing))
}

func (m *Metrics) ObserveUtterance(outcome string) {
	if m == nil {
		return
	}
	m.Utterances.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveSynthesis(provider string, d time.Duration) {
	if m == nil {
		return
	}
	m.SynthesisLatency.WithLabelValues(provider).Observe(float64(d.Milliseconds()))
	m.stages.Observe(StageSynthesis, durationMS(d))
}

func (m *Metrics) IncInject() {
	if m == nil {
		return
	}
	m.ParameterInjects.Inc()
}

func (m *Metrics) ObserveProviderError(provider, code string) {
	if m == nil {
		return
	}
	m.ProviderErrors.WithLabelValues(provider, code).Inc()
}

// ObserveStage records one utterance stage duration in the rolling window.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stages.Observe(stage, durationMS(d))
}

func (m *Metrics) ObserveIndicator(name string) {
	if m == nil {
		return
	}
	m.stages.ObserveIndicator(name)
}

func (m *Metrics) SnapshotStages() StageSnapshot {
	if m == nil {
		return StageSnapshot{GeneratedAt: time.Now().UTC()}
	}
	return m.stages.Snapshot()
}

// Handler serves the registry these metrics were registered on.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

func durationMS(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
