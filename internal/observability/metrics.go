// Package observability expone las métricas Prometheus del chat.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "helpdesk"
	chatSubsystem    = "chat"
)

// Transport distingue la respuesta completa del streaming.
type Transport string

const (
	TransportFull   Transport = "full"
	TransportStream Transport = "stream"
)

// ChatMetrics agrupa los colectores del motor de chat. Un *ChatMetrics nil no registra nada.
type ChatMetrics struct {
	RequestsTotal        *prometheus.CounterVec
	GuardrailBlocksTotal *prometheus.CounterVec
	BackendErrorsTotal   *prometheus.CounterVec
	PersistFailuresTotal prometheus.Counter
	FragmentsTotal       prometheus.Counter
	ActiveStreams        prometheus.Gauge
	GenerationSeconds    *prometheus.HistogramVec
}

// NewChatMetrics registra los colectores en reg.
func NewChatMetrics(reg prometheus.Registerer) *ChatMetrics {
	factory := promauto.With(reg)
	return &ChatMetrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: chatSubsystem,
			Name:      "requests_total",
			Help:      "Chat turns by transport and outcome",
		}, []string{"transport", "outcome"}),
		GuardrailBlocksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: chatSubsystem,
			Name:      "guardrail_blocks_total",
			Help:      "Outbound messages blocked by the guardrail, by reason",
		}, []string{"reason"}),
		BackendErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: chatSubsystem,
			Name:      "backend_errors_total",
			Help:      "Model backend failures surfaced as inline error text",
		}, []string{"transport"}),
		PersistFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: chatSubsystem,
			Name:      "persist_failures_total",
			Help:      "Exchanges that could not be written to the message store",
		}),
		FragmentsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: chatSubsystem,
			Name:      "stream_fragments_total",
			Help:      "Fragments relayed to streaming clients",
		}),
		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: chatSubsystem,
			Name:      "active_streams",
			Help:      "Streaming responses currently open",
		}),
		GenerationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: chatSubsystem,
			Name:      "generation_seconds",
			Help:      "Time spent waiting on the model backend",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"transport"}),
	}
}

func (m *ChatMetrics) RecordOutcome(transport Transport, outcome string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(string(transport), outcome).Inc()
}

func (m *ChatMetrics) RecordBlocked(reason string) {
	if m == nil {
		return
	}
	m.GuardrailBlocksTotal.WithLabelValues(reason).Inc()
}

func (m *ChatMetrics) RecordBackendError(transport Transport) {
	if m == nil {
		return
	}
	m.BackendErrorsTotal.WithLabelValues(string(transport)).Inc()
}

func (m *ChatMetrics) RecordPersistFailure() {
	if m == nil {
		return
	}
	m.PersistFailuresTotal.Inc()
}

func (m *ChatMetrics) RecordFragment() {
	if m == nil {
		return
	}
	m.FragmentsTotal.Inc()
}

func (m *ChatMetrics) StreamStarted() {
	if m == nil {
		return
	}
	m.ActiveStreams.Inc()
}

func (m *ChatMetrics) StreamEnded() {
	if m == nil {
		return
	}
	m.ActiveStreams.Dec()
}

func (m *ChatMetrics) ObserveGeneration(transport Transport, d time.Duration) {
	if m == nil {
		return
	}
	m.GenerationSeconds.WithLabelValues(string(transport)).Observe(d.Seconds())
}
