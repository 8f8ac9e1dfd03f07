// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ai_voice_agent"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsTotal    prometheus.Counter
	SessionsActive   prometheus.Gauge
	SessionFailures  *prometheus.CounterVec
	SessionDuration  prometheus.Histogram
	SessionsByVendor *prometheus.CounterVec

	// Backend metrics
	BackendConnectLatency *prometheus.HistogramVec
	BackendErrors         *prometheus.CounterVec

	// Relay metrics
	TranscriptsRelayed *prometheus.CounterVec
	RelayPublishErrors *prometheus.CounterVec
	BusDropped         *prometheus.CounterVec

	// Worker metrics
	WorkerJobs         *prometheus.CounterVec
	WorkerReconnects   prometheus.Counter
	WorkerAvailability *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of voice sessions that went live",
		}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently live voice sessions",
		}),
		SessionFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_failures_total",
			Help:      "Total number of sessions that failed before going live",
		}, []string{"stage"}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of live voice sessions in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		SessionsByVendor: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_by_provider_total",
			Help:      "Total number of sessions per resolved provider",
		}, []string{"provider"}),

		BackendConnectLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_connect_latency_seconds",
			Help:      "Time to establish a realtime backend connection",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"provider"}),
		BackendErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_errors_total",
			Help:      "Total number of realtime backend errors",
		}, []string{"provider", "error_type"}),

		TranscriptsRelayed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_relayed_total",
			Help:      "Total number of transcripts published to rooms",
		}, []string{"role"}),
		RelayPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_publish_errors_total",
			Help:      "Total number of transcripts that could not be published",
		}, []string{"role", "reason"}),
		BusDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_dropped_events_total",
			Help:      "Total number of utterance events dropped by a full subscriber",
		}, []string{"channel"}),

		WorkerJobs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_jobs_total",
			Help:      "Total number of worker jobs by final status",
		}, []string{"status"}),
		WorkerReconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_reconnects_total",
			Help:      "Total number of worker reconnect attempts",
		}),
		WorkerAvailability: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_availability_total",
			Help:      "Total number of availability answers",
		}, []string{"available"}),

		KafkaPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
	}
}

// RecordSessionStart records a session going live.
func (m *Metrics) RecordSessionStart(provider string) {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
	m.SessionsByVendor.WithLabelValues(provider).Inc()
}

// RecordSessionEnd records a live session being torn down.
func (m *Metrics) RecordSessionEnd(durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordSessionFailure records a session that failed at stage.
func (m *Metrics) RecordSessionFailure(stage string) {
	m.SessionFailures.WithLabelValues(stage).Inc()
}

// RecordBackendConnect records a backend dial attempt.
func (m *Metrics) RecordBackendConnect(provider string, err error, latencySeconds float64) {
	m.BackendConnectLatency.WithLabelValues(provider).Observe(latencySeconds)
	if err != nil {
		m.BackendErrors.WithLabelValues(provider, "connect").Inc()
	}
}

// RecordBackendError records a backend failure outside of dialing.
func (m *Metrics) RecordBackendError(provider, errorType string) {
	m.BackendErrors.WithLabelValues(provider, errorType).Inc()
}

// RecordTranscriptRelayed records a transcript published to a room.
func (m *Metrics) RecordTranscriptRelayed(role string) {
	m.TranscriptsRelayed.WithLabelValues(role).Inc()
}

// RecordRelayError records a transcript that was not published.
func (m *Metrics) RecordRelayError(role, reason string) {
	m.RelayPublishErrors.WithLabelValues(role, reason).Inc()
}

// RecordBusDrop records an utterance dropped for a slow subscriber.
func (m *Metrics) RecordBusDrop(channel string) {
	m.BusDropped.WithLabelValues(channel).Inc()
}

// RecordJob records a worker job reaching its final status.
func (m *Metrics) RecordJob(status string) {
	m.WorkerJobs.WithLabelValues(status).Inc()
}

// RecordReconnect records a worker reconnect attempt.
func (m *Metrics) RecordReconnect() {
	m.WorkerReconnects.Inc()
}

// RecordAvailability records an availability answer.
func (m *Metrics) RecordAvailability(available bool) {
	label := "false"
	if available {
		label = "true"
	}
	m.WorkerAvailability.WithLabelValues(label).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}
