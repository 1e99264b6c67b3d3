package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	registry           *prometheus.Registry
	registryOnce       sync.Once
	defaultMetricsPath = "/metrics"
	metricsEnabled     = true

	// Call session metrics
	SessionsActive  prometheus.Gauge
	SessionsStarted prometheus.Counter
	SessionsEnded   *prometheus.CounterVec
	CallDuration    prometheus.Histogram

	// Audio and transcript metrics
	AudioFramesReceived *prometheus.CounterVec
	AudioFramesDropped  *prometheus.CounterVec
	TranscriptSegments  *prometheus.CounterVec

	// Coaching metrics
	SuggestionsGenerated *prometheus.CounterVec
	SentimentSamples     prometheus.Counter
	ReasoningLatency     *prometheus.HistogramVec
	ReasoningErrors      *prometheus.CounterVec

	// Client connection metrics
	WebsocketClientsActive prometheus.Gauge

	// Persistence metrics
	DatabaseQueryErrors *prometheus.CounterVec

	// AMQP metrics
	AMQPPublishedMessages *prometheus.CounterVec
	AMQPConnectionErrors  *prometheus.CounterVec
	AMQPReconnectAttempts *prometheus.CounterVec
	AMQPConnectionStatus  prometheus.Gauge
)

// Init initializes all metrics and registers them with Prometheus
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "salescoach_sessions_active",
			Help: "Number of live call sessions",
		})

		SessionsStarted = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "salescoach_sessions_started_total",
			Help: "Total number of call sessions started",
		})

		SessionsEnded = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "salescoach_sessions_ended_total",
				Help: "Total number of call sessions ended",
			},
			[]string{"reason"},
		)

		CallDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "salescoach_call_duration_seconds",
			Help:    "Duration of completed calls",
			Buckets: prometheus.ExponentialBuckets(30, 2, 10), // 30s to ~4h
		})

		AudioFramesReceived = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "salescoach_audio_frames_received_total",
				Help: "Total number of audio frames received from clients",
			},
			[]string{"call_id"},
		)

		AudioFramesDropped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "salescoach_audio_frames_dropped_total",
				Help: "Total number of audio frames dropped before transcription",
			},
			[]string{"call_id", "reason"},
		)

		TranscriptSegments = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "salescoach_transcript_segments_total",
				Help: "Total number of transcript segments processed",
			},
			[]string{"speaker", "final"},
		)

		SuggestionsGenerated = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "salescoach_suggestions_generated_total",
				Help: "Total number of coaching suggestions emitted",
			},
			[]string{"kind"},
		)

		SentimentSamples = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "salescoach_sentiment_samples_total",
			Help: "Total number of sentiment samples recorded",
		})

		ReasoningLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "salescoach_reasoning_latency_seconds",
				Help:    "Latency of reasoning service calls",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
			},
			[]string{"operation"},
		)

		ReasoningErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "salescoach_reasoning_errors_total",
				Help: "Total number of reasoning service failures",
			},
			[]string{"operation"},
		)

		WebsocketClientsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "salescoach_websocket_clients_active",
			Help: "Number of connected websocket clients",
		})

		DatabaseQueryErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "salescoach_database_query_errors_total",
				Help: "Total number of database query errors",
			},
			[]string{"operation"},
		)

		AMQPPublishedMessages = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "salescoach_amqp_published_messages_total",
				Help: "Total number of call events published to AMQP",
			},
			[]string{"event_type"},
		)

		AMQPConnectionErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "salescoach_amqp_connection_errors_total",
				Help: "Total number of AMQP connection errors",
			},
			[]string{"operation"},
		)

		AMQPReconnectAttempts = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "salescoach_amqp_reconnect_attempts_total",
				Help: "Total number of AMQP reconnection attempts",
			},
			[]string{"outcome"},
		)

		AMQPConnectionStatus = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "salescoach_amqp_connection_status",
			Help: "AMQP connection status (1 connected, 0 disconnected)",
		})

		registry.MustRegister(
			SessionsActive,
			SessionsStarted,
			SessionsEnded,
			CallDuration,
			AudioFramesReceived,
			AudioFramesDropped,
			TranscriptSegments,
			SuggestionsGenerated,
			SentimentSamples,
			ReasoningLatency,
			ReasoningErrors,
			WebsocketClientsActive,
			DatabaseQueryErrors,
			AMQPPublishedMessages,
			AMQPConnectionErrors,
			AMQPReconnectAttempts,
			AMQPConnectionStatus,
		)

		logger.Info("Prometheus metrics initialized")
	})
}

// GetRegistry returns the prometheus registry
func GetRegistry() *prometheus.Registry {
	return registry
}

// EnableMetrics enables or disables metrics collection
func EnableMetrics(enabled bool) {
	metricsEnabled = enabled
}

// IsMetricsEnabled returns whether metrics are enabled
func IsMetricsEnabled() bool {
	return metricsEnabled
}

// RegisterHandler registers the metrics HTTP handler
func RegisterHandler(mux *http.ServeMux) {
	if metricsEnabled && registry != nil {
		handler := promhttp.HandlerFor(
			registry,
			promhttp.HandlerOpts{
				EnableOpenMetrics: true,
				Registry:          registry,
			},
		)
		mux.Handle(defaultMetricsPath, handler)
	}
}

// StartMetrics initializes the metrics service
func StartMetrics(logger *logrus.Logger, enabled bool) {
	if !enabled {
		EnableMetrics(false)
		logger.Info("Metrics collection is disabled")
		return
	}

	Init(logger)
	EnableMetrics(true)
	logger.WithField("metrics_path", defaultMetricsPath).Info("Metrics endpoint initialized")
}

// RecordSessionStarted records a new live call session
func RecordSessionStarted() {
	if metricsEnabled && SessionsStarted != nil {
		SessionsStarted.Inc()
		SessionsActive.Inc()
	}
}

// RecordSessionEnded records a finished call session
func RecordSessionEnded(reason string, durationSeconds float64) {
	if metricsEnabled && SessionsEnded != nil {
		SessionsEnded.WithLabelValues(reason).Inc()
		SessionsActive.Dec()
		CallDuration.Observe(durationSeconds)
	}
}

// RecordAudioFrame records a received audio frame
func RecordAudioFrame(callID string) {
	if metricsEnabled && AudioFramesReceived != nil {
		AudioFramesReceived.WithLabelValues(callID).Inc()
	}
}

// RecordAudioFrameDropped records an audio frame dropped before transcription
func RecordAudioFrameDropped(callID, reason string) {
	if metricsEnabled && AudioFramesDropped != nil {
		AudioFramesDropped.WithLabelValues(callID, reason).Inc()
	}
}

// RecordTranscriptSegment records one processed transcript segment
func RecordTranscriptSegment(speaker string, final bool) {
	if metricsEnabled && TranscriptSegments != nil {
		finalLabel := "false"
		if final {
			finalLabel = "true"
		}
		TranscriptSegments.WithLabelValues(speaker, finalLabel).Inc()
	}
}

// RecordSuggestion records an emitted coaching suggestion
func RecordSuggestion(kind string) {
	if metricsEnabled && SuggestionsGenerated != nil {
		SuggestionsGenerated.WithLabelValues(kind).Inc()
	}
}

// RecordSentimentSample records a recorded sentiment sample
func RecordSentimentSample() {
	if metricsEnabled && SentimentSamples != nil {
		SentimentSamples.Inc()
	}
}

// RecordReasoningCall records latency of one reasoning service call
func RecordReasoningCall(operation string, seconds float64, err error) {
	if metricsEnabled && ReasoningLatency != nil {
		ReasoningLatency.WithLabelValues(operation).Observe(seconds)
		if err != nil {
			ReasoningErrors.WithLabelValues(operation).Inc()
		}
	}
}

// RecordDatabaseError records a failed database operation
func RecordDatabaseError(operation string) {
	if metricsEnabled && DatabaseQueryErrors != nil {
		DatabaseQueryErrors.WithLabelValues(operation).Inc()
	}
}

// RecordAMQPPublish records a published AMQP message
func RecordAMQPPublish(eventType string) {
	if metricsEnabled && AMQPPublishedMessages != nil {
		AMQPPublishedMessages.WithLabelValues(eventType).Inc()
	}
}

// RecordAMQPConnectionError records a failed AMQP operation
func RecordAMQPConnectionError(operation string) {
	if metricsEnabled && AMQPConnectionErrors != nil {
		AMQPConnectionErrors.WithLabelValues(operation).Inc()
	}
}

// RecordAMQPReconnect records a reconnection attempt outcome
func RecordAMQPReconnect(outcome string) {
	if metricsEnabled && AMQPReconnectAttempts != nil {
		AMQPReconnectAttempts.WithLabelValues(outcome).Inc()
	}
}

// SetAMQPConnectionStatus updates the connection status gauge
func SetAMQPConnectionStatus(connected bool) {
	if metricsEnabled && AMQPConnectionStatus != nil {
		if connected {
			AMQPConnectionStatus.Set(1)
		} else {
			AMQPConnectionStatus.Set(0)
		}
	}
}
