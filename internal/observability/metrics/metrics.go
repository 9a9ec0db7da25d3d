// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "interview_copilot"

// Metrics holds all Prometheus metrics for the copilot core.
type Metrics struct {
	// Session metrics
	SessionsStarted prometheus.Counter
	SessionsActive  prometheus.Gauge
	SessionDuration prometheus.Histogram
	SpeakerSwitches prometheus.Counter

	// Transcript metrics
	TranscriptsPartial prometheus.Counter
	TranscriptsFinal   prometheus.Counter
	UtterancesCreated  prometheus.Counter

	// Audio metrics
	AudioFramesSent    prometheus.Counter
	AudioBytesSent     prometheus.Counter
	AudioFramesDropped prometheus.Counter

	// STT metrics
	STTErrors *prometheus.CounterVec

	// Answer pipeline metrics
	AnswersSubmitted      *prometheus.CounterVec
	AnswerStreamDuration  prometheus.Histogram
	AnswerDeltasReceived  prometheus.Counter
	AnswerLinesMalformed  prometheus.Counter
	CacheHits             prometheus.Counter
	CacheMisses           prometheus.Counter
	CacheEvictions        prometheus.Counter

	// Message channel metrics
	ChannelReconnects   prometheus.Counter
	ChannelGaveUp       prometheus.Counter
	ChannelSendsDropped prometheus.Counter
	ChannelMessagesIn   *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of recording sessions started",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active recording sessions",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of recording sessions in seconds",
			Buckets:   []float64{10, 30, 60, 300, 600, 1800, 3600, 7200},
		}),
		SpeakerSwitches: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speaker_switches_total",
			Help:      "Total number of manual speaker toggles",
		}),

		TranscriptsPartial: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_partial_total",
			Help:      "Total number of interim transcript fragments received",
		}),
		TranscriptsFinal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_final_total",
			Help:      "Total number of final transcript fragments received",
		}),
		UtterancesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_created_total",
			Help:      "Total number of utterances started",
		}),

		AudioFramesSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_sent_total",
			Help:      "Total audio frames sent to the transcription backend",
		}),
		AudioBytesSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_sent_total",
			Help:      "Total audio bytes sent to the transcription backend",
		}),
		AudioFramesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_dropped_total",
			Help:      "Audio frames dropped because the transcription socket was not open",
		}),

		STTErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_errors_total",
			Help:      "Total number of STT provider errors",
		}, []string{"provider"}),

		AnswersSubmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answers_submitted_total",
			Help:      "Total number of answer submissions by outcome",
		}, []string{"outcome"}),
		AnswerStreamDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "answer_stream_duration_seconds",
			Help:      "Duration of streamed answer requests in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		AnswerDeltasReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answer_deltas_received_total",
			Help:      "Total number of streamed answer deltas received",
		}),
		AnswerLinesMalformed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answer_lines_malformed_total",
			Help:      "Total number of malformed stream lines skipped",
		}),
		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answer_cache_hits_total",
			Help:      "Total number of answer cache hits",
		}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answer_cache_misses_total",
			Help:      "Total number of answer cache misses",
		}),
		CacheEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answer_cache_evictions_total",
			Help:      "Total number of expired cache entries evicted",
		}),

		ChannelReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_reconnect_attempts_total",
			Help:      "Total number of message channel reconnect attempts",
		}),
		ChannelGaveUp: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_gave_up_total",
			Help:      "Times the message channel exhausted its reconnect attempts",
		}),
		ChannelSendsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_sends_dropped_total",
			Help:      "Messages dropped because the channel was not open",
		}),
		ChannelMessagesIn: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_messages_in_total",
			Help:      "Inbound message channel messages by type",
		}, []string{"type"}),

		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
	}
}

// RecordSessionStart records a session start.
func (m *Metrics) RecordSessionStart() {
	m.SessionsStarted.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session end with its duration.
func (m *Metrics) RecordSessionEnd(duration time.Duration) {
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(duration.Seconds())
}

// RecordAudioFrame records an audio frame sent to the transcription backend.
func (m *Metrics) RecordAudioFrame(bytes int) {
	m.AudioFramesSent.Inc()
	m.AudioBytesSent.Add(float64(bytes))
}

// RecordAnswer records an answer submission outcome: cache, stream, error,
// or suppressed.
func (m *Metrics) RecordAnswer(outcome string) {
	m.AnswersSubmitted.WithLabelValues(outcome).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, seconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(seconds)
}
