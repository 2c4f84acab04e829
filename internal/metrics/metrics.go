package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "emocall_sessions_active",
		Help: "Currently recording call sessions",
	})

	SessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "emocall_sessions_total",
		Help: "Total call sessions started",
	})

	ChunksSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "emocall_audio_chunks_sent_total",
		Help: "Audio chunks handed to the classifier socket",
	})

	ChunksDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "emocall_audio_chunks_dropped_total",
		Help: "Audio chunks dropped before transmission",
	}, []string{"reason"})

	FramesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "emocall_emotion_frames_received_total",
		Help: "Emotion frames delivered to the handler",
	})

	FramesMalformed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "emocall_emotion_frames_malformed_total",
		Help: "Inbound frames dropped by decoding or validation",
	})

	EmotionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "emocall_emotions_total",
		Help: "Accepted emotion events by label",
	}, []string{"emotion"})

	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "emocall_socket_reconnects_total",
		Help: "Classifier socket reconnection attempts",
	})

	SocketOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "emocall_socket_open",
		Help: "1 while the classifier socket is connected",
	})

	PersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "emocall_persist_failures_total",
		Help: "Finished calls that could not be saved",
	})

	InsightFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "emocall_insight_fallbacks_total",
		Help: "Insight requests answered with the fallback set",
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "emocall_stage_duration_seconds",
		Help:    "Per-stage latency",
		Buckets: []float64{0.01, 0.05, 0.1, 0.2, 0.5, 1.0, 2.0, 5.0, 10.0},
	}, []string{"stage"})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "emocall_errors_total",
		Help: "Error counts by stage",
	}, []string{"stage", "error_type"})
)
