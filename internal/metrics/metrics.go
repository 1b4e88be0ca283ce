package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_runs_active",
		Help: "Flow executions currently in flight",
	})

	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_runs_total",
		Help: "Flow executions by terminal status",
	}, []string{"status"})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_events_published_total",
		Help: "Events published into run channels, by kind",
	}, []string{"kind"})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_events_dropped_total",
		Help: "Events evicted from slow consumer buffers",
	})

	ConsumersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_consumers_active",
		Help: "Consumers currently attached to run channels",
	})

	SSEClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_sse_clients",
		Help: "Open event-stream connections",
	})

	Heartbeats = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_heartbeats_total",
		Help: "Heartbeat events published to live channels",
	})

	VoiceSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_voice_sessions_active",
		Help: "Currently open voice sessions",
	})

	VoiceSessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_voice_sessions_total",
		Help: "Total voice sessions accepted",
	})

	Interruptions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_voice_interruptions_total",
		Help: "Syntheses cancelled by a new inbound utterance",
	})

	AudioChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_audio_chunks_total",
		Help: "Inbound audio chunks received on voice sessions",
	})

	SpeechSegments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_speech_segments_total",
		Help: "Completed utterances detected by the speech boundary detector",
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_stage_duration_seconds",
		Help:    "Per-stage latency (asr, llm, tts)",
		Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1.0, 2.0, 5.0},
	}, []string{"stage"})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_errors_total",
		Help: "Error counts by stage and type",
	}, []string{"stage", "error_type"})
)
