package main

import (
	"time"

	"github.com/voxflow/voxflow/internal/audio"
	"github.com/voxflow/voxflow/internal/env"
)

// defaultSystemPrompt keeps spoken replies short enough to synthesize
// sentence by sentence.
const defaultSystemPrompt = "You are a helpful voice assistant. Keep responses concise and conversational."

type config struct {
	port           string
	ollamaURL      string
	defaultModel   string
	openaiAPIKey   string
	openaiBaseURL  string
	whisperURL     string
	piperURL       string
	speechAPIURL   string
	speechAPIModel string
	databaseURL    string
	systemPrompt   string
	eventBuffer    int
	heartbeat      time.Duration
	maxRuns        int
	maxSessions    int
	frameDuration  time.Duration
	idleTimeout    time.Duration
	historyDepth   int
	asrPoolSize    int
	ttsPoolSize    int
	detector       audio.DetectorConfig
}

func loadConfig() config {
	det := audio.DefaultDetectorConfig()
	det.SpeechThresholdDB = env.Float("VAD_SPEECH_THRESHOLD_DB", det.SpeechThresholdDB)
	det.SilenceTimeout = env.Dur("VAD_SILENCE_TIMEOUT", det.SilenceTimeout)
	det.MinSpeechDuration = env.Dur("VAD_MIN_SPEECH_DURATION", det.MinSpeechDuration)

	return config{
		port:           env.Str("GATEWAY_PORT", "8000"),
		ollamaURL:      env.Str("OLLAMA_URL", "http://localhost:11434"),
		defaultModel:   env.Str("LLM_MODEL", "llama3.2:3b"),
		openaiAPIKey:   env.Str("OPENAI_API_KEY", ""),
		openaiBaseURL:  env.Str("OPENAI_BASE_URL", ""),
		whisperURL:     env.Str("WHISPER_URL", "http://localhost:8080"),
		piperURL:       env.Str("PIPER_URL", "http://localhost:5100"),
		speechAPIURL:   env.Str("SPEECH_API_URL", ""),
		speechAPIModel: env.Str("SPEECH_API_MODEL", "kokoro"),
		databaseURL:    env.Str("DATABASE_URL", ""),
		systemPrompt:   env.Str("LLM_SYSTEM_PROMPT", defaultSystemPrompt),
		eventBuffer:    env.Int("EVENT_BUFFER_SIZE", 128),
		heartbeat:      env.Dur("EVENT_HEARTBEAT", 30*time.Second),
		maxRuns:        env.Int("MAX_CONCURRENT_RUNS", 50),
		maxSessions:    env.Int("MAX_CONCURRENT_SESSIONS", 100),
		frameDuration:  env.Dur("AUDIO_FRAME_DURATION", 100*time.Millisecond),
		idleTimeout:    env.Dur("VOICE_IDLE_TIMEOUT", 5*time.Minute),
		historyDepth:   env.Int("HISTORY_DEPTH", 20),
		asrPoolSize:    env.Int("ASR_POOL_SIZE", 50),
		ttsPoolSize:    env.Int("TTS_POOL_SIZE", 50),
		detector:       det,
	}
}
