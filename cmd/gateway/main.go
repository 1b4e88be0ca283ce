package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voxflow/voxflow/internal/asr"
	"github.com/voxflow/voxflow/internal/broker"
	"github.com/voxflow/voxflow/internal/engine"
	"github.com/voxflow/voxflow/internal/history"
	"github.com/voxflow/voxflow/internal/httpx"
	"github.com/voxflow/voxflow/internal/sse"
	"github.com/voxflow/voxflow/internal/synth"
	"github.com/voxflow/voxflow/internal/voice"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg := loadConfig()

	registry := broker.NewRegistry(cfg.eventBuffer)
	manager := broker.NewManager(registry, cfg.heartbeat)

	var store history.Store
	if cfg.databaseURL != "" {
		pg, err := history.Open(cfg.databaseURL)
		if err != nil {
			slog.Error("transcript store", "error", err)
			os.Exit(1)
		}
		store = pg
		slog.Info("transcript store ready", "backend", "postgres")
	} else {
		store = history.NewMemoryStore()
		slog.Info("transcript store ready", "backend", "memory")
	}

	llmBackends := map[string]engine.LLMClient{
		"ollama": engine.NewOllamaClient(cfg.ollamaURL, nil),
	}
	if cfg.openaiAPIKey != "" {
		llmBackends["openai"] = engine.NewOpenAIClient(cfg.openaiAPIKey, cfg.openaiBaseURL)
	}
	llmRouter := engine.NewLLMRouter(llmBackends, "ollama")

	runner := engine.NewRunner(engine.Config{
		LLM:           llmRouter,
		History:       store,
		Notifier:      manager,
		SystemPrompt:  cfg.systemPrompt,
		MaxConcurrent: cfg.maxRuns,
		HistoryDepth:  cfg.historyDepth,
	})

	ttsHTTP := httpx.NewPooledClient(cfg.ttsPoolSize, 30*time.Second)
	ttsBackends := map[string]synth.Synthesizer{
		"fast":    synth.NewPiperSynthesizer(cfg.piperURL, "en_US-lessac-low", ttsHTTP),
		"quality": synth.NewPiperSynthesizer(cfg.piperURL, "en_US-lessac-medium", ttsHTTP),
	}
	if cfg.speechAPIURL != "" {
		ttsBackends["speech-api"] = synth.NewSpeechAPISynthesizer(cfg.speechAPIURL, cfg.speechAPIModel, "af_heart", ttsHTTP)
	}
	ttsRouter := synth.NewRouter(ttsBackends, "fast")

	voiceHandler := voice.NewHandler(voice.HandlerConfig{
		ASR:           asr.NewWhisperClient(cfg.whisperURL, cfg.asrPoolSize),
		Runner:        runner,
		TTS:           ttsRouter,
		Detector:      cfg.detector,
		MaxSessions:   cfg.maxSessions,
		FrameDuration: cfg.frameDuration,
		IdleTimeout:   cfg.idleTimeout,
	})

	hbCtx, hbCancel := context.WithCancel(context.Background())
	go manager.RunHeartbeats(hbCtx)

	mux := http.NewServeMux()
	registerRoutes(mux, deps{
		cfg:          cfg,
		runner:       runner,
		llmRouter:    llmRouter,
		ttsRouter:    ttsRouter,
		store:        store,
		sseHandler:   sse.NewHandler(registry, cfg.heartbeat),
		voiceHandler: voiceHandler,
	})

	addr := ":" + cfg.port
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		hbCancel()
		srv.Shutdown(ctx)
		store.Close()
	}()

	slog.Info("gateway starting", "addr", addr, "max_runs", cfg.maxRuns, "max_sessions", cfg.maxSessions)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}

	slog.Info("gateway stopped")
}
