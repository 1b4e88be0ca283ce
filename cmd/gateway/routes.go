package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxflow/voxflow/internal/engine"
	"github.com/voxflow/voxflow/internal/history"
	"github.com/voxflow/voxflow/internal/synth"
)

// defaultMessageLimit is how many transcript turns are returned when the
// caller omits the ?limit= query parameter.
const defaultMessageLimit = 50

type deps struct {
	cfg          config
	runner       *engine.Runner
	llmRouter    *engine.LLMRouter
	ttsRouter    *synth.Router
	store        history.Store
	sseHandler   http.Handler
	voiceHandler http.Handler
}

// registerRoutes wires all HTTP endpoints to the shared mux.
func registerRoutes(mux *http.ServeMux, d deps) {
	mux.Handle("/ws/voice", d.voiceHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", handleHealth)
	mux.HandleFunc("POST /api/flows/{flowID}/run", d.handleRun)
	mux.Handle("GET /api/runs/{executionID}/events", d.sseHandler)
	mux.HandleFunc("GET /api/sessions/{sessionID}/messages", d.handleMessages)
	mux.HandleFunc("GET /api/engines", d.handleEngines)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleRun accepts a flow execution and returns immediately; progress is
// observable on the events stream.
func (d deps) handleRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Input     string `json:"input"`
		SessionID string `json:"session_id"`
		Model     string `json:"model"`
		Engine    string `json:"engine"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.Input == "" {
		http.Error(w, "input required", http.StatusBadRequest)
		return
	}
	if req.Model == "" {
		req.Model = d.cfg.defaultModel
	}

	executionID := uuid.NewString()
	d.runner.Start(engine.RunRequest{
		ExecutionID: executionID,
		FlowID:      r.PathValue("flowID"),
		SessionID:   req.SessionID,
		Input:       req.Input,
		Model:       req.Model,
		Engine:      req.Engine,
	})
	slog.Info("run accepted", "execution_id", executionID, "flow_id", r.PathValue("flowID"))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"execution_id": executionID})
}

func (d deps) handleMessages(w http.ResponseWriter, r *http.Request) {
	limit := defaultMessageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	turns, err := d.store.Recent(r.Context(), r.PathValue("sessionID"), limit)
	if err != nil {
		slog.Error("read messages", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"messages": turns})
}

func (d deps) handleEngines(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"llm": map[string]any{
			"engines": d.llmRouter.Engines(),
			"default": d.cfg.defaultModel,
		},
		"tts": map[string]any{
			"engines": d.ttsRouter.Engines(),
		},
	})
}
