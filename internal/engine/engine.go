// Package engine is the execution driver: it runs one flow from input to
// terminal outcome, reporting progress through a Notifier. The driver never
// knows whether anyone is watching; the notifier decides what emission
// costs.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/voxflow/voxflow/internal/broker"
	"github.com/voxflow/voxflow/internal/event"
	"github.com/voxflow/voxflow/internal/history"
	"github.com/voxflow/voxflow/internal/metrics"
)

// Notifier receives the driver's progress callbacks. broker.Manager is the
// production implementation.
type Notifier interface {
	NotifyProgress(executionID string, kind event.Kind, payload event.Payload)
	NotifyTerminal(executionID string, outcome broker.Outcome)
}

// RunRequest describes one execution of a flow.
type RunRequest struct {
	ExecutionID string
	FlowID      string
	// SessionID carries conversational continuity; empty for one-shot runs.
	SessionID string
	Input     string
	Model     string
	Engine    string
}

// Result is the terminal output of a successful run.
type Result struct {
	Text       string
	DurationMs float64
}

// Config wires a Runner.
type Config struct {
	LLM          *LLMRouter
	History      history.Store
	Notifier     Notifier
	SystemPrompt string
	// MaxConcurrent bounds simultaneous executions; <=0 means 50.
	MaxConcurrent int
	// HistoryDepth is how many prior turns are folded into the prompt.
	HistoryDepth int
}

// Runner executes flows as a staged input → model → output pipeline.
type Runner struct {
	cfg Config
	sem chan struct{}
}

// NewRunner creates a runner with admission control.
func NewRunner(cfg Config) *Runner {
	maxConc := cfg.MaxConcurrent
	if maxConc <= 0 {
		maxConc = 50
	}
	if cfg.HistoryDepth <= 0 {
		cfg.HistoryDepth = 20
	}
	return &Runner{cfg: cfg, sem: make(chan struct{}, maxConc)}
}

// Start launches the run asynchronously and reports its terminal outcome
// through the notifier. This is the 202-accepted path.
func (r *Runner) Start(req RunRequest) {
	go func() {
		res, err := r.Run(context.Background(), req, nil)
		if err != nil {
			slog.Error("run failed", "execution_id", req.ExecutionID, "flow_id", req.FlowID, "error", err)
			r.cfg.Notifier.NotifyTerminal(req.ExecutionID, broker.Outcome{Err: err})
			return
		}
		r.cfg.Notifier.NotifyTerminal(req.ExecutionID, broker.Outcome{
			OutputRef: req.ExecutionID,
			Result:    map[string]any{"text": res.Text, "duration_ms": res.DurationMs},
		})
	}()
}

// Run executes one flow synchronously. onToken, when non-nil, receives
// streamed model tokens (the voice path uses this for sentence-level
// synthesis). The terminal outcome is returned, not notified; Start and the
// voice controller handle their own terminal paths.
func (r *Runner) Run(ctx context.Context, req RunRequest, onToken TokenCallback) (*Result, error) {
	select {
	case r.sem <- struct{}{}:
		defer func() { <-r.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	metrics.RunsActive.Inc()
	defer metrics.RunsActive.Dec()

	start := time.Now()
	n := r.cfg.Notifier

	n.NotifyProgress(req.ExecutionID, event.KindVertexStart, event.VertexStart{VertexID: "input", Label: "Chat Input"})
	prompt := r.composePrompt(ctx, req)
	n.NotifyProgress(req.ExecutionID, event.KindVertexEnd, event.VertexEnd{VertexID: "input"})

	n.NotifyProgress(req.ExecutionID, event.KindVertexStart, event.VertexStart{VertexID: "model", Label: "Language Model"})
	modelStart := time.Now()
	llmRes, err := r.cfg.LLM.Chat(ctx, prompt, r.cfg.SystemPrompt, req.Model, req.Engine, onToken)
	if err != nil {
		return nil, fmt.Errorf("model: %w", err)
	}
	n.NotifyProgress(req.ExecutionID, event.KindVertexEnd, event.VertexEnd{
		VertexID:   "model",
		DurationMs: float64(time.Since(modelStart).Milliseconds()),
	})

	n.NotifyProgress(req.ExecutionID, event.KindProgress, event.Progress{
		Stage: "output",
		Data:  map[string]any{"chars": len(llmRes.Text)},
	})

	r.recordTurn(req, llmRes.Text)

	return &Result{
		Text:       llmRes.Text,
		DurationMs: float64(time.Since(start).Milliseconds()),
	}, nil
}

// composePrompt folds the session's recent transcript into the model input
// so conversational memory persists across turns. History read failures are
// logged, never fatal.
func (r *Runner) composePrompt(ctx context.Context, req RunRequest) string {
	if req.SessionID == "" || r.cfg.History == nil {
		return req.Input
	}
	turns, err := r.cfg.History.Recent(ctx, req.SessionID, r.cfg.HistoryDepth)
	if err != nil {
		slog.Warn("history read failed", "session_id", req.SessionID, "error", err)
		return req.Input
	}
	if len(turns) == 0 {
		return req.Input
	}

	var b strings.Builder
	for _, t := range turns {
		role := "User"
		if t.Role == "assistant" {
			role = "Assistant"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, t.Content)
	}
	fmt.Fprintf(&b, "User: %s", req.Input)
	return b.String()
}

// recordTurn appends the exchange to the session transcript in the
// background; persistence latency stays off the response path.
func (r *Runner) recordTurn(req RunRequest, response string) {
	if req.SessionID == "" || r.cfg.History == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.cfg.History.Append(ctx, req.SessionID, "user", req.Input); err != nil {
			slog.Error("history append", "session_id", req.SessionID, "error", err)
			return
		}
		if err := r.cfg.History.Append(ctx, req.SessionID, "assistant", response); err != nil {
			slog.Error("history append", "session_id", req.SessionID, "error", err)
		}
	}()
}
