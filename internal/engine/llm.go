package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/voxflow/voxflow/internal/metrics"
)

// TokenCallback receives model output incrementally as it streams.
type TokenCallback func(token string)

// LLMResult carries the full response plus latency figures.
type LLMResult struct {
	Text               string
	LatencyMs          float64
	TimeToFirstTokenMs float64
}

// LLMClient is one model backend.
type LLMClient interface {
	Chat(ctx context.Context, input, systemPrompt, model string, onToken TokenCallback) (*LLMResult, error)
}

// LLMRouter dispatches to a named backend, falling back to the default when
// the requested engine is unknown or unset.
type LLMRouter struct {
	backends map[string]LLMClient
	fallback string
}

// NewLLMRouter builds a router. fallback must name a registered backend.
func NewLLMRouter(backends map[string]LLMClient, fallback string) *LLMRouter {
	return &LLMRouter{backends: backends, fallback: fallback}
}

// Engines returns the registered backend names.
func (r *LLMRouter) Engines() []string {
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	return names
}

// Chat routes the request to the chosen engine.
func (r *LLMRouter) Chat(ctx context.Context, input, systemPrompt, model, engine string, onToken TokenCallback) (*LLMResult, error) {
	backend, ok := r.backends[engine]
	if !ok {
		backend, ok = r.backends[r.fallback]
		if !ok {
			return nil, fmt.Errorf("no model backend for engine %q", engine)
		}
	}
	res, err := backend.Chat(ctx, input, systemPrompt, model, onToken)
	if err != nil {
		metrics.Errors.WithLabelValues("model", "backend").Inc()
		return nil, err
	}
	metrics.StageDuration.WithLabelValues("model").Observe(res.LatencyMs / 1000)
	return res, nil
}

// OllamaClient streams chat completions from an Ollama server. Responses
// arrive as newline-delimited JSON chunks.
type OllamaClient struct {
	baseURL string
	client  *http.Client
}

// NewOllamaClient points at an Ollama server, e.g. http://localhost:11434.
func NewOllamaClient(baseURL string, client *http.Client) *OllamaClient {
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	return &OllamaClient{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatChunk struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// Chat sends the prompt and accumulates the streamed reply.
func (c *OllamaClient) Chat(ctx context.Context, input, systemPrompt, model string, onToken TokenCallback) (*LLMResult, error) {
	reqBody := ollamaChatRequest{
		Model:  model,
		Stream: true,
		Messages: []ollamaMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: input},
		},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ollama status %d: %s", resp.StatusCode, body)
	}

	var full strings.Builder
	var firstToken time.Duration
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var chunk ollamaChatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return nil, fmt.Errorf("decode chunk: %w", err)
		}
		if chunk.Message.Content != "" {
			if firstToken == 0 {
				firstToken = time.Since(start)
			}
			full.WriteString(chunk.Message.Content)
			if onToken != nil {
				onToken(chunk.Message.Content)
			}
		}
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}

	return &LLMResult{
		Text:               full.String(),
		LatencyMs:          float64(time.Since(start).Milliseconds()),
		TimeToFirstTokenMs: float64(firstToken.Milliseconds()),
	}, nil
}
