package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAIClient streams chat completions through the OpenAI SDK. Works
// against api.openai.com or any compatible server via baseURL.
type OpenAIClient struct {
	client openai.Client
}

// NewOpenAIClient builds a client. baseURL is optional.
func NewOpenAIClient(apiKey, baseURL string) *OpenAIClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIClient{client: openai.NewClient(opts...)}
}

// Chat streams the completion, invoking onToken per delta.
func (c *OpenAIClient) Chat(ctx context.Context, input, systemPrompt, model string, onToken TokenCallback) (*LLMResult, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(input),
		},
	}

	start := time.Now()
	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var full strings.Builder
	var firstToken time.Duration
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		if firstToken == 0 {
			firstToken = time.Since(start)
		}
		full.WriteString(delta)
		if onToken != nil {
			onToken(delta)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai stream: %w", err)
	}

	return &LLMResult{
		Text:               full.String(),
		LatencyMs:          float64(time.Since(start).Milliseconds()),
		TimeToFirstTokenMs: float64(firstToken.Milliseconds()),
	}, nil
}
