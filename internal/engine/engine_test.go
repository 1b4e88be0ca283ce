package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxflow/voxflow/internal/broker"
	"github.com/voxflow/voxflow/internal/event"
	"github.com/voxflow/voxflow/internal/history"
)

// fakeLLM replays a fixed response token by token.
type fakeLLM struct {
	tokens []string
	err    error

	mu      sync.Mutex
	prompts []string
}

func (f *fakeLLM) Chat(_ context.Context, input, _, _ string, onToken TokenCallback) (*LLMResult, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, input)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var full strings.Builder
	for _, tok := range f.tokens {
		full.WriteString(tok)
		if onToken != nil {
			onToken(tok)
		}
	}
	return &LLMResult{Text: full.String(), LatencyMs: 1}, nil
}

func (f *fakeLLM) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

// recordingNotifier captures driver callbacks for assertion.
type recordingNotifier struct {
	mu        sync.Mutex
	progress  []event.Kind
	vertices  []string
	terminals []broker.Outcome
}

func (n *recordingNotifier) NotifyProgress(_ string, kind event.Kind, payload event.Payload) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.progress = append(n.progress, kind)
	switch p := payload.(type) {
	case event.VertexStart:
		n.vertices = append(n.vertices, p.VertexID)
	case event.VertexEnd:
		n.vertices = append(n.vertices, p.VertexID)
	}
}

func (n *recordingNotifier) NotifyTerminal(_ string, outcome broker.Outcome) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.terminals = append(n.terminals, outcome)
}

func (n *recordingNotifier) snapshot() ([]event.Kind, []string, []broker.Outcome) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]event.Kind(nil), n.progress...),
		append([]string(nil), n.vertices...),
		append([]broker.Outcome(nil), n.terminals...)
}

func newTestRunner(llm *fakeLLM, n Notifier, store history.Store) *Runner {
	router := NewLLMRouter(map[string]LLMClient{"fake": llm}, "fake")
	return NewRunner(Config{
		LLM:          router,
		History:      store,
		Notifier:     n,
		SystemPrompt: "be brief",
	})
}

func TestRunReportsStagedProgress(t *testing.T) {
	llm := &fakeLLM{tokens: []string{"hello", " world"}}
	n := &recordingNotifier{}
	r := newTestRunner(llm, n, nil)

	res, err := r.Run(context.Background(), RunRequest{ExecutionID: "exec-1", Input: "hi"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello world", res.Text)

	kinds, vertices, _ := n.snapshot()
	assert.Equal(t, []event.Kind{
		event.KindVertexStart, event.KindVertexEnd,
		event.KindVertexStart, event.KindVertexEnd,
		event.KindProgress,
	}, kinds)
	assert.Equal(t, []string{"input", "input", "model", "model"}, vertices)
}

func TestRunStreamsTokens(t *testing.T) {
	llm := &fakeLLM{tokens: []string{"a", "b", "c"}}
	r := newTestRunner(llm, &recordingNotifier{}, nil)

	var got []string
	_, err := r.Run(context.Background(), RunRequest{ExecutionID: "exec-1", Input: "hi"}, func(tok string) {
		got = append(got, tok)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestRunWrapsModelError(t *testing.T) {
	sentinel := errors.New("backend down")
	llm := &fakeLLM{err: sentinel}
	r := newTestRunner(llm, &recordingNotifier{}, nil)

	_, err := r.Run(context.Background(), RunRequest{ExecutionID: "exec-1", Input: "hi"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
}

func TestStartNotifiesTerminalSuccess(t *testing.T) {
	llm := &fakeLLM{tokens: []string{"done"}}
	n := &recordingNotifier{}
	r := newTestRunner(llm, n, nil)

	r.Start(RunRequest{ExecutionID: "exec-1", Input: "hi"})

	require.Eventually(t, func() bool {
		_, _, terminals := n.snapshot()
		return len(terminals) == 1
	}, time.Second, 5*time.Millisecond)

	_, _, terminals := n.snapshot()
	require.NoError(t, terminals[0].Err)
	assert.Equal(t, "exec-1", terminals[0].OutputRef)
	assert.Equal(t, "done", terminals[0].Result["text"])
}

func TestStartNotifiesTerminalFailure(t *testing.T) {
	llm := &fakeLLM{err: errors.New("backend down")}
	n := &recordingNotifier{}
	r := newTestRunner(llm, n, nil)

	r.Start(RunRequest{ExecutionID: "exec-1", Input: "hi"})

	require.Eventually(t, func() bool {
		_, _, terminals := n.snapshot()
		return len(terminals) == 1
	}, time.Second, 5*time.Millisecond)

	_, _, terminals := n.snapshot()
	assert.Error(t, terminals[0].Err)
}

func TestPromptFoldsSessionHistory(t *testing.T) {
	ctx := context.Background()
	store := history.NewMemoryStore()
	require.NoError(t, store.Append(ctx, "sess", "user", "what is 2+2"))
	require.NoError(t, store.Append(ctx, "sess", "assistant", "4"))

	llm := &fakeLLM{tokens: []string{"ok"}}
	r := newTestRunner(llm, &recordingNotifier{}, store)

	_, err := r.Run(ctx, RunRequest{ExecutionID: "exec-1", SessionID: "sess", Input: "double it"}, nil)
	require.NoError(t, err)

	prompt := llm.lastPrompt()
	assert.Contains(t, prompt, "User: what is 2+2")
	assert.Contains(t, prompt, "Assistant: 4")
	assert.True(t, strings.HasSuffix(prompt, "User: double it"))
}

func TestRouterRejectsUnknownEngineWithoutFallback(t *testing.T) {
	router := NewLLMRouter(map[string]LLMClient{}, "missing")
	_, err := router.Chat(context.Background(), "hi", "", "m", "nope", nil)
	assert.Error(t, err)
}

// The production notifier must satisfy the driver's interface.
var _ Notifier = (*broker.Manager)(nil)
