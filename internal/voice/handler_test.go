package voice

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxflow/voxflow/internal/asr"
	"github.com/voxflow/voxflow/internal/audio"
	"github.com/voxflow/voxflow/internal/broker"
	"github.com/voxflow/voxflow/internal/engine"
	"github.com/voxflow/voxflow/internal/synth"
)

// fakeASR replays canned transcripts in order.
type fakeASR struct {
	mu    sync.Mutex
	texts []string
	calls int
}

func (f *fakeASR) Transcribe(_ context.Context, _ []float32) (*asr.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	text := "unexpected"
	if f.calls < len(f.texts) {
		text = f.texts[f.calls]
	}
	f.calls++
	return &asr.Result{Text: text}, nil
}

// gatedLLM answers the first call with one sentence and then blocks until
// its context is cancelled; later calls answer immediately. This keeps the
// first speaking turn alive so a second utterance lands mid-turn.
type gatedLLM struct {
	calls atomic.Int32
}

func (g *gatedLLM) Chat(ctx context.Context, _, _, _ string, onToken engine.TokenCallback) (*engine.LLMResult, error) {
	if g.calls.Add(1) == 1 {
		onToken("Alpha one. ")
		<-ctx.Done()
		return nil, ctx.Err()
	}
	onToken("Beta two. ")
	return &engine.LLMResult{Text: "Beta two."}, nil
}

// instantLLM answers every call immediately.
type instantLLM struct{}

func (instantLLM) Chat(_ context.Context, _, _, _ string, onToken engine.TokenCallback) (*engine.LLMResult, error) {
	onToken("Ok. ")
	return &engine.LLMResult{Text: "Ok."}, nil
}

// blockingTTS stalls its first synthesis until released, so a turn can be
// interrupted while its audio is still being produced.
type blockingTTS struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func newBlockingTTS() *blockingTTS {
	return &blockingTTS{started: make(chan struct{}), release: make(chan struct{})}
}

func (b *blockingTTS) SynthesizeAudio(_ context.Context, _ string, _ synth.Options) ([]byte, error) {
	if b.calls.Add(1) == 1 {
		close(b.started)
		<-b.release
	}
	return audio.EncodeWAV(make([]float32, 1600), 16000), nil
}

// fakeTTS returns one second of constant-amplitude audio, with the
// amplitude keyed to the call number so frames are attributable to turns.
type fakeTTS struct {
	calls atomic.Int32
}

func (f *fakeTTS) SynthesizeAudio(_ context.Context, _ string, _ synth.Options) ([]byte, error) {
	amp := 0.1 * float32(f.calls.Add(1))
	samples := make([]float32, 16000)
	for i := range samples {
		samples[i] = amp
	}
	return audio.EncodeWAV(samples, 16000), nil
}

func newTestVoiceHandler(llm engine.LLMClient, transcripts []string, maxSessions int) *Handler {
	return newVoiceHandlerWithTTS(llm, &fakeTTS{}, transcripts, maxSessions)
}

func newVoiceHandlerWithTTS(llm engine.LLMClient, tts synth.Synthesizer, transcripts []string, maxSessions int) *Handler {
	runner := engine.NewRunner(engine.Config{
		LLM:          engine.NewLLMRouter(map[string]engine.LLMClient{"fake": llm}, "fake"),
		Notifier:     broker.NewManager(broker.NewRegistry(8), time.Hour),
		SystemPrompt: "be brief",
	})
	return NewHandler(HandlerConfig{
		ASR:    &fakeASR{texts: transcripts},
		Runner: runner,
		TTS:    synth.NewRouter(map[string]synth.Synthesizer{"fake": tts}, "fake"),
		Detector: audio.DetectorConfig{
			SpeechThresholdDB: -30,
			SilenceTimeout:    50 * time.Millisecond,
			MinSpeechDuration: 10 * time.Millisecond,
			PreSpeechBuffer:   10 * time.Millisecond,
			SampleRate:        16000,
		},
		MaxSessions:   maxSessions,
		FrameDuration: 100 * time.Millisecond,
	})
}

func dialVoice(t *testing.T, h *Handler) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendUtterance(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	speech := make([]float32, 3200) // 200ms well above threshold
	for i := range speech {
		speech[i] = 0.5
	}
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, audio.EncodePCM16(speech)))
	silence := make([]float32, 1600) // 100ms, past the silence timeout
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, audio.EncodePCM16(silence)))
}

// frameAmp reads the first sample of a WAV frame, normalized to [0, 1].
func frameAmp(frame []byte) float64 {
	if len(frame) < 46 {
		return 0
	}
	s := int16(binary.LittleEndian.Uint16(frame[44:46]))
	return math.Abs(float64(s)) / math.MaxInt16
}

func readFrame(t *testing.T, conn *websocket.Conn) (int, []byte) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return msgType, data
}

func TestInterruptionStopsStaleAudio(t *testing.T) {
	h := newTestVoiceHandler(&gatedLLM{}, []string{"turn one", "turn two"}, 2)
	conn := dialVoice(t, h)

	require.NoError(t, conn.WriteJSON(map[string]any{"sample_rate": 16000}))
	_, data := readFrame(t, conn)
	var greeting Frame
	require.NoError(t, json.Unmarshal(data, &greeting))
	require.Equal(t, "session_started", greeting.Type)

	sendUtterance(t, conn)

	var (
		turnSeq     string
		transcripts []string
		sentSecond  bool
	)
	for {
		msgType, data := readFrame(t, conn)
		if msgType == websocket.BinaryMessage {
			if frameAmp(data) > 0.15 {
				turnSeq += "B"
			} else {
				turnSeq += "A"
			}
			if !sentSecond && strings.Count(turnSeq, "A") >= 3 {
				sendUtterance(t, conn)
				sentSecond = true
			}
			continue
		}
		var f Frame
		require.NoError(t, json.Unmarshal(data, &f))
		if f.Type == "transcript" {
			transcripts = append(transcripts, f.Text)
		}
		if f.Type == "response" && f.Text == "Beta two." {
			break
		}
	}

	assert.Equal(t, []string{"turn one", "turn two"}, transcripts)
	assert.Contains(t, turnSeq, "A")
	assert.Contains(t, turnSeq, "B")

	// Once the new turn's audio starts, the old turn stays silent.
	firstB := strings.Index(turnSeq, "B")
	assert.NotContains(t, turnSeq[firstB:], "A", "stale audio after interruption: %s", turnSeq)
}

func TestVoiceSessionDeliversResponse(t *testing.T) {
	h := newTestVoiceHandler(instantLLM{}, []string{"turn one"}, 2)
	conn := dialVoice(t, h)

	require.NoError(t, conn.WriteJSON(map[string]any{"sample_rate": 16000}))
	_, _ = readFrame(t, conn) // session_started

	sendUtterance(t, conn)

	var kinds []string
	var frames int
	for {
		msgType, data := readFrame(t, conn)
		if msgType == websocket.BinaryMessage {
			frames++
			continue
		}
		var f Frame
		require.NoError(t, json.Unmarshal(data, &f))
		kinds = append(kinds, f.Type)
		if f.Type == "response" {
			assert.Equal(t, "Ok.", f.Text)
			break
		}
	}

	assert.Equal(t, []string{"transcript", "sentence", "response"}, kinds)
	assert.Equal(t, 10, frames, "one second of audio in 100ms frames")
}

func TestEarlyAudioBufferedUntilConfig(t *testing.T) {
	h := newTestVoiceHandler(instantLLM{}, []string{"turn one"}, 2)
	conn := dialVoice(t, h)

	// Audio races ahead of the config frame.
	speech := make([]float32, 3200)
	for i := range speech {
		speech[i] = 0.5
	}
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, audio.EncodePCM16(speech)))
	require.NoError(t, conn.WriteJSON(map[string]any{"sample_rate": 16000}))

	_, data := readFrame(t, conn)
	var greeting Frame
	require.NoError(t, json.Unmarshal(data, &greeting))
	require.Equal(t, "session_started", greeting.Type)

	silence := make([]float32, 1600)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, audio.EncodePCM16(silence)))

	_, data = readFrame(t, conn)
	var f Frame
	require.NoError(t, json.Unmarshal(data, &f))
	assert.Equal(t, "transcript", f.Type)
	assert.Equal(t, "turn one", f.Text)
}

func TestMalformedConfigAnsweredWithErrorFrame(t *testing.T) {
	h := newTestVoiceHandler(instantLLM{}, []string{"turn one"}, 2)
	conn := dialVoice(t, h)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))

	_, data := readFrame(t, conn)
	var f Frame
	require.NoError(t, json.Unmarshal(data, &f))
	assert.Equal(t, "error", f.Type)
	assert.Equal(t, "bad config", f.Text)

	// The connection survives; a well-formed config still starts the session.
	require.NoError(t, conn.WriteJSON(map[string]any{"sample_rate": 16000}))
	_, data = readFrame(t, conn)
	require.NoError(t, json.Unmarshal(data, &f))
	assert.Equal(t, "session_started", f.Type)
}

func TestMalformedControlFrameDoesNotCloseSession(t *testing.T) {
	h := newTestVoiceHandler(instantLLM{}, []string{"turn one"}, 2)
	conn := dialVoice(t, h)

	require.NoError(t, conn.WriteJSON(map[string]any{"sample_rate": 16000}))
	_, _ = readFrame(t, conn) // session_started

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))

	sendUtterance(t, conn)
	_, data := readFrame(t, conn)
	var f Frame
	require.NoError(t, json.Unmarshal(data, &f))
	assert.Equal(t, "transcript", f.Type)
	assert.Equal(t, "turn one", f.Text)
}

func TestCancelledTurnEmitsNoStaleSentence(t *testing.T) {
	tts := newBlockingTTS()
	h := newVoiceHandlerWithTTS(&gatedLLM{}, tts, []string{"turn one", "turn two"}, 2)
	conn := dialVoice(t, h)

	require.NoError(t, conn.WriteJSON(map[string]any{"sample_rate": 16000}))
	_, _ = readFrame(t, conn) // session_started

	sendUtterance(t, conn)
	_, data := readFrame(t, conn)
	var f Frame
	require.NoError(t, json.Unmarshal(data, &f))
	require.Equal(t, "transcript", f.Type)

	select {
	case <-tts.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first synthesis never started")
	}

	// Interrupt while the first turn is still inside synthesis.
	sendUtterance(t, conn)

	var sentences []string
	for {
		msgType, data := readFrame(t, conn)
		if msgType == websocket.BinaryMessage {
			continue
		}
		require.NoError(t, json.Unmarshal(data, &f))
		if f.Type == "sentence" {
			sentences = append(sentences, f.Text)
		}
		if f.Type == "response" && f.Text == "Beta two." {
			break
		}
	}

	// Let the stale synthesis finish; its sentence must go nowhere.
	close(tts.release)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		require.NoError(t, json.Unmarshal(data, &f))
		if f.Type == "sentence" {
			sentences = append(sentences, f.Text)
		}
	}

	assert.Equal(t, []string{"Beta two."}, sentences)
}

func TestHandlerRejectsOverCapacity(t *testing.T) {
	h := newTestVoiceHandler(instantLLM{}, nil, 1)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	first, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { first.Close() })

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 503, resp.StatusCode)
}
