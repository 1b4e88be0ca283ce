// Package voice runs duplex conversations over WebSocket: inbound audio is
// segmented into utterances, each utterance becomes a flow execution, and
// the synthesized reply streams back as fixed-duration audio frames. A new
// utterance cancels whatever the session is still saying.
package voice

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voxflow/voxflow/internal/asr"
	"github.com/voxflow/voxflow/internal/audio"
	"github.com/voxflow/voxflow/internal/engine"
	"github.com/voxflow/voxflow/internal/metrics"
	"github.com/voxflow/voxflow/internal/synth"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandlerConfig holds the shared backends for all voice sessions.
type HandlerConfig struct {
	ASR      asr.Transcriber
	Runner   *engine.Runner
	TTS      *synth.Router
	Detector audio.DetectorConfig
	// MaxSessions bounds concurrent sessions; <=0 means 100.
	MaxSessions int
	// FrameDuration is the outbound audio frame length and therefore the
	// interruption granularity; <=0 means 100ms.
	FrameDuration time.Duration
	// IdleTimeout closes sessions with no inbound traffic; <=0 means 5m.
	IdleTimeout time.Duration
}

// Handler upgrades voice connections and runs sessions with admission
// control.
type Handler struct {
	cfg HandlerConfig
	sem chan struct{}
}

// NewHandler creates a voice handler.
func NewHandler(cfg HandlerConfig) *Handler {
	maxSessions := cfg.MaxSessions
	if maxSessions <= 0 {
		maxSessions = 100
	}
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = 100 * time.Millisecond
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	return &Handler{cfg: cfg, sem: make(chan struct{}, maxSessions)}
}

// sessionConfig is the first text frame sent by the client.
type sessionConfig struct {
	SampleRate int     `json:"sample_rate"`
	TTSEngine  string  `json:"tts_engine"`
	Voice      string  `json:"voice"`
	Speed      float64 `json:"speed"`
	LLMModel   string  `json:"llm_model"`
	LLMEngine  string  `json:"llm_engine"`
	FlowID     string  `json:"flow_id"`
}

// ServeHTTP upgrades the connection and runs the session to completion.
// Returns 503 when at capacity.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case h.sem <- struct{}{}:
		defer func() { <-h.sem }()
	default:
		http.Error(w, "at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	metrics.VoiceSessionsActive.Inc()
	metrics.VoiceSessionsTotal.Inc()
	defer metrics.VoiceSessionsActive.Dec()

	sess := newSession(uuid.NewString(), conn)
	defer sess.Close()

	h.runSession(sess)
}

func (h *Handler) runSession(sess *Session) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, early, err := readSessionConfig(sess, h.cfg.IdleTimeout)
	if err != nil {
		slog.Error("read session config", "error", err)
		return
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = h.cfg.Detector.SampleRate
	}

	sess.setState(StateActive)
	if err := sess.WriteControl(Frame{Type: "session_started", SessionID: sess.ID}); err != nil {
		slog.Error("write greeting", "session_id", sess.ID, "error", err)
		return
	}
	slog.Info("voice session started",
		"session_id", sess.ID, "sample_rate", cfg.SampleRate,
		"tts_engine", cfg.TTSEngine, "llm_engine", cfg.LLMEngine)

	det := audio.NewDetector(h.cfg.Detector)
	var wg sync.WaitGroup

	// Audio that raced ahead of the config frame is not lost.
	for _, chunk := range early {
		h.handleChunk(ctx, sess, cfg, det, &wg, chunk)
	}

	for {
		sess.conn.SetReadDeadline(time.Now().Add(h.cfg.IdleTimeout))
		msgType, data, err := sess.conn.ReadMessage()
		if err != nil {
			slog.Info("voice connection closed", "session_id", sess.ID, "error", err)
			break
		}
		switch msgType {
		case websocket.BinaryMessage:
			h.handleChunk(ctx, sess, cfg, det, &wg, data)
		case websocket.TextMessage:
			var f Frame
			if err := json.Unmarshal(data, &f); err != nil {
				slog.Warn("malformed control frame", "session_id", sess.ID, "error", err)
				continue
			}
			if f.Type == "interrupt" {
				sess.BeginTurn()
			}
		}
	}

	// The connection is gone; stop any reply still being spoken before
	// draining the final partial utterance.
	sess.CurrentTurn().Cancel()
	wg.Wait()

	if tail := det.Flush(); len(tail) > 0 {
		h.respond(ctx, sess, cfg, sess.BeginTurn(), tail)
	}

	slog.Info("voice session ended", "session_id", sess.ID)
}

// handleChunk feeds one inbound audio chunk to the boundary detector. A
// completed utterance interrupts the turn in progress and starts a reply.
func (h *Handler) handleChunk(ctx context.Context, sess *Session, cfg *sessionConfig, det *audio.Detector, wg *sync.WaitGroup, data []byte) {
	metrics.AudioChunks.Inc()
	samples := audio.DecodePCM16(data)
	samples = audio.Resample(samples, cfg.SampleRate, h.cfg.Detector.SampleRate)

	seg := det.Feed(samples)
	if !seg.Complete {
		return
	}
	metrics.SpeechSegments.Inc()

	tok := sess.BeginTurn()
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.respond(ctx, sess, cfg, tok, seg.Samples)
	}()
}

// respond runs one speaking turn: transcribe, execute the flow with
// sentence-level synthesis, stream audio frames until done or cancelled.
func (h *Handler) respond(ctx context.Context, sess *Session, cfg *sessionConfig, tok *Token, samples []float32) {
	asrRes, err := h.cfg.ASR.Transcribe(ctx, samples)
	if err != nil {
		slog.Error("transcribe", "session_id", sess.ID, "error", err)
		sess.WriteControl(Frame{Type: "error", Text: "transcription failed"})
		return
	}
	if asr.IsNoise(asrRes.Text) || tok.Cancelled() {
		return
	}
	if err := sess.WriteControl(Frame{Type: "transcript", Text: asrRes.Text}); err != nil {
		return
	}

	// The model stream dies with the turn.
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	go func() {
		select {
		case <-tok.Done():
			cancelRun()
		case <-runCtx.Done():
		}
	}()

	sess.speaking.Store(true)
	defer func() {
		if sess.CurrentTurn() == tok {
			sess.speaking.Store(false)
			sess.setState(StateActive)
		}
	}()

	var sb sentencer
	result, err := h.cfg.Runner.Run(runCtx, engine.RunRequest{
		ExecutionID: uuid.NewString(),
		FlowID:      cfg.FlowID,
		SessionID:   sess.ID,
		Input:       asrRes.Text,
		Model:       cfg.LLMModel,
		Engine:      cfg.LLMEngine,
	}, func(token string) {
		if sentence := sb.Push(token); sentence != "" {
			h.speak(runCtx, sess, cfg, tok, sentence)
		}
	})
	if err != nil {
		if errors.Is(runCtx.Err(), context.Canceled) {
			return
		}
		slog.Error("flow execution", "session_id", sess.ID, "error", err)
		sess.WriteControl(Frame{Type: "error", Text: "response failed"})
		return
	}

	if sentence := sb.Flush(); sentence != "" {
		h.speak(runCtx, sess, cfg, tok, sentence)
	}
	if !tok.Cancelled() {
		sess.WriteControl(Frame{Type: "response", Text: result.Text})
	}
}

// speak synthesizes one sentence and streams it as audio frames, checking
// the turn token per frame.
func (h *Handler) speak(ctx context.Context, sess *Session, cfg *sessionConfig, tok *Token, text string) {
	if tok.Cancelled() {
		return
	}
	res, err := h.cfg.TTS.Synthesize(ctx, text, cfg.TTSEngine, synth.Options{Voice: cfg.Voice, Speed: cfg.Speed})
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("synthesize", "session_id", sess.ID, "error", err)
			sess.WriteControl(Frame{Type: "error", Text: "synthesis failed"})
		}
		return
	}
	frames, err := audio.SplitFrames(res.Audio, h.cfg.FrameDuration)
	if err != nil {
		slog.Error("frame split", "session_id", sess.ID, "error", err)
		return
	}

	// Synthesis may have straddled an interruption; a superseded turn must
	// not announce the sentence it will never play.
	if tok.Cancelled() {
		return
	}
	if err := sess.WriteControl(Frame{Type: "sentence", Text: text}); err != nil {
		return
	}
	for _, frame := range frames {
		written, err := sess.WriteAudio(tok, frame)
		if err != nil {
			slog.Error("write audio frame", "session_id", sess.ID, "error", err)
			return
		}
		if !written {
			return
		}
	}
}

// readSessionConfig waits for the client's config frame. Binary audio that
// arrives first is buffered and replayed once the config is known. A
// malformed config frame is answered with an error frame on the same
// connection and the wait continues; only transport errors end the session.
func readSessionConfig(sess *Session, idle time.Duration) (*sessionConfig, [][]byte, error) {
	var early [][]byte
	for {
		sess.conn.SetReadDeadline(time.Now().Add(idle))
		msgType, data, err := sess.conn.ReadMessage()
		if err != nil {
			return nil, nil, err
		}
		if msgType == websocket.BinaryMessage {
			if len(early) < 32 {
				early = append(early, data)
			}
			continue
		}
		var cfg sessionConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			slog.Warn("malformed config frame", "session_id", sess.ID, "error", err)
			sess.WriteControl(Frame{Type: "error", Text: "bad config"})
			continue
		}
		return &cfg, early, nil
	}
}
