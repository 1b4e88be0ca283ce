package voice

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/voxflow/voxflow/internal/metrics"
)

// State is the lifecycle of one duplex session.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateInterrupted
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateInterrupted:
		return "interrupted"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Frame is one control message sent to the client as a text frame. Audio
// travels separately as binary frames.
type Frame struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Session is one duplex voice conversation over a WebSocket. The read loop
// owns turn transitions; playback goroutines only load the current token
// and write under the shared write lock.
type Session struct {
	ID string

	conn     *websocket.Conn
	writeMu  sync.Mutex
	state    atomic.Int32
	speaking atomic.Bool
	turns    *turnTokens
}

func newSession(id string, conn *websocket.Conn) *Session {
	return &Session{ID: id, conn: conn, turns: newTurnTokens()}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	if s.State() == StateClosed {
		return
	}
	s.state.Store(int32(st))
}

// BeginTurn stops any turn in progress and starts a new one, returning its
// token. Cutting into active playback counts as an interruption. Only the
// read loop may call this.
func (s *Session) BeginTurn() *Token {
	if s.speaking.Load() {
		metrics.Interruptions.Inc()
		s.setState(StateInterrupted)
	}
	return s.turns.Next()
}

// CurrentTurn returns the token for the turn in progress.
func (s *Session) CurrentTurn() *Token {
	return s.turns.Current()
}

// WriteControl sends one JSON control frame.
func (s *Session) WriteControl(f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// WriteAudio sends one binary audio frame unless tok has been cancelled.
// The token check happens under the write lock, so after an interruption at
// most the frame already in flight reaches the client.
func (s *Session) WriteAudio(tok *Token, frame []byte) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if tok.Cancelled() {
		return false, nil
	}
	err := s.conn.WriteMessage(websocket.BinaryMessage, frame)
	return err == nil, err
}

// Close ends the session: the current turn is cancelled and the connection
// closed. Idempotent.
func (s *Session) Close() {
	if s.State() == StateClosed {
		return
	}
	s.state.Store(int32(StateClosed))
	s.turns.Current().Cancel()
	s.conn.Close()
}
