package voice

import (
	"sync"
	"sync/atomic"
)

// Token marks one speaking turn. Cancelling it tells the turn's synthesis
// and playback to stop; a cancelled token never comes back to life.
type Token struct {
	done chan struct{}
	once sync.Once
}

func newToken() *Token {
	return &Token{done: make(chan struct{})}
}

// Cancel stops the turn. Safe to call more than once.
func (t *Token) Cancel() {
	t.once.Do(func() { close(t.done) })
}

// Cancelled reports whether the turn has been stopped.
func (t *Token) Cancelled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed on cancellation, for select loops.
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// turnTokens hands out the token for the current speaking turn. Only the
// session's read loop swaps; any number of playback goroutines may load.
type turnTokens struct {
	cur atomic.Pointer[Token]
}

func newTurnTokens() *turnTokens {
	h := &turnTokens{}
	h.cur.Store(newToken())
	return h
}

// Current returns the token governing the turn in progress.
func (h *turnTokens) Current() *Token {
	return h.cur.Load()
}

// Next cancels the current turn and returns a fresh token for the one
// replacing it.
func (h *turnTokens) Next() *Token {
	fresh := newToken()
	old := h.cur.Swap(fresh)
	old.Cancel()
	return fresh
}
