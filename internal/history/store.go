// Package history persists conversation turns keyed by session id. The
// gateway core treats it as an opaque append/read collaborator; swapping
// the backing store never touches the broadcast or voice paths.
package history

import (
	"context"
	"time"
)

// Turn is one message in a session transcript.
type Turn struct {
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store reads and appends session transcripts.
type Store interface {
	// Append records one turn at the end of the session's transcript.
	Append(ctx context.Context, sessionID, role, content string) error
	// Recent returns up to limit most recent turns, oldest first.
	Recent(ctx context.Context, sessionID string, limit int) ([]Turn, error)
	Close() error
}
