// Package event defines the typed notifications emitted while a flow
// execution runs. Each event kind carries its own payload shape so handlers
// can switch exhaustively over kinds instead of picking through loose maps.
package event

import "time"

// Kind identifies what an event describes.
type Kind string

const (
	KindConnected   Kind = "connected"
	KindProgress    Kind = "progress"
	KindVertexStart Kind = "vertex_start"
	KindVertexEnd   Kind = "vertex_end"
	KindEnd         Kind = "end"
	KindError       Kind = "error"
	KindHeartbeat   Kind = "heartbeat"
)

// Terminal reports whether the kind marks the end of an execution's stream.
func (k Kind) Terminal() bool {
	return k == KindEnd || k == KindError
}

// Payload is the kind-specific body of an event.
type Payload interface {
	Kind() Kind
}

// Connected greets a newly attached consumer.
type Connected struct {
	ExecutionID string `json:"execution_id"`
	Description string `json:"description,omitempty"`
}

func (Connected) Kind() Kind { return KindConnected }

// Progress reports intermediate execution output.
type Progress struct {
	Stage string         `json:"stage,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}

func (Progress) Kind() Kind { return KindProgress }

// VertexStart marks one flow component beginning work.
type VertexStart struct {
	VertexID string `json:"vertex_id"`
	Label    string `json:"label,omitempty"`
}

func (VertexStart) Kind() Kind { return KindVertexStart }

// VertexEnd marks one flow component finishing.
type VertexEnd struct {
	VertexID   string  `json:"vertex_id"`
	DurationMs float64 `json:"duration_ms,omitempty"`
}

func (VertexEnd) Kind() Kind { return KindVertexEnd }

// End is the successful terminal payload.
type End struct {
	OutputRef string         `json:"output_ref,omitempty"`
	Result    map[string]any `json:"result,omitempty"`
}

func (End) Kind() Kind { return KindEnd }

// ErrorInfo is the failing terminal payload.
type ErrorInfo struct {
	Message string `json:"message"`
}

func (ErrorInfo) Kind() Kind { return KindError }

// Heartbeat carries no data; it keeps idle streams alive.
type Heartbeat struct{}

func (Heartbeat) Kind() Kind { return KindHeartbeat }

// Event is an immutable, ordered notification about one execution.
// Sequence is strictly increasing per channel; events dropped by the
// slow-consumer policy leave gaps, they are never renumbered.
type Event struct {
	Kind        Kind      `json:"event"`
	ExecutionID string    `json:"execution_id"`
	Sequence    uint64    `json:"sequence"`
	Timestamp   time.Time `json:"timestamp"`
	Payload     Payload   `json:"data,omitempty"`
}
