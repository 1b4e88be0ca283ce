// Package sse exposes one run channel's consumption loop as a long-lived
// text/event-stream response. The adapter knows events and frames, nothing
// about flow semantics.
package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/voxflow/voxflow/internal/broker"
	"github.com/voxflow/voxflow/internal/event"
	"github.com/voxflow/voxflow/internal/metrics"
)

// Handler streams run events to HTTP clients. One subscription per request;
// the consumer is detached as soon as the client goes away, which is the
// primary guard against consumer accumulation.
type Handler struct {
	registry  *broker.Registry
	heartbeat time.Duration
}

// NewHandler creates a streaming handler. heartbeat is the keepalive
// interval used when no events arrive.
func NewHandler(registry *broker.Registry, heartbeat time.Duration) *Handler {
	if heartbeat <= 0 {
		heartbeat = broker.DefaultHeartbeat
	}
	return &Handler{registry: registry, heartbeat: heartbeat}
}

// ServeHTTP attaches to the run named in the path and streams its events
// until the run ends or the client disconnects. Missed events are not
// replayed to reconnecting clients; reconnection is client-driven.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	executionID := r.PathValue("executionID")

	ch, err := h.registry.GetOrCreate(executionID)
	if err != nil {
		http.Error(w, "invalid execution id", http.StatusBadRequest)
		return
	}
	cons, err := ch.Subscribe()
	if err != nil {
		http.Error(w, "run already finished", http.StatusGone)
		return
	}
	defer ch.Unsubscribe(cons)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	metrics.SSEClients.Inc()
	defer metrics.SSEClients.Dec()
	slog.Info("event stream attached", "execution_id", executionID, "remote", r.RemoteAddr)

	for {
		ev, err := cons.Next(r.Context(), h.heartbeat)
		switch {
		case err == nil:
			if werr := writeFrame(w, ev); werr != nil {
				return
			}
			flusher.Flush()
			if ev.Kind.Terminal() {
				// Terminal delivery detached the consumer; the next read
				// reports closed and we emit the final frame below.
				continue
			}
		case errors.Is(err, broker.ErrTimeout):
			fmt.Fprintf(w, "event: heartbeat\ndata: {}\n\n")
			flusher.Flush()
		case errors.Is(err, broker.ErrClosed):
			fmt.Fprintf(w, "event: close\ndata: {}\n\n")
			flusher.Flush()
			slog.Info("event stream finished", "execution_id", executionID)
			return
		default:
			// Client disconnected; unsubscribe promptly via the defer.
			slog.Info("event stream client gone", "execution_id", executionID, "remote", r.RemoteAddr)
			return
		}
	}
}

// writeFrame serializes one event as "event: <kind>\ndata: <json>\n\n".
func writeFrame(w io.Writer, ev event.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
	return err
}
