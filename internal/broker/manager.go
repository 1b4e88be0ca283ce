package broker

import (
	"context"
	"log/slog"
	"time"

	"github.com/voxflow/voxflow/internal/event"
	"github.com/voxflow/voxflow/internal/metrics"
)

// DefaultHeartbeat is the interval between heartbeat events on channels
// that have at least one consumer.
const DefaultHeartbeat = 30 * time.Second

// Outcome is the terminal result of one execution. Err wins over Result.
type Outcome struct {
	OutputRef string
	Result    map[string]any
	Err       error
}

// Manager decides, per execution, whether event emission is worth paying
// for, and translates execution driver callbacks into published events. It
// is the only type the driver needs to know about.
type Manager struct {
	registry  *Registry
	heartbeat time.Duration
}

// NewManager wraps a registry. heartbeat <= 0 selects DefaultHeartbeat.
func NewManager(registry *Registry, heartbeat time.Duration) *Manager {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &Manager{registry: registry, heartbeat: heartbeat}
}

// Registry exposes the underlying registry for subscription paths.
func (m *Manager) Registry() *Registry { return m.registry }

// ShouldEmit reports whether anyone is actually watching executionID. A
// channel with zero consumers counts as not watching, preserving the
// zero-overhead guarantee for unobserved runs. Called on the hot path of
// every execution, so it is a map lookup and nothing more.
func (m *Manager) ShouldEmit(executionID string) bool {
	ch, ok := m.registry.Get(executionID)
	return ok && ch.ConsumerCount() > 0
}

// NotifyProgress publishes a progress-class event (progress, vertex_start,
// vertex_end) if anyone is watching. With no watchers it returns without
// building an event.
func (m *Manager) NotifyProgress(executionID string, kind event.Kind, payload event.Payload) {
	if !m.ShouldEmit(executionID) {
		return
	}
	ch, ok := m.registry.Get(executionID)
	if !ok {
		return
	}
	ch.Publish(kind, payload)
	metrics.EventsPublished.WithLabelValues(string(kind)).Inc()
}

// NotifyTerminal records the end of an execution. Unlike progress events the
// terminal notification always performs bookkeeping: if a channel exists the
// terminal event is published (which also tears the channel down once its
// consumers are gone), watched or not.
func (m *Manager) NotifyTerminal(executionID string, outcome Outcome) {
	status := "ok"
	if outcome.Err != nil {
		status = "error"
	}
	metrics.RunsTotal.WithLabelValues(status).Inc()

	ch, ok := m.registry.Get(executionID)
	if !ok {
		return
	}
	if outcome.Err != nil {
		ch.Publish(event.KindError, event.ErrorInfo{Message: outcome.Err.Error()})
	} else {
		ch.Publish(event.KindEnd, event.End{OutputRef: outcome.OutputRef, Result: outcome.Result})
	}
	metrics.EventsPublished.WithLabelValues("terminal").Inc()
}

// RunHeartbeats publishes a heartbeat to every channel with at least one
// consumer, on a fixed interval, until ctx is cancelled. Idle streaming
// connections stay alive through intermediaries and consumers can tell a
// silent producer from a dead one.
func (m *Manager) RunHeartbeats(ctx context.Context) {
	ticker := time.NewTicker(m.heartbeat)
	defer ticker.Stop()

	slog.Info("heartbeat loop started", "interval", m.heartbeat)
	for {
		select {
		case <-ctx.Done():
			slog.Info("heartbeat loop stopped")
			return
		case <-ticker.C:
			for _, ch := range m.registry.snapshot() {
				if ch.ConsumerCount() == 0 {
					continue
				}
				ch.Publish(event.KindHeartbeat, event.Heartbeat{})
				metrics.Heartbeats.Inc()
			}
		}
	}
}
