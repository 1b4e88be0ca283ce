// Package synth turns response text into audio through pluggable TTS
// backends selected by engine name.
package synth

import (
	"context"
	"fmt"
	"time"

	"github.com/voxflow/voxflow/internal/metrics"
)

// Options holds per-request synthesis tuning.
type Options struct {
	Voice string
	Speed float64
}

// Synthesizer produces a WAV clip from text.
type Synthesizer interface {
	SynthesizeAudio(ctx context.Context, text string, opts Options) ([]byte, error)
}

// Result holds synthesized audio with timing.
type Result struct {
	Audio     []byte
	LatencyMs float64
}

// Router dispatches synthesis requests to the backend registered under the
// requested engine name, falling back to a default.
type Router struct {
	backends map[string]Synthesizer
	fallback string
}

// NewRouter creates a router over the given backends.
func NewRouter(backends map[string]Synthesizer, fallback string) *Router {
	return &Router{backends: backends, fallback: fallback}
}

// Has reports whether engine names a registered backend.
func (r *Router) Has(engine string) bool {
	_, ok := r.backends[engine]
	return ok
}

// Engines returns the registered backend names.
func (r *Router) Engines() []string {
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	return names
}

// Synthesize routes to the requested backend and records latency.
func (r *Router) Synthesize(ctx context.Context, text, engine string, opts Options) (*Result, error) {
	backend, ok := r.backends[engine]
	if !ok {
		backend, ok = r.backends[r.fallback]
	}
	if !ok {
		return nil, fmt.Errorf("no synthesis backend for engine %q", engine)
	}

	start := time.Now()
	clip, err := backend.SynthesizeAudio(ctx, text, opts)
	if err != nil {
		metrics.Errors.WithLabelValues("tts", "synth").Inc()
		return nil, err
	}

	latency := time.Since(start)
	metrics.StageDuration.WithLabelValues("tts").Observe(latency.Seconds())

	return &Result{Audio: clip, LatencyMs: float64(latency.Milliseconds())}, nil
}
