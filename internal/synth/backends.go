package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// --- Piper backend (local neural TTS, returns WAV) ---

type piperSynthesizer struct {
	url    string
	voice  string
	client *http.Client
}

// NewPiperSynthesizer creates a backend for a piper-tts sidecar.
func NewPiperSynthesizer(url, voice string, client *http.Client) Synthesizer {
	return &piperSynthesizer{url: url, voice: voice, client: client}
}

func (p *piperSynthesizer) SynthesizeAudio(ctx context.Context, text string, opts Options) ([]byte, error) {
	voice := p.voice
	if opts.Voice != "" {
		voice = opts.Voice
	}
	body, err := json.Marshal(struct {
		Text  string `json:"text"`
		Voice string `json:"voice"`
	}{Text: text, Voice: voice})
	if err != nil {
		return nil, fmt.Errorf("marshal piper request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.url+"/synthesize", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create piper request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return doSpeechRequest(p.client, req)
}

// --- OpenAI-compatible backend (any server exposing /v1/audio/speech) ---

type speechAPISynthesizer struct {
	url    string
	model  string
	voice  string
	client *http.Client
}

// NewSpeechAPISynthesizer creates a backend for an OpenAI-speech-compatible
// endpoint (Kokoro, Orpheus and friends).
func NewSpeechAPISynthesizer(url, model, voice string, client *http.Client) Synthesizer {
	return &speechAPISynthesizer{url: url, model: model, voice: voice, client: client}
}

func (s *speechAPISynthesizer) SynthesizeAudio(ctx context.Context, text string, opts Options) ([]byte, error) {
	voice := s.voice
	if opts.Voice != "" {
		voice = opts.Voice
	}
	body, err := json.Marshal(struct {
		Input          string  `json:"input"`
		Model          string  `json:"model"`
		Voice          string  `json:"voice"`
		Speed          float64 `json:"speed,omitempty"`
		ResponseFormat string  `json:"response_format"`
	}{Input: text, Model: s.model, Voice: voice, Speed: opts.Speed, ResponseFormat: "wav"})
	if err != nil {
		return nil, fmt.Errorf("marshal speech request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.url+"/v1/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create speech request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return doSpeechRequest(s.client, req)
}

func doSpeechRequest(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tts status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
