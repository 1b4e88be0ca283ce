// Package asr turns utterance audio into text via a whisper-compatible
// HTTP sidecar.
package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/voxflow/voxflow/internal/audio"
	"github.com/voxflow/voxflow/internal/httpx"
	"github.com/voxflow/voxflow/internal/metrics"
)

// Transcriber produces transcriptions from 16 kHz mono samples.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32) (*Result, error)
}

// Result holds the transcription output with timing.
type Result struct {
	Text      string  `json:"text"`
	LatencyMs float64 `json:"latency_ms"`
}

// WhisperClient posts audio as multipart WAV to a whisper.cpp style
// /inference endpoint.
type WhisperClient struct {
	url    string
	client *http.Client
}

// NewWhisperClient creates a transcription client for the given base URL.
func NewWhisperClient(url string, poolSize int) *WhisperClient {
	return &WhisperClient{
		url:    url,
		client: httpx.NewPooledClient(poolSize, 30*time.Second),
	}
}

// Transcribe uploads the utterance and returns the transcript.
func (c *WhisperClient) Transcribe(ctx context.Context, samples []float32) (*Result, error) {
	start := time.Now()

	body, contentType, err := buildMultipartWAV(samples)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url+"/inference", body)
	if err != nil {
		return nil, fmt.Errorf("create whisper request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.Errors.WithLabelValues("asr", "http").Inc()
		return nil, fmt.Errorf("whisper request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		metrics.Errors.WithLabelValues("asr", "status").Inc()
		return nil, fmt.Errorf("whisper status %d: %s", resp.StatusCode, respBody)
	}

	var out struct {
		Text string `json:"text"`
	}
	if err = json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode whisper response: %w", err)
	}

	latency := time.Since(start)
	metrics.StageDuration.WithLabelValues("asr").Observe(latency.Seconds())

	return &Result{
		Text:      strings.TrimSpace(out.Text),
		LatencyMs: float64(latency.Milliseconds()),
	}, nil
}

func buildMultipartWAV(samples []float32) (*bytes.Buffer, string, error) {
	wavData := audio.EncodeWAV(samples, 16000)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err = part.Write(wavData); err != nil {
		return nil, "", fmt.Errorf("write wav data: %w", err)
	}
	if err = writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &body, writer.FormDataContentType(), nil
}
