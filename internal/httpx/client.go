// Package httpx provides shared HTTP client construction for the backend
// sidecar clients (transcription, synthesis, local LLM).
package httpx

import (
	"net/http"
	"time"
)

// NewPooledClient creates an http.Client with connection pooling sized for
// concurrent sessions hitting the same backend.
func NewPooledClient(poolSize int, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:          poolSize,
			MaxIdleConnsPerHost:   poolSize,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}
}
