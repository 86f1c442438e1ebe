package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Backend is an HTTP client for the external completion service. The service
// consumes {"prompt": ...} and returns {"completion": ...}; it may be slow or
// fail, so every call carries a timeout and errors propagate to the caller
// rather than being retried here.
type Backend struct {
	url     string
	client  *http.Client
	timeout time.Duration
}

// NewBackend creates a Backend for the completion endpoint at url. A zero
// timeout defaults to 25s, below the tracker's exchange timeout so a slow
// backend surfaces as a backend error rather than a sweeper expiry.
func NewBackend(url string, timeout time.Duration) *Backend {
	if timeout <= 0 {
		timeout = 25 * time.Second
	}
	return &Backend{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// Complete submits the prompt and returns the completion text.
func (b *Backend) Complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(struct {
		Prompt string `json:"prompt"`
	}{Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("ai: marshal prompt: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("ai: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ai: backend request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ai: backend returned status %d", resp.StatusCode)
	}

	var out struct {
		Completion string `json:"completion"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("ai: decode completion: %w", err)
	}
	return out.Completion, nil
}
