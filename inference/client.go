package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/KolosalAI/kolosal-agent/types"
)

// Client speaks the OpenAI-compatible completion surface of the backend.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a client for the given base URL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// NewClientForBackend builds a client pointed at a managed backend.
func NewClientForBackend(b *Backend, timeout time.Duration) *Client {
	return NewClient(b.BaseURL(), timeout)
}

type completionRequest struct {
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Text string `json:"text"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends a prompt to /v1/completions and returns the first choice.
func (c *Client) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	payload, err := json.Marshal(completionRequest{Prompt: prompt, MaxTokens: maxTokens})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/completions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", types.NewErrorf(types.ErrDependency, "inference request: %v", err).
			WithComponent("inference").WithCause(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", types.NewErrorf(types.ErrDependency, "read inference response: %v", err).
			WithComponent("inference").WithCause(err)
	}
	if resp.StatusCode >= 300 {
		return "", types.NewErrorf(types.ErrDependency,
			"inference backend returned %d: %s", resp.StatusCode, truncate(string(body), 200)).
			WithComponent("inference")
	}

	var parsed completionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", types.NewErrorf(types.ErrDependency, "decode inference response: %v", err).
			WithComponent("inference").WithCause(err)
	}
	if parsed.Error != nil {
		return "", types.NewErrorf(types.ErrDependency, "inference backend error: %s", parsed.Error.Message).
			WithComponent("inference")
	}
	if len(parsed.Choices) == 0 {
		return "", types.NewError(types.ErrDependency, "inference backend returned no choices").
			WithComponent("inference")
	}
	return parsed.Choices[0].Text, nil
}

// Health probes the backend's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return types.NewErrorf(types.ErrDependency, "health probe: %v", err).
			WithComponent("inference").WithCause(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return types.NewErrorf(types.ErrDependency, "health probe returned %d", resp.StatusCode).
			WithComponent("inference")
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s... (%d bytes)", s[:n], len(s))
}
