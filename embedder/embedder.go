// Package embedder is the HTTP client for Kenny's external embedding
// service: a loopback process speaking the wire contract in spec.md §6
// (POST /embed with {model, input} -> {embeddings, model, dim}). The core
// never manages that process's lifecycle — its absence surfaces here as a
// connection error.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// Config points the client at a running embedder and names the model it
// must report back, so a model swap under the core's feet is caught rather
// than silently accepted.
type Config struct {
	BaseURL string
	Model   string
	Dim     int
	Timeout time.Duration
}

// Client calls a single embedder process's /embed endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Model      string      `json:"model"`
	Dim        int         `json:"dim"`
}

// Embed returns one vector per input text, in the same order. It fails
// closed on any shape mismatch between what was asked for and what came
// back, rather than silently truncating or zero-padding.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	respBody, err := c.doPost(ctx, "/embed", embedRequest{Model: c.cfg.Model, Input: texts})
	if err != nil {
		return nil, err
	}

	var resp embedResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding embed response: %v", ErrHTTP, err)
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: requested %d embeddings, got %d", ErrShapeMismatch, len(texts), len(resp.Embeddings))
	}
	if resp.Model != "" && resp.Model != c.cfg.Model {
		return nil, fmt.Errorf("%w: requested model %q, embedder reported %q", ErrShapeMismatch, c.cfg.Model, resp.Model)
	}
	for i, v := range resp.Embeddings {
		if c.cfg.Dim > 0 && len(v) != c.cfg.Dim {
			return nil, fmt.Errorf("%w: embedding %d has dim %d, want %d", ErrShapeMismatch, i, len(v), c.cfg.Dim)
		}
	}

	return resp.Embeddings, nil
}

const (
	maxRetries        = 6
	baseRetryDelay    = 2 * time.Second
	minRateLimitDelay = 5 * time.Second
)

func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusGatewayTimeout
}

// doPost retries transient failures with doubling backoff, honoring
// Retry-After on 429s. There is no API key: the embedder is a loopback
// process, not a hosted service.
func (c *Client) doPost(ctx context.Context, path string, body interface{}) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	url := c.cfg.BaseURL + path

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseRetryDelay * time.Duration(1<<(attempt-1))
			slog.Warn("embedder: retrying request", "url", url, "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
			}
			lastErr = fmt.Errorf("%w: request to %s failed: %v", ErrConnection, url, err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("reading response body: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			return respBody, nil
		}

		lastErr = fmt.Errorf("%w: embedder returned %d: %s", ErrHTTP, resp.StatusCode, string(respBody))
		if !retryableStatusCode(resp.StatusCode) {
			return nil, lastErr
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			delay := minRateLimitDelay * time.Duration(1<<attempt)
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
					if headerDelay := time.Duration(seconds) * time.Second; headerDelay > delay {
						delay = headerDelay
					}
				}
			}
			slog.Warn("embedder: rate limited, waiting before retry", "url", url, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
			}
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
