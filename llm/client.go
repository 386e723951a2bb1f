package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"voicebot-qa/logger"

	"github.com/cenkalti/backoff/v4"
)

// Client sends chat-completion requests to an OpenAI-compatible endpoint
// and returns the first choice's message content.
type Client struct {
	cfg  Config
	http *http.Client
	log  logger.Logger
}

// NewClient creates a Client, filling unset config fields with defaults.
func NewClient(cfg Config, log logger.Logger) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4.1-mini"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxElapsed == 0 {
		cfg.MaxElapsed = 2 * time.Minute
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
	}
}

// Model returns the default model identifier.
func (c *Client) Model() string { return c.cfg.Model }

// Complete performs the request, retrying transport failures, 429 and 5xx
// responses with exponential backoff. Other 4xx responses fail immediately.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	if c.cfg.APIKey == "" {
		return "", ErrNoAPIKey
	}

	body := chatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: c.cfg.Temperature,
	}
	if body.Model == "" {
		body.Model = c.cfg.Model
	}
	if req.Temperature != nil {
		body.Temperature = *req.Temperature
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var content string
	attempt := 0
	op := func() error {
		attempt++
		out, err := c.post(ctx, data)
		if err == nil {
			content = out
			return nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Retryable() {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		c.log.Warn("llm.request_retry",
			logger.String("model", body.Model),
			logger.Int("attempt", attempt),
			logger.Err(err),
		)
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = c.cfg.MaxElapsed
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.MaxRetries)), ctx)

	start := time.Now()
	if err := backoff.Retry(op, policy); err != nil {
		c.log.Error("llm.request_failed",
			logger.String("model", body.Model),
			logger.Int("attempts", attempt),
			logger.Err(err),
		)
		return "", err
	}
	c.log.Debug("llm.request_completed",
		logger.String("model", body.Model),
		logger.Int("attempts", attempt),
		logger.Duration("elapsed", time.Since(start)),
		logger.Int("content_len", len(content)),
	)
	return content, nil
}

func (c *Client) post(ctx context.Context, data []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &APIError{StatusCode: resp.StatusCode, Message: errorMessage(resp, raw)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", nil
	}
	return parsed.Choices[0].Message.Content, nil
}

// errorMessage prefers the provider's error.message, falling back to the status text.
func errorMessage(resp *http.Response, body []byte) string {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	status := http.StatusText(resp.StatusCode)
	if status == "" {
		status = resp.Status
	}
	return "OpenAI API error: " + status
}
