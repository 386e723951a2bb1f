package llm

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoAPIKey is returned by Complete when no API key is configured.
var ErrNoAPIKey = errors.New("llm api key not configured")

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultEndpoint is the OpenAI chat-completions URL.
const DefaultEndpoint = "https://api.openai.com/v1/chat/completions"

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes a single chat-completion call. Zero Model and nil
// Temperature fall back to the client configuration.
type Request struct {
	Model       string
	Messages    []Message
	Temperature *float64
}

// Config configures a Client.
type Config struct {
	Endpoint    string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
	MaxElapsed  time.Duration
}

// APIError is a non-2xx response from the provider.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm api error (status %d): %s", e.StatusCode, e.Message)
}

// Retryable reports whether the request may succeed if repeated.
func (e *APIError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}
