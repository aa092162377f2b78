// Package llm provides LLM client interfaces and implementations.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// StreamCallback is called for each token during streaming.
type StreamCallback func(token string, index int) error

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// ChatMessage represents a chat message for LLM. Images holds data URLs or
// links and is only honoured by vision-capable models.
type ChatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Client is the interface for LLM providers.
type Client interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// CompleteStream sends a streaming completion request.
	CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string

	// Models returns available models.
	Models() []string
}

// Image is a generated image.
type Image struct {
	URL           string
	B64JSON       string
	RevisedPrompt string
}

// ImageGenerator creates images from a text prompt.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (*Image, error)
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// NewClient creates a new LLM client based on provider. An empty baseURL
// uses the provider default.
func NewClient(provider Provider, apiKey, baseURL string) (Client, error) {
	switch provider {
	case ProviderAnthropic:
		return NewAnthropicClient(apiKey, baseURL)
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey, baseURL)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", provider)
	}
}

// APIError is an upstream failure carrying the provider's HTTP status.
type APIError struct {
	Provider string
	Status   int
	Code     string
	Message  string
	Err      error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s (status %d)", e.Provider, e.Message, e.Status)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// RateLimited reports whether the provider throttled the request.
func (e *APIError) RateLimited() bool {
	return e.Status == http.StatusTooManyRequests && e.Code != "insufficient_quota"
}

// QuotaExceeded reports whether the account ran out of credits.
func (e *APIError) QuotaExceeded() bool {
	return e.Status == http.StatusPaymentRequired || e.Code == "insufficient_quota"
}

// AsAPIError extracts an APIError from err.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
