package llm

import (
	"context"
	"fmt"

	"github.com/clearpath/support-agent/config"
)

// Result is the outcome of one completed generation.
type Result struct {
	Text         string
	TokensInput  int
	TokensOutput int
	LatencyMS    int64
	ModelUsed    string
}

// Client generates a completion for a fully assembled prompt. Failures are
// reported as *Error values carrying the boundary error taxonomy.
type Client interface {
	Generate(ctx context.Context, model, prompt string, maxTokens int) (Result, error)
}

// StreamClient is implemented by clients that can deliver output tokens
// incrementally. The callback receives each token as it arrives; the Result
// with final usage accounting is only available once the stream completes.
type StreamClient interface {
	Client
	GenerateStream(ctx context.Context, model, prompt string, maxTokens int, fn func(token string) error) (Result, error)
}

type Options struct {
	APIKey  string
	BaseURL string
}

// NewClient builds the Groq-backed generation client from configuration.
// Groq exposes an OpenAI-compatible API, so the same client implementation
// can point at either provider via the base URL.
func NewClient(cfg config.Config) (StreamClient, error) {
	if cfg.GroqAPIKey == "" {
		return nil, fmt.Errorf("GROQ_API_KEY must be set")
	}
	return NewOpenAIClient(Options{APIKey: cfg.GroqAPIKey, BaseURL: cfg.GroqBaseURL}), nil
}
