package llm

import (
	"context"
	"errors"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const generationTemperature = 0.7

type openAIClient struct {
	client *openai.Client
}

// NewOpenAIClient builds a generation client for any OpenAI-compatible chat
// completions endpoint.
func NewOpenAIClient(opts Options) StreamClient {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}

	return &openAIClient{client: openai.NewClientWithConfig(cfg)}
}

func (c *openAIClient) Generate(ctx context.Context, model, prompt string, maxTokens int) (Result, error) {
	start := time.Now()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: generationTemperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return Result{}, classifyError(err, model, latency)
	}

	if len(resp.Choices) == 0 {
		return Result{}, &Error{
			Code:    CodeAPI,
			Message: "chat completion returned no choices",
			Details: Details{Model: model, LatencyMS: latency},
		}
	}

	return Result{
		Text:         resp.Choices[0].Message.Content,
		TokensInput:  resp.Usage.PromptTokens,
		TokensOutput: resp.Usage.CompletionTokens,
		LatencyMS:    latency,
		ModelUsed:    model,
	}, nil
}

// GenerateStream forwards tokens through fn as they arrive and returns the
// accumulated result once the stream finishes. A callback error aborts the
// stream and is returned unwrapped so callers can recognize their own
// cancellation signal.
func (c *openAIClient) GenerateStream(ctx context.Context, model, prompt string, maxTokens int, fn func(token string) error) (Result, error) {
	start := time.Now()

	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: generationTemperature,
		Stream:      true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return Result{}, classifyError(err, model, time.Since(start).Milliseconds())
	}
	defer stream.Close()

	result := Result{ModelUsed: model}
	var text []byte
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return Result{}, classifyError(recvErr, model, time.Since(start).Milliseconds())
		}

		if chunk.Usage != nil {
			result.TokensInput = chunk.Usage.PromptTokens
			result.TokensOutput = chunk.Usage.CompletionTokens
		}

		if len(chunk.Choices) == 0 {
			continue
		}
		token := chunk.Choices[0].Delta.Content
		if token == "" {
			continue
		}
		text = append(text, token...)
		if cbErr := fn(token); cbErr != nil {
			return Result{}, cbErr
		}
	}

	result.Text = string(text)
	result.LatencyMS = time.Since(start).Milliseconds()
	return result, nil
}

var _ StreamClient = (*openAIClient)(nil)
