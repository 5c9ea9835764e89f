package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/phrazzld/personasim/internal/config"
	"github.com/phrazzld/personasim/internal/generation"
	"github.com/sashabaranov/go-openai"
)

// OpenAIProvider talks to any endpoint implementing the OpenAI chat
// completions protocol (OpenAI itself, OpenRouter, Groq, local gateways).
type OpenAIProvider struct {
	name   string
	model  string
	client *openai.Client
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider builds a provider for the named backend. httpClient may
// be nil; the caller's client is used when set.
func NewOpenAIProvider(name string, cfg config.ProviderConfig, httpClient *http.Client) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: %s api key cannot be empty", generation.ErrInvalidConfig, name)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: %s model cannot be empty", generation.ErrInvalidConfig, name)
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if httpClient != nil {
		oc.HTTPClient = httpClient
	}

	return &OpenAIProvider{
		name:   name,
		model:  cfg.Model,
		client: openai.NewClientWithConfig(oc),
	}, nil
}

// Name returns the configured backend name.
func (p *OpenAIProvider) Name() string { return p.name }

// Complete sends one chat completion request.
func (p *OpenAIProvider) Complete(ctx context.Context, req ChatRequest) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Temperature: req.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
	})
	if err != nil {
		return "", p.mapError(err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", generation.ErrInvalidResponse)
	}
	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return "", fmt.Errorf("%w: finish reason %s", generation.ErrContentBlocked, choice.FinishReason)
	}
	return choice.Message.Content, nil
}

func (p *OpenAIProvider) mapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &StatusError{Provider: p.name, StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &StatusError{Provider: p.name, StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error()}
	}
	return fmt.Errorf("%s request failed: %w", p.name, err)
}
