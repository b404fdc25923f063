package gateway

import (
	"context"
	"fmt"
	"time"

	"charm.land/fantasy"
	"charm.land/fantasy/providers/openai"
)

// Client is a plain text-completion call against one backend.
type Client interface {
	// Complete sends a prompt and returns the completion text.
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// BackendConfig describes one named model backend. Retry and timeout
// settings are per-backend configuration, not global constants.
type BackendConfig struct {
	// Name is the model ID the workflow addresses this backend by.
	Name string

	// Endpoint is the OpenAI-compatible completion endpoint base URL.
	Endpoint string

	// APIKey authenticates calls to the endpoint.
	APIKey string

	// Model is the provider-side model identifier.
	Model string

	// MaxTokens caps completion length.
	MaxTokens int

	// Temperature is the sampling temperature for this backend.
	Temperature float64

	// Timeout bounds a single completion attempt.
	Timeout time.Duration

	// RetryAttempts is how many times a failed attempt is retried
	// against this same backend before falling back.
	RetryAttempts int

	// RetryDelay is the base delay for exponential backoff between
	// retries.
	RetryDelay time.Duration

	// RateLimit is the request rate cap in requests per second.
	// Zero means unlimited.
	RateLimit float64

	// Fallbacks is the ordered sequence of backend names tried after
	// this backend's retries are exhausted.
	Fallbacks []string
}

func (c BackendConfig) withDefaults() BackendConfig {
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4000
	}
	if c.Temperature == 0 {
		c.Temperature = 0.7
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.RetryAttempts < 0 {
		c.RetryAttempts = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	return c
}

// fantasyClient implements Client on a Fantasy provider.
type fantasyClient struct {
	provider    fantasy.Provider
	model       string
	temperature float64
}

// newFantasyClient builds a Client against an OpenAI-compatible endpoint.
func newFantasyClient(cfg BackendConfig) (Client, error) {
	opts := []openai.Option{openai.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, openai.WithBaseURL(cfg.Endpoint))
	}

	provider, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create provider for %s: %w", cfg.Name, err)
	}

	return &fantasyClient{
		provider:    provider,
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}, nil
}

// Complete implements Client.
func (c *fantasyClient) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	lm, err := c.provider.LanguageModel(ctx, c.model)
	if err != nil {
		return "", fmt.Errorf("get language model: %w", err)
	}

	maxTokens64 := int64(maxTokens)
	temp := c.temperature
	call := fantasy.Call{
		Prompt:          fantasy.Prompt{fantasy.NewUserMessage(prompt)},
		MaxOutputTokens: &maxTokens64,
		Temperature:     &temp,
	}

	resp, err := lm.Generate(ctx, call)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}

	text := resp.Content.Text()
	if text == "" {
		return "", fmt.Errorf("empty response from %s", c.model)
	}
	return text, nil
}
