// Package llm wraps the chat-completions API used by the automation agent
// and by memory synthesis.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ErrEmptyResponse is returned when the model produced no choices
var ErrEmptyResponse = errors.New("empty response from model")

// Completer sends one prompt and returns the model's text
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Client is an OpenAI-compatible Completer
type Client struct {
	client openai.Client
	model  string
}

// ClientOption configures a Client
type ClientOption func(*clientConfig)

type clientConfig struct {
	baseURL    string
	maxRetries int
}

// WithBaseURL points the client at an OpenAI-compatible API
func WithBaseURL(baseURL string) ClientOption {
	return func(c *clientConfig) {
		c.baseURL = baseURL
	}
}

// WithMaxRetries overrides the SDK retry count
func WithMaxRetries(n int) ClientOption {
	return func(c *clientConfig) {
		c.maxRetries = n
	}
}

// NewClient creates a client for model
func NewClient(apiKey, model string, opts ...ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}

	cfg := clientConfig{maxRetries: 2}
	for _, opt := range opts {
		opt(&cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(cfg.maxRetries),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}

	return &Client{
		client: openai.NewClient(reqOpts...),
		model:  model,
	}, nil
}

// Model returns the configured model name
func (c *Client) Model() string { return c.model }

// Complete implements Completer
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	messages = append(messages, openai.UserMessage(prompt))

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
