// Package openai adapts the OpenAI API to the llm contracts.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/WessleyAI/wessley-garage/pkg/llm"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

const (
	DefaultChatModel  = "gpt-4o-mini"
	DefaultEmbedModel = "text-embedding-3-small"
)

// ErrAPIKeyNotSet is returned when no API key is configured.
var ErrAPIKeyNotSet = errors.New("openai: API key not set")

// Client implements llm.Completer and llm.Embedder.
type Client struct {
	client     openai.Client
	chatModel  string
	embedModel string
}

// Option configures a Client.
type Option func(*clientConfig)

type clientConfig struct {
	chatModel  string
	embedModel string
	reqOpts    []option.RequestOption
}

// WithChatModel sets the completion model.
func WithChatModel(m string) Option {
	return func(c *clientConfig) {
		if m != "" {
			c.chatModel = m
		}
	}
}

// WithEmbedModel sets the embedding model.
func WithEmbedModel(m string) Option {
	return func(c *clientConfig) {
		if m != "" {
			c.embedModel = m
		}
	}
}

// WithBaseURL points the client at a compatible endpoint.
func WithBaseURL(u string) Option {
	return func(c *clientConfig) { c.reqOpts = append(c.reqOpts, option.WithBaseURL(u)) }
}

// NewClient creates a client for the given API key.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}
	cfg := clientConfig{chatModel: DefaultChatModel, embedModel: DefaultEmbedModel}
	for _, o := range opts {
		o(&cfg)
	}
	// Retries belong to the caller's guard.
	reqOpts := append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, cfg.reqOpts...)
	return &Client{
		client:     openai.NewClient(reqOpts...),
		chatModel:  cfg.chatModel,
		embedModel: cfg.embedModel,
	}, nil
}

// Complete runs one chat completion.
func (c *Client) Complete(ctx context.Context, req llm.Request) (string, error) {
	model := c.chatModel
	if req.Params.Model != "" {
		model = req.Params.Model
	}
	var msgs []openai.ChatCompletionMessageParamUnion
	if req.SystemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(req.SystemPrompt))
	}
	msgs = append(msgs, openai.UserMessage(req.UserMessage))

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(model),
		Messages:    msgs,
		Temperature: openai.Float(req.Params.Temperature),
	}
	if req.Params.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.Params.MaxTokens))
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: chat: %w", err)
	}
	if len(completion.Choices) == 0 || strings.TrimSpace(completion.Choices[0].Message.Content) == "" {
		return "", llm.ErrEmptyCompletion
	}
	return completion.Choices[0].Message.Content, nil
}

// Embed returns the embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(c.embedModel),
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai: embed: no data returned")
	}
	src := resp.Data[0].Embedding
	out := make([]float32, len(src))
	for i, v := range src {
		out[i] = float32(v)
	}
	return out, nil
}

// IsRateLimited reports whether err is an HTTP 429 from the API.
func IsRateLimited(err error) bool {
	var apiErr *openai.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == 429
}

var (
	_ llm.Completer = (*Client)(nil)
	_ llm.Embedder  = (*Client)(nil)
)
