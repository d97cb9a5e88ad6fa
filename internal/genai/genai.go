// Package genai provides LLM-backed classification using the OpenAI API.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultTimeout bounds a single classification call.
const DefaultTimeout = 8 * time.Second

var (
	// ErrNoAPIKey is returned by NewClient when no key was configured.
	ErrNoAPIKey = errors.New("OpenAI API key not set")
	// ErrNoChoicesReturned means the model returned an empty response.
	ErrNoChoicesReturned = errors.New("no choices returned")
	// ErrUnexpectedLabel means the model answered outside the allowed label set.
	ErrUnexpectedLabel = errors.New("classifier answered outside the label set")
)

// chatService defines minimal interface for chat completions.
type chatService interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Opts holds configuration for the client.
type Opts struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Option configures the client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// Client classifies free text with an OpenAI chat model.
type Client struct {
	chat    chatService
	model   string
	timeout time.Duration
}

// NewClient initializes a new classifier client.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{Model: string(openai.ChatModelGPT4oMini), Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	slog.Debug("genai.NewClient: created", "model", cfg.Model, "timeout", cfg.Timeout)
	return &Client{chat: &cli.Chat.Completions, model: cfg.Model, timeout: cfg.Timeout}, nil
}

// complete sends one system+user exchange and returns the first choice.
func (c *Client) complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		Temperature: openai.Float(0),
	}
	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	return resp.Choices[0].Message.Content, nil
}

// Classify asks the model to pick exactly one of labels for input.
// Any answer outside labels is reported as ErrUnexpectedLabel.
func (c *Client) Classify(ctx context.Context, instructions, input string, labels []string) (string, error) {
	system := fmt.Sprintf("%s\nAnswer with exactly one of: %s. Do not add any other words.",
		instructions, strings.Join(labels, ", "))
	out, err := c.complete(ctx, system, input)
	if err != nil {
		slog.Warn("Client.Classify: completion failed", "error", err)
		return "", err
	}
	answer := strings.Trim(strings.TrimSpace(out), ".!\"'`")
	for _, l := range labels {
		if strings.EqualFold(answer, l) {
			slog.Debug("Client.Classify: classified", "label", l)
			return l, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnexpectedLabel, out)
}
