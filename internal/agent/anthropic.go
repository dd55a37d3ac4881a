package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

var errNoTextContent = errors.New("no text content in anthropic response")

// AnthropicInvoker calls the Anthropic messages API.
type AnthropicInvoker struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	temperature float64
	timeout     time.Duration
	logger      *slog.Logger
}

// NewAnthropic creates an invoker for the messages API.
func NewAnthropic(cfg Config, logger *slog.Logger, opts ...option.RequestOption) *AnthropicInvoker {
	if logger == nil {
		logger = slog.Default()
	}

	options := append([]option.RequestOption{option.WithAPIKey(cfg.AnthropicAPIKey)}, opts...)

	model := cfg.AnthropicModel
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1000
	}

	return &AnthropicInvoker{
		client:      anthropic.NewClient(options...),
		model:       model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		logger:      logger,
	}
}

// Name implements Invoker.
func (a *AnthropicInvoker) Name() string { return ProviderAnthropic }

// Invoke implements Invoker.
func (a *AnthropicInvoker) Invoke(ctx context.Context, systemPrompt string, payload ContextPayload) (*Reply, error) {
	user, err := payload.Render()
	if err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, a.timeout)
	defer cancel()

	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   a.maxTokens,
		Temperature: anthropic.Float(a.temperature),
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic messages: %w", err)
	}

	tokens := message.Usage.InputTokens + message.Usage.OutputTokens
	for _, block := range message.Content {
		if block.Type == "text" {
			a.logger.Debug("Anthropic reply received",
				"model", a.model,
				"tokens_in", message.Usage.InputTokens,
				"tokens_out", message.Usage.OutputTokens,
				"size", len(block.Text),
			)
			return &Reply{Content: block.Text, TotalTokens: tokens}, nil
		}
	}
	return nil, errNoTextContent
}

var _ Invoker = (*AnthropicInvoker)(nil)
