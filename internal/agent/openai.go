package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

var errNoChoices = errors.New("model returned no choices")

// OpenAIInvoker calls an OpenAI-compatible chat completions endpoint.
type OpenAIInvoker struct {
	client      openai.Client
	model       string
	maxTokens   int64
	temperature float64
	timeout     time.Duration
	logger      *slog.Logger
}

// NewOpenAI creates an invoker for the chat completions API. Extra options
// are appended after the ones derived from cfg.
func NewOpenAI(cfg Config, logger *slog.Logger, opts ...option.RequestOption) *OpenAIInvoker {
	if logger == nil {
		logger = slog.Default()
	}

	options := []option.RequestOption{}
	if cfg.OpenAIBaseURL != "" {
		options = append(options, option.WithBaseURL(cfg.OpenAIBaseURL))
	}
	if cfg.OpenAIAPIKey == "" {
		logger.Info("OPENAI_API_KEY is not set, will try unauthenticated access")
	} else {
		options = append(options, option.WithAPIKey(cfg.OpenAIAPIKey))
	}
	options = append(options, opts...)

	model := cfg.OpenAIModel
	if model == "" {
		model = "gpt-4-turbo-preview"
	}

	return &OpenAIInvoker{
		client:      openai.NewClient(options...),
		model:       model,
		maxTokens:   int64(cfg.MaxTokens),
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		logger:      logger,
	}
}

// Name implements Invoker.
func (o *OpenAIInvoker) Name() string { return ProviderOpenAI }

// Invoke implements Invoker.
func (o *OpenAIInvoker) Invoke(ctx context.Context, systemPrompt string, payload ContextPayload) (*Reply, error) {
	user, err := payload.Render()
	if err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, o.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(user),
		},
		Model:       o.model,
		Temperature: openai.Float(o.temperature),
	}
	if o.maxTokens > 0 {
		params.MaxTokens = openai.Int(o.maxTokens)
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errNoChoices
	}

	o.logger.Debug("OpenAI reply received",
		"model", o.model,
		"total_tokens", resp.Usage.TotalTokens,
		"size", len(resp.Choices[0].Message.Content),
	)

	return &Reply{
		Content:     resp.Choices[0].Message.Content,
		TotalTokens: resp.Usage.TotalTokens,
	}, nil
}

var _ Invoker = (*OpenAIInvoker)(nil)
