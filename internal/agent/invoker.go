// Package agent turns a problem report into a structured classification by
// calling a language model.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/backlog-triage/internal/domain"
	"github.com/ashureev/backlog-triage/internal/retrieval"
)

// Provider names accepted by New.
const (
	ProviderAuto      = "auto"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderMock      = "mock"
)

// Invoker sends the instructions and context to a model and returns its raw
// reply.
type Invoker interface {
	Invoke(ctx context.Context, systemPrompt string, payload ContextPayload) (*Reply, error)
	Name() string
}

// Reply is the model's raw text plus reported token usage.
type Reply struct {
	Content     string
	TotalTokens int64
}

// ContextPayload is the user-turn document sent alongside the instructions.
type ContextPayload struct {
	UserMessage    string                 `json:"user_message"`
	API2Docs       []retrieval.Document   `json:"api2_docs"`
	BrowserSession *domain.BrowserSession `json:"browser_session"`
	SessionSource  domain.SessionSource   `json:"session_source"`
	Timestamp      string                 `json:"timestamp"`
}

// NewContextPayload assembles the payload for one report.
func NewContextPayload(message string, docs []retrieval.Document, session *domain.ChatSession, now time.Time) ContextPayload {
	browser := &domain.BrowserSession{}
	var source domain.SessionSource
	if session != nil {
		source = session.Source
		if session.BrowserSession != nil {
			browser = session.BrowserSession
		}
	}
	if docs == nil {
		docs = []retrieval.Document{}
	}
	return ContextPayload{
		UserMessage:    message,
		API2Docs:       docs,
		BrowserSession: browser,
		SessionSource:  source,
		Timestamp:      now.UTC().Format(time.RFC3339),
	}
}

// Render serializes the payload as indented JSON.
func (p ContextPayload) Render() (string, error) {
	b, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "", fmt.Errorf("render context payload: %w", err)
	}
	return string(b), nil
}

// Config selects and configures the model provider.
type Config struct {
	Provider        string
	OpenAIAPIKey    string
	OpenAIModel     string
	OpenAIBaseURL   string
	AnthropicAPIKey string
	AnthropicModel  string
	Timeout         time.Duration
	MaxTokens       int
	Temperature     float64
	MockDelay       time.Duration
}

// New builds the invoker named by cfg.Provider. "auto" prefers OpenAI, then
// Anthropic, and falls back to the stand-in when no key is configured.
func New(cfg Config, logger *slog.Logger) (Invoker, error) {
	if logger == nil {
		logger = slog.Default()
	}

	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" || provider == ProviderAuto {
		switch {
		case cfg.OpenAIAPIKey != "":
			provider = ProviderOpenAI
		case cfg.AnthropicAPIKey != "":
			provider = ProviderAnthropic
		default:
			logger.Warn("No model API key configured, using stand-in agent")
			provider = ProviderMock
		}
	}

	switch provider {
	case ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" && cfg.OpenAIBaseURL == "" {
			return nil, fmt.Errorf("openai provider requires OPENAI_API_KEY or OPENAI_BASE_URL")
		}
		return NewOpenAI(cfg, logger), nil
	case ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("anthropic provider requires ANTHROPIC_API_KEY")
		}
		return NewAnthropic(cfg, logger), nil
	case ProviderMock:
		return NewMock(cfg.MockDelay, logger), nil
	default:
		return nil, fmt.Errorf("unknown agent provider %q", cfg.Provider)
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
