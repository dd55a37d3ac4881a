// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	GRPCPort    string
	DBPath      string
	LogLevel    slog.Level
	CORSOrigins []string
	Retrieval   RetrievalConfig
	Agent       AgentConfig
	Sweeper     SweeperConfig
}

// RetrievalConfig configures the knowledge service client.
type RetrievalConfig struct {
	URL     string
	Timeout time.Duration
	Limit   int
}

// AgentConfig selects and tunes the model provider.
type AgentConfig struct {
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
	PromptFile      string
}

// SweeperConfig controls automatic closing of idle sessions.
type SweeperConfig struct {
	IdleTTL  time.Duration
	Schedule string
}

// Enabled reports whether idle sessions should be closed automatically.
func (s SweeperConfig) Enabled() bool {
	return s.IdleTTL > 0
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	level, err := parseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg := &Config{
		Port:        getEnv("PORT", "3000"),
		GRPCPort:    getEnv("GRPC_PORT", ""),
		DBPath:      getEnv("DB_PATH", "./data/backlog.db"),
		LogLevel:    level,
		CORSOrigins: getEnvList("CORS_ORIGINS", []string{"*"}),
		Retrieval: RetrievalConfig{
			URL:     getEnv("API2_URL", "http://api2:3000"),
			Timeout: getEnvDuration("API2_TIMEOUT", 10*time.Second),
			Limit:   getEnvInt("API2_LIMIT", 5),
		},
		Agent: AgentConfig{
			Provider:        strings.ToLower(getEnv("AGENT_PROVIDER", "auto")),
			OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
			OpenAIModel:     getEnv("OPENAI_MODEL", "gpt-4-turbo-preview"),
			OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", ""),
			AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
			AnthropicModel:  getEnv("ANTHROPIC_MODEL", "claude-3-5-haiku-latest"),
			Timeout:         getEnvDuration("AGENT_TIMEOUT", 30*time.Second),
			MaxTokens:       getEnvInt("AGENT_MAX_TOKENS", 1000),
			Temperature:     getEnvFloat("AGENT_TEMPERATURE", 0.1),
			MockDelay:       getEnvDuration("MOCK_AGENT_DELAY", time.Second),
			PromptFile:      getEnv("AGENT_PROMPT_FILE", ""),
		},
		Sweeper: SweeperConfig{
			IdleTTL:  getEnvDuration("SESSION_IDLE_TTL", 0),
			Schedule: getEnv("SESSION_SWEEP_SCHEDULE", "@every 5m"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Retrieval.URL == "" {
		return fmt.Errorf("API2_URL cannot be empty")
	}
	if c.Retrieval.Limit <= 0 {
		return fmt.Errorf("API2_LIMIT must be > 0")
	}
	if c.Retrieval.Timeout <= 0 {
		return fmt.Errorf("API2_TIMEOUT must be > 0")
	}
	switch c.Agent.Provider {
	case "auto", "openai", "anthropic", "mock":
	default:
		return fmt.Errorf("AGENT_PROVIDER must be one of auto, openai, anthropic, mock")
	}
	if c.Agent.Timeout <= 0 {
		return fmt.Errorf("AGENT_TIMEOUT must be > 0")
	}
	if c.Agent.MaxTokens <= 0 {
		return fmt.Errorf("AGENT_MAX_TOKENS must be > 0")
	}
	if c.Agent.Temperature < 0 || c.Agent.Temperature > 2 {
		return fmt.Errorf("AGENT_TEMPERATURE must be between 0 and 2")
	}
	if c.Agent.MockDelay < 0 {
		return fmt.Errorf("MOCK_AGENT_DELAY cannot be negative")
	}
	if c.Sweeper.IdleTTL < 0 {
		return fmt.Errorf("SESSION_IDLE_TTL cannot be negative")
	}
	if c.Sweeper.Enabled() && c.Sweeper.Schedule == "" {
		return fmt.Errorf("SESSION_SWEEP_SCHEDULE cannot be empty when SESSION_IDLE_TTL is set")
	}
	return nil
}

// AllowsAnyOrigin reports whether CORS is open to every origin.
func (c *Config) AllowsAnyOrigin() bool {
	for _, o := range c.CORSOrigins {
		if o == "*" {
			return true
		}
	}
	return len(c.CORSOrigins) == 0
}

func parseLevel(value string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return level, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
