package config

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "GRPC_PORT", "DB_PATH", "LOG_LEVEL", "CORS_ORIGINS",
		"API2_URL", "API2_TIMEOUT", "API2_LIMIT", "AGENT_PROVIDER",
		"AGENT_TIMEOUT", "AGENT_MAX_TOKENS", "AGENT_TEMPERATURE",
		"MOCK_AGENT_DELAY", "SESSION_IDLE_TTL", "SESSION_SWEEP_SCHEDULE",
	} {
		// Setenv restores the original value on cleanup.
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Port)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.True(t, cfg.AllowsAnyOrigin())
	assert.Equal(t, 10*time.Second, cfg.Retrieval.Timeout)
	assert.Equal(t, 5, cfg.Retrieval.Limit)
	assert.Equal(t, "auto", cfg.Agent.Provider)
	assert.Equal(t, 30*time.Second, cfg.Agent.Timeout)
	assert.InDelta(t, 0.1, cfg.Agent.Temperature, 1e-9)
	assert.False(t, cfg.Sweeper.Enabled())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CORS_ORIGINS", "https://shop.example, https://admin.example ,")
	t.Setenv("API2_LIMIT", "3")
	t.Setenv("AGENT_PROVIDER", "Anthropic")
	t.Setenv("MOCK_AGENT_DELAY", "250ms")
	t.Setenv("SESSION_IDLE_TTL", "30m")
	t.Setenv("SESSION_SWEEP_SCHEDULE", "*/10 * * * *")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, []string{"https://shop.example", "https://admin.example"}, cfg.CORSOrigins)
	assert.False(t, cfg.AllowsAnyOrigin())
	assert.Equal(t, 3, cfg.Retrieval.Limit)
	assert.Equal(t, "anthropic", cfg.Agent.Provider)
	assert.Equal(t, 250*time.Millisecond, cfg.Agent.MockDelay)
	assert.True(t, cfg.Sweeper.Enabled())
	assert.Equal(t, 30*time.Minute, cfg.Sweeper.IdleTTL)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown provider", "AGENT_PROVIDER", "gemini"},
		{"bad log level", "LOG_LEVEL", "loud"},
		{"zero limit", "API2_LIMIT", "0"},
		{"empty db path", "DB_PATH", ""},
		{"negative ttl", "SESSION_IDLE_TTL", "-1m"},
		{"temperature out of range", "AGENT_TEMPERATURE", "3.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
		})
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("X_INT", "nope")
	t.Setenv("X_DUR", "soon")
	t.Setenv("X_FLOAT", "0.75")

	assert.Equal(t, 7, getEnvInt("X_INT", 7))
	assert.Equal(t, time.Minute, getEnvDuration("X_DUR", time.Minute))
	assert.InDelta(t, 0.75, getEnvFloat("X_FLOAT", 0), 1e-9)
	assert.Equal(t, "fallback", getEnv("X_MISSING_KEY", "fallback"))
	assert.Equal(t, []string{"a"}, getEnvList("X_MISSING_LIST", []string{"a"}))
}
