// Backlog triage server: support widget chat, analysis pipeline and backlog.
package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/backlog-triage/internal/agent"
	"github.com/ashureev/backlog-triage/internal/config"
	"github.com/ashureev/backlog-triage/internal/retrieval"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "backlog-triage",
	Short: "Support widget triage service",
	Long: `backlog-triage accepts problem reports from the support widget, looks up
related knowledge base articles, asks a language model to classify the report
and files a backlog task for every actionable analysis.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.AddCommand(newServeCmd(), newAnalyzeCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

// bootstrap loads the environment and configuration and installs the JSON
// default logger.
func bootstrap() (*config.Config, *slog.Logger, error) {
	if err := godotenv.Load(envFile); err != nil {
		slog.Info("No .env file found, using environment variables", "path", envFile)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// newPipelineParts builds the retriever, invoker and system prompt shared
// by every command.
func newPipelineParts(cfg *config.Config, logger *slog.Logger) (retrieval.Retriever, agent.Invoker, string, error) {
	retriever := retrieval.NewHTTPClient(retrieval.Config{
		BaseURL: cfg.Retrieval.URL,
		Limit:   cfg.Retrieval.Limit,
		Timeout: cfg.Retrieval.Timeout,
	}, logger)

	invoker, err := agent.New(agent.Config{
		Provider:        cfg.Agent.Provider,
		OpenAIAPIKey:    cfg.Agent.OpenAIAPIKey,
		OpenAIModel:     cfg.Agent.OpenAIModel,
		OpenAIBaseURL:   cfg.Agent.OpenAIBaseURL,
		AnthropicAPIKey: cfg.Agent.AnthropicAPIKey,
		AnthropicModel:  cfg.Agent.AnthropicModel,
		Timeout:         cfg.Agent.Timeout,
		MaxTokens:       cfg.Agent.MaxTokens,
		Temperature:     cfg.Agent.Temperature,
		MockDelay:       cfg.Agent.MockDelay,
	}, logger)
	if err != nil {
		return nil, nil, "", err
	}

	prompt, err := agent.LoadSystemPrompt(cfg.Agent.PromptFile)
	if err != nil {
		return nil, nil, "", err
	}
	return retriever, invoker, prompt, nil
}
