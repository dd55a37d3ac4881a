package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ashureev/backlog-triage/internal/triage"
)

func newAnalyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze [message...]",
		Short: "Classify a single report and print the analysis without storing it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}

			retriever, invoker, prompt, err := newPipelineParts(cfg, logger)
			if err != nil {
				return err
			}

			// Analyze never touches the repository.
			svc := triage.NewService(nil, retriever, invoker, prompt, logger)
			result, err := svc.Analyze(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return fmt.Errorf("encode analysis: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}
}
