// Package backlog maps analyses onto backlog tasks.
package backlog

import (
	"github.com/ashureev/backlog-triage/internal/domain"
)

// API2CallsPerAnalysis is the number of knowledge lookups behind one analysis.
const API2CallsPerAnalysis = 1

// FromAnalysis builds an unsaved task from an analysis. ID and CreatedAt are
// left for the caller to assign.
func FromAnalysis(result *domain.AnalysisResult, originalMessage, sessionID string) *domain.BacklogTask {
	return &domain.BacklogTask{
		TicketText: originalMessage,
		AISummary:  result.ProblemSummary,
		Severity:   NormalizeSeverity(result.Severity),
		Priority:   NormalizePriority(result.PriorityGuess),
		Metrics: domain.TaskMetrics{
			TotalTokens:          result.Metrics.TokensUsed,
			TotalLatencyMs:       result.Metrics.LatencyMs,
			API2Calls:            API2CallsPerAnalysis,
			AgentConfidence:      result.Metrics.Confidence,
			CreatedFromSessionID: sessionID,
		},
	}
}

// NormalizeSeverity maps unknown levels to medium.
func NormalizeSeverity(s domain.Severity) domain.Severity {
	if s.Valid() {
		return s
	}
	return domain.SeverityMedium
}

// NormalizePriority clamps p into 1..5. Zero means the model gave no guess.
func NormalizePriority(p int) int {
	switch {
	case p == 0:
		return domain.PriorityDefault
	case p < domain.PriorityHighest:
		return domain.PriorityHighest
	case p > domain.PriorityLowest:
		return domain.PriorityLowest
	default:
		return p
	}
}
