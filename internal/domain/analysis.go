package domain

// AnalysisResultType is the only result type that produces a backlog task.
const AnalysisResultType = "analysis_result"

// Category classifies a reported problem.
type Category string

const (
	CategoryBug         Category = "bug"
	CategoryQuestion    Category = "question"
	CategoryImprovement Category = "improvement"
)

// Severity is the impact level assigned by the agent.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is one of the known severity levels.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Priority bounds; 1 is the most urgent.
const (
	PriorityHighest = 1
	PriorityLowest  = 5
	PriorityDefault = 3
)

// Metrics describes how an analysis was produced.
type Metrics struct {
	TokensUsed         int64    `json:"tokens_used"`
	LatencyMs          int64    `json:"latency_ms"`
	API2DocsCount      int      `json:"api2_docs_count"`
	API2DocsIDs        []string `json:"api2_docs_ids"`
	Confidence         float64  `json:"confidence"`
	API2ProcessingTime *int64   `json:"api2_processing_time,omitempty"`
}

// AsMap flattens the metrics into message metadata.
func (m Metrics) AsMap() map[string]any {
	ids := m.API2DocsIDs
	if ids == nil {
		ids = []string{}
	}
	out := map[string]any{
		"tokens_used":     m.TokensUsed,
		"latency_ms":      m.LatencyMs,
		"api2_docs_count": m.API2DocsCount,
		"api2_docs_ids":   ids,
		"confidence":      m.Confidence,
	}
	if m.API2ProcessingTime != nil {
		out["api2_processing_time"] = *m.API2ProcessingTime
	}
	return out
}

// AnalysisResult is the structured classification returned by the agent.
type AnalysisResult struct {
	Type           string   `json:"type"`
	ProblemSummary string   `json:"problem_summary"`
	Category       Category `json:"category"`
	Severity       Severity `json:"severity"`
	PriorityGuess  int      `json:"priority_guess"`
	AgentNotes     string   `json:"agent_notes"`
	Metrics        Metrics  `json:"metrics"`
}

// CreatesTask returns true when the result should be materialized as a
// backlog task.
func (r *AnalysisResult) CreatesTask() bool {
	return r.Type == AnalysisResultType
}
