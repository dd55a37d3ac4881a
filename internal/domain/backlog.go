package domain

import (
	"time"
)

// TaskMetrics is the flattened analysis metrics stored with a backlog task.
type TaskMetrics struct {
	TotalTokens          int64   `json:"total_tokens"`
	TotalLatencyMs       int64   `json:"total_latency_ms"`
	API2Calls            int     `json:"api2_calls"`
	AgentConfidence      float64 `json:"agent_confidence"`
	CreatedFromSessionID string  `json:"created_from_session_id"`
}

// BacklogTask is a durable ticket derived from an analysis. It is never
// modified after creation.
type BacklogTask struct {
	ID         string      `json:"id"`
	TicketText string      `json:"ticket_text"`
	AISummary  string      `json:"ai_summary"`
	Severity   Severity    `json:"severity"`
	Priority   int         `json:"priority"`
	Metrics    TaskMetrics `json:"metrics"`
	CreatedAt  time.Time   `json:"created_at"`
}

// SeverityStat aggregates backlog tasks of one severity.
type SeverityStat struct {
	Severity    Severity `json:"severity"`
	Count       int64    `json:"count"`
	AvgPriority float64  `json:"avg_priority"`
}

// Stats is the aggregate view used by the admin metrics endpoint.
type Stats struct {
	TotalSessions     int64          `json:"total_sessions"`
	OpenSessions      int64          `json:"open_sessions"`
	ClosedSessions    int64          `json:"closed_sessions"`
	TotalTasks        int64          `json:"total_tasks"`
	AvgResponseTimeMs float64        `json:"avg_response_time_ms"`
	TasksBySeverity   []SeverityStat `json:"tasks_by_severity"`
}
