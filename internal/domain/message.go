package domain

import (
	"time"
)

// MessageRole identifies the author of a chat message.
type MessageRole string

const (
	RoleUser   MessageRole = "user"
	RoleAgent  MessageRole = "agent"
	RoleSystem MessageRole = "system"
)

// ChatMessage is one append-only entry of a session transcript.
// For agent entries Message holds the serialized AnalysisResult.
type ChatMessage struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Role      MessageRole    `json:"role"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// IsError returns true for system entries that document a failed analysis.
func (m *ChatMessage) IsError() bool {
	if m.Role != RoleSystem || m.Metadata == nil {
		return false
	}
	flag, _ := m.Metadata["error"].(bool)
	return flag
}
