// Package domain contains core domain types for the triage service.
package domain

import (
	"time"
)

// SessionSource identifies where a chat session was opened from.
type SessionSource string

const (
	SourceWidget SessionSource = "widget"
	SourceAgent  SessionSource = "agent"
	SourceAdmin  SessionSource = "admin"
)

// Valid reports whether s is one of the known sources.
func (s SessionSource) Valid() bool {
	switch s {
	case SourceWidget, SourceAgent, SourceAdmin:
		return true
	}
	return false
}

// SessionStatus is the lifecycle state of a chat session.
type SessionStatus string

const (
	StatusOpen   SessionStatus = "open"
	StatusClosed SessionStatus = "closed"
)

// BrowserSession is optional client metadata captured by the widget.
type BrowserSession struct {
	UserAgent        string `json:"user_agent,omitempty"`
	IPAddress        string `json:"ip_address,omitempty"`
	ScreenResolution string `json:"screen_resolution,omitempty"`
	Timezone         string `json:"timezone,omitempty"`
}

// ChatSession is one reporting conversation. Messages and backlog tasks
// reference it by ID.
type ChatSession struct {
	ID             string          `json:"id"`
	Source         SessionSource   `json:"source"`
	Status         SessionStatus   `json:"status"`
	BrowserSession *BrowserSession `json:"browser_session,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// IsOpen returns true while the session accepts messages.
func (s *ChatSession) IsOpen() bool {
	return s.Status == StatusOpen
}

// IdleFor returns how long the session has gone without activity.
func (s *ChatSession) IdleFor(now time.Time) time.Duration {
	idle := now.Sub(s.UpdatedAt)
	if idle < 0 {
		return 0
	}
	return idle
}

// SessionWithMessages is a session together with its ordered transcript.
type SessionWithMessages struct {
	ChatSession
	Messages []*ChatMessage `json:"messages"`
}
