package triage

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when the referenced session does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionClosed is returned when a message targets a closed session.
	ErrSessionClosed = errors.New("session is closed")
	// ErrInvalidSource is returned for a session source outside the known set.
	ErrInvalidSource = errors.New("invalid session source")
	// ErrEmptyMessage is returned for a blank report.
	ErrEmptyMessage = errors.New("message cannot be empty")
	// ErrAgentProcessingFailed marks any failure between retrieval and
	// persisting the agent's answer.
	ErrAgentProcessingFailed = errors.New("agent processing failed")
)

// ProcessingError wraps the cause of a failed analysis. It matches both
// ErrAgentProcessingFailed and the cause under errors.Is.
type ProcessingError struct {
	SessionID       string
	SystemMessageID string
	Cause           error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("%s: %v", ErrAgentProcessingFailed, e.Cause)
}

// Unwrap implements multi-error unwrapping.
func (e *ProcessingError) Unwrap() []error {
	return []error{ErrAgentProcessingFailed, e.Cause}
}
