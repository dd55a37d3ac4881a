// Package triage runs inbound problem reports through retrieval, the agent
// and the backlog.
package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/backlog-triage/internal/agent"
	"github.com/ashureev/backlog-triage/internal/backlog"
	"github.com/ashureev/backlog-triage/internal/domain"
	"github.com/ashureev/backlog-triage/internal/metrics"
	"github.com/ashureev/backlog-triage/internal/retrieval"
	"github.com/ashureev/backlog-triage/internal/store"
)

// dryRunSessionID identifies the synthetic session used by Analyze.
const dryRunSessionID = "test-session"

// Recorder receives pipeline events for metrics.
type Recorder interface {
	MessageHandled(outcome string)
	Retrieval(degraded bool)
	AgentLatency(provider string, d time.Duration)
	TaskCreated(severity string)
	SessionClosed(reason string)
}

// Publisher fans persisted messages out to live subscribers.
type Publisher interface {
	Publish(msg *domain.ChatMessage)
	CloseSession(sessionID string)
}

type nopRecorder struct{}

func (nopRecorder) MessageHandled(string) {}
func (nopRecorder) Retrieval(bool) {}
func (nopRecorder) AgentLatency(string, time.Duration) {}
func (nopRecorder) TaskCreated(string) {}
func (nopRecorder) SessionClosed(string) {}

type nopPublisher struct{}

func (nopPublisher) Publish(*domain.ChatMessage) {}
func (nopPublisher) CloseSession(string) {}

// CreateSessionInput describes a new session.
type CreateSessionInput struct {
	Source         domain.SessionSource
	BrowserSession *domain.BrowserSession
}

// Result is returned for a successfully analyzed message.
type Result struct {
	SessionID      string                 `json:"session_id"`
	UserMessageID  string                 `json:"user_message_id"`
	AgentMessageID string                 `json:"agent_message_id"`
	Analysis       *domain.AnalysisResult `json:"agent_response"`
	BacklogTaskID  string                 `json:"backlog_task_id,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
}

// Service is the triage pipeline. Each HandleMessage call runs its steps
// strictly in sequence.
type Service struct {
	repo         store.Repository
	retriever    retrieval.Retriever
	invoker      agent.Invoker
	parser       *agent.Parser
	systemPrompt string
	feed         Publisher
	metrics      Recorder
	logger       *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewService creates the pipeline.
func NewService(repo store.Repository, retriever retrieval.Retriever, invoker agent.Invoker, systemPrompt string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if systemPrompt == "" {
		systemPrompt = agent.DefaultSystemPrompt
	}
	return &Service{
		repo:         repo,
		retriever:    retriever,
		invoker:      invoker,
		parser:       agent.NewParser(),
		systemPrompt: systemPrompt,
		feed:         nopPublisher{},
		metrics:      nopRecorder{},
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
		newID:        uuid.NewString,
	}
}

// SetFeed sets the publisher notified of persisted messages.
func (s *Service) SetFeed(feed Publisher) {
	if feed != nil {
		s.feed = feed
	}
}

// SetMetrics sets the metrics recorder.
func (s *Service) SetMetrics(rec Recorder) {
	if rec != nil {
		s.metrics = rec
	}
}

// CreateSession opens a new session.
func (s *Service) CreateSession(ctx context.Context, in CreateSessionInput) (*domain.ChatSession, error) {
	if !in.Source.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSource, in.Source)
	}

	now := s.now()
	session := &domain.ChatSession{
		ID:             s.newID(),
		Source:         in.Source,
		Status:         domain.StatusOpen,
		BrowserSession: in.BrowserSession,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.logger.Info("Session created", "session_id", session.ID, "source", session.Source)
	return session, nil
}

// GetSession returns a session with its ordered transcript.
func (s *Service) GetSession(ctx context.Context, id string) (*domain.SessionWithMessages, error) {
	session, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	messages, err := s.repo.ListMessages(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return &domain.SessionWithMessages{ChatSession: *session, Messages: messages}, nil
}

// CloseSession closes an open session. Closing a closed session returns it
// unchanged.
func (s *Service) CloseSession(ctx context.Context, id string) (*domain.ChatSession, error) {
	changed, err := s.repo.CloseSession(ctx, id, s.now())
	if err != nil {
		return nil, fmt.Errorf("close session: %w", err)
	}

	session, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	if changed {
		s.metrics.SessionClosed(metrics.CloseExplicit)
		s.feed.CloseSession(id)
		s.logger.Info("Session closed", "session_id", id)
	}
	return session, nil
}

// HandleMessage records a report, classifies it and, for analysis results,
// files a backlog task. Closed or unknown sessions are rejected before any
// side effect. Any failure after the report is stored, including refreshing
// the session, leaves a system entry in the transcript and returns a
// *ProcessingError.
func (s *Service) HandleMessage(ctx context.Context, sessionID, text string, metadata map[string]any) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		s.metrics.MessageHandled(metrics.OutcomeRejected)
		return nil, ErrEmptyMessage
	}

	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session == nil {
		s.metrics.MessageHandled(metrics.OutcomeRejected)
		return nil, ErrSessionNotFound
	}
	if !session.IsOpen() {
		s.metrics.MessageHandled(metrics.OutcomeRejected)
		return nil, ErrSessionClosed
	}

	if metadata == nil {
		metadata = map[string]any{}
	}
	userMsg := &domain.ChatMessage{
		ID:        s.newID(),
		SessionID: sessionID,
		Role:      domain.RoleUser,
		Message:   text,
		Metadata:  metadata,
		CreatedAt: s.now(),
	}
	if err := s.repo.AppendMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("save user message: %w", err)
	}
	s.feed.Publish(userMsg)

	if err := s.repo.TouchSession(ctx, sessionID, s.now()); err != nil {
		return nil, s.recordFailure(ctx, sessionID, fmt.Errorf("touch session: %w", err))
	}

	analysis, err := s.analyze(ctx, session, text)
	if err != nil {
		return nil, s.recordFailure(ctx, sessionID, err)
	}

	agentMsg, task, err := s.materialize(sessionID, text, analysis)
	if err != nil {
		return nil, s.recordFailure(ctx, sessionID, err)
	}
	if err := s.repo.SaveAnalysis(ctx, agentMsg, task); err != nil {
		return nil, s.recordFailure(ctx, sessionID, fmt.Errorf("save analysis: %w", err))
	}
	s.feed.Publish(agentMsg)

	result := &Result{
		SessionID:      sessionID,
		UserMessageID:  userMsg.ID,
		AgentMessageID: agentMsg.ID,
		Analysis:       analysis,
		Timestamp:      s.now(),
	}
	if task != nil {
		result.BacklogTaskID = task.ID
		s.metrics.TaskCreated(string(task.Severity))
	}
	s.metrics.MessageHandled(metrics.OutcomeAnalyzed)

	s.logger.Info("Message analyzed",
		"session_id", sessionID,
		"type", analysis.Type,
		"category", analysis.Category,
		"severity", analysis.Severity,
		"backlog_task_id", result.BacklogTaskID,
		"latency_ms", analysis.Metrics.LatencyMs,
	)
	return result, nil
}

// Analyze classifies text against a synthetic widget session without
// persisting anything.
func (s *Service) Analyze(ctx context.Context, text string) (*domain.AnalysisResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	session := &domain.ChatSession{
		ID:     dryRunSessionID,
		Source: domain.SourceWidget,
		Status: domain.StatusOpen,
	}
	analysis, err := s.analyze(ctx, session, text)
	if err != nil {
		return nil, &ProcessingError{SessionID: dryRunSessionID, Cause: err}
	}
	return analysis, nil
}

func (s *Service) analyze(ctx context.Context, session *domain.ChatSession, text string) (*domain.AnalysisResult, error) {
	outcome := s.retriever.Retrieve(ctx, text)
	s.metrics.Retrieval(outcome.IsDegraded())
	docs := outcome.Result()

	payload := agent.NewContextPayload(text, docs.Docs, session, s.now())

	start := time.Now()
	reply, err := s.invoker.Invoke(ctx, s.systemPrompt, payload)
	elapsed := time.Since(start)
	s.metrics.AgentLatency(s.invoker.Name(), elapsed)
	if err != nil {
		return nil, fmt.Errorf("invoke agent: %w", err)
	}

	parsed, err := s.parser.Parse(reply.Content)
	if err != nil {
		s.logger.Warn("Agent reply rejected", "session_id", session.ID, "error", err, "reply_size", len(reply.Content))
		return nil, err
	}

	agent.Normalize(parsed.Result, parsed.Object, agent.Measurements{
		LatencyMs:          elapsed.Milliseconds(),
		DocIDs:             docs.IDs(),
		API2ProcessingTime: docs.ProcessingTimeMs,
		TokensUsed:         reply.TotalTokens,
	})

	s.logger.Debug("Agent reply parsed",
		"session_id", session.ID,
		"strategy", parsed.Strategy,
		"degraded_retrieval", outcome.IsDegraded(),
	)
	return parsed.Result, nil
}

func (s *Service) materialize(sessionID, text string, analysis *domain.AnalysisResult) (*domain.ChatMessage, *domain.BacklogTask, error) {
	body, err := json.Marshal(analysis)
	if err != nil {
		return nil, nil, fmt.Errorf("encode analysis: %w", err)
	}

	now := s.now()
	msg := &domain.ChatMessage{
		ID:        s.newID(),
		SessionID: sessionID,
		Role:      domain.RoleAgent,
		Message:   string(body),
		Metadata:  analysis.Metrics.AsMap(),
		CreatedAt: now,
	}

	if !analysis.CreatesTask() {
		return msg, nil, nil
	}
	task := backlog.FromAnalysis(analysis, text, sessionID)
	task.ID = s.newID()
	task.CreatedAt = now
	return msg, task, nil
}

// recordFailure writes the system entry on a context detached from the
// request so a client disconnect cannot drop it.
func (s *Service) recordFailure(ctx context.Context, sessionID string, cause error) error {
	s.metrics.MessageHandled(metrics.OutcomeFailed)

	perr := &ProcessingError{SessionID: sessionID, Cause: cause}
	msg := &domain.ChatMessage{
		ID:        s.newID(),
		SessionID: sessionID,
		Role:      domain.RoleSystem,
		Message:   "Agent error: " + cause.Error(),
		Metadata:  map[string]any{"error": true},
		CreatedAt: s.now(),
	}

	if err := s.repo.AppendMessage(context.WithoutCancel(ctx), msg); err != nil {
		s.logger.Error("Failed to record agent failure", "session_id", sessionID, "error", err, "cause", cause)
		return perr
	}
	s.feed.Publish(msg)
	perr.SystemMessageID = msg.ID

	s.logger.Warn("Agent processing failed", "session_id", sessionID, "error", cause)
	return perr
}
