// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Message outcomes.
const (
	OutcomeAnalyzed = "analyzed"
	OutcomeFailed   = "failed"
	OutcomeRejected = "rejected"
)

// Retrieval modes.
const (
	RetrievalLive     = "live"
	RetrievalDegraded = "degraded"
)

// Session close reasons.
const (
	CloseExplicit = "explicit"
	CloseIdle     = "idle"
)

var messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "triage_messages_total",
	Help: "Inbound messages by pipeline outcome",
}, []string{"outcome"})

var retrievalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "triage_retrievals_total",
	Help: "Knowledge lookups by mode",
}, []string{"mode"})

var agentLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "triage_agent_latency_millis",
	Help:    "Milliseconds spent waiting for the agent",
	Buckets: []float64{100, 250, 500, 1000, 2500, 5000, 10000, 30000},
}, []string{"provider"})

var backlogTasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "triage_backlog_tasks_total",
	Help: "Backlog tasks created by severity",
}, []string{"severity"})

var sessionsClosedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "triage_sessions_closed_total",
	Help: "Sessions moved to closed by reason",
}, []string{"reason"})

// Prometheus records pipeline events into the package collectors.
type Prometheus struct{}

// MessageHandled counts one inbound message.
func (Prometheus) MessageHandled(outcome string) {
	messagesTotal.WithLabelValues(outcome).Inc()
}

// Retrieval counts one knowledge lookup.
func (Prometheus) Retrieval(degraded bool) {
	mode := RetrievalLive
	if degraded {
		mode = RetrievalDegraded
	}
	retrievalsTotal.WithLabelValues(mode).Inc()
}

// AgentLatency observes one agent call.
func (Prometheus) AgentLatency(provider string, d time.Duration) {
	agentLatency.WithLabelValues(provider).Observe(float64(d.Milliseconds()))
}

// TaskCreated counts one backlog task.
func (Prometheus) TaskCreated(severity string) {
	backlogTasksTotal.WithLabelValues(severity).Inc()
}

// SessionClosed counts one open to closed transition.
func (Prometheus) SessionClosed(reason string) {
	sessionsClosedTotal.WithLabelValues(reason).Inc()
}
