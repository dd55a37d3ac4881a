package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPrometheus_Counters(t *testing.T) {
	var p Prometheus

	before := testutil.ToFloat64(messagesTotal.WithLabelValues(OutcomeAnalyzed))
	p.MessageHandled(OutcomeAnalyzed)
	assert.InDelta(t, before+1, testutil.ToFloat64(messagesTotal.WithLabelValues(OutcomeAnalyzed)), 1e-9)

	degraded := testutil.ToFloat64(retrievalsTotal.WithLabelValues(RetrievalDegraded))
	live := testutil.ToFloat64(retrievalsTotal.WithLabelValues(RetrievalLive))
	p.Retrieval(true)
	p.Retrieval(false)
	p.Retrieval(false)
	assert.InDelta(t, degraded+1, testutil.ToFloat64(retrievalsTotal.WithLabelValues(RetrievalDegraded)), 1e-9)
	assert.InDelta(t, live+2, testutil.ToFloat64(retrievalsTotal.WithLabelValues(RetrievalLive)), 1e-9)

	tasks := testutil.ToFloat64(backlogTasksTotal.WithLabelValues("high"))
	p.TaskCreated("high")
	assert.InDelta(t, tasks+1, testutil.ToFloat64(backlogTasksTotal.WithLabelValues("high")), 1e-9)

	idle := testutil.ToFloat64(sessionsClosedTotal.WithLabelValues(CloseIdle))
	p.SessionClosed(CloseIdle)
	assert.InDelta(t, idle+1, testutil.ToFloat64(sessionsClosedTotal.WithLabelValues(CloseIdle)), 1e-9)
}

func TestPrometheus_AgentLatency(t *testing.T) {
	var p Prometheus
	p.AgentLatency("mock", 1200*time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(agentLatency, "triage_agent_latency_millis"))
}
