package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/backlog-triage/internal/domain"
)

const validReply = `{
  "type": "analysis_result",
  "problem_summary": "Сайт отвечает 404 на главной",
  "category": "bug",
  "severity": "high",
  "priority_guess": 2,
  "agent_notes": "check nginx",
  "metrics": {
    "tokens_used": 999,
    "latency_ms": 1,
    "api2_docs_count": 7,
    "api2_docs_ids": ["x"],
    "confidence": 0.85
  }
}`

func TestParser_Strategies(t *testing.T) {
	p := NewParser()

	tests := []struct {
		name     string
		raw      string
		strategy string
	}{
		{"strict", validReply, "strict_json"},
		{"strict with whitespace", "\n  " + validReply + "\n", "strict_json"},
		{"fenced", "```json\n" + validReply + "\n```", "embedded_object"},
		{"prose around object", "Вот анализ: " + validReply + " Спасибо!", "embedded_object"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := p.Parse(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.strategy, parsed.Strategy)
			assert.Equal(t, domain.AnalysisResultType, parsed.Result.Type)
			assert.Equal(t, domain.CategoryBug, parsed.Result.Category)
			assert.Equal(t, domain.SeverityHigh, parsed.Result.Severity)
			assert.Equal(t, 2, parsed.Result.PriorityGuess)
			assert.Equal(t, []string{"x"}, parsed.Result.Metrics.API2DocsIDs)
		})
	}
}

func TestParser_Malformed(t *testing.T) {
	p := NewParser()

	tests := []struct {
		name string
		raw  string
	}{
		{"not json at all", "not json at all"},
		{"empty", ""},
		{"array", `[{"type":"analysis_result"}]`},
		{"array holding a valid analysis", `[{"type":"analysis_result","problem_summary":"x"}]`},
		{"json string", `"{\"type\":\"analysis_result\",\"problem_summary\":\"x\"}"`},
		{"json number", `42`},
		{"repeated key blanks summary", `{"type":"analysis_result","problem_summary":"first","problem_summary":""}`},
		{"missing summary", `{"type":"analysis_result"}`},
		{"missing type", `{"problem_summary":"x"}`},
		{"blank type", `{"type":"  ","problem_summary":"x"}`},
		{"broken embedded", "prefix {\"type\": oops} suffix"},
		{"reversed braces", "} nothing {"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Parse(tt.raw)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

func TestParser_ValidJSONNeverFallsThrough(t *testing.T) {
	_, err := NewParser(strictJSON{}, recordingStrategy{t: t}).Parse(`[1, 2, {"type":"analysis_result","problem_summary":"x"}]`)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

type recordingStrategy struct{ t *testing.T }

func (recordingStrategy) Name() string { return "recording" }

func (r recordingStrategy) Extract(string) (string, bool) {
	r.t.Error("second strategy attempted for valid JSON")
	return "", false
}

func TestParser_RepeatedKeysLastWins(t *testing.T) {
	parsed, err := NewParser().Parse(`{"type":"analysis_result","problem_summary":"","problem_summary":"second","severity":"low","severity":"high","metrics":{"confidence":0.1,"confidence":0.9}}`)
	require.NoError(t, err)
	assert.Equal(t, "second", parsed.Result.ProblemSummary)
	assert.Equal(t, domain.SeverityHigh, parsed.Result.Severity)

	Normalize(parsed.Result, parsed.Object, Measurements{})
	assert.InDelta(t, 0.9, parsed.Result.Metrics.Confidence, 1e-9)
}

func TestParser_KeepsNonAnalysisTypes(t *testing.T) {
	parsed, err := NewParser().Parse(`{"type":"clarification_request","problem_summary":"Нужны детали"}`)
	require.NoError(t, err)
	assert.Equal(t, "clarification_request", parsed.Result.Type)
	assert.False(t, parsed.Result.CreatesTask())
}

func TestNormalize(t *testing.T) {
	t.Run("measured values replace reported ones", func(t *testing.T) {
		parsed, err := NewParser().Parse(validReply)
		require.NoError(t, err)

		Normalize(parsed.Result, parsed.Object, Measurements{
			LatencyMs:          420,
			DocIDs:             []string{"web-101", "nginx-45", "dns-22"},
			API2ProcessingTime: 37,
			TokensUsed:         180,
		})

		m := parsed.Result.Metrics
		assert.EqualValues(t, 420, m.LatencyMs)
		assert.Equal(t, 3, m.API2DocsCount)
		assert.Equal(t, []string{"web-101", "nginx-45", "dns-22"}, m.API2DocsIDs)
		require.NotNil(t, m.API2ProcessingTime)
		assert.EqualValues(t, 37, *m.API2ProcessingTime)
		assert.EqualValues(t, 180, m.TokensUsed)
		assert.InDelta(t, 0.85, m.Confidence, 1e-9)
	})

	t.Run("confidence defaults and clamps", func(t *testing.T) {
		tests := []struct {
			name   string
			object string
			want   float64
		}{
			{"absent", `{"type":"analysis_result","problem_summary":"s"}`, DefaultConfidence},
			{"string", `{"type":"analysis_result","problem_summary":"s","metrics":{"confidence":"high"}}`, DefaultConfidence},
			{"null", `{"type":"analysis_result","problem_summary":"s","metrics":{"confidence":null}}`, DefaultConfidence},
			{"above one", `{"type":"analysis_result","problem_summary":"s","metrics":{"confidence":4}}`, 1},
			{"negative", `{"type":"analysis_result","problem_summary":"s","metrics":{"confidence":-0.2}}`, 0},
			{"zero is kept", `{"type":"analysis_result","problem_summary":"s","metrics":{"confidence":0}}`, 0},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				parsed, err := NewParser().Parse(tt.object)
				require.NoError(t, err)
				Normalize(parsed.Result, parsed.Object, Measurements{})
				assert.InDelta(t, tt.want, parsed.Result.Metrics.Confidence, 1e-9)
			})
		}
	})

	t.Run("no documents yields empty id list", func(t *testing.T) {
		parsed, err := NewParser().Parse(validReply)
		require.NoError(t, err)
		Normalize(parsed.Result, parsed.Object, Measurements{})
		assert.Equal(t, 0, parsed.Result.Metrics.API2DocsCount)
		assert.NotNil(t, parsed.Result.Metrics.API2DocsIDs)
		assert.Empty(t, parsed.Result.Metrics.API2DocsIDs)
	})
}
