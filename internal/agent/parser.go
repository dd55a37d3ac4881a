package agent

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ashureev/backlog-triage/internal/domain"
)

// ErrMalformedResponse is returned when no JSON object with the required
// fields can be recovered from a model reply.
var ErrMalformedResponse = errors.New("malformed agent response")

// DefaultConfidence is used when the model omits confidence or sends a
// non-numeric value.
const DefaultConfidence = 0.5

// ParseStrategy extracts a candidate JSON document from raw model text.
type ParseStrategy interface {
	Name() string
	Extract(raw string) (string, bool)
}

type strictJSON struct{}

func (strictJSON) Name() string { return "strict_json" }

// Extract accepts the whole reply when it is valid JSON of any kind; a
// non-object is rejected later by validation, not retried.
func (strictJSON) Extract(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if !gjson.Valid(trimmed) {
		return "", false
	}
	return trimmed, true
}

type embeddedObject struct{}

func (embeddedObject) Name() string { return "embedded_object" }

// Extract takes the span from the first '{' to the last '}'.
func (embeddedObject) Extract(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return "", false
	}
	candidate := raw[start : end+1]
	if !gjson.Valid(candidate) {
		return "", false
	}
	return candidate, true
}

// Parsed is a recovered analysis together with the JSON it came from.
type Parsed struct {
	Result   *domain.AnalysisResult
	Object   string
	Strategy string
}

// Parser runs an ordered chain of strategies and stops at the first one that
// yields valid JSON.
type Parser struct {
	strategies []ParseStrategy
}

// NewParser returns a parser that tries the whole reply as JSON first and
// then the outermost embedded object.
func NewParser(strategies ...ParseStrategy) *Parser {
	if len(strategies) == 0 {
		strategies = []ParseStrategy{strictJSON{}, embeddedObject{}}
	}
	return &Parser{strategies: strategies}
}

// Parse recovers an analysis from raw model text.
func (p *Parser) Parse(raw string) (*Parsed, error) {
	for _, s := range p.strategies {
		object, ok := s.Extract(raw)
		if !ok {
			continue
		}
		result, err := decodeAnalysis(object)
		if err != nil {
			return nil, err
		}
		return &Parsed{Result: result, Object: object, Strategy: s.Name()}, nil
	}
	return nil, fmt.Errorf("%w: reply is not valid JSON", ErrMalformedResponse)
}

func decodeAnalysis(object string) (*domain.AnalysisResult, error) {
	doc := gjson.Parse(object)
	if !doc.IsObject() {
		return nil, fmt.Errorf("%w: reply is not a JSON object", ErrMalformedResponse)
	}

	typ := field(doc, "type")
	summary := field(doc, "problem_summary")
	if typ.Type != gjson.String || strings.TrimSpace(typ.Str) == "" ||
		summary.Type != gjson.String || strings.TrimSpace(summary.Str) == "" {
		return nil, fmt.Errorf("%w: missing type or problem_summary", ErrMalformedResponse)
	}

	result := &domain.AnalysisResult{
		Type:           typ.Str,
		ProblemSummary: summary.Str,
		Category:       domain.Category(field(doc, "category").String()),
		Severity:       domain.Severity(field(doc, "severity").String()),
		PriorityGuess:  int(field(doc, "priority_guess").Int()),
		AgentNotes:     field(doc, "agent_notes").String(),
	}

	m := field(doc, "metrics")
	result.Metrics = domain.Metrics{
		TokensUsed:    field(m, "tokens_used").Int(),
		LatencyMs:     field(m, "latency_ms").Int(),
		API2DocsCount: int(field(m, "api2_docs_count").Int()),
		Confidence:    field(m, "confidence").Float(),
	}
	for _, id := range field(m, "api2_docs_ids").Array() {
		result.Metrics.API2DocsIDs = append(result.Metrics.API2DocsIDs, id.String())
	}
	return result, nil
}

// field returns the member key of obj. When a key repeats, the last
// occurrence wins, matching encoding/json.
func field(obj gjson.Result, key string) gjson.Result {
	var last gjson.Result
	if !obj.IsObject() {
		return last
	}
	obj.ForEach(func(k, v gjson.Result) bool {
		if k.Str == key {
			last = v
		}
		return true
	})
	return last
}

// Measurements are the figures observed by the pipeline itself. They replace
// whatever the model claimed.
type Measurements struct {
	LatencyMs          int64
	DocIDs             []string
	API2ProcessingTime int64
	TokensUsed         int64
}

// Normalize overwrites the model-reported metrics with measured values and
// settles confidence.
func Normalize(result *domain.AnalysisResult, object string, m Measurements) {
	ids := m.DocIDs
	if ids == nil {
		ids = []string{}
	}
	processing := m.API2ProcessingTime

	result.Metrics.LatencyMs = m.LatencyMs
	result.Metrics.API2DocsCount = len(ids)
	result.Metrics.API2DocsIDs = ids
	result.Metrics.API2ProcessingTime = &processing
	result.Metrics.TokensUsed = m.TokensUsed
	result.Metrics.Confidence = confidenceFrom(object)
}

func confidenceFrom(object string) float64 {
	c := field(field(gjson.Parse(object), "metrics"), "confidence")
	if c.Type != gjson.Number {
		return DefaultConfidence
	}
	switch v := c.Float(); {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
