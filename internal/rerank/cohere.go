// Package rerank orders retrieved passages by relevance to a query.
package rerank

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

	"github.com/raphaelgruber/kintel/internal/metrics"
	"github.com/raphaelgruber/kintel/internal/resilience"
)

// Result is one reranked passage. Index points into the documents passed to
// Rerank.
type Result struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

// Cohere is a client for the Cohere rerank endpoint.
type Cohere struct {
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client
	retry      resilience.RetryConfig
	metrics    *metrics.Collector
}

// NewCohere creates a rerank client rooted at baseURL.
func NewCohere(baseURL, apiKey, model string, collector *metrics.Collector) *Cohere {
	return &Cohere{
		endpoint:   strings.TrimSuffix(baseURL, "/") + "/v1/rerank",
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retry:      resilience.RetryConfig{MaxAttempts: 3, InitialDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second, Multiplier: 2},
		metrics:    collector,
	}
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

// rawResult keeps both fields optional so malformed entries can be skipped
// instead of read as index 0 / score 0.
type rawResult struct {
	Index          *int     `json:"index"`
	RelevanceScore *float64 `json:"relevance_score"`
}

type rerankResponse struct {
	Results []rawResult `json:"results"`
}

// Rerank scores documents against query and returns at most topN results,
// best first. Entries missing an index or score, or pointing outside
// documents, are dropped.
func (c *Cohere) Rerank(ctx context.Context, query string, documents []string, topN int) ([]Result, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	payload, err := json.Marshal(rerankRequest{Model: c.model, Query: query, Documents: documents, TopN: topN})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	start := time.Now()
	var parsed rerankResponse
	err = resilience.Retry(ctx, "cohere.rerank", c.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
		if err != nil {
			return resilience.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("execute request: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("rerank service error: %s", resp.Status)
		}
		if resp.StatusCode != http.StatusOK {
			return resilience.Permanent(fmt.Errorf("rerank rejected: %s - %s", resp.Status, string(body)))
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return resilience.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	})
	c.metrics.RecordTiming(metrics.OpRerank, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		if r.Index == nil || r.RelevanceScore == nil {
			slog.Debug("skipping incomplete rerank entry")
			continue
		}
		if *r.Index < 0 || *r.Index >= len(documents) {
			slog.Warn("skipping out-of-range rerank entry", "index", *r.Index, "documents", len(documents))
			continue
		}
		results = append(results, Result{Index: *r.Index, RelevanceScore: *r.RelevanceScore})
	}
	if topN > 0 && len(results) > topN {
		results = results[:topN]
	}
	return results, nil
}
