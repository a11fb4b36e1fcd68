// Package rerank provides an HTTP client for cross-encoder rerank
// services exposing the common /v1/rerank contract.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultModel is the rerank model used when none is configured.
	DefaultModel = "bge-reranker-v2-m3"
	// DefaultTimeout bounds a single rerank call.
	DefaultTimeout = 8 * time.Second
)

// ErrNoEndpoint is returned when the client is constructed without a URL.
var ErrNoEndpoint = errors.New("rerank endpoint not configured")

// Config holds rerank service configuration.
type Config struct {
	// URL is the full rerank endpoint, e.g. http://host:port/v1/rerank.
	URL     string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Result is a single reranked document: its index in the input slice
// and the cross-encoder relevance score.
type Result struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

// Client calls an external rerank service.
type Client struct {
	cfg    Config
	client *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type rerankResponse struct {
	Results []Result `json:"results"`
}

// Rerank scores documents against the query and returns up to topN
// results ordered by relevance, best first.
func (c *Client) Rerank(ctx context.Context, query string, documents []string, topN int) ([]Result, error) {
	if c.cfg.URL == "" {
		return nil, ErrNoEndpoint
	}
	if len(documents) == 0 {
		return []Result{}, nil
	}

	payload, _ := json.Marshal(rerankRequest{
		Model:     c.cfg.Model,
		Query:     query,
		Documents: documents,
		TopN:      topN,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("rerank error: status=%d body=%s", resp.StatusCode, string(body))
	}

	var rr rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}

	for _, r := range rr.Results {
		if r.Index < 0 || r.Index >= len(documents) {
			return nil, fmt.Errorf("rerank returned out-of-range index %d", r.Index)
		}
	}
	return rr.Results, nil
}
