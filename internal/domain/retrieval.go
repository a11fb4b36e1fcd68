package domain

import "time"

// KnowledgeChunk is a bounded segment of ingested text held by the
// knowledge store. Chunks are created by ingestion, never mutated, and
// deleted only when their source is removed.
type KnowledgeChunk struct {
	ID        string
	Content   string
	Source    string
	Embedding []float32
	CreatedAt time.Time
}

// RetrievalResult is a ranked context item. Score is a similarity or
// rerank score and is comparable only within the tier that produced it.
type RetrievalResult struct {
	ID      string  `json:"id"`
	Content string  `json:"snippet"`
	Source  string  `json:"title"`
	Score   float64 `json:"score"`
	Link    string  `json:"link,omitempty"`
	Domain  string  `json:"domain,omitempty"`
}

// RouteOrigin names the context source a route decision settled on.
type RouteOrigin string

const (
	OriginKnowledge RouteOrigin = "knowledge"
	OriginWeb       RouteOrigin = "web"
)

// RouteDecision is the router's terminal output: where context comes
// from, the ranked items (best first), and a human-readable reason
// naming the scores and threshold comparison that fired.
type RouteDecision struct {
	Origin         RouteOrigin       `json:"source"`
	Items          []RetrievalResult `json:"items"`
	DecisionReason string            `json:"decision_reason"`
	Error          string            `json:"error,omitempty"`
}

// SearchItem is a web-origin candidate before or after heuristic
// reranking.
type SearchItem struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
	Domain  string `json:"domain"`
}
