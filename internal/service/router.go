package service

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/tangde15/easyrag/internal/domain"
	"github.com/tangde15/easyrag/internal/rerank"
	"github.com/tangde15/easyrag/internal/telemetry"
)

const (
	tier1TopK      = 3
	tier2TopK      = 10
	coarseTopK     = 200
	rerankTopN     = 50
	finalItemCount = 5
	webResultCount = 5

	// externalCallTimeout bounds each knowledge search and rerank call
	// so a slow dependency degrades into the fallback path instead of
	// stalling the route.
	externalCallTimeout = 8 * time.Second
)

// EmbeddingClient generates embeddings for queries and stored turns.
type EmbeddingClient interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// KnowledgeSearcher runs similarity search over indexed chunks.
type KnowledgeSearcher interface {
	SearchTopK(ctx context.Context, embedding []float32, topK int) ([]domain.RetrievalResult, error)
}

// Reranker scores candidate documents against a query.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string, topN int) ([]rerank.Result, error)
}

// WebSearcher runs the web search pipeline.
type WebSearcher interface {
	Search(ctx context.Context, query string, num int) ([]domain.SearchItem, error)
}

// Thresholds are the similarity cutoffs driving route decisions.
// Deep is looser than High because tier2 searches a larger pool, which
// depresses top scores.
type Thresholds struct {
	Low  float64
	High float64
	Deep float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{Low: 0.45, High: 0.60, Deep: 0.55}
}

// RouterService decides, per query, whether answer context comes from
// the knowledge store or from live web search. The decision procedure
// is deterministic given identical scores.
type RouterService struct {
	embedder   EmbeddingClient
	knowledge  KnowledgeSearcher
	reranker   Reranker
	web        WebSearcher
	thresholds Thresholds
}

// NewRouterService builds a router with the given thresholds. Callers
// that want the tuned defaults pass DefaultThresholds().
func NewRouterService(embedder EmbeddingClient, knowledge KnowledgeSearcher, reranker Reranker, web WebSearcher, thresholds Thresholds) *RouterService {
	return &RouterService{
		embedder:   embedder,
		knowledge:  knowledge,
		reranker:   reranker,
		web:        web,
		thresholds: thresholds,
	}
}

// Route runs the tiered decision procedure. It never returns an error:
// every failure degrades to a web fallback whose decision reason names
// the stage that failed.
func (s *RouterService) Route(ctx context.Context, query string) domain.RouteDecision {
	ctx, span := telemetry.StartSpan(ctx, "RouterService.Route", telemetry.SpanAttributes{
		Operation: "route",
	})
	defer span.End()

	embedding, err := s.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return s.webFallback(ctx, query, fmt.Sprintf("query embedding failed: %v", err))
	}

	tier1, err := s.searchKnowledge(ctx, embedding, tier1TopK)
	if err != nil {
		return s.webFallback(ctx, query, fmt.Sprintf("tier1 knowledge search failed: %v", err))
	}
	if len(tier1) == 0 {
		return s.webFallback(ctx, query, "tier1 knowledge search returned no results")
	}

	score := topScore(tier1)
	t := s.thresholds

	switch {
	case score < t.Low:
		return s.webFallback(ctx, query,
			fmt.Sprintf("tier1 top score %.4f < low threshold %.2f", score, t.Low))

	case score >= t.High:
		return s.escalate(ctx, query, embedding,
			fmt.Sprintf("tier1 top score %.4f >= high threshold %.2f", score, t.High))

	default:
		return s.tier2(ctx, query, embedding, score)
	}
}

// tier2 widens the search when tier1 landed mid-band.
func (s *RouterService) tier2(ctx context.Context, query string, embedding []float32, tier1Score float64) domain.RouteDecision {
	t := s.thresholds

	results, err := s.searchKnowledge(ctx, embedding, tier2TopK)
	if err != nil {
		return s.webFallback(ctx, query,
			fmt.Sprintf("tier1 top score %.4f mid-band, tier2 knowledge search failed: %v", tier1Score, err))
	}
	if len(results) == 0 {
		return s.webFallback(ctx, query,
			fmt.Sprintf("tier1 top score %.4f mid-band, tier2 returned no results", tier1Score))
	}

	score := topScore(results)
	if score >= t.Deep {
		return s.escalate(ctx, query, embedding,
			fmt.Sprintf("tier1 top score %.4f mid-band, tier2 top score %.4f >= deep threshold %.2f", tier1Score, score, t.Deep))
	}
	return s.webFallback(ctx, query,
		fmt.Sprintf("tier1 top score %.4f mid-band, tier2 top score %.4f < deep threshold %.2f", tier1Score, score, t.Deep))
}

// escalate fetches a coarse candidate set and reranks it for precision
// ordering. Any failure on this path falls back to web search, and the
// coarse hits already fetched are discarded with it.
func (s *RouterService) escalate(ctx context.Context, query string, embedding []float32, reason string) domain.RouteDecision {
	coarse, err := s.searchKnowledge(ctx, embedding, coarseTopK)
	if err != nil {
		return s.webFallback(ctx, query, reason+fmt.Sprintf(", coarse fetch failed: %v", err))
	}
	if len(coarse) == 0 {
		return s.webFallback(ctx, query, reason+", coarse fetch returned no results")
	}

	docs := make([]string, len(coarse))
	for i, c := range coarse {
		docs[i] = c.Content
	}

	rerankCtx, cancel := context.WithTimeout(ctx, externalCallTimeout)
	defer cancel()
	ranked, err := s.reranker.Rerank(rerankCtx, query, docs, rerankTopN)
	if err != nil {
		return s.webFallback(ctx, query, reason+fmt.Sprintf(", rerank failed: %v", err))
	}
	if len(ranked) == 0 {
		return s.webFallback(ctx, query, reason+", rerank returned no results")
	}

	// The service contract orders results best first, but the items
	// invariant is ours to keep.
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].RelevanceScore > ranked[j].RelevanceScore
	})

	items := make([]domain.RetrievalResult, 0, finalItemCount)
	for _, r := range ranked {
		item := coarse[r.Index]
		item.Score = r.RelevanceScore
		items = append(items, item)
		if len(items) == finalItemCount {
			break
		}
	}

	return domain.RouteDecision{
		Origin:         domain.OriginKnowledge,
		Items:          items,
		DecisionReason: reason + ", rerank applied",
	}
}

// webFallback is the terminal degraded path. The web adapter's own
// outcome never overrides the router's reason; an adapter failure is
// recorded in the Error field next to an empty item list.
func (s *RouterService) webFallback(ctx context.Context, query, reason string) domain.RouteDecision {
	decision := domain.RouteDecision{
		Origin:         domain.OriginWeb,
		Items:          []domain.RetrievalResult{},
		DecisionReason: reason,
	}

	found, err := s.web.Search(ctx, query, webResultCount)
	if err != nil {
		// The decision swallows this error, so report it out of band.
		log.Printf("router: web fallback search failed: %v", err)
		telemetry.CaptureError(ctx, err)
		decision.Error = err.Error()
		return decision
	}

	for _, it := range found {
		decision.Items = append(decision.Items, domain.RetrievalResult{
			Content: it.Snippet,
			Source:  it.Title,
			Link:    it.Link,
			Domain:  it.Domain,
		})
	}
	return decision
}

func (s *RouterService) searchKnowledge(ctx context.Context, embedding []float32, topK int) ([]domain.RetrievalResult, error) {
	searchCtx, cancel := context.WithTimeout(ctx, externalCallTimeout)
	defer cancel()
	return s.knowledge.SearchTopK(searchCtx, embedding, topK)
}

func topScore(results []domain.RetrievalResult) float64 {
	best := results[0].Score
	for _, r := range results[1:] {
		if r.Score > best {
			best = r.Score
		}
	}
	return best
}
