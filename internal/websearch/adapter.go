// Package websearch turns a user question into ranked, Chinese-first
// web results by fanning out rewritten queries to a search backend and
// scraping snippets from the result pages.
package websearch

import (
	"context"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/tangde15/easyrag/internal/domain"
)

const (
	// DefaultNumResults is returned when the caller asks for <= 0.
	DefaultNumResults = 5

	// pipelineTimeout bounds the whole search including page fetches.
	pipelineTimeout = 10 * time.Second
	// pageFetchTimeout bounds a single result page download.
	pageFetchTimeout = 8 * time.Second
)

// Adapter is the web search pipeline: query rewriting, backend fanout,
// link dedup, snippet scraping, Chinese filtering and heuristic
// reranking.
type Adapter struct {
	backend      Backend
	pages        *http.Client
	forceChinese bool
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithBackend replaces the default DuckDuckGo backend.
func WithBackend(b Backend) Option {
	return func(a *Adapter) { a.backend = b }
}

// WithPageClient replaces the HTTP client used for snippet fetches.
func WithPageClient(c *http.Client) Option {
	return func(a *Adapter) { a.pages = c }
}

// WithoutChineseFilter disables dropping results that carry no Chinese
// text in either title or snippet.
func WithoutChineseFilter() Option {
	return func(a *Adapter) { a.forceChinese = false }
}

func NewAdapter(opts ...Option) *Adapter {
	a := &Adapter{
		backend:      NewDuckDuckGoBackend(),
		pages:        &http.Client{Timeout: pageFetchTimeout},
		forceChinese: true,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Search runs the full pipeline and returns up to num ranked results.
// Backend failures on individual query variants are tolerated; an
// error is returned only when every variant failed and nothing was
// found.
func (a *Adapter) Search(ctx context.Context, query string, num int) ([]domain.SearchItem, error) {
	if num <= 0 {
		num = DefaultNumResults
	}

	ctx, cancel := context.WithTimeout(ctx, pipelineTimeout)
	defer cancel()

	perVariant := num
	if perVariant < 3 {
		perVariant = 3
	}

	var aggregated []domain.SearchItem
	var lastErr error
	for _, variant := range BuildQueryVariants(query) {
		found, err := a.backend.Search(ctx, variant, perVariant)
		if err != nil {
			lastErr = err
			continue
		}
		aggregated = append(aggregated, found...)
	}
	if len(aggregated) == 0 {
		if lastErr != nil {
			return nil, lastErr
		}
		return []domain.SearchItem{}, nil
	}

	// Dedup by link, first occurrence wins.
	seen := make(map[string]struct{}, len(aggregated))
	unique := aggregated[:0]
	for _, it := range aggregated {
		if it.Link == "" {
			continue
		}
		if _, ok := seen[it.Link]; ok {
			continue
		}
		seen[it.Link] = struct{}{}
		unique = append(unique, it)
	}

	fetchCap := 2 * num
	if fetchCap < 10 {
		fetchCap = 10
	}
	if len(unique) > fetchCap {
		unique = unique[:fetchCap]
	}

	items := make([]domain.SearchItem, 0, len(unique))
	for _, it := range unique {
		it.Snippet = a.fetchSnippet(ctx, it.Link)
		if a.forceChinese && !IsChineseText(it.Title) && !IsChineseText(it.Snippet) {
			continue
		}
		items = append(items, it)
	}

	rankItems(query, items)
	if len(items) > num {
		items = items[:num]
	}
	return items, nil
}

// fetchSnippet downloads a result page and extracts a description.
// Any failure yields an empty snippet, never an error.
func (a *Adapter) fetchSnippet(ctx context.Context, link string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", acceptLanguage)

	resp, err := a.pages.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ""
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		return ""
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return ""
	}
	return ExtractSnippet(string(body))
}

// rankItems sorts results in place by a cheap relevance heuristic:
// Chinese text first, then query token matches, then a title of
// readable length.
func rankItems(query string, items []domain.SearchItem) {
	tokens := strings.Fields(query)

	score := func(it domain.SearchItem) float64 {
		var s float64
		if IsChineseText(it.Title) || IsChineseText(it.Snippet) {
			s += 2.0
		}
		for _, t := range tokens {
			if strings.Contains(it.Title, t) || strings.Contains(it.Snippet, t) {
				s += 0.8
			}
		}
		if l := len([]rune(it.Title)); l >= 8 && l <= 80 {
			s += 0.5
		}
		return s
	}

	sort.SliceStable(items, func(i, j int) bool {
		return score(items[i]) > score(items[j])
	})
}
