package websearch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/tangde15/easyrag/internal/domain"
)

const (
	// DefaultEndpoint is the DuckDuckGo HTML frontend, which works
	// without an API key and stays reachable where the JSON API is not.
	DefaultEndpoint = "https://html.duckduckgo.com/html/"

	userAgent      = "Mozilla/5.0"
	acceptLanguage = "zh-CN,zh;q=0.9,en;q=0.6"

	searchTimeout = 10 * time.Second

	// maxResponseBytes bounds how much of a response body gets parsed.
	maxResponseBytes = 2 << 20
)

// Backend runs one search query against an external engine.
type Backend interface {
	Search(ctx context.Context, query string, maxResults int) ([]domain.SearchItem, error)
}

// DuckDuckGoBackend scrapes the DuckDuckGo HTML frontend.
type DuckDuckGoBackend struct {
	endpoint string
	client   *http.Client
}

func NewDuckDuckGoBackend() *DuckDuckGoBackend {
	return NewDuckDuckGoBackendWithEndpoint(DefaultEndpoint)
}

func NewDuckDuckGoBackendWithEndpoint(endpoint string) *DuckDuckGoBackend {
	return &DuckDuckGoBackend{
		endpoint: endpoint,
		client:   &http.Client{Timeout: searchTimeout},
	}
}

// Search posts the query and parses result anchors out of the HTML.
// Results without a link are skipped.
func (b *DuckDuckGoBackend) Search(ctx context.Context, query string, maxResults int) ([]domain.SearchItem, error) {
	if maxResults <= 0 {
		maxResults = 5
	}

	form := url.Values{"q": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", acceptLanguage)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to parse search results: %w", err)
	}

	items := make([]domain.SearchItem, 0, maxResults)
	for _, a := range findAll(doc, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == "a" && hasClass(n, "result__a")
	}) {
		link := strings.TrimSpace(attr(a, "href"))
		if link == "" {
			continue
		}
		items = append(items, domain.SearchItem{
			Title:  strings.TrimSpace(nodeText(a)),
			Link:   link,
			Domain: linkDomain(link),
		})
		if len(items) >= maxResults {
			break
		}
	}
	return items, nil
}

func linkDomain(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	return u.Host
}
