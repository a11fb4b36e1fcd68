package websearch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tangde15/easyrag/internal/domain"
)

// fakeBackend returns canned items per query and records calls.
type fakeBackend struct {
	items   map[string][]domain.SearchItem
	err     error
	queries []string
}

func (f *fakeBackend) Search(ctx context.Context, query string, maxResults int) ([]domain.SearchItem, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	return f.items[query], nil
}

func snippetServer(t *testing.T, snippets map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		desc, ok := snippets[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><meta name="description" content="` + desc + `"></head></html>`))
	}))
}

func TestAdapter_Search_FansOutAndDeduplicates(t *testing.T) {
	srv := snippetServer(t, map[string]string{
		"/a": "关于主题的中文描述内容",
		"/b": "另一个中文页面的描述文字",
	})
	defer srv.Close()

	backend := &fakeBackend{items: map[string][]domain.SearchItem{
		"主题":    {{Title: "页面甲中文标题", Link: srv.URL + "/a", Domain: "x"}},
		"主题 中文": {{Title: "页面甲中文标题", Link: srv.URL + "/a", Domain: "x"}, {Title: "页面乙中文标题", Link: srv.URL + "/b", Domain: "y"}},
	}}

	adapter := NewAdapter(WithBackend(backend), WithPageClient(srv.Client()))
	items, err := adapter.Search(context.Background(), "主题", 5)

	require.NoError(t, err)
	// Every rewritten variant was searched.
	assert.Len(t, backend.queries, 5)
	assert.Equal(t, "主题", backend.queries[0])

	// /a appeared twice but survives once, first occurrence wins.
	require.Len(t, items, 2)
	links := []string{items[0].Link, items[1].Link}
	assert.Contains(t, links, srv.URL+"/a")
	assert.Contains(t, links, srv.URL+"/b")
	assert.NotEmpty(t, items[0].Snippet)
}

func TestAdapter_Search_ChineseFilterDropsEnglishOnlyResults(t *testing.T) {
	srv := snippetServer(t, map[string]string{
		"/en": "plain english description without cjk",
		"/zh": "足够长的中文描述内容在这里",
	})
	defer srv.Close()

	backend := &fakeBackend{items: map[string][]domain.SearchItem{
		"q": {
			{Title: "English only", Link: srv.URL + "/en"},
			{Title: "also english", Link: srv.URL + "/zh"},
		},
	}}

	adapter := NewAdapter(WithBackend(backend), WithPageClient(srv.Client()))
	items, err := adapter.Search(context.Background(), "q", 5)

	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, srv.URL+"/zh", items[0].Link)
}

func TestAdapter_Search_WithoutChineseFilter(t *testing.T) {
	srv := snippetServer(t, map[string]string{
		"/en": "plain english description without cjk",
	})
	defer srv.Close()

	backend := &fakeBackend{items: map[string][]domain.SearchItem{
		"q": {{Title: "English only", Link: srv.URL + "/en"}},
	}}

	adapter := NewAdapter(WithBackend(backend), WithPageClient(srv.Client()), WithoutChineseFilter())
	items, err := adapter.Search(context.Background(), "q", 5)

	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestAdapter_Search_RanksChineseAndTokenMatchesFirst(t *testing.T) {
	srv := snippetServer(t, map[string]string{
		"/best":  "详细介绍 goroutine 的中文长文描述",
		"/other": "完全无关的中文描述内容而已",
	})
	defer srv.Close()

	backend := &fakeBackend{items: map[string][]domain.SearchItem{
		"goroutine": {
			{Title: "无关页面的中文标题", Link: srv.URL + "/other"},
			{Title: "goroutine 中文详解教程", Link: srv.URL + "/best"},
		},
	}}

	adapter := NewAdapter(WithBackend(backend), WithPageClient(srv.Client()))
	items, err := adapter.Search(context.Background(), "goroutine", 5)

	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, srv.URL+"/best", items[0].Link)
}

func TestAdapter_Search_AllVariantsFail(t *testing.T) {
	backend := &fakeBackend{err: errors.New("engine unreachable")}

	adapter := NewAdapter(WithBackend(backend))
	items, err := adapter.Search(context.Background(), "q", 5)

	require.Error(t, err)
	assert.Nil(t, items)
	assert.Contains(t, err.Error(), "engine unreachable")
}

func TestAdapter_Search_FailedPageFetchYieldsEmptySnippet(t *testing.T) {
	backend := &fakeBackend{items: map[string][]domain.SearchItem{
		"很长的中文查询内容": {{Title: "带有中文标题的完整结果条目", Link: "http://127.0.0.1:1/dead"}},
	}}

	adapter := NewAdapter(WithBackend(backend))
	items, err := adapter.Search(context.Background(), "很长的中文查询内容", 5)

	require.NoError(t, err)
	// Title alone carries the Chinese signal, result kept with no snippet.
	require.Len(t, items, 1)
	assert.Equal(t, "", items[0].Snippet)
}

func TestAdapter_Search_CapsReturnedResults(t *testing.T) {
	many := make([]domain.SearchItem, 0, 12)
	for i := 0; i < 12; i++ {
		many = append(many, domain.SearchItem{
			Title: "编号条目的中文标题" + strings.Repeat("甲", i+1),
			Link:  "http://127.0.0.1:1/p" + strings.Repeat("x", i+1),
		})
	}
	backend := &fakeBackend{items: map[string][]domain.SearchItem{"q": many}}

	adapter := NewAdapter(WithBackend(backend))
	items, err := adapter.Search(context.Background(), "q", 3)

	require.NoError(t, err)
	assert.Len(t, items, 3)
}
