package websearch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const resultsPage = `<html><body>
	<div class="result">
		<a class="result__a" href="https://example.com/go-tutorial">Go 语言教程</a>
	</div>
	<div class="result">
		<a class="result__a" href="https://blog.example.org/channels">Channels explained</a>
	</div>
	<div class="result">
		<a class="result__a" href="">missing link</a>
	</div>
	<a class="other" href="https://ads.example.com">ad</a>
</body></html>`

func TestDuckDuckGoBackend_Search(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		gotQuery = r.PostFormValue("q")
		w.Write([]byte(resultsPage))
	}))
	defer srv.Close()

	backend := NewDuckDuckGoBackendWithEndpoint(srv.URL)
	items, err := backend.Search(context.Background(), "go channels", 5)

	require.NoError(t, err)
	assert.Equal(t, "go channels", gotQuery)
	require.Len(t, items, 2)
	assert.Equal(t, "Go 语言教程", items[0].Title)
	assert.Equal(t, "https://example.com/go-tutorial", items[0].Link)
	assert.Equal(t, "example.com", items[0].Domain)
	assert.Equal(t, "blog.example.org", items[1].Domain)
}

func TestDuckDuckGoBackend_Search_CapsResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(resultsPage))
	}))
	defer srv.Close()

	backend := NewDuckDuckGoBackendWithEndpoint(srv.URL)
	items, err := backend.Search(context.Background(), "q", 1)

	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestDuckDuckGoBackend_Search_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	backend := NewDuckDuckGoBackendWithEndpoint(srv.URL)
	_, err := backend.Search(context.Background(), "q", 5)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
}
