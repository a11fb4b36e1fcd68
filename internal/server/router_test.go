package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tangde15/easyrag/internal/api/handlers"
	"github.com/tangde15/easyrag/internal/domain"
	"github.com/tangde15/easyrag/internal/service"
)

type stubStreamer struct{}

type nilRecorder struct{}

func (nilRecorder) Add(ctx context.Context, turn *domain.ConversationTurn) error { return nil }

func (stubStreamer) Ask(ctx context.Context, sessionID, message string) (*service.Stream, string) {
	if sessionID == "" {
		sessionID = "new-session"
	}
	coordinator := service.NewStreamCoordinator(nilRecorder{})
	stream := coordinator.OpenStream(sessionID, false, message)
	go func() {
		_ = stream.PushDelta("ok")
		stream.End()
	}()
	return stream, sessionID
}

type stubMemory struct{}

func (stubMemory) All(ctx context.Context) (map[string][]domain.ConversationTurn, error) {
	return map[string][]domain.ConversationTurn{"s1": {}}, nil
}

func (stubMemory) Recent(ctx context.Context, sessionID string, k int) ([]domain.ConversationTurn, error) {
	return nil, nil
}

func (stubMemory) Delete(ctx context.Context, sessionID string) (int64, error) {
	return 1, nil
}

type stubIngest struct{}

func (stubIngest) Ingest(ctx context.Context, content, source string) (*service.IngestResult, error) {
	return &service.IngestResult{Success: true, ChunksCount: 1}, nil
}

func (stubIngest) DeleteSource(ctx context.Context, source string) (int64, error) {
	return 2, nil
}

func setupRouter() http.Handler {
	return NewRouter(RouterConfig{
		ChatHandler:         handlers.NewChatHandler(stubStreamer{}),
		ConversationHandler: handlers.NewConversationHandler(stubMemory{}),
		KnowledgeHandler:    handlers.NewKnowledgeHandler(stubIngest{}),
	})
}

func TestRouter_HealthEndpoint(t *testing.T) {
	router := setupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "ok", data["status"])
}

func TestRouter_ChatRoute(t *testing.T) {
	router := setupRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"question":"hi"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `{"type":"ai","content":"ok"}`)
}

func TestRouter_ConversationRoutes(t *testing.T) {
	router := setupRouter()

	routes := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodGet, "/api/conversations/all", ""},
		{http.MethodPost, "/api/conversations/get", `{"session_id":"s1"}`},
		{http.MethodPost, "/api/conversations/delete", `{"session_id":"s1"}`},
	}

	for _, route := range routes {
		t.Run(route.method+" "+route.path, func(t *testing.T) {
			req := httptest.NewRequest(route.method, route.path, strings.NewReader(route.body))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, http.StatusOK, w.Code)
		})
	}
}

func TestRouter_KnowledgeDeleteSource(t *testing.T) {
	router := setupRouter()

	req := httptest.NewRequest(http.MethodDelete, "/api/knowledge/source",
		strings.NewReader(`{"source":"doc.md"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"deleted":2`)
}

func TestRouter_JSONEndpointsRejectOversizedBodies(t *testing.T) {
	router := setupRouter()
	oversized := strings.Repeat("a", 2<<20)

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/chat"},
		{http.MethodPost, "/api/conversations/get"},
		{http.MethodPost, "/api/conversations/delete"},
		{http.MethodDelete, "/api/knowledge/source"},
	}

	for _, route := range routes {
		t.Run(route.method+" "+route.path, func(t *testing.T) {
			req := httptest.NewRequest(route.method, route.path, strings.NewReader(oversized))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		})
	}
}

func TestRouter_UploadAllowsBodiesAboveJSONLimit(t *testing.T) {
	router := setupRouter()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "big.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte(strings.Repeat("a", 2<<20)))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/knowledge/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_UnknownRoute(t *testing.T) {
	router := setupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/unknown", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
