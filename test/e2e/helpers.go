//go:build e2e

package e2e

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tangde15/easyrag/internal/api/handlers"
	"github.com/tangde15/easyrag/internal/chunker"
	"github.com/tangde15/easyrag/internal/domain"
	"github.com/tangde15/easyrag/internal/openai"
	"github.com/tangde15/easyrag/internal/repository"
	"github.com/tangde15/easyrag/internal/rerank"
	"github.com/tangde15/easyrag/internal/server"
	"github.com/tangde15/easyrag/internal/service"
	"github.com/tangde15/easyrag/internal/storage"
	"github.com/tangde15/easyrag/internal/testutil"
)

// knowledgeKeyword marks text the fake embedding upstream maps onto the
// knowledge axis. Queries and documents containing it score 1.0 against
// each other; everything else lands on an orthogonal axis and scores 0.
const knowledgeKeyword = "pgvector"

// chatAnswer is the full answer the fake chat upstream streams back,
// split into two deltas.
const chatAnswer = "这是回答。"

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T            *testing.T
	Ctx          context.Context
	PostgresC    *testutil.PostgresContainer
	RustFSC      *testutil.RustFSContainer
	Pool         *pgxpool.Pool
	ServerURL    string
	ServerCloser func()
	S3Client     *storage.S3Client
	OpenAIStub   *httptest.Server
	BinaryDir    string
	HTTPClient   *http.Client
}

// SetupE2EEnv creates a full E2E test environment: containers, a fake
// OpenAI-compatible upstream, and the HTTP server wired like serve does.
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	s3C := testutil.NewRustFSContainer(ctx, t)

	pool := testutil.NewTestPool(ctx, t, pgC, "../../migrations")

	s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        s3C.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     "rustfsadmin",
		SecretAccessKey: "rustfsadmin",
		Bucket:          "test-archive",
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("failed to create S3 client: %v", err)
	}
	if err := s3Client.EnsureBucket(ctx); err != nil {
		t.Fatalf("failed to create bucket: %v", err)
	}

	openaiStub := newFakeOpenAIServer()

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}

	serverURL, serverCloser := startServer(t, pool, s3Client, openaiStub.URL, port)

	return &E2ETestEnv{
		T:            t,
		Ctx:          ctx,
		PostgresC:    pgC,
		RustFSC:      s3C,
		Pool:         pool,
		ServerURL:    serverURL,
		ServerCloser: serverCloser,
		S3Client:     s3Client,
		OpenAIStub:   openaiStub,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.ServerCloser != nil {
		e.ServerCloser()
	}
	if e.OpenAIStub != nil {
		e.OpenAIStub.Close()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.RustFSC != nil {
		e.RustFSC.Terminate(e.Ctx)
	}
	if e.PostgresC != nil {
		e.PostgresC.Terminate(e.Ctx)
	}
	if e.BinaryDir != "" {
		os.RemoveAll(e.BinaryDir)
	}
}

// Truncate clears all tables between subtests.
func (e *E2ETestEnv) Truncate() {
	if err := testutil.TruncateAll(e.Ctx, e.Pool); err != nil {
		e.T.Fatalf("failed to truncate tables: %v", err)
	}
}

// BuildBinaries builds the easyrag and easyragd binaries
func (e *E2ETestEnv) BuildBinaries() {
	tmpDir, err := os.MkdirTemp("", "easyrag-e2e-*")
	if err != nil {
		e.T.Fatalf("failed to create temp dir: %v", err)
	}
	e.BinaryDir = tmpDir

	cmd := exec.Command("go", "build", "-o", filepath.Join(tmpDir, "easyragd"), "./cmd/easyragd")
	cmd.Dir = "../.."
	if out, err := cmd.CombinedOutput(); err != nil {
		e.T.Fatalf("failed to build easyragd: %v\n%s", err, out)
	}

	cmd = exec.Command("go", "build", "-o", filepath.Join(tmpDir, "easyrag"), "./cmd/easyrag")
	cmd.Dir = "../.."
	if out, err := cmd.CombinedOutput(); err != nil {
		e.T.Fatalf("failed to build easyrag: %v\n%s", err, out)
	}
}

// RunEasyrag runs the easyrag CLI command against the test server
func (e *E2ETestEnv) RunEasyrag(workDir string, args ...string) (string, error) {
	cmd := exec.Command(filepath.Join(e.BinaryDir, "easyrag"), args...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("EASYRAG_API_URL=%s", e.ServerURL),
	)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// APIResponse represents a standard API response
type APIResponse struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
}

// Get performs a GET request
func (e *E2ETestEnv) Get(path string) (*APIResponse, error) {
	return e.doRequest("GET", path, nil)
}

// Post performs a POST request
func (e *E2ETestEnv) Post(path string, body interface{}) (*APIResponse, error) {
	return e.doRequest("POST", path, body)
}

// Delete performs a DELETE request with a JSON body
func (e *E2ETestEnv) Delete(path string, body interface{}) (*APIResponse, error) {
	return e.doRequest("DELETE", path, body)
}

func (e *E2ETestEnv) doRequest(method, path string, body interface{}) (*APIResponse, error) {
	url := e.ServerURL + path

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var apiResp APIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
		}
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, apiResp.Error)
	}

	return &apiResp, nil
}

// Upload posts a file to /api/knowledge/upload as multipart form data.
func (e *E2ETestEnv) Upload(filename string, content []byte) (*APIResponse, int, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, 0, err
	}
	if _, err := part.Write(content); err != nil {
		return nil, 0, err
	}
	if err := mw.Close(); err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequest("POST", e.ServerURL+"/api/knowledge/upload", &buf)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	var apiResp APIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}
	return &apiResp, resp.StatusCode, nil
}

// Chat posts a question and returns every NDJSON line of the stream.
func (e *E2ETestEnv) Chat(sessionID, question string) ([]string, error) {
	payload, err := json.Marshal(map[string]string{
		"session_id": sessionID,
		"question":   question,
	})
	if err != nil {
		return nil, err
	}

	resp, err := e.HTTPClient.Post(e.ServerURL+"/api/chat", "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var lines []string
	for scanner.Scan() {
		if len(scanner.Bytes()) > 0 {
			lines = append(lines, scanner.Text())
		}
	}
	return lines, scanner.Err()
}

// startServer wires repositories, services and handlers the same way
// the serve command does, with the AI client pointed at the fake
// upstream and retrieval stubs replacing the external rerank and web
// search dependencies.
func startServer(t *testing.T, pool *pgxpool.Pool, s3Client *storage.S3Client, openaiURL string, port int) (string, func()) {
	knowledgeRepo := repository.NewKnowledgeRepository(pool)
	conversationRepo := repository.NewConversationRepository(pool)

	aiClient := openai.NewClientWithConfig(openai.Config{
		APIKey:  "test-key",
		BaseURL: openaiURL,
	})

	routerSvc := service.NewRouterService(aiClient, knowledgeRepo, stubReranker{}, stubWebSearcher{}, service.DefaultThresholds())
	memorySvc := service.NewMemoryService(conversationRepo, aiClient)
	coordinator := service.NewStreamCoordinator(memorySvc)
	chatSvc := service.NewChatService(routerSvc, memorySvc, chatStreamAdapter{client: aiClient}, coordinator)
	ingestSvc := service.NewIngestService(chunker.DefaultConfig(), aiClient, knowledgeRepo, s3Client)

	router := server.NewRouter(server.RouterConfig{
		ChatHandler:         handlers.NewChatHandler(chatSvc),
		ConversationHandler: handlers.NewConversationHandler(memorySvc),
		KnowledgeHandler:    handlers.NewKnowledgeHandler(ingestSvc),
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.Logf("server error: %v", err)
		}
	}()

	serverURL := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(t, serverURL, 10*time.Second)

	return serverURL, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/api/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not start within %v", timeout)
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// chatStreamAdapter narrows the OpenAI client to the interface the chat
// service consumes.
type chatStreamAdapter struct {
	client *openai.Client
}

func (a chatStreamAdapter) StreamChat(ctx context.Context, messages []openai.Message) (service.TokenStream, error) {
	stream, err := a.client.StreamChat(ctx, messages)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// stubReranker keeps the input order and assigns descending scores, so
// the escalation path succeeds deterministically.
type stubReranker struct{}

func (stubReranker) Rerank(ctx context.Context, query string, documents []string, topN int) ([]rerank.Result, error) {
	n := len(documents)
	if topN > 0 && n > topN {
		n = topN
	}
	results := make([]rerank.Result, n)
	for i := 0; i < n; i++ {
		results[i] = rerank.Result{Index: i, RelevanceScore: 0.99 - 0.01*float64(i)}
	}
	return results, nil
}

// stubWebSearcher returns one fixed result so web fallback produces a
// reference without touching the network.
type stubWebSearcher struct{}

func (stubWebSearcher) Search(ctx context.Context, query string, num int) ([]domain.SearchItem, error) {
	return []domain.SearchItem{
		{
			Title:   "Example Result",
			Link:    "https://example.com/result",
			Snippet: "An example search result for " + query,
			Domain:  "example.com",
		},
	}, nil
}

// newFakeOpenAIServer serves the two upstream endpoints the server
// uses. Embeddings are deterministic: text containing the knowledge
// keyword maps to one basis vector, everything else to an orthogonal
// one, which pins down every routing decision. Chat completions stream
// a fixed two-delta answer.
func newFakeOpenAIServer() *httptest.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/embeddings", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input json.RawMessage `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var texts []string
		if err := json.Unmarshal(req.Input, &texts); err != nil {
			var single string
			if err := json.Unmarshal(req.Input, &single); err != nil {
				http.Error(w, "unsupported input shape", http.StatusBadRequest)
				return
			}
			texts = []string{single}
		}

		type embeddingData struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		resp := struct {
			Object string          `json:"object"`
			Data   []embeddingData `json:"data"`
			Model  string          `json:"model"`
		}{Object: "list", Model: "bge-m3"}

		for i, text := range texts {
			vec := make([]float32, 1024)
			if strings.Contains(text, knowledgeKeyword) {
				vec[0] = 1
			} else {
				vec[1] = 1
			}
			resp.Data = append(resp.Data, embeddingData{Object: "embedding", Embedding: vec, Index: i})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})

	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		for _, delta := range []string{"这是", "回答。"} {
			chunk := map[string]interface{}{
				"id":      "chatcmpl-e2e",
				"object":  "chat.completion.chunk",
				"created": 0,
				"model":   "deepseek-chat",
				"choices": []map[string]interface{}{
					{"index": 0, "delta": map[string]string{"content": delta}},
				},
			}
			payload, _ := json.Marshal(chunk)
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	})

	return httptest.NewServer(mux)
}
