package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-sync-go/internal/pipeline"
	"rag-sync-go/internal/repository"
	"rag-sync-go/internal/service"
	"rag-sync-go/pkg/chunker"
	"rag-sync-go/pkg/extractor"
	"rag-sync-go/pkg/llm"
	"rag-sync-go/pkg/storage"
	"rag-sync-go/pkg/token"
	"rag-sync-go/pkg/vectorstore"
)

type letterEmbedder struct{}

func (letterEmbedder) vector(text string) []float32 {
	v := make([]float32, 26)
	var norm float64
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			v[r-'a']++
		}
	}
	for _, x := range v {
		norm += float64(x * x)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	for i := range v {
		v[i] /= float32(math.Sqrt(norm))
	}
	return v
}

func (e letterEmbedder) EmbedPassages(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e letterEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return e.vector(text), nil
}

func (letterEmbedder) Dimension() int             { return 26 }
func (letterEmbedder) ModelName() string          { return "letters" }
func (letterEmbedder) Ping(context.Context) error { return nil }

type fakeChat struct{}

func (fakeChat) StreamResponse(_ context.Context, req service.ChatRequest, w llm.MessageWriter, _ func() bool) error {
	b, _ := json.Marshal(map[string]string{"chunk": "echo:" + req.Question})
	return w.WriteMessage(websocket.TextMessage, b)
}

func newTestRouter(t *testing.T, jwtManager *token.JWTManager) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ch, err := chunker.New(50, 5)
	require.NoError(t, err)

	store := vectorstore.NewMemoryGateway()
	docs := repository.NewMemoryDocumentRepository()
	archive := storage.NewMemoryArchive()
	ext := extractor.NewRegistry()
	embedder := letterEmbedder{}
	proc := pipeline.NewProcessor(ext, ch, embedder, store, docs, archive, time.Second)

	searchSvc := service.NewSearchService(embedder, store, "documents", time.Second)
	syncSvc := service.NewSyncService(nil, "memory")
	conversations := repository.NewMemoryConversationRepository()
	h := Handlers{
		Health:       NewHealthHandler(service.NewHealthService(store, embedder, syncSvc, time.Second)),
		Document:     NewDocumentHandler(service.NewDocumentService(proc, ext, docs, archive, "documents")),
		Search:       NewSearchHandler(searchSvc),
		Collection:   NewCollectionHandler(service.NewCollectionService(store, embedder, docs, time.Second)),
		Sync:         NewSyncHandler(syncSvc),
		Chat:         NewChatHandler(fakeChat{}),
		Conversation: NewConversationHandler(service.NewConversationService(conversations)),
	}
	return NewRouter(h, jwtManager), t.TempDir()
}

type envelope struct {
	Code    int             `json:"code"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func do(t *testing.T, r http.Handler, method, path string, body any, headers ...string) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func TestRouter_IndexSearchAndContext(t *testing.T) {
	r, dir := newTestRouter(t, nil)
	path := filepath.Join(dir, "fruit.txt")
	require.NoError(t, os.WriteFile(path, []byte("apple banana apple"), 0o644))

	code, env := do(t, r, http.MethodPost, "/api/v1/documents/index", map[string]string{"path": path})
	require.Equal(t, http.StatusOK, code, env.Error.Message)
	assert.True(t, env.Success)

	code, env = do(t, r, http.MethodPost, "/api/v1/search", map[string]any{"query": "apple", "limit": 1})
	require.Equal(t, http.StatusOK, code)
	var found struct {
		Results []struct {
			FileName string  `json:"fileName"`
			Score    float32 `json:"score"`
		} `json:"results"`
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &found))
	assert.Equal(t, 1, found.Count)
	require.Len(t, found.Results, 1)
	assert.Equal(t, "fruit.txt", found.Results[0].FileName)
	assert.Positive(t, found.Results[0].Score)

	code, env = do(t, r, http.MethodPost, "/api/v1/context", map[string]any{"query": "apple banana", "score_threshold": 0.1})
	require.Equal(t, http.StatusOK, code)
	var ctxOut struct {
		Text    string   `json:"text"`
		Sources []string `json:"sources"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &ctxOut))
	assert.Equal(t, []string{"fruit.txt"}, ctxOut.Sources)
	assert.Contains(t, ctxOut.Text, "apple banana apple")

	code, env = do(t, r, http.MethodGet, "/api/v1/documents", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"count":1`)

	code, _ = do(t, r, http.MethodDelete, "/api/v1/documents?path="+path, nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestRouter_ErrorEnvelope(t *testing.T) {
	r, dir := newTestRouter(t, nil)

	code, env := do(t, r, http.MethodPost, "/api/v1/search", map[string]any{"query": ""})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, env.Success)
	assert.Equal(t, "validation", env.Error.Kind)

	code, env = do(t, r, http.MethodGet, "/api/v1/collections/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", env.Error.Kind)

	png := filepath.Join(dir, "x.png")
	require.NoError(t, os.WriteFile(png, []byte{0x89, 'P', 'N', 'G'}, 0o644))
	code, env = do(t, r, http.MethodPost, "/api/v1/documents/index", map[string]string{"path": png})
	assert.Equal(t, http.StatusUnsupportedMediaType, code)
	assert.Equal(t, "unsupported_format", env.Error.Kind)

	code, _ = do(t, r, http.MethodPost, "/api/v1/documents/index", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = do(t, r, http.MethodDelete, "/api/v1/collections/documents", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Error.Message, "confirm=true")
}

func TestRouter_CollectionsAndHealth(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	code, env := do(t, r, http.MethodPost, "/api/v1/collections", map[string]any{"name": "notes"})
	require.Equal(t, http.StatusOK, code, env.Error.Message)
	assert.Contains(t, string(env.Data), `"dimension":26`)

	code, env = do(t, r, http.MethodGet, "/api/v1/collections", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"count":1`)

	code, _ = do(t, r, http.MethodDelete, "/api/v1/collections/notes?confirm=true", nil)
	assert.Equal(t, http.StatusOK, code)

	code, env = do(t, r, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"status":"ok"`)

	code, env = do(t, r, http.MethodGet, "/api/v1/sync/status", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"enabled":false`)
}

func TestRouter_AdminAuth(t *testing.T) {
	jwtManager := token.NewJWTManager("secret", 1)
	r, _ := newTestRouter(t, jwtManager)

	code, env := do(t, r, http.MethodPost, "/api/v1/collections", map[string]any{"name": "notes"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "unauthorized", env.Error.Kind)

	viewer, err := jwtManager.GenerateToken("bob", "viewer")
	require.NoError(t, err)
	code, _ = do(t, r, http.MethodPost, "/api/v1/collections", map[string]any{"name": "notes"}, "Authorization", "Bearer "+viewer)
	assert.Equal(t, http.StatusForbidden, code)

	admin, err := jwtManager.GenerateToken("ops", token.RoleAdmin)
	require.NoError(t, err)
	code, _ = do(t, r, http.MethodPost, "/api/v1/collections", map[string]any{"name": "notes"}, "Authorization", "Bearer "+admin)
	assert.Equal(t, http.StatusOK, code)

	// 只读接口不需要 token
	code, _ = do(t, r, http.MethodGet, "/api/v1/collections", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestRouter_ChatWebsocket(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/chat?session_id=s1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var hello map[string]string
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "s1", hello["session_id"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("what is apple")))
	var frame map[string]any
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "echo:what is apple", frame["chunk"])

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "stop"}))
	frame = nil
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "stop", frame["type"])
}
