package bootstrap

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-sync-go/internal/config"
	"rag-sync-go/internal/watcher"
)

func memoryConfig(t *testing.T, dir string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
vector_store:
  type: memory
embedding:
  base_url: "http://127.0.0.1:1/v1"
extractor:
  tika_url: ""
database:
  mysql:
    dsn: ""
sync:
  enabled: true
  targets:
    - path: "` + dir + `"
      recursive: true
llm:
  base_url: ""
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func TestApp_BuildsInMemoryStackAndShutsDown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	ctx := context.Background()

	app, err := New(ctx, memoryConfig(t, dir), Options{EnableSync: true})
	require.NoError(t, err)
	require.NotNil(t, app.Engine)
	assert.Nil(t, app.Chat, "chat is disabled without an llm base_url")
	assert.Nil(t, app.JWT)

	require.NoError(t, app.StartSync(ctx))
	assert.Equal(t, watcher.StateActive, app.Engine.State())

	w := httptest.NewRecorder()
	app.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/sync/status", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data struct {
			Enabled bool   `json:"enabled"`
			Queue   string `json:"queue"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Data.Enabled)
	assert.Equal(t, "memory", body.Data.Queue)

	require.NoError(t, app.Close())
	require.NoError(t, app.Close())
	assert.Equal(t, watcher.StateStopped, app.Engine.State())
}

func TestApp_HealthIsDegradedWhenEmbeddingIsDown(t *testing.T) {
	app, err := New(context.Background(), memoryConfig(t, t.TempDir()), Options{})
	require.NoError(t, err)
	defer app.Close()
	assert.Nil(t, app.Engine, "one-shot commands do not build the watcher")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	report := app.Health.Check(ctx)
	assert.Equal(t, "degraded", report.Status)
	assert.Equal(t, "ok", report.VectorStore)
	assert.Equal(t, "disabled", report.Sync)
}

func TestApp_RejectsUnknownStore(t *testing.T) {
	cfg := memoryConfig(t, t.TempDir())
	cfg.VectorStore.Type = "sqlite"
	_, err := New(context.Background(), cfg, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sqlite")
}
