package es

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-sync-go/internal/config"
	"rag-sync-go/pkg/vectorstore"
)

// fakeES 只实现网关用到的少量接口，足以验证请求格式与响应解析。
type fakeES struct {
	mu         sync.Mutex
	indices    map[string]int
	bulkLines  []string
	lastSearch map[string]any
	lastDelete map[string]any
	searchHits []map[string]any
}

func newFakeES() *fakeES { return &fakeES{indices: map[string]int{}} }

func (f *fakeES) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	path := strings.Trim(r.URL.Path, "/")
	parts := strings.Split(path, "/")

	switch {
	case r.Method == http.MethodHead && len(parts) == 1:
		if _, ok := f.indices[parts[0]]; ok {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusNotFound)
		}
	case r.Method == http.MethodPut && len(parts) == 1:
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		props := body["mappings"].(map[string]any)["properties"].(map[string]any)
		dims := props["vector"].(map[string]any)["dims"].(float64)
		f.indices[parts[0]] = int(dims)
		_, _ = w.Write([]byte(`{"acknowledged":true}`))
	case r.Method == http.MethodGet && len(parts) == 2 && parts[1] == "_mapping":
		out := map[string]any{}
		for name, dim := range f.indices {
			if parts[0] == name || (strings.HasSuffix(parts[0], "*") && strings.HasPrefix(name, strings.TrimSuffix(parts[0], "*"))) {
				out[name] = map[string]any{"mappings": map[string]any{"properties": map[string]any{"vector": map[string]any{"dims": dim}}}}
			}
		}
		if len(out) == 0 && !strings.HasSuffix(parts[0], "*") {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"type":"index_not_found_exception"},"status":404}`))
			return
		}
		_ = json.NewEncoder(w).Encode(out)
	case r.Method == http.MethodPost && path == "_bulk":
		sc := bufio.NewScanner(r.Body)
		sc.Buffer(make([]byte, 1024*1024), 1024*1024)
		for sc.Scan() {
			if line := strings.TrimSpace(sc.Text()); line != "" {
				f.bulkLines = append(f.bulkLines, line)
			}
		}
		_, _ = w.Write([]byte(`{"errors":false,"items":[]}`))
	case len(parts) == 2 && parts[1] == "_search":
		_ = json.NewDecoder(r.Body).Decode(&f.lastSearch)
		_ = json.NewEncoder(w).Encode(map[string]any{"hits": map[string]any{"hits": f.searchHits}})
	case len(parts) == 2 && parts[1] == "_delete_by_query":
		_ = json.NewDecoder(r.Body).Decode(&f.lastDelete)
		_, _ = w.Write([]byte(`{"deleted":2}`))
	case len(parts) == 2 && parts[1] == "_count":
		_, _ = w.Write([]byte(`{"count":7}`))
	case len(parts) >= 2 && parts[0] == "_cluster" && parts[1] == "health":
		_, _ = w.Write([]byte(`{"status":"green"}`))
	case r.Method == http.MethodDelete && len(parts) == 1:
		if _, ok := f.indices[parts[0]]; !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"status":404}`))
			return
		}
		delete(f.indices, parts[0])
		_, _ = w.Write([]byte(`{"acknowledged":true}`))
	default:
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"unexpected request ` + r.Method + " " + path + `"}`))
	}
}

func newTestGateway(t *testing.T, fake *fakeES) *Gateway {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	client, err := NewClient(config.ElasticsearchConfig{Addresses: srv.URL})
	require.NoError(t, err)
	return NewGateway(client, "rag_", 5*time.Second)
}

func TestGateway_EnsureCollectionCreatesIndexOnce(t *testing.T) {
	fake := newFakeES()
	g := newTestGateway(t, fake)
	ctx := context.Background()

	require.NoError(t, g.EnsureCollection(ctx, "Docs", 3))
	assert.Equal(t, 3, fake.indices["rag_docs"])

	// 已存在且维度不同：不报错，也不改动
	require.NoError(t, g.EnsureCollection(ctx, "docs", 4))
	assert.Equal(t, 3, fake.indices["rag_docs"])
}

func TestGateway_UpsertWritesBulkAndValidatesDimension(t *testing.T) {
	fake := newFakeES()
	fake.indices["rag_docs"] = 2
	g := newTestGateway(t, fake)
	ctx := context.Background()

	err := g.Upsert(ctx, "docs", []vectorstore.Point{{ID: "x", Vector: []float32{1, 2, 3}}})
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
	assert.Empty(t, fake.bulkLines)

	err = g.Upsert(ctx, "docs", []vectorstore.Point{
		{ID: "a", Vector: []float32{1, 0}, Payload: map[string]any{vectorstore.FieldSource: "/a.txt"}},
		{ID: "b", Vector: []float32{0, 1}, Payload: map[string]any{vectorstore.FieldSource: "/b.txt"}},
	})
	require.NoError(t, err)
	require.Len(t, fake.bulkLines, 4)
	assert.Contains(t, fake.bulkLines[0], `"_id":"a"`)
	assert.Contains(t, fake.bulkLines[0], `"_index":"rag_docs"`)
	assert.Contains(t, fake.bulkLines[1], `"source":"/a.txt"`)
	assert.Contains(t, fake.bulkLines[1], `"vector":[1,0]`)
}

func TestGateway_UpsertUnknownCollection(t *testing.T) {
	g := newTestGateway(t, newFakeES())
	err := g.Upsert(context.Background(), "missing", []vectorstore.Point{{ID: "a", Vector: []float32{1}}})
	assert.ErrorIs(t, err, vectorstore.ErrCollectionNotFound)
}

func TestGateway_SearchConvertsScoresAndAppliesThreshold(t *testing.T) {
	fake := newFakeES()
	fake.indices["rag_docs"] = 2
	fake.searchHits = []map[string]any{
		{"_id": "low", "_score": 0.6, "_source": map[string]any{"text": "low"}},
		{"_id": "high", "_score": 0.95, "_source": map[string]any{"text": "high"}},
	}
	g := newTestGateway(t, fake)

	threshold := float32(0.5)
	hits, err := g.Search(context.Background(), "docs", []float32{1, 0}, vectorstore.SearchOptions{
		Limit:          3,
		ScoreThreshold: &threshold,
		Filter:         vectorstore.Filter{vectorstore.FieldSource: "/a.txt"},
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "high", hits[0].ID)
	assert.InDelta(t, 0.9, hits[0].Score, 1e-6)

	knn := fake.lastSearch["knn"].(map[string]any)
	assert.EqualValues(t, 3, knn["k"])
	assert.EqualValues(t, 100, knn["num_candidates"])
	assert.Contains(t, mustJSON(t, knn["filter"]), `"term":{"source":"/a.txt"}`)
}

func TestGateway_DeleteByFilterSendsTermQuery(t *testing.T) {
	fake := newFakeES()
	g := newTestGateway(t, fake)

	require.NoError(t, g.DeleteByFilter(context.Background(), "docs", vectorstore.Filter{vectorstore.FieldSource: "/a.txt"}))
	assert.Contains(t, mustJSON(t, fake.lastDelete), `"term":{"source":"/a.txt"}`)
}

func TestGateway_StatsListAndDelete(t *testing.T) {
	fake := newFakeES()
	fake.indices["rag_docs"] = 4
	fake.indices["rag_notes"] = 4
	g := newTestGateway(t, fake)
	ctx := context.Background()

	info, err := g.CollectionStats(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, "docs", info.Name)
	assert.Equal(t, 4, info.Dimension)
	assert.EqualValues(t, 7, info.PointsCount)
	assert.Equal(t, "green", info.Status)

	list, err := g.ListCollections(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "docs", list[0].Name)
	assert.Equal(t, "notes", list[1].Name)

	require.NoError(t, g.DeleteCollection(ctx, "notes"))
	assert.ErrorIs(t, g.DeleteCollection(ctx, "notes"), vectorstore.ErrCollectionNotFound)
	assert.NoError(t, g.Health(ctx))
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}
