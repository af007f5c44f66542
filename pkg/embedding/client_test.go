package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-sync-go/internal/config"
)

type fakeModel struct {
	mu       sync.Mutex
	requests [][]string
	// vectorFor 根据输入文本生成原始（未归一化）向量
	vectorFor func(input string) []float32
	status    int
}

func (f *fakeModel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.status != 0 {
		w.WriteHeader(f.status)
		return
	}
	var req embeddingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.requests = append(f.requests, req.Input)
	f.mu.Unlock()

	type item struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	}
	data := make([]item, 0, len(req.Input))
	// 逆序返回，验证客户端按 index 重排
	for i := len(req.Input) - 1; i >= 0; i-- {
		data = append(data, item{Embedding: f.vectorFor(req.Input[i]), Index: i})
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func testConfig(url string) config.EmbeddingConfig {
	return config.EmbeddingConfig{
		BaseURL:        url,
		Model:          "test-e5",
		Dimensions:     3,
		PassagePrefix:  "passage: ",
		QueryPrefix:    "query: ",
		BatchSize:      2,
		TimeoutSeconds: 5,
	}
}

// 文本末尾的数字 n 编码为向量 [n+1, 1, 0]；带 query 前缀的文本额外在第三维加 1
func numberedVector(input string) []float32 {
	n := 0
	if idx := strings.LastIndex(input, "t"); idx >= 0 {
		n, _ = strconv.Atoi(input[idx+1:])
	}
	third := float32(0)
	if strings.HasPrefix(input, "query: ") {
		third = 1
	}
	return []float32{float32(n + 1), 1, third}
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func TestEmbedPassages_BatchesPrefixesAndKeepsOrder(t *testing.T) {
	model := &fakeModel{vectorFor: numberedVector}
	srv := httptest.NewServer(model)
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	texts := []string{"t0", "t1", "t2", "t3", "t4"}
	vectors, err := c.EmbedPassages(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, len(texts))

	require.Len(t, model.requests, 3, "five inputs with batch size two need three requests")
	for _, batch := range model.requests {
		for _, in := range batch {
			assert.True(t, strings.HasPrefix(in, "passage: "), in)
		}
	}
	for i, v := range vectors {
		assert.InDelta(t, 1.0, norm(v), 1e-5)
		assert.InDelta(t, float64(i+1), float64(v[0]/v[1]), 1e-4, "vector %d out of order", i)
	}
}

func TestEmbedQuery_DiffersFromPassageAndIsUnitNorm(t *testing.T) {
	srv := httptest.NewServer(&fakeModel{vectorFor: numberedVector})
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	ctx := context.Background()

	passages, err := c.EmbedPassages(ctx, []string{"t7"})
	require.NoError(t, err)
	query, err := c.EmbedQuery(ctx, "t7")
	require.NoError(t, err)

	assert.InDelta(t, 1.0, norm(passages[0]), 1e-5)
	assert.InDelta(t, 1.0, norm(query), 1e-5)
	assert.NotEqual(t, passages[0], query)
}

func TestEmbed_EmptyInput(t *testing.T) {
	c := NewClient(testConfig("http://127.0.0.1:1"))
	vectors, err := c.EmbedPassages(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
}

func TestEmbed_ModelUnavailable(t *testing.T) {
	srv := httptest.NewServer(&fakeModel{status: http.StatusServiceUnavailable})
	c := NewClient(testConfig(srv.URL))

	_, err := c.EmbedQuery(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrModelUnavailable)

	srv.Close()
	_, err = c.EmbedPassages(context.Background(), []string{"hello"})
	assert.ErrorIs(t, err, ErrModelUnavailable)
	assert.ErrorIs(t, c.Ping(context.Background()), ErrModelUnavailable)
}

func TestEmbed_ZeroVectorIsRejected(t *testing.T) {
	srv := httptest.NewServer(&fakeModel{vectorFor: func(string) []float32 { return []float32{0, 0, 0} }})
	defer srv.Close()

	_, err := NewClient(testConfig(srv.URL)).EmbedQuery(context.Background(), "x")
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestEmbed_DimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(&fakeModel{vectorFor: func(string) []float32 { return []float32{1, 2} }})
	defer srv.Close()

	_, err := NewClient(testConfig(srv.URL)).EmbedQuery(context.Background(), "x")
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestEmbed_LearnsDimensionWhenUnconfigured(t *testing.T) {
	srv := httptest.NewServer(&fakeModel{vectorFor: func(string) []float32 { return []float32{1, 2, 3, 4} }})
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Dimensions = 0
	c := NewClient(cfg)
	assert.Zero(t, c.Dimension())

	require.NoError(t, c.Ping(context.Background()))
	assert.Equal(t, 4, c.Dimension())
	assert.Equal(t, "test-e5", c.ModelName())
}

func TestCachedEmbedder_DegradesWhenRedisIsDown(t *testing.T) {
	model := &fakeModel{vectorFor: numberedVector}
	srv := httptest.NewServer(model)
	defer srv.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	c := NewCachedEmbedder(NewClient(testConfig(srv.URL)), rdb, time.Minute)
	vec, err := c.EmbedQuery(context.Background(), "t3")
	require.NoError(t, err)
	assert.Len(t, vec, 3)
	assert.Len(t, model.requests, 1)
}

func TestNewCachedEmbedder_NilRedisReturnsInner(t *testing.T) {
	inner := NewClient(testConfig("http://127.0.0.1:1"))
	assert.Same(t, inner, NewCachedEmbedder(inner, nil, time.Minute))
}
