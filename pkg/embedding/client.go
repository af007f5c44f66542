// Package embedding provides a client for interacting with embedding models.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"rag-sync-go/internal/config"
	"rag-sync-go/pkg/log"
)

var (
	// ErrModelUnavailable 表示 Embedding 服务不可达、超时或返回了非 200 状态码。
	ErrModelUnavailable = errors.New("embedding model unavailable")
	// ErrEmbeddingFailed 表示服务返回了无法使用的结果（数量不符、维度不符、零向量）。
	ErrEmbeddingFailed = errors.New("embedding failed")
)

const defaultBatchSize = 32

// Embedder 将文本映射为定长的单位向量。
// 存储内容与查询使用不同的指令前缀编码，两者不可混用。
type Embedder interface {
	EmbedPassages(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	ModelName() string
	Ping(ctx context.Context) error
}

type openAICompatibleClient struct {
	cfg     config.EmbeddingConfig
	client  *http.Client
	limiter *rate.Limiter

	mu  sync.RWMutex
	dim int
}

// NewClient creates a new embedding client for an OpenAI-compatible /embeddings endpoint.
func NewClient(cfg config.EmbeddingConfig) Embedder {
	limit := rate.Inf
	burst := 1
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
		if b := int(cfg.RateLimit); b > 1 {
			burst = b
		}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	return &openAICompatibleClient{
		cfg:     cfg,
		client:  &http.Client{},
		limiter: rate.NewLimiter(limit, burst),
		dim:     cfg.Dimensions,
	}
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (c *openAICompatibleClient) ModelName() string { return c.cfg.Model }

// Dimension 返回向量维度。配置未给出维度时，以第一次成功响应的维度为准。
func (c *openAICompatibleClient) Dimension() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dim
}

// EmbedPassages 以 passage 指令批量编码，输出顺序与输入一一对应。
func (c *openAICompatibleClient) EmbedPassages(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	inputs := make([]string, len(texts))
	for i, t := range texts {
		inputs[i] = c.cfg.PassagePrefix + t
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(inputs); start += c.cfg.BatchSize {
		end := start + c.cfg.BatchSize
		if end > len(inputs) {
			end = len(inputs)
		}
		vectors, err := c.embed(ctx, inputs[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	log.Debugf("[EmbeddingClient] passage 编码完成, 数量: %d, 维度: %d", len(out), c.Dimension())
	return out, nil
}

// EmbedQuery 以 query 指令编码单条查询文本。
func (c *openAICompatibleClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.embed(ctx, []string{c.cfg.QueryPrefix + text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Ping 通过编码一条短查询确认模型可用。
func (c *openAICompatibleClient) Ping(ctx context.Context) error {
	_, err := c.EmbedQuery(ctx, "ping")
	return err
}

func (c *openAICompatibleClient) embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %v", ErrModelUnavailable, err)
	}
	if timeout := c.cfg.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	reqBytes, err := json.Marshal(embeddingRequest{
		Model:      c.cfg.Model,
		Input:      inputs,
		Dimensions: c.cfg.Dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/embeddings", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		log.Errorf("[EmbeddingClient] 调用 Embedding API 失败, error: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		log.Errorf("[EmbeddingClient] Embedding API 返回非 200 状态码: %s", resp.Status)
		return nil, fmt.Errorf("%w: status %s: %s", ErrModelUnavailable, resp.Status, string(body))
	}

	var embeddingResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embeddingResp); err != nil {
		log.Errorf("[EmbeddingClient] 解析 Embedding API 响应失败, error: %v", err)
		return nil, fmt.Errorf("%w: decode response: %v", ErrModelUnavailable, err)
	}
	if len(embeddingResp.Data) == 0 {
		return nil, fmt.Errorf("%w: empty data", ErrModelUnavailable)
	}
	if len(embeddingResp.Data) != len(inputs) {
		return nil, fmt.Errorf("%w: got %d vectors for %d inputs", ErrEmbeddingFailed, len(embeddingResp.Data), len(inputs))
	}

	// 服务端不保证按输入顺序返回，按 index 重新排列
	vectors := make([][]float32, len(inputs))
	for _, d := range embeddingResp.Data {
		if d.Index < 0 || d.Index >= len(inputs) || vectors[d.Index] != nil {
			return nil, fmt.Errorf("%w: invalid or duplicate index %d", ErrEmbeddingFailed, d.Index)
		}
		vec, err := normalize(d.Embedding)
		if err != nil {
			return nil, err
		}
		vectors[d.Index] = vec
	}

	if err := c.checkDimension(len(vectors[0])); err != nil {
		return nil, err
	}
	for _, v := range vectors {
		if len(v) != len(vectors[0]) {
			return nil, fmt.Errorf("%w: inconsistent vector lengths in one response", ErrEmbeddingFailed)
		}
	}
	return vectors, nil
}

func (c *openAICompatibleClient) checkDimension(got int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dim == 0 {
		c.dim = got
		log.Infof("[EmbeddingClient] 未配置向量维度, 采用模型返回的维度: %d", got)
		return nil
	}
	if got != c.dim {
		return fmt.Errorf("%w: model returned %d dims, expected %d", ErrEmbeddingFailed, got, c.dim)
	}
	return nil
}

// normalize 返回 L2 归一化后的新向量。零向量无法归一化，视为失败。
func normalize(v []float32) ([]float32, error) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if len(v) == 0 || sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return nil, fmt.Errorf("%w: zero or invalid vector", ErrEmbeddingFailed)
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out, nil
}
