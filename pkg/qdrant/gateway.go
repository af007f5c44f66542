// Package qdrant 提供了基于 Qdrant REST API 的向量库网关。
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"rag-sync-go/pkg/log"
	"rag-sync-go/pkg/vectorstore"
)

// Gateway 实现 vectorstore.Gateway，只使用 Qdrant 的 REST 接口。
type Gateway struct {
	baseURL string
	apiKey  string
	client  *http.Client

	mu   sync.RWMutex
	dims map[string]int
}

// NewGateway 创建网关。timeout 作用于每一次 HTTP 请求。
func NewGateway(baseURL, apiKey string, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Gateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		dims:    make(map[string]int),
	}
}

type collectionResponse struct {
	Result struct {
		Status       string `json:"status"`
		PointsCount  int64  `json:"points_count"`
		VectorsCount int64  `json:"vectors_count"`
		Config       struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	} `json:"result"`
}

// do 发送请求并在 out 非空时解析响应。返回 HTTP 状态码，404 不视为错误，由调用方决定语义。
func (g *Gateway) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if g.apiKey != "" {
		req.Header.Set("api-key", g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		log.Errorf("[QdrantGateway] %s %s 请求失败: %v", method, path, err)
		return 0, fmt.Errorf("%w: %v", vectorstore.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return resp.StatusCode, nil
	}
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		log.Errorf("[QdrantGateway] %s %s 返回错误: %s %s", method, path, resp.Status, string(raw))
		return resp.StatusCode, fmt.Errorf("%w: %s %s: %s: %s", vectorstore.ErrStoreFailed, method, path, resp.Status, string(raw))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("%w: decode %s response: %v", vectorstore.ErrStoreFailed, path, err)
		}
	}
	return resp.StatusCode, nil
}

func collectionPath(name string) string {
	return "/collections/" + url.PathEscape(name)
}

func (g *Gateway) getCollection(ctx context.Context, name string) (*collectionResponse, error) {
	var resp collectionResponse
	status, err := g.do(ctx, http.MethodGet, collectionPath(name), nil, &resp)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, name)
	}
	g.mu.Lock()
	g.dims[name] = resp.Result.Config.Params.Vectors.Size
	g.mu.Unlock()
	return &resp, nil
}

func (g *Gateway) dimension(ctx context.Context, name string) (int, error) {
	g.mu.RLock()
	dim, ok := g.dims[name]
	g.mu.RUnlock()
	if ok {
		return dim, nil
	}
	resp, err := g.getCollection(ctx, name)
	if err != nil {
		return 0, err
	}
	return resp.Result.Config.Params.Vectors.Size, nil
}

func (g *Gateway) EnsureCollection(ctx context.Context, name string, dim int) error {
	existing, err := g.getCollection(ctx, name)
	if err == nil {
		if size := existing.Result.Config.Params.Vectors.Size; size != dim {
			log.Warnf("[QdrantGateway] 集合 '%s' 已存在, 维度 %d 与请求的 %d 不一致", name, size, dim)
		}
		return nil
	}
	if !isNotFound(err) {
		return err
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     dim,
			"distance": vectorstore.DistanceCosine,
		},
	}
	if _, err := g.do(ctx, http.MethodPut, collectionPath(name), body, nil); err != nil {
		return err
	}
	g.mu.Lock()
	g.dims[name] = dim
	g.mu.Unlock()
	log.Infof("[QdrantGateway] 集合 '%s' 创建成功, 维度: %d", name, dim)
	return nil
}

func (g *Gateway) Upsert(ctx context.Context, collection string, points []vectorstore.Point) error {
	if len(points) == 0 {
		return nil
	}
	dim, err := g.dimension(ctx, collection)
	if err != nil {
		return err
	}
	if err := vectorstore.CheckDimensions(points, dim); err != nil {
		return err
	}

	items := make([]map[string]any, len(points))
	for i, p := range points {
		items[i] = map[string]any{
			"id":      p.ID,
			"vector":  p.Vector,
			"payload": p.Payload,
		}
	}
	_, err = g.do(ctx, http.MethodPut, collectionPath(collection)+"/points?wait=true", map[string]any{"points": items}, nil)
	return err
}

func mustFilter(filter vectorstore.Filter) map[string]any {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	must := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		must = append(must, map[string]any{"key": k, "match": map[string]any{"value": filter[k]}})
	}
	return map[string]any{"must": must}
}

func (g *Gateway) Search(ctx context.Context, collection string, vector []float32, opts vectorstore.SearchOptions) ([]vectorstore.SearchHit, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	body := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	if opts.ScoreThreshold != nil {
		body["score_threshold"] = *opts.ScoreThreshold
	}
	if len(opts.Filter) > 0 {
		body["filter"] = mustFilter(opts.Filter)
	}

	var resp struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float32        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	status, err := g.do(ctx, http.MethodPost, collectionPath(collection)+"/points/search", body, &resp)
	if err != nil {
		if status == http.StatusBadRequest && strings.Contains(err.Error(), "dimension") {
			return nil, fmt.Errorf("%w: %v", vectorstore.ErrDimensionMismatch, err)
		}
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, collection)
	}

	hits := make([]vectorstore.SearchHit, 0, len(resp.Result))
	for _, r := range resp.Result {
		hits = append(hits, vectorstore.SearchHit{ID: fmt.Sprint(r.ID), Score: r.Score, Payload: r.Payload})
	}
	vectorstore.SortHits(hits)
	return hits, nil
}

func (g *Gateway) DeleteByFilter(ctx context.Context, collection string, filter vectorstore.Filter) error {
	body := map[string]any{"filter": mustFilter(filter)}
	_, err := g.do(ctx, http.MethodPost, collectionPath(collection)+"/points/delete?wait=true", body, nil)
	// 404 表示集合不存在，没有需要删除的点
	return err
}

func (g *Gateway) ListCollections(ctx context.Context) ([]vectorstore.CollectionInfo, error) {
	var resp struct {
		Result struct {
			Collections []struct {
				Name string `json:"name"`
			} `json:"collections"`
		} `json:"result"`
	}
	if _, err := g.do(ctx, http.MethodGet, "/collections", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]vectorstore.CollectionInfo, 0, len(resp.Result.Collections))
	for _, c := range resp.Result.Collections {
		info, err := g.CollectionStats(ctx, c.Name)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (g *Gateway) CollectionStats(ctx context.Context, name string) (*vectorstore.CollectionInfo, error) {
	resp, err := g.getCollection(ctx, name)
	if err != nil {
		return nil, err
	}
	r := resp.Result
	vectors := r.VectorsCount
	if vectors == 0 {
		vectors = r.PointsCount
	}
	return &vectorstore.CollectionInfo{
		Name:         name,
		Dimension:    r.Config.Params.Vectors.Size,
		Distance:     r.Config.Params.Vectors.Distance,
		PointsCount:  r.PointsCount,
		VectorsCount: vectors,
		Status:       r.Status,
	}, nil
}

func (g *Gateway) DeleteCollection(ctx context.Context, name string) error {
	status, err := g.do(ctx, http.MethodDelete, collectionPath(name), nil, nil)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, name)
	}
	g.mu.Lock()
	delete(g.dims, name)
	g.mu.Unlock()
	return nil
}

func (g *Gateway) Health(ctx context.Context) error {
	status, err := g.do(ctx, http.MethodGet, "/readyz", nil, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", vectorstore.ErrStoreUnavailable, err)
	}
	if status == http.StatusNotFound {
		return fmt.Errorf("%w: readiness endpoint not found", vectorstore.ErrStoreUnavailable)
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, vectorstore.ErrCollectionNotFound)
}

var _ vectorstore.Gateway = (*Gateway)(nil)
