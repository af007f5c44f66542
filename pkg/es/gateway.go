package es

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"rag-sync-go/pkg/log"
	"rag-sync-go/pkg/vectorstore"
)

const (
	vectorField      = "vector"
	minNumCandidates = 100
)

// Gateway 实现 vectorstore.Gateway。
type Gateway struct {
	client  *elasticsearch.Client
	prefix  string
	timeout time.Duration

	mu   sync.RWMutex
	dims map[string]int // 索引名 -> 维度
}

// NewGateway 创建网关。prefix 会加在每个集合名之前作为索引名。
func NewGateway(client *elasticsearch.Client, prefix string, timeout time.Duration) *Gateway {
	return &Gateway{
		client:  client,
		prefix:  prefix,
		timeout: timeout,
		dims:    make(map[string]int),
	}
}

func (g *Gateway) indexName(collection string) string {
	return g.prefix + strings.ToLower(collection)
}

func (g *Gateway) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

func indexMapping(dim int) map[string]any {
	keyword := map[string]any{"type": "keyword"}
	integer := map[string]any{"type": "integer"}
	return map[string]any{
		"mappings": map[string]any{
			"properties": map[string]any{
				vectorField: map[string]any{
					"type":       "dense_vector",
					"dims":       dim,
					"index":      true,
					"similarity": "cosine",
				},
				vectorstore.FieldSource:      keyword,
				vectorstore.FieldDocumentID:  keyword,
				vectorstore.FieldFileName:    keyword,
				vectorstore.FieldFileType:    keyword,
				vectorstore.FieldContentHash: keyword,
				vectorstore.FieldChunkIndex:  integer,
				vectorstore.FieldTotalChunks: integer,
				vectorstore.FieldCharStart:   integer,
				vectorstore.FieldCharEnd:     integer,
				vectorstore.FieldText:        map[string]any{"type": "text"},
				vectorstore.FieldIndexedAt:   map[string]any{"type": "date"},
			},
		},
	}
}

// EnsureCollection 检查索引是否存在，如果不存在则创建它。
func (g *Gateway) EnsureCollection(ctx context.Context, name string, dim int) error {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	index := g.indexName(name)

	res, err := g.client.Indices.Exists([]string{index}, g.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		log.Errorf("[ESGateway] 检查索引是否存在时出错: %v", err)
		return fmt.Errorf("%w: %v", vectorstore.ErrStoreUnavailable, err)
	}
	res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		existing, err := g.dimension(ctx, index)
		if err != nil {
			return err
		}
		if existing != dim {
			log.Warnf("[ESGateway] 索引 '%s' 已存在, 维度 %d 与请求的 %d 不一致", index, existing, dim)
		}
		return nil
	case http.StatusNotFound:
	default:
		return fmt.Errorf("%w: unexpected status %d checking index %s", vectorstore.ErrStoreFailed, res.StatusCode, index)
	}

	body, err := json.Marshal(indexMapping(dim))
	if err != nil {
		return err
	}
	res, err = g.client.Indices.Create(index,
		g.client.Indices.Create.WithBody(bytes.NewReader(body)),
		g.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		log.Errorf("[ESGateway] 创建索引 '%s' 失败: %v", index, err)
		return fmt.Errorf("%w: %v", vectorstore.ErrStoreUnavailable, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		// 并发创建时另一方可能已经建好了索引
		if strings.Contains(string(raw), "resource_already_exists_exception") {
			return nil
		}
		log.Errorf("[ESGateway] 创建索引 '%s' 时 Elasticsearch 返回错误: %s", index, string(raw))
		return fmt.Errorf("%w: create index %s: %s", vectorstore.ErrStoreFailed, index, res.Status())
	}

	g.mu.Lock()
	g.dims[index] = dim
	g.mu.Unlock()
	log.Infof("[ESGateway] 索引 '%s' 创建成功, 维度: %d", index, dim)
	return nil
}

// dimension 读取索引 mapping 中的向量维度，结果会被缓存。
func (g *Gateway) dimension(ctx context.Context, index string) (int, error) {
	g.mu.RLock()
	dim, ok := g.dims[index]
	g.mu.RUnlock()
	if ok {
		return dim, nil
	}

	mappings, err := g.mappings(ctx, index)
	if err != nil {
		return 0, err
	}
	dim, ok = mappings[index]
	if !ok {
		return 0, fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, index)
	}
	g.mu.Lock()
	g.dims[index] = dim
	g.mu.Unlock()
	return dim, nil
}

type mappingResponse map[string]struct {
	Mappings struct {
		Properties map[string]struct {
			Dims int `json:"dims"`
		} `json:"properties"`
	} `json:"mappings"`
}

// mappings 返回匹配 pattern 的所有索引及其向量维度。
func (g *Gateway) mappings(ctx context.Context, pattern string) (map[string]int, error) {
	res, err := g.client.Indices.GetMapping(
		g.client.Indices.GetMapping.WithIndex(pattern),
		g.client.Indices.GetMapping.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vectorstore.ErrStoreUnavailable, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, pattern)
	}
	if res.IsError() {
		return nil, fmt.Errorf("%w: get mapping: %s", vectorstore.ErrStoreFailed, res.Status())
	}

	var parsed mappingResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decode mapping: %v", vectorstore.ErrStoreFailed, err)
	}
	out := make(map[string]int, len(parsed))
	for index, m := range parsed {
		out[index] = m.Mappings.Properties[vectorField].Dims
	}
	return out, nil
}

// Upsert 通过 bulk 接口写入点，并等待刷新后返回，保证写入立即可检索。
func (g *Gateway) Upsert(ctx context.Context, collection string, points []vectorstore.Point) error {
	if len(points) == 0 {
		return nil
	}
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	index := g.indexName(collection)

	dim, err := g.dimension(ctx, index)
	if err != nil {
		return err
	}
	if err := vectorstore.CheckDimensions(points, dim); err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, p := range points {
		meta := map[string]any{"index": map[string]any{"_index": index, "_id": p.ID}}
		doc := vectorstore.ClonePayload(p.Payload)
		if doc == nil {
			doc = map[string]any{}
		}
		doc[vectorField] = p.Vector
		if err := enc.Encode(meta); err != nil {
			return err
		}
		if err := enc.Encode(doc); err != nil {
			return err
		}
	}

	res, err := g.client.Bulk(&buf,
		g.client.Bulk.WithContext(ctx),
		g.client.Bulk.WithRefresh("wait_for"),
	)
	if err != nil {
		log.Errorf("[ESGateway] bulk 写入失败: %v", err)
		return fmt.Errorf("%w: %v", vectorstore.ErrStoreUnavailable, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("%w: bulk: %s", vectorstore.ErrStoreFailed, res.Status())
	}

	var parsed struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int `json:"status"`
			Error  struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("%w: decode bulk response: %v", vectorstore.ErrStoreFailed, err)
	}
	if parsed.Errors {
		for _, item := range parsed.Items {
			for _, r := range item {
				if r.Status >= 300 {
					log.Errorf("[ESGateway] bulk 写入存在失败条目: %s %s", r.Error.Type, r.Error.Reason)
					return fmt.Errorf("%w: bulk item failed: %s: %s", vectorstore.ErrStoreFailed, r.Error.Type, r.Error.Reason)
				}
			}
		}
		return fmt.Errorf("%w: bulk reported errors", vectorstore.ErrStoreFailed)
	}
	return nil
}

func termFilters(filter vectorstore.Filter) []map[string]any {
	out := make([]map[string]any, 0, len(filter))
	for k, v := range filter {
		out = append(out, map[string]any{"term": map[string]any{k: v}})
	}
	// map 遍历无序，排序后请求体稳定
	sort.Slice(out, func(i, j int) bool {
		return fmt.Sprint(out[i]) < fmt.Sprint(out[j])
	})
	return out
}

// Search 执行 kNN 检索。Elasticsearch 的 cosine 得分为 (1+cos)/2，这里换算回余弦相似度后再应用阈值。
func (g *Gateway) Search(ctx context.Context, collection string, vector []float32, opts vectorstore.SearchOptions) ([]vectorstore.SearchHit, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	index := g.indexName(collection)

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	candidates := limit * 10
	if candidates < minNumCandidates {
		candidates = minNumCandidates
	}
	knn := map[string]any{
		"field":          vectorField,
		"query_vector":   vector,
		"k":              limit,
		"num_candidates": candidates,
	}
	if len(opts.Filter) > 0 {
		knn["filter"] = map[string]any{"bool": map[string]any{"filter": termFilters(opts.Filter)}}
	}
	query := map[string]any{
		"size":    limit,
		"knn":     knn,
		"_source": map[string]any{"excludes": []string{vectorField}},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, err
	}
	res, err := g.client.Search(
		g.client.Search.WithContext(ctx),
		g.client.Search.WithIndex(index),
		g.client.Search.WithBody(&buf),
	)
	if err != nil {
		log.Errorf("[ESGateway] 向 Elasticsearch 发送搜索请求失败: %v", err)
		return nil, fmt.Errorf("%w: %v", vectorstore.ErrStoreUnavailable, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, collection)
	}
	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		if strings.Contains(string(raw), "dimension") {
			return nil, fmt.Errorf("%w: %s", vectorstore.ErrDimensionMismatch, string(raw))
		}
		log.Errorf("[ESGateway] Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(raw))
		return nil, fmt.Errorf("%w: search: %s", vectorstore.ErrStoreFailed, res.Status())
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				ID     string         `json:"_id"`
				Score  float64        `json:"_score"`
				Source map[string]any `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decode search response: %v", vectorstore.ErrStoreFailed, err)
	}

	hits := make([]vectorstore.SearchHit, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		score := float32(2*h.Score - 1)
		if opts.ScoreThreshold != nil && score < *opts.ScoreThreshold {
			continue
		}
		hits = append(hits, vectorstore.SearchHit{ID: h.ID, Score: score, Payload: h.Source})
	}
	vectorstore.SortHits(hits)
	return hits, nil
}

// DeleteByFilter 使用 delete_by_query 删除匹配的文档，索引不存在时视为成功。
func (g *Gateway) DeleteByFilter(ctx context.Context, collection string, filter vectorstore.Filter) error {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	index := g.indexName(collection)

	query := map[string]any{"query": map[string]any{"match_all": map[string]any{}}}
	if len(filter) > 0 {
		query = map[string]any{"query": map[string]any{"bool": map[string]any{"filter": termFilters(filter)}}}
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return err
	}

	res, err := g.client.DeleteByQuery([]string{index}, &buf,
		g.client.DeleteByQuery.WithContext(ctx),
		g.client.DeleteByQuery.WithRefresh(true),
		g.client.DeleteByQuery.WithConflicts("proceed"),
	)
	if err != nil {
		log.Errorf("[ESGateway] delete_by_query 失败: %v", err)
		return fmt.Errorf("%w: %v", vectorstore.ErrStoreUnavailable, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if res.IsError() {
		return fmt.Errorf("%w: delete_by_query: %s", vectorstore.ErrStoreFailed, res.Status())
	}
	return nil
}

func (g *Gateway) ListCollections(ctx context.Context) ([]vectorstore.CollectionInfo, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	mappings, err := g.mappings(ctx, g.prefix+"*")
	if err != nil {
		return nil, err
	}
	out := make([]vectorstore.CollectionInfo, 0, len(mappings))
	for index, dim := range mappings {
		if !strings.HasPrefix(index, g.prefix) || dim == 0 {
			continue
		}
		info, err := g.stats(ctx, index, dim)
		if err != nil {
			return nil, err
		}
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (g *Gateway) CollectionStats(ctx context.Context, name string) (*vectorstore.CollectionInfo, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	index := g.indexName(name)

	dim, err := g.dimension(ctx, index)
	if err != nil {
		return nil, err
	}
	return g.stats(ctx, index, dim)
}

func (g *Gateway) stats(ctx context.Context, index string, dim int) (*vectorstore.CollectionInfo, error) {
	res, err := g.client.Count(
		g.client.Count.WithIndex(index),
		g.client.Count.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vectorstore.ErrStoreUnavailable, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, index)
	}
	if res.IsError() {
		return nil, fmt.Errorf("%w: count: %s", vectorstore.ErrStoreFailed, res.Status())
	}
	var parsed struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decode count: %v", vectorstore.ErrStoreFailed, err)
	}

	return &vectorstore.CollectionInfo{
		Name:         strings.TrimPrefix(index, g.prefix),
		Dimension:    dim,
		Distance:     vectorstore.DistanceCosine,
		PointsCount:  parsed.Count,
		VectorsCount: parsed.Count,
		Status:       g.clusterStatus(ctx, index),
	}, nil
}

// clusterStatus 返回索引的健康状态，查询失败时返回 unknown。
func (g *Gateway) clusterStatus(ctx context.Context, index ...string) string {
	opts := []func(*esapi.ClusterHealthRequest){g.client.Cluster.Health.WithContext(ctx)}
	if len(index) > 0 {
		opts = append(opts, g.client.Cluster.Health.WithIndex(index...))
	}
	res, err := g.client.Cluster.Health(opts...)
	if err != nil {
		return "unknown"
	}
	defer res.Body.Close()
	if res.IsError() {
		return "unknown"
	}
	var parsed struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return "unknown"
	}
	return parsed.Status
}

func (g *Gateway) DeleteCollection(ctx context.Context, name string) error {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	index := g.indexName(name)

	res, err := g.client.Indices.Delete([]string{index}, g.client.Indices.Delete.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: %v", vectorstore.ErrStoreUnavailable, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, name)
	}
	if res.IsError() {
		return fmt.Errorf("%w: delete index: %s", vectorstore.ErrStoreFailed, res.Status())
	}

	g.mu.Lock()
	delete(g.dims, index)
	g.mu.Unlock()
	log.Infof("[ESGateway] 索引 '%s' 已删除", index)
	return nil
}

// Health 在集群状态为 red 或无法连接时返回 ErrStoreUnavailable。
func (g *Gateway) Health(ctx context.Context) error {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	status := g.clusterStatus(ctx)
	switch status {
	case "green", "yellow":
		return nil
	default:
		return fmt.Errorf("%w: cluster status %s", vectorstore.ErrStoreUnavailable, status)
	}
}

var _ vectorstore.Gateway = (*Gateway)(nil)
