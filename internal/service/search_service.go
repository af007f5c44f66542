// Package service 提供了面向调用方的业务逻辑：检索、上下文拼装、集合与文档管理、同步状态与问答。
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"rag-sync-go/internal/model"
	"rag-sync-go/pkg/chunker"
	"rag-sync-go/pkg/embedding"
	"rag-sync-go/pkg/log"
	"rag-sync-go/pkg/vectorstore"
)

const (
	DefaultSearchLimit      = 5
	DefaultContextLimit     = 3
	DefaultContextThreshold = 0.7
	DefaultContextMaxTokens = 2000
	MaxSearchLimit          = 100
)

// SearchRequest 是一次语义检索的参数。Collection 为空时使用默认集合，Limit 为 0 时取默认值。
type SearchRequest struct {
	Collection     string         `json:"collection"`
	Query          string         `json:"query"`
	Limit          int            `json:"limit"`
	ScoreThreshold *float32       `json:"score_threshold"`
	Filter         map[string]any `json:"filter"`
}

// ContextRequest 是拼装上下文的参数。ScoreThreshold 为 nil 时使用 0.7。
type ContextRequest struct {
	Collection     string   `json:"collection"`
	Query          string   `json:"query"`
	Limit          int      `json:"limit"`
	ScoreThreshold *float32 `json:"score_threshold"`
	MaxTokens      int      `json:"max_tokens"`
}

// SearchService 接口定义了检索操作。
type SearchService interface {
	Search(ctx context.Context, req SearchRequest) ([]model.SearchResult, error)
	GetContext(ctx context.Context, req ContextRequest) (*model.Context, error)
}

type searchService struct {
	embedder          embedding.Embedder
	store             vectorstore.Gateway
	defaultCollection string
	storeTimeout      time.Duration
}

// NewSearchService 创建一个新的 SearchService 实例。
func NewSearchService(embedder embedding.Embedder, store vectorstore.Gateway, defaultCollection string, storeTimeout time.Duration) SearchService {
	return &searchService{
		embedder:          embedder,
		store:             store,
		defaultCollection: defaultCollection,
		storeTimeout:      storeTimeout,
	}
}

func validateSearch(query string, limit int, threshold *float32) error {
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("%w: query 不能为空", model.ErrValidation)
	}
	if limit < 1 || limit > MaxSearchLimit {
		return fmt.Errorf("%w: limit 必须在 1 到 %d 之间, 实际为 %d", model.ErrValidation, MaxSearchLimit, limit)
	}
	if threshold != nil && (*threshold < 0 || *threshold > 1) {
		return fmt.Errorf("%w: score_threshold 必须在 [0, 1] 之间, 实际为 %v", model.ErrValidation, *threshold)
	}
	return nil
}

// Search 以查询模式向量化 query 并在集合中检索，结果按分数非递增排序。
func (s *searchService) Search(ctx context.Context, req SearchRequest) ([]model.SearchResult, error) {
	if req.Collection == "" {
		req.Collection = s.defaultCollection
	}
	if req.Limit == 0 {
		req.Limit = DefaultSearchLimit
	}
	if err := validateSearch(req.Query, req.Limit, req.ScoreThreshold); err != nil {
		return nil, err
	}
	if err := ValidateCollectionName(req.Collection); err != nil {
		return nil, err
	}
	log.Infof("[SearchService] 开始检索, query: '%s', collection: %s, limit: %d", req.Query, req.Collection, req.Limit)

	// 1. 向量化查询
	vector, err := s.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		log.Errorf("[SearchService] 向量化查询失败: %v", err)
		return nil, err
	}

	// 2. 检索
	sctx := ctx
	if s.storeTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, s.storeTimeout)
		defer cancel()
	}
	hits, err := s.store.Search(sctx, req.Collection, vector, vectorstore.SearchOptions{
		Limit:          req.Limit,
		ScoreThreshold: req.ScoreThreshold,
		Filter:         vectorstore.Filter(req.Filter),
	})
	if err != nil {
		log.Errorf("[SearchService] 检索失败, collection: %s, Error: %v", req.Collection, err)
		return nil, err
	}

	results := make([]model.SearchResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, model.SearchResultFromHit(h))
	}
	log.Infof("[SearchService] 检索完成, 命中 %d 条", len(results))
	return results, nil
}

// GetContext 检索并把结果拼装成可直接放入提示词的文本块。
// 每段格式为 "[i] (Score: 0.87, Source: 文件名)\n文本\n"，段之间以 "\n---\n" 分隔；
// 累计长度超过 max_tokens*4 个字符时停止追加。
func (s *searchService) GetContext(ctx context.Context, req ContextRequest) (*model.Context, error) {
	if req.Limit == 0 {
		req.Limit = DefaultContextLimit
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = DefaultContextMaxTokens
	}
	if req.MaxTokens < 0 {
		return nil, fmt.Errorf("%w: max_tokens 不能为负数", model.ErrValidation)
	}
	threshold := req.ScoreThreshold
	if threshold == nil {
		t := float32(DefaultContextThreshold)
		threshold = &t
	}

	results, err := s.Search(ctx, SearchRequest{
		Collection:     req.Collection,
		Query:          req.Query,
		Limit:          req.Limit,
		ScoreThreshold: threshold,
	})
	if err != nil {
		return nil, err
	}
	return BuildContext(results, req.MaxTokens), nil
}

// BuildContext 按排名顺序拼装上下文，Sources 为去重后的文件名。
func BuildContext(results []model.SearchResult, maxTokens int) *model.Context {
	out := &model.Context{Sources: []string{}, Results: []model.SearchResult{}}
	maxChars := maxTokens * chunker.CharsPerToken

	parts := make([]string, 0, len(results))
	seen := make(map[string]struct{})
	total := 0
	for i, r := range results {
		source := r.FileName
		if source == "" {
			source = "Unknown"
		}
		part := fmt.Sprintf("[%d] (Score: %.2f, Source: %s)\n%s\n", i+1, r.Score, source, r.Text)
		size := len([]rune(part))
		if total+size > maxChars {
			break
		}
		parts = append(parts, part)
		total += size
		out.Results = append(out.Results, r)
		if _, ok := seen[source]; !ok {
			seen[source] = struct{}{}
			out.Sources = append(out.Sources, source)
		}
	}
	out.Text = strings.Join(parts, "\n---\n")
	return out
}
