package service

import (
	"context"
	"fmt"
	"time"

	"rag-sync-go/internal/model"
	"rag-sync-go/internal/repository"
	"rag-sync-go/pkg/embedding"
	"rag-sync-go/pkg/log"
	"rag-sync-go/pkg/vectorstore"
)

// CollectionStats 是集合信息加上登记表中的文档数。
type CollectionStats struct {
	vectorstore.CollectionInfo
	DocumentsCount int64 `json:"documentsCount"`
}

// CollectionService 接口定义了集合管理操作。
type CollectionService interface {
	List(ctx context.Context) ([]vectorstore.CollectionInfo, error)
	// Create 创建集合，dim 为 0 时使用 Embedding 模型的维度。
	Create(ctx context.Context, name string, dim int) (*vectorstore.CollectionInfo, error)
	Delete(ctx context.Context, name string) error
	Stats(ctx context.Context, name string) (*CollectionStats, error)
}

type collectionService struct {
	store        vectorstore.Gateway
	embedder     embedding.Embedder
	docs         repository.DocumentRepository
	storeTimeout time.Duration
}

// NewCollectionService 创建一个新的 CollectionService 实例。docs 可以为 nil。
func NewCollectionService(store vectorstore.Gateway, embedder embedding.Embedder, docs repository.DocumentRepository, storeTimeout time.Duration) CollectionService {
	return &collectionService{store: store, embedder: embedder, docs: docs, storeTimeout: storeTimeout}
}

// 与 Elasticsearch 索引命名规则兼容的集合名
// ValidateCollectionName 校验集合名。
func ValidateCollectionName(name string) error {
	if err := vectorstore.ValidateCollectionName(name); err != nil {
		return fmt.Errorf("%w: %w", model.ErrValidation, err)
	}
	return nil
}

func (s *collectionService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.storeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.storeTimeout)
}

func (s *collectionService) List(ctx context.Context) ([]vectorstore.CollectionInfo, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.store.ListCollections(ctx)
}

func (s *collectionService) Create(ctx context.Context, name string, dim int) (*vectorstore.CollectionInfo, error) {
	if err := ValidateCollectionName(name); err != nil {
		return nil, err
	}
	if dim == 0 {
		dim = s.embedder.Dimension()
	}
	if dim <= 0 {
		return nil, fmt.Errorf("%w: 无法确定向量维度, 请显式指定 dimension", model.ErrValidation)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.store.EnsureCollection(ctx, name, dim); err != nil {
		return nil, err
	}
	log.Infof("[CollectionService] 集合 '%s' 已就绪, 维度: %d", name, dim)
	return s.store.CollectionStats(ctx, name)
}

func (s *collectionService) Delete(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("%w: 集合名不能为空", model.ErrValidation)
	}
	sctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.store.DeleteCollection(sctx, name); err != nil {
		return err
	}
	if s.docs != nil {
		if err := s.docs.DeleteByCollection(ctx, name); err != nil {
			log.Warnf("[CollectionService] 清理集合 '%s' 的文档登记失败: %v", name, err)
		}
	}
	log.Infof("[CollectionService] 集合 '%s' 已删除", name)
	return nil
}

func (s *collectionService) Stats(ctx context.Context, name string) (*CollectionStats, error) {
	sctx, cancel := s.withTimeout(ctx)
	defer cancel()
	info, err := s.store.CollectionStats(sctx, name)
	if err != nil {
		return nil, err
	}
	stats := &CollectionStats{CollectionInfo: *info}
	if s.docs != nil {
		n, err := s.docs.Count(ctx, name)
		if err != nil {
			log.Warnf("[CollectionService] 统计集合 '%s' 的文档数失败: %v", name, err)
		} else {
			stats.DocumentsCount = n
		}
	}
	return stats, nil
}
