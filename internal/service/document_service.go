package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"rag-sync-go/internal/model"
	"rag-sync-go/internal/pipeline"
	"rag-sync-go/internal/repository"
	"rag-sync-go/pkg/extractor"
	"rag-sync-go/pkg/log"
	"rag-sync-go/pkg/storage"
)

// 预览最多返回的字符数
const maxPreviewChars = 10000

// IndexDirectoryRequest 是目录索引的参数。Recursive 为 nil 时默认递归。
type IndexDirectoryRequest struct {
	Path       string   `json:"path"`
	Collection string   `json:"collection"`
	Recursive  *bool    `json:"recursive"`
	Extensions []string `json:"extensions"`
}

// PreviewInfoDTO 封装了文档预览所需的信息。
type PreviewInfoDTO struct {
	Document    *model.Document `json:"document"`
	Content     string          `json:"content"`
	Truncated   bool            `json:"truncated"`
	DownloadURL string          `json:"downloadUrl,omitempty"`
}

// DocumentService 接口定义了文档管理相关的业务操作。
type DocumentService interface {
	Index(ctx context.Context, path, collection string) (*pipeline.IndexResult, error)
	IndexDirectory(ctx context.Context, req IndexDirectoryRequest) (*pipeline.DirectoryResult, error)
	Delete(ctx context.Context, path, collection string) error
	List(ctx context.Context, collection string) ([]*model.Document, error)
	// Preview 返回文档的抽取文本，优先读取归档，没有归档时重新抽取源文件。
	Preview(ctx context.Context, documentID, collection string) (*PreviewInfoDTO, error)
}

type documentService struct {
	processor         *pipeline.Processor
	extractor         extractor.Extractor
	docs              repository.DocumentRepository
	archive           storage.Archive
	defaultCollection string
}

// NewDocumentService 创建一个新的 DocumentService 实例。archive 可以为 nil。
func NewDocumentService(processor *pipeline.Processor, ext extractor.Extractor, docs repository.DocumentRepository, archive storage.Archive, defaultCollection string) DocumentService {
	return &documentService{
		processor:         processor,
		extractor:         ext,
		docs:              docs,
		archive:           archive,
		defaultCollection: defaultCollection,
	}
}

func (s *documentService) collection(c string) string {
	if c == "" {
		return s.defaultCollection
	}
	return c
}

func (s *documentService) Index(ctx context.Context, path, collection string) (*pipeline.IndexResult, error) {
	return s.processor.ReindexDocument(ctx, path, s.collection(collection))
}

func (s *documentService) IndexDirectory(ctx context.Context, req IndexDirectoryRequest) (*pipeline.DirectoryResult, error) {
	recursive := true
	if req.Recursive != nil {
		recursive = *req.Recursive
	}
	return s.processor.IndexDirectory(ctx, req.Path, recursive, s.collection(req.Collection), req.Extensions)
}

func (s *documentService) Delete(ctx context.Context, path, collection string) error {
	return s.processor.DeleteDocument(ctx, path, s.collection(collection))
}

func (s *documentService) List(ctx context.Context, collection string) ([]*model.Document, error) {
	return s.docs.List(ctx, collection)
}

func (s *documentService) Preview(ctx context.Context, documentID, collection string) (*PreviewInfoDTO, error) {
	doc, err := s.find(ctx, documentID, collection)
	if err != nil {
		return nil, err
	}

	content, url := "", ""
	key := storage.ArchiveKey(doc.Collection, doc.ID)
	if s.archive != nil {
		content, err = s.archive.Get(ctx, key)
		if err != nil {
			log.Warnf("[DocumentService] 读取归档失败, 改为重新抽取, DocumentID: %s, Error: %v", doc.ID, err)
			content = ""
		} else if u, err := s.archive.PresignedURL(ctx, key, time.Hour); err == nil {
			url = u
		}
	}
	if content == "" {
		extraction, err := s.extractor.Extract(ctx, doc.Path)
		if err != nil {
			return nil, err
		}
		content = extraction.Text
	}

	preview := &PreviewInfoDTO{Document: doc, DownloadURL: url}
	runes := []rune(content)
	if len(runes) > maxPreviewChars {
		preview.Content = string(runes[:maxPreviewChars])
		preview.Truncated = true
	} else {
		preview.Content = content
	}
	return preview, nil
}

func (s *documentService) find(ctx context.Context, documentID, collection string) (*model.Document, error) {
	if strings.TrimSpace(documentID) == "" {
		return nil, fmt.Errorf("%w: document id 不能为空", model.ErrValidation)
	}
	if collection != "" {
		return s.docs.Get(ctx, documentID, collection)
	}
	docs, err := s.docs.FindByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: document %s", model.ErrNotFound, documentID)
	}
	return docs[0], nil
}

