package model

import (
	"errors"
	"os"

	"rag-sync-go/pkg/chunker"
	"rag-sync-go/pkg/embedding"
	"rag-sync-go/pkg/extractor"
	"rag-sync-go/pkg/vectorstore"
)

// 统一的错误分类。底层包各自声明哨兵错误，这里重新导出，调用方只需对照这一套做 errors.Is。
var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrUnsupportedFormat = extractor.ErrUnsupportedFormat
	ErrExtractionFailed  = extractor.ErrExtractionFailed
	ErrModelUnavailable  = embedding.ErrModelUnavailable
	ErrEmbeddingFailed   = embedding.ErrEmbeddingFailed
	ErrStoreUnavailable  = vectorstore.ErrStoreUnavailable
	ErrStoreFailed       = vectorstore.ErrStoreFailed
	ErrDimensionMismatch = vectorstore.ErrDimensionMismatch
)

// 对外暴露的错误类型码。
const (
	KindNotFound          = "not_found"
	KindValidation        = "validation"
	KindUnsupportedFormat = "unsupported_format"
	KindExtractionFailed  = "extraction_failed"
	KindModelUnavailable  = "model_unavailable"
	KindEmbeddingFailed   = "embedding_failed"
	KindStoreUnavailable  = "store_unavailable"
	KindStoreFailed       = "store_failed"
	KindDimensionMismatch = "dimension_mismatch"
	KindInternal          = "internal"
)

// 顺序即匹配优先级。
var kindTable = []struct {
	target error
	kind   string
}{
	{ErrValidation, KindValidation},
	{extractor.ErrTooLarge, KindValidation},
	{chunker.ErrInvalidConfig, KindValidation},
	{ErrNotFound, KindNotFound},
	{extractor.ErrNotFound, KindNotFound},
	{vectorstore.ErrCollectionNotFound, KindNotFound},
	{os.ErrNotExist, KindNotFound},
	{ErrUnsupportedFormat, KindUnsupportedFormat},
	{ErrExtractionFailed, KindExtractionFailed},
	{ErrDimensionMismatch, KindDimensionMismatch},
	{ErrModelUnavailable, KindModelUnavailable},
	{ErrEmbeddingFailed, KindEmbeddingFailed},
	{ErrStoreUnavailable, KindStoreUnavailable},
	{ErrStoreFailed, KindStoreFailed},
}

// ErrorKind 把任意错误映射为稳定的类型码，nil 返回空字符串。
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, e := range kindTable {
		if errors.Is(err, e.target) {
			return e.kind
		}
	}
	return KindInternal
}
