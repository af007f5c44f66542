// Package pipeline 定义了文件处理的核心流程：抽取、切块、向量化、写入向量库。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"rag-sync-go/internal/model"
	"rag-sync-go/internal/repository"
	"rag-sync-go/pkg/chunker"
	"rag-sync-go/pkg/embedding"
	"rag-sync-go/pkg/extractor"
	"rag-sync-go/pkg/log"
	"rag-sync-go/pkg/storage"
	"rag-sync-go/pkg/vectorstore"
)

// IndexResult 是单个文件索引的结果。
type IndexResult struct {
	DocumentID    string `json:"documentId"`
	Path          string `json:"path"`
	Collection    string `json:"collection"`
	ChunksIndexed int    `json:"chunksIndexed"`
}

// FailedFile 记录目录索引中失败的文件。
type FailedFile struct {
	Path  string `json:"path"`
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// DirectoryResult 是目录索引的汇总。
type DirectoryResult struct {
	FilesFound    int          `json:"filesFound"`
	FilesIndexed  int          `json:"filesIndexed"`
	ChunksIndexed int          `json:"chunksIndexed"`
	Failed        []FailedFile `json:"failed"`
}

// Processor 封装了文件处理的所有依赖和逻辑。
type Processor struct {
	extractor    extractor.Extractor
	chunker      *chunker.Chunker
	embedder     embedding.Embedder
	store        vectorstore.Gateway
	docs         repository.DocumentRepository
	archive      storage.Archive
	storeTimeout time.Duration
	now          func() time.Time
}

// NewProcessor 创建一个新的 Processor 实例。docs 与 archive 可以为 nil。
func NewProcessor(
	ext extractor.Extractor,
	ch *chunker.Chunker,
	embedder embedding.Embedder,
	store vectorstore.Gateway,
	docs repository.DocumentRepository,
	archive storage.Archive,
	storeTimeout time.Duration,
) *Processor {
	return &Processor{
		extractor:    ext,
		chunker:      ch,
		embedder:     embedder,
		store:        store,
		docs:         docs,
		archive:      archive,
		storeTimeout: storeTimeout,
		now:          time.Now,
	}
}

// Supports 判断扩展名是否可以被抽取。
func (p *Processor) Supports(ext string) bool { return p.extractor.Supports(ext) }

func (p *Processor) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.storeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.storeTimeout)
}

func absPath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("%w: path 不能为空", model.ErrValidation)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrValidation, err)
	}
	return abs, nil
}

func checkCollection(collection string) error {
	if strings.TrimSpace(collection) == "" {
		return fmt.Errorf("%w: collection 不能为空", model.ErrValidation)
	}
	if err := vectorstore.ValidateCollectionName(collection); err != nil {
		return fmt.Errorf("%w: %w", model.ErrValidation, err)
	}
	return nil
}

// IndexDocument 抽取、切块、向量化文件并写入集合。任一步失败都会中止，之前的步骤不回滚。
// 路径已有旧分块时（例如编辑器以重命名覆盖原文件），在写入前清除它们。
func (p *Processor) IndexDocument(ctx context.Context, path, collection string) (*IndexResult, error) {
	abs, err := absPath(path)
	if err != nil {
		return nil, err
	}
	if err := checkCollection(collection); err != nil {
		return nil, err
	}
	return p.index(ctx, abs, collection, true)
}

func (p *Processor) index(ctx context.Context, abs, collection string, purgeStale bool) (*IndexResult, error) {
	docID := DocumentID(abs)
	log.Infof("[Processor] 开始处理文件, Path: %s, Collection: %s, DocumentID: %s", abs, collection, docID)

	// 1. 抽取文本
	extraction, err := p.extractor.Extract(ctx, abs)
	if err != nil {
		log.Errorf("[Processor] 步骤1: 抽取文本失败, Path: %s, Error: %v", abs, err)
		return nil, err
	}
	if strings.TrimSpace(extraction.Text) == "" {
		log.Warnf("[Processor] 步骤1: 抽取的文本内容为空, 处理中止, Path: %s", abs)
		return nil, fmt.Errorf("%w: %s 抽取的文本为空", model.ErrExtractionFailed, abs)
	}
	log.Infof("[Processor] 步骤1: 文本抽取成功, 内容长度: %d 字符", len([]rune(extraction.Text)))

	// 2. 切块
	segments := p.chunker.Segments(extraction.Text)
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: %s 未生成任何文本分块", model.ErrExtractionFailed, abs)
	}
	log.Infof("[Processor] 步骤2: 文本分块完成, size: %d, overlap: %d, 共 %d 个分块", p.chunker.Size(), p.chunker.Overlap(), len(segments))

	// 3. 一次批量向量化
	texts := make([]string, len(segments))
	for i, s := range segments {
		texts[i] = s.Text
	}
	vectors, err := p.embedder.EmbedPassages(ctx, texts)
	if err != nil {
		log.Errorf("[Processor] 步骤3: 向量化失败, Path: %s, Error: %v", abs, err)
		return nil, err
	}
	if len(vectors) != len(segments) {
		return nil, fmt.Errorf("%w: 期望 %d 个向量, 实际 %d", embedding.ErrEmbeddingFailed, len(segments), len(vectors))
	}
	log.Infof("[Processor] 步骤3: 向量化完成, 维度: %d", len(vectors[0]))

	// 4. 确保集合存在
	dim := p.embedder.Dimension()
	if dim <= 0 {
		dim = len(vectors[0])
	}
	sctx, cancel := p.storeCtx(ctx)
	err = p.store.EnsureCollection(sctx, collection, dim)
	cancel()
	if err != nil {
		log.Errorf("[Processor] 步骤4: 确保集合存在失败, Collection: %s, Error: %v", collection, err)
		return nil, err
	}

	// 5. 写入向量库，先清除同一路径的旧分块，避免新版本分块数变少时残留尾部分块
	if purgeStale {
		if err := p.purge(ctx, abs, collection); err != nil {
			return nil, err
		}
	}
	indexedAt := p.now().UTC()
	hash := contentHash(extraction.Text)
	fileName := filepath.Base(abs)
	chunks := make([]model.Chunk, len(segments))
	points := make([]vectorstore.Point, len(segments))
	for i, s := range segments {
		chunks[i] = model.Chunk{
			DocumentID: docID,
			Index:      i,
			Total:      len(segments),
			Text:       s.Text,
			Start:      s.Start,
			End:        s.End,
			Source:     abs,
			FileName:   fileName,
			FileType:   extraction.Format,
			IndexedAt:  indexedAt,
		}
		points[i] = vectorstore.Point{
			ID:      PointID(docID, i),
			Vector:  vectors[i],
			Payload: chunkPayload(chunks[i], hash),
		}
	}
	sctx, cancel = p.storeCtx(ctx)
	err = p.store.Upsert(sctx, collection, points)
	cancel()
	if err != nil {
		log.Errorf("[Processor] 步骤5: 写入向量库失败, Collection: %s, Error: %v", collection, err)
		return nil, err
	}
	log.Infof("[Processor] 步骤5: 成功写入 %d 个分块到集合 '%s'", len(points), collection)

	p.record(ctx, &model.Document{
		ID:          docID,
		Collection:  collection,
		Path:        abs,
		FileName:    fileName,
		Format:      extraction.Format,
		Size:        extraction.Size,
		ContentHash: hash,
		ChunkCount:  len(points),
		IndexedAt:   indexedAt,
	}, extraction.Text)

	log.Infof("[Processor] 文件处理成功完成, Path: %s", abs)
	return &IndexResult{
		DocumentID:    docID,
		Path:          abs,
		Collection:    collection,
		ChunksIndexed: len(points),
	}, nil
}

func chunkPayload(c model.Chunk, hash string) map[string]any {
	return map[string]any{
		vectorstore.FieldSource:      c.Source,
		vectorstore.FieldDocumentID:  c.DocumentID,
		vectorstore.FieldFileName:    c.FileName,
		vectorstore.FieldFileType:    c.FileType,
		vectorstore.FieldChunkIndex:  c.Index,
		vectorstore.FieldTotalChunks: c.Total,
		vectorstore.FieldCharStart:   c.Start,
		vectorstore.FieldCharEnd:     c.End,
		vectorstore.FieldText:        c.Text,
		vectorstore.FieldIndexedAt:   c.IndexedAt.Format(time.RFC3339),
		vectorstore.FieldContentHash: hash,
	}
}

// record 登记文档并归档抽取文本，失败只记录日志，不影响索引结果。
func (p *Processor) record(ctx context.Context, doc *model.Document, text string) {
	if p.docs != nil {
		if err := p.docs.Upsert(ctx, doc); err != nil {
			log.Warnf("[Processor] 登记文档失败, DocumentID: %s, Error: %v", doc.ID, err)
		}
	}
	if p.archive != nil {
		if err := p.archive.Put(ctx, storage.ArchiveKey(doc.Collection, doc.ID), text); err != nil {
			log.Warnf("[Processor] 归档抽取文本失败, DocumentID: %s, Error: %v", doc.ID, err)
		}
	}
}

// ReindexDocument 先删除该路径的所有分块再重新索引。两步之间失败时文档会暂时缺失，而不是重复。
func (p *Processor) ReindexDocument(ctx context.Context, path, collection string) (*IndexResult, error) {
	abs, err := absPath(path)
	if err != nil {
		return nil, err
	}
	if err := checkCollection(collection); err != nil {
		return nil, err
	}
	if err := p.purge(ctx, abs, collection); err != nil {
		return nil, err
	}
	return p.index(ctx, abs, collection, false)
}

func (p *Processor) purge(ctx context.Context, abs, collection string) error {
	sctx, cancel := p.storeCtx(ctx)
	defer cancel()
	if err := p.store.DeleteByFilter(sctx, collection, vectorstore.Filter{vectorstore.FieldSource: abs}); err != nil {
		log.Errorf("[Processor] 删除旧分块失败, Path: %s, Collection: %s, Error: %v", abs, collection, err)
		return err
	}
	return nil
}

// DeleteDocument 删除 source 等于该路径的全部分块，并清理登记与归档。
func (p *Processor) DeleteDocument(ctx context.Context, path, collection string) error {
	abs, err := absPath(path)
	if err != nil {
		return err
	}
	if err := checkCollection(collection); err != nil {
		return err
	}
	if err := p.purge(ctx, abs, collection); err != nil {
		return err
	}
	docID := DocumentID(abs)
	if p.docs != nil {
		if err := p.docs.Delete(ctx, docID, collection); err != nil {
			log.Warnf("[Processor] 删除文档登记失败, DocumentID: %s, Error: %v", docID, err)
		}
	}
	if p.archive != nil {
		if err := p.archive.Delete(ctx, storage.ArchiveKey(collection, docID)); err != nil {
			log.Warnf("[Processor] 删除归档文本失败, DocumentID: %s, Error: %v", docID, err)
		}
	}
	log.Infof("[Processor] 已删除文档, Path: %s, Collection: %s", abs, collection)
	return nil
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}

// ListFiles 列出目录下可索引的文件，跳过隐藏文件与目录。extensions 为空时使用抽取器支持的扩展名。
func (p *Processor) ListFiles(dir string, recursive bool, extensions []string) ([]string, error) {
	abs, err := absPath(dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", model.ErrNotFound, abs)
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s 不是目录", model.ErrValidation, abs)
	}

	accept := p.extensionFilter(extensions)
	var files []string
	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Warnf("[Processor] 遍历目录出错, Path: %s, Error: %v", path, err)
			if d != nil && d.IsDir() && path != abs {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path == abs {
				return nil
			}
			if !recursive || isHidden(d.Name()) {
				return fs.SkipDir
			}
			return nil
		}
		if isHidden(d.Name()) || !d.Type().IsRegular() {
			return nil
		}
		if accept(filepath.Ext(path)) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// extensionFilter 返回扩展名过滤函数，大小写不敏感，扩展名可带或不带点。
func (p *Processor) extensionFilter(extensions []string) func(string) bool {
	if len(extensions) == 0 {
		return p.extractor.Supports
	}
	set := make(map[string]struct{}, len(extensions))
	for _, e := range extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		set[e] = struct{}{}
	}
	return func(ext string) bool {
		_, ok := set[strings.ToLower(ext)]
		return ok
	}
}

// IndexDirectory 逐个索引目录中的文件。单个文件失败不会中止整个目录，失败项汇总在结果中返回。
func (p *Processor) IndexDirectory(ctx context.Context, dir string, recursive bool, collection string, extensions []string) (*DirectoryResult, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}
	files, err := p.ListFiles(dir, recursive, extensions)
	if err != nil {
		return nil, err
	}
	log.Infof("[Processor] 开始索引目录, Dir: %s, Recursive: %t, 文件数: %d", dir, recursive, len(files))

	result := &DirectoryResult{FilesFound: len(files), Failed: []FailedFile{}}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		res, err := p.ReindexDocument(ctx, f, collection)
		if err != nil {
			result.Failed = append(result.Failed, FailedFile{Path: f, Kind: model.ErrorKind(err), Error: err.Error()})
			continue
		}
		result.FilesIndexed++
		result.ChunksIndexed += res.ChunksIndexed
	}
	log.Infof("[Processor] 目录索引完成, Dir: %s, 成功: %d, 失败: %d, 分块: %d",
		dir, result.FilesIndexed, len(result.Failed), result.ChunksIndexed)
	return result, nil
}
