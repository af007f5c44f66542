package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"rag-sync-go/internal/model"
)

type docKey struct {
	id         string
	collection string
}

// memoryDocumentRepository 在未配置 MySQL 时使用，进程退出后数据丢失。
type memoryDocumentRepository struct {
	mu   sync.RWMutex
	docs map[docKey]model.Document
}

// NewMemoryDocumentRepository 创建一个内存版的 DocumentRepository。
func NewMemoryDocumentRepository() DocumentRepository {
	return &memoryDocumentRepository{docs: make(map[docKey]model.Document)}
}

func (r *memoryDocumentRepository) Upsert(_ context.Context, doc *model.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[docKey{doc.ID, doc.Collection}] = *doc
	return nil
}

func (r *memoryDocumentRepository) Get(_ context.Context, id, collection string) (*model.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[docKey{id, collection}]
	if !ok {
		return nil, fmt.Errorf("%w: document %s in %s", model.ErrNotFound, id, collection)
	}
	return &doc, nil
}

func (r *memoryDocumentRepository) FindByID(_ context.Context, id string) ([]*model.Document, error) {
	return r.filter(func(d model.Document) bool { return d.ID == id }, func(a, b *model.Document) bool {
		return a.Collection < b.Collection
	}), nil
}

func (r *memoryDocumentRepository) List(_ context.Context, collection string) ([]*model.Document, error) {
	return r.filter(func(d model.Document) bool {
		return collection == "" || d.Collection == collection
	}, func(a, b *model.Document) bool {
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.Collection < b.Collection
	}), nil
}

func (r *memoryDocumentRepository) Count(ctx context.Context, collection string) (int64, error) {
	docs, _ := r.List(ctx, collection)
	return int64(len(docs)), nil
}

func (r *memoryDocumentRepository) Delete(_ context.Context, id, collection string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.docs, docKey{id, collection})
	return nil
}

func (r *memoryDocumentRepository) DeleteByCollection(_ context.Context, collection string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.docs {
		if k.collection == collection {
			delete(r.docs, k)
		}
	}
	return nil
}

func (r *memoryDocumentRepository) filter(keep func(model.Document) bool, less func(a, b *model.Document) bool) []*model.Document {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.Document, 0)
	for _, d := range r.docs {
		if keep(d) {
			doc := d
			out = append(out, &doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}
