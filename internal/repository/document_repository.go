// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"rag-sync-go/internal/model"
)

// DocumentRepository 定义了对 documents 表的数据操作接口。
type DocumentRepository interface {
	// Upsert 按 (id, collection) 插入或整体覆盖一条记录。
	Upsert(ctx context.Context, doc *model.Document) error
	Get(ctx context.Context, id, collection string) (*model.Document, error)
	// FindByID 返回该文档在所有集合中的记录。
	FindByID(ctx context.Context, id string) ([]*model.Document, error)
	// List 按路径排序返回集合中的文档，collection 为空时返回全部。
	List(ctx context.Context, collection string) ([]*model.Document, error)
	Count(ctx context.Context, collection string) (int64, error)
	Delete(ctx context.Context, id, collection string) error
	DeleteByCollection(ctx context.Context, collection string) error
}

type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

// AutoMigrate 创建或更新 documents 表结构。
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&model.Document{})
}

func (r *documentRepository) Upsert(ctx context.Context, doc *model.Document) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(doc).Error
}

func (r *documentRepository) Get(ctx context.Context, id, collection string) (*model.Document, error) {
	var doc model.Document
	err := r.db.WithContext(ctx).Where("id = ? AND collection = ?", id, collection).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: document %s in %s", model.ErrNotFound, id, collection)
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *documentRepository) FindByID(ctx context.Context, id string) ([]*model.Document, error) {
	var docs []*model.Document
	err := r.db.WithContext(ctx).Where("id = ?", id).Order("collection").Find(&docs).Error
	return docs, err
}

func (r *documentRepository) List(ctx context.Context, collection string) ([]*model.Document, error) {
	var docs []*model.Document
	q := r.db.WithContext(ctx).Order("path")
	if collection != "" {
		q = q.Where("collection = ?", collection)
	}
	err := q.Find(&docs).Error
	return docs, err
}

func (r *documentRepository) Count(ctx context.Context, collection string) (int64, error) {
	var n int64
	q := r.db.WithContext(ctx).Model(&model.Document{})
	if collection != "" {
		q = q.Where("collection = ?", collection)
	}
	err := q.Count(&n).Error
	return n, err
}

func (r *documentRepository) Delete(ctx context.Context, id, collection string) error {
	return r.db.WithContext(ctx).Where("id = ? AND collection = ?", id, collection).Delete(&model.Document{}).Error
}

func (r *documentRepository) DeleteByCollection(ctx context.Context, collection string) error {
	return r.db.WithContext(ctx).Where("collection = ?", collection).Delete(&model.Document{}).Error
}
