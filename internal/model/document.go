// Package model 定义了与数据库表对应的 Go 结构体，以及在各层之间传递的领域类型。
package model

import "time"

// Document 对应于数据库中的 documents 表，记录每个已索引文件的元数据。
// 同一路径可以索引进多个集合，因此主键为 (id, collection)。
type Document struct {
	ID          string    `gorm:"type:char(32);primaryKey" json:"id"` // 绝对路径的 md5
	Collection  string    `gorm:"type:varchar(255);primaryKey" json:"collection"`
	Path        string    `gorm:"type:varchar(1024);not null" json:"path"`
	FileName    string    `gorm:"type:varchar(255);not null" json:"fileName"`
	Format      string    `gorm:"type:varchar(20);not null" json:"format"`
	Size        int64     `gorm:"not null" json:"size"`
	ContentHash string    `gorm:"type:char(64)" json:"contentHash"` // 抽取文本的 sha256
	ChunkCount  int       `gorm:"not null" json:"chunkCount"`
	IndexedAt   time.Time `gorm:"not null;index" json:"indexedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Document) TableName() string {
	return "documents"
}

// Chunk 是检索的最小单元。Start/End 是未 trim 窗口在原文中的 rune 偏移。
type Chunk struct {
	DocumentID string
	Index      int
	Total      int
	Text       string
	Start      int
	End        int
	Source     string
	FileName   string
	FileType   string
	IndexedAt  time.Time
}
