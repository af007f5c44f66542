package model

import (
	"rag-sync-go/pkg/vectorstore"
)

// SearchResult 是返回给调用方的检索结果。
type SearchResult struct {
	ID          string  `json:"id"`
	Score       float32 `json:"score"`
	Text        string  `json:"text"`
	Source      string  `json:"source"`
	FileName    string  `json:"fileName"`
	FileType    string  `json:"fileType"`
	DocumentID  string  `json:"documentId"`
	ChunkIndex  int     `json:"chunkIndex"`
	TotalChunks int     `json:"totalChunks"`
}

// Context 是拼装给大模型使用的上下文。
type Context struct {
	Text    string         `json:"text"`
	Sources []string       `json:"sources"`
	Results []SearchResult `json:"results"`
}

// SearchResultFromHit 把网关返回的载荷转换为强类型结果，缺失字段取零值。
func SearchResultFromHit(hit vectorstore.SearchHit) SearchResult {
	p := hit.Payload
	return SearchResult{
		ID:          hit.ID,
		Score:       hit.Score,
		Text:        stringField(p, vectorstore.FieldText),
		Source:      stringField(p, vectorstore.FieldSource),
		FileName:    stringField(p, vectorstore.FieldFileName),
		FileType:    stringField(p, vectorstore.FieldFileType),
		DocumentID:  stringField(p, vectorstore.FieldDocumentID),
		ChunkIndex:  intField(p, vectorstore.FieldChunkIndex),
		TotalChunks: intField(p, vectorstore.FieldTotalChunks),
	}
}

func stringField(p map[string]any, key string) string {
	if s, ok := p[key].(string); ok {
		return s
	}
	return ""
}

// 载荷经过 JSON 往返后数字会变成 float64
func intField(p map[string]any, key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case float32:
		return int(v)
	}
	return 0
}
