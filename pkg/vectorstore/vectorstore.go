// Package vectorstore 定义了向量库网关的统一契约，以及各实现共享的载荷字段与工具函数。
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
)

var (
	// ErrStoreUnavailable 表示无法连接向量库（网络错误、超时、服务不健康）。
	ErrStoreUnavailable = errors.New("vector store unavailable")
	// ErrStoreFailed 表示向量库拒绝了请求或返回了无法解析的结果。
	ErrStoreFailed = errors.New("vector store operation failed")
	// ErrDimensionMismatch 表示写入向量的维度与集合维度不一致。
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrCollectionNotFound 表示集合不存在。
	ErrCollectionNotFound = errors.New("collection not found")
	// ErrInvalidCollectionName 表示集合名不符合命名规则。
	ErrInvalidCollectionName = errors.New("invalid collection name")
)

// 只允许小写：Elasticsearch 索引名不区分大小写，大小写不同的名字会落到同一个索引上。
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_\-]{0,127}$`)

// ValidateCollectionName 校验集合名，所有网关共用同一套规则。
func ValidateCollectionName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q, 只允许小写字母、数字、下划线与连字符, 且不能以符号开头", ErrInvalidCollectionName, name)
	}
	return nil
}

// 载荷字段名。所有网关使用同一套键，过滤条件也只应使用这些键。
const (
	FieldSource      = "source"
	FieldDocumentID  = "document_id"
	FieldFileName    = "file_name"
	FieldFileType    = "file_type"
	FieldChunkIndex  = "chunk_index"
	FieldTotalChunks = "total_chunks"
	FieldCharStart   = "char_start"
	FieldCharEnd     = "char_end"
	FieldText        = "text"
	FieldIndexedAt   = "indexed_at"
	FieldContentHash = "content_hash"
)

// DistanceCosine 是唯一支持的距离度量。
const DistanceCosine = "Cosine"

// Point 是写入向量库的一条记录。
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// SearchHit 是一条检索结果，Score 为余弦相似度。
type SearchHit struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// Filter 是载荷字段的等值条件，所有字段必须同时满足。
type Filter map[string]any

// SearchOptions 控制一次相似度检索。
type SearchOptions struct {
	Limit          int
	ScoreThreshold *float32
	Filter         Filter
}

// CollectionInfo 描述一个集合的状态。
type CollectionInfo struct {
	Name         string `json:"name"`
	Dimension    int    `json:"dimension"`
	Distance     string `json:"distance"`
	PointsCount  int64  `json:"pointsCount"`
	VectorsCount int64  `json:"vectorsCount"`
	Status       string `json:"status"`
}

// Gateway 是向量库的能力契约。实现不做任何重试，失败以 error 返回给调用方。
type Gateway interface {
	// EnsureCollection 幂等地创建集合。集合已存在时直接返回，即使维度不同也只记录告警。
	EnsureCollection(ctx context.Context, name string, dim int) error
	// Upsert 写入或覆盖点。任一向量维度与集合不符时返回 ErrDimensionMismatch，且不写入任何点。
	Upsert(ctx context.Context, collection string, points []Point) error
	// Search 返回按分数非递增排序的结果。
	Search(ctx context.Context, collection string, vector []float32, opts SearchOptions) ([]SearchHit, error)
	// DeleteByFilter 删除载荷满足 filter 中所有条件的点。
	DeleteByFilter(ctx context.Context, collection string, filter Filter) error
	ListCollections(ctx context.Context) ([]CollectionInfo, error)
	CollectionStats(ctx context.Context, name string) (*CollectionInfo, error)
	DeleteCollection(ctx context.Context, name string) error
	Health(ctx context.Context) error
}

// CheckDimensions 校验所有点的向量长度都等于 dim。
func CheckDimensions(points []Point, dim int) error {
	for _, p := range points {
		if len(p.Vector) != dim {
			return fmt.Errorf("%w: point %s has %d dims, collection expects %d", ErrDimensionMismatch, p.ID, len(p.Vector), dim)
		}
	}
	return nil
}

// SortHits 按分数从高到低稳定排序。
func SortHits(hits []SearchHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
}

// Cosine 计算两个等长向量的余弦相似度，任一向量为零向量时返回 0。
func Cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// MatchFilter 判断载荷是否满足过滤条件。数值统一按 float64 比较，以兼容 JSON 解码后的类型。
func MatchFilter(payload map[string]any, filter Filter) bool {
	for k, want := range filter {
		got, ok := payload[k]
		if !ok || !equalValue(got, want) {
			return false
		}
	}
	return true
}

func equalValue(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// ClonePayload 返回载荷的浅拷贝，避免调用方修改网关内部状态。
func ClonePayload(p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
