package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"rag-sync-go/pkg/log"
)

const queryCachePrefix = "embedding:query:"

// CachedEmbedder 为 EmbedQuery 增加 Redis 缓存，其余方法直接委托给被包装的 Embedder。
// 缓存读写失败只记录日志，不影响调用结果。
type CachedEmbedder struct {
	Embedder
	rdb *redis.Client
	ttl time.Duration
}

// NewCachedEmbedder 包装 inner。rdb 为 nil 时直接返回 inner。
func NewCachedEmbedder(inner Embedder, rdb *redis.Client, ttl time.Duration) Embedder {
	if rdb == nil {
		return inner
	}
	return &CachedEmbedder{Embedder: inner, rdb: rdb, ttl: ttl}
}

func (c *CachedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)

	if raw, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var vec []float32
		if jsonErr := json.Unmarshal(raw, &vec); jsonErr == nil && len(vec) == c.Dimension() {
			return vec, nil
		}
	} else if err != redis.Nil {
		log.Warnf("[EmbeddingCache] 读取查询向量缓存失败, 直接调用模型: %v", err)
	}

	vec, err := c.Embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(vec); err == nil {
		if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			log.Warnf("[EmbeddingCache] 写入查询向量缓存失败: %v", err)
		}
	}
	return vec, nil
}

// cacheKey 由模型名与查询文本共同决定，切换模型后旧缓存自然失效。
func (c *CachedEmbedder) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(c.ModelName() + "\x00" + text))
	return queryCachePrefix + hex.EncodeToString(sum[:])
}
