package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"rag-sync-go/pkg/log"
)

type memoryCollection struct {
	dim    int
	points map[string]Point
}

// MemoryGateway 是进程内的 Gateway 实现，用于测试与 vector_store.type=memory。
type MemoryGateway struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

// NewMemoryGateway 创建一个空的内存网关。
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{collections: make(map[string]*memoryCollection)}
}

func (g *MemoryGateway) EnsureCollection(_ context.Context, name string, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("%w: invalid dimension %d", ErrStoreFailed, dim)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.collections[name]; ok {
		if c.dim != dim {
			log.Warnf("[MemoryGateway] 集合 '%s' 已存在, 维度 %d 与请求的 %d 不一致", name, c.dim, dim)
		}
		return nil
	}
	g.collections[name] = &memoryCollection{dim: dim, points: make(map[string]Point)}
	return nil
}

func (g *MemoryGateway) Upsert(_ context.Context, collection string, points []Point) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.collections[collection]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	if err := CheckDimensions(points, c.dim); err != nil {
		return err
	}
	for _, p := range points {
		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		c.points[p.ID] = Point{ID: p.ID, Vector: vec, Payload: ClonePayload(p.Payload)}
	}
	return nil
}

func (g *MemoryGateway) Search(_ context.Context, collection string, vector []float32, opts SearchOptions) ([]SearchHit, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.collections[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	if len(vector) != c.dim {
		return nil, fmt.Errorf("%w: query has %d dims, collection expects %d", ErrDimensionMismatch, len(vector), c.dim)
	}

	hits := make([]SearchHit, 0, len(c.points))
	for _, p := range c.points {
		if !MatchFilter(p.Payload, opts.Filter) {
			continue
		}
		score := Cosine(vector, p.Vector)
		if opts.ScoreThreshold != nil && score < *opts.ScoreThreshold {
			continue
		}
		hits = append(hits, SearchHit{ID: p.ID, Score: score, Payload: ClonePayload(p.Payload)})
	}
	// 先按 ID 排序，保证同分结果在多次调用间顺序一致
	sort.Slice(hits, func(i, j int) bool { return hits[i].ID < hits[j].ID })
	SortHits(hits)
	if opts.Limit > 0 && len(hits) > opts.Limit {
		hits = hits[:opts.Limit]
	}
	return hits, nil
}

func (g *MemoryGateway) DeleteByFilter(_ context.Context, collection string, filter Filter) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.collections[collection]
	if !ok {
		// 集合不存在时没有需要删除的点
		return nil
	}
	for id, p := range c.points {
		if MatchFilter(p.Payload, filter) {
			delete(c.points, id)
		}
	}
	return nil
}

func (g *MemoryGateway) ListCollections(_ context.Context) ([]CollectionInfo, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]CollectionInfo, 0, len(g.collections))
	for name, c := range g.collections {
		out = append(out, g.info(name, c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (g *MemoryGateway) CollectionStats(_ context.Context, name string) (*CollectionInfo, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	info := g.info(name, c)
	return &info, nil
}

func (g *MemoryGateway) DeleteCollection(_ context.Context, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.collections[name]; !ok {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	delete(g.collections, name)
	return nil
}

func (g *MemoryGateway) Health(context.Context) error { return nil }

func (g *MemoryGateway) info(name string, c *memoryCollection) CollectionInfo {
	n := int64(len(c.points))
	return CollectionInfo{
		Name:         name,
		Dimension:    c.dim,
		Distance:     DistanceCosine,
		PointsCount:  n,
		VectorsCount: n,
		Status:       "green",
	}
}
