package service

import (
	"context"
	"time"

	"rag-sync-go/pkg/embedding"
	"rag-sync-go/pkg/vectorstore"
)

const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
)

// HealthReport 汇总各依赖的可用性。任一依赖不可用时 Status 为 degraded。
type HealthReport struct {
	Status      string            `json:"status"`
	VectorStore string            `json:"vectorStore"`
	Embedding   string            `json:"embedding"`
	Sync        string            `json:"sync"`
	Errors      map[string]string `json:"errors,omitempty"`
	CheckedAt   time.Time         `json:"checkedAt"`
}

// HealthService 探测向量库、Embedding 模型与同步引擎。
type HealthService interface {
	Check(ctx context.Context) HealthReport
}

type healthService struct {
	store    vectorstore.Gateway
	embedder embedding.Embedder
	sync     SyncService
	timeout  time.Duration
}

// NewHealthService 创建 HealthService。sync 可以为 nil。
func NewHealthService(store vectorstore.Gateway, embedder embedding.Embedder, sync SyncService, timeout time.Duration) HealthService {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &healthService{store: store, embedder: embedder, sync: sync, timeout: timeout}
}

func (s *healthService) Check(ctx context.Context) HealthReport {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	report := HealthReport{Status: HealthOK, VectorStore: HealthOK, Embedding: HealthOK, CheckedAt: time.Now()}
	fail := func(name string, err error) {
		if report.Errors == nil {
			report.Errors = make(map[string]string)
		}
		report.Errors[name] = err.Error()
		report.Status = HealthDegraded
	}
	if err := s.store.Health(ctx); err != nil {
		report.VectorStore = HealthDegraded
		fail("vector_store", err)
	}
	if err := s.embedder.Ping(ctx); err != nil {
		report.Embedding = HealthDegraded
		fail("embedding", err)
	}
	report.Sync = "disabled"
	if s.sync != nil {
		if st := s.sync.Status(); st.Enabled {
			report.Sync = string(st.State)
		}
	}
	return report
}
