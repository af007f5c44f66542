// Package bootstrap 根据配置构建进程级的长生命周期对象，并负责按相反顺序关闭它们。
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"rag-sync-go/internal/config"
	"rag-sync-go/internal/handler"
	ragmcp "rag-sync-go/internal/mcp"
	"rag-sync-go/internal/pipeline"
	"rag-sync-go/internal/repository"
	"rag-sync-go/internal/service"
	"rag-sync-go/internal/watcher"
	"rag-sync-go/pkg/chunker"
	"rag-sync-go/pkg/database"
	"rag-sync-go/pkg/embedding"
	"rag-sync-go/pkg/es"
	"rag-sync-go/pkg/extractor"
	"rag-sync-go/pkg/kafka"
	"rag-sync-go/pkg/llm"
	"rag-sync-go/pkg/log"
	"rag-sync-go/pkg/qdrant"
	"rag-sync-go/pkg/storage"
	"rag-sync-go/pkg/tika"
	"rag-sync-go/pkg/token"
	"rag-sync-go/pkg/vectorstore"
)

const tikaTimeout = 60 * time.Second

// Options 控制构建哪些可选部分。
type Options struct {
	// EnableSync 为 true 且配置启用时才创建目录同步引擎。一次性命令行不需要它。
	EnableSync bool
}

// App 持有全部单例。
type App struct {
	Config *config.Config

	Store     vectorstore.Gateway
	Embedder  embedding.Embedder
	Extractor *extractor.Registry
	Processor *pipeline.Processor
	Engine    *watcher.Engine
	JWT       *token.JWTManager

	Search        service.SearchService
	Documents     service.DocumentService
	Collections   service.CollectionService
	Sync          service.SyncService
	Chat          service.ChatService
	Conversations service.ConversationService
	Health        service.HealthService
	MCP           *ragmcp.Server

	producer     *kafka.Producer
	stopConsumer context.CancelFunc
	consumerDone chan struct{}
	closeOnce    sync.Once
	closers      []func() error
}

// New 依次初始化基础设施、领域组件与业务服务。
// 可选依赖（Redis、MySQL、MinIO、Tika）初始化失败时降级为内存实现或直接跳过，只记录告警。
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	app := &App{Config: cfg}

	// 1. 可选基础设施
	rdb := app.initRedis(ctx)
	db := app.initMySQL()
	archive := app.initArchive(ctx)

	// 2. 向量库
	store, err := newStore(cfg.VectorStore)
	if err != nil {
		return nil, err
	}
	app.Store = store

	// 3. Embedding，配置了 Redis 时缓存查询向量
	var embedder embedding.Embedder = embedding.NewClient(cfg.Embedding)
	if rdb != nil && cfg.Embedding.QueryCacheTTLSeconds > 0 {
		embedder = embedding.NewCachedEmbedder(embedder, rdb, time.Duration(cfg.Embedding.QueryCacheTTLSeconds)*time.Second)
	}
	app.Embedder = embedder

	// 4. 抽取与切块
	extOpts := []extractor.Option{extractor.WithMaxFileSize(int64(cfg.Extractor.MaxFileSizeMB) << 20)}
	if cfg.Extractor.TikaURL != "" {
		extOpts = append(extOpts, extractor.WithTika(tika.NewClient(cfg.Extractor.TikaURL, tikaTimeout)))
	}
	app.Extractor = extractor.NewRegistry(extOpts...)
	ch, err := chunker.New(cfg.Chunking.Size, cfg.Chunking.Overlap)
	if err != nil {
		return nil, err
	}

	// 5. 文档登记表
	var docs repository.DocumentRepository
	if db != nil {
		docs = repository.NewDocumentRepository(db)
	} else {
		docs = repository.NewMemoryDocumentRepository()
	}
	var conversations repository.ConversationRepository
	if rdb != nil {
		conversations = repository.NewConversationRepository(rdb)
	} else {
		conversations = repository.NewMemoryConversationRepository()
	}

	timeout := cfg.VectorStore.Timeout()
	defaultCollection := cfg.VectorStore.DefaultCollection
	app.Processor = pipeline.NewProcessor(app.Extractor, ch, embedder, store, docs, archive, timeout)

	// 6. 同步引擎
	queueName := cfg.Sync.Queue
	if opts.EnableSync && cfg.Sync.Enabled && len(cfg.Sync.Targets) > 0 {
		engineOpts := watcher.Options{
			Workers:           cfg.Sync.Workers,
			QueueSize:         cfg.Sync.QueueSize,
			Debounce:          cfg.Sync.Debounce(),
			InitialScan:       cfg.Sync.InitialScan,
			DefaultCollection: defaultCollection,
		}
		if cfg.Sync.Queue == "kafka" {
			app.producer = kafka.NewProducer(cfg.Kafka)
			engineOpts.Queue = app.producer
			app.closers = append(app.closers, app.producer.Close)
		}
		app.Engine = watcher.NewEngine(cfg.Sync.Targets, app.Processor, engineOpts)
	}

	// 7. 业务服务
	app.Search = service.NewSearchService(embedder, store, defaultCollection, timeout)
	app.Documents = service.NewDocumentService(app.Processor, app.Extractor, docs, archive, defaultCollection)
	app.Collections = service.NewCollectionService(store, embedder, docs, timeout)
	app.Sync = service.NewSyncService(app.Engine, queueName)
	app.Health = service.NewHealthService(store, embedder, app.Sync, 5*time.Second)
	app.Conversations = service.NewConversationService(conversations)
	if cfg.LLM.BaseURL != "" {
		app.Chat = service.NewChatService(app.Search, llm.NewClient(cfg.LLM), conversations, cfg.LLM)
	}
	if cfg.JWT.Secret != "" {
		app.JWT = token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.TokenExpireHours)
	}

	app.MCP, err = ragmcp.NewServer(&ragmcp.Services{
		Search:      app.Search,
		Documents:   app.Documents,
		Collections: app.Collections,
	})
	if err != nil {
		return nil, err
	}
	return app, nil
}

func newStore(cfg config.VectorStoreConfig) (vectorstore.Gateway, error) {
	switch cfg.Type {
	case "elasticsearch":
		client, err := es.NewClient(cfg.Elasticsearch)
		if err != nil {
			return nil, fmt.Errorf("初始化 Elasticsearch 客户端失败: %w", err)
		}
		log.Infof("[Bootstrap] 向量库: Elasticsearch (%s)", cfg.Elasticsearch.Addresses)
		return es.NewGateway(client, cfg.Elasticsearch.IndexPrefix, cfg.Timeout()), nil
	case "qdrant":
		log.Infof("[Bootstrap] 向量库: Qdrant (%s)", cfg.Qdrant.URL)
		return qdrant.NewGateway(cfg.Qdrant.URL, cfg.Qdrant.APIKey, cfg.Timeout()), nil
	case "memory":
		log.Warnf("[Bootstrap] 向量库: 内存实现, 进程退出后数据丢失")
		return vectorstore.NewMemoryGateway(), nil
	default:
		return nil, fmt.Errorf("不支持的 vector_store.type: %q", cfg.Type)
	}
}

func (a *App) initRedis(ctx context.Context) *redis.Client {
	rc := a.Config.Database.Redis
	if rc.Addr == "" {
		return nil
	}
	rdb, err := database.InitRedis(ctx, rc.Addr, rc.Password, rc.DB)
	if err != nil {
		log.Warnf("[Bootstrap] Redis 不可用, 关闭查询向量缓存并使用内存会话存储: %v", err)
		return nil
	}
	a.closers = append(a.closers, rdb.Close)
	return rdb
}

func (a *App) initMySQL() *gorm.DB {
	dsn := a.Config.Database.MySQL.DSN
	if dsn == "" {
		log.Warnf("[Bootstrap] 未配置 MySQL, 文档登记表使用内存实现")
		return nil
	}
	db, err := database.InitMySQL(dsn)
	if err != nil {
		log.Warnf("[Bootstrap] MySQL 不可用, 文档登记表使用内存实现: %v", err)
		return nil
	}
	if err := repository.AutoMigrate(db); err != nil {
		log.Warnf("[Bootstrap] 文档登记表迁移失败, 使用内存实现: %v", err)
		return nil
	}
	if sqlDB, err := db.DB(); err == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}
	return db
}

func (a *App) initArchive(ctx context.Context) storage.Archive {
	mc := a.Config.MinIO
	if mc.Endpoint == "" {
		return nil
	}
	client, err := storage.InitMinIO(ctx, mc)
	if err != nil {
		log.Warnf("[Bootstrap] MinIO 不可用, 不归档抽取文本: %v", err)
		return nil
	}
	return storage.NewMinioArchive(client, mc.BucketName)
}

// StartSync 启动同步引擎；使用 Kafka 队列时同时启动消费者。未启用同步时什么都不做。
func (a *App) StartSync(ctx context.Context) error {
	if a.Engine == nil {
		log.Info("[Bootstrap] 目录同步未启用")
		return nil
	}
	if err := a.Engine.Start(ctx); err != nil {
		return err
	}
	if a.producer != nil {
		cctx, cancel := context.WithCancel(context.Background())
		a.stopConsumer = cancel
		a.consumerDone = make(chan struct{})
		go func() {
			defer close(a.consumerDone)
			if err := kafka.StartConsumer(cctx, a.Config.Kafka, a.Engine); err != nil && !errors.Is(err, context.Canceled) {
				log.Errorf("[Bootstrap] Kafka 消费者退出: %v", err)
			}
		}()
	}
	return nil
}

// Router 返回挂载了全部 HTTP 接口的 gin 引擎。
func (a *App) Router() *gin.Engine {
	h := handler.Handlers{
		Health:       handler.NewHealthHandler(a.Health),
		Document:     handler.NewDocumentHandler(a.Documents),
		Search:       handler.NewSearchHandler(a.Search),
		Collection:   handler.NewCollectionHandler(a.Collections),
		Sync:         handler.NewSyncHandler(a.Sync),
		Conversation: handler.NewConversationHandler(a.Conversations),
		MCP:          a.MCP.Handler(),
	}
	if a.Chat != nil {
		h.Chat = handler.NewChatHandler(a.Chat)
	}
	return handler.NewRouter(h, a.JWT)
}

// Close 停止同步引擎与消费者，再按创建的相反顺序关闭连接。可重复调用。
func (a *App) Close() error {
	var errs []error
	a.closeOnce.Do(func() {
		// 先停止消费者，避免它向已关闭的工作池投递
		if a.stopConsumer != nil {
			a.stopConsumer()
			<-a.consumerDone
		}
		if a.Engine != nil {
			if err := a.Engine.Stop(); err != nil {
				errs = append(errs, err)
			}
		}
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
