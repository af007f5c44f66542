// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"rag-sync-go/pkg/vectorstore"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	Database    DatabaseConfig    `mapstructure:"database"`
	VectorStore VectorStoreConfig `mapstructure:"vector_store"`
	Embedding   EmbeddingConfig   `mapstructure:"embedding"`
	Chunking    ChunkingConfig    `mapstructure:"chunking"`
	Extractor   ExtractorConfig   `mapstructure:"extractor"`
	Sync        SyncConfig        `mapstructure:"sync"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	MinIO       MinIOConfig       `mapstructure:"minio"`
	JWT         JWTConfig         `mapstructure:"jwt"`
	LLM         LLMConfig         `mapstructure:"llm"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。DSN 为空时文档登记表退化为内存实现。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。Addr 为空时不启用查询向量缓存。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// VectorStoreConfig 选择并配置向量库实现：elasticsearch | qdrant | memory。
type VectorStoreConfig struct {
	Type              string              `mapstructure:"type"`
	TimeoutSeconds    int                 `mapstructure:"timeout_seconds"`
	DefaultCollection string              `mapstructure:"default_collection"`
	Elasticsearch     ElasticsearchConfig `mapstructure:"elasticsearch"`
	Qdrant            QdrantConfig        `mapstructure:"qdrant"`
}

// Timeout 返回访问向量库的单次调用超时。
func (c VectorStoreConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses   string `mapstructure:"addresses"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	IndexPrefix string `mapstructure:"index_prefix"`
}

// QdrantConfig 存储 Qdrant REST 接口的连接信息。
type QdrantConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey               string  `mapstructure:"api_key"`
	BaseURL              string  `mapstructure:"base_url"`
	Model                string  `mapstructure:"model"`
	Dimensions           int     `mapstructure:"dimensions"`
	PassagePrefix        string  `mapstructure:"passage_prefix"`
	QueryPrefix          string  `mapstructure:"query_prefix"`
	BatchSize            int     `mapstructure:"batch_size"`
	TimeoutSeconds       int     `mapstructure:"timeout_seconds"`
	RateLimit            float64 `mapstructure:"rate_limit"`
	QueryCacheTTLSeconds int     `mapstructure:"query_cache_ttl_seconds"`
}

// Timeout 返回调用 Embedding 服务的单次请求超时。
func (c EmbeddingConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ChunkingConfig 以 token 为单位配置切块大小与重叠。
type ChunkingConfig struct {
	Size    int `mapstructure:"size"`
	Overlap int `mapstructure:"overlap"`
}

// ExtractorConfig 配置文本抽取。
type ExtractorConfig struct {
	TikaURL       string `mapstructure:"tika_url"`
	MaxFileSizeMB int    `mapstructure:"max_file_size_mb"`
}

// SyncConfig 配置目录监听与后台索引。
type SyncConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Workers     int           `mapstructure:"workers"`
	QueueSize   int           `mapstructure:"queue_size"`
	DebounceMS  int           `mapstructure:"debounce_ms"`
	Queue       string        `mapstructure:"queue"`
	InitialScan bool          `mapstructure:"initial_scan"`
	Targets     []WatchTarget `mapstructure:"targets"`
}

// Debounce 返回同一路径修改事件的合并窗口。
func (c SyncConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

// WatchTarget 描述一个被监听的目录。
type WatchTarget struct {
	Path       string   `mapstructure:"path" json:"path"`
	Recursive  bool     `mapstructure:"recursive" json:"recursive"`
	Extensions []string `mapstructure:"extensions" json:"extensions"`
	Collection string   `mapstructure:"collection" json:"collection"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。Endpoint 为空时不归档抽取文本。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// JWTConfig 存储管理接口鉴权的配置。Secret 为空时不启用鉴权。
type JWTConfig struct {
	Secret           string `mapstructure:"secret"`
	TokenExpireHours int    `mapstructure:"token_expire_hours"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
	Prompt     LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 配置系统提示与上下文包裹格式（可选）。
type LLMPromptConfig struct {
	Rules        string `mapstructure:"rules"`
	RefStart     string `mapstructure:"ref_start"`
	RefEnd       string `mapstructure:"ref_end"`
	NoResultText string `mapstructure:"no_result_text"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8001")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("vector_store.type", "elasticsearch")
	v.SetDefault("vector_store.timeout_seconds", 30)
	v.SetDefault("vector_store.default_collection", "documents")
	v.SetDefault("vector_store.elasticsearch.addresses", "http://localhost:9200")
	v.SetDefault("vector_store.elasticsearch.index_prefix", "rag_")
	v.SetDefault("vector_store.qdrant.url", "http://localhost:6333")
	v.SetDefault("embedding.base_url", "http://localhost:8080/v1")
	v.SetDefault("embedding.model", "intfloat/multilingual-e5-large")
	v.SetDefault("embedding.dimensions", 1024)
	v.SetDefault("embedding.passage_prefix", "passage: ")
	v.SetDefault("embedding.query_prefix", "query: ")
	v.SetDefault("embedding.batch_size", 32)
	v.SetDefault("embedding.timeout_seconds", 30)
	v.SetDefault("embedding.query_cache_ttl_seconds", 600)
	v.SetDefault("chunking.size", 512)
	v.SetDefault("chunking.overlap", 50)
	v.SetDefault("extractor.max_file_size_mb", 50)
	v.SetDefault("sync.workers", 4)
	v.SetDefault("sync.queue_size", 64)
	v.SetDefault("sync.debounce_ms", 1000)
	v.SetDefault("sync.queue", "memory")
	v.SetDefault("kafka.topic", "rag-file-events")
	v.SetDefault("kafka.group_id", "rag-sync-go-consumer")
	v.SetDefault("minio.bucket_name", "rag-extracted")
	v.SetDefault("jwt.token_expire_hours", 24)
	v.SetDefault("llm.prompt.ref_start", "<<REF>>")
	v.SetDefault("llm.prompt.ref_end", "<<END>>")
	v.SetDefault("llm.prompt.no_result_text", "（本轮无检索结果）")
}

// Load 读取配置文件并返回解析后的配置。配置文件不存在时仅使用默认值与环境变量。
// 所有键都可以通过 RAG_ 前缀的环境变量覆盖，例如 RAG_VECTOR_STORE_TYPE。
func Load(configPath string) (*Config, error) {
	// .env 是可选的，不存在时忽略
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("RAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				var notFound viper.ConfigFileNotFoundError
				if !errors.As(err, &notFound) {
					return nil, fmt.Errorf("读取配置文件失败: %w", err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验互相关联的配置项。
func (c *Config) Validate() error {
	if c.Chunking.Size <= 0 || c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf("chunking 配置无效: size=%d, overlap=%d", c.Chunking.Size, c.Chunking.Overlap)
	}
	switch c.VectorStore.Type {
	case "elasticsearch", "qdrant", "memory":
	default:
		return fmt.Errorf("不支持的 vector_store.type: %q", c.VectorStore.Type)
	}
	switch c.Sync.Queue {
	case "memory", "kafka":
	default:
		return fmt.Errorf("不支持的 sync.queue: %q", c.Sync.Queue)
	}
	if c.Sync.Queue == "kafka" && c.Kafka.Brokers == "" {
		return errors.New("sync.queue=kafka 需要配置 kafka.brokers")
	}
	if err := vectorstore.ValidateCollectionName(c.VectorStore.DefaultCollection); err != nil {
		return fmt.Errorf("vector_store.default_collection 无效: %w", err)
	}
	for i, t := range c.Sync.Targets {
		if t.Path == "" {
			return fmt.Errorf("sync.targets[%d].path 不能为空", i)
		}
		if t.Collection != "" {
			if err := vectorstore.ValidateCollectionName(t.Collection); err != nil {
				return fmt.Errorf("sync.targets[%d].collection 无效: %w", i, err)
			}
		}
	}
	return nil
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = *cfg
}
