// Package kafka 提供了与 Kafka 消息队列交互的功能，作为监听循环与工作池之间的持久化队列。
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"rag-sync-go/internal/config"
	"rag-sync-go/pkg/log"
	"rag-sync-go/pkg/tasks"
)

// TaskHandler 接收从 Kafka 读取到的任务。
// 这样消费者就不依赖具体的工作池实现。
type TaskHandler interface {
	HandleTask(ctx context.Context, task tasks.FileTask) error
}

func brokers(cfg config.KafkaConfig) []string {
	var out []string
	for _, b := range strings.Split(cfg.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Producer 把文件任务写入 Kafka，消息 key 为文件路径，保证同一路径进入同一分区。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers(cfg)...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: w}
}

// Publish 发送一个文件任务到 Kafka。
func (p *Producer) Publish(ctx context.Context, task tasks.FileTask) error {
	value, err := task.Encode()
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(task.Key()), Value: value}); err != nil {
		return fmt.Errorf("写入 Kafka 失败: %w", err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// 读取失败（broker 不可达、重平衡等）后等待多久再继续读取。
var fetchRetryDelay = 2 * time.Second

// messageReader 是消费循环用到的 kafka.Reader 方法。
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// StartConsumer 启动一个 Kafka 消费者，把任务交给 handler，直到 ctx 结束。
// 交付成功后才提交 offset；任务本身的处理失败不会重试。读取消息失败只记录日志，稍后继续读取。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, handler TaskHandler) error {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers(cfg),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("[KafkaConsumer] 关闭消费者失败: %v", err)
		}
	}()

	log.Infof("[KafkaConsumer] 消费者已启动，正在监听主题 '%s'", cfg.Topic)
	consume(ctx, r, handler)
	return nil
}

func consume(ctx context.Context, r messageReader, handler TaskHandler) {
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				log.Info("[KafkaConsumer] 消费者已停止")
				return
			}
			log.Errorf("[KafkaConsumer] 从 Kafka 读取消息失败, %s 后重试: %v", fetchRetryDelay, err)
			select {
			case <-ctx.Done():
				log.Info("[KafkaConsumer] 消费者已停止")
				return
			case <-time.After(fetchRetryDelay):
			}
			continue
		}

		task, err := tasks.Decode(m.Value)
		if err != nil {
			log.Errorf("[KafkaConsumer] 无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
			// 消息格式错误，直接提交，避免阻塞队列
			commit(ctx, r, m)
			continue
		}

		if err := handler.HandleTask(ctx, task); err != nil {
			// 工作池已关闭或 ctx 结束，不提交 offset，下次启动时重新投递
			log.Warnf("[KafkaConsumer] 任务交付失败, 消费者退出, Path: %s, Error: %v", task.Path, err)
			return
		}
		commit(ctx, r, m)
	}
}

func commit(ctx context.Context, r messageReader, m kafka.Message) {
	if err := r.CommitMessages(ctx, m); err != nil {
		log.Errorf("[KafkaConsumer] 提交 Kafka 消息 offset 失败: %v", err)
	}
}
