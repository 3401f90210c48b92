// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"wisdomlink-go/internal/config"
	"wisdomlink-go/pkg/database"
	"wisdomlink-go/pkg/log"
	"wisdomlink-go/pkg/tasks"

	"github.com/segmentio/kafka-go"
)

// TaskProcessor defines the interface for any service that can process a task.
// This decouples the Kafka consumer from the concrete reindexer implementation.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.ReindexTask) error
}

// Producer 负责把索引对账任务投递到 Kafka。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: w}
}

// EnqueueReindex 发送一个索引重建任务到 Kafka。
func (p *Producer) EnqueueReindex(task tasks.ReindexTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}

	return p.writer.WriteMessages(context.Background(),
		kafka.Message{
			Key:   []byte(task.Key()),
			Value: taskBytes,
		},
	)
}

// Close 关闭生产者连接。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// StartConsumer 启动一个 Kafka 消费者来处理索引重建任务。
func StartConsumer(cfg config.KafkaConfig, processor TaskProcessor) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{cfg.Brokers},
		Topic:    cfg.Topic,
		GroupID:  "wisdomlink-reindex-consumer",
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)

	failures := 0
	for {
		m, err := r.FetchMessage(context.Background())
		if err != nil {
			// 读取失败按退避重试，消费循环要在 broker 抖动后存活
			failures++
			wait := fetchBackoff(failures)
			log.Errorf("从 Kafka 读取消息失败，%s 后重试: %v", wait, err)
			time.Sleep(wait)
			continue
		}
		failures = 0

		var task tasks.ReindexTask
		if err := json.Unmarshal(m.Value, &task); err != nil {
			log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
			// 消息格式错误，直接提交，避免阻塞队列
			if err := r.CommitMessages(context.Background(), m); err != nil {
				log.Errorf("提交错误消息失败: %v", err)
			}
			continue
		}

		log.Infof("开始处理索引重建任务: index=%s, docId=%s", task.Index, task.DocID)
		if err := processor.Process(context.Background(), task); err != nil {
			log.Errorf("索引重建任务失败: index=%s, docId=%s, error: %v", task.Index, task.DocID, err)
			// 使用 Redis 计数失败次数，达到阈值后提交 offset 终止重试
			attemptsKey := fmt.Sprintf("kafka:attempts:%s", task.Key())
			attempts, incErr := database.RDB.Incr(context.Background(), attemptsKey).Result()
			if incErr == nil {
				_ = database.RDB.Expire(context.Background(), attemptsKey, 24*time.Hour).Err()
			}
			if incErr != nil {
				// Redis 异常时保守处理：不提交 offset，让 Kafka 重试
				continue
			}
			if attempts >= 3 {
				log.Errorf("索引重建任务多次失败(>=3)，提交 offset 终止重试: %s", task.Key())
				if err := r.CommitMessages(context.Background(), m); err != nil {
					log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
				}
			}
			// attempts < 3 时，不提交 offset 让 Kafka 自动重试
		} else {
			log.Infof("索引重建任务处理成功: %s", task.Key())
			// 清理失败计数
			_ = database.RDB.Del(context.Background(), fmt.Sprintf("kafka:attempts:%s", task.Key())).Err()
			// 任务处理成功后，手动提交 offset
			if err := r.CommitMessages(context.Background(), m); err != nil {
				log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
			}
		}
	}
}

// fetchBackoff 返回连续第 failures 次读取失败后的等待时间，
// 1s 起步指数增长，上限 16s。
func fetchBackoff(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	if failures > 5 {
		failures = 5
	}
	return time.Second << uint(failures-1)
}
