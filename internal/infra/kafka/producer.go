package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"jkbms-gateway/internal/config"
	"jkbms-gateway/internal/infra/mq"
)

type KafkaProducer struct {
	writer *kafka.Writer
	logger *zap.Logger
	topic  string
}

// Ensure KafkaProducer implements mq.Producer
var _ mq.Producer = (*KafkaProducer)(nil)

func NewKafkaProducer(cfg config.KafkaConfig, logger *zap.Logger) (*KafkaProducer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}

	p := &KafkaProducer{
		logger: logger,
		topic:  cfg.Topic,
	}
	p.writer = &kafka.Writer{
		Addr: kafka.TCP(cfg.Brokers...),
		// 按设备标识分区, 同一 BMS 的数据保持有序
		Balancer:               &kafka.Hash{},
		WriteTimeout:           10 * time.Second,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		Async:                  true,
		Completion:             p.onCompletion,
	}

	logger.Info("Initialized Kafka producer", zap.Strings("brokers", cfg.Brokers), zap.String("topic", cfg.Topic))
	return p, nil
}

// message builds the Kafka record for one payload. The explicit topic
// overrides the configured default.
func (p *KafkaProducer) message(topic, key string, body []byte) kafka.Message {
	if topic == "" {
		topic = p.topic
	}
	return kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: body,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
		},
		Time: time.Now(),
	}
}

func (p *KafkaProducer) Produce(ctx context.Context, topic string, key string, data interface{}) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	msg := p.message(topic, key, body)
	// Async 模式下只会返回配置类错误, 投递结果在 onCompletion 中处理
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to produce message to Kafka", zap.Error(err), zap.String("topic", msg.Topic))
		return err
	}
	return nil
}

func (p *KafkaProducer) onCompletion(messages []kafka.Message, err error) {
	if err != nil {
		p.logger.Error("Kafka delivery failed", zap.Int("messages", len(messages)), zap.Error(err))
		return
	}
	for _, m := range messages {
		p.logger.Debug("Produced message to Kafka", zap.String("topic", m.Topic), zap.ByteString("key", m.Key))
	}
}

func (p *KafkaProducer) Close() {
	if err := p.writer.Close(); err != nil {
		p.logger.Error("Failed to close Kafka writer", zap.Error(err))
	}
}
