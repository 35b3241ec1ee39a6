package infra

import (
	"fmt"

	"go.uber.org/zap"

	"jkbms-gateway/internal/config"
	"jkbms-gateway/internal/infra/kafka"
	"jkbms-gateway/internal/infra/mq"
	"jkbms-gateway/internal/infra/mqtt"
	"jkbms-gateway/internal/infra/rabbitmq"
	"jkbms-gateway/internal/infra/zabbix"
)

// NewProducer 根据 message_queue.type 创建生产者, 未启用时返回 NoOpProducer
func NewProducer(cfg config.MessageQueueConfig, logger *zap.Logger) (mq.Producer, error) {
	if !cfg.Enabled {
		logger.Info("Message queue disabled, telemetry is only logged")
		return mq.NewNoOpProducer(), nil
	}

	logger = logger.With(zap.String("mq", cfg.Type))
	switch cfg.Type {
	case config.MQZabbix:
		return zabbix.NewSender(cfg.Zabbix, logger), nil
	case config.MQRabbitMQ:
		return rabbitmq.NewRabbitMQProducer(cfg.RabbitMQ, logger)
	case config.MQKafka:
		return kafka.NewKafkaProducer(cfg.Kafka, logger)
	case config.MQMQTT:
		return mqtt.NewMQTTProducer(cfg.MQTT, logger)
	default:
		return nil, fmt.Errorf("unknown message queue type %q", cfg.Type)
	}
}
