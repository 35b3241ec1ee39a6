package kafka

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"jkbms-gateway/internal/config"
)

func TestNewKafkaProducerRequiresBrokers(t *testing.T) {
	_, err := NewKafkaProducer(config.KafkaConfig{Topic: "jk.info"}, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestKafkaMessageTopicAndKey(t *testing.T) {
	p, err := NewKafkaProducer(config.KafkaConfig{Brokers: []string{"127.0.0.1:9092"}, Topic: "jk.info"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer p.Close()

	m := p.message("", "C8:47:8C:E4:54:0D", []byte(`{}`))
	assert.Equal(t, "jk.info", m.Topic)
	assert.Equal(t, []byte("C8:47:8C:E4:54:0D"), m.Key)
	require.Len(t, m.Headers, 1)
	assert.Equal(t, "content-type", m.Headers[0].Key)

	assert.Equal(t, "bms.override", p.message("bms.override", "k", nil).Topic)
}

func TestKafkaExampleConfigUsesKafkaTopic(t *testing.T) {
	t.Setenv("JKBMS_MESSAGE_QUEUE_TYPE", config.MQKafka)
	cfg, err := config.LoadConfig(filepath.Join("..", "..", "..", "configs", "config.yaml"))
	require.NoError(t, err)

	p, err := NewKafkaProducer(cfg.MessageQueue.Kafka, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer p.Close()

	// dispatcher 传入 pipeline.topic
	m := p.message(cfg.Pipeline.Topic, "C8:47:8C:E4:54:0D", []byte(`{}`))
	assert.Equal(t, "jkbms-telemetry", m.Topic)
}
