package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"jkbms-gateway/internal/config"
	"jkbms-gateway/internal/infra/mq"
)

type MQTTProducer struct {
	client  paho.Client
	cfg     config.MQTTConfig
	timeout time.Duration
	logger  *zap.Logger
}

var _ mq.Producer = (*MQTTProducer)(nil)

// NewMQTTProducer connects in the background and keeps retrying; publishing
// before the first connect fails fast.
func NewMQTTProducer(cfg config.MQTTConfig, logger *zap.Logger) (*MQTTProducer, error) {
	p := &MQTTProducer{
		cfg:     cfg,
		timeout: cfg.Timeout,
		logger:  logger,
	}
	if p.timeout <= 0 {
		p.timeout = 5 * time.Second
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetCleanSession(true).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetOrderMatters(false).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(p.statusTopic(), "offline", cfg.QoS, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	p.client = paho.NewClient(opts)
	if token := p.client.Connect(); token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}

	logger.Info("Initialized MQTT producer", zap.String("broker", cfg.Broker), zap.String("client_id", cfg.ClientID))
	return p, nil
}

// topicFor 生成 <prefix>/<device>/<topic>, 设备标识中的 ':' 替换为 '-'
func topicFor(prefix, device, topic string) string {
	parts := make([]string, 0, 3)
	for _, s := range []string{prefix, strings.ReplaceAll(device, ":", "-"), topic} {
		s = strings.Trim(s, "/")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "/")
}

func (p *MQTTProducer) statusTopic() string {
	return topicFor(p.cfg.TopicPrefix, "", "status")
}

func (p *MQTTProducer) onConnect(c paho.Client) {
	p.logger.Info("MQTT connected", zap.String("broker", p.cfg.Broker))
	c.Publish(p.statusTopic(), p.cfg.QoS, true, "online")
}

func (p *MQTTProducer) onConnectionLost(_ paho.Client, err error) {
	p.logger.Warn("MQTT connection lost", zap.Error(err))
}

func (p *MQTTProducer) Produce(ctx context.Context, topic string, key string, data interface{}) error {
	if !p.client.IsConnectionOpen() {
		return fmt.Errorf("mqtt: not connected")
	}
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	target := topicFor(p.cfg.TopicPrefix, key, topic)
	token := p.client.Publish(target, p.cfg.QoS, p.cfg.Retained, body)

	timeout := p.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt: publish to %s timed out", target)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: publish to %s: %w", target, err)
	}

	p.logger.Debug("Published message to MQTT", zap.String("topic", target))
	return nil
}

func (p *MQTTProducer) Close() {
	if p.client.IsConnectionOpen() {
		token := p.client.Publish(p.statusTopic(), p.cfg.QoS, true, "offline")
		token.WaitTimeout(p.timeout)
	}
	p.client.Disconnect(250)
}
