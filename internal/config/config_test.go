package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
device:
  mac_address: "E1:02:9A"
message_queue:
  enabled: true
  zabbix:
    address: 10.0.0.5
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, TransportBLE, cfg.Transport.Type)
	assert.Equal(t, 5*time.Second, cfg.Device.ScanDuration)
	assert.Equal(t, time.Second, cfg.Device.CommandDelay)
	assert.Equal(t, MQZabbix, cfg.MessageQueue.Type)
	assert.Equal(t, 10051, cfg.MessageQueue.Zabbix.Port)
	assert.Equal(t, "JK_BMS", cfg.MessageQueue.Zabbix.Host)
	assert.Equal(t, "jk.info", cfg.MessageQueue.Zabbix.Item)
	// 发布间隔 = send_timeout * 0.5
	assert.Equal(t, 5*time.Second, cfg.Pipeline.PublishInterval)
	assert.Equal(t, "0000ffe1-0000-1000-8000-00805f9b34fb", cfg.Device.CharacteristicUUID)
}

func TestLoadConfigExample(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("..", "..", "configs", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "E1:02:9A", cfg.Device.MACAddress)
	assert.Equal(t, []string{"localhost:9092"}, cfg.MessageQueue.Kafka.Brokers)
	assert.Equal(t, byte(1), cfg.MessageQueue.MQTT.QoS)
	assert.Empty(t, cfg.Pipeline.Topic)
}

func TestLoadConfigExampleKafka(t *testing.T) {
	t.Setenv("JKBMS_MESSAGE_QUEUE_TYPE", MQKafka)

	cfg, err := LoadConfig(filepath.Join("..", "..", "configs", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, MQKafka, cfg.MessageQueue.Type)
	assert.Equal(t, "jkbms-telemetry", cfg.MessageQueue.Kafka.Topic)
	assert.Empty(t, cfg.Pipeline.Topic, "no pipeline topic may shadow the kafka topic")
}

func TestLoadConfigEnvOverride(t *testing.T) {
	path := writeConfig(t, `
transport:
  type: relay
relay:
  port: 7300
pipeline:
  publish_interval: 2s
`)
	t.Setenv("JKBMS_RELAY_PORT", "7411")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 7411, cfg.Relay.Port)
	assert.Equal(t, 2*time.Second, cfg.Pipeline.PublishInterval)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Device:    DeviceConfig{MACAddress: "AA:BB", ScanDuration: time.Second},
			Transport: TransportConfig{Type: TransportBLE},
			Pipeline:  PipelineConfig{Workers: 1, QueueSize: 10},
		}
	}

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "ok", mutate: func(*Config) {}},
		{name: "no device", mutate: func(c *Config) { c.Device.MACAddress = "" }, wantErr: "mac_address or name"},
		{name: "name only", mutate: func(c *Config) { c.Device.MACAddress = ""; c.Device.Name = "JK-" }},
		{name: "bad transport", mutate: func(c *Config) { c.Transport.Type = "usb" }, wantErr: "unknown type"},
		{name: "relay port", mutate: func(c *Config) { c.Transport.Type = TransportRelay }, wantErr: "invalid port"},
		{name: "workers", mutate: func(c *Config) { c.Pipeline.Workers = 0 }, wantErr: "workers"},
		{name: "kafka", mutate: func(c *Config) {
			c.MessageQueue = MessageQueueConfig{Enabled: true, Type: MQKafka}
		}, wantErr: "brokers and topic"},
		{name: "mq disabled skips backend", mutate: func(c *Config) {
			c.MessageQueue = MessageQueueConfig{Enabled: false, Type: "nats"}
		}},
		{name: "mq unknown", mutate: func(c *Config) {
			c.MessageQueue = MessageQueueConfig{Enabled: true, Type: "nats"}
		}, wantErr: "unknown type"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
