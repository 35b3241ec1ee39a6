package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 传输方式
const (
	TransportBLE   = "ble"   // 直连 BMS 的蓝牙
	TransportRelay = "relay" // 经 TCP 中继转发的 BLE 通知
)

// 消息队列类型
const (
	MQZabbix   = "zabbix"
	MQRabbitMQ = "rabbitmq"
	MQKafka    = "kafka"
	MQMQTT     = "mqtt"
)

type Config struct {
	Log          LogConfig          `mapstructure:"log"`
	Device       DeviceConfig       `mapstructure:"device"`
	Transport    TransportConfig    `mapstructure:"transport"`
	Relay        RelayConfig        `mapstructure:"relay"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Pipeline     PipelineConfig     `mapstructure:"pipeline"`
	MessageQueue MessageQueueConfig `mapstructure:"message_queue"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
	Console    bool   `mapstructure:"console"`
}

// DeviceConfig 蓝牙 BMS 设备
type DeviceConfig struct {
	MACAddress          string        `mapstructure:"mac_address"` // 匹配 MAC 后缀, 大小写不敏感
	Name                string        `mapstructure:"name"`        // 未配置 MAC 时按名称前缀匹配
	ScanDuration        time.Duration `mapstructure:"scan_duration"`
	ServiceUUID         string        `mapstructure:"service_uuid"`
	CharacteristicUUID  string        `mapstructure:"characteristic_uuid"`
	IdleTimeout         time.Duration `mapstructure:"idle_timeout"`  // 无通知超过该时长视为断开
	CommandDelay        time.Duration `mapstructure:"command_delay"` // 两条下行命令之间的间隔
	ReconnectDelay      time.Duration `mapstructure:"reconnect_delay"`
	NotificationBacklog int           `mapstructure:"notification_backlog"`
}

type TransportConfig struct {
	Type string `mapstructure:"type"`
}

// RelayConfig TCP 中继接入
type RelayConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	MaxRecordSize int    `mapstructure:"max_record_size"`
	Multicore     bool   `mapstructure:"multicore"`
}

// AuthConfig 允许接入的设备标识 (MAC)。为空时不做限制。
type AuthConfig struct {
	AllowedDevices []string `mapstructure:"allowed_devices"`
}

type PipelineConfig struct {
	PublishInterval time.Duration `mapstructure:"publish_interval"`
	Workers         int           `mapstructure:"workers"`
	QueueSize       int           `mapstructure:"queue_size"`
	SessionTimeout  time.Duration `mapstructure:"session_timeout"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	Topic           string        `mapstructure:"topic"` // 为空时使用各消息队列自身的 topic / routing key
}

type MessageQueueConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Type     string         `mapstructure:"type"`
	Zabbix   ZabbixConfig   `mapstructure:"zabbix"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
}

type ZabbixConfig struct {
	Address     string        `mapstructure:"address"`
	Port        int           `mapstructure:"port"`
	Host        string        `mapstructure:"host"`
	Item        string        `mapstructure:"item"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
}

type RabbitMQConfig struct {
	URL         string `mapstructure:"url"`
	VirtualHost string `mapstructure:"virtual_host"`
	Exchange    string `mapstructure:"exchange"`
	RoutingKey  string `mapstructure:"routing_key"`
	QueueName   string `mapstructure:"queue_name"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type MQTTConfig struct {
	Broker      string        `mapstructure:"broker"`
	ClientID    string        `mapstructure:"client_id"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	TopicPrefix string        `mapstructure:"topic_prefix"`
	QoS         byte          `mapstructure:"qos"`
	Retained    bool          `mapstructure:"retained"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.filename", "logs/jkbms-gateway.log")
	v.SetDefault("log.max_size", 50)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 30)

	v.SetDefault("device.scan_duration", 5*time.Second)
	v.SetDefault("device.service_uuid", "0000ffe0-0000-1000-8000-00805f9b34fb")
	v.SetDefault("device.characteristic_uuid", "0000ffe1-0000-1000-8000-00805f9b34fb")
	v.SetDefault("device.idle_timeout", 30*time.Second)
	v.SetDefault("device.command_delay", time.Second)
	v.SetDefault("device.reconnect_delay", 10*time.Second)
	v.SetDefault("device.notification_backlog", 64)

	v.SetDefault("transport.type", TransportBLE)

	v.SetDefault("relay.host", "0.0.0.0")
	v.SetDefault("relay.port", 7300)
	v.SetDefault("relay.max_record_size", 517)
	v.SetDefault("relay.multicore", true)

	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.queue_size", 1000)
	v.SetDefault("pipeline.session_timeout", 2*time.Minute)
	v.SetDefault("pipeline.sweep_interval", 30*time.Second)

	v.SetDefault("message_queue.type", MQZabbix)
	v.SetDefault("message_queue.zabbix.port", 10051)
	v.SetDefault("message_queue.zabbix.host", "JK_BMS")
	v.SetDefault("message_queue.zabbix.item", "jk.info")
	v.SetDefault("message_queue.zabbix.send_timeout", 10*time.Second)
	v.SetDefault("message_queue.mqtt.client_id", "jkbms-gateway")
	v.SetDefault("message_queue.mqtt.topic_prefix", "jkbms")
	v.SetDefault("message_queue.mqtt.qos", 1)
	v.SetDefault("message_queue.mqtt.timeout", 5*time.Second)
}

// LoadConfig 读取配置文件, 环境变量 JKBMS_<SECTION>_<KEY> 可覆盖同名配置
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("jkbms")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}

	// 发布间隔默认取 Zabbix 发送超时的一半
	if cfg.Pipeline.PublishInterval == 0 {
		cfg.Pipeline.PublishInterval = cfg.MessageQueue.Zabbix.SendTimeout / 2
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查必填项
func (c *Config) Validate() error {
	switch c.Transport.Type {
	case TransportBLE:
		if strings.TrimSpace(c.Device.MACAddress) == "" && strings.TrimSpace(c.Device.Name) == "" {
			return fmt.Errorf("device: mac_address or name is required for ble transport")
		}
		if c.Device.ScanDuration <= 0 {
			return fmt.Errorf("device: scan_duration must be positive")
		}
	case TransportRelay:
		if c.Relay.Port <= 0 || c.Relay.Port > 65535 {
			return fmt.Errorf("relay: invalid port %d", c.Relay.Port)
		}
	default:
		return fmt.Errorf("transport: unknown type %q", c.Transport.Type)
	}

	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline: workers must be positive")
	}
	if c.Pipeline.QueueSize <= 0 {
		return fmt.Errorf("pipeline: queue_size must be positive")
	}

	if !c.MessageQueue.Enabled {
		return nil
	}
	mq := c.MessageQueue
	switch mq.Type {
	case MQZabbix:
		if mq.Zabbix.Address == "" || mq.Zabbix.Host == "" || mq.Zabbix.Item == "" {
			return fmt.Errorf("message_queue.zabbix: address, host and item are required")
		}
	case MQRabbitMQ:
		if mq.RabbitMQ.URL == "" || mq.RabbitMQ.Exchange == "" {
			return fmt.Errorf("message_queue.rabbitmq: url and exchange are required")
		}
	case MQKafka:
		if len(mq.Kafka.Brokers) == 0 || mq.Kafka.Topic == "" {
			return fmt.Errorf("message_queue.kafka: brokers and topic are required")
		}
	case MQMQTT:
		if mq.MQTT.Broker == "" {
			return fmt.Errorf("message_queue.mqtt: broker is required")
		}
	default:
		return fmt.Errorf("message_queue: unknown type %q", mq.Type)
	}
	return nil
}
