package usecase

import (
	"encoding/json"
	"time"
)

// 消息类型
const (
	MsgTypeTelemetry  = "telemetry"
	MsgTypeDeviceInfo = "device_info"
)

// Envelope 包装发往消息队列的数据, 增加类型、设备和时间
type Envelope struct {
	Type      string      `json:"type"`
	Device    string      `json:"device"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// NewEnvelope 以当前时间创建 Envelope
func NewEnvelope(msgType, device string, data interface{}) Envelope {
	return Envelope{
		Type:      msgType,
		Device:    device,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// MarshalJSON injects msgType and device into the data object so consumers
// that only look at "data" still see where it came from.
func (e Envelope) MarshalJSON() ([]byte, error) {
	dataBytes, err := json.Marshal(e.Data)
	if err != nil {
		return nil, err
	}

	type alias Envelope
	var dataMap map[string]interface{}
	if err := json.Unmarshal(dataBytes, &dataMap); err != nil || dataMap == nil {
		// Data 不是对象 (例如基础类型), 原样输出
		return json.Marshal(alias(e))
	}
	dataMap["msgType"] = e.Type
	dataMap["device"] = e.Device

	return json.Marshal(&struct {
		Type      string                 `json:"type"`
		Device    string                 `json:"device"`
		Timestamp time.Time              `json:"timestamp"`
		Data      map[string]interface{} `json:"data"`
	}{
		Type:      e.Type,
		Device:    e.Device,
		Timestamp: e.Timestamp,
		Data:      dataMap,
	})
}
