package client

import (
	"math"

	"jkbms-gateway/internal/protocol/jkbms"
)

// DefaultMTU 单个 BLE 通知的典型负载长度
const DefaultMTU = 128

// RelayBuilder 帮助构建测试用的中继报文流, 模拟 BLE 中继和 BMS
type RelayBuilder struct {
	Device string
	MTU    int
}

func NewRelayBuilder(device string, mtu int) *RelayBuilder {
	if mtu <= 0 {
		mtu = DefaultMTU
	}
	return &RelayBuilder{Device: device, MTU: mtu}
}

// BuildHello 生成 Hello 报文
func (rb *RelayBuilder) BuildHello() []byte {
	return jkbms.EncodeRelayRecord(jkbms.RelayHello, []byte(rb.Device))
}

// BuildAck 生成 BMS 对下行命令的回显通知
func (rb *RelayBuilder) BuildAck(cmd []byte) []byte {
	echo := make([]byte, jkbms.CommandSize)
	copy(echo, jkbms.AckSentinel)
	if len(cmd) > len(jkbms.AckSentinel) {
		copy(echo[len(jkbms.AckSentinel):], cmd[len(jkbms.AckSentinel):])
	}
	return jkbms.EncodeRelayRecord(jkbms.RelayNotification, echo)
}

// BuildDeviceInfo 生成设备信息帧, 按 MTU 切分为多条通知
func (rb *RelayBuilder) BuildDeviceInfo(info *jkbms.DeviceInfo) []byte {
	return rb.notifications(jkbms.EncodeDeviceInfo(info))
}

// BuildTelemetry 生成单体数据帧, 按 MTU 切分为多条通知
func (rb *RelayBuilder) BuildTelemetry(rec *jkbms.TelemetryRecord) []byte {
	return rb.notifications(jkbms.EncodeFrame(rec))
}

func (rb *RelayBuilder) notifications(frame []byte) []byte {
	var out []byte
	for _, part := range jkbms.SplitFrame(frame, rb.MTU) {
		out = append(out, jkbms.EncodeRelayRecord(jkbms.RelayNotification, part)...)
	}
	return out
}

// SampleRecord returns a plausible 24S pack reading. seq drifts the values
// so consecutive samples differ.
func SampleRecord(seq int) *jkbms.TelemetryRecord {
	phase := float64(seq) / 10
	rec := &jkbms.TelemetryRecord{
		Current:          float32(5 + 2*math.Sin(phase)),
		BalancingCurrent: 0,
		T1:               float32(24 + math.Sin(phase)),
		T2:               float32(23.5 + math.Cos(phase)),
		MOSTemperature:   float32(30 + 2*math.Sin(phase/2)),
		Alarm:            jkbms.ResolveAlarm(0),
	}

	var sum, lo, hi float32
	for i := range rec.Cells {
		v := float32(3.30+0.004*math.Sin(phase+float64(i))) + float32(i%4)*0.001
		rec.Cells[i] = jkbms.Cell{Voltage: v, InternalResistance: 0.060 + float32(i%5)*0.002}
		sum += v
		if i == 0 || v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	rec.TotalVoltage = sum
	rec.AverageCellVoltage = sum / jkbms.CellCount
	rec.DeltaCellVoltage = hi - lo
	return rec
}
