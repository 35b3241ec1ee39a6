package jkbms

import (
	"bytes"
	"fmt"
)

// JK-BMS BLE 协议常量定义
const (
	// FrameSize 一帧完整遥测数据的长度
	FrameSize = 300
	// HeaderSize 帧头长度 H, 字段偏移以 H 或 2H 为基准
	HeaderSize = 16
	// CellCount 单体电池数量 (固定 24 串)
	CellCount = 24
	// CommandSize 下行命令长度
	CommandSize = 20

	// frameTypeIndex 帧类型所在字节 (紧随起始符)
	frameTypeIndex = 4
)

// FrameType 帧类型, 位于起始符之后的第一个字节
type FrameType byte

const (
	FrameTypeSettings   FrameType = 0x01 // 参数设置
	FrameTypeCellInfo   FrameType = 0x02 // 单体/电池包实时数据
	FrameTypeDeviceInfo FrameType = 0x03 // 设备信息
)

func (t FrameType) String() string {
	switch t {
	case FrameTypeSettings:
		return "settings"
	case FrameTypeCellInfo:
		return "cell_info"
	case FrameTypeDeviceInfo:
		return "device_info"
	default:
		return fmt.Sprintf("unknown(0x%02X)", byte(t))
	}
}

var (
	// AckSentinel 命令回显前缀 (0xAA 0x55), 不是遥测数据
	AckSentinel = []byte{0xAA, 0x55}
	// FrameStartSentinel 帧起始符 (0x55 0xAA 0xEB 0x90)
	FrameStartSentinel = []byte{0x55, 0xAA, 0xEB, 0x90}
)

const (
	cmdGetDeviceInfo = 0x97
	cmdGetCellInfo   = 0x96
)

// BuildGetDeviceInfoCommand returns the 20-byte GET_DEVICE_INFO request.
func BuildGetDeviceInfoCommand() []byte {
	return buildCommand(cmdGetDeviceInfo, 0x11)
}

// BuildGetCellInfoCommand returns the 20-byte GET_CELL_INFO request. After it
// is written the unit streams cell-info frames until the link drops.
func BuildGetCellInfoCommand() []byte {
	return buildCommand(cmdGetCellInfo, 0x10)
}

// Structure: [AA 55 90 EB][Cmd 1][zero 14][Trailer 1]
func buildCommand(cmd, trailer byte) []byte {
	buf := make([]byte, CommandSize)
	buf[0] = 0xAA
	buf[1] = 0x55
	buf[2] = 0x90
	buf[3] = 0xEB
	buf[4] = cmd
	buf[CommandSize-1] = trailer
	return buf
}

// IsAck 判断分片是否为命令回显。长度不足 2 字节时视为不匹配。
func IsAck(fragment []byte) bool {
	return bytes.HasPrefix(fragment, AckSentinel)
}

// IsFrameStart 判断分片是否以帧起始符开头。长度不足 4 字节时视为不匹配。
func IsFrameStart(fragment []byte) bool {
	return bytes.HasPrefix(fragment, FrameStartSentinel)
}

// TypeOf reports the frame type byte. ok is false when the buffer does not
// start with the frame-start sentinel or is too short to carry a type.
func TypeOf(frame []byte) (t FrameType, ok bool) {
	if len(frame) <= frameTypeIndex || !IsFrameStart(frame) {
		return 0, false
	}
	return FrameType(frame[frameTypeIndex]), true
}
