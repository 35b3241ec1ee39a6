package jkbms

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// 中继协议: BLE 网关 (如 ESP32) 将每个 BLE 通知原样封装后经 TCP 转发。
// 报文结构: [Magic 2 "JK"][Type 1][Len 2 大端][Payload N]
const (
	RelayHeaderLength = 5

	RelayHello        byte = 0x01 // 中继 -> 网关, Payload = 设备标识 (MAC)
	RelayNotification byte = 0x02 // 中继 -> 网关, Payload = 一个 BLE 通知分片
	RelayCommand      byte = 0x03 // 网关 -> 中继, Payload = 写入 BMS 的命令

	// DefaultMaxRelayRecord 单条中继报文上限
	DefaultMaxRelayRecord = RelayHeaderLength + 512
)

var relayMagic = []byte{0x4A, 0x4B}

var (
	// ErrRelayTooShort 报文不足头部长度
	ErrRelayTooShort = errors.New("jkbms: relay record too short")
	// ErrRelayLength 报文长度与头部声明不符
	ErrRelayLength = errors.New("jkbms: relay record length mismatch")
)

// RelayRecord 一条解析后的中继报文
type RelayRecord struct {
	Type    byte
	Payload []byte
}

// EncodeRelayRecord 将中继报文编码为字节流
func EncodeRelayRecord(typ byte, payload []byte) []byte {
	buf := make([]byte, RelayHeaderLength+len(payload))
	copy(buf, relayMagic)
	buf[2] = typ
	binary.BigEndian.PutUint16(buf[3:5], uint16(len(payload)))
	copy(buf[RelayHeaderLength:], payload)
	return buf
}

// ParseRelayRecord converts a token produced by RelayScanner.SplitFunc into
// a record. The payload is copied; the token may be reused by the caller.
func ParseRelayRecord(token []byte) (*RelayRecord, error) {
	if len(token) < RelayHeaderLength {
		return nil, ErrRelayTooShort
	}
	if !bytes.HasPrefix(token, relayMagic) {
		return nil, fmt.Errorf("jkbms: invalid relay magic %X", token[:2])
	}
	n := int(binary.BigEndian.Uint16(token[3:5]))
	if len(token) != RelayHeaderLength+n {
		return nil, fmt.Errorf("%w: header %d, have %d", ErrRelayLength, n, len(token)-RelayHeaderLength)
	}
	payload := make([]byte, n)
	copy(payload, token[RelayHeaderLength:])
	return &RelayRecord{Type: token[2], Payload: payload}, nil
}

func knownRelayType(t byte) bool {
	return t == RelayHello || t == RelayNotification || t == RelayCommand
}

// RelayScanner 为 bufio.Scanner 提供 Split 函数
type RelayScanner struct {
	maxRecordSize int
}

// NewRelayScanner 创建扫描器。maxRecordSize 限制单条报文大小, 防止垃圾数据撑大缓冲区。
func NewRelayScanner(maxRecordSize int) *RelayScanner {
	if maxRecordSize < RelayHeaderLength {
		maxRecordSize = DefaultMaxRelayRecord
	}
	return &RelayScanner{maxRecordSize: maxRecordSize}
}

// SplitFunc is a bufio.SplitFunc that yields one relay record per token.
// Garbage before a magic is skipped; a header declaring an oversized length
// or an unknown type is treated as a false magic and stepped over.
func (rs *RelayScanner) SplitFunc(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	start := bytes.Index(data, relayMagic)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// 保留最后一个字节, 它可能是半个 Magic
		if len(data) <= 1 {
			return 0, nil, nil
		}
		return len(data) - 1, nil, nil
	}
	if start > 0 {
		return start, nil, nil
	}

	if len(data) < RelayHeaderLength {
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}

	total := RelayHeaderLength + int(binary.BigEndian.Uint16(data[3:5]))
	if total > rs.maxRecordSize || !knownRelayType(data[2]) {
		return len(relayMagic), nil, nil
	}

	if len(data) < total {
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}

	return total, data[:total], nil
}
