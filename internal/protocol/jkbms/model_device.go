package jkbms

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// DeviceInfo 设备信息 (帧类型 0x03)
type DeviceInfo struct {
	VendorID        string `json:"vendor_id"`
	HardwareVersion string `json:"hardware_version"`
	SoftwareVersion string `json:"software_version"`
	UptimeSeconds   uint32 `json:"uptime_seconds"`
	PowerOnCount    uint32 `json:"power_on_count"`
	DeviceName      string `json:"device_name"`
}

// 设备信息帧字段偏移
const (
	devVendorOffset  = 6  // 16 字节 ASCII
	devHWOffset      = 22 // 8 字节
	devSWOffset      = 30 // 8 字节
	devUptimeOffset  = 38 // u32
	devPowerOnOffset = 42 // u32
	devNameOffset    = 46 // 16 字节
	devVendorLen     = 16
	devVersionLen    = 8
	devNameLen       = 16
)

// DecodeDeviceInfo parses a device-info frame.
func DecodeDeviceInfo(frame []byte) (*DeviceInfo, error) {
	if len(frame) != FrameSize {
		return nil, &FrameLengthError{Length: len(frame)}
	}
	if t, ok := TypeOf(frame); !ok || t != FrameTypeDeviceInfo {
		return nil, fmt.Errorf("jkbms: not a device info frame (type %v)", t)
	}

	return &DeviceInfo{
		VendorID:        readASCII(frame, devVendorOffset, devVendorLen),
		HardwareVersion: readASCII(frame, devHWOffset, devVersionLen),
		SoftwareVersion: readASCII(frame, devSWOffset, devVersionLen),
		UptimeSeconds:   binary.LittleEndian.Uint32(frame[devUptimeOffset : devUptimeOffset+4]),
		PowerOnCount:    binary.LittleEndian.Uint32(frame[devPowerOnOffset : devPowerOnOffset+4]),
		DeviceName:      readASCII(frame, devNameOffset, devNameLen),
	}, nil
}

// EncodeDeviceInfo builds a device-info frame. Strings longer than their
// slot are cut.
func EncodeDeviceInfo(info *DeviceInfo) []byte {
	buf := newFrame(FrameTypeDeviceInfo)
	copy(buf[devVendorOffset:devVendorOffset+devVendorLen], info.VendorID)
	copy(buf[devHWOffset:devHWOffset+devVersionLen], info.HardwareVersion)
	copy(buf[devSWOffset:devSWOffset+devVersionLen], info.SoftwareVersion)
	binary.LittleEndian.PutUint32(buf[devUptimeOffset:devUptimeOffset+4], info.UptimeSeconds)
	binary.LittleEndian.PutUint32(buf[devPowerOnOffset:devPowerOnOffset+4], info.PowerOnCount)
	copy(buf[devNameOffset:devNameOffset+devNameLen], info.DeviceName)
	return buf
}

func readASCII(buf []byte, offset, n int) string {
	return strings.TrimRight(string(buf[offset:offset+n]), "\x00 ")
}
