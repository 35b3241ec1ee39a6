package jkbms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceInfoRoundTrip(t *testing.T) {
	want := &DeviceInfo{
		VendorID:        "JK_B2A24S15P",
		HardwareVersion: "11.XW",
		SoftwareVersion: "11.26",
		UptimeSeconds:   86400 * 3,
		PowerOnCount:    17,
		DeviceName:      "JK-garage",
	}

	got, err := DecodeDeviceInfo(EncodeDeviceInfo(want))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDecodeDeviceInfoRejectsCellFrame(t *testing.T) {
	_, err := DecodeDeviceInfo(EncodeFrame(&TelemetryRecord{}))
	assert.Error(t, err)

	_, err = DecodeDeviceInfo(make([]byte, 20))
	var lenErr *FrameLengthError
	assert.ErrorAs(t, err, &lenErr)
}

func TestEncodeDeviceInfoTruncatesLongNames(t *testing.T) {
	info := &DeviceInfo{DeviceName: "a-device-name-longer-than-sixteen"}
	got, err := DecodeDeviceInfo(EncodeDeviceInfo(info))
	require.NoError(t, err)
	assert.Equal(t, "a-device-name-lo", got.DeviceName)
}
