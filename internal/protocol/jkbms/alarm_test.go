package jkbms

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveAlarm(t *testing.T) {
	cases := []struct {
		code  uint16
		label string
	}{
		{0, "No alarm"},
		{1, "Charge overtemperature"},
		{2, "Charge undertemperature"},
		{8, "Cell Undervoltage"},
		{1024, "Cell count is not equal to settings"},
		{1032, "Cell Undervoltage+"},
		{2048, "Current sensor anomaly"},
		{4096, "Cell Over Voltage"},
		{5120, "Cell Over Voltage+"},
		{9999, "Unknown alarm code"},
		{3, "Unknown alarm code"},
		{65535, "Unknown alarm code"},
	}

	for _, c := range cases {
		got := ResolveAlarm(c.code)
		assert.Equal(t, c.code, got.Code)
		assert.Equal(t, c.label, got.Label, "code %d", c.code)
	}
}

func TestAlarmConditionFlags(t *testing.T) {
	assert.False(t, ResolveAlarm(0).Active())
	assert.True(t, ResolveAlarm(0).Known())
	assert.True(t, ResolveAlarm(4096).Active())
	assert.False(t, ResolveAlarm(9999).Known())
	assert.True(t, ResolveAlarm(9999).Active())
}
