package jkbms

import (
	"errors"
	"fmt"
	"strings"

	"jkbms-gateway/internal/config"
)

// ErrDeviceNotAllowed 设备不在白名单中
var ErrDeviceNotAllowed = errors.New("device not allowed")

// DeviceAuthorizer 校验接入的设备标识
type DeviceAuthorizer interface {
	Authorize(device string) error
}

// AllowListAuthorizer 基于配置白名单的校验, 白名单为空时放行所有设备
type AllowListAuthorizer struct {
	allowed map[string]struct{}
}

func NewAllowListAuthorizer(authCfg config.AuthConfig) *AllowListAuthorizer {
	allowed := make(map[string]struct{}, len(authCfg.AllowedDevices))
	for _, d := range authCfg.AllowedDevices {
		if d = normalizeDevice(d); d != "" {
			allowed[d] = struct{}{}
		}
	}
	return &AllowListAuthorizer{allowed: allowed}
}

func (a *AllowListAuthorizer) Authorize(device string) error {
	if len(a.allowed) == 0 {
		return nil
	}
	if _, ok := a.allowed[normalizeDevice(device)]; !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotAllowed, device)
	}
	return nil
}

func normalizeDevice(device string) string {
	return strings.ToUpper(strings.TrimSpace(device))
}
