package ble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"

	"jkbms-gateway/internal/config"
)

var adapter = bluetooth.DefaultAdapter

var (
	enableOnce sync.Once
	enableErr  error
)

// ErrDeviceNotFound 扫描超时仍未发现目标设备
var ErrDeviceNotFound = errors.New("ble: device not found")

// enableAdapter 只启用一次适配器, 重连时复用
func enableAdapter() error {
	enableOnce.Do(func() {
		enableErr = adapter.Enable()
	})
	return enableErr
}

// matches reports whether an advertisement belongs to the configured unit.
// The MAC address wins when set; it matches as a case-insensitive suffix so
// a partial address is enough. Otherwise the local name is matched by prefix.
func matches(cfg config.DeviceConfig, address, name string) bool {
	if mac := strings.ToUpper(strings.TrimSpace(cfg.MACAddress)); mac != "" {
		return strings.HasSuffix(strings.ToUpper(address), mac)
	}
	prefix := strings.TrimSpace(cfg.Name)
	return prefix != "" && strings.HasPrefix(name, prefix)
}

// Link 一条已连接并开启通知的 BLE 链路
type Link struct {
	id   string
	name string

	write      func([]byte) error
	disconnect func() error

	mu        sync.Mutex
	closed    bool
	fragments chan []byte
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	lastNotified atomic.Int64
	dropped      atomic.Uint64
	logger       *zap.Logger
}

func newLink(id, name string, backlog int, write func([]byte) error, disconnect func() error, logger *zap.Logger) *Link {
	if backlog <= 0 {
		backlog = 64
	}
	l := &Link{
		id:         id,
		name:       name,
		write:      write,
		disconnect: disconnect,
		fragments:  make(chan []byte, backlog),
		done:       make(chan struct{}),
		logger:     logger.With(zap.String("device", id)),
	}
	l.lastNotified.Store(time.Now().UnixNano())
	return l
}

// Connect scans for the configured unit, connects, and subscribes to its
// notify characteristic. The returned link closes itself when no
// notification arrives for cfg.IdleTimeout.
func Connect(ctx context.Context, cfg config.DeviceConfig, logger *zap.Logger) (*Link, error) {
	if err := enableAdapter(); err != nil {
		return nil, fmt.Errorf("enable adapter: %w", err)
	}
	serviceUUID, err := bluetooth.ParseUUID(cfg.ServiceUUID)
	if err != nil {
		return nil, fmt.Errorf("parse service uuid %q: %w", cfg.ServiceUUID, err)
	}
	charUUID, err := bluetooth.ParseUUID(cfg.CharacteristicUUID)
	if err != nil {
		return nil, fmt.Errorf("parse characteristic uuid %q: %w", cfg.CharacteristicUUID, err)
	}

	result, err := scan(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("Connecting",
		zap.String("address", result.Address.String()),
		zap.String("name", result.LocalName()),
		zap.Int("rssi", int(result.RSSI)))

	device, err := adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", result.Address.String(), err)
	}

	char, err := discoverCharacteristic(device, serviceUUID, charUUID)
	if err != nil {
		_ = device.Disconnect()
		return nil, err
	}

	l := newLink(result.Address.String(), result.LocalName(), cfg.NotificationBacklog,
		func(cmd []byte) error {
			_, err := char.WriteWithoutResponse(cmd)
			return err
		},
		device.Disconnect,
		logger)

	if err := char.EnableNotifications(l.handleNotification); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("enable notifications: %w", err)
	}

	go l.watchdog(cfg.IdleTimeout)
	l.logger.Info("BLE link established", zap.String("name", l.name))
	return l, nil
}

func scan(ctx context.Context, cfg config.DeviceConfig, logger *zap.Logger) (bluetooth.ScanResult, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.ScanDuration)
	defer cancel()

	found := make(chan bluetooth.ScanResult, 1)
	scanErr := make(chan error, 1)

	logger.Info("Scanning",
		zap.String("mac_address", cfg.MACAddress),
		zap.String("name", cfg.Name),
		zap.Duration("timeout", cfg.ScanDuration))

	go func() {
		scanErr <- adapter.Scan(func(a *bluetooth.Adapter, result bluetooth.ScanResult) {
			if !matches(cfg, result.Address.String(), result.LocalName()) {
				return
			}
			select {
			case found <- result:
				_ = a.StopScan()
			default:
			}
		})
	}()

	select {
	case result := <-found:
		<-scanErr
		return result, nil
	case err := <-scanErr:
		select {
		case result := <-found:
			return result, nil
		default:
		}
		if err == nil {
			err = ErrDeviceNotFound
		}
		return bluetooth.ScanResult{}, fmt.Errorf("scan: %w", err)
	case <-ctx.Done():
		if err := adapter.StopScan(); err != nil {
			logger.Warn("Failed to stop scan cleanly", zap.Error(err))
		}
		<-scanErr
		select {
		case result := <-found:
			return result, nil
		default:
		}
		return bluetooth.ScanResult{}, ErrDeviceNotFound
	}
}

func discoverCharacteristic(device bluetooth.Device, serviceUUID, charUUID bluetooth.UUID) (bluetooth.DeviceCharacteristic, error) {
	services, err := device.DiscoverServices([]bluetooth.UUID{serviceUUID})
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("could not discover services: %w", err)
	}
	if len(services) == 0 {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("service %s not found", serviceUUID.String())
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{charUUID})
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("could not discover characteristics: %w", err)
	}
	for _, c := range chars {
		if c.UUID() == charUUID {
			return c, nil
		}
	}
	return bluetooth.DeviceCharacteristic{}, fmt.Errorf("characteristic %s not found", charUUID.String())
}

// handleNotification runs on the BLE stack's goroutine. The buffer is only
// valid during the call, so it is copied; a full backlog drops the fragment.
func (l *Link) handleNotification(buf []byte) {
	l.lastNotified.Store(time.Now().UnixNano())
	fragment := append([]byte(nil), buf...)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.fragments <- fragment:
	default:
		n := l.dropped.Add(1)
		l.logger.Warn("Notification backlog full, fragment dropped", zap.Uint64("dropped", n))
	}
}

func (l *Link) watchdog(idle time.Duration) {
	if idle <= 0 {
		return
	}
	tick := idle / 4
	if tick < 100*time.Millisecond {
		tick = 100 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			if since := time.Since(l.LastNotified()); since > idle {
				l.logger.Warn("No notifications, closing link", zap.Duration("idle", since))
				_ = l.Close()
				return
			}
		}
	}
}

// ID 设备 MAC 地址
func (l *Link) ID() string {
	return l.id
}

// Name 广播名称
func (l *Link) Name() string {
	return l.name
}

// Write 写入一条下行命令
func (l *Link) Write(cmd []byte) error {
	select {
	case <-l.done:
		return errors.New("ble: link closed")
	default:
	}
	return l.write(cmd)
}

func (l *Link) Fragments() <-chan []byte {
	return l.fragments
}

// LastNotified 最后一次收到通知的时间
func (l *Link) LastNotified() time.Time {
	return time.Unix(0, l.lastNotified.Load())
}

// Dropped 因积压被丢弃的分片数
func (l *Link) Dropped() uint64 {
	return l.dropped.Load()
}

// Close disconnects and closes Fragments. Safe to call more than once.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		if l.disconnect != nil {
			l.closeErr = l.disconnect()
		}
		l.mu.Lock()
		l.closed = true
		close(l.fragments)
		l.mu.Unlock()
		l.logger.Info("BLE link closed", zap.Error(l.closeErr))
		close(l.done)
	})
	return l.closeErr
}
