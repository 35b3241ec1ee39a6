package ble

import (
	"context"
	"time"

	"go.uber.org/zap"

	"jkbms-gateway/internal/config"
)

// ServeFunc consumes a connected link until it closes.
type ServeFunc func(ctx context.Context, link *Link) error

type dialFunc func(ctx context.Context) (*Link, error)

// Supervise keeps one BMS connected: scan, connect, serve, and after any
// failure or disconnect wait cfg.ReconnectDelay and start over. It returns
// when ctx is done.
func Supervise(ctx context.Context, cfg config.DeviceConfig, logger *zap.Logger, serve ServeFunc) error {
	dial := func(ctx context.Context) (*Link, error) {
		return Connect(ctx, cfg, logger)
	}
	return supervise(ctx, cfg.ReconnectDelay, dial, serve, logger)
}

func supervise(ctx context.Context, delay time.Duration, dial dialFunc, serve ServeFunc, logger *zap.Logger) error {
	for attempt := 1; ; attempt++ {
		link, err := dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("BLE connect failed", zap.Int("attempt", attempt), zap.Error(err))
		} else {
			attempt = 0
			err = serve(ctx, link)
			_ = link.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("BLE link lost", zap.String("device", link.ID()), zap.Uint64("dropped", link.Dropped()), zap.Error(err))
		}

		logger.Info("Reconnecting", zap.Duration("delay", delay))
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
