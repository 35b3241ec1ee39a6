package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"jkbms-gateway/internal/config"
	"jkbms-gateway/internal/infra"
	"jkbms-gateway/internal/logger"
	"jkbms-gateway/internal/server"
	"jkbms-gateway/internal/transport/ble"
	"jkbms-gateway/internal/usecase"
	handler "jkbms-gateway/internal/usecase/jkbms"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	// 1. 配置加载
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log)
	defer log.Sync()
	log.Info("Starting jkbms-gateway",
		zap.String("transport", cfg.Transport.Type),
		zap.Bool("mq_enabled", cfg.MessageQueue.Enabled),
		zap.String("mq_type", cfg.MessageQueue.Type),
		zap.Duration("publish_interval", cfg.Pipeline.PublishInterval))

	// 2. 基础设施层
	producer, err := infra.NewProducer(cfg.MessageQueue, log)
	if err != nil {
		log.Fatal("Failed to initialize producer", zap.Error(err))
	}
	defer producer.Close()

	// 3. 业务逻辑层 (分发器 & 会话管理 & 处理器)
	dispatcher := usecase.NewDataDispatcher(producer, cfg.Pipeline.Topic, cfg.Pipeline.Workers, cfg.Pipeline.QueueSize, log)
	dispatcher.Start()
	defer dispatcher.Stop()

	sm := handler.NewSessionManager(log)
	auth := handler.NewAllowListAuthorizer(cfg.Auth)
	h := handler.NewHandler(sm, dispatcher, auth, handler.HandlerOptions{
		PublishInterval: cfg.Pipeline.PublishInterval,
		CommandDelay:    cfg.Device.CommandDelay,
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go sm.RunSweeper(ctx, cfg.Pipeline.SweepInterval, cfg.Pipeline.SessionTimeout)

	// 4. 传输层
	switch cfg.Transport.Type {
	case config.TransportRelay:
		runRelay(ctx, cfg, log, h)
	default:
		runBLE(ctx, cfg, log, h)
	}

	log.Info("Shutting down...", zap.Uint64("dropped", dispatcher.Dropped()))
	sm.CloseAll()
}

func runRelay(ctx context.Context, cfg *config.Config, log *zap.Logger, h *handler.Handler) {
	srv := server.NewTCPServer(cfg, log, h)
	errC := make(chan error, 1)
	go func() {
		errC <- srv.Start(ctx)
	}()

	select {
	case err := <-errC:
		if err != nil {
			log.Error("Relay server failed", zap.Error(err))
		}
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Stop(stopCtx); err != nil {
			log.Warn("Relay server stop", zap.Error(err))
		}
	}
}

func runBLE(ctx context.Context, cfg *config.Config, log *zap.Logger, h *handler.Handler) {
	err := ble.Supervise(ctx, cfg.Device, log, func(ctx context.Context, link *ble.Link) error {
		return h.ServeLink(ctx, link)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("BLE transport stopped", zap.Error(err))
	}
}
