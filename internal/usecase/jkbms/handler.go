package jkbms

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"

	"jkbms-gateway/internal/protocol/jkbms"
	"jkbms-gateway/internal/usecase"
)

var (
	// ErrNoHello 中继连接在 Hello 之前发送了通知
	ErrNoHello = errors.New("relay: notification before hello")
	// ErrEmptyDevice Hello 中没有设备标识
	ErrEmptyDevice = errors.New("relay: empty device id in hello")
)

// Conn 是中继 TCP 连接, 由 server 层实现
type Conn interface {
	RemoteAddr() string
	Close() error
	Write([]byte) (int, error)
	SetSession(*Session)
	Session() *Session
}

// Link 是一条已建立并开启通知的 BMS 连接 (BLE 直连)
type Link interface {
	io.Closer
	ID() string
	Write(cmd []byte) error
	// Fragments 依到达顺序输出通知分片, 连接断开后关闭
	Fragments() <-chan []byte
}

type HandlerOptions struct {
	PublishInterval time.Duration // 遥测发布的最小间隔
	CommandDelay    time.Duration // GET_DEVICE_INFO 与 GET_CELL_INFO 之间的间隔
}

type Handler struct {
	SessionMgr *SessionManager
	Publisher  usecase.Publisher
	Auth       DeviceAuthorizer
	opts       HandlerOptions
	logger     *zap.Logger
}

func NewHandler(sm *SessionManager, publisher usecase.Publisher, auth DeviceAuthorizer, opts HandlerOptions, logger *zap.Logger) *Handler {
	return &Handler{
		SessionMgr: sm,
		Publisher:  publisher,
		Auth:       auth,
		opts:       opts,
		logger:     logger,
	}
}

// NewSession 创建一个发布到 Handler.Publisher 的会话
func (h *Handler) NewSession(device string, conn io.Closer) *Session {
	return NewSession(device, conn, h.Publisher, h.opts.PublishInterval, h.logger)
}

// HandleRecord 处理单条中继报文
func (h *Handler) HandleRecord(conn Conn, rec *jkbms.RelayRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Panic in HandleRecord",
				zap.Any("recover", r),
				zap.String("remote_addr", conn.RemoteAddr()),
				zap.String("stack", string(debug.Stack())))
			err = fmt.Errorf("internal server error: %v", r)
		}
	}()

	switch rec.Type {
	case jkbms.RelayHello:
		return h.handleHello(conn, rec)
	case jkbms.RelayNotification:
		return h.handleNotification(conn, rec)
	default:
		h.logger.Warn("Received unexpected relay record",
			zap.String("remote_addr", conn.RemoteAddr()),
			zap.Uint8("type", rec.Type))
		return nil
	}
}

func (h *Handler) handleHello(conn Conn, rec *jkbms.RelayRecord) error {
	device := strings.TrimSpace(string(rec.Payload))
	if device == "" {
		return ErrEmptyDevice
	}

	if sess := conn.Session(); sess != nil {
		if strings.EqualFold(sess.Device, device) {
			h.logger.Debug("Duplicate hello ignored", zap.String("device", device))
			return nil
		}
		return fmt.Errorf("relay: connection already bound to %s, got hello for %s", sess.Device, device)
	}

	h.logger.Info("Relay Hello",
		zap.String("device", device),
		zap.String("remote_addr", conn.RemoteAddr()))

	if h.Auth != nil {
		if err := h.Auth.Authorize(device); err != nil {
			h.logger.Warn("Device auth failed", zap.String("device", device), zap.Error(err))
			return err
		}
	}

	sess := h.NewSession(device, conn)
	conn.SetSession(sess)
	h.SessionMgr.Add(sess)

	// 中继按顺序写入, 命令间隔由中继负责
	return requestTelemetry(context.Background(), func(cmd []byte) error {
		_, err := conn.Write(jkbms.EncodeRelayRecord(jkbms.RelayCommand, cmd))
		return err
	}, 0)
}

func (h *Handler) handleNotification(conn Conn, rec *jkbms.RelayRecord) error {
	sess := conn.Session()
	if sess == nil {
		return ErrNoHello
	}
	return sess.Feed(rec.Payload)
}

// ServeLink drives a connected BLE link: it sends the start-up commands,
// then decodes notifications until the link closes or ctx is done.
func (h *Handler) ServeLink(ctx context.Context, link Link) error {
	device := link.ID()
	if h.Auth != nil {
		if err := h.Auth.Authorize(device); err != nil {
			_ = link.Close()
			return err
		}
	}

	sess := h.NewSession(device, link)
	h.SessionMgr.Add(sess)
	defer h.SessionMgr.Detach(sess)

	if err := requestTelemetry(ctx, link.Write, h.opts.CommandDelay); err != nil {
		_ = link.Close()
		return err
	}
	h.logger.Info("Telemetry requested", zap.String("device", device))

	return sess.Run(ctx, link.Fragments())
}

// requestTelemetry 发送 GET_DEVICE_INFO, 等待 delay 后发送 GET_CELL_INFO。
// 之后 BMS 会持续推送电芯信息帧。
func requestTelemetry(ctx context.Context, write func([]byte) error, delay time.Duration) error {
	if err := write(jkbms.BuildGetDeviceInfoCommand()); err != nil {
		return fmt.Errorf("write get device info: %w", err)
	}
	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	if err := write(jkbms.BuildGetCellInfoCommand()); err != nil {
		return fmt.Errorf("write get cell info: %w", err)
	}
	return nil
}
