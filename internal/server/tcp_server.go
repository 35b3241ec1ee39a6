package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/panjf2000/gnet/v2"

	"go.uber.org/zap"

	"jkbms-gateway/internal/config"
	protocol "jkbms-gateway/internal/protocol/jkbms"
	handler "jkbms-gateway/internal/usecase/jkbms"
)

// connContext 保存每个中继连接的状态
type connContext struct {
	buffer  []byte
	scanner *protocol.RelayScanner
	addr    string
	session *handler.Session
}

// GnetConnWrapper adapts gnet.Conn to handler.Conn.
type GnetConnWrapper struct {
	conn gnet.Conn
}

func (w *GnetConnWrapper) RemoteAddr() string {
	return w.conn.RemoteAddr().String()
}

// Close 可在事件循环之外调用 (会话超时清理)
func (w *GnetConnWrapper) Close() error {
	return w.conn.CloseWithCallback(nil)
}

func (w *GnetConnWrapper) Write(b []byte) (n int, err error) {
	return w.conn.Write(b)
}

func (w *GnetConnWrapper) SetSession(sess *handler.Session) {
	if ctx, ok := w.conn.Context().(*connContext); ok {
		ctx.session = sess
	}
}

func (w *GnetConnWrapper) Session() *handler.Session {
	if ctx, ok := w.conn.Context().(*connContext); ok {
		return ctx.session
	}
	return nil
}

// TCPServer 接收 BLE 中继转发的通知
type TCPServer struct {
	gnet.BuiltinEventEngine

	addr          string
	multicore     bool
	maxRecordSize int
	logger        *zap.Logger
	handler       *handler.Handler
}

func NewTCPServer(cfg *config.Config, logger *zap.Logger, h *handler.Handler) *TCPServer {
	return &TCPServer{
		addr:          fmt.Sprintf("tcp://%s:%d", cfg.Relay.Host, cfg.Relay.Port),
		multicore:     cfg.Relay.Multicore,
		maxRecordSize: cfg.Relay.MaxRecordSize,
		logger:        logger,
		handler:       h,
	}
}

func (s *TCPServer) OnBoot(eng gnet.Engine) (action gnet.Action) {
	s.logger.Info("Relay server is booting", zap.String("address", s.addr))
	return
}

func (s *TCPServer) OnOpen(c gnet.Conn) (out []byte, action gnet.Action) {
	s.logger.Info("New relay connection", zap.String("remote_addr", c.RemoteAddr().String()))
	c.SetContext(s.newConnContext(c.RemoteAddr().String()))
	return
}

func (s *TCPServer) newConnContext(addr string) *connContext {
	return &connContext{
		buffer:  make([]byte, 0, 1024),
		scanner: protocol.NewRelayScanner(s.maxRecordSize),
		addr:    addr,
	}
}

func (s *TCPServer) OnTraffic(c gnet.Conn) (action gnet.Action) {
	ctx := c.Context().(*connContext)

	buf, _ := c.Next(-1)
	if len(buf) == 0 {
		return
	}
	if err := s.consume(ctx, &GnetConnWrapper{conn: c}, buf); err != nil {
		s.logger.Warn("Closing relay connection", zap.String("addr", ctx.addr), zap.Error(err))
		action = gnet.Close
	}
	return
}

// consume appends data to the connection buffer and hands every complete
// relay record to the handler. A returned error means the connection must
// be closed. Per-record errors that leave the session usable are only logged.
func (s *TCPServer) consume(ctx *connContext, conn handler.Conn, data []byte) error {
	ctx.buffer = append(ctx.buffer, data...)

	for {
		advance, token, err := ctx.scanner.SplitFunc(ctx.buffer, false)
		if err != nil {
			return fmt.Errorf("split relay stream: %w", err)
		}
		if advance == 0 {
			// 需要更多数据
			break
		}
		if token == nil {
			// 跳过垃圾数据
			ctx.buffer = ctx.buffer[advance:]
			continue
		}

		rec, err := protocol.ParseRelayRecord(token)
		ctx.buffer = ctx.buffer[advance:]
		if err != nil {
			s.logger.Warn("Failed to parse relay record", zap.Error(err), zap.String("addr", ctx.addr))
			continue
		}

		if err := s.handler.HandleRecord(conn, rec); err != nil {
			// Hello 失败或未 Hello 的连接无法恢复
			if rec.Type == protocol.RelayHello || errors.Is(err, handler.ErrNoHello) {
				return err
			}
			s.logger.Warn("Handle relay record failed", zap.Error(err), zap.String("addr", ctx.addr))
		}
	}
	return nil
}

func (s *TCPServer) OnClose(c gnet.Conn, err error) (action gnet.Action) {
	s.logger.Info("Relay connection closed", zap.String("remote", c.RemoteAddr().String()), zap.Error(err))
	if ctx, ok := c.Context().(*connContext); ok && ctx.session != nil {
		s.handler.SessionMgr.Detach(ctx.session)
	}
	return
}

func (s *TCPServer) OnShutdown(eng gnet.Engine) {
	s.logger.Info("Relay server is shutting down")
}

// Start 阻塞运行 gnet 事件循环
func (s *TCPServer) Start(ctx context.Context) error {
	s.logger.Info("Starting relay server", zap.String("addr", s.addr))
	return gnet.Run(s, s.addr,
		gnet.WithMulticore(s.multicore),
		gnet.WithLogger(s.logger.Sugar()),
		gnet.WithReusePort(true),
	)
}

func (s *TCPServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping relay server...")
	return gnet.Stop(ctx, s.addr)
}
