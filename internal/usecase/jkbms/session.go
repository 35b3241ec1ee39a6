package jkbms

import (
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"jkbms-gateway/internal/protocol/jkbms"
	"jkbms-gateway/internal/usecase"
)

// SessionStats 会话计数快照
type SessionStats struct {
	Fragments    uint64 `json:"fragments"`
	Frames       uint64 `json:"frames"`
	Published    uint64 `json:"published"`
	Throttled    uint64 `json:"throttled"`
	DecodeErrors uint64 `json:"decode_errors"`
	Overflows    uint64 `json:"overflows"`
	Skipped      uint64 `json:"skipped"`
}

type sessionCounters struct {
	fragments    atomic.Uint64
	frames       atomic.Uint64
	published    atomic.Uint64
	throttled    atomic.Uint64
	decodeErrors atomic.Uint64
	overflows    atomic.Uint64
	skipped      atomic.Uint64
}

// Session 代表一个 BMS 连接会话。
//
// Feed/Run 只能由该连接唯一的消费协程调用; 帧同步器不加锁。
// LastActive/Stats/Close 可以从其他协程调用。
type Session struct {
	Device    string
	LoginTime time.Time

	conn       io.Closer
	lastActive atomic.Int64

	sync          *jkbms.Synchronizer
	publisher     usecase.Publisher
	interval      time.Duration
	lastPublished time.Time
	now           func() time.Time

	counters sessionCounters
	logger   *zap.Logger
}

// NewSession 创建会话。interval 为两次遥测发布之间的最小间隔, 0 表示不限制。
func NewSession(device string, conn io.Closer, publisher usecase.Publisher, interval time.Duration, logger *zap.Logger) *Session {
	s := &Session{
		Device:    device,
		LoginTime: time.Now(),
		conn:      conn,
		sync:      jkbms.NewSynchronizer(),
		publisher: publisher,
		interval:  interval,
		now:       time.Now,
		logger:    logger.With(zap.String("device", device)),
	}
	s.touch()
	return s
}

// Feed handles one fragment from the transport. Errors are per-cycle: the
// session stays usable and the caller only logs them.
func (s *Session) Feed(fragment []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic in Session.Feed",
				zap.Any("recover", r),
				zap.String("stack", string(debug.Stack())))
			s.sync.Reset()
			err = fmt.Errorf("internal error: %v", r)
		}
	}()

	s.touch()
	s.counters.fragments.Add(1)

	frame, err := s.sync.Push(fragment)
	if err != nil {
		s.counters.overflows.Add(1)
		return err
	}
	if frame == nil {
		return nil
	}
	s.counters.frames.Add(1)
	return s.handleFrame(frame)
}

func (s *Session) handleFrame(frame []byte) error {
	typ, _ := jkbms.TypeOf(frame)
	switch typ {
	case jkbms.FrameTypeCellInfo:
		rec, err := jkbms.Decode(frame)
		if err != nil {
			s.counters.decodeErrors.Add(1)
			return fmt.Errorf("decode cell info: %w", err)
		}
		s.publishTelemetry(rec)
	case jkbms.FrameTypeDeviceInfo:
		info, err := jkbms.DecodeDeviceInfo(frame)
		if err != nil {
			s.counters.decodeErrors.Add(1)
			return fmt.Errorf("decode device info: %w", err)
		}
		s.logger.Info("Device info received",
			zap.String("vendor", info.VendorID),
			zap.String("hw", info.HardwareVersion),
			zap.String("sw", info.SoftwareVersion),
			zap.String("name", info.DeviceName))
		s.publish(usecase.MsgTypeDeviceInfo, info)
	default:
		s.counters.skipped.Add(1)
		s.logger.Debug("Skipping frame", zap.Stringer("frame_type", typ))
	}
	return nil
}

func (s *Session) publishTelemetry(rec *jkbms.TelemetryRecord) {
	now := s.now()
	if s.interval > 0 && !s.lastPublished.IsZero() && now.Sub(s.lastPublished) < s.interval {
		s.counters.throttled.Add(1)
		s.logger.Debug("Telemetry throttled", zap.Duration("since_last", now.Sub(s.lastPublished)))
		return
	}
	s.lastPublished = now

	if rec.Alarm.Active() {
		s.logger.Warn("BMS alarm",
			zap.Uint16("code", rec.Alarm.Code),
			zap.String("label", rec.Alarm.Label))
	}
	s.logger.Debug("Telemetry decoded",
		zap.Float32("total_voltage", rec.TotalVoltage),
		zap.Float32("current", rec.Current),
		zap.Float32("delta_cell_voltage", rec.DeltaCellVoltage))
	s.publish(usecase.MsgTypeTelemetry, rec)
}

func (s *Session) publish(msgType string, data interface{}) {
	if s.publisher.Dispatch(usecase.NewEnvelope(msgType, s.Device, data)) {
		s.counters.published.Add(1)
	}
}

// Run consumes fragments until the channel is closed or ctx is done. A frame
// still being assembled at that point is dropped. A closed channel returns nil.
func (s *Session) Run(ctx context.Context, fragments <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			s.abandon("context done")
			return ctx.Err()
		case fragment, ok := <-fragments:
			if !ok {
				s.abandon("transport closed")
				return nil
			}
			if err := s.Feed(fragment); err != nil {
				s.logger.Warn("Fragment handling failed", zap.Error(err))
			}
		}
	}
}

func (s *Session) abandon(reason string) {
	if n := s.sync.Buffered(); n > 0 {
		s.logger.Debug("Partial frame abandoned", zap.String("reason", reason), zap.Int("bytes", n))
	}
	s.sync.Reset()
}

func (s *Session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

// LastActive 最后一次收到分片的时间
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() SessionStats {
	return SessionStats{
		Fragments:    s.counters.fragments.Load(),
		Frames:       s.counters.frames.Load(),
		Published:    s.counters.published.Load(),
		Throttled:    s.counters.throttled.Load(),
		DecodeErrors: s.counters.decodeErrors.Load(),
		Overflows:    s.counters.overflows.Load(),
		Skipped:      s.counters.skipped.Load(),
	}
}

// Close 关闭底层连接
func (s *Session) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
