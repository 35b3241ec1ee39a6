package jkbms

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SessionManager 管理 BMS 会话 (设备标识 -> Session)
type SessionManager struct {
	sessions sync.Map // map[string]*Session
	logger   *zap.Logger
}

// NewSessionManager 创建一个新的会话管理器
func NewSessionManager(logger *zap.Logger) *SessionManager {
	return &SessionManager{
		logger: logger,
	}
}

// Add registers sess under its device. An older session for the same device
// is closed and replaced.
func (sm *SessionManager) Add(sess *Session) {
	if prev, loaded := sm.sessions.Swap(sess.Device, sess); loaded {
		old := prev.(*Session)
		if old != sess {
			sm.logger.Info("[SessionManager] Session Replaced", zap.String("device", old.Device))
			_ = old.Close()
		}
	}
	sm.logger.Info("[SessionManager] Session Added", zap.String("device", sess.Device))
}

// Remove 删除会话并关闭连接
func (sm *SessionManager) Remove(device string) {
	if val, ok := sm.sessions.LoadAndDelete(device); ok {
		sess := val.(*Session)
		sm.logger.Info("[SessionManager] Session Removed", zap.String("device", sess.Device))
		_ = sess.Close()
	}
}

// Detach drops sess only if it is still the registered session for its
// device. It does not close the connection; used when the connection is
// already gone.
func (sm *SessionManager) Detach(sess *Session) bool {
	if sess == nil {
		return false
	}
	if sm.sessions.CompareAndDelete(sess.Device, sess) {
		sm.logger.Info("[SessionManager] Session Detached",
			zap.String("device", sess.Device),
			zap.Any("stats", sess.Stats()))
		return true
	}
	return false
}

// Get 获取会话
func (sm *SessionManager) Get(device string) (*Session, bool) {
	val, ok := sm.sessions.Load(device)
	if !ok {
		return nil, false
	}
	return val.(*Session), true
}

// Count 当前会话数
func (sm *SessionManager) Count() int {
	n := 0
	sm.sessions.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// CheckHeartbeat 检查过期的会话并关闭它们, 返回关闭的数量
func (sm *SessionManager) CheckHeartbeat(timeout time.Duration) int {
	now := time.Now()
	expired := 0
	sm.sessions.Range(func(key, value interface{}) bool {
		sess := value.(*Session)
		if idle := now.Sub(sess.LastActive()); idle > timeout {
			sm.logger.Info("[SessionManager] Session Timeout",
				zap.String("device", sess.Device),
				zap.Duration("inactive_duration", idle))
			if sm.sessions.CompareAndDelete(key, sess) {
				_ = sess.Close()
				expired++
			}
		}
		return true
	})
	return expired
}

// RunSweeper 周期性调用 CheckHeartbeat, 直到 ctx 结束
func (sm *SessionManager) RunSweeper(ctx context.Context, interval, timeout time.Duration) {
	if interval <= 0 || timeout <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sm.CheckHeartbeat(timeout)
		}
	}
}

// CloseAll 关闭全部会话
func (sm *SessionManager) CloseAll() {
	sm.sessions.Range(func(key, _ interface{}) bool {
		sm.Remove(key.(string))
		return true
	})
}
