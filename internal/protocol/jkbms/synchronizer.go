package jkbms

import (
	"errors"
	"fmt"
)

// ErrFrameOverflow 分片追加后超过 FrameSize。当前帧被丢弃, 状态回到 Idle。
var ErrFrameOverflow = errors.New("jkbms: fragment overflows frame")

// SyncState 帧同步器状态
type SyncState int

const (
	StateIdle         SyncState = iota // 无进行中的帧
	StateAccumulating                  // 已收到起始符, 正在拼帧
)

func (s SyncState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAccumulating:
		return "accumulating"
	default:
		return fmt.Sprintf("SyncState(%d)", int(s))
	}
}

// Synchronizer reassembles BLE notification fragments into FrameSize frames.
//
// A Synchronizer belongs to one connection and must be fed by a single
// goroutine. Closing the stream mid-frame needs no call: the partial buffer is
// simply never completed.
type Synchronizer struct {
	state SyncState
	buf   []byte
}

// NewSynchronizer 创建一个处于 Idle 状态的帧同步器
func NewSynchronizer() *Synchronizer {
	return &Synchronizer{buf: make([]byte, 0, FrameSize)}
}

// Push consumes one fragment. It returns a complete frame (a fresh copy the
// caller owns) when the fragment finishes one, otherwise nil.
//
// Rules, in order:
//  1. ack-prefixed fragments are command echoes and are dropped;
//  2. a frame-start fragment restarts accumulation, even mid-frame;
//  3. anything else while Idle is noise;
//  4. anything else while Accumulating is appended.
//
// A frame that would grow past FrameSize is dropped and ErrFrameOverflow is
// returned; the synchronizer is Idle afterwards either way.
func (s *Synchronizer) Push(fragment []byte) ([]byte, error) {
	switch {
	case IsAck(fragment):
		return nil, nil
	case IsFrameStart(fragment):
		if len(fragment) > FrameSize {
			s.Reset()
			return nil, fmt.Errorf("%w: frame start of %d bytes", ErrFrameOverflow, len(fragment))
		}
		s.buf = append(s.buf[:0], fragment...)
		s.state = StateAccumulating
	case s.state == StateIdle:
		return nil, nil
	default:
		if len(s.buf)+len(fragment) > FrameSize {
			have := len(s.buf)
			s.Reset()
			return nil, fmt.Errorf("%w: %d+%d bytes", ErrFrameOverflow, have, len(fragment))
		}
		s.buf = append(s.buf, fragment...)
	}

	if len(s.buf) != FrameSize {
		return nil, nil
	}
	frame := make([]byte, FrameSize)
	copy(frame, s.buf)
	s.Reset()
	return frame, nil
}

// State 当前状态
func (s *Synchronizer) State() SyncState {
	return s.state
}

// Buffered 已累积的字节数
func (s *Synchronizer) Buffered() int {
	return len(s.buf)
}

// Reset drops any partial frame and returns to Idle.
func (s *Synchronizer) Reset() {
	s.buf = s.buf[:0]
	s.state = StateIdle
}
