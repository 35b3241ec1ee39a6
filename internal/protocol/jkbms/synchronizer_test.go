package jkbms

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// feed pushes fragments in order and collects every emitted frame.
func feed(t *testing.T, s *Synchronizer, fragments ...[]byte) [][]byte {
	t.Helper()
	var frames [][]byte
	for _, f := range fragments {
		frame, err := s.Push(f)
		require.NoError(t, err)
		if frame != nil {
			frames = append(frames, frame)
		}
	}
	return frames
}

func testFrame() []byte {
	return EncodeFrame(sampleRecord())
}

func TestSynchronizerEmitsConcatenation(t *testing.T) {
	frame := testFrame()

	for _, chunk := range []int{0, 20, 128, 299} {
		s := NewSynchronizer()
		frames := feed(t, s, SplitFrame(frame, chunk)...)

		require.Len(t, frames, 1, "chunk %d", chunk)
		assert.Equal(t, frame, frames[0])
		assert.Equal(t, StateIdle, s.State())
		assert.Zero(t, s.Buffered())
	}
}

func TestSynchronizerSingleByteFragments(t *testing.T) {
	frame := testFrame()
	s := NewSynchronizer()

	// 起始分片必须至少 4 字节, 其余按 1 字节和空分片送入
	fragments := [][]byte{frame[:4], {}}
	for i := 4; i < len(frame); i++ {
		fragments = append(fragments, frame[i:i+1])
	}
	frames := feed(t, s, fragments...)

	require.Len(t, frames, 1)
	assert.Equal(t, frame, frames[0])
}

func TestSynchronizerShortStreamEmitsNothing(t *testing.T) {
	frame := testFrame()
	s := NewSynchronizer()

	frames := feed(t, s, SplitFrame(frame[:280], 20)...)

	assert.Empty(t, frames)
	assert.Equal(t, StateAccumulating, s.State())
	assert.Equal(t, 280, s.Buffered())
}

func TestSynchronizerIgnoresNoiseWhileIdle(t *testing.T) {
	s := NewSynchronizer()

	frames := feed(t, s,
		nil,
		[]byte{0x55},
		[]byte{0x55, 0xAA, 0xEB}, // 不足 4 字节, 不是起始符
		[]byte{0x01, 0x02, 0x03, 0x04, 0x05},
	)

	assert.Empty(t, frames)
	assert.Equal(t, StateIdle, s.State())
	assert.Zero(t, s.Buffered())
}

func TestSynchronizerAckNeverTouchesFrame(t *testing.T) {
	frame := testFrame()
	ack := append([]byte{0xAA, 0x55}, make([]byte, 18)...)
	parts := SplitFrame(frame, 100)
	require.Len(t, parts, 3)

	s := NewSynchronizer()

	// Idle: 回显不会开始一帧
	assert.Empty(t, feed(t, s, ack))
	assert.Equal(t, StateIdle, s.State())

	// Accumulating: 回显既不追加也不结束
	assert.Empty(t, feed(t, s, parts[0], ack))
	assert.Equal(t, 100, s.Buffered())
	assert.Empty(t, feed(t, s, parts[1], ack[:2]))
	assert.Equal(t, 200, s.Buffered())

	frames := feed(t, s, parts[2])
	require.Len(t, frames, 1)
	assert.Equal(t, frame, frames[0])
}

func TestSynchronizerRestartsOnFrameStart(t *testing.T) {
	stale := testFrame()
	rec := sampleRecord()
	rec.TotalVoltage = 52.5
	fresh := EncodeFrame(rec)

	s := NewSynchronizer()
	assert.Empty(t, feed(t, s, stale[:150], stale[150:200]))
	assert.Equal(t, 200, s.Buffered())

	frames := feed(t, s, fresh[:40])
	assert.Empty(t, frames)
	assert.Equal(t, 40, s.Buffered(), "partial buffer discarded on new frame start")

	frames = feed(t, s, fresh[40:])
	require.Len(t, frames, 1)
	assert.Equal(t, fresh, frames[0])
}

func TestSynchronizerOverflowResets(t *testing.T) {
	frame := testFrame()
	s := NewSynchronizer()

	_, err := s.Push(frame[:290])
	require.NoError(t, err)

	out, err := s.Push(bytes.Repeat([]byte{0x01}, 20))
	assert.Nil(t, out)
	assert.True(t, errors.Is(err, ErrFrameOverflow))
	assert.Equal(t, StateIdle, s.State())
	assert.Zero(t, s.Buffered())

	// 溢出后可继续正常拼帧
	frames := feed(t, s, SplitFrame(frame, 64)...)
	require.Len(t, frames, 1)
	assert.Equal(t, frame, frames[0])
}

func TestSynchronizerOversizedStartFragment(t *testing.T) {
	big := append(testFrame(), 0x00)
	s := NewSynchronizer()

	out, err := s.Push(big)
	assert.Nil(t, out)
	assert.ErrorIs(t, err, ErrFrameOverflow)
	assert.Equal(t, StateIdle, s.State())
}

func TestSynchronizerFrameIsCopied(t *testing.T) {
	frame := testFrame()
	s := NewSynchronizer()

	first := feed(t, s, frame)
	require.Len(t, first, 1)

	other := EncodeDeviceInfo(&DeviceInfo{VendorID: "JK_B2A24S"})
	second := feed(t, s, other)
	require.Len(t, second, 1)

	assert.Equal(t, frame, first[0], "earlier frame must not alias the internal buffer")
}

func TestSyncStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "accumulating", StateAccumulating.String())
	assert.Equal(t, "SyncState(7)", SyncState(7).String())
}
