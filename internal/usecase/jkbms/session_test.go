package jkbms

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"jkbms-gateway/internal/protocol/jkbms"
	"jkbms-gateway/internal/usecase"
)

func cellFrame(totalVoltage float32, alarm uint16) []byte {
	rec := &jkbms.TelemetryRecord{
		TotalVoltage:       totalVoltage,
		Current:            2.5,
		AverageCellVoltage: 3.3,
		Alarm:              jkbms.ResolveAlarm(alarm),
	}
	for i := range rec.Cells {
		rec.Cells[i].Voltage = 3.3
	}
	return jkbms.EncodeFrame(rec)
}

type manualClock struct{ now time.Time }

func newManualClock() *manualClock {
	return &manualClock{now: time.Unix(1700000000, 0)}
}

func (c *manualClock) Now() time.Time { return c.now }

func (c *manualClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func feedAll(t *testing.T, s *Session, parts [][]byte) {
	t.Helper()
	for _, p := range parts {
		require.NoError(t, s.Feed(p))
	}
}

func TestSessionPublishesDecodedTelemetry(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewSession("C8:47:8C:00:00:01", nil, pub, 0, zaptest.NewLogger(t))

	feedAll(t, s, jkbms.SplitFrame(cellFrame(52.8, 0), 20))

	envs := pub.all()
	require.Len(t, envs, 1)
	assert.Equal(t, usecase.MsgTypeTelemetry, envs[0].Type)
	assert.Equal(t, "C8:47:8C:00:00:01", envs[0].Device)

	rec, ok := envs[0].Data.(*jkbms.TelemetryRecord)
	require.True(t, ok)
	assert.InDelta(t, 52.8, rec.TotalVoltage, 1e-3)
	assert.InDelta(t, 52.8*2.5, rec.Power, 1e-2)

	st := s.Stats()
	assert.Equal(t, uint64(15), st.Fragments)
	assert.Equal(t, uint64(1), st.Frames)
	assert.Equal(t, uint64(1), st.Published)
}

func TestSessionThrottlesTelemetry(t *testing.T) {
	pub := &recordingPublisher{}
	clock := newManualClock()
	s := NewSession("dev", nil, pub, 5*time.Second, zaptest.NewLogger(t))
	s.now = clock.Now

	frame := cellFrame(52.8, 0)
	require.NoError(t, s.Feed(frame))
	clock.Advance(time.Second)
	require.NoError(t, s.Feed(frame))
	clock.Advance(3 * time.Second)
	require.NoError(t, s.Feed(frame))
	clock.Advance(2 * time.Second)
	require.NoError(t, s.Feed(frame))

	assert.Len(t, pub.ofType(usecase.MsgTypeTelemetry), 2)
	st := s.Stats()
	assert.Equal(t, uint64(4), st.Frames)
	assert.Equal(t, uint64(2), st.Throttled)
}

func TestSessionDeviceInfoNotThrottled(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewSession("dev", nil, pub, time.Hour, zaptest.NewLogger(t))

	info := jkbms.EncodeDeviceInfo(&jkbms.DeviceInfo{VendorID: "JK_B2A24S15P", SoftwareVersion: "11.XW"})
	require.NoError(t, s.Feed(info))
	require.NoError(t, s.Feed(cellFrame(50, 0)))
	require.NoError(t, s.Feed(info))

	infos := pub.ofType(usecase.MsgTypeDeviceInfo)
	require.Len(t, infos, 2)
	got, ok := infos[0].Data.(*jkbms.DeviceInfo)
	require.True(t, ok)
	assert.Equal(t, "JK_B2A24S15P", got.VendorID)
	assert.Len(t, pub.ofType(usecase.MsgTypeTelemetry), 1)
}

func TestSessionSkipsSettingsFrames(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewSession("dev", nil, pub, 0, zaptest.NewLogger(t))

	frame := cellFrame(50, 0)
	frame[4] = byte(jkbms.FrameTypeSettings)
	require.NoError(t, s.Feed(frame))

	assert.Empty(t, pub.all())
	assert.Equal(t, uint64(1), s.Stats().Skipped)
}

func TestSessionOverflowIsRecoverable(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewSession("dev", nil, pub, 0, zaptest.NewLogger(t))

	frame := cellFrame(50, 0)
	require.NoError(t, s.Feed(frame[:290]))
	err := s.Feed(make([]byte, 20))
	assert.True(t, errors.Is(err, jkbms.ErrFrameOverflow))
	assert.Equal(t, uint64(1), s.Stats().Overflows)

	feedAll(t, s, jkbms.SplitFrame(frame, 128))
	assert.Len(t, pub.all(), 1)
}

func TestSessionIgnoresAcks(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewSession("dev", nil, pub, 0, zaptest.NewLogger(t))

	parts := jkbms.SplitFrame(cellFrame(50, 0), 150)
	ack := append([]byte{0xAA, 0x55, 0x90, 0xEB, 0x96}, make([]byte, 15)...)
	feedAll(t, s, [][]byte{ack, parts[0], ack, parts[1]})

	assert.Len(t, pub.all(), 1)
}

func TestSessionRunStopsOnClosedChannel(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewSession("dev", nil, pub, 0, zaptest.NewLogger(t))

	ch := make(chan []byte, 8)
	frame := cellFrame(51, 0)
	for _, p := range jkbms.SplitFrame(frame, 100) {
		ch <- p
	}
	ch <- frame[:50] // 未完成的帧在关闭时丢弃
	close(ch)

	require.NoError(t, s.Run(context.Background(), ch))
	assert.Len(t, pub.all(), 1)
	assert.Zero(t, s.sync.Buffered())
}

func TestSessionRunStopsOnContext(t *testing.T) {
	s := NewSession("dev", nil, &recordingPublisher{}, 0, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Run(ctx, make(chan []byte))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSessionCountsRejectedDispatch(t *testing.T) {
	pub := &recordingPublisher{reject: true}
	s := NewSession("dev", nil, pub, 0, zaptest.NewLogger(t))

	require.NoError(t, s.Feed(cellFrame(50, 0)))
	st := s.Stats()
	assert.Equal(t, uint64(1), st.Frames)
	assert.Zero(t, st.Published)
}

func TestSessionCloseClosesConn(t *testing.T) {
	conn := &fakeConn{addr: "127.0.0.1:5000"}
	s := NewSession("dev", conn, &recordingPublisher{}, 0, zaptest.NewLogger(t))
	require.NoError(t, s.Close())
	assert.True(t, conn.isClosed())

	assert.NoError(t, NewSession("x", nil, &recordingPublisher{}, 0, zaptest.NewLogger(t)).Close())
}
