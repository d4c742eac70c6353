package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-syncstart/audio"
	"go-syncstart/clocksync"
	"go-syncstart/synth"
	"go-syncstart/transport"
)

const (
	sampleRate  = 44100
	blockFrames = 441 // 10 ms
	masterEpoch = uint64(7 * time.Second)
	slaveEpoch  = uint64(2 * time.Second)
)

type side struct {
	session *Session
	synth   *synth.Synth
	offline *audio.Offline
	hits    <-chan synth.Hit
}

func newSide(t *testing.T, epoch uint64, latency time.Duration, link clocksync.PeerLink) *side {
	t.Helper()
	s := synth.New(sampleRate)
	off := audio.NewOffline(s, epoch, sampleRate, blockFrames, int64(latency))
	var tr clocksync.Transport
	if link != nil {
		tr = transport.NewPipeTransport(link)
	}
	sess := New(clocksync.DefaultConfig(), off.Clock(), tr, s.Scheduler(), 120)
	sess.SetOutputLatency(latency)
	t.Cleanup(func() {
		sess.Close()
		s.Close()
	})
	return &side{session: sess, synth: s, offline: off, hits: s.Listen(256)}
}

func connected(t *testing.T) (master, slave *side) {
	t.Helper()
	ml, sl := transport.Pipe()
	master = newSide(t, masterEpoch, 20*time.Millisecond, ml)
	slave = newSide(t, slaveEpoch, 20*time.Millisecond, sl)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	master.session.Connect(ctx)
	slave.session.Connect(ctx)

	role, err := slave.session.WaitConnected(ctx)
	require.NoError(t, err)
	require.Equal(t, clocksync.RoleSlave, role)
	role, err = master.session.WaitConnected(ctx)
	require.NoError(t, err)
	require.Equal(t, clocksync.RoleMaster, role)
	return master, slave
}

func waitNotice(t *testing.T, s *Session, kind NoticeKind) Notice {
	t.Helper()
	for {
		select {
		case n := <-s.Notices():
			if n.Kind == kind {
				return n
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no %s notice", kind)
		}
	}
}

func drain(ch <-chan synth.Hit) []synth.Hit {
	var out []synth.Hit
	for {
		select {
		case h := <-ch:
			out = append(out, h)
		default:
			return out
		}
	}
}

func TestBothSidesHearFirstStepTogether(t *testing.T) {
	master, slave := connected(t)

	at, err := master.session.StartAt()
	require.NoError(t, err)
	// worst case latency is zero over the pipe, so the lead is the margin
	assert.Equal(t, masterEpoch+uint64(100*time.Millisecond), at)

	n := waitNotice(t, slave.session, NoticeStart)
	assert.Equal(t, slaveEpoch+uint64(100*time.Millisecond), n.HostTime)
	assert.Equal(t, float32(120), n.Tempo)

	master.offline.Run(20, nil)
	slave.offline.Run(20, nil)

	mh, sh := drain(master.hits), drain(slave.hits)
	require.NotEmpty(t, mh)
	require.Equal(t, len(mh), len(sh))
	for i := range mh {
		assert.Equal(t, mh[i].Track, sh[i].Track)
		assert.Equal(t, mh[i].Frame, sh[i].Frame)
		assert.Equal(t, mh[i].At-masterEpoch, sh[i].At-slaveEpoch, "hit %d", i)
	}
	// the start is placed output latency later in the stream: 120 ms in,
	// heard 20 ms after that
	assert.Equal(t, uint64(5292), mh[0].Frame)
	assert.Equal(t, masterEpoch+uint64(140*time.Millisecond), mh[0].At)
}

func TestStopReachesSlave(t *testing.T) {
	master, slave := connected(t)

	_, err := master.session.StartAt()
	require.NoError(t, err)
	waitNotice(t, slave.session, NoticeStart)
	_, err = master.session.StopAt()
	require.NoError(t, err)
	waitNotice(t, slave.session, NoticeStop)

	master.offline.Run(30, nil)
	slave.offline.Run(30, nil)
	assert.False(t, master.synth.Scheduler().Snapshot().Running)
	assert.False(t, slave.synth.Scheduler().Snapshot().Running)
	// start and stop share an instant, so nothing sounds
	assert.Empty(t, drain(master.hits))
	assert.Empty(t, drain(slave.hits))
}

func TestSlaveCannotStart(t *testing.T) {
	_, slave := connected(t)

	_, err := slave.session.StartAt()
	assert.ErrorIs(t, err, clocksync.ErrNotMaster)
	_, err = slave.session.StopAt()
	assert.ErrorIs(t, err, clocksync.ErrNotMaster)
	assert.Zero(t, slave.synth.Scheduler().Snapshot().Pending)
}

func TestLocalStartWithoutPeer(t *testing.T) {
	s := newSide(t, masterEpoch, 0, nil)
	s.session.SetTempo(500)
	assert.Equal(t, float32(300), s.session.Tempo())
	s.session.NudgeTempo(-100)

	at, err := s.session.StartAt()
	require.NoError(t, err)
	assert.Equal(t, masterEpoch+uint64(100*time.Millisecond), at)

	st := s.session.Status()
	assert.Equal(t, clocksync.RoleNone, st.Role)
	assert.False(t, st.Connected)
	assert.False(t, st.HasOffset)
	assert.Equal(t, float32(200), st.Tempo)
	assert.Equal(t, 1, st.Sequencer.Pending)

	s.offline.Run(11, nil)
	assert.True(t, s.synth.Scheduler().Snapshot().Running)
	assert.Equal(t, float32(200), s.synth.Scheduler().Snapshot().Tempo)
}

func TestStatusShowsOffset(t *testing.T) {
	_, slave := connected(t)

	st := slave.session.Status()
	require.True(t, st.HasOffset)
	assert.Equal(t, int64(slaveEpoch)-int64(masterEpoch), st.Offset.Offset)
	assert.Equal(t, clocksync.RoleSlave, st.Role)
	assert.Equal(t, clocksync.StateConnected, st.State)
}

func TestSearchWithoutTransportIsCancelled(t *testing.T) {
	s := newSide(t, masterEpoch, 0, nil)
	s.session.Connect(context.Background())
	_, err := s.session.WaitConnected(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestPeerLossIsNoticed(t *testing.T) {
	master, slave := connected(t)
	slave.session.Disconnect()
	waitNotice(t, master.session, NoticeLost)
	assert.False(t, master.session.Status().Connected)
}
