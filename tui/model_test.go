package tui

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-syncstart/app"
	"go-syncstart/clocksync"
	"go-syncstart/hosttime"
	"go-syncstart/sequencer"
	"go-syncstart/theme"
)

func newModel(t *testing.T) Model {
	t.Helper()
	sched := sequencer.NewScheduler(44100, nil)
	s := app.New(clocksync.DefaultConfig(), hosttime.Fake(uint64(time.Second)), nil, sched, 120)
	t.Cleanup(func() { s.Close() })
	return NewModel(context.Background(), s, nil, theme.New(nil))
}

func press(m Model, keys ...string) Model {
	for _, k := range keys {
		next, _ := m.handleKey(k)
		m = next.(Model)
	}
	return m
}

func TestHeader(t *testing.T) {
	st := app.Status{Tempo: 120}
	assert.Equal(t, "syncstart  LOCAL disconnected  offset --  worst 0.00ms  120bpm  STOP  step:01", Header(st, false))

	st = app.Status{
		Role:      clocksync.RoleSlave,
		State:     clocksync.StateConnected,
		HasOffset: true,
		Offset:    clocksync.ClockOffset{Offset: -1_234_567, WorstCaseLatency: 1_500_000},
		Tempo:     98,
	}
	st.Sequencer.Running = true
	st.Sequencer.Step = 11
	assert.Equal(t, "syncstart  SLAVE connected  offset -1.235ms  worst 1.50ms   98bpm  PLAY  step:12  LP:X", Header(st, true))
}

func TestCursorAndToggle(t *testing.T) {
	m := newModel(t)
	sched := m.Session.Scheduler()

	m = press(m, "k")
	assert.Equal(t, sequencer.NumTracks-1, m.track)
	m = press(m, "j", "h")
	assert.Equal(t, 0, m.track)
	assert.Equal(t, sequencer.NumSteps-1, m.step)

	m = press(m, "l", "l")
	before := sched.Step(0, 1)
	m = press(m, " ")
	assert.Equal(t, !before, sched.Step(0, 1))
	assert.Equal(t, !before, m.status.Sequencer.Pattern[0][1])

	m = press(m, "backspace")
	assert.Equal(t, [sequencer.NumSteps]bool{}, sched.Pattern()[0])
	press(m, "r")
	assert.Equal(t, sequencer.DefaultPattern(), sched.Pattern())
}

func TestTransportKeys(t *testing.T) {
	m := newModel(t)

	m = press(m, "+", "+", "-")
	assert.Equal(t, float32(125), m.Session.Tempo())

	m = press(m, "s")
	assert.Equal(t, 1, m.status.Sequencer.Pending)
	assert.Empty(t, m.message)

	m = press(m, "x")
	assert.Equal(t, 2, m.status.Sequencer.Pending)

	next, cmd := m.handleKey("q")
	require.NotNil(t, cmd)
	assert.Equal(t, "", next.View())
}

func TestNoticeUpdatesMessage(t *testing.T) {
	m := newModel(t)
	next, cmd := m.Update(NoticeMsg(app.Notice{Kind: app.NoticeConnected, Role: clocksync.RoleMaster}))
	assert.NotNil(t, cmd)
	assert.Equal(t, "connected as master", next.(Model).message)

	next, _ = m.Update(NoticeMsg(app.Notice{Kind: app.NoticeStart, Tempo: 90}))
	assert.Equal(t, "start at 90.0 bpm", next.(Model).message)
}

func TestViewDrawsGrid(t *testing.T) {
	m := newModel(t)
	out := m.View()
	assert.Contains(t, out, "syncstart")
	for _, name := range sequencer.TrackNames {
		assert.Contains(t, out, name)
	}
	// the cursor starts on the first kick, which is on
	assert.Equal(t, 1, strings.Count(out, "◉"))
}

func TestHelpToggle(t *testing.T) {
	m := newModel(t)
	assert.NotContains(t, m.View(), "clear track")
	m = press(m, "?")
	assert.Contains(t, m.View(), "clear track")
	m = press(m, "?")
	assert.Contains(t, m.View(), "?:help")
}
