package midi

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"

	"go-syncstart/hosttime"
	"go-syncstart/sequencer"
	"go-syncstart/synth"
)

func TestPadLayoutCoversPattern(t *testing.T) {
	seen := make(map[[2]int]bool)
	for track := 0; track < sequencer.NumTracks; track++ {
		for step := 0; step < sequencer.NumSteps; step++ {
			row, col := StepToPad(track, step)
			require.True(t, row >= 0 && row < 8 && col >= 0 && col < 8, "%d/%d -> %d,%d", track, step, row, col)
			assert.False(t, seen[[2]int{row, col}], "pad %d,%d used twice", row, col)
			seen[[2]int{row, col}] = true

			gotTrack, gotStep, ok := PadToStep(row, col)
			require.True(t, ok)
			assert.Equal(t, track, gotTrack)
			assert.Equal(t, step, gotStep)
		}
	}
	assert.Len(t, seen, 64)

	// kick occupies the top two rows
	row, col := StepToPad(0, 0)
	assert.Equal(t, 7, row)
	assert.Equal(t, 0, col)
	row, col = StepToPad(0, 15)
	assert.Equal(t, 6, row)
	assert.Equal(t, 7, col)
}

func TestPadToStepRejectsButtons(t *testing.T) {
	for _, rc := range [][2]int{{8, 0}, {0, 8}, {-1, 0}, {3, -1}} {
		_, _, ok := PadToStep(rc[0], rc[1])
		assert.False(t, ok, "%v", rc)
	}
}

func TestLaunchpadNoteMapping(t *testing.T) {
	for row := 0; row <= 8; row++ {
		for col := 0; col < 8; col++ {
			r, c, ok := notePad(padNote(row, col))
			require.True(t, ok)
			assert.Equal(t, [2]int{row, col}, [2]int{r, c})
		}
	}
	assert.Equal(t, uint8(11), padNote(0, 0))
	assert.Equal(t, uint8(88), padNote(7, 7))
	assert.Equal(t, uint8(19), padNote(0, 8))
	assert.Equal(t, uint8(91), padNote(8, 0))

	col, ok := topButton(93)
	assert.True(t, ok)
	assert.Equal(t, 2, col)
	_, ok = topButton(10)
	assert.False(t, ok)
	_, _, ok = notePad(5)
	assert.False(t, ok)
}

func TestNearestColor(t *testing.T) {
	assert.Equal(t, uint8(0), nearestColor([3]uint8{0, 0, 0}))
	assert.Equal(t, uint8(5), nearestColor([3]uint8{255, 0, 0}))
	assert.Equal(t, uint8(119), nearestColor([3]uint8{250, 250, 250}))
	assert.Equal(t, uint8(21), nearestColor([3]uint8{0, 240, 10}))
}

type sent struct {
	mu   sync.Mutex
	msgs []gomidi.Message
}

func (s *sent) send(m gomidi.Message) error {
	s.mu.Lock()
	s.msgs = append(s.msgs, m)
	s.mu.Unlock()
	return nil
}

func (s *sent) all() []gomidi.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gomidi.Message(nil), s.msgs...)
}

func TestSinkEventsUseKitNotes(t *testing.T) {
	s := NewSink(nil, 10, sequencer.GetKit("rd8"), hosttime.Fake(1))
	on, off, ok := s.Events(1)
	require.True(t, ok)
	assert.Equal(t, Event{Type: NoteOn, Channel: 9, Note: 40, Velocity: defaultVelocity}, on)
	assert.Equal(t, Event{Type: NoteOff, Channel: 9, Note: 40}, off)

	_, _, ok = s.Events(sequencer.NumTracks)
	assert.False(t, ok)

	// out of range channel falls back to drums
	s = NewSink(nil, 0, sequencer.GetKit("gm"), hosttime.Fake(1))
	on, _, _ = s.Events(0)
	assert.Equal(t, uint8(9), on.Channel)
	assert.Equal(t, uint8(36), on.Note)
}

func TestSinkPlayHoldsForGate(t *testing.T) {
	out := &sent{}
	clock := hosttime.Fake(1)
	s := NewSink(out.send, 1, sequencer.GetKit("gm"), clock)

	s.Play(3)
	require.Len(t, out.all(), 1)

	var ch, key, vel uint8
	require.True(t, out.all()[0].GetNoteOn(&ch, &key, &vel))
	assert.Equal(t, uint8(0), ch)
	assert.Equal(t, uint8(42), key)

	clock.Advance(DefaultGate - time.Millisecond)
	assert.Len(t, out.all(), 1)
	clock.Advance(time.Millisecond)
	require.Len(t, out.all(), 2)
	assert.True(t, out.all()[1].GetNoteOff(&ch, &key, &vel))
	assert.Equal(t, uint8(42), key)

	n, failed := s.Stats()
	assert.Equal(t, uint64(2), n)
	assert.Zero(t, failed)
}

func TestSinkGateChangesWhilePlaying(t *testing.T) {
	out := &sent{}
	clock := hosttime.Fake(1)
	s := NewSink(out.send, 10, sequencer.GetKit("gm"), clock)

	hits := make(chan synth.Hit, 1)
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background(), hits) }()

	s.SetGate(30 * time.Millisecond)
	assert.Equal(t, 30*time.Millisecond, s.Gate())
	hits <- synth.Hit{Track: 0}
	close(hits)
	require.NoError(t, <-done)
	require.Len(t, out.all(), 1)

	clock.Advance(30 * time.Millisecond)
	assert.Len(t, out.all(), 2)

	s.SetGate(0)
	assert.Equal(t, DefaultGate, s.Gate())
}

func TestSinkWaitsUntilHitIsAudible(t *testing.T) {
	out := &sent{}
	clock := hosttime.Fake(uint64(time.Second))
	s := NewSink(out.send, 10, sequencer.GetKit("gm"), clock)

	hits := make(chan synth.Hit, 2)
	hits <- synth.Hit{Track: 0, At: uint64(time.Second) + uint64(5*time.Millisecond)}
	close(hits)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background(), hits) }()

	require.Eventually(t, func() bool { return clock.Pending() == 1 }, time.Second, time.Millisecond)
	assert.Empty(t, out.all())

	clock.Advance(5 * time.Millisecond)
	require.NoError(t, <-done)
	require.Len(t, out.all(), 1)
	var ch, key, vel uint8
	assert.True(t, out.all()[0].GetNoteOn(&ch, &key, &vel))
	assert.Equal(t, uint8(36), key)
}

func TestSinkRunStopsOnCancel(t *testing.T) {
	clock := hosttime.Fake(1)
	s := NewSink((&sent{}).send, 10, sequencer.GetKit("gm"), clock)

	hits := make(chan synth.Hit, 1)
	hits <- synth.Hit{At: uint64(time.Hour)}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, hits) }()

	require.Eventually(t, func() bool { return clock.Pending() == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Zero(t, clock.Pending())
}

type fakeController struct {
	pads    chan PadEvent
	batches [][]LEDUpdate
}

func (f *fakeController) ID() string                 { return "fake" }
func (f *fakeController) Type() ControllerType       { return ControllerLaunchpad }
func (f *fakeController) PadEvents() <-chan PadEvent { return f.pads }
func (f *fakeController) ClearLEDs() error           { return nil }
func (f *fakeController) Close() error               { return nil }
func (f *fakeController) SetLEDBatch(u []LEDUpdate) error {
	f.batches = append(f.batches, u)
	return nil
}

type transportLog []string

func (l *transportLog) Start() { *l = append(*l, "start") }
func (l *transportLog) Stop()  { *l = append(*l, "stop") }
func (l *transportLog) NudgeTempo(d float32) {
	if d > 0 {
		*l = append(*l, "up")
	} else {
		*l = append(*l, "down")
	}
}

func TestSurfaceFlushSendsOnlyChanges(t *testing.T) {
	ctrl := &fakeController{}
	sched := sequencer.NewScheduler(44100, nil)
	s := NewSurface(ctrl, sched, &transportLog{})

	require.NoError(t, s.Flush())
	require.Len(t, ctrl.batches, 1)
	assert.Len(t, ctrl.batches[0], len(Render(sched.Snapshot())))

	require.NoError(t, s.Flush())
	assert.Len(t, ctrl.batches, 1, "nothing changed")

	// kick step 0 is on in the default pattern; turning it off clears its pad
	require.True(t, sched.Step(0, 0))
	sched.ToggleStep(0, 0)
	require.NoError(t, s.Flush())
	require.Len(t, ctrl.batches, 2)
	row, col := StepToPad(0, 0)
	assert.Equal(t, []LEDUpdate{{Row: row, Col: col}}, ctrl.batches[1])
}

func TestSurfacePads(t *testing.T) {
	sched := sequencer.NewScheduler(44100, nil)
	log := &transportLog{}
	s := NewSurface(&fakeController{}, sched, log)

	row, col := StepToPad(2, 9)
	before := sched.Step(2, 9)
	s.HandlePad(PadEvent{Row: row, Col: col, Velocity: 100})
	assert.Equal(t, !before, sched.Step(2, 9))

	for _, c := range []int{ButtonStart, ButtonTempoUp, ButtonTempoDown, ButtonStop, 7} {
		s.HandlePad(PadEvent{Row: 8, Col: c, Velocity: 127})
	}
	assert.Equal(t, transportLog{"start", "up", "down", "stop"}, *log)

	sched.ClearTrack(0)
	s.HandlePad(PadEvent{Row: 8, Col: ButtonReset, Velocity: 127})
	assert.Equal(t, sequencer.DefaultPattern(), sched.Pattern())
}

func TestRenderShowsPlayhead(t *testing.T) {
	var st sequencer.State
	st.Pattern[1][4] = true
	leds := Render(st)
	row, col := StepToPad(1, 4)
	assert.Contains(t, leds, LEDUpdate{Row: row, Col: col, Color: trackColors[1]})

	st.Running = true
	st.Step = 4
	leds = Render(st)
	for tr := 0; tr < sequencer.NumTracks; tr++ {
		row, col := StepToPad(tr, 4)
		assert.Contains(t, leds, LEDUpdate{Row: row, Col: col, Color: playheadColor})
	}
	assert.Contains(t, leds, LEDUpdate{Row: 8, Col: ButtonStart, Color: runningColor, Mode: LEDPulse})
}

type fakeOut struct{ name string }

func (p fakeOut) Open() error             { return nil }
func (p fakeOut) Close() error            { return nil }
func (p fakeOut) IsOpen() bool            { return true }
func (p fakeOut) Number() int             { return 0 }
func (p fakeOut) String() string          { return p.name }
func (p fakeOut) Underlying() interface{} { return nil }
func (p fakeOut) Send([]byte) error       { return nil }

func TestDeviceManagerWatchesOutPort(t *testing.T) {
	var outs []drivers.Out
	dm := NewDeviceManager(nil, "TR-8S")
	dm.list = func(time.Duration) ([]drivers.In, []drivers.Out, error) { return nil, outs, nil }

	dm.scan()
	assert.Empty(t, dm.events)

	outs = []drivers.Out{fakeOut{"IAC Bus 1"}, fakeOut{"TR-8S:TR-8S MIDI 1 20:0"}}
	dm.scan()
	dm.scan()
	require.Len(t, dm.events, 1)
	ev := <-dm.events
	assert.Equal(t, OutPortAppeared, ev.Type)
	assert.Equal(t, "TR-8S:TR-8S MIDI 1 20:0", ev.ID)

	outs = outs[:1]
	dm.scan()
	require.Len(t, dm.events, 1)
	assert.Equal(t, OutPortVanished, (<-dm.events).Type)
}

type fakeIn struct{ name string }

func (p fakeIn) Open() error             { return nil }
func (p fakeIn) Close() error            { return nil }
func (p fakeIn) IsOpen() bool            { return true }
func (p fakeIn) Number() int             { return 0 }
func (p fakeIn) String() string          { return p.name }
func (p fakeIn) Underlying() interface{} { return nil }
func (p fakeIn) Listen(func([]byte, int32), drivers.ListenConfig) (func(), error) {
	return func() {}, nil
}

func TestDeviceManagerAttachesControllers(t *testing.T) {
	const lpx = "Launchpad X LPX MIDI"
	ins := []drivers.In{fakeIn{"IAC Bus 1"}, fakeIn{lpx}}
	outs := []drivers.Out{fakeOut{lpx}}

	dm := NewDeviceManager(nil, "")
	dm.list = func(time.Duration) ([]drivers.In, []drivers.Out, error) { return ins, outs, nil }
	var pairedOut drivers.Out
	connects := 0
	dm.connect = func(id string, in drivers.In, out drivers.Out) (Controller, error) {
		connects++
		pairedOut = out
		return &fakeController{pads: make(chan PadEvent)}, nil
	}

	dm.scan()
	dm.scan()
	assert.Equal(t, 1, connects)
	assert.Equal(t, outs[0], pairedOut)
	require.Len(t, dm.events, 1)
	ev := <-dm.events
	assert.Equal(t, DeviceConnected, ev.Type)
	assert.Equal(t, lpx, ev.ID)
	assert.NotNil(t, ev.Controller)

	ins = ins[:1]
	dm.scan()
	require.Len(t, dm.events, 1)
	ev = <-dm.events
	assert.Equal(t, DeviceDisconnected, ev.Type)
	assert.Equal(t, lpx, ev.ID)
	assert.Empty(t, dm.controllers)
}

func TestDeviceManagerScanTimeout(t *testing.T) {
	dm := NewDeviceManager(nil, "x")
	dm.list = func(time.Duration) ([]drivers.In, []drivers.Out, error) { return nil, nil, ErrScanTimeout }
	dm.scan()
	assert.Empty(t, dm.events)
}

func TestWantedControllers(t *testing.T) {
	dm := NewDeviceManager(nil, "")
	assert.True(t, dm.wanted("Launchpad X LPX MIDI"))
	assert.False(t, dm.wanted("Launchpad X LPX DAW"))
	assert.False(t, dm.wanted("IAC Bus 1"))

	dm = NewDeviceManager([]string{"launchpad x lpx midi"}, "")
	assert.True(t, dm.wanted("Launchpad X LPX MIDI"))
	assert.False(t, dm.wanted("Launchpad Mini MK3 LPMiniMK3 MIDI"))
}

func TestMatchPort(t *testing.T) {
	outs := []drivers.Out{fakeOut{"Launchpad X LPX MIDI"}, fakeOut{"Launchpad X LPX MIDI 2"}}
	assert.Equal(t, "Launchpad X LPX MIDI", matchPort(outs, "Launchpad X LPX MIDI").String())
	assert.Equal(t, "Launchpad X LPX MIDI 2", matchPort(outs, "midi 2").String())
	assert.Nil(t, matchPort(outs, "nope"))
	assert.Nil(t, matchPort(outs, ""))
}

func TestEventMessage(t *testing.T) {
	var ch, key, vel uint8
	on := Event{Type: NoteOn, Channel: 9, Note: 38, Velocity: 90}
	assert.True(t, on.Message().GetNoteOn(&ch, &key, &vel))
	assert.Equal(t, [3]uint8{9, 38, 90}, [3]uint8{ch, key, vel})
	assert.Equal(t, "on ch=10 note=38 vel=90", on.String())

	off := Event{Type: NoteOff, Channel: 9, Note: 38}
	assert.True(t, off.Message().GetNoteOff(&ch, &key, &vel))
	assert.Equal(t, "off ch=10 note=38 vel=0", off.String())
}
