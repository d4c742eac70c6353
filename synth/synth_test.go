package synth

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// logVoice records its triggers and, for track 0, the segments rendered.
type logVoice struct {
	track int
	log   *[]string
}

func (v *logVoice) Trigger() { *v.log = append(*v.log, fmt.Sprintf("t%d", v.track)) }
func (v *logVoice) Render(dst []float32) {
	if v.track == 0 {
		*v.log = append(*v.log, fmt.Sprintf("r%d", len(dst)))
	}
}

func logKit(n int) ([]Voice, *[]string) {
	log := &[]string{}
	voices := make([]Voice, n)
	for i := range voices {
		voices[i] = &logVoice{track: i, log: log}
	}
	return voices, log
}

// dcVoice writes 1 for a few samples after each trigger.
type dcVoice struct{ left int }

func (v *dcVoice) Trigger() { v.left = 5 }
func (v *dcVoice) Render(dst []float32) {
	for i := range dst {
		if v.left == 0 {
			return
		}
		dst[i] += 1
		v.left--
	}
}

func TestDispatcherSegments(t *testing.T) {
	voices, log := logKit(3)
	d := NewDispatcher(voices...)
	d.Trigger(10, 1)
	d.Trigger(10, 0)
	d.Trigger(0, 2)

	assert.Equal(t, []TriggerEvent{{0, 2}, {10, 0}, {10, 1}}, d.Pending())

	d.Render(make([]float32, 20), 0, 20)
	assert.Equal(t, []string{"t2", "r10", "t0", "t1", "r10"}, *log)
	assert.Empty(t, d.Pending())
}

func TestDispatcherWithOffset(t *testing.T) {
	voices, log := logKit(1)
	d := NewDispatcher(voices...)
	d.Trigger(450, 0)

	d.Render(make([]float32, 1000), 400, 600)
	assert.Equal(t, []string{"r50", "t0", "r550"}, *log)
}

func TestDispatcherDropsStrayEvents(t *testing.T) {
	voices, log := logKit(2)
	d := NewDispatcher(voices...)
	var applied []TriggerEvent
	d.OnApply = func(ev TriggerEvent) { applied = append(applied, ev) }

	d.Trigger(5, 7)  // no such voice
	d.Trigger(5, -1) // no such voice
	d.Trigger(25, 0) // after the block
	d.Render(make([]float32, 20), 0, 20)

	assert.Equal(t, []string{"r5", "r15"}, *log)
	assert.Empty(t, applied)
	assert.Empty(t, d.Pending())
}

func TestDispatcherIsSampleAccurate(t *testing.T) {
	v := &dcVoice{}
	d := NewDispatcher(v)
	buf := make([]float32, 64)
	d.Trigger(37, 0)
	d.Render(buf, 0, len(buf))

	for i, s := range buf {
		if i >= 37 && i < 42 {
			assert.Equal(t, float32(1), s, "sample %d", i)
		} else {
			assert.Zero(t, s, "sample %d", i)
		}
	}
}

func TestDrumVoice(t *testing.T) {
	d := NewNoise(1000)
	buf := make([]float32, 100)
	d.Render(buf)
	assert.Equal(t, make([]float32, 100), buf, "silent before trigger")

	d.Trigger()
	assert.True(t, d.Active())
	d.Render(buf)
	assert.False(t, d.Active(), "60ms at 1kHz is 60 samples")
	for _, s := range buf[60:] {
		assert.Zero(t, s)
	}
	assert.NotEqual(t, make([]float32, 60), buf[:60])

	kit := NewKit(44100)
	require.Len(t, kit, 4)
	assert.Equal(t, "zap", kit[2].(*Drum).Name())
}

const blockNow = uint64(20 * time.Second)

func TestProcessScenario(t *testing.T) {
	s := New(44100)
	hits := s.Listen(16)
	s.Scheduler().Start(0, 120)

	left := make([]float32, 6000)
	right := make([]float32, 6000)
	s.Process(blockNow, 0, left, right)

	var got []Hit
	for len(hits) > 0 {
		got = append(got, <-hits)
	}
	at := blockNow + uint64(time.Duration(5512)*time.Second/44100)
	assert.Equal(t, []Hit{
		{Track: 0, Frame: 0, At: blockNow},
		{Track: 2, Frame: 0, At: blockNow},
		{Track: 3, Frame: 0, At: blockNow},
		{Track: 3, Frame: 5512, At: at},
	}, got)
	assert.Equal(t, left, right)

	// second block keeps counting frames
	s.Process(blockNow, 0, left, right)
	for len(hits) > 0 {
		h := <-hits
		assert.GreaterOrEqual(t, h.Frame, uint64(6000))
	}
}

func TestProcessSplitsAtCommand(t *testing.T) {
	s := New(1000)
	hits := s.Listen(16)
	s.Scheduler().Start(blockNow+uint64(400*time.Millisecond), 120)

	left := make([]float32, 1000)
	right := make([]float32, 1000)
	s.Process(blockNow, 0, left, right)

	for i := 0; i < 400; i++ {
		require.Zero(t, left[i], "sample %d before start", i)
	}
	assert.NotEqual(t, make([]float32, 60), left[400:460])

	first := <-hits
	assert.Equal(t, uint64(400), first.Frame)
	assert.Equal(t, blockNow+uint64(400*time.Millisecond), first.At)
}

func TestListenerNeverBlocks(t *testing.T) {
	s := New(44100)
	hits := s.Listen(1)
	s.Scheduler().Start(0, 120)

	left := make([]float32, 6000)
	s.Process(blockNow, 0, left, make([]float32, 6000))
	assert.Len(t, hits, 1)

	s.Close()
	_, ok := <-hits
	assert.True(t, ok)
	_, ok = <-hits
	assert.False(t, ok)
}

func TestGainScalesOutput(t *testing.T) {
	render := func(gain float32) []float32 {
		s := New(1000)
		defer s.Close()
		s.SetGain(gain)
		s.Scheduler().Start(0, 120)
		left := make([]float32, 200)
		s.Process(blockNow, 0, left, make([]float32, 200))
		return left
	}
	full, quiet := render(1), render(0.25)
	assert.Equal(t, float32(0.5), New(1000).Gain())
	assert.NotEqual(t, make([]float32, 200), full)
	for i := range full {
		assert.InDelta(t, full[i]*0.25, quiet[i], 1e-6, "sample %d", i)
	}
}

func TestSetGainWhileRendering(t *testing.T) {
	s := New(1000)
	s.Scheduler().Start(0, 120)

	done := make(chan struct{})
	go func() {
		defer close(done)
		left, right := make([]float32, 64), make([]float32, 64)
		for i := 0; i < 200; i++ {
			s.Process(blockNow, 0, left, right)
		}
	}()
	for i := 0; i < 200; i++ {
		s.SetGain(float32(i) / 200)
	}
	<-done

	s.SetGain(0)
	left := make([]float32, 64)
	s.Process(blockNow, 0, left, make([]float32, 64))
	assert.Equal(t, make([]float32, 64), left)
}
