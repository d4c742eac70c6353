// Package synth renders the step sequencer's triggers through a small drum
// kit, applying every trigger at the exact sample it was scheduled for.
package synth

import (
	"math"
	"sync"
	"sync/atomic"

	"go-syncstart/debug"
	"go-syncstart/hosttime"
	"go-syncstart/sequencer"
)

// Hit is a trigger as it was applied, for listeners outside the render
// loop.
type Hit struct {
	Track int
	Frame uint64 // samples since the synth started
	At    uint64 // local host time at which the hit is heard
}

// Synth owns a scheduler and a dispatcher and implements the audio render
// callback.
type Synth struct {
	sched    *sequencer.Scheduler
	dispatch *Dispatcher
	voices   []Voice
	gain     atomic.Uint32 // float32 bits; set from any goroutine

	mono   []float32
	frames uint64 // samples rendered before the current block

	// set per block for OnApply
	blockNow     uint64
	blockLatency int64

	mu        sync.Mutex
	listeners []chan Hit
	dropped   uint64
}

// New builds a synth with the default drum kit.
func New(sampleRate float64) *Synth {
	voices := NewKit(sampleRate)
	d := NewDispatcher(voices...)
	return newSynth(sequencer.NewScheduler(sampleRate, d), d, voices)
}

func newSynth(sched *sequencer.Scheduler, d *Dispatcher, voices []Voice) *Synth {
	s := &Synth{
		sched:    sched,
		dispatch: d,
		voices:   voices,
	}
	s.SetGain(0.5)
	d.OnApply = s.notify
	return s
}

// Scheduler returns the scheduler that drives this synth. Producers enqueue
// Start and Stop commands on it.
func (s *Synth) Scheduler() *sequencer.Scheduler {
	return s.sched
}

// SetGain sets the output gain. Safe to call while Process runs; the new
// value applies from the next block.
func (s *Synth) SetGain(g float32) {
	s.gain.Store(math.Float32bits(g))
}

func (s *Synth) Gain() float32 {
	return math.Float32frombits(s.gain.Load())
}

// Listen returns a channel receiving every applied trigger. Hits are
// dropped when the channel is full; the render loop never waits.
func (s *Synth) Listen(buffer int) <-chan Hit {
	ch := make(chan Hit, buffer)
	s.mu.Lock()
	s.listeners = append(s.listeners, ch)
	s.mu.Unlock()
	return ch
}

// Close stops the scheduler taking commands and closes listener channels.
func (s *Synth) Close() {
	s.sched.Close()
	s.mu.Lock()
	for _, ch := range s.listeners {
		close(ch)
	}
	s.listeners = nil
	s.mu.Unlock()
}

// Process renders one block. now is the host time of the block and
// outputLatency the time in ns until its first sample is heard. left and
// right must have the same length; both are overwritten.
func (s *Synth) Process(now uint64, outputLatency int64, left, right []float32) {
	n := min(len(left), len(right))
	if cap(s.mono) < n {
		s.mono = make([]float32, n)
	}
	mono := s.mono[:n]
	clear(mono)
	s.blockNow, s.blockLatency = now, outputLatency

	for offset := 0; offset < n; {
		processed := s.sched.Advance(now, outputLatency, offset, n-offset)
		if processed <= 0 {
			break
		}
		s.dispatch.Render(mono, offset, processed)
		offset += processed
	}

	gain := s.Gain()
	for i, v := range mono {
		v *= gain
		left[i] = v
		right[i] = v
	}
	s.frames += uint64(n)
}

func (s *Synth) notify(ev TriggerEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.listeners) == 0 {
		return
	}
	rate := s.sched.SampleRate()
	at := hosttime.AddSigned(s.blockNow, hosttime.SamplesToNanos(int64(ev.Frame), rate)+s.blockLatency)
	hit := Hit{Track: ev.Track, Frame: s.frames + uint64(ev.Frame), At: at}
	for _, ch := range s.listeners {
		select {
		case ch <- hit:
		default:
			s.dropped++
			if debug.Enabled() {
				debug.LogEvery(50, "render", "listener full, %d hits dropped", s.dropped)
			}
		}
	}
}
