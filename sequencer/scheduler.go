package sequencer

import (
	"sync/atomic"

	"go-syncstart/debug"
)

// TriggerSink receives the triggers produced during Advance. frame is the
// absolute sample index within the block being rendered.
type TriggerSink interface {
	Trigger(frame, track int)
}

// Scheduler turns timestamped commands into sample-accurate transport
// changes and drives a looping 4×16 step sequencer.
//
// Enqueue, Start, Stop, SetStep and friends may be called from any
// goroutine. Advance must only be called from the render loop.
type Scheduler struct {
	sampleRate float64
	sink       TriggerSink
	queue      cmdQueue
	grid       grid
	state      atomic.Pointer[State]

	// render loop only
	running         bool
	tempo           float32
	step            int
	frameInStep     int
	stepFrameLength int
	triggerPending  bool
	frames          uint64
	due             []Command
}

// NewScheduler creates a stopped scheduler loaded with the default pattern.
// sink may be nil.
func NewScheduler(sampleRate float64, sink TriggerSink) *Scheduler {
	s := &Scheduler{
		sampleRate: sampleRate,
		sink:       sink,
		due:        make([]Command, 0, 16),
	}
	s.grid.load(DefaultPattern())
	s.publish()
	return s
}

func (s *Scheduler) SampleRate() float64 {
	return s.sampleRate
}

// Enqueue schedules a command at hostTime on the local clock. It never
// blocks for long and has no effect until Advance reaches the command.
// Commands enqueued after Close are dropped.
func (s *Scheduler) Enqueue(hostTime uint64, kind CommandKind, param float32) {
	if !s.queue.push(Command{HostTime: hostTime, Kind: kind, Param: param}) {
		debug.Log("sched", "%s at %d dropped, scheduler closed", kind, hostTime)
		return
	}
	debug.Log("sched", "queued %s at=%d param=%.2f", kind, hostTime, param)
}

// Start schedules the sequencer to start from step 0 at tempo.
func (s *Scheduler) Start(hostTime uint64, tempo float32) {
	s.Enqueue(hostTime, CommandStart, tempo)
}

// Stop schedules the sequencer to stop.
func (s *Scheduler) Stop(hostTime uint64) {
	s.Enqueue(hostTime, CommandStop, 0)
}

// Close discards pending commands. Later enqueues are ignored.
func (s *Scheduler) Close() {
	if n := s.queue.close(); n > 0 {
		debug.Log("sched", "closed with %d pending commands discarded", n)
	}
}

// Advance runs the commands due before the block [offset, offset+length)
// and the sequencer over the part of it that can be rendered before the
// next command inside the block. now is the host time of the block,
// outputLatency the time in ns until it is heard. It returns the number of
// samples from offset that were advanced; the caller renders them and calls
// again for the rest.
func (s *Scheduler) Advance(now uint64, outputLatency int64, offset, length int) int {
	if length <= 0 {
		return 0
	}
	var n int
	s.due, n = s.queue.takeDue(now, outputLatency, s.sampleRate, offset, length, s.due[:0])
	for _, c := range s.due {
		s.execute(c)
	}
	clear(s.due)

	if s.running && n > 0 {
		s.sequence(offset, n)
	}
	s.frames += uint64(n)
	s.publish()
	return n
}

func (s *Scheduler) execute(c Command) {
	switch c.Kind {
	case CommandStart:
		if s.running {
			return
		}
		s.tempo = c.Param
		s.step = 0
		s.frameInStep = 0
		s.stepFrameLength = StepFrameLength(s.sampleRate, c.Param)
		s.triggerPending = true
		s.running = true
	case CommandStop:
		if !s.running {
			return
		}
		s.running = false
	}
}

// sequence advances the step sequencer over length samples starting at
// startFrame, emitting triggers at step boundaries.
func (s *Scheduler) sequence(startFrame, length int) {
	for length > 0 {
		if s.triggerPending {
			s.emit(startFrame)
			s.triggerPending = false
		}
		n := min(length, max(s.stepFrameLength-s.frameInStep, 1))
		s.frameInStep += n
		startFrame += n
		length -= n
		if s.frameInStep >= s.stepFrameLength {
			s.frameInStep -= s.stepFrameLength
			s.step = (s.step + 1) % NumSteps
			s.triggerPending = true
		}
	}
}

func (s *Scheduler) emit(frame int) {
	if s.sink == nil {
		return
	}
	for t := 0; t < NumTracks; t++ {
		if s.grid.get(t, s.step) {
			s.sink.Trigger(frame, t)
		}
	}
}

func (s *Scheduler) publish() {
	s.state.Store(&State{
		Running:         s.running,
		Tempo:           s.tempo,
		Step:            s.step,
		FrameInStep:     s.frameInStep,
		StepFrameLength: s.stepFrameLength,
		TriggerPending:  s.triggerPending,
		Frames:          s.frames,
	})
}

// Snapshot returns the state as of the last Advance. It never blocks the
// render loop. The pattern and queue length are read fresh.
func (s *Scheduler) Snapshot() State {
	st := *s.state.Load()
	st.Pattern = s.grid.pattern()
	st.Pending = s.queue.len()
	return st
}

// SetStep turns a grid cell on or off. Out of range indices are ignored.
func (s *Scheduler) SetStep(track, step int, on bool) {
	s.grid.set(track, step, on)
}

// ToggleStep flips a grid cell and returns its new value.
func (s *Scheduler) ToggleStep(track, step int) bool {
	return s.grid.toggle(track, step)
}

// ClearTrack turns every step of track off.
func (s *Scheduler) ClearTrack(track int) {
	s.grid.clearTrack(track)
}

// Step reports a grid cell; false when out of range.
func (s *Scheduler) Step(track, step int) bool {
	return s.grid.get(track, step)
}

// Pattern returns a copy of the grid.
func (s *Scheduler) Pattern() Pattern {
	return s.grid.pattern()
}

// SetPattern replaces the whole grid.
func (s *Scheduler) SetPattern(p Pattern) {
	s.grid.load(p)
}

// ResetToDefaultPattern restores the default pattern.
func (s *Scheduler) ResetToDefaultPattern() {
	s.grid.load(DefaultPattern())
}
