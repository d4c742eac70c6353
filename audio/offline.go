package audio

import (
	"go-syncstart/hosttime"
)

// Offline drives a Renderer block by block against a fake clock that
// advances exactly one block per call.
type Offline struct {
	r          Renderer
	clock      *hosttime.FakeClock
	start      uint64
	sampleRate float64
	latency    int64
	frames     int64

	Left, Right []float32
}

// NewOffline renders blockFrames per block starting at host time start.
func NewOffline(r Renderer, start uint64, sampleRate float64, blockFrames int, latency int64) *Offline {
	return &Offline{
		r:          r,
		clock:      hosttime.Fake(start),
		start:      start,
		sampleRate: sampleRate,
		latency:    latency,
		Left:       make([]float32, blockFrames),
		Right:      make([]float32, blockFrames),
	}
}

// Clock is the simulated host clock. Commands for the renderer should be
// stamped against it.
func (o *Offline) Clock() *hosttime.FakeClock {
	return o.clock
}

// Frames returns the number of frames rendered so far.
func (o *Offline) Frames() int64 {
	return o.frames
}

// Next renders one block into Left and Right and moves the clock past it.
// It returns the host time the block was stamped with.
func (o *Offline) Next() uint64 {
	now := o.clock.Now()
	o.r.Process(now, o.latency, o.Left, o.Right)
	o.frames += int64(len(o.Left))
	// derive from the frame count so rounding never accumulates
	o.clock.Set(hosttime.AddSigned(o.start, hosttime.SamplesToNanos(o.frames, o.sampleRate)))
	return now
}

// Run renders n blocks, calling each after every block when it is not nil.
func (o *Offline) Run(n int, each func(now uint64, left, right []float32)) {
	for i := 0; i < n; i++ {
		now := o.Next()
		if each != nil {
			each(now, o.Left, o.Right)
		}
	}
}
