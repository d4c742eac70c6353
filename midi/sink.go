package midi

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	gomidi "gitlab.com/gomidi/midi/v2"

	"go-syncstart/debug"
	"go-syncstart/hosttime"
	"go-syncstart/sequencer"
	"go-syncstart/synth"
)

// DefaultGate is how long a drum note is held before its NoteOff.
const DefaultGate = 100 * time.Millisecond

const defaultVelocity = 100

// Sink mirrors the synth's hits onto a MIDI output so external drum
// machines play along. Each hit is sent when it becomes audible.
type Sink struct {
	mu    sync.Mutex // guards send; NoteOffs arrive from timer goroutines
	send  func(gomidi.Message) error
	close func() error

	channel uint8
	kit     sequencer.DrumKit
	clock   hosttime.Clock
	gate    atomic.Int64 // time.Duration

	sent   uint64
	errors uint64
}

// OpenSink opens the named output port. channel is 1-16.
func OpenSink(portName string, channel int, kit sequencer.DrumKit, clock hosttime.Clock) (*Sink, error) {
	out, err := findOutPort(portName)
	if err != nil {
		return nil, err
	}
	send, err := gomidi.SendTo(out)
	if err != nil {
		return nil, errors.Wrapf(err, "open %q", portName)
	}
	s := NewSink(send, channel, kit, clock)
	s.close = out.Close
	debug.Log("midi", "sink open port=%q ch=%d kit=%s", portName, channel, kit.Name)
	return s, nil
}

// NewSink sends through an already opened port.
func NewSink(send func(gomidi.Message) error, channel int, kit sequencer.DrumKit, clock hosttime.Clock) *Sink {
	if channel < 1 || channel > 16 {
		channel = 10
	}
	s := &Sink{
		send:    send,
		channel: uint8(channel - 1),
		kit:     kit,
		clock:   clock,
	}
	s.SetGate(DefaultGate)
	return s
}

// SetGate changes how long later notes are held. Safe while Run is
// playing; a zero or negative gate means DefaultGate.
func (s *Sink) SetGate(d time.Duration) {
	if d <= 0 {
		d = DefaultGate
	}
	s.gate.Store(int64(d))
}

func (s *Sink) Gate() time.Duration {
	return time.Duration(s.gate.Load())
}

// Events returns the note on and note off for a hit on track.
func (s *Sink) Events(track int) (on, off Event, ok bool) {
	if track < 0 || track >= sequencer.NumTracks {
		return Event{}, Event{}, false
	}
	note := s.kit.Notes[track]
	on = Event{Type: NoteOn, Channel: s.channel, Note: note, Velocity: defaultVelocity}
	off = Event{Type: NoteOff, Channel: s.channel, Note: note}
	return on, off, true
}

// Run consumes hits until the channel closes or ctx is done.
func (s *Sink) Run(ctx context.Context, hits <-chan synth.Hit) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case h, ok := <-hits:
			if !ok {
				return nil
			}
			if err := s.waitUntil(ctx, h.At); err != nil {
				return err
			}
			s.Play(h.Track)
		}
	}
}

// Play sends a note on now and schedules its note off.
func (s *Sink) Play(track int) {
	on, off, ok := s.Events(track)
	if !ok {
		return
	}
	s.write(on)
	s.clock.AfterFunc(s.Gate(), func() { s.write(off) })
}

func (s *Sink) write(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.send(e.Message()); err != nil {
		s.errors++
		debug.LogEvery(50, "midi", "send %s: %v", e, err)
		return
	}
	s.sent++
}

func (s *Sink) waitUntil(ctx context.Context, at uint64) error {
	d := hosttime.Diff(at, s.clock.Now())
	if d <= 0 {
		return nil
	}
	fired := make(chan struct{})
	t := s.clock.AfterFunc(time.Duration(d), func() { close(fired) })
	select {
	case <-fired:
		return nil
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	}
}

// Stats returns how many messages were sent and how many failed.
func (s *Sink) Stats() (sent, failed uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent, s.errors
}

func (s *Sink) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}
