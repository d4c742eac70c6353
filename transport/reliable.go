package transport

import (
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"go-syncstart/clocksync"
	"go-syncstart/debug"
	"go-syncstart/hosttime"
)

const (
	// RetransmitInterval is how long a payload waits for its ack before it
	// is sent again.
	RetransmitInterval = 100 * time.Millisecond
	// MaxRetransmits bounds the resends of one payload. After that the
	// peer is treated as gone.
	MaxRetransmits = 30
)

type frameKind uint8

const (
	frameData frameKind = iota + 1
	frameAck
)

// frame wraps every payload sent over a ReliableLink.
type frame struct {
	_       struct{} `cbor:",toarray"`
	Kind    frameKind
	Seq     uint32
	Payload []byte
}

var (
	frameEnc cbor.EncMode
	frameDec cbor.DecMode
)

func init() {
	var err error
	frameEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("transport: CBOR encoder initialization failed: " + err.Error())
	}
	frameDec, err = cbor.DecOptions{MaxArrayElements: 8, MaxNestedLevels: 2}.DecMode()
	if err != nil {
		panic("transport: CBOR decoder initialization failed: " + err.Error())
	}
}

func unframe(b []byte) (frame, error) {
	var f frame
	if err := frameDec.Unmarshal(b, &f); err != nil {
		return frame{}, errors.Wrap(err, "decoding frame")
	}
	if f.Kind != frameData && f.Kind != frameAck {
		return frame{}, errors.Errorf("unknown frame kind %d", f.Kind)
	}
	return f, nil
}

type outgoing struct {
	wire  []byte
	tries int
	timer *hosttime.Timer
}

// ReliableLink runs over a link that may lose packets. Each payload gets a
// sequence number and is resent until the peer acks it. Incoming payloads
// are acked, duplicates dropped, and delivered in send order.
//
// When a payload goes unacked for MaxRetransmits intervals the inner link
// is closed and the link reports LinkDisconnected.
type ReliableLink struct {
	inner  clocksync.PeerLink
	clock  hosttime.Clock
	events chan clocksync.LinkEvent

	mu      sync.Mutex
	closed  bool
	failed  bool
	nextOut uint32
	unacked map[uint32]*outgoing
	nextIn  uint32
	early   map[uint32][]byte
}

// Reliable wraps inner. clock drives the retransmit timers; nil means the
// host clock.
func Reliable(inner clocksync.PeerLink, clock hosttime.Clock) *ReliableLink {
	if clock == nil {
		clock = hosttime.Real()
	}
	l := &ReliableLink{
		inner:   inner,
		clock:   clock,
		events:  make(chan clocksync.LinkEvent, eventBuffer),
		unacked: make(map[uint32]*outgoing),
		nextIn:  1,
		early:   make(map[uint32][]byte),
	}
	go l.pump()
	return l
}

func (l *ReliableLink) Send(payload []byte) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.nextOut++
	seq := l.nextOut
	wire, err := frameEnc.Marshal(frame{Kind: frameData, Seq: seq, Payload: payload})
	if err != nil {
		l.nextOut--
		l.mu.Unlock()
		return errors.Wrap(err, "encoding frame")
	}
	l.unacked[seq] = &outgoing{
		wire:  wire,
		timer: l.clock.AfterFunc(RetransmitInterval, func() { l.retransmit(seq) }),
	}
	l.mu.Unlock()

	// a failed send is retried by the timer like a lost one
	if err := l.inner.Send(wire); err != nil {
		return errors.Wrapf(err, "sending seq %d", seq)
	}
	return nil
}

func (l *ReliableLink) Events() <-chan clocksync.LinkEvent {
	return l.events
}

// Close stops every retransmit and closes the inner link.
func (l *ReliableLink) Close() error {
	l.mu.Lock()
	l.stopLocked()
	l.mu.Unlock()
	return l.inner.Close()
}

// Pending returns the number of payloads still waiting for an ack.
func (l *ReliableLink) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.unacked)
}

func (l *ReliableLink) stopLocked() {
	l.closed = true
	for seq, o := range l.unacked {
		o.timer.Stop()
		delete(l.unacked, seq)
	}
}

func (l *ReliableLink) retransmit(seq uint32) {
	l.mu.Lock()
	o, ok := l.unacked[seq]
	if !ok || l.closed {
		l.mu.Unlock()
		return
	}
	o.tries++
	if o.tries > MaxRetransmits {
		debug.Log("link", "seq %d unacked after %d resends, dropping link", seq, MaxRetransmits)
		l.failed = true
		l.stopLocked()
		l.mu.Unlock()
		l.inner.Close()
		return
	}
	o.timer = l.clock.AfterFunc(RetransmitInterval, func() { l.retransmit(seq) })
	wire, tries := o.wire, o.tries
	l.mu.Unlock()

	debug.Log("link", "resending seq %d (try %d)", seq, tries)
	if err := l.inner.Send(wire); err != nil {
		debug.Log("link", "resend seq %d: %v", seq, err)
	}
}

// pump is the only writer of l.events.
func (l *ReliableLink) pump() {
	for ev := range l.inner.Events() {
		if ev.Kind != clocksync.LinkMessage {
			l.events <- ev
			continue
		}
		f, err := unframe(ev.Payload)
		if err != nil {
			debug.Log("link", "dropping packet: %v", err)
			continue
		}
		if f.Kind == frameAck {
			l.ack(f.Seq)
			continue
		}
		for _, p := range l.receive(f) {
			l.events <- clocksync.LinkEvent{Kind: clocksync.LinkMessage, Payload: p}
		}
	}

	l.mu.Lock()
	failed := l.failed
	l.stopLocked()
	l.mu.Unlock()
	if failed {
		l.events <- clocksync.LinkEvent{Kind: clocksync.LinkDisconnected}
	}
	close(l.events)
}

func (l *ReliableLink) ack(seq uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if o, ok := l.unacked[seq]; ok {
		o.timer.Stop()
		delete(l.unacked, seq)
	}
}

// receive acks f and returns the payloads that are now deliverable in
// order. Duplicates are acked again.
func (l *ReliableLink) receive(f frame) [][]byte {
	if wire, err := frameEnc.Marshal(frame{Kind: frameAck, Seq: f.Seq}); err == nil {
		if err := l.inner.Send(wire); err != nil {
			debug.Log("link", "ack seq %d: %v", f.Seq, err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case f.Seq < l.nextIn:
		debug.Log("link", "duplicate seq %d", f.Seq)
		return nil
	case f.Seq > l.nextIn:
		if _, ok := l.early[f.Seq]; !ok {
			l.early[f.Seq] = f.Payload
		}
		return nil
	}
	out := [][]byte{f.Payload}
	l.nextIn++
	for {
		p, ok := l.early[l.nextIn]
		if !ok {
			break
		}
		delete(l.early, l.nextIn)
		out = append(out, p)
		l.nextIn++
	}
	return out
}
