// Package app ties the clock sync engine to the local scheduler: commands
// issued here are sent to the peer and enqueued locally for the same
// instant, and commands received from the peer are enqueued in the local
// clock domain.
package app

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"go-syncstart/clocksync"
	"go-syncstart/debug"
	"go-syncstart/hosttime"
	"go-syncstart/sequencer"
)

// NoticeKind says what changed on the link.
type NoticeKind int

const (
	NoticeConnected NoticeKind = iota
	NoticeLost
	NoticeCancelled
	NoticeStart
	NoticeStop
)

func (k NoticeKind) String() string {
	switch k {
	case NoticeConnected:
		return "connected"
	case NoticeLost:
		return "lost"
	case NoticeCancelled:
		return "cancelled"
	case NoticeStart:
		return "start"
	case NoticeStop:
		return "stop"
	}
	return "unknown"
}

// Notice is a link event for the UI.
type Notice struct {
	Kind     NoticeKind
	Role     clocksync.Role
	HostTime uint64 // local clock, start/stop only
	Tempo    float32
}

// Status is everything the UI shows.
type Status struct {
	Role        clocksync.Role
	State       clocksync.State
	Connected   bool
	Offset      clocksync.ClockOffset
	HasOffset   bool
	PeerLatency int64
	Tempo       float32
	Sequencer   sequencer.State
}

// Session owns the engine and the scheduler it feeds.
type Session struct {
	clock  hosttime.Clock
	sched  *sequencer.Scheduler
	engine *clocksync.Engine
	lead   time.Duration // local start margin when not connected

	mu    sync.Mutex
	tempo float32

	notices chan Notice
}

// New creates a session. Pass the engine's transport; it may be nil for a
// local-only session.
func New(cfg clocksync.Config, clock hosttime.Clock, transport clocksync.Transport, sched *sequencer.Scheduler, tempo float32) *Session {
	s := &Session{
		clock:   clock,
		sched:   sched,
		lead:    cfg.StartLead,
		tempo:   sequencer.ClampTempo(tempo),
		notices: make(chan Notice, 32),
	}
	s.engine = clocksync.NewEngine(cfg, clock, transport, s)
	return s
}

func (s *Session) Engine() *clocksync.Engine {
	return s.engine
}

func (s *Session) Scheduler() *sequencer.Scheduler {
	return s.sched
}

// Notices delivers link events. Events are dropped when nobody reads.
func (s *Session) Notices() <-chan Notice {
	return s.notices
}

// SetOutputLatency shares the local audio output latency with the engine.
func (s *Session) SetOutputLatency(d time.Duration) {
	s.engine.SetLatency(int64(d))
}

// Connect starts looking for the peer.
func (s *Session) Connect(ctx context.Context) {
	s.engine.SearchPeer(ctx)
}

func (s *Session) Disconnect() {
	s.engine.Disconnect()
}

func (s *Session) Tempo() float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tempo
}

// SetTempo sets the tempo used by the next start.
func (s *Session) SetTempo(bpm float32) {
	s.mu.Lock()
	s.tempo = sequencer.ClampTempo(bpm)
	s.mu.Unlock()
}

// StartAt starts both sides at a common instant. A master stamps the
// command ahead of now by the engine's lead so the slave has it in time.
// A slave cannot start a connected session. It returns the local start
// time.
func (s *Session) StartAt() (uint64, error) {
	tempo := s.Tempo()
	at, err := s.command(func(at uint64) error { return s.engine.SendStartCommand(at, tempo) })
	if err != nil {
		return 0, err
	}
	s.sched.Start(at, tempo)
	debug.Log("app", "start at=%d tempo=%.1f", at, tempo)
	return at, nil
}

// StopAt stops both sides at a common instant.
func (s *Session) StopAt() (uint64, error) {
	at, err := s.command(s.engine.SendStopCommand)
	if err != nil {
		return 0, err
	}
	s.sched.Stop(at)
	debug.Log("app", "stop at=%d", at)
	return at, nil
}

func (s *Session) command(send func(at uint64) error) (uint64, error) {
	switch {
	case s.engine.IsMaster():
		at := hosttime.AddSigned(s.clock.Now(), int64(s.engine.StartLead()))
		if err := send(at); err != nil {
			return 0, err
		}
		return at, nil
	case s.engine.IsConnected():
		return 0, clocksync.ErrNotMaster
	default:
		return hosttime.AddSigned(s.clock.Now(), int64(s.lead)), nil
	}
}

// Start, Stop and NudgeTempo serve the controller's transport buttons.

func (s *Session) Start() {
	if _, err := s.StartAt(); err != nil {
		debug.Log("app", "start: %v", err)
	}
}

func (s *Session) Stop() {
	if _, err := s.StopAt(); err != nil {
		debug.Log("app", "stop: %v", err)
	}
}

func (s *Session) NudgeTempo(delta float32) {
	s.SetTempo(s.Tempo() + delta)
}

// Status collects the current engine and sequencer state.
func (s *Session) Status() Status {
	st := Status{
		Role:      s.engine.Role(),
		State:     s.engine.State(),
		Connected: s.engine.IsConnected(),
		Tempo:     s.Tempo(),
		Sequencer: s.sched.Snapshot(),
	}
	st.Offset, st.HasOffset = s.engine.Offset()
	st.PeerLatency, _ = s.engine.PeerLatency()
	return st
}

// Close drops the link and stops the scheduler taking commands.
func (s *Session) Close() error {
	s.engine.Disconnect()
	s.sched.Close()
	return nil
}

func (s *Session) notify(n Notice) {
	select {
	case s.notices <- n:
	default:
		debug.Log("app", "notice dropped: %s", n.Kind)
	}
}

// Observer

func (s *Session) StartCommandReceived(hostTime uint64, tempo float32) {
	s.SetTempo(tempo)
	s.sched.Start(hostTime, tempo)
	s.notify(Notice{Kind: NoticeStart, HostTime: hostTime, Tempo: tempo})
}

func (s *Session) StopCommandReceived(hostTime uint64) {
	s.sched.Stop(hostTime)
	s.notify(Notice{Kind: NoticeStop, HostTime: hostTime})
}

func (s *Session) ConnectionEstablished(role clocksync.Role) {
	debug.Log("app", "connected as %s", role)
	s.notify(Notice{Kind: NoticeConnected, Role: role})
}

func (s *Session) ConnectionLost() {
	s.notify(Notice{Kind: NoticeLost})
}

func (s *Session) ConnectionCancelled() {
	s.notify(Notice{Kind: NoticeCancelled})
}

// ErrNotConnected is returned by Wait when the link ends before connecting.
var ErrNotConnected = errors.New("peer link ended before connecting")

// WaitConnected blocks until the engine connects, the search fails, or ctx
// is done. Notices read while waiting are not redelivered.
func (s *Session) WaitConnected(ctx context.Context) (clocksync.Role, error) {
	for {
		select {
		case <-ctx.Done():
			return clocksync.RoleNone, ctx.Err()
		case n := <-s.notices:
			switch n.Kind {
			case NoticeConnected:
				return n.Role, nil
			case NoticeLost, NoticeCancelled:
				return clocksync.RoleNone, errors.Wrap(ErrNotConnected, n.Kind.String())
			}
		}
	}
}
