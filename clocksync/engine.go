package clocksync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"go-syncstart/debug"
	"go-syncstart/hosttime"
)

// Config tunes the beacon exchange.
type Config struct {
	BeaconCount   int           // samples per connection
	BeaconTimeout time.Duration // wait for one reply before re-sending
	BeaconRetries int           // consecutive timeouts tolerated
	OutlierFactor float64       // drop round trips above factor × median; 0 disables
	StartLead     time.Duration // extra margin added by StartLead
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		BeaconCount:   8,
		BeaconTimeout: 500 * time.Millisecond,
		BeaconRetries: 3,
		OutlierFactor: 3.0,
		StartLead:     100 * time.Millisecond,
	}
}

// Engine is the clock sync state machine for one side of a link:
// Disconnected → Searching → Connected(role) → Disconnected | Cancelled.
type Engine struct {
	cfg       Config
	clock     hosttime.Clock
	transport Transport
	observer  Observer

	// published once per connection, nil until the handshake completes
	offset atomic.Pointer[ClockOffset]

	mu     sync.Mutex
	state  State
	role   Role
	ready  bool   // handshake finished and surfaced to the observer
	gen    uint64 // bumped on every teardown; stale callbacks compare against it
	link   PeerLink
	cancel context.CancelFunc

	est      *estimator
	seq      uint32
	attempts int
	timer    *hosttime.Timer

	latency           int64 // local output latency, ns
	peerLatency       int64
	peerOutputLatency int64
}

// NewEngine creates an engine in the Disconnected state. transport may be
// nil, in which case SearchPeer reports a cancelled connection.
func NewEngine(cfg Config, clock hosttime.Clock, transport Transport, observer Observer) *Engine {
	def := DefaultConfig()
	if cfg.BeaconCount <= 0 {
		cfg.BeaconCount = def.BeaconCount
	}
	if cfg.BeaconTimeout <= 0 {
		cfg.BeaconTimeout = def.BeaconTimeout
	}
	if cfg.BeaconRetries < 0 {
		cfg.BeaconRetries = 0
	}
	if clock == nil {
		clock = hosttime.Real()
	}
	if observer == nil {
		observer = ObserverFuncs{}
	}
	return &Engine{
		cfg:       cfg,
		clock:     clock,
		transport: transport,
		observer:  observer,
	}
}

// SearchPeer starts looking for a peer. It returns immediately; the outcome
// arrives through the Observer. Calling it while searching or connected is
// a no-op.
func (e *Engine) SearchPeer(ctx context.Context) {
	e.mu.Lock()
	if e.state == StateSearching || e.state == StateConnected {
		e.mu.Unlock()
		debug.Log("sync", "searchPeer ignored in state %s", e.state)
		return
	}
	if e.transport == nil {
		e.state = StateCancelled
		e.mu.Unlock()
		debug.Log("sync", "searchPeer: %v", ErrNoTransport)
		e.observer.ConnectionCancelled()
		return
	}
	e.gen++
	gen := e.gen
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.state = StateSearching
	e.role = RoleNone
	e.ready = false
	e.mu.Unlock()

	debug.Log("sync", "searching (gen=%d)", gen)
	go func() {
		link, err := e.transport.Search(ctx)
		e.attach(gen, link, err)
	}()
}

func (e *Engine) attach(gen uint64, link PeerLink, err error) {
	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		if link != nil {
			link.Close()
		}
		return
	}
	if err != nil || link == nil {
		if err == nil {
			err = ErrNoTransport
		}
		actions := e.teardown(StateCancelled, true)
		e.mu.Unlock()
		debug.Log("sync", "search failed: %v", err)
		run(actions)
		return
	}
	e.link = link
	e.mu.Unlock()

	go e.readLoop(gen, link)
}

func (e *Engine) readLoop(gen uint64, link PeerLink) {
	for ev := range link.Events() {
		e.handle(gen, ev)
	}
	e.handle(gen, LinkEvent{Kind: LinkDisconnected})
}

func (e *Engine) handle(gen uint64, ev LinkEvent) {
	var actions []func()

	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		return
	}
	switch ev.Kind {
	case LinkConnected:
		actions = e.onConnected(gen, ev.Role)
	case LinkMessage:
		actions = e.onMessage(gen, ev.Payload)
	case LinkDisconnected:
		debug.Log("sync", "link lost (ready=%v)", e.ready)
		actions = e.teardown(StateDisconnected, true)
	case LinkCancelled:
		actions = e.teardown(StateCancelled, true)
	}
	e.mu.Unlock()

	run(actions)
}

// onConnected runs with e.mu held.
func (e *Engine) onConnected(gen uint64, role Role) []func() {
	if e.role != RoleNone {
		return nil
	}
	e.role = role
	debug.Log("sync", "link up, role=%s", role)

	switch role {
	case RoleSlave:
		e.est = newEstimator(e.cfg.BeaconCount, e.cfg.OutlierFactor)
		e.attempts = 0
		return e.sendBeacon(gen)
	case RoleMaster:
		// wait for beacons, then the latency report
		return nil
	}
	debug.Log("sync", "link reported no role, dropping it")
	return e.teardown(StateDisconnected, true)
}

// sendBeacon arms the reply timeout and returns the send as an action so
// the stamp is taken as close to the wire as possible. e.mu held.
func (e *Engine) sendBeacon(gen uint64) []func() {
	e.seq++
	seq := e.seq
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = e.clock.AfterFunc(e.cfg.BeaconTimeout, func() { e.beaconTimedOut(gen, seq) })

	link := e.link
	return []func(){func() {
		payload, err := EncodeBeaconRequest(BeaconRequest{Seq: seq, SlaveSend: e.clock.Now()})
		if err != nil {
			debug.Log("sync", "beacon encode: %v", err)
			return
		}
		e.send(link, payload)
	}}
}

func (e *Engine) beaconTimedOut(gen uint64, seq uint32) {
	var actions []func()

	e.mu.Lock()
	if gen != e.gen || seq != e.seq || e.est == nil || e.ready {
		e.mu.Unlock()
		return
	}
	e.attempts++
	if e.attempts > e.cfg.BeaconRetries {
		debug.Log("sync", "beacon %d unanswered after %d attempts, giving up", seq, e.attempts)
		actions = e.teardown(StateDisconnected, true)
	} else {
		debug.Log("sync", "beacon %d timed out, retry %d", seq, e.attempts)
		actions = e.sendBeacon(gen)
	}
	e.mu.Unlock()

	run(actions)
}

// onMessage runs with e.mu held.
func (e *Engine) onMessage(gen uint64, payload []byte) []func() {
	receipt := e.clock.Now()
	msg, err := Decode(payload)
	if err != nil {
		debug.Log("sync", "dropping message: %v", err)
		return nil
	}

	switch msg.Kind {
	case MsgBeaconRequest:
		if e.role != RoleMaster {
			return nil
		}
		req := *msg.Request
		link := e.link
		return []func(){func() {
			payload, err := EncodeBeaconReply(BeaconReply{
				Seq:           req.Seq,
				SlaveSend:     req.SlaveSend,
				MasterReceipt: receipt,
				MasterReply:   e.clock.Now(),
			})
			if err != nil {
				debug.Log("sync", "beacon reply encode: %v", err)
				return
			}
			e.send(link, payload)
		}}

	case MsgBeaconReply:
		return e.onBeaconReply(gen, *msg.Reply, receipt)

	case MsgLatencyReport:
		if e.role != RoleMaster {
			return nil
		}
		e.peerLatency = msg.Report.WorstCase
		e.peerOutputLatency = msg.Report.OutputLatency
		debug.Log("sync", "peer latency worst=%dns output=%dns", e.peerLatency, e.peerOutputLatency)
		if e.ready {
			return nil
		}
		e.ready = true
		e.state = StateConnected
		return []func(){func() { e.observer.ConnectionEstablished(RoleMaster) }}

	case MsgStart, MsgStop:
		if e.role != RoleSlave {
			debug.Log("sync", "ignoring %s from a slave", msg.Command.Kind)
			return nil
		}
		cmd := *msg.Command
		local := e.EstimatedLocalHostTime(cmd.HostTime)
		debug.Log("sync", "%s remote=%d local=%d tempo=%.2f", cmd.Kind, cmd.HostTime, local, cmd.Tempo)
		if cmd.Kind == CommandStart {
			return []func(){func() { e.observer.StartCommandReceived(local, cmd.Tempo) }}
		}
		return []func(){func() { e.observer.StopCommandReceived(local) }}
	}
	return nil
}

func (e *Engine) onBeaconReply(gen uint64, rep BeaconReply, receipt uint64) []func() {
	if e.role != RoleSlave || e.est == nil || e.ready {
		return nil
	}
	if rep.Seq != e.seq {
		debug.Log("sync", "stale beacon reply seq=%d want=%d", rep.Seq, e.seq)
		return nil
	}
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.attempts = 0
	s := e.est.add(rep.SlaveSend, receipt, rep.MasterReply)
	debug.Log("sync", "sample %d rtt=%dns offset=%dns", len(e.est.samples), s.RoundTrip, s.Offset())
	if !e.est.done() {
		return e.sendBeacon(gen)
	}

	off, err := e.est.finalize()
	if err != nil {
		debug.Log("sync", "offset: %v", err)
		return e.teardown(StateDisconnected, true)
	}
	e.offset.Store(&off)
	e.est = nil
	e.ready = true
	e.state = StateConnected
	debug.Log("sync", "offset=%dns worst=%dns from %d samples", off.Offset, off.WorstCaseLatency, off.Samples)

	link := e.link
	report := LatencyReport{WorstCase: off.WorstCaseLatency, OutputLatency: e.latency}
	return []func(){
		func() {
			payload, err := EncodeLatencyReport(report)
			if err != nil {
				debug.Log("sync", "latency report encode: %v", err)
				return
			}
			e.send(link, payload)
		},
		func() { e.observer.ConnectionEstablished(RoleSlave) },
	}
}

// teardown drops every per-connection resource and moves to next. The
// returned actions close the link and, when notify is set, tell the
// observer. e.mu held.
func (e *Engine) teardown(next State, notify bool) []func() {
	hadPeer := e.role != RoleNone
	e.gen++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.est = nil
	e.offset.Store(nil)
	link := e.link
	e.link = nil
	cancel := e.cancel
	e.cancel = nil
	e.state = next
	e.role = RoleNone
	e.ready = false
	e.peerLatency = 0
	e.peerOutputLatency = 0

	var actions []func()
	if cancel != nil {
		actions = append(actions, cancel)
	}
	if link != nil {
		actions = append(actions, func() { link.Close() })
	}
	if notify {
		if next == StateCancelled || !hadPeer {
			actions = append(actions, e.observer.ConnectionCancelled)
		} else {
			actions = append(actions, e.observer.ConnectionLost)
		}
	}
	return actions
}

// Disconnect tears the connection down. Safe to call at any time, any
// number of times, including from an Observer callback. A disconnect
// requested locally is not reported back as a lost connection.
func (e *Engine) Disconnect() {
	e.mu.Lock()
	actions := e.teardown(StateDisconnected, false)
	e.mu.Unlock()

	debug.Log("sync", "disconnect")
	run(actions)
}

// SendStartCommand asks the slave to start at hostTime (master clock) with
// the given tempo.
func (e *Engine) SendStartCommand(hostTime uint64, tempo float32) error {
	return e.sendCommand(Command{HostTime: hostTime, Kind: CommandStart, Tempo: tempo})
}

// SendStopCommand asks the slave to stop at hostTime (master clock).
func (e *Engine) SendStopCommand(hostTime uint64) error {
	return e.sendCommand(Command{HostTime: hostTime, Kind: CommandStop})
}

func (e *Engine) sendCommand(c Command) error {
	e.mu.Lock()
	role, ready, link := e.role, e.ready, e.link
	e.mu.Unlock()

	if role == RoleSlave {
		return ErrNotMaster
	}
	if !ready || link == nil {
		return ErrNotConnected
	}
	payload, err := EncodeCommand(c)
	if err != nil {
		return err
	}
	if err := link.Send(payload); err != nil {
		return errors.Wrapf(err, "sending %s", c.Kind)
	}
	debug.Log("sync", "sent %s at %d", c.Kind, c.HostTime)
	return nil
}

// EstimatedLocalHostTime translates a host time from the peer's clock into
// this one. Before an offset has been measured it returns hostTime
// unchanged.
func (e *Engine) EstimatedLocalHostTime(hostTime uint64) uint64 {
	off := e.offset.Load()
	if off == nil {
		return hostTime
	}
	return off.Translate(hostTime)
}

// Offset returns the published clock offset, if any.
func (e *Engine) Offset() (ClockOffset, bool) {
	off := e.offset.Load()
	if off == nil {
		return ClockOffset{}, false
	}
	return *off, true
}

// StartLead is how far ahead of now a master should stamp a Start so the
// slave receives it before it is due.
func (e *Engine) StartLead() time.Duration {
	e.mu.Lock()
	worst := e.peerLatency
	e.mu.Unlock()
	if off := e.offset.Load(); off != nil && off.WorstCaseLatency > worst {
		worst = off.WorstCaseLatency
	}
	return time.Duration(worst) + e.cfg.StartLead
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) Role() Role {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.role
}

// IsConnected reports whether the handshake has completed.
func (e *Engine) IsConnected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready
}

func (e *Engine) IsMaster() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready && e.role == RoleMaster
}

// SetLatency records the local audio output latency in nanoseconds. It is
// shared with the master at the end of the handshake.
func (e *Engine) SetLatency(ns int64) {
	e.mu.Lock()
	e.latency = ns
	e.mu.Unlock()
}

func (e *Engine) Latency() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.latency
}

// PeerLatency returns the worst-case and output latency the slave reported.
// Zero on the slave side.
func (e *Engine) PeerLatency() (worst, output int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peerLatency, e.peerOutputLatency
}

func (e *Engine) send(link PeerLink, payload []byte) {
	if link == nil {
		return
	}
	if err := link.Send(payload); err != nil {
		debug.Log("sync", "send: %v", err)
	}
}

func run(actions []func()) {
	for _, a := range actions {
		a()
	}
}
