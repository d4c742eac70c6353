package transport

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/scgolang/osc"
	"golang.org/x/sync/errgroup"

	"go-syncstart/clocksync"
	"go-syncstart/debug"
	"go-syncstart/hosttime"
)

// OSC addresses.
const (
	AddressHello   = "/syncstart/hello"
	AddressWelcome = "/syncstart/welcome"
	AddressMsg     = "/syncstart/msg"
	AddressBye     = "/syncstart/bye"
)

// DefaultPort is the master's listening port.
const DefaultPort = 5776

// helloInterval is how often a slave repeats its hello until welcomed.
const helloInterval = 250 * time.Millisecond

// OSCTransport finds a peer over UDP. The side that listens accepts the
// first slave that says hello and becomes master; the side that dials
// becomes slave.
type OSCTransport struct {
	Listen bool   // true: master, accept a slave
	Host   string // master: listen host; slave: master host
	Port   int
	ID     string         // session identity; generated when empty
	Clock  hosttime.Clock // retransmit timers; host clock when nil
}

// Search opens the socket and returns immediately. The link reports
// LinkConnected once hello/welcome has been exchanged. UDP may drop or
// repeat datagrams, so the OSC link is wrapped in a ReliableLink.
func (t *OSCTransport) Search(ctx context.Context) (clocksync.PeerLink, error) {
	id := t.ID
	if id == "" {
		id = uuid.NewString()
	}
	port := t.Port
	if port == 0 {
		port = DefaultPort
	}
	var (
		link *OSCLink
		err  error
	)
	if t.Listen {
		link, err = listenMaster(ctx, t.Host, port, id)
	} else {
		link, err = dialSlave(ctx, t.Host, port, id)
	}
	if err != nil {
		return nil, err
	}
	return Reliable(link, t.Clock), nil
}

// OSCLink is a PeerLink carried in OSC blobs.
type OSCLink struct {
	id     string
	conn   *osc.UDPConn
	cancel context.CancelFunc

	mu       sync.RWMutex
	events   chan clocksync.LinkEvent
	closed   bool
	peerID   string
	peerAddr net.Addr // master only; slaves use the dialed connection
	role     clocksync.Role
}

func newOSCLink(id string, role clocksync.Role, cancel context.CancelFunc) *OSCLink {
	return &OSCLink{
		id:     id,
		role:   role,
		cancel: cancel,
		events: make(chan clocksync.LinkEvent, eventBuffer),
	}
}

func listenMaster(ctx context.Context, host string, port int, id string) (*OSCLink, error) {
	if host == "" {
		host = "0.0.0.0"
	}
	laddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, errors.Wrap(err, "resolving listen address")
	}
	ctx, cancel := context.WithCancel(ctx)
	conn, err := osc.ListenUDPContext(ctx, "udp", laddr)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "creating OSC server")
	}
	l := newOSCLink(id, clocksync.RoleMaster, cancel)
	l.conn = conn

	go l.serve(ctx, osc.Dispatcher{
		AddressHello: tolerant(l.handleHello),
		AddressMsg:   tolerant(l.handleMsg),
		AddressBye:   tolerant(l.handleBye),
	})
	debug.Log("link", "master %s listening on %s", id, laddr)
	return l, nil
}

func dialSlave(ctx context.Context, host string, port int, id string) (*OSCLink, error) {
	if host == "" {
		return nil, errors.New("no master host given")
	}
	local, err := net.ResolveUDPAddr("udp", "0.0.0.0:0")
	if err != nil {
		return nil, errors.Wrap(err, "creating listening address")
	}
	remote, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, errors.Wrap(err, "resolving master address")
	}
	ctx, cancel := context.WithCancel(ctx)
	conn, err := osc.DialUDPContext(ctx, "udp", local, remote)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "connecting to master")
	}
	l := newOSCLink(id, clocksync.RoleSlave, cancel)
	l.conn = conn

	go l.serve(ctx, osc.Dispatcher{
		AddressWelcome: tolerant(l.handleWelcome),
		AddressMsg:     tolerant(l.handleMsg),
		AddressBye:     tolerant(l.handleBye),
	})
	go l.announce(ctx)
	debug.Log("link", "slave %s dialing %s", id, remote)
	return l, nil
}

// tolerant logs handler errors instead of returning them, so a malformed
// packet does not stop Serve.
func tolerant(fn func(osc.Message) error) osc.Method {
	return osc.Method(func(m osc.Message) error {
		if err := fn(m); err != nil {
			debug.Log("link", "%s: %v", m.Address, err)
		}
		return nil
	})
}

// serve runs the OSC dispatcher until the socket closes or ctx ends.
func (l *OSCLink) serve(ctx context.Context, dispatcher osc.Dispatcher) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := l.conn.Serve(1, dispatcher); err != nil {
			return err
		}
		return errors.New("osc server stopped")
	})
	g.Go(func() error {
		<-gctx.Done()
		l.conn.Close()
		return gctx.Err()
	})
	err := g.Wait()
	debug.Log("link", "serve done: %v", err)

	l.mu.RLock()
	connected := l.peerID != ""
	l.mu.RUnlock()
	kind := clocksync.LinkDisconnected
	if !connected {
		kind = clocksync.LinkCancelled
	}
	l.shutdown(&clocksync.LinkEvent{Kind: kind})
}

// announce repeats the hello until a welcome arrives, like a slave
// announcing itself to an oscsync master.
func (l *OSCLink) announce(ctx context.Context) {
	host, portStr, err := net.SplitHostPort(l.conn.LocalAddr().String())
	if err != nil {
		debug.Log("link", "local addr: %v", err)
		return
	}
	lport, err := strconv.ParseInt(portStr, 10, 32)
	if err != nil {
		debug.Log("link", "parsing port %s: %v", portStr, err)
		return
	}
	if ip := net.ParseIP(host); ip == nil || ip.IsUnspecified() {
		host = "127.0.0.1"
	}

	ticker := time.NewTicker(helloInterval)
	defer ticker.Stop()
	for {
		l.mu.RLock()
		welcomed, closed := l.peerID != "", l.closed
		l.mu.RUnlock()
		if welcomed || closed {
			return
		}
		if err := l.conn.Send(osc.Message{
			Address: AddressHello,
			Arguments: osc.Arguments{
				osc.String(l.id),
				osc.String(host),
				osc.Int(int32(lport)),
			},
		}); err != nil {
			debug.Log("link", "sending hello: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (l *OSCLink) handleHello(m osc.Message) error {
	if expected, got := 3, len(m.Arguments); expected != got {
		return errors.Errorf("expected %d arguments, got %d", expected, got)
	}
	peerID, err := m.Arguments[0].ReadString()
	if err != nil {
		return errors.Wrap(err, "reading peer id")
	}
	host, err := m.Arguments[1].ReadString()
	if err != nil {
		return errors.Wrap(err, "reading host")
	}
	port, err := m.Arguments[2].ReadInt32()
	if err != nil {
		return errors.Wrap(err, "reading port")
	}

	l.mu.Lock()
	if l.peerID != "" && l.peerID != peerID {
		l.mu.Unlock()
		debug.Log("link", "ignoring hello from %s, already paired with %s", peerID, l.peerID)
		return nil
	}
	first := l.peerID == ""
	if first {
		addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(int(port))))
		if err != nil {
			l.mu.Unlock()
			return errors.Wrap(err, "resolving slave address")
		}
		l.peerID = peerID
		l.peerAddr = addr
	}
	addr := l.peerAddr
	l.mu.Unlock()

	// a repeated hello means our welcome was lost
	if err := l.conn.SendTo(addr, osc.Message{
		Address:   AddressWelcome,
		Arguments: osc.Arguments{osc.String(l.id)},
	}); err != nil {
		return errors.Wrapf(err, "sending welcome to %s", addr)
	}
	if first {
		debug.Log("link", "slave %s at %s", peerID, addr)
		l.deliver(clocksync.LinkEvent{Kind: clocksync.LinkConnected, Role: clocksync.RoleMaster})
	}
	return nil
}

func (l *OSCLink) handleWelcome(m osc.Message) error {
	if len(m.Arguments) < 1 {
		return errors.New("expected at least 1 argument to welcome")
	}
	peerID, err := m.Arguments[0].ReadString()
	if err != nil {
		return errors.Wrap(err, "reading master id")
	}
	l.mu.Lock()
	first := l.peerID == ""
	if first {
		l.peerID = peerID
	}
	l.mu.Unlock()
	if first {
		debug.Log("link", "welcomed by master %s", peerID)
		l.deliver(clocksync.LinkEvent{Kind: clocksync.LinkConnected, Role: clocksync.RoleSlave})
	}
	return nil
}

func (l *OSCLink) handleMsg(m osc.Message) error {
	if len(m.Arguments) < 1 {
		return errors.New("expected a blob argument")
	}
	payload, err := m.Arguments[0].ReadBlob()
	if err != nil {
		return errors.Wrap(err, "reading payload")
	}
	l.mu.RLock()
	paired := l.peerID != ""
	l.mu.RUnlock()
	if !paired {
		return nil
	}
	l.deliver(clocksync.LinkEvent{Kind: clocksync.LinkMessage, Payload: payload})
	return nil
}

func (l *OSCLink) handleBye(m osc.Message) error {
	debug.Log("link", "peer said bye")
	l.shutdown(&clocksync.LinkEvent{Kind: clocksync.LinkDisconnected})
	l.cancel()
	return nil
}

func (l *OSCLink) Send(payload []byte) error {
	l.mu.RLock()
	closed, addr, paired := l.closed, l.peerAddr, l.peerID != ""
	l.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if !paired {
		return errors.New("transport: no peer yet")
	}
	msg := osc.Message{
		Address:   AddressMsg,
		Arguments: osc.Arguments{osc.Blob(payload)},
	}
	if l.role == clocksync.RoleMaster {
		return errors.Wrapf(l.conn.SendTo(addr, msg), "sending to %s", addr)
	}
	return errors.Wrap(l.conn.Send(msg), "sending to master")
}

func (l *OSCLink) Events() <-chan clocksync.LinkEvent {
	return l.events
}

// Close says bye to the peer and releases the socket.
func (l *OSCLink) Close() error {
	l.mu.RLock()
	closed, addr, paired := l.closed, l.peerAddr, l.peerID != ""
	l.mu.RUnlock()
	if !closed && paired {
		bye := osc.Message{Address: AddressBye}
		var err error
		if l.role == clocksync.RoleMaster {
			err = l.conn.SendTo(addr, bye)
		} else {
			err = l.conn.Send(bye)
		}
		if err != nil {
			debug.Log("link", "sending bye: %v", err)
		}
	}
	l.shutdown(nil)
	l.cancel()
	return l.conn.Close()
}

func (l *OSCLink) deliver(ev clocksync.LinkEvent) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	l.events <- ev
}

func (l *OSCLink) shutdown(last *clocksync.LinkEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	if last != nil {
		select {
		case l.events <- *last:
		default:
		}
	}
	l.closed = true
	close(l.events)
}
