package transport

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"go-syncstart/clocksync"
)

// ErrClosed is returned by Send on a closed link.
var ErrClosed = errors.New("transport: link closed")

const eventBuffer = 256

// PipeLink is one end of an in-memory link. Messages are delivered in order
// and never lost unless a filter drops them.
type PipeLink struct {
	peer *PipeLink

	mu     sync.RWMutex
	events chan clocksync.LinkEvent
	closed bool
	filter func(payload []byte) bool
}

// Pipe returns two connected ends. The master end reports RoleMaster, the
// slave end RoleSlave; both see LinkConnected as their first event.
func Pipe() (master, slave *PipeLink) {
	master = &PipeLink{events: make(chan clocksync.LinkEvent, eventBuffer)}
	slave = &PipeLink{events: make(chan clocksync.LinkEvent, eventBuffer)}
	master.peer, slave.peer = slave, master
	master.events <- clocksync.LinkEvent{Kind: clocksync.LinkConnected, Role: clocksync.RoleMaster}
	slave.events <- clocksync.LinkEvent{Kind: clocksync.LinkConnected, Role: clocksync.RoleSlave}
	return master, slave
}

// SetFilter installs f on outgoing payloads; returning false drops the
// payload silently. Used to simulate loss.
func (l *PipeLink) SetFilter(f func(payload []byte) bool) {
	l.mu.Lock()
	l.filter = f
	l.mu.Unlock()
}

func (l *PipeLink) Send(payload []byte) error {
	l.mu.RLock()
	closed, filter := l.closed, l.filter
	l.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if filter != nil && !filter(payload) {
		return nil
	}
	buf := append([]byte(nil), payload...)
	if !l.peer.deliver(clocksync.LinkEvent{Kind: clocksync.LinkMessage, Payload: buf}) {
		return ErrClosed
	}
	return nil
}

func (l *PipeLink) Events() <-chan clocksync.LinkEvent {
	return l.events
}

// Close shuts this end and reports a disconnect to the peer.
func (l *PipeLink) Close() error {
	l.shutdown(nil)
	l.peer.shutdown(&clocksync.LinkEvent{Kind: clocksync.LinkDisconnected})
	return nil
}

func (l *PipeLink) deliver(ev clocksync.LinkEvent) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return false
	}
	l.events <- ev
	return true
}

func (l *PipeLink) shutdown(last *clocksync.LinkEvent) {
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

// PipeTransport hands out a fixed link on the first Search. Later searches
// block until ctx is done.
type PipeTransport struct {
	mu   sync.Mutex
	link clocksync.PeerLink
}

func NewPipeTransport(link clocksync.PeerLink) *PipeTransport {
	return &PipeTransport{link: link}
}

func (t *PipeTransport) Search(ctx context.Context) (clocksync.PeerLink, error) {
	t.mu.Lock()
	link := t.link
	t.link = nil
	t.mu.Unlock()
	if link != nil {
		return link, nil
	}
	<-ctx.Done()
	return nil, ctx.Err()
}
