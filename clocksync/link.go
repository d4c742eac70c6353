package clocksync

import "context"

// LinkEventKind classifies what a PeerLink reports.
type LinkEventKind int

const (
	LinkConnected LinkEventKind = iota
	LinkMessage
	LinkDisconnected
	LinkCancelled
)

// LinkEvent is delivered by a PeerLink, one at a time, in arrival order.
type LinkEvent struct {
	Kind    LinkEventKind
	Role    Role   // set on LinkConnected
	Payload []byte // set on LinkMessage
}

// PeerLink is an ordered, reliable byte channel to exactly one peer.
// Events is closed once the link is gone.
type PeerLink interface {
	Send(payload []byte) error
	Events() <-chan LinkEvent
	Close() error
}

// Transport finds a peer. The returned link reports LinkConnected with the
// negotiated role once the peer is reachable.
type Transport interface {
	Search(ctx context.Context) (PeerLink, error)
}
