package clocksync

import (
	"fmt"

	"github.com/pkg/errors"

	"go-syncstart/hosttime"
)

var (
	ErrNotMaster    = errors.New("clocksync: only the master can send commands")
	ErrNotConnected = errors.New("clocksync: not connected")
	ErrNoTransport  = errors.New("clocksync: no transport available")
	ErrShortMessage = errors.New("clocksync: truncated message")
	ErrUnknownKind  = errors.New("clocksync: unknown message kind")
)

// Role is the side of the link this engine plays.
type Role int

const (
	RoleNone Role = iota
	RoleMaster
	RoleSlave
)

func (r Role) String() string {
	switch r {
	case RoleMaster:
		return "master"
	case RoleSlave:
		return "slave"
	}
	return "none"
}

// State of the connection state machine.
type State int

const (
	StateDisconnected State = iota
	StateSearching
	StateConnected
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateSearching:
		return "searching"
	case StateConnected:
		return "connected"
	case StateCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// CommandKind identifies a transport command.
type CommandKind uint8

const (
	CommandStart CommandKind = iota
	CommandStop
)

func (k CommandKind) String() string {
	if k == CommandStart {
		return "start"
	}
	if k == CommandStop {
		return "stop"
	}
	return fmt.Sprintf("command(%d)", uint8(k))
}

// Command is a Start or Stop at a host time. HostTime 0 means immediately.
// Tempo is only meaningful for Start.
type Command struct {
	HostTime uint64
	Kind     CommandKind
	Tempo    float32
}

// ClockSample is one beacon round trip as seen by the slave.
type ClockSample struct {
	LocalReceipt uint64 // slave clock, when the reply arrived
	RemoteTime   uint64 // master clock, when the reply was sent
	Latency      int64  // one-way estimate, ns
	RoundTrip    int64  // ns
}

// Offset returns local − remote implied by this sample: the master stamped
// RemoteTime one latency after the request left the slave.
func (s ClockSample) Offset() int64 {
	localSend := hosttime.AddSigned(s.LocalReceipt, -s.RoundTrip)
	return hosttime.Diff(hosttime.AddSigned(localSend, s.Latency), s.RemoteTime)
}

// ClockOffset converts remote host times into the local domain.
type ClockOffset struct {
	Offset           int64 // local − remote, ns
	WorstCaseLatency int64 // ns
	Samples          int   // samples kept after outlier rejection
}

// Translate maps a remote host time into the local clock domain.
// Zero stays zero: it means "immediately" in both domains.
func (o ClockOffset) Translate(remote uint64) uint64 {
	if remote == 0 {
		return 0
	}
	return hosttime.AddSigned(remote, o.Offset)
}

// Inverse maps a local host time back into the remote domain.
func (o ClockOffset) Inverse(local uint64) uint64 {
	if local == 0 {
		return 0
	}
	return hosttime.AddSigned(local, -o.Offset)
}
