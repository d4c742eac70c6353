package midi

import (
	"context"
	"strings"
	"sync"
	"time"

	"gitlab.com/gomidi/midi/v2/drivers"

	"go-syncstart/debug"
)

type DeviceEventType int

const (
	DeviceConnected DeviceEventType = iota
	DeviceDisconnected
	OutPortAppeared
	OutPortVanished
)

// DeviceEvent reports a controller or the note output coming or going.
// Controller is set only for DeviceConnected.
type DeviceEvent struct {
	Type       DeviceEventType
	Controller Controller
	ID         string
}

// DeviceManager polls the MIDI ports, attaches grid controllers as they
// are plugged in and watches the configured note output.
type DeviceManager struct {
	mu          sync.Mutex
	controllers map[string]Controller
	events      chan DeviceEvent
	interval    time.Duration

	allowed []string // controller port names; empty accepts any Launchpad
	outPort string
	outSeen bool

	list    func(time.Duration) ([]drivers.In, []drivers.Out, error)
	connect func(id string, in drivers.In, out drivers.Out) (Controller, error)
}

// NewDeviceManager creates a device manager. controllers names the ports
// to auto-connect; outPort is the note output to watch, if any.
func NewDeviceManager(controllers []string, outPort string) *DeviceManager {
	return &DeviceManager{
		controllers: make(map[string]Controller),
		events:      make(chan DeviceEvent, 16),
		interval:    time.Second,
		allowed:     controllers,
		outPort:     outPort,
		list:        listPorts,
		connect: func(id string, in drivers.In, out drivers.Out) (Controller, error) {
			return NewLaunchpadController(id, in, out)
		},
	}
}

// Events is closed when Run returns.
func (dm *DeviceManager) Events() <-chan DeviceEvent {
	return dm.events
}

// Run polls until ctx is done, then closes every controller.
func (dm *DeviceManager) Run(ctx context.Context) {
	defer close(dm.events)
	defer dm.closeAll()

	tick := time.NewTicker(dm.interval)
	defer tick.Stop()
	for {
		dm.scan()
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
	}
}

func (dm *DeviceManager) scan() {
	ins, outs, err := dm.list(ScanTimeout)
	if err != nil {
		debug.LogEvery(10, "midi", "scan: %v", err)
		return
	}
	dm.watchOut(outs)

	present := make(map[string]bool, len(ins))
	for _, in := range ins {
		id := in.String()
		if !dm.wanted(id) {
			continue
		}
		present[id] = true
		dm.attach(id, in, outs)
	}
	dm.detachMissing(present)
}

// attach connects a controller on first sight, pairing its input with the
// output port of the same name.
func (dm *DeviceManager) attach(id string, in drivers.In, outs []drivers.Out) {
	dm.mu.Lock()
	_, known := dm.controllers[id]
	dm.mu.Unlock()
	if known {
		return
	}

	var out drivers.Out
	for _, o := range outs {
		if strings.EqualFold(o.String(), id) {
			out = o
			break
		}
	}
	c, err := dm.connect(id, in, out)
	if err != nil {
		debug.Log("midi", "connect %s: %v", id, err)
		return
	}

	dm.mu.Lock()
	dm.controllers[id] = c
	dm.mu.Unlock()
	dm.emit(DeviceEvent{Type: DeviceConnected, Controller: c, ID: id})
}

func (dm *DeviceManager) detachMissing(present map[string]bool) {
	var gone []string
	dm.mu.Lock()
	for id, c := range dm.controllers {
		if present[id] {
			continue
		}
		c.Close()
		delete(dm.controllers, id)
		gone = append(gone, id)
	}
	dm.mu.Unlock()

	for _, id := range gone {
		dm.emit(DeviceEvent{Type: DeviceDisconnected, ID: id})
	}
}

func (dm *DeviceManager) watchOut(outs []drivers.Out) {
	if dm.outPort == "" {
		return
	}
	p := matchPort(outs, dm.outPort)
	switch {
	case p != nil && !dm.outSeen:
		dm.outSeen = true
		dm.emit(DeviceEvent{Type: OutPortAppeared, ID: p.String()})
	case p == nil && dm.outSeen:
		dm.outSeen = false
		dm.emit(DeviceEvent{Type: OutPortVanished, ID: dm.outPort})
	}
}

// emit drops the event if nobody is draining the channel.
func (dm *DeviceManager) emit(ev DeviceEvent) {
	select {
	case dm.events <- ev:
	default:
		debug.Log("midi", "device event dropped: %v %s", ev.Type, ev.ID)
	}
}

func (dm *DeviceManager) wanted(name string) bool {
	if len(dm.allowed) == 0 {
		return isLaunchpad(name)
	}
	for _, a := range dm.allowed {
		if strings.EqualFold(a, name) {
			return true
		}
	}
	return false
}

func (dm *DeviceManager) closeAll() {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	for id, c := range dm.controllers {
		c.Close()
		delete(dm.controllers, id)
	}
}

func isLaunchpad(name string) bool {
	name = strings.ToLower(name)
	return strings.Contains(name, "launchpad") && strings.Contains(name, "midi")
}
