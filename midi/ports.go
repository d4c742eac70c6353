package midi

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // Register MIDI driver
)

// ScanTimeout bounds a port listing; CoreMIDI can hang.
const ScanTimeout = 3 * time.Second

// ErrScanTimeout is returned when the driver does not answer in time.
// On macOS: sudo killall coreaudiod midiserver
var ErrScanTimeout = errors.New("midi port scan timed out")

// listPorts fetches the current ports off the calling goroutine.
func listPorts(timeout time.Duration) ([]drivers.In, []drivers.Out, error) {
	type portsResult struct {
		inPorts  []drivers.In
		outPorts []drivers.Out
	}

	ch := make(chan portsResult, 1)
	go func() {
		ch <- portsResult{inPorts: gomidi.GetInPorts(), outPorts: gomidi.GetOutPorts()}
	}()

	select {
	case r := <-ch:
		return r.inPorts, r.outPorts, nil
	case <-time.After(timeout):
		return nil, nil, ErrScanTimeout
	}
}

// ListOutPorts returns the names of the available output ports.
func ListOutPorts(timeout time.Duration) ([]string, error) {
	_, outs, err := listPorts(timeout)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(outs))
	for i, p := range outs {
		names[i] = p.String()
	}
	return names, nil
}

func findOutPort(name string) (drivers.Out, error) {
	_, outs, err := listPorts(ScanTimeout)
	if err != nil {
		return nil, err
	}
	if p := matchPort(outs, name); p != nil {
		return p, nil
	}
	return nil, errors.Errorf("no midi output named %q", name)
}

// matchPort prefers an exact name and falls back to a case-insensitive
// substring, since drivers decorate names with client numbers.
func matchPort[P drivers.Port](ports []P, name string) P {
	var zero P
	if name == "" {
		return zero
	}
	for _, p := range ports {
		if p.String() == name {
			return p
		}
	}
	lower := strings.ToLower(name)
	for _, p := range ports {
		if strings.Contains(strings.ToLower(p.String()), lower) {
			return p
		}
	}
	return zero
}
