package midi

type ControllerType int

const (
	ControllerUnknown ControllerType = iota
	ControllerLaunchpad
)

// PadEvent is a press on a grid controller. Row 8 is the top button row.
type PadEvent struct {
	Row, Col int
	Velocity uint8
}

// LEDMode is how a lit pad behaves. The Launchpad takes it as the MIDI
// channel of the note that sets the color.
type LEDMode uint8

const (
	LEDStatic LEDMode = iota
	LEDFlash
	LEDPulse
)

// LEDUpdate sets one pad's light. A zero Color turns it off.
type LEDUpdate struct {
	Row, Col int
	Color    [3]uint8
	Mode     LEDMode
}

// Controller is a grid controller used as a hardware view of the pattern.
type Controller interface {
	ID() string
	Type() ControllerType
	PadEvents() <-chan PadEvent
	SetLEDBatch(updates []LEDUpdate) error
	ClearLEDs() error
	Close() error
}
