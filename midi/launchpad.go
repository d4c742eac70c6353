package midi

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"

	"go-syncstart/debug"
)

// Novation SysEx header for the Launchpad X.
var lpxHeader = []byte{0x00, 0x20, 0x29, 0x02, 0x0C}

func lpxSysEx(body ...byte) gomidi.Message {
	return gomidi.SysEx(append(append([]byte{}, lpxHeader...), body...))
}

const (
	lpxLayout     = 0x00
	lpxBrightness = 0x08
	lpxProgrammer = 0x7F
)

// LaunchpadController drives a Launchpad X in programmer mode.
type LaunchpadController struct {
	id   string
	send func(gomidi.Message) error
	stop func()

	pads   chan PadEvent
	leds   atomic.Uint64
	closed sync.Once
}

// NewLaunchpadController switches the device to programmer mode and starts
// listening for presses. Either port may be nil.
func NewLaunchpadController(id string, in drivers.In, out drivers.Out) (*LaunchpadController, error) {
	lp := &LaunchpadController{id: id, pads: make(chan PadEvent, 32)}

	if out != nil {
		send, err := gomidi.SendTo(out)
		if err != nil {
			return nil, errors.Wrapf(err, "open %s output", id)
		}
		lp.send = send
		for _, msg := range []gomidi.Message{
			lpxSysEx(lpxLayout, lpxProgrammer),
			lpxSysEx(lpxBrightness, 0x7F),
		} {
			if err := send(msg); err != nil {
				return nil, errors.Wrapf(err, "configure %s", id)
			}
		}
	}

	if in != nil {
		stop, err := gomidi.ListenTo(in, lp.receive)
		if err != nil {
			return nil, errors.Wrapf(err, "open %s input", id)
		}
		lp.stop = stop
	}
	return lp, nil
}

func (lp *LaunchpadController) receive(msg gomidi.Message, _ int32) {
	var ch, key, val uint8
	switch {
	case msg.GetNoteOn(&ch, &key, &val) && val > 0:
		if row, col, ok := notePad(key); ok {
			lp.emit(PadEvent{Row: row, Col: col, Velocity: val})
		}
	case msg.GetControlChange(&ch, &key, &val) && val > 0:
		if col, ok := topButton(key); ok {
			lp.emit(PadEvent{Row: 8, Col: col, Velocity: val})
		}
	}
}

// emit drops the press when nobody is reading.
func (lp *LaunchpadController) emit(ev PadEvent) {
	select {
	case lp.pads <- ev:
	default:
	}
}

func (lp *LaunchpadController) ID() string                 { return lp.id }
func (lp *LaunchpadController) Type() ControllerType       { return ControllerLaunchpad }
func (lp *LaunchpadController) PadEvents() <-chan PadEvent { return lp.pads }

// SetLEDBatch sends one note per update; the velocity picks the palette
// color and the channel the LED mode.
func (lp *LaunchpadController) SetLEDBatch(updates []LEDUpdate) error {
	if lp.send == nil {
		return nil
	}
	for _, u := range updates {
		msg := gomidi.NoteOn(uint8(u.Mode), padNote(u.Row, u.Col), nearestColor(u.Color))
		if err := lp.send(msg); err != nil {
			return errors.Wrapf(err, "led %d,%d", u.Row, u.Col)
		}
	}
	total := lp.leds.Add(uint64(len(updates)))
	debug.LogEvery(100, "midi", "%s: %d leds sent", lp.id, total)
	return nil
}

// ClearLEDs turns off the grid, the scene column and the top row.
func (lp *LaunchpadController) ClearLEDs() error {
	updates := make([]LEDUpdate, 0, 80)
	for row := 0; row <= 8; row++ {
		for col := 0; col <= 8; col++ {
			if row == 8 && col == 8 {
				continue // logo
			}
			updates = append(updates, LEDUpdate{Row: row, Col: col})
		}
	}
	return lp.SetLEDBatch(updates)
}

func (lp *LaunchpadController) Close() error {
	lp.closed.Do(func() {
		if err := lp.ClearLEDs(); err != nil {
			debug.Log("midi", "clearing %s: %v", lp.id, err)
		}
		if lp.stop != nil {
			lp.stop()
		}
		close(lp.pads)
	})
	return nil
}

type paletteColor struct {
	velocity uint8
	r, g, b  int
}

// A subset of the Launchpad X color palette, picked to cover hue and
// brightness evenly.
var lpxPalette = []paletteColor{
	{0, 0, 0, 0},
	{5, 255, 0, 0},
	{6, 255, 80, 80},
	{7, 180, 60, 60},
	{9, 255, 100, 0},
	{11, 180, 80, 40},
	{13, 255, 200, 0},
	{17, 0, 180, 0},
	{19, 0, 100, 0},
	{21, 0, 255, 0},
	{37, 0, 200, 200},
	{43, 40, 60, 120},
	{45, 0, 100, 255},
	{47, 80, 150, 255},
	{49, 150, 0, 200},
	{53, 255, 80, 180},
	{78, 100, 100, 255},
	{84, 255, 150, 50},
	{87, 150, 255, 100},
	{97, 180, 180, 60},
	{119, 255, 255, 255},
}

// nearestColor returns the palette velocity closest to rgb.
func nearestColor(rgb [3]uint8) uint8 {
	r, g, b := int(rgb[0]), int(rgb[1]), int(rgb[2])
	best, bestDist := lpxPalette[0].velocity, -1
	for _, p := range lpxPalette {
		dr, dg, db := r-p.r, g-p.g, b-p.b
		if d := dr*dr + dg*dg + db*db; bestDist < 0 || d < bestDist {
			best, bestDist = p.velocity, d
		}
	}
	return best
}

// Programmer mode layout: the grid is notes 11-88 with row 0 at the
// bottom, the scene column is x9, the top row is 91-98.

func padNote(row, col int) uint8 {
	if row == 8 {
		return uint8(91 + col)
	}
	return uint8(10*(row+1) + col + 1)
}

func notePad(note uint8) (row, col int, ok bool) {
	if col, ok := topButton(note); ok {
		return 8, col, true
	}
	row, col = int(note/10)-1, int(note%10)-1
	if row < 0 || row > 7 || col < 0 || col > 8 {
		return 0, 0, false
	}
	return row, col, true
}

func topButton(n uint8) (col int, ok bool) {
	if n < 91 || n > 98 {
		return 0, false
	}
	return int(n - 91), true
}

// The pattern fills the 8x8 grid two rows per track, kick at the top:
// steps 0-7 on the upper row, 8-15 on the lower.

// PadToStep maps a grid pad to a pattern cell.
func PadToStep(row, col int) (track, step int, ok bool) {
	if row < 0 || row > 7 || col < 0 || col > 7 {
		return 0, 0, false
	}
	fromTop := 7 - row
	return fromTop / 2, (fromTop%2)*8 + col, true
}

// StepToPad is the inverse of PadToStep.
func StepToPad(track, step int) (row, col int) {
	return 7 - (track*2 + step/8), step % 8
}

// Top row buttons.
const (
	ButtonStart = iota
	ButtonStop
	ButtonTempoDown
	ButtonTempoUp
	ButtonReset
)
