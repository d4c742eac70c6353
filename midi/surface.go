package midi

import (
	"context"
	"time"

	"go-syncstart/debug"
	"go-syncstart/sequencer"
)

const ledFPS = 30

// Track colors, kick to noise.
var trackColors = [sequencer.NumTracks][3]uint8{
	{255, 100, 0},
	{0, 100, 255},
	{150, 0, 200},
	{0, 200, 200},
}

var (
	playheadColor = [3]uint8{255, 255, 255}
	runningColor  = [3]uint8{0, 255, 0}
	stoppedColor  = [3]uint8{0, 100, 0}
	buttonColor   = [3]uint8{180, 180, 60}
	stopColor     = [3]uint8{255, 0, 0}
)

// Transport receives the top row buttons. Starting and stopping go through
// the peer link, so the surface does not touch the scheduler for them.
type Transport interface {
	Start()
	Stop()
	NudgeTempo(delta float32)
}

// Surface mirrors the pattern onto a grid controller and edits it from
// pad presses.
type Surface struct {
	ctrl      Controller
	sched     *sequencer.Scheduler
	transport Transport

	prevLEDs map[[2]int]LEDUpdate
}

func NewSurface(ctrl Controller, sched *sequencer.Scheduler, transport Transport) *Surface {
	return &Surface{
		ctrl:      ctrl,
		sched:     sched,
		transport: transport,
		prevLEDs:  make(map[[2]int]LEDUpdate),
	}
}

// Run flushes LEDs at a fixed rate and handles pads until ctx is done or
// the controller goes away.
func (s *Surface) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second / ledFPS)
	defer ticker.Stop()

	pads := s.ctrl.PadEvents()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-pads:
			if !ok {
				return nil
			}
			s.HandlePad(ev)
		case <-ticker.C:
			if err := s.Flush(); err != nil {
				debug.LogEvery(30, "led", "flush %s: %v", s.ctrl.ID(), err)
			}
		}
	}
}

// HandlePad toggles a step or runs a transport button.
func (s *Surface) HandlePad(ev PadEvent) {
	if track, step, ok := PadToStep(ev.Row, ev.Col); ok {
		on := s.sched.ToggleStep(track, step)
		debug.Log("ctrl", "pad %d,%d -> track=%d step=%d on=%v", ev.Row, ev.Col, track, step, on)
		return
	}
	if ev.Row != 8 {
		return
	}
	switch ev.Col {
	case ButtonStart:
		s.transport.Start()
	case ButtonStop:
		s.transport.Stop()
	case ButtonTempoDown:
		s.transport.NudgeTempo(-1)
	case ButtonTempoUp:
		s.transport.NudgeTempo(1)
	case ButtonReset:
		s.sched.ResetToDefaultPattern()
	}
}

// Render returns the full LED picture for a scheduler state.
func Render(st sequencer.State) []LEDUpdate {
	leds := make([]LEDUpdate, 0, sequencer.NumTracks*sequencer.NumSteps+5)
	for t := 0; t < sequencer.NumTracks; t++ {
		for i := 0; i < sequencer.NumSteps; i++ {
			row, col := StepToPad(t, i)
			var color [3]uint8
			switch {
			case st.Running && i == st.Step:
				color = playheadColor
			case st.Pattern[t][i]:
				color = trackColors[t]
			default:
				continue
			}
			leds = append(leds, LEDUpdate{Row: row, Col: col, Color: color})
		}
	}

	start := LEDUpdate{Row: 8, Col: ButtonStart, Color: stoppedColor}
	if st.Running {
		start.Color, start.Mode = runningColor, LEDPulse
	}
	leds = append(leds,
		start,
		LEDUpdate{Row: 8, Col: ButtonStop, Color: stopColor},
		LEDUpdate{Row: 8, Col: ButtonTempoDown, Color: buttonColor},
		LEDUpdate{Row: 8, Col: ButtonTempoUp, Color: buttonColor},
		LEDUpdate{Row: 8, Col: ButtonReset, Color: buttonColor},
	)
	return leds
}

// Flush sends only the LEDs that changed since the last flush.
func (s *Surface) Flush() error {
	updates := s.diff(Render(s.sched.Snapshot()))
	if len(updates) == 0 {
		return nil
	}
	debug.Log("led", "flush: batch=%d prev=%d", len(updates), len(s.prevLEDs))
	return s.ctrl.SetLEDBatch(updates)
}

func (s *Surface) diff(leds []LEDUpdate) []LEDUpdate {
	next := make(map[[2]int]LEDUpdate, len(leds))
	var updates []LEDUpdate

	for _, led := range leds {
		key := [2]int{led.Row, led.Col}
		next[key] = led
		if prev, ok := s.prevLEDs[key]; !ok || prev != led {
			updates = append(updates, led)
		}
	}

	// Clear LEDs that are no longer lit
	for key := range s.prevLEDs {
		if _, ok := next[key]; !ok {
			updates = append(updates, LEDUpdate{Row: key[0], Col: key[1]})
		}
	}

	s.prevLEDs = next
	return updates
}
