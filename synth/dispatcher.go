package synth

import (
	"cmp"
	"slices"

	"go-syncstart/debug"
)

// TriggerEvent asks for track's voice to start at Frame, a sample index
// into the block being rendered.
type TriggerEvent struct {
	Frame int
	Track int
}

// Dispatcher collects the triggers of one render pass and applies each at
// its exact sample while rendering the voices in as few segments as
// possible. It implements sequencer.TriggerSink.
//
// A Dispatcher belongs to the render loop; it is not safe for concurrent
// use.
type Dispatcher struct {
	voices []Voice
	events []TriggerEvent

	// OnApply, when set, is called for every event as it is applied.
	OnApply func(ev TriggerEvent)
}

func NewDispatcher(voices ...Voice) *Dispatcher {
	return &Dispatcher{
		voices: voices,
		events: make([]TriggerEvent, 0, 64),
	}
}

// Trigger queues a trigger for the current pass.
func (d *Dispatcher) Trigger(frame, track int) {
	d.events = append(d.events, TriggerEvent{Frame: frame, Track: track})
}

// Pending returns the queued events, sorted. The slice is reused by the
// next Render.
func (d *Dispatcher) Pending() []TriggerEvent {
	d.sort()
	return d.events
}

// Render mixes the voices into buf[offset:offset+length]. Each segment ends
// at the next event's frame; the event's voice is triggered before the next
// segment starts. Events are cleared afterwards whether or not they fell
// inside the range.
func (d *Dispatcher) Render(buf []float32, offset, length int) {
	d.sort()
	end := offset + length
	pos := offset
	for _, ev := range d.events {
		if ev.Frame >= end {
			if debug.Enabled() {
				debug.LogEvery(100, "render", "trigger at %d past block end %d", ev.Frame, end)
			}
			break
		}
		if at := max(ev.Frame, pos); at > pos {
			d.renderVoices(buf[pos:at])
			pos = at
		}
		d.apply(ev)
	}
	if pos < end {
		d.renderVoices(buf[pos:end])
	}
	d.events = d.events[:0]
}

func (d *Dispatcher) sort() {
	slices.SortFunc(d.events, func(a, b TriggerEvent) int {
		if c := cmp.Compare(a.Frame, b.Frame); c != 0 {
			return c
		}
		return cmp.Compare(a.Track, b.Track)
	})
}

func (d *Dispatcher) apply(ev TriggerEvent) {
	if ev.Track < 0 || ev.Track >= len(d.voices) {
		return
	}
	d.voices[ev.Track].Trigger()
	if d.OnApply != nil {
		d.OnApply(ev)
	}
}

func (d *Dispatcher) renderVoices(seg []float32) {
	for _, v := range d.voices {
		v.Render(seg)
	}
}
