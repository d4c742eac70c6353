package sequencer

import "sync/atomic"

// Grid dimensions.
const (
	NumTracks    = 4
	NumSteps     = 16
	StepsPerBeat = 4 // sixteenth-note steps
)

// TrackNames labels the voices, in track order.
var TrackNames = [NumTracks]string{"kick", "snare", "zap", "noise"}

// Pattern is a plain copy of the step grid.
type Pattern [NumTracks][NumSteps]bool

// DefaultPattern returns the pattern a fresh scheduler starts with.
func DefaultPattern() Pattern {
	var p Pattern
	for step := 0; step < NumSteps; step++ {
		p[0][step] = step%4 == 0
		p[1][step] = step%8 == 4
		p[2][step] = step%2 == 0
		p[3][step] = true
	}
	return p
}

// Active reports whether any track has a step set.
func (p *Pattern) Active() bool {
	for t := 0; t < NumTracks; t++ {
		for s := 0; s < NumSteps; s++ {
			if p[t][s] {
				return true
			}
		}
	}
	return false
}

// grid holds one bit per step for each track. The UI writes it while the
// render loop reads it, so every access is atomic.
type grid struct {
	tracks [NumTracks]atomic.Uint32
}

func inRange(track, step int) bool {
	return track >= 0 && track < NumTracks && step >= 0 && step < NumSteps
}

func (g *grid) set(track, step int, on bool) {
	if !inRange(track, step) {
		return
	}
	bit := uint32(1) << step
	if on {
		g.tracks[track].Or(bit)
	} else {
		g.tracks[track].And(^bit)
	}
}

func (g *grid) get(track, step int) bool {
	if !inRange(track, step) {
		return false
	}
	return g.tracks[track].Load()&(uint32(1)<<step) != 0
}

func (g *grid) load(p Pattern) {
	for t := 0; t < NumTracks; t++ {
		var bits uint32
		for s := 0; s < NumSteps; s++ {
			if p[t][s] {
				bits |= 1 << s
			}
		}
		g.tracks[t].Store(bits)
	}
}

func (g *grid) pattern() Pattern {
	var p Pattern
	for t := 0; t < NumTracks; t++ {
		bits := g.tracks[t].Load()
		for s := 0; s < NumSteps; s++ {
			p[t][s] = bits&(1<<s) != 0
		}
	}
	return p
}

// toggle flips a step and returns its new value.
func (g *grid) toggle(track, step int) bool {
	if !inRange(track, step) {
		return false
	}
	bit := uint32(1) << step
	for {
		old := g.tracks[track].Load()
		if g.tracks[track].CompareAndSwap(old, old^bit) {
			return old&bit == 0
		}
	}
}

func (g *grid) clearTrack(track int) {
	if track < 0 || track >= NumTracks {
		return
	}
	g.tracks[track].Store(0)
}
