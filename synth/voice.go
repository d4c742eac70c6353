package synth

import "math"

// Voice is one sound source. Trigger restarts it; Render mixes its next
// len(dst) samples into dst.
type Voice interface {
	Trigger()
	Render(dst []float32)
}

// shape returns the sample at t seconds after the trigger.
type shape func(t float64, seed *uint64) float64

// Drum is a one-shot voice computed sample by sample from a shape.
type Drum struct {
	name       string
	sampleRate float64
	shape      shape
	length     int // samples until silent
	gain       float64

	pos    int
	active bool
	seed   uint64
}

func newDrum(name string, sampleRate, seconds, gain float64, s shape, seed uint64) *Drum {
	return &Drum{
		name:       name,
		sampleRate: sampleRate,
		shape:      s,
		length:     int(seconds * sampleRate),
		gain:       gain,
		seed:       seed,
	}
}

func (d *Drum) Name() string { return d.name }

// Active reports whether the voice is still sounding.
func (d *Drum) Active() bool { return d.active }

func (d *Drum) Trigger() {
	d.pos = 0
	d.active = d.length > 0
}

func (d *Drum) Render(dst []float32) {
	for i := range dst {
		if !d.active {
			return
		}
		t := float64(d.pos) / d.sampleRate
		dst[i] += float32(d.shape(t, &d.seed) * d.gain)
		d.pos++
		if d.pos >= d.length {
			d.active = false
		}
	}
}

// NewKick is a pitch-swept sine with a click on the attack.
func NewKick(sampleRate float64) *Drum {
	return newDrum("kick", sampleRate, 0.25, 0.9, kick, 1)
}

// NewSnare mixes a tuned body with band-limited noise.
func NewSnare(sampleRate float64) *Drum {
	return newDrum("snare", sampleRate, 0.2, 0.8, snare, 0x5eed)
}

// NewZap is a fast downward sweep.
func NewZap(sampleRate float64) *Drum {
	return newDrum("zap", sampleRate, 0.15, 0.5, zap, 7)
}

// NewNoise is a short closed hat.
func NewNoise(sampleRate float64) *Drum {
	return newDrum("noise", sampleRate, 0.06, 0.6, hat, 0xbeef)
}

// NewKit returns the four voices in track order.
func NewKit(sampleRate float64) []Voice {
	return []Voice{
		NewKick(sampleRate),
		NewSnare(sampleRate),
		NewZap(sampleRate),
		NewNoise(sampleRate),
	}
}

func kick(t float64, _ *uint64) float64 {
	phase := 2 * math.Pi * 185 / 12.5 * (1 - math.Exp(-t*12.5))
	body := math.Sin(phase) * math.Exp(-t*18.0) * 0.80
	click := math.Sin(2*math.Pi*2100*t) * math.Exp(-t*250.0) * 0.24
	return softSat(body + click)
}

func snare(t float64, seed *uint64) float64 {
	env := math.Exp(-t * 26.0)
	body := (math.Sin(2*math.Pi*188*t)*0.24 + math.Sin(2*math.Pi*356*t)*0.10) * env
	noise := (lcg(seed) - lcg(seed)*0.55) * env * (0.55 + 0.25*math.Exp(-t*8.0))
	return softSat(body + noise)
}

func zap(t float64, _ *uint64) float64 {
	// 2 kHz falling to 80 Hz; phase is the integral of the sweep
	const hi, lo, k = 2000.0, 80.0, 30.0
	phase := 2 * math.Pi * (lo*t + (hi-lo)/k*(1-math.Exp(-t*k)))
	return math.Sin(phase) * math.Exp(-t*20.0) * 0.7
}

func hat(t float64, seed *uint64) float64 {
	metal := math.Sin(2*math.Pi*7300*t) + math.Sin(2*math.Pi*9200*t)*0.6
	return (lcg(seed)*0.8 + metal*0.2) * math.Exp(-t*42.0) * 0.5
}

func softSat(x float64) float64 {
	if x > 1.0 {
		return 1.0 - 0.5/x
	}
	if x < -1.0 {
		return -1.0 + 0.5/(-x)
	}
	return x - x*x*x/3.0
}

// lcg advances seed and returns noise in [-1,1].
func lcg(seed *uint64) float64 {
	*seed = *seed*6364136223846793005 + 1442695040888963407
	return float64(int64(*seed>>33)-int64(1<<30)) / float64(1<<30)
}
