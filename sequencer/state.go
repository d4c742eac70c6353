package sequencer

// State is a copy of the scheduler's playback state, published after every
// Advance for the UI and other readers outside the render loop.
type State struct {
	Running         bool    `json:"running"`
	Tempo           float32 `json:"tempo"`
	Step            int     `json:"step"`
	FrameInStep     int     `json:"frameInStep"`
	StepFrameLength int     `json:"stepFrameLength"`
	TriggerPending  bool    `json:"triggerPending"`
	Pending         int     `json:"pending"` // queued commands
	Frames          uint64  `json:"frames"`  // samples advanced since creation
	Pattern         Pattern `json:"pattern"`
}

// Tempo limits for user input.
const (
	MinTempo = 20
	MaxTempo = 300
)

// ClampTempo keeps a user supplied tempo inside [MinTempo, MaxTempo].
func ClampTempo(bpm float32) float32 {
	if bpm < MinTempo || bpm != bpm {
		return MinTempo
	}
	if bpm > MaxTempo {
		return MaxTempo
	}
	return bpm
}

// StepFrameLength is the length of one sixteenth step in samples, truncated
// to a whole sample. Tempos that give no usable length yield 0; the
// sequencer still advances one sample at a time in that case.
func StepFrameLength(sampleRate float64, tempo float32) int {
	v := sampleRate * 60 / float64(tempo) / StepsPerBeat
	if !(v > 0) {
		return 0
	}
	if v > maxStepFrames {
		return maxStepFrames
	}
	return int(v)
}

const maxStepFrames = 1 << 31
