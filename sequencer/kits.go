package sequencer

import "slices"

// DrumKit maps the four tracks to MIDI notes on an external drum machine.
type DrumKit struct {
	Name  string
	Notes [NumTracks]uint8
}

// Track order: kick, snare, zap, noise. Zap goes to a tom, noise to the
// closed hat.
var Kits = map[string]DrumKit{
	"gm": {
		Name: "General MIDI",
		Notes: [NumTracks]uint8{
			36, // Kick
			38, // Snare
			45, // Low Tom
			42, // Closed HH
		},
	},
	"rd8": {
		Name: "Behringer RD-8",
		Notes: [NumTracks]uint8{
			36, // Kick (BD)
			40, // Snare (SD), RD-8 uses 40 not 38
			45, // Low Tom (LT)
			42, // Closed HH (CH)
		},
	},
	"tr8s": {
		Name: "Roland TR-8S",
		Notes: [NumTracks]uint8{
			36, // Kick
			38, // Snare
			41, // Low Tom
			42, // Closed HH
		},
	},
	"er1": {
		Name: "Korg ER-1",
		Notes: [NumTracks]uint8{
			36, // Perc Synth 1
			38, // Perc Synth 2
			41, // Perc Synth 4 (zap)
			42, // Closed HH (PCM)
		},
	},
}

// KitNames returns the available kit names, sorted.
func KitNames() []string {
	names := make([]string, 0, len(Kits))
	for name := range Kits {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// GetKit returns a kit by name, defaulting to GM if not found
func GetKit(name string) DrumKit {
	if kit, ok := Kits[name]; ok {
		return kit
	}
	return Kits[DefaultKit]
}

// DefaultKit is the default kit name
const DefaultKit = "gm"
