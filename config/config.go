package config

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// ControllerConfig names a grid controller port. Only the Launchpad X
// programmer mode is driven.
type ControllerConfig struct {
	PortName    string `json:"portName"`
	AutoConnect bool   `json:"autoConnect"`
}

// AudioConfig configures the output device
type AudioConfig struct {
	SampleRate      int     `json:"sampleRate"`
	BufferFrames    int     `json:"bufferFrames"`
	OutputLatencyMs int     `json:"outputLatencyMs,omitempty"` // 0 = estimate
	Gain            float32 `json:"gain"`
}

// LinkConfig configures the peer link and the clock sync handshake
type LinkConfig struct {
	ListenAddr      string  `json:"listenAddr"`
	Port            int     `json:"port"`
	PeerHost        string  `json:"peerHost,omitempty"`
	BeaconCount     int     `json:"beaconCount"`
	BeaconTimeoutMs int     `json:"beaconTimeoutMs"`
	BeaconRetries   int     `json:"beaconRetries"`
	OutlierFactor   float64 `json:"outlierFactor"`
	StartLeadMs     int     `json:"startLeadMs"`
}

// MIDIConfig defines the MIDI output that mirrors the drum voices
type MIDIConfig struct {
	OutPort string `json:"outPort,omitempty"`
	Channel int    `json:"channel"` // 1-16
	Kit     string `json:"kit"`
	GateMs  int    `json:"gateMs"` // note length
}

// UIConfig stores UI preferences
type UIConfig struct {
	LastTempo float32 `json:"lastTempo,omitempty"`
	Palette   string  `json:"palette,omitempty"` // GPL file
}

// Config is the main configuration structure
type Config struct {
	Audio       AudioConfig        `json:"audio"`
	Link        LinkConfig         `json:"link"`
	MIDI        MIDIConfig         `json:"midi"`
	Controllers []ControllerConfig `json:"controllers,omitempty"`
	UI          UIConfig           `json:"ui,omitempty"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Audio: AudioConfig{
			SampleRate:   44100,
			BufferFrames: 512,
			Gain:         0.5,
		},
		Link: LinkConfig{
			ListenAddr:      "0.0.0.0",
			Port:            5776,
			BeaconCount:     8,
			BeaconTimeoutMs: 500,
			BeaconRetries:   3,
			OutlierFactor:   3.0,
			StartLeadMs:     100,
		},
		MIDI: MIDIConfig{
			Channel: 10,
			Kit:     "gm",
			GateMs:  100,
		},
		Controllers: []ControllerConfig{
			{PortName: "Launchpad X LPX MIDI", AutoConnect: true},
		},
		UI: UIConfig{
			LastTempo: 120,
		},
	}
}

// Path is ~/.config/go-syncstart/config.json.
func Path() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "locating config")
	}
	return filepath.Join(home, ".config", "go-syncstart", "config.json"), nil
}

// Load reads the config at Path. A missing file, or no home directory,
// gives the defaults; fields missing from the file keep theirs.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return DefaultConfig(), nil
	}
	return LoadFrom(path)
}

// LoadFrom reads the config at path, or returns defaults if it does not
// exist.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading config")
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	return cfg, cfg.Validate()
}

// Validate rejects values nothing downstream could work with.
func (c *Config) Validate() error {
	if c.Audio.SampleRate <= 0 {
		return errors.Errorf("audio.sampleRate must be positive, got %d", c.Audio.SampleRate)
	}
	if c.Audio.BufferFrames <= 0 {
		return errors.Errorf("audio.bufferFrames must be positive, got %d", c.Audio.BufferFrames)
	}
	if c.Link.Port <= 0 || c.Link.Port > 65535 {
		return errors.Errorf("link.port out of range: %d", c.Link.Port)
	}
	if c.Audio.Gain < 0 || c.Audio.Gain > 2 {
		return errors.Errorf("audio.gain must be within 0-2, got %g", c.Audio.Gain)
	}
	if c.MIDI.GateMs < 1 {
		return errors.Errorf("midi.gateMs must be positive, got %d", c.MIDI.GateMs)
	}
	if c.MIDI.Channel < 1 || c.MIDI.Channel > 16 {
		return errors.Errorf("midi.channel must be 1-16, got %d", c.MIDI.Channel)
	}
	if c.Link.BeaconCount < 1 {
		return errors.Errorf("link.beaconCount must be at least 1, got %d", c.Link.BeaconCount)
	}
	return nil
}

func (c *Config) Save() error {
	path, err := Path()
	if err != nil {
		return err
	}
	return c.SaveTo(path)
}

// SaveTo writes the config to path, creating its directory.
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "creating config dir")
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding config")
	}
	return errors.Wrap(os.WriteFile(path, append(data, '\n'), 0644), "writing config")
}

// BeaconTimeout and friends convert the millisecond fields.
func (l LinkConfig) BeaconTimeout() time.Duration {
	return time.Duration(l.BeaconTimeoutMs) * time.Millisecond
}

func (l LinkConfig) StartLead() time.Duration {
	return time.Duration(l.StartLeadMs) * time.Millisecond
}

func (a AudioConfig) OutputLatency() time.Duration {
	return time.Duration(a.OutputLatencyMs) * time.Millisecond
}

func (m MIDIConfig) Gate() time.Duration {
	return time.Duration(m.GateMs) * time.Millisecond
}

// ControllerPorts lists the controller ports to connect on sight.
func (c *Config) ControllerPorts() []string {
	var ports []string
	for _, ctrl := range c.Controllers {
		if ctrl.AutoConnect && ctrl.PortName != "" {
			ports = append(ports, ctrl.PortName)
		}
	}
	return ports
}
