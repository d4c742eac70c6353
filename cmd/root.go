package cmd

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"go-syncstart/config"
	"go-syncstart/debug"
)

var (
	cfg *config.Config

	configPath string
	saveConfig bool
	debugLog   bool
	logLevel   string

	// overrides, applied only when the flag was given
	flagSampleRate int
	flagBuffer     int
	flagPort       int
	flagMIDIOut    string
	flagKit        string
	flagTempo      float32
)

// RootCmd is the syncstart command.
var RootCmd = &cobra.Command{
	Use:   "syncstart",
	Short: "Start two step sequencers on the same sample",
	Long: `syncstart runs a 4x16 drum step sequencer on two machines and starts
them together: the master stamps start and stop with a time on its clock,
the slave translates that time into its own clock and both render the
first step on the same audio sample.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if debugLog {
			if err := debug.Enable(); err != nil {
				return errors.Wrap(err, "enabling debug log")
			}
			if err := debug.SetLevel(logLevel); err != nil {
				return errors.Wrap(err, "log level")
			}
		}

		var err error
		if configPath != "" {
			cfg, err = config.LoadFrom(configPath)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return err
		}
		if err := applyFlags(cmd, cfg); err != nil {
			return err
		}
		debug.Log("cfg", "config: %+v", *cfg)

		if saveConfig {
			return save(cfg)
		}
		return nil
	},
}

func init() {
	flags := RootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "config file (default ~/.config/go-syncstart/config.json)")
	flags.BoolVar(&saveConfig, "save-config", false, "write the merged configuration back")
	flags.BoolVar(&debugLog, "debug", false, "write a debug log to ~/.config/go-syncstart/debug.log")
	flags.StringVar(&logLevel, "log-level", "debug", "debug log level")

	flags.IntVar(&flagSampleRate, "sample-rate", 0, "audio sample rate")
	flags.IntVar(&flagBuffer, "buffer", 0, "audio frames per block")
	flags.IntVar(&flagPort, "port", 0, "link UDP port")
	flags.StringVar(&flagMIDIOut, "midi-out", "", "MIDI output that mirrors the drums")
	flags.StringVar(&flagKit, "kit", "", "drum kit note map for the MIDI output")
	flags.Float32Var(&flagTempo, "tempo", 0, "tempo in bpm")
}

// Execute runs the root command.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func applyFlags(cmd *cobra.Command, c *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("sample-rate") {
		c.Audio.SampleRate = flagSampleRate
	}
	if flags.Changed("buffer") {
		c.Audio.BufferFrames = flagBuffer
	}
	if flags.Changed("port") {
		c.Link.Port = flagPort
	}
	if flags.Changed("midi-out") {
		c.MIDI.OutPort = flagMIDIOut
	}
	if flags.Changed("kit") {
		c.MIDI.Kit = flagKit
	}
	if flags.Changed("tempo") {
		c.UI.LastTempo = flagTempo
	}
	return c.Validate()
}

func save(c *config.Config) error {
	if configPath != "" {
		return c.SaveTo(configPath)
	}
	return c.Save()
}
