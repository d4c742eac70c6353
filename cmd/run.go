package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"go-syncstart/app"
	"go-syncstart/audio"
	"go-syncstart/clocksync"
	"go-syncstart/config"
	"go-syncstart/debug"
	"go-syncstart/hosttime"
	"go-syncstart/midi"
	"go-syncstart/sequencer"
	"go-syncstart/synth"
	"go-syncstart/theme"
	"go-syncstart/transport"
	"go-syncstart/tui"
)

var (
	headless  bool
	autostart bool
)

// masterCmd listens for a slave.
var masterCmd = &cobra.Command{
	Use:   "master",
	Short: "Listen for a slave and drive start/stop",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tr := &transport.OSCTransport{Listen: true, Host: cfg.Link.ListenAddr, Port: cfg.Link.Port}
		return run(cmd.Context(), cfg, tr)
	},
}

// slaveCmd connects to a master and follows it.
var slaveCmd = &cobra.Command{
	Use:   "slave [master-host]",
	Short: "Connect to a master and follow its start/stop",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		host := cfg.Link.PeerHost
		if len(args) == 1 {
			host = args[0]
		}
		if host == "" {
			return errors.New("no master host: pass one or set link.peerHost")
		}
		cfg.Link.PeerHost = host
		tr := &transport.OSCTransport{Host: host, Port: cfg.Link.Port}
		return run(cmd.Context(), cfg, tr)
	},
}

func init() {
	for _, c := range []*cobra.Command{masterCmd, slaveCmd} {
		c.Flags().BoolVar(&headless, "headless", false, "no terminal UI; log link events to stdout")
		RootCmd.AddCommand(c)
	}
	masterCmd.Flags().BoolVar(&autostart, "autostart", false, "start as soon as a slave connects")
}

// EngineConfig converts the link section for the clock sync engine.
func EngineConfig(l config.LinkConfig) clocksync.Config {
	return clocksync.Config{
		BeaconCount:   l.BeaconCount,
		BeaconTimeout: l.BeaconTimeout(),
		BeaconRetries: l.BeaconRetries,
		OutlierFactor: l.OutlierFactor,
		StartLead:     l.StartLead(),
	}
}

func run(parent context.Context, c *config.Config, tr clocksync.Transport) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt)
	defer stop()

	clock := hosttime.Real()
	syn := synth.New(float64(c.Audio.SampleRate))
	defer syn.Close()
	syn.SetGain(c.Audio.Gain)

	sess := app.New(EngineConfig(c.Link), clock, tr, syn.Scheduler(), c.UI.LastTempo)
	defer sess.Close()

	dev, err := audio.Open(syn, clock, audio.Options{
		SampleRate:    c.Audio.SampleRate,
		BufferFrames:  c.Audio.BufferFrames,
		OutputLatency: c.Audio.OutputLatency(),
	})
	if err != nil {
		return err
	}
	defer dev.Close()
	sess.SetOutputLatency(time.Duration(dev.Latency()))

	g, ctx := errgroup.WithContext(ctx)

	if c.MIDI.OutPort != "" {
		sink, err := midi.OpenSink(c.MIDI.OutPort, c.MIDI.Channel, sequencer.GetKit(c.MIDI.Kit), clock)
		if err != nil {
			// drums still play locally
			fmt.Fprintf(os.Stderr, "midi out: %v\n", err)
		} else {
			defer sink.Close()
			sink.SetGate(c.MIDI.Gate())
			hits := syn.Listen(256)
			g.Go(func() error { return ignoreCancel(sink.Run(ctx, hits)) })
		}
	}

	dm := midi.NewDeviceManager(c.ControllerPorts(), c.MIDI.OutPort)
	g.Go(func() error {
		dm.Run(ctx)
		return nil
	})

	sess.Connect(ctx)

	if headless {
		g.Go(func() error { return logNotices(ctx, sess) })
	} else {
		palette, err := theme.Load(c.UI.Palette)
		if err != nil {
			debug.Log("ui", "%v, using default palette", err)
			palette = theme.Plasma()
		}
		model := tui.NewModel(ctx, sess, dm, theme.New(palette))
		g.Go(func() error {
			p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
			_, err := p.Run()
			stop() // quitting the UI ends the session
			if errors.Is(err, tea.ErrProgramKilled) {
				return nil
			}
			return err
		})
	}

	err = ignoreCancel(g.Wait())

	c.UI.LastTempo = sess.Tempo()
	if saveConfig {
		if serr := save(c); serr != nil && err == nil {
			err = serr
		}
	}
	if derr := dev.Err(); derr != nil && err == nil {
		err = errors.Wrap(derr, "audio")
	}
	return err
}

func logNotices(ctx context.Context, sess *app.Session) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n := <-sess.Notices():
			st := sess.Status()
			fmt.Println(tui.Header(st, false), "|", n.Kind)
			switch n.Kind {
			case app.NoticeConnected:
				if autostart && n.Role == clocksync.RoleMaster {
					if _, err := sess.StartAt(); err != nil {
						fmt.Fprintf(os.Stderr, "start: %v\n", err)
					}
				}
			case app.NoticeLost, app.NoticeCancelled:
				// keep waiting for a peer
				sess.Connect(ctx)
			}
		}
	}
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
