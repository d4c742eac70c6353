package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"go-syncstart/audio"
	"go-syncstart/hosttime"
	"go-syncstart/sequencer"
	"go-syncstart/synth"
)

var (
	renderDuration time.Duration
	renderStartIn  time.Duration
	renderStopIn   time.Duration
	renderLatency  time.Duration
)

// renderCmd runs the sequencer offline and prints every hit.
var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render offline against a simulated clock and print the hits",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return Render(cmd.OutOrStdout(), RenderOptions{
			SampleRate:   cfg.Audio.SampleRate,
			BufferFrames: cfg.Audio.BufferFrames,
			Tempo:        sequencer.ClampTempo(cfg.UI.LastTempo),
			Duration:     renderDuration,
			StartIn:      renderStartIn,
			StopIn:       renderStopIn,
			Latency:      renderLatency,
		})
	},
}

func init() {
	flags := renderCmd.Flags()
	flags.DurationVar(&renderDuration, "duration", 2*time.Second, "length of audio to render")
	flags.DurationVar(&renderStartIn, "start", 100*time.Millisecond, "start time from the beginning")
	flags.DurationVar(&renderStopIn, "stop", 0, "stop time from the beginning (0: never)")
	flags.DurationVar(&renderLatency, "latency", 0, "output latency to simulate")
	RootCmd.AddCommand(renderCmd)
}

// RenderOptions configures an offline render.
type RenderOptions struct {
	SampleRate   int
	BufferFrames int
	Tempo        float32
	Duration     time.Duration
	StartIn      time.Duration
	StopIn       time.Duration
	Latency      time.Duration
}

// renderEpoch is the simulated host time of the first block.
const renderEpoch = uint64(time.Second)

// Render prints one line per hit: absolute frame, ms since the first block,
// step and track.
func Render(w io.Writer, o RenderOptions) error {
	if o.SampleRate <= 0 || o.BufferFrames <= 0 {
		return errors.Errorf("invalid rate %d or block size %d", o.SampleRate, o.BufferFrames)
	}
	sr := float64(o.SampleRate)
	syn := synth.New(sr)
	defer syn.Close()
	hits := syn.Listen(sequencer.NumTracks * sequencer.NumSteps)

	off := audio.NewOffline(syn, renderEpoch, sr, o.BufferFrames, int64(o.Latency))
	sched := syn.Scheduler()
	sched.Start(hosttime.AddSigned(renderEpoch, int64(o.StartIn)), o.Tempo)
	if o.StopIn > 0 {
		sched.Stop(hosttime.AddSigned(renderEpoch, int64(o.StopIn)))
	}

	blocks := int(hosttime.NanosToSamples(int64(o.Duration), sr)) / o.BufferFrames
	stepLen := sequencer.StepFrameLength(sr, o.Tempo)
	fmt.Fprintf(w, "# %d Hz, %d frames/block, %d blocks, %.1f bpm, %d frames/step\n",
		o.SampleRate, o.BufferFrames, blocks, o.Tempo, stepLen)

	// the start command lands latency later in the stream
	first := uint64(hosttime.NanosToSamples(int64(o.StartIn+o.Latency), sr))
	for i := 0; i < blocks; i++ {
		off.Next()
		for _, h := range drain(hits) {
			step := 0
			if stepLen > 0 {
				step = int((h.Frame-first)/uint64(stepLen)) % sequencer.NumSteps
			}
			ms := float64(hosttime.Diff(h.At, renderEpoch)) / 1e6
			fmt.Fprintf(w, "%8d %10.3fms step=%02d %s\n", h.Frame, ms, step, sequencer.TrackNames[h.Track])
		}
	}
	return nil
}

func drain(hits <-chan synth.Hit) []synth.Hit {
	var out []synth.Hit
	for {
		select {
		case h := <-hits:
			out = append(out, h)
		default:
			return out
		}
	}
}
