// Package audio connects a Renderer to the sound card, or to a simulated
// clock for offline runs.
package audio

import (
	"encoding/binary"
	"io"
	"math"
	"sync"
	"time"

	"github.com/hajimehoshi/oto/v2"
	"github.com/pkg/errors"

	"go-syncstart/debug"
	"go-syncstart/hosttime"
)

// Renderer produces one block of stereo audio. now is the host time at
// which the block is produced and outputLatency the time in ns until its
// first sample is heard.
type Renderer interface {
	Process(now uint64, outputLatency int64, left, right []float32)
}

const (
	channelCount  = 2
	bytesPerFrame = channelCount * 4 // float32 LE
)

// Options configures a Device.
type Options struct {
	SampleRate    int
	BufferFrames  int           // frames per Process call
	OutputLatency time.Duration // 0: estimate from BufferFrames
}

// Device plays a Renderer through oto.
type Device struct {
	ctx    *oto.Context
	player oto.Player
	reader *blockReader
	once   sync.Once
}

// Open starts the audio context and begins pulling blocks from r.
func Open(r Renderer, clock hosttime.Clock, opts Options) (*Device, error) {
	if opts.SampleRate <= 0 {
		return nil, errors.Errorf("invalid sample rate %d", opts.SampleRate)
	}
	if opts.BufferFrames <= 0 {
		opts.BufferFrames = 512
	}
	latency := opts.OutputLatency
	if latency <= 0 {
		latency = EstimateLatency(opts.SampleRate, opts.BufferFrames)
	}

	ctx, ready, err := oto.NewContext(opts.SampleRate, channelCount, oto.FormatFloat32LE)
	if err != nil {
		return nil, errors.Wrap(err, "creating audio context")
	}
	<-ready

	reader := newBlockReader(r, clock, float64(opts.SampleRate), opts.BufferFrames, int64(latency))
	d := &Device{
		ctx:    ctx,
		reader: reader,
		player: ctx.NewPlayer(reader),
	}
	d.player.Play()
	debug.Log("audio", "playing %d Hz, %d frames/block, latency %s", opts.SampleRate, opts.BufferFrames, latency)
	return d, nil
}

// EstimateLatency guesses the output latency as four blocks of buffering.
func EstimateLatency(sampleRate, bufferFrames int) time.Duration {
	return time.Duration(hosttime.SamplesToNanos(int64(4*bufferFrames), float64(sampleRate)))
}

// Latency is the output latency passed to the renderer, in ns.
func (d *Device) Latency() int64 {
	return d.reader.latency
}

// Err reports a playback error, if any.
func (d *Device) Err() error {
	if err := d.player.Err(); err != nil {
		return err
	}
	return d.ctx.Err()
}

func (d *Device) Close() error {
	var err error
	d.once.Do(func() {
		err = d.player.Close()
	})
	return err
}

// blockReader is the io.Reader oto pulls from. Each pull is cut into
// blocks of at most size frames. The clock is read once per pull and each
// block is stamped with that time plus the frames before it.
type blockReader struct {
	r          Renderer
	clock      hosttime.Clock
	sampleRate float64
	size       int
	latency    int64

	left, right []float32
}

func newBlockReader(r Renderer, clock hosttime.Clock, sampleRate float64, size int, latency int64) *blockReader {
	return &blockReader{
		r:          r,
		clock:      clock,
		sampleRate: sampleRate,
		size:       size,
		latency:    latency,
		left:       make([]float32, size),
		right:      make([]float32, size),
	}
}

func (b *blockReader) Read(p []byte) (int, error) {
	frames := len(p) / bytesPerFrame
	if frames == 0 {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.ErrShortBuffer
	}
	now := b.clock.Now()
	written := 0
	for written < frames {
		n := min(b.size, frames-written)
		left, right := b.left[:n], b.right[:n]
		at := hosttime.AddSigned(now, hosttime.SamplesToNanos(int64(written), b.sampleRate))
		b.r.Process(at, b.latency, left, right)
		encode(p[written*bytesPerFrame:], left, right)
		written += n
	}
	return written * bytesPerFrame, nil
}

// encode interleaves left and right as float32 LE into dst.
func encode(dst []byte, left, right []float32) {
	for i := range left {
		o := i * bytesPerFrame
		binary.LittleEndian.PutUint32(dst[o:], math.Float32bits(left[i]))
		binary.LittleEndian.PutUint32(dst[o+4:], math.Float32bits(right[i]))
	}
}
