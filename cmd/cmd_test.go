package cmd

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-syncstart/config"
)

func TestRenderPrintsHits(t *testing.T) {
	var buf bytes.Buffer
	err := Render(&buf, RenderOptions{
		SampleRate:   1000,
		BufferFrames: 100,
		Tempo:        120,
		Duration:     time.Second,
		StartIn:      100 * time.Millisecond,
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 16)
	assert.Equal(t, "# 1000 Hz, 100 frames/block, 10 blocks, 120.0 bpm, 125 frames/step", lines[0])
	assert.Equal(t, "     100    100.000ms step=00 kick", lines[1])
	assert.Equal(t, "     100    100.000ms step=00 zap", lines[2])
	assert.Equal(t, "     100    100.000ms step=00 noise", lines[3])
	assert.Equal(t, "     225    225.000ms step=01 noise", lines[4])
	assert.Contains(t, buf.String(), "     600    600.000ms step=04 snare")
	assert.Equal(t, "     975    975.000ms step=07 noise", lines[15])
}

func TestRenderStopSilences(t *testing.T) {
	var buf bytes.Buffer
	err := Render(&buf, RenderOptions{
		SampleRate:   1000,
		BufferFrames: 100,
		Tempo:        120,
		Duration:     time.Second,
		StartIn:      100 * time.Millisecond,
		StopIn:       300 * time.Millisecond,
	})
	require.NoError(t, err)
	// steps 0 and 1 only
	assert.Len(t, strings.Split(strings.TrimSpace(buf.String()), "\n"), 1+4)
}

func TestRenderRejectsBadBlocks(t *testing.T) {
	assert.Error(t, Render(&bytes.Buffer{}, RenderOptions{SampleRate: 44100}))
}

func TestEngineConfig(t *testing.T) {
	c := EngineConfig(config.DefaultConfig().Link)
	assert.Equal(t, 8, c.BeaconCount)
	assert.Equal(t, 500*time.Millisecond, c.BeaconTimeout)
	assert.Equal(t, 3, c.BeaconRetries)
	assert.Equal(t, 3.0, c.OutlierFactor)
	assert.Equal(t, 100*time.Millisecond, c.StartLead)
}

func TestFlagsOverrideConfig(t *testing.T) {
	require.NoError(t, RootCmd.ParseFlags([]string{"--port", "6001", "--kit", "tr8s", "--tempo", "97"}))
	c := config.DefaultConfig()
	require.NoError(t, applyFlags(RootCmd, c))
	assert.Equal(t, 6001, c.Link.Port)
	assert.Equal(t, "tr8s", c.MIDI.Kit)
	assert.Equal(t, float32(97), c.UI.LastTempo)
	// untouched flags keep the config
	assert.Equal(t, 44100, c.Audio.SampleRate)
	assert.Equal(t, 512, c.Audio.BufferFrames)

	require.NoError(t, RootCmd.ParseFlags([]string{"--sample-rate", "0"}))
	assert.Error(t, applyFlags(RootCmd, config.DefaultConfig()))
}
