package pipeline

import (
	"fmt"
	"os"

	"github.com/go-audio/wav"
)

// Frame geometry is fixed by the feature extractor in the sidecar; it is
// recorded alongside every row for reproducibility.
const (
	DefaultFrameSizeMS   = 25.0
	DefaultFrameStrideMS = 10.0
	DefaultSampleRate    = 16000
)

// AudioMeta describes the uploaded chunk as probed from its WAV header.
type AudioMeta struct {
	SampleRate    int
	DurationSec   float64
	FrameSizeMS   float64
	FrameStrideMS float64
}

// DefaultAudioMeta is used when the probe fails; processing proceeds with
// the pipeline's preferred geometry.
func DefaultAudioMeta() AudioMeta {
	return AudioMeta{
		SampleRate:    DefaultSampleRate,
		DurationSec:   0,
		FrameSizeMS:   DefaultFrameSizeMS,
		FrameStrideMS: DefaultFrameStrideMS,
	}
}

// ProbeWAV reads the WAV header and returns sample rate and duration.
// Probe failures are expected for malformed uploads and are not fatal to
// processing — callers fall back to DefaultAudioMeta.
func ProbeWAV(path string) (AudioMeta, error) {
	f, err := os.Open(path)
	if err != nil {
		return DefaultAudioMeta(), err
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	d.ReadInfo()
	if !d.IsValidFile() {
		return DefaultAudioMeta(), fmt.Errorf("not a valid wav file: %s", path)
	}

	dur, err := d.Duration()
	if err != nil {
		return DefaultAudioMeta(), fmt.Errorf("wav duration: %w", err)
	}

	return AudioMeta{
		SampleRate:    int(d.SampleRate),
		DurationSec:   dur.Seconds(),
		FrameSizeMS:   DefaultFrameSizeMS,
		FrameStrideMS: DefaultFrameStrideMS,
	}, nil
}
