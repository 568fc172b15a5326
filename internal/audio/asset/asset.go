// Package asset decodes WAV files into playback buffers at the output rate.
package asset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	resampling "github.com/tphakala/go-audio-resampling"

	"github.com/arthur326/ARMS/internal/audio"
)

var (
	// ErrInvalidFile is returned for files that are not PCM WAV.
	ErrInvalidFile = errors.New("invalid or empty wav file")
	// ErrUnsupportedChannels is returned for files with more than two channels.
	ErrUnsupportedChannels = errors.New("unsupported channel count")
)

// Store decodes WAV assets from the file system.
type Store struct {
	// Dir is prepended to relative paths. Empty uses paths as given.
	Dir string
}

// NewStore returns a store resolving relative paths against dir.
func NewStore(dir string) *Store {
	return &Store{Dir: dir}
}

// Decode reads path and returns its frames as float32, resampled to sampleRate.
func (s *Store) Decode(path string, sampleRate int) (*audio.Buffer, error) {
	if s.Dir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(s.Dir, path)
	}

	samples, channels, rate, err := read(path)
	if err != nil {
		return nil, err
	}

	if rate != sampleRate {
		samples, err = resample(samples, channels, rate, sampleRate)
		if err != nil {
			return nil, fmt.Errorf("resample %s: %w", path, err)
		}
	}

	out := make([]float32, len(samples))
	for i, v := range samples {
		out[i] = float32(clamp(v))
	}

	return &audio.Buffer{Samples: out, Channels: channels, SampleRate: sampleRate}, nil
}

// read returns normalized interleaved samples with their layout.
func read(path string) ([]float64, int, int, error) {
	fh, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, 0, 0, err
	}
	defer fh.Close()

	dec := wav.NewDecoder(fh)
	if !dec.IsValidFile() {
		return nil, 0, 0, fmt.Errorf("%w: %s", ErrInvalidFile, path)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode %s: %w", path, err)
	}

	if buf == nil || len(buf.Data) == 0 {
		return nil, 0, 0, fmt.Errorf("%w: %s", ErrInvalidFile, path)
	}

	channels := int(dec.NumChans)
	if channels != 1 && channels != 2 {
		return nil, 0, 0, fmt.Errorf("%w: %d in %s", ErrUnsupportedChannels, channels, path)
	}

	return normalize(buf, int(dec.BitDepth)), channels, int(dec.SampleRate), nil
}

// normalize converts integer PCM to floats in [-1, 1].
func normalize(buf *goaudio.IntBuffer, bitDepth int) []float64 {
	if bitDepth <= 0 {
		bitDepth = buf.SourceBitDepth
	}

	scale := float64(int64(1) << (bitDepth - 1))

	// 8-bit WAV is unsigned.
	offset := 0
	if bitDepth == 8 { //nolint:mnd // Byte-sized samples.
		offset = 128
	}

	out := make([]float64, len(buf.Data))
	for i, v := range buf.Data {
		out[i] = float64(v-offset) / scale
	}

	return out
}

// resample converts interleaved samples from one rate to another. Each channel
// runs through its own resampler since a resampler filters a single signal.
func resample(samples []float64, channels, from, to int) ([]float64, error) {
	frames := len(samples) / channels
	resampled := make([][]float64, channels)

	for ch := range channels {
		mono := make([]float64, frames)
		for i := range frames {
			mono[i] = samples[i*channels+ch]
		}

		out, err := resampleChannel(mono, from, to)
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", ch, err)
		}

		resampled[ch] = out
	}

	outFrames := len(resampled[0])
	for _, out := range resampled[1:] {
		outFrames = min(outFrames, len(out))
	}

	interleaved := make([]float64, outFrames*channels)
	for ch, out := range resampled {
		for i := range outFrames {
			interleaved[i*channels+ch] = out[i]
		}
	}

	return interleaved, nil
}

// resampleChannel resamples one channel, including the tail held back by the filter.
func resampleChannel(samples []float64, from, to int) ([]float64, error) {
	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(from),
		OutputRate: float64(to),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("create resampler: %w", err)
	}

	out, err := r.Process(samples)
	if err != nil {
		return nil, err
	}

	tail, err := r.Flush()
	if err != nil {
		return nil, fmt.Errorf("flush resampler: %w", err)
	}

	return append(out, tail...), nil
}

func clamp(v float64) float64 {
	switch {
	case v > 1:
		return 1
	case v < -1:
		return -1
	default:
		return v
	}
}
