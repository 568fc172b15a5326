package asset

import (
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/require"
)

// writeWAV encodes 16-bit PCM samples into a file under dir.
func writeWAV(t *testing.T, dir, name string, rate, channels int, data []int) string {
	t.Helper()

	path := filepath.Join(dir, name)
	fh, err := os.Create(path)
	require.NoError(t, err)

	enc := wav.NewEncoder(fh, rate, 16, channels, 1)
	require.NoError(t, enc.Write(&goaudio.IntBuffer{
		Data:           data,
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: rate},
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, fh.Close())

	return path
}

// TestDecode_SameRate checks normalization without resampling.
func TestDecode_SameRate(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeWAV(t, dir, "beep.wav", 8000, 1, []int{0, 16384, -16384, -32768})

	buf, err := NewStore(dir).Decode("beep.wav", 8000)
	require.NoError(t, err)
	require.Equal(t, 1, buf.Channels)
	require.Equal(t, 8000, buf.SampleRate)
	require.Equal(t, []float32{0, 0.5, -0.5, -1}, buf.Samples)
}

// TestDecode_Resamples checks that both stereo channels keep their own signal
// and that the output length follows the rate ratio.
func TestDecode_Resamples(t *testing.T) {
	t.Parallel()

	const frames = 8000

	dir := t.TempDir()

	// Left is held at +0.5 and right at -0.5.
	data := make([]int, 2*frames)
	for i := range frames {
		data[2*i] = 16384
		data[2*i+1] = -16384
	}

	path := writeWAV(t, dir, "stereo.wav", 8000, 2, data)

	buf, err := new(Store).Decode(path, 16000)
	require.NoError(t, err)
	require.Equal(t, 2, buf.Channels)
	require.Equal(t, 16000, buf.SampleRate)
	require.InDelta(t, 2*frames, buf.Frames(), 320)

	// Skip the filter transients at both ends.
	for i := buf.Frames() / 4; i < 3*buf.Frames()/4; i++ {
		require.InDelta(t, 0.5, buf.Samples[2*i], 0.02, "left frame %d", i)
		require.InDelta(t, -0.5, buf.Samples[2*i+1], 0.02, "right frame %d", i)
	}
}

// TestResample_Mono checks the flushed tail keeps the length close to the ratio.
func TestResample_Mono(t *testing.T) {
	t.Parallel()

	samples := make([]float64, 4410)
	for i := range samples {
		samples[i] = 0.25
	}

	out, err := resample(samples, 1, 44100, 48000)
	require.NoError(t, err)
	require.InDelta(t, 4800, len(out), 96)
	require.InDelta(t, 0.25, out[len(out)/2], 0.01)
}

// TestDecode_Errors covers unreadable and invalid files.
func TestDecode_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := NewStore(dir)

	_, err := s.Decode("missing.wav", 8000)
	require.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "text.wav"), []byte("not a wav file"), 0o600))

	_, err = s.Decode("text.wav", 8000)
	require.ErrorIs(t, err, ErrInvalidFile)
}
