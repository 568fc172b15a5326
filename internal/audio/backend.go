package audio

import (
	"errors"
	"time"
)

const (
	// InputSampleRate is the capture rate expected by the tone decoder.
	InputSampleRate = 22050
	// InputBytesPerFrame is the size of one mono s16le input frame.
	InputBytesPerFrame = 2
	// OutputChannels is the channel count of the output stream.
	OutputChannels = 2
)

var (
	// ErrDevice wraps every failure to open or start an audio device.
	ErrDevice = errors.New("audio device error")
	// ErrStreamStopped is latched when a backend stops a stream without an error.
	ErrStreamStopped = errors.New("audio stream stopped")
	// ErrNotConfigured is returned before ConfigureDevices succeeds.
	ErrNotConfigured = errors.New("audio devices are not configured")
)

// StreamConfig selects the devices to open.
type StreamConfig struct {
	// InputDevice is a substring of the capture device name. Empty selects the default.
	InputDevice string
	// OutputDevice is a substring of the playback device name. Empty selects the default.
	OutputDevice string
	// OutputSampleRate is the requested playback rate.
	OutputSampleRate int
	// OutputOnly skips opening the input stream.
	OutputOnly bool
}

// StreamInfo describes the streams a backend actually opened.
type StreamInfo struct {
	OutputSampleRate int
	InputSampleRate  int
	InputLatency     time.Duration
}

// Callbacks are invoked by the backend on its own threads.
type Callbacks struct {
	// Output fills interleaved stereo float32 frames.
	Output func(out []float32)
	// Input receives mono s16le frames. The slice is only valid during the call.
	Input func(in []byte)
	// Stopped reports that the backend stopped the streams.
	Stopped func(err error)
}

// DeviceInfo describes a device reported by a backend.
type DeviceInfo struct {
	Name      string
	IsInput   bool
	IsOutput  bool
	IsDefault bool
}

// Backend opens and closes the physical streams.
type Backend interface {
	// Start opens and starts the streams. It is only called while closed.
	Start(cfg StreamConfig, cb Callbacks) (StreamInfo, error)
	// Devices lists the devices known to the backend.
	Devices() ([]DeviceInfo, error)
	// Close stops the streams. Start may be called again afterwards.
	Close() error
}

// Buffer is decoded audio ready for playback.
type Buffer struct {
	// Samples holds interleaved frames.
	Samples []float32
	// Channels is 1 or 2.
	Channels int
	// SampleRate is the rate Samples were produced at.
	SampleRate int
}

// Frames returns the number of frames in b.
func (b *Buffer) Frames() int {
	if b.Channels <= 0 {
		return 0
	}

	return len(b.Samples) / b.Channels
}

// Duration returns the playback length of b.
func (b *Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}

	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// frame returns the left and right samples of frame i. Mono is duplicated.
func (b *Buffer) frame(i int) (float32, float32) {
	if b.Channels == 1 {
		return b.Samples[i], b.Samples[i]
	}

	return b.Samples[i*b.Channels], b.Samples[i*b.Channels+1]
}

// Decoder turns an asset into a Buffer at the requested rate.
type Decoder interface {
	Decode(path string, sampleRate int) (*Buffer, error)
}
