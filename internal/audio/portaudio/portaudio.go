// Package portaudio implements audio.Backend on top of PortAudio.
//
// PortAudio does not report streams stopped by the host, so Stopped is never
// invoked by this backend.
package portaudio

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/arthur326/ARMS/internal/audio"
)

var errNoDevice = errors.New("no matching device")

// Backend opens PortAudio streams.
type Backend struct {
	mu          sync.Mutex
	initialized bool
	output      *portaudio.Stream
	input       *portaudio.Stream
	pcm         []byte
}

// New returns a closed backend.
func New() *Backend {
	return new(Backend)
}

// Start opens the output stream and, unless cfg.OutputOnly, the input stream.
func (b *Backend) Start(cfg audio.StreamConfig, cb audio.Callbacks) (audio.StreamInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := portaudio.Initialize(); err != nil {
		return audio.StreamInfo{}, fmt.Errorf("initialize portaudio: %w", err)
	}

	b.initialized = true

	info, err := b.start(cfg, cb)
	if err != nil {
		b.closeLocked()
		return audio.StreamInfo{}, err
	}

	return info, nil
}

func (b *Backend) start(cfg audio.StreamConfig, cb audio.Callbacks) (audio.StreamInfo, error) {
	var info audio.StreamInfo

	out, err := find(cfg.OutputDevice, false)
	if err != nil {
		return info, fmt.Errorf("output device %q: %w", cfg.OutputDevice, err)
	}

	params := portaudio.LowLatencyParameters(nil, out)
	params.Output.Channels = audio.OutputChannels
	params.SampleRate = float64(cfg.OutputSampleRate)

	b.output, err = portaudio.OpenStream(params, cb.Output)
	if err != nil {
		return info, fmt.Errorf("open output stream: %w", err)
	}

	info.OutputSampleRate = int(b.output.Info().SampleRate)

	if !cfg.OutputOnly {
		if err := b.startInput(cfg, cb, &info); err != nil {
			return info, err
		}
	}

	if err := b.output.Start(); err != nil {
		return info, fmt.Errorf("start output stream: %w", err)
	}

	return info, nil
}

func (b *Backend) startInput(cfg audio.StreamConfig, cb audio.Callbacks, info *audio.StreamInfo) error {
	in, err := find(cfg.InputDevice, true)
	if err != nil {
		return fmt.Errorf("input device %q: %w", cfg.InputDevice, err)
	}

	params := portaudio.LowLatencyParameters(in, nil)
	params.Input.Channels = 1
	params.SampleRate = audio.InputSampleRate

	b.input, err = portaudio.OpenStream(params, func(samples []int16) {
		n := len(samples) * audio.InputBytesPerFrame
		if cap(b.pcm) < n {
			b.pcm = make([]byte, n)
		}

		pcm := b.pcm[:n]
		for i, s := range samples {
			pcm[2*i] = byte(s)
			pcm[2*i+1] = byte(uint16(s) >> 8)
		}

		cb.Input(pcm)
	})
	if err != nil {
		return fmt.Errorf("open input stream: %w", err)
	}

	streamInfo := b.input.Info()
	info.InputSampleRate = int(streamInfo.SampleRate)
	info.InputLatency = streamInfo.InputLatency

	if err := b.input.Start(); err != nil {
		return fmt.Errorf("start input stream: %w", err)
	}

	return nil
}

// find returns the first device whose name contains substr, or the default device.
func find(substr string, input bool) (*portaudio.DeviceInfo, error) {
	if substr == "" {
		if input {
			return portaudio.DefaultInputDevice()
		}

		return portaudio.DefaultOutputDevice()
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}

	for _, d := range devices {
		if input && d.MaxInputChannels == 0 || !input && d.MaxOutputChannels == 0 {
			continue
		}

		if strings.Contains(d.Name, substr) {
			return d, nil
		}
	}

	return nil, errNoDevice
}

// Devices lists the devices of every host API.
func (b *Backend) Devices() ([]audio.DeviceInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.initialized {
		if err := portaudio.Initialize(); err != nil {
			return nil, fmt.Errorf("initialize portaudio: %w", err)
		}

		defer func() { _ = portaudio.Terminate() }()
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}

	defIn, _ := portaudio.DefaultInputDevice()
	defOut, _ := portaudio.DefaultOutputDevice()

	result := make([]audio.DeviceInfo, 0, len(devices))
	for _, d := range devices {
		result = append(result, audio.DeviceInfo{
			Name:      d.Name,
			IsInput:   d.MaxInputChannels > 0,
			IsOutput:  d.MaxOutputChannels > 0,
			IsDefault: sameDevice(d, defIn) || sameDevice(d, defOut),
		})
	}

	return result, nil
}

func sameDevice(a, b *portaudio.DeviceInfo) bool {
	return a != nil && b != nil && a.Name == b.Name
}

// Close stops the streams and terminates PortAudio.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.closeLocked()
}

func (b *Backend) closeLocked() error {
	var errs []error

	for _, s := range []*portaudio.Stream{b.input, b.output} {
		if s != nil {
			errs = append(errs, s.Close())
		}
	}

	b.input, b.output = nil, nil

	if b.initialized {
		errs = append(errs, portaudio.Terminate())
		b.initialized = false
	}

	return errors.Join(errs...)
}
