// Package malgo implements audio.Backend on top of miniaudio.
package malgo

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unsafe"

	"github.com/gen2brain/malgo"

	"github.com/arthur326/ARMS/internal/audio"
)

const (
	periodFrames = 512
	periods      = 3
)

var errNoDevice = errors.New("no matching device")

// Backend opens miniaudio devices.
type Backend struct {
	mu       sync.Mutex
	ctx      *malgo.AllocatedContext
	playback *malgo.Device
	capture  *malgo.Device
}

// New returns a closed backend.
func New() *Backend {
	return new(Backend)
}

// Start opens the playback device and, unless cfg.OutputOnly, the capture device.
func (b *Backend) Start(cfg audio.StreamConfig, cb audio.Callbacks) (audio.StreamInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(string) {})
	if err != nil {
		return audio.StreamInfo{}, fmt.Errorf("init context: %w", err)
	}

	b.ctx = ctx

	info, err := b.start(cfg, cb)
	if err != nil {
		b.closeLocked()
		return audio.StreamInfo{}, err
	}

	return info, nil
}

func (b *Backend) start(cfg audio.StreamConfig, cb audio.Callbacks) (audio.StreamInfo, error) {
	var info audio.StreamInfo

	outID, err := b.find(malgo.Playback, cfg.OutputDevice)
	if err != nil {
		return info, fmt.Errorf("output device %q: %w", cfg.OutputDevice, err)
	}

	pcfg := malgo.DefaultDeviceConfig(malgo.Playback)
	pcfg.SampleRate = uint32(cfg.OutputSampleRate)
	pcfg.Playback.Format = malgo.FormatF32
	pcfg.Playback.Channels = audio.OutputChannels
	pcfg.Playback.DeviceID = outID
	pcfg.Alsa.NoMMap = 1

	b.playback, err = malgo.InitDevice(b.ctx.Context, pcfg, malgo.DeviceCallbacks{
		Data: func(pOutput, _ []byte, frameCount uint32) {
			n := int(frameCount) * audio.OutputChannels
			if n == 0 || len(pOutput) < n*4 {
				return
			}

			cb.Output(unsafe.Slice((*float32)(unsafe.Pointer(&pOutput[0])), n))
		},
		Stop: func() {
			cb.Stopped(nil)
		},
	})
	if err != nil {
		return info, fmt.Errorf("init playback device: %w", err)
	}

	info.OutputSampleRate = int(b.playback.SampleRate())

	if !cfg.OutputOnly {
		if err := b.startCapture(cfg, cb, &info); err != nil {
			return info, err
		}
	}

	if err := b.playback.Start(); err != nil {
		return info, fmt.Errorf("start playback device: %w", err)
	}

	return info, nil
}

func (b *Backend) startCapture(cfg audio.StreamConfig, cb audio.Callbacks, info *audio.StreamInfo) error {
	inID, err := b.find(malgo.Capture, cfg.InputDevice)
	if err != nil {
		return fmt.Errorf("input device %q: %w", cfg.InputDevice, err)
	}

	ccfg := malgo.DefaultDeviceConfig(malgo.Capture)
	ccfg.SampleRate = audio.InputSampleRate
	ccfg.Capture.Format = malgo.FormatS16
	ccfg.Capture.Channels = 1
	ccfg.Capture.DeviceID = inID
	ccfg.Alsa.NoMMap = 1
	ccfg.PerformanceProfile = malgo.LowLatency
	ccfg.PeriodSizeInFrames = periodFrames
	ccfg.Periods = periods

	b.capture, err = malgo.InitDevice(b.ctx.Context, ccfg, malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, frameCount uint32) {
			n := int(frameCount) * audio.InputBytesPerFrame
			if n == 0 || len(pInput) < n {
				return
			}

			cb.Input(pInput[:n])
		},
		Stop: func() {
			cb.Stopped(nil)
		},
	})
	if err != nil {
		return fmt.Errorf("init capture device: %w", err)
	}

	rate := int(b.capture.SampleRate())
	info.InputSampleRate = rate
	info.InputLatency = time.Duration(periodFrames*periods) * time.Second / time.Duration(rate)

	if err := b.capture.Start(); err != nil {
		return fmt.Errorf("start capture device: %w", err)
	}

	return nil
}

// find returns the ID of the first device whose name contains substr, or nil for the default.
func (b *Backend) find(kind malgo.DeviceType, substr string) (unsafe.Pointer, error) {
	if substr == "" {
		return nil, nil
	}

	devices, err := b.ctx.Devices(kind)
	if err != nil {
		return nil, err
	}

	for _, d := range devices {
		if strings.Contains(d.Name(), substr) {
			return d.ID.Pointer(), nil
		}
	}

	return nil, errNoDevice
}

// Devices lists playback and capture devices.
func (b *Backend) Devices() ([]audio.DeviceInfo, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(string) {})
	if err != nil {
		return nil, fmt.Errorf("init context: %w", err)
	}

	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	var result []audio.DeviceInfo

	for _, kind := range []malgo.DeviceType{malgo.Playback, malgo.Capture} {
		devices, err := ctx.Devices(kind)
		if err != nil {
			return nil, err
		}

		for _, d := range devices {
			result = append(result, audio.DeviceInfo{
				Name:      d.Name(),
				IsOutput:  kind == malgo.Playback,
				IsInput:   kind == malgo.Capture,
				IsDefault: d.IsDefault != 0,
			})
		}
	}

	return result, nil
}

// Close uninitializes the devices and the context.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closeLocked()

	return nil
}

func (b *Backend) closeLocked() {
	if b.capture != nil {
		b.capture.Uninit()
		b.capture = nil
	}

	if b.playback != nil {
		b.playback.Uninit()
		b.playback = nil
	}

	if b.ctx != nil {
		_ = b.ctx.Uninit()
		b.ctx.Free()
		b.ctx = nil
	}
}
