package audio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arthur326/ARMS/internal/logger"
)

// playback is the request currently fed to the output stream.
type playback struct {
	buf *Buffer
	pos int
}

// Engine owns the output and input streams.
type Engine struct {
	backend Backend
	decoder Decoder

	assetsMu sync.Mutex
	assets   map[string]*Buffer

	// playing and capturing let the device callbacks return without locking when idle.
	playing   atomic.Bool
	capturing atomic.Bool

	// mu guards everything below and is held by device callbacks for short copies only.
	mu         sync.Mutex
	cond       *sync.Cond
	configured bool
	info       StreamInfo
	current    *playback
	generation uint64
	streamErr  error
	capture    *Capture

	// spare holds released capture chunks for reuse by the input callback.
	spare chan []byte
}

// NewEngine creates an engine on top of backend. Assets are decoded with decoder.
func NewEngine(backend Backend, decoder Decoder) *Engine {
	e := &Engine{
		backend: backend,
		decoder: decoder,
		assets:  make(map[string]*Buffer),
		spare:   make(chan []byte, captureQueue),
	}
	e.cond = sync.NewCond(&e.mu)

	return e
}

// ConfigureDevices opens the streams, replacing any previously opened ones.
func (e *Engine) ConfigureDevices(ctx context.Context, cfg StreamConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := e.shutdown(); err != nil {
		logger.Warnf(ctx, "close audio backend: %v", err)
	}

	info, err := e.backend.Start(cfg, Callbacks{
		Output:  e.fillOutput,
		Input:   e.consumeInput,
		Stopped: e.streamStopped,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDevice, err)
	}

	e.mu.Lock()
	e.configured = true
	e.info = info
	e.streamErr = nil
	e.mu.Unlock()

	logger.InfoKV(ctx, "Audio devices configured",
		"output_rate", info.OutputSampleRate,
		"input_rate", info.InputSampleRate,
		"input_latency", info.InputLatency,
		"output_only", cfg.OutputOnly)

	return nil
}

// Devices lists the devices known to the backend.
func (e *Engine) Devices() ([]DeviceInfo, error) {
	devices, err := e.backend.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: list devices: %w", ErrDevice, err)
	}

	return devices, nil
}

// Close stops playback and capture and closes the streams.
func (e *Engine) Close() error {
	return e.shutdown()
}

func (e *Engine) shutdown() error {
	e.mu.Lock()
	e.stopPlaybackLocked()
	e.closeCaptureLocked()
	wasConfigured := e.configured
	e.configured = false
	e.mu.Unlock()

	if !wasConfigured {
		return nil
	}

	return e.backend.Close()
}

// OutputSampleRate returns the rate of the output stream.
func (e *Engine) OutputSampleRate() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.info.OutputSampleRate
}

// InputSampleRate returns the rate of the input stream.
func (e *Engine) InputSampleRate() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.info.InputSampleRate
}

// InputLatency returns the reported latency of the input stream.
func (e *Engine) InputLatency() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.info.InputLatency
}

// Load decodes and caches an asset. Loading a cached asset does nothing.
func (e *Engine) Load(id string) error {
	e.assetsMu.Lock()
	_, ok := e.assets[id]
	e.assetsMu.Unlock()

	if ok {
		return nil
	}

	buf, err := e.decode(id)
	if err != nil {
		return err
	}

	e.assetsMu.Lock()
	e.assets[id] = buf
	e.assetsMu.Unlock()

	return nil
}

// Unload drops a cached asset.
func (e *Engine) Unload(id string) {
	e.assetsMu.Lock()
	delete(e.assets, id)
	e.assetsMu.Unlock()
}

func (e *Engine) decode(id string) (*Buffer, error) {
	rate := e.OutputSampleRate()
	if rate == 0 {
		return nil, ErrNotConfigured
	}

	buf, err := e.decoder.Decode(id, rate)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", id, err)
	}

	return buf, nil
}

func (e *Engine) buffer(id string) (*Buffer, error) {
	e.assetsMu.Lock()
	buf, ok := e.assets[id]
	e.assetsMu.Unlock()

	if ok {
		return buf, nil
	}

	return e.decode(id)
}

// Play starts playing an asset, superseding any playback in progress.
// Assets that were not loaded are decoded for this call only.
// When blocking, Play returns once the asset finished, was aborted or
// superseded, or ctx was cancelled; cancellation also stops the audio.
func (e *Engine) Play(ctx context.Context, id string, blocking bool) error {
	buf, err := e.buffer(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.takeStreamErrLocked(); err != nil {
		return err
	}

	if !e.configured {
		return ErrNotConfigured
	}

	e.generation++
	generation := e.generation
	e.current = &playback{buf: buf}
	e.playing.Store(true)
	// Wake callers blocked on the superseded playback.
	e.cond.Broadcast()

	if !blocking {
		return nil
	}

	stop := context.AfterFunc(ctx, func() {
		e.mu.Lock()
		e.cond.Broadcast()
		e.mu.Unlock()
	})
	defer stop()

	for e.generation == generation && e.current != nil && ctx.Err() == nil {
		e.cond.Wait()
	}

	if e.generation != generation {
		return nil
	}

	if err := ctx.Err(); err != nil {
		e.stopPlaybackLocked()
		return err
	}

	return e.takeStreamErrLocked()
}

// AbortPlayback stops the current playback and wakes blocked Play callers.
func (e *Engine) AbortPlayback() {
	e.mu.Lock()
	e.stopPlaybackLocked()
	e.mu.Unlock()
}

// Playing reports whether a playback is in progress.
func (e *Engine) Playing() bool {
	return e.playing.Load()
}

func (e *Engine) stopPlaybackLocked() {
	e.current = nil
	e.playing.Store(false)
	e.cond.Broadcast()
}

func (e *Engine) takeStreamErrLocked() error {
	err := e.streamErr
	e.streamErr = nil

	if err != nil {
		return fmt.Errorf("%w: %w", ErrDevice, err)
	}

	return nil
}

// fillOutput is the output device callback.
func (e *Engine) fillOutput(out []float32) {
	if !e.playing.Load() {
		clear(out)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.current
	if p == nil {
		clear(out)
		return
	}

	frames := len(out) / OutputChannels
	total := p.buf.Frames()

	i := 0
	for ; i < frames && p.pos < total; i++ {
		out[2*i], out[2*i+1] = p.buf.frame(p.pos)
		p.pos++
	}

	clear(out[2*i:])

	if p.pos >= total {
		e.stopPlaybackLocked()
	}
}

// streamStopped is called by the backend when the streams stop on their own.
func (e *Engine) streamStopped(err error) {
	if err == nil {
		err = ErrStreamStopped
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.configured {
		return
	}

	e.streamErr = err
	e.stopPlaybackLocked()
	e.closeCaptureLocked()
}
