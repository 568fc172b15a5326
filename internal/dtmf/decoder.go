package dtmf

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"sync"
	"time"

	"github.com/arthur326/ARMS/internal/audio"
	"github.com/arthur326/ARMS/internal/domain/tone"
	"github.com/arthur326/ARMS/internal/logger"
)

// Unbounded captures until the capture is stopped.
const Unbounded time.Duration = -1

// DefaultSafetyBuffer is added to the input latency before a capture starts.
const DefaultSafetyBuffer = 5 * time.Millisecond

// linePattern matches a tone reported by multimon-ng.
var linePattern = regexp.MustCompile(`DTMF\s*:\s*([0-9A-D#*])\s*`)

// errNoCommand is returned when the decoder command is empty.
var errNoCommand = errors.New("decoder command is empty")

// Capture is a running capture.
type Capture interface {
	// Next blocks until the next tone, or returns io.EOF when the capture ended.
	Next() (tone.Event, error)
	// Stop ends the capture and reports whether this call ended it.
	Stop() bool
}

// Capturer starts captures.
type Capturer interface {
	StartCapture(ctx context.Context, maxDuration time.Duration) (Capture, error)
}

// Source is the audio input feeding the decoder.
type Source interface {
	InputLatency() time.Duration
	InputSampleRate() int
	BeginCapture(maxFrames int64) *audio.Capture
	EndCapture(c *audio.Capture) bool
}

// Tracker records running decoder processes.
type Tracker interface {
	Track(pid int) error
	Untrack(pid int) error
}

// Decoder runs one decoder process per capture.
type Decoder struct {
	source       Source
	command      []string
	safetyBuffer time.Duration
	tracker      Tracker

	mu      sync.Mutex
	current *capture
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithTracker records every decoder process in t while it runs.
func WithTracker(t Tracker) Option {
	return func(d *Decoder) {
		d.tracker = t
	}
}

// NewDecoder returns a decoder running command on audio from source.
func NewDecoder(source Source, command []string, safetyBuffer time.Duration, opts ...Option) *Decoder {
	d := &Decoder{
		source:       source,
		command:      command,
		safetyBuffer: safetyBuffer,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// StartCapture starts a decoder process and a capture session of maxDuration,
// or Unbounded. The previous capture, if any, is killed first. Audio captured
// before now plus the input latency is not decoded.
//
//nolint:ireturn // Callers only need the Capture behavior.
func (d *Decoder) StartCapture(ctx context.Context, maxDuration time.Duration) (Capture, error) {
	if len(d.command) == 0 {
		return nil, errNoCommand
	}

	earliest := time.Now().Add(d.source.InputLatency() + d.safetyBuffer)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.current != nil {
		d.current.kill()
		d.current = nil
	}

	c, err := d.spawn(ctx)
	if err != nil {
		return nil, err
	}

	if err := sleepUntil(ctx, earliest); err != nil {
		c.kill()
		return nil, err
	}

	c.session = d.source.BeginCapture(d.budget(maxDuration))
	d.current = c

	go c.pump()

	return c, nil
}

// Close kills the current decoder process.
func (d *Decoder) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.current != nil {
		d.current.kill()
		d.current = nil
	}
}

func (d *Decoder) budget(maxDuration time.Duration) int64 {
	if maxDuration < 0 {
		return audio.Unbounded
	}

	rate := int64(d.source.InputSampleRate())
	perSecond := int64(time.Second)

	return (int64(maxDuration)*rate + perSecond - 1) / perSecond
}

func (d *Decoder) spawn(ctx context.Context) (*capture, error) {
	cmd := exec.Command(d.command[0], d.command[1:]...) //nolint:gosec // The command comes from the configuration.

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("decoder stdin: %w", err)
	}

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("decoder stdout: %w", err)
	}

	cmd.Stdout = w

	if err := cmd.Start(); err != nil {
		_ = r.Close()
		_ = w.Close()

		return nil, fmt.Errorf("start decoder: %w", err)
	}

	_ = w.Close()

	logger.DebugKV(ctx, "Decoder started", "pid", cmd.Process.Pid)

	if d.tracker != nil {
		if err := d.tracker.Track(cmd.Process.Pid); err != nil {
			logger.WarnKV(ctx, "Failed to record decoder process", "pid", cmd.Process.Pid, "error", err)
		}
	}

	return &capture{
		ctx:     ctx,
		decoder: d,
		cmd:     cmd,
		stdin:   stdin,
		stdout:  r,
		lines:   bufio.NewScanner(r),
	}, nil
}

func sleepUntil(ctx context.Context, t time.Time) error {
	wait := time.Until(t)
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// capture is one decoder process fed by one capture session.
type capture struct {
	ctx     context.Context //nolint:containedctx // Used for logging only.
	decoder *Decoder
	session *audio.Capture
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *os.File
	lines   *bufio.Scanner

	reapOnce sync.Once
}

// pump forwards captured audio to the decoder until the session closes.
func (c *capture) pump() {
	var writeErr error

	for chunk := range c.session.Frames() {
		if writeErr == nil {
			_, writeErr = c.stdin.Write(chunk)
		}

		c.session.Release(chunk)
	}

	_ = c.stdin.Close()
}

func (c *capture) Next() (tone.Event, error) {
	for c.lines.Scan() {
		m := linePattern.FindStringSubmatch(c.lines.Text())
		if m == nil {
			continue
		}

		return tone.Event{Tone: tone.Tone(m[1][0]), At: time.Now()}, nil
	}

	c.reap()

	return tone.Event{}, io.EOF
}

func (c *capture) Stop() bool {
	if c.session == nil || !c.decoder.source.EndCapture(c.session) {
		return false
	}

	c.kill()

	return true
}

func (c *capture) kill() {
	if c.session != nil {
		c.decoder.source.EndCapture(c.session)
	}

	_ = c.cmd.Process.Kill()
	c.reap()
}

// reap waits for the process once and releases its output pipe.
func (c *capture) reap() {
	c.reapOnce.Do(func() {
		err := c.cmd.Wait()
		_ = c.stdout.Close()

		if c.session != nil && c.session.Dropped() > 0 {
			logger.WarnKV(c.ctx, "Decoder fell behind the audio input", "dropped_chunks", c.session.Dropped())
		}

		logger.DebugKV(c.ctx, "Decoder exited", "pid", c.cmd.Process.Pid, "result", err)

		if tracker := c.decoder.tracker; tracker != nil {
			if err := tracker.Untrack(c.cmd.Process.Pid); err != nil {
				logger.WarnKV(c.ctx, "Failed to forget decoder process", "pid", c.cmd.Process.Pid, "error", err)
			}
		}
	})
}
