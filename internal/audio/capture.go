package audio

import (
	"sync/atomic"
)

// Unbounded disables the frame budget of a capture session.
const Unbounded int64 = -1

// captureQueue is the number of callback chunks buffered for the consumer.
const captureQueue = 512

// Capture is a capture session. Frames are delivered on a channel that is
// closed when the frame budget is used up or the session ends.
type Capture struct {
	frames    chan []byte
	spare     chan []byte
	remaining int64
	dropped   atomic.Int64
}

// Frames returns the channel of captured mono s16le chunks.
func (c *Capture) Frames() <-chan []byte {
	return c.frames
}

// Release hands a chunk received from Frames back for reuse.
// The chunk must not be used afterwards.
func (c *Capture) Release(chunk []byte) {
	releaseChunk(c.spare, chunk)
}

// Dropped returns how many chunks were discarded because the consumer fell behind.
func (c *Capture) Dropped() int64 {
	return c.dropped.Load()
}

// BeginCapture starts a capture session of at most maxFrames frames, or an
// unbounded one for Unbounded. Any previous session is closed.
func (e *Engine) BeginCapture(maxFrames int64) *Capture {
	c := &Capture{
		frames:    make(chan []byte, captureQueue),
		spare:     e.spare,
		remaining: maxFrames,
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.closeCaptureLocked()

	if maxFrames == 0 {
		close(c.frames)
		return c
	}

	e.capture = c
	e.capturing.Store(true)

	return c
}

// EndCapture closes c if it is still the active session, and reports whether it did.
func (e *Engine) EndCapture(c *Capture) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if c == nil || e.capture != c {
		return false
	}

	e.closeCaptureLocked()

	return true
}

func (e *Engine) closeCaptureLocked() {
	if e.capture == nil {
		return
	}

	close(e.capture.frames)
	e.capture = nil
	e.capturing.Store(false)
}

// consumeInput is the input device callback.
func (e *Engine) consumeInput(in []byte) {
	if !e.capturing.Load() {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	c := e.capture
	if c == nil {
		return
	}

	frames := int64(len(in) / InputBytesPerFrame)
	if c.remaining != Unbounded && frames > c.remaining {
		frames = c.remaining
	}

	if frames > 0 {
		chunk := takeChunk(e.spare, int(frames*InputBytesPerFrame))
		copy(chunk, in)

		select {
		case c.frames <- chunk:
		default:
			c.dropped.Add(1)
			releaseChunk(e.spare, chunk)
		}
	}

	if c.remaining == Unbounded {
		return
	}

	c.remaining -= frames
	if c.remaining == 0 {
		e.closeCaptureLocked()
	}
}

// takeChunk returns a chunk of n bytes, reusing a released one when it is large enough.
func takeChunk(spare chan []byte, n int) []byte {
	select {
	case chunk := <-spare:
		if cap(chunk) >= n {
			return chunk[:n]
		}
	default:
	}

	return make([]byte, n)
}

// releaseChunk keeps chunk for reuse unless enough are kept already.
func releaseChunk(spare chan []byte, chunk []byte) {
	if spare == nil || cap(chunk) == 0 {
		return
	}

	select {
	case spare <- chunk[:cap(chunk)]:
	default:
	}
}
