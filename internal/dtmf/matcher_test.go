package dtmf

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arthur326/ARMS/internal/domain/operator"
	"github.com/arthur326/ARMS/internal/domain/tone"
)

// scriptedCapture returns scripted tones, then blocks until stopped when hold is set.
type scriptedCapture struct {
	tones []tone.Tone
	hold  bool

	mu      sync.Mutex
	stops   int
	stopped chan struct{}
}

func (c *scriptedCapture) Next() (tone.Event, error) {
	c.mu.Lock()

	if len(c.tones) > 0 {
		t := c.tones[0]
		c.tones = c.tones[1:]
		c.mu.Unlock()

		return tone.Event{Tone: t, At: time.Now()}, nil
	}

	c.mu.Unlock()

	if c.hold {
		<-c.stopped
	}

	return tone.Event{}, io.EOF
}

func (c *scriptedCapture) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stops++
	if c.stops == 1 {
		close(c.stopped)
		return true
	}

	return false
}

func (c *scriptedCapture) stopCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.stops
}

// scriptedCapturer hands out one scripted capture and records the requested duration.
type scriptedCapturer struct {
	capture  *scriptedCapture
	duration time.Duration
}

//nolint:ireturn // Implements Capturer.
func (s *scriptedCapturer) StartCapture(_ context.Context, maxDuration time.Duration) (Capture, error) {
	s.duration = maxDuration

	return s.capture, nil
}

// newScripted returns a matcher over a capture producing keys.
func newScripted(keys string, hold bool) (*Matcher, *scriptedCapturer) {
	tones := make([]tone.Tone, 0, len(keys))
	for i := range len(keys) {
		tones = append(tones, tone.Tone(keys[i]))
	}

	capturer := &scriptedCapturer{capture: &scriptedCapture{
		tones:   tones,
		hold:    hold,
		stopped: make(chan struct{}),
	}}

	return NewMatcher(capturer), capturer
}

// TestWaitForPredicate_LongestSuffixWins checks that the longest satisfying suffix is returned.
func TestWaitForPredicate_LongestSuffixWins(t *testing.T) {
	t.Parallel()

	m, s := newScripted("123", false)

	match, ok, err := m.WaitForPredicate(context.Background(), time.Second, 3, false, func(v string) bool {
		return v == "3" || v == "23"
	})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "23", match)
	require.Equal(t, 1, s.capture.stopCount())
	require.Equal(t, time.Second, s.duration)
}

// TestWaitForSequence_IgnoreRepeats checks that repeated tones collapse.
func TestWaitForSequence_IgnoreRepeats(t *testing.T) {
	t.Parallel()

	m, _ := newScripted("1112", false)
	match, ok, err := m.WaitForSequence(context.Background(), time.Second, true, "12")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "12", match)

	m, _ = newScripted("1112", false)
	_, ok, err = m.WaitForSequence(context.Background(), time.Second, true, "112")
	require.NoError(t, err)
	require.False(t, ok)

	m, _ = newScripted("1112", false)
	match, ok, err = m.WaitForSequence(context.Background(), time.Second, false, "000", "112")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "112", match)

	// Only adjacent repeats collapse; alternating tones are all kept.
	m, _ = newScripted("1212", false)
	match, ok, err = m.WaitForSequence(context.Background(), time.Second, true, "1212")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1212", match)
}

// TestWaitForPredicate_EndOfStream returns no match without stopping the capture.
func TestWaitForPredicate_EndOfStream(t *testing.T) {
	t.Parallel()

	m, s := newScripted("45", false)

	_, ok, err := m.WaitForSequence(context.Background(), time.Second, false, "000")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 0, s.capture.stopCount())
}

// TestWaitForPredicate_ContextCancel stops the capture exactly once.
func TestWaitForPredicate_ContextCancel(t *testing.T) {
	t.Parallel()

	m, s := newScripted("9", true)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok, err := m.WaitForSequence(ctx, Unbounded, false, "000")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, ok)
	require.Equal(t, 1, s.capture.stopCount())
}

// TestWaitForTone covers candidate filtering and the any-tone form.
func TestWaitForTone(t *testing.T) {
	t.Parallel()

	m, _ := newScripted("5#0", false)
	got, ok, err := m.WaitForTone(context.Background(), time.Second, tone.Zero, tone.Hash)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, tone.Hash, got)

	m, s := newScripted("7", false)
	got, ok, err = m.ReadInstantTone(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, tone.Seven, got)
	require.Equal(t, InstantToneLength, s.duration)

	m, _ = newScripted("", false)
	_, ok, err = m.ReadInstantTone(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

// TestWaitForPredicate_OperatorEntry runs the operator ID predicate over keyed input.
func TestWaitForPredicate_OperatorEntry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		keys    string
		match   string
		verdict operator.Verdict
	}{
		{"*#016", "#016", operator.Accepted},
		{"#1", "#1", operator.Rejected},
		{"#04", "#04", operator.Rejected},
		{"#0155", "#015", operator.Rejected},
	}

	for _, tt := range tests {
		m, _ := newScripted(tt.keys, false)

		match, ok, err := m.WaitForPredicate(context.Background(), time.Second, 4, true, operator.Decided("#"))
		require.NoError(t, err)
		require.True(t, ok, tt.keys)
		require.Equal(t, tt.match, match)

		verdict, _ := operator.Evaluate(match, "#")
		require.Equal(t, tt.verdict, verdict)
	}
}
