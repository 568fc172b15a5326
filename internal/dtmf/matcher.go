package dtmf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/arthur326/ARMS/internal/domain/tone"
)

// InstantToneLength is the capture length of ReadInstantTone.
const InstantToneLength = 40 * time.Millisecond

// Matcher waits for tone sequences on captures started by a Capturer.
type Matcher struct {
	capturer Capturer
}

// NewMatcher returns a matcher using capturer.
func NewMatcher(capturer Capturer) *Matcher {
	return &Matcher{capturer: capturer}
}

// WaitForPredicate captures for at most maxDuration and returns the longest
// suffix of the last maxSeqLength tones that satisfies predicate. With
// ignoreRepeats a tone equal to the previously kept tone is dropped. The
// boolean is false when the capture ended without a match.
func (m *Matcher) WaitForPredicate(
	ctx context.Context,
	maxDuration time.Duration,
	maxSeqLength int,
	ignoreRepeats bool,
	predicate func(string) bool,
) (string, bool, error) {
	if maxSeqLength <= 0 {
		return "", false, nil
	}

	capture, err := m.capturer.StartCapture(ctx, maxDuration)
	if err != nil {
		return "", false, fmt.Errorf("start capture: %w", err)
	}

	stop := context.AfterFunc(ctx, func() { capture.Stop() })
	defer stop()

	seq := tone.NewSequence(maxSeqLength)

	for {
		event, err := capture.Next()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", false, ctxErr
			}

			if errors.Is(err, io.EOF) {
				return "", false, nil
			}

			capture.Stop()

			return "", false, err
		}

		if ignoreRepeats && event.Tone == seq.Last() {
			continue
		}

		seq.Push(event.Tone)

		if match, ok := seq.LongestMatch(predicate); ok {
			if stop() {
				capture.Stop()
			}

			return match, true, nil
		}
	}
}

// WaitForSequence waits until the keyed tones end with one of candidates.
func (m *Matcher) WaitForSequence(
	ctx context.Context,
	maxDuration time.Duration,
	ignoreRepeats bool,
	candidates ...string,
) (string, bool, error) {
	longest := 0
	for _, c := range candidates {
		longest = max(longest, len(c))
	}

	return m.WaitForPredicate(ctx, maxDuration, longest, ignoreRepeats, func(s string) bool {
		return slices.Contains(candidates, s)
	})
}

// WaitForTone waits for one of candidates, or for any tone when none are given.
func (m *Matcher) WaitForTone(ctx context.Context, maxDuration time.Duration, candidates ...tone.Tone) (tone.Tone, bool, error) {
	match, ok, err := m.WaitForPredicate(ctx, maxDuration, 1, false, func(s string) bool {
		return len(candidates) == 0 || slices.Contains(candidates, tone.Tone(s[0]))
	})
	if err != nil || !ok {
		return 0, false, err
	}

	return tone.Tone(match[0]), true, nil
}

// ReadInstantTone samples the input for a moment and returns the tone heard, if any.
func (m *Matcher) ReadInstantTone(ctx context.Context) (tone.Tone, bool, error) {
	return m.WaitForTone(ctx, InstantToneLength)
}
