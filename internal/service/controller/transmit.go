package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arthur326/ARMS/internal/config"
	"github.com/arthur326/ARMS/internal/domain/tone"
	"github.com/arthur326/ARMS/internal/logger"
	"github.com/arthur326/ARMS/internal/rig"
)

var (
	// errSilenceReached ends the tone wait once the channel is clear.
	errSilenceReached = errors.New("silence reached")
	// errToneHeard ends the silence wait once a tone is heard.
	errToneHeard = errors.New("tone heard")
)

// Transmitter keys the radio around audio playback once the channel is clear.
type Transmitter struct {
	rig    Rig
	player Player

	silence    config.Silence
	delay      time.Duration
	rigTimeout time.Duration
}

// NewTransmitter returns a transmitter using the silence and delay settings of cfg.
func NewTransmitter(cfg *config.Config, r Rig, player Player) *Transmitter {
	return &Transmitter{
		rig:        r,
		player:     player,
		silence:    cfg.Silence,
		delay:      cfg.TransmitDelay,
		rigTimeout: cfg.Rig.Timeout,
	}
}

// Transmit waits for the channel to clear, keys the transmitter and plays files.
// The transmitter is released even when playback or ctx fails.
func (t *Transmitter) Transmit(ctx context.Context, files ...string) (err error) {
	if err = t.WaitForSilence(ctx); err != nil {
		return err
	}

	logger.DebugKV(ctx, "Transmitting audio", "files", files)

	defer func() {
		err = errors.Join(err, t.release(ctx))
	}()

	if err = t.rig.SetPTT(ctx, rig.TX); err != nil {
		return fmt.Errorf("key transmitter: %w", err)
	}

	if err = sleep(ctx, t.delay); err != nil {
		return err
	}

	for _, file := range files {
		if err = t.player.Play(ctx, file, true); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}

			// A broken asset must not silence the rest of the message.
			logger.ErrorKV(ctx, "Failed to play audio", "file", file, "error", err)
		}
	}

	return nil
}

// release unkeys the transmitter, outliving a canceled ctx.
func (t *Transmitter) release(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.rigTimeout)
	defer cancel()

	if err := t.rig.SetPTT(ctx, rig.RX); err != nil {
		return fmt.Errorf("release transmitter: %w", err)
	}

	return nil
}

// WaitForSilence returns once the channel has been clear for the configured
// number of consecutive samples.
func (t *Transmitter) WaitForSilence(ctx context.Context) error {
	required := t.silence.RequiredClearSamples
	period := t.silence.SamplingPeriod
	clearSamples := 0

	logger.DebugKV(ctx, "Waiting for silence", "required_clear_samples", required, "sampling_period", period)

	for clearSamples < required {
		sampled := time.Now()

		busy, err := t.rig.ChannelBusy(ctx)
		if err != nil {
			return fmt.Errorf("sense channel: %w", err)
		}

		if busy {
			clearSamples = 0
		} else {
			clearSamples++
		}

		if clearSamples >= required {
			break
		}

		if err = sleepUntil(ctx, sampled.Add(period)); err != nil {
			return err
		}
	}

	return nil
}

// waitForSilenceAndTone waits up to timeout for one of candidates, but the
// timeout only starts once the channel is clear. Until then tones are still
// listened for, so a caller can answer over ongoing traffic. Only radio
// failures and cancellation are returned as errors.
func (c *Controller) waitForSilenceAndTone(
	ctx context.Context,
	timeout time.Duration,
	candidates ...tone.Tone,
) (tone.Tone, bool, error) {
	if timeout <= 0 {
		return 0, false, nil
	}

	var (
		heard    tone.Tone
		silentAt time.Time
	)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := c.tx.WaitForSilence(groupCtx); err != nil {
			return err
		}

		silentAt = time.Now()

		return errSilenceReached
	})

	group.Go(func() error {
		for {
			t, ok, err := c.matcher.WaitForTone(groupCtx, timeout, candidates...)
			if err != nil {
				if groupCtx.Err() != nil {
					return groupCtx.Err()
				}

				// Keep waiting for silence; the final wait gets another chance.
				return c.waitFailed(ctx, "silence race", err)
			}

			if ok {
				heard = t
				return errToneHeard
			}
		}
	})

	err := group.Wait()

	switch {
	case errors.Is(err, errToneHeard):
		logger.Debug(ctx, "Tone heard before the final timeout started")
		return heard, true, nil
	case errors.Is(err, errSilenceReached):
		remaining := time.Until(silentAt.Add(timeout))
		logger.DebugKV(ctx, "Silence reached, starting final timeout", "remaining", remaining)

		if remaining <= 0 {
			return 0, false, nil
		}

		t, ok, err := c.matcher.WaitForTone(ctx, remaining, candidates...)
		if err != nil {
			return 0, false, c.waitFailed(ctx, "final tone", err)
		}

		return t, ok, nil
	default:
		return 0, false, err
	}
}
