package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/arthur326/ARMS/internal/config"
	"github.com/arthur326/ARMS/internal/domain/alert"
	"github.com/arthur326/ARMS/internal/domain/operator"
	"github.com/arthur326/ARMS/internal/domain/tone"
	"github.com/arthur326/ARMS/internal/logger"
	"github.com/arthur326/ARMS/internal/rig"
)

// Rig is the radio under control.
type Rig interface {
	SetChannel(ctx context.Context, ch int) error
	SetPTT(ctx context.Context, ptt rig.PTT) error
	ChannelBusy(ctx context.Context) (bool, error)
}

// Player plays decoded audio assets.
type Player interface {
	Play(ctx context.Context, id string, blocking bool) error
}

// Matcher waits for keyed DTMF input.
type Matcher interface {
	WaitForPredicate(
		ctx context.Context,
		maxDuration time.Duration,
		maxSeqLength int,
		ignoreRepeats bool,
		predicate func(string) bool,
	) (string, bool, error)
	WaitForSequence(ctx context.Context, maxDuration time.Duration, ignoreRepeats bool, candidates ...string) (string, bool, error)
	WaitForTone(ctx context.Context, maxDuration time.Duration, candidates ...tone.Tone) (tone.Tone, bool, error)
	ReadInstantTone(ctx context.Context) (tone.Tone, bool, error)
}

// Reporter receives every status change.
type Reporter interface {
	Report(ctx context.Context, status *alert.Status)
}

// testAlertChannelPause separates the two test broadcasts.
const testAlertChannelPause = 2 * time.Second

// Controller is the alert state machine.
type Controller struct {
	cfg      *config.Config
	rig      Rig
	tx       *Transmitter
	matcher  Matcher
	reporter Reporter

	operators    map[operator.ID]bool
	tables       alert.DelayTables
	alertTrigger tone.Tone
	testTrigger  tone.Tone
	operatorCmd  tone.Tone

	mode    alert.Mode
	channel int
	episode *alert.Context
	// reported is the last status handed to the reporter.
	reported *alert.Status
}

// New creates a controller. The configuration must have passed validation.
func New(cfg *config.Config, r Rig, player Player, matcher Matcher, reporter Reporter) (*Controller, error) {
	c := &Controller{
		cfg:       cfg,
		rig:       r,
		tx:        NewTransmitter(cfg, r, player),
		matcher:   matcher,
		reporter:  reporter,
		operators: cfg.OperatorTable(),
		tables: alert.DelayTables{
			InitialShort:      cfg.Delays.InitialAlertShort,
			InitialShortCount: cfg.Delays.InitialAlertShortCount,
			InitialLong:       cfg.Delays.InitialAlertLong,
			ShortLoop:         cfg.Delays.ShortLoop,
			ModerateLoop:      cfg.Delays.ModerateLoop,
			LongLoop:          cfg.Delays.LongLoop,
			OperatorLoop:      cfg.Delays.OperatorLoop,
		},
		mode: alert.ModeStarting,
	}

	var err error

	if c.alertTrigger, err = tone.Parse(cfg.Commands.AlertTrigger); err != nil {
		return nil, fmt.Errorf("alert trigger: %w", err)
	}

	if c.testTrigger, err = tone.Parse(cfg.Commands.TestTrigger); err != nil {
		return nil, fmt.Errorf("test trigger: %w", err)
	}

	if c.operatorCmd, err = tone.Parse(cfg.Commands.OperatorID); err != nil {
		return nil, fmt.Errorf("operator id command: %w", err)
	}

	return c, nil
}

// Run scans for triggers until ctx is canceled.
// Failed procedures are logged and scanning resumes.
func (c *Controller) Run(ctx context.Context) error {
	ctx = logger.WithName(ctx, "controller")

	logger.InfoKV(ctx, "Beginning operation",
		"first_channel", c.cfg.FirstChannel,
		"last_channel", c.cfg.LastChannel,
		"alert_channel", c.cfg.AlertChannel)

	if err := c.rig.SetPTT(ctx, rig.RX); err != nil {
		logger.ErrorKV(ctx, "Failed to release transmitter", "error", err)
	}

	c.setMode(ctx, alert.ModeScanning)

	for {
		for ch := c.cfg.FirstChannel; ch <= c.cfg.LastChannel; ch++ {
			if ctx.Err() != nil {
				c.stop(ctx)
				return nil
			}

			if err := c.scan(ctx, ch); err != nil {
				if ctx.Err() != nil {
					c.stop(ctx)
					return nil
				}

				logger.ErrorKV(ctx, "Channel scan failed, resuming scanning",
					"channel", ch, "retry_delay", c.cfg.Scan.RetryDelay, "error", err)
				c.endEpisode(ctx)

				if sleep(ctx, c.cfg.Scan.RetryDelay) != nil {
					c.stop(ctx)
					return nil
				}
			}
		}
	}
}

// scan listens on one channel and runs the procedure its trigger asks for.
func (c *Controller) scan(ctx context.Context, ch int) error {
	if err := c.tune(ctx, ch); err != nil {
		return err
	}

	trigger, ok, err := c.matcher.WaitForTone(ctx, c.cfg.Scan.ToneDetectLength, c.alertTrigger, c.testTrigger)
	if err != nil {
		return fmt.Errorf("wait for trigger: %w", err)
	}

	if !ok {
		return nil
	}

	logger.InfoKV(ctx, "Trigger heard, confirming", "channel", ch, "tone", trigger)
	c.setMode(ctx, alert.ModeConfirming)

	confirmed, err := c.confirm(ctx, trigger)
	if err != nil {
		return err
	}

	if !confirmed {
		logger.InfoKV(ctx, "Trigger not confirmed", "channel", ch, "tone", trigger)
		c.setMode(ctx, alert.ModeScanning)

		return nil
	}

	switch trigger {
	case c.alertTrigger:
		err = c.alertProcedure(ctx, ch)
	case c.testTrigger:
		err = c.testProcedure(ctx, ch)
	}

	if err != nil {
		return err
	}

	logger.Info(ctx, "Returning to normal (scanning) operation")
	c.endEpisode(ctx)

	return nil
}

// confirm samples the input and reports whether trigger was held long enough
// but not stuck on. Samples are scheduled from one start time so that slow
// reads do not push the later ones back.
func (c *Controller) confirm(ctx context.Context, trigger tone.Tone) (bool, error) {
	lt := c.cfg.LongTone
	start := time.Now()
	positives := 0

	for i := range lt.TotalSamples {
		if err := sleepUntil(ctx, start.Add(time.Duration(i)*lt.SamplingPeriod)); err != nil {
			return false, err
		}

		heard, ok, err := c.matcher.ReadInstantTone(ctx)
		if err != nil {
			if err = c.waitFailed(ctx, "confirm", err); err != nil {
				return false, err
			}

			continue
		}

		if ok && heard == trigger {
			positives++
		}
	}

	logger.DebugKV(ctx, "Confirmation sampled", "positives", positives, "total", lt.TotalSamples)

	return confirmed(positives, lt.RequiredPositiveSamples, lt.MaxPositiveSamples), nil
}

// confirmed reports whether positives lies within [required, maximum].
func confirmed(positives, required, maximum int) bool {
	return positives >= required && positives <= maximum
}

// waitFailed logs a failed wait, which counts as no match.
// It returns the context error once ctx is done.
func (c *Controller) waitFailed(ctx context.Context, what string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	logger.WarnKV(ctx, "Tone wait failed, treating as no match", "wait", what, "error", err)

	return nil
}

// tune switches the radio to ch.
func (c *Controller) tune(ctx context.Context, ch int) error {
	if err := c.rig.SetChannel(ctx, ch); err != nil {
		return fmt.Errorf("switch to channel %d: %w", ch, err)
	}

	c.channel = ch

	// Scanning moves every few hundred milliseconds; only report it when it means something.
	if c.mode != alert.ModeScanning {
		c.report(ctx)
	}

	return nil
}

func (c *Controller) setMode(ctx context.Context, mode alert.Mode) {
	c.mode = mode
	c.report(ctx)
}

func (c *Controller) endEpisode(ctx context.Context) {
	c.episode = nil
	c.setMode(ctx, alert.ModeScanning)
}

func (c *Controller) stop(ctx context.Context) {
	c.episode = nil
	c.setMode(context.WithoutCancel(ctx), alert.ModeStopped)

	logger.Info(ctx, "Controller stopped")
}

// report hands the current status to the reporter unless it is unchanged.
func (c *Controller) report(ctx context.Context) {
	if c.reporter == nil {
		return
	}

	status := &alert.Status{
		Timestamp: time.Now(),
		Mode:      c.mode,
		Channel:   c.channel,
		Episode:   alert.EpisodeOf(c.episode),
	}

	if sameStatus(c.reported, status) {
		return
	}

	c.reported = status
	c.reporter.Report(ctx, status)
}

// sameStatus compares everything but the timestamps.
func sameStatus(a, b *alert.Status) bool {
	if a == nil || b == nil {
		return a == b
	}

	if a.Mode != b.Mode || a.Channel != b.Channel || a.InAlert() != b.InAlert() {
		return false
	}

	return a.Episode == nil || *a.Episode == *b.Episode
}

// sleep pauses for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// sleepUntil pauses until t or until ctx is done.
func sleepUntil(ctx context.Context, t time.Time) error {
	return sleep(ctx, time.Until(t))
}
