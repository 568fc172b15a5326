package controller

import (
	"context"
	"slices"
	"time"

	"github.com/arthur326/ARMS/internal/config"
	"github.com/arthur326/ARMS/internal/domain/alert"
	"github.com/arthur326/ARMS/internal/domain/operator"
	"github.com/arthur326/ARMS/internal/logger"
)

// alertState is the step of the alert procedure.
type alertState int

const (
	playingInfo alertState = iota
	waiting
)

// Identification is the outcome of an operator ID entry.
type Identification int

const (
	// IdentificationTimeout means no complete entry arrived in time.
	IdentificationTimeout Identification = iota
	// IdentificationInvalid means the entry failed the checksum.
	IdentificationInvalid
	// IdentificationInactive means a valid ID that is not active.
	IdentificationInactive
	// IdentificationAccepted means a valid, active ID.
	IdentificationAccepted
)

func (i Identification) String() string {
	switch i {
	case IdentificationTimeout:
		return "timeout"
	case IdentificationInvalid:
		return "invalid"
	case IdentificationInactive:
		return "inactive"
	case IdentificationAccepted:
		return "accepted"
	default:
		return "unknown"
	}
}

// alertProcedure runs one alert episode raised on ch until it is cancelled.
func (c *Controller) alertProcedure(ctx context.Context, ch int) error {
	episode := alert.NewContext(ch, c.tables)
	ctx = logger.WithKV(ctx, "episode", episode.ID.String())

	logger.InfoKV(ctx, "Entering alert procedure", "channel", ch)

	c.episode = episode
	c.setMode(ctx, alert.ModeAlert)

	if err := c.tx.Transmit(ctx, c.cfg.ParagraphFiles(config.ParagraphAdviseCallerHeard)...); err != nil {
		return err
	}

	if err := c.tune(ctx, c.cfg.AlertChannel); err != nil {
		return err
	}

	state := playingInfo

	for {
		if state == playingInfo {
			if err := c.announce(ctx, episode); err != nil {
				return err
			}

			state = waiting

			continue
		}

		next, done, err := c.awaitCommand(ctx, episode)
		if err != nil || done {
			return err
		}

		state = next
	}
}

// announce plays the information of the active behavior.
func (c *Controller) announce(ctx context.Context, episode *alert.Context) error {
	switch episode.Behavior {
	case alert.InitialAlert:
		logger.Info(ctx, "Playing initial information on alert channel")

		return c.tx.Transmit(ctx, join(c.cfg.ParagraphFiles(config.ParagraphInitialAlert), c.cfg.RepeaterNameFile(episode.Channel))...)
	case alert.OperatorDefined:
		logger.InfoKV(ctx, "Announcing operator in command", "operator", episode.Operator)

		return c.tx.Transmit(ctx, join(c.cfg.ParagraphFiles(config.ParagraphICDefined), c.cfg.OperatorNameFile(episode.Operator))...)
	default:
		return c.announceDelay(ctx, episode)
	}
}

// announceDelay announces a handling delay on the alert channel, on the
// calling channel and on the alert channel again.
func (c *Controller) announceDelay(ctx context.Context, episode *alert.Context) error {
	paragraph := c.cfg.ParagraphFiles(delayParagraph(episode.Behavior))

	logger.Info(ctx, "Going to calling channel to announce the delay")

	if err := c.tx.Transmit(ctx, c.cfg.ParagraphFiles(config.ParagraphGoingToCallingChannel)...); err != nil {
		return err
	}

	if err := c.tune(ctx, episode.Channel); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Announcing delay on calling channel", "behavior", episode.Behavior)

	if err := c.tx.Transmit(ctx, paragraph...); err != nil {
		return err
	}

	if err := c.tune(ctx, c.cfg.AlertChannel); err != nil {
		return err
	}

	if err := c.tx.Transmit(ctx, c.cfg.ParagraphFiles(config.ParagraphBackOnAlertChannel)...); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Announcing delay on alert channel", "behavior", episode.Behavior)

	return c.tx.Transmit(ctx, paragraph...)
}

func delayParagraph(b alert.Behavior) string {
	switch b {
	case alert.ModerateDelay:
		return config.ParagraphModerateDelay
	case alert.LongDelay:
		return config.ParagraphLongDelay
	default:
		return config.ParagraphShortDelay
	}
}

// awaitCommand waits out the current delay for a command and applies it.
// It returns the next state, or done once the alert has been cancelled.
func (c *Controller) awaitCommand(ctx context.Context, episode *alert.Context) (alertState, bool, error) {
	cmds := c.cfg.Commands
	delay := episode.Delay()

	started := time.Now()

	logger.InfoKV(ctx, "Awaiting command on alert channel", "delay", delay)

	seq, ok, err := c.matcher.WaitForSequence(ctx, delay, false,
		cmds.InitialAlert, cmds.ShortDelay, cmds.ModerateDelay, cmds.LongDelay, cmds.Cancel, cmds.OperatorID)
	if err != nil {
		if err = c.waitFailed(ctx, "command", err); err != nil {
			return waiting, false, err
		}

		// Keep the announcement pace when the decoder fails early.
		if err = sleepUntil(ctx, started.Add(delay)); err != nil {
			return waiting, false, err
		}
	}

	if !ok {
		episode.Advance()
		return playingInfo, false, nil
	}

	switch seq {
	case cmds.Cancel:
		return c.cancel(ctx, episode)
	case cmds.InitialAlert:
		c.switchBehavior(ctx, episode, alert.InitialAlert, 0)
	case cmds.ShortDelay:
		c.switchBehavior(ctx, episode, alert.ShortDelay, 0)
	case cmds.ModerateDelay:
		c.switchBehavior(ctx, episode, alert.ModerateDelay, 0)
	case cmds.LongDelay:
		c.switchBehavior(ctx, episode, alert.LongDelay, 0)
	case cmds.OperatorID:
		return c.identifyInCommand(ctx, episode)
	}

	return playingInfo, false, nil
}

// cancel asks for confirmation, when required, and ends the episode.
func (c *Controller) cancel(ctx context.Context, episode *alert.Context) (alertState, bool, error) {
	cmds := c.cfg.Commands

	if cmds.RequireCancelConfirmation {
		logger.Info(ctx, "Cancel requested, asking for confirmation")

		if err := c.tx.Transmit(ctx, c.cfg.ParagraphFiles(config.ParagraphAlertCancelConfirmation)...); err != nil {
			return waiting, false, err
		}

		_, ok, err := c.matcher.WaitForSequence(ctx, c.cfg.Timeouts.ConfirmCancel, false, cmds.ConfirmCancel)
		if err != nil {
			if err = c.waitFailed(ctx, "cancel confirmation", err); err != nil {
				return waiting, false, err
			}
		}

		if !ok {
			logger.Info(ctx, "Cancellation not confirmed, alert continues")
			return waiting, false, nil
		}
	}

	logger.Info(ctx, "Cancelling alert")

	message := join(c.cfg.ParagraphFiles(config.ParagraphAlertCancelled), c.cfg.RepeaterNameFile(episode.Channel))
	message = append(message, c.cfg.ParagraphFiles(config.ParagraphReturningNormalOp)...)

	if err := c.tx.Transmit(ctx, message...); err != nil {
		return waiting, false, err
	}

	if err := c.tune(ctx, episode.Channel); err != nil {
		return waiting, false, err
	}

	if err := c.tx.Transmit(ctx, message...); err != nil {
		return waiting, false, err
	}

	return waiting, true, nil
}

// identifyInCommand reads an operator ID and, when it is active, makes that
// operator the one in command.
func (c *Controller) identifyInCommand(ctx context.Context, episode *alert.Context) (alertState, bool, error) {
	logger.Info(ctx, "Operator identification requested")

	id, outcome, err := c.detectOperator(ctx)
	if err != nil {
		return waiting, false, err
	}

	switch outcome {
	case IdentificationAccepted:
		c.switchBehavior(ctx, episode, alert.OperatorDefined, id)
		return playingInfo, false, nil
	case IdentificationInactive:
		if err = c.tx.Transmit(ctx, c.cfg.ParagraphFiles(config.ParagraphICCodeInvalid)...); err != nil {
			return waiting, false, err
		}

		return playingInfo, false, nil
	case IdentificationInvalid:
		err = c.tx.Transmit(ctx, c.cfg.ParagraphFiles(config.ParagraphICCodeInvalid)...)
	default:
		err = c.tx.Transmit(ctx, c.cfg.ParagraphFiles(config.ParagraphICCodeTimedOut)...)
	}

	logger.Info(ctx, "No operator was set in command, alert continues")

	return waiting, false, err
}

func (c *Controller) switchBehavior(ctx context.Context, episode *alert.Context, b alert.Behavior, id operator.ID) {
	logger.InfoKV(ctx, "Switching behavior", "from", episode.Behavior, "to", b)

	episode.Switch(b, id, c.tables)
	c.report(ctx)
}

// detectOperator reads an ID keyed as the prefix followed by three digits.
// The wait ends as soon as the digits keyed so far decide the outcome.
func (c *Controller) detectOperator(ctx context.Context) (operator.ID, Identification, error) {
	prefix := c.cfg.Commands.OperatorIDPrefix

	input, ok, err := c.matcher.WaitForPredicate(ctx, c.cfg.Timeouts.OperatorID, len(prefix)+3, true, operator.Decided(prefix))
	if err != nil {
		if err = c.waitFailed(ctx, "operator id", err); err != nil {
			return 0, IdentificationTimeout, err
		}
	}

	if !ok {
		logger.Info(ctx, "Timed out waiting for operator ID")
		return 0, IdentificationTimeout, nil
	}

	verdict, id := operator.Evaluate(input, prefix)
	if verdict != operator.Accepted {
		logger.InfoKV(ctx, "Invalid operator ID", "input", input)
		return 0, IdentificationInvalid, nil
	}

	if !c.operators[id] {
		logger.InfoKV(ctx, "Operator ID is not active", "operator", id)
		return id, IdentificationInactive, nil
	}

	logger.InfoKV(ctx, "Operator identified", "operator", id)

	return id, IdentificationAccepted, nil
}

// testProcedure lets an active operator check the system from channel ch.
func (c *Controller) testProcedure(ctx context.Context, ch int) error {
	logger.InfoKV(ctx, "Entering test procedure", "channel", ch)
	c.setMode(ctx, alert.ModeTesting)

	if err := c.tx.Transmit(ctx, c.cfg.ParagraphFiles(config.ParagraphEnterOperatorCode)...); err != nil {
		return err
	}

	_, ok, err := c.waitForSilenceAndTone(ctx, c.cfg.Timeouts.TestingStar, c.operatorCmd)
	if err != nil {
		return err
	}

	if !ok {
		logger.Info(ctx, "Timed out waiting for the operator code")
		return c.tx.Transmit(ctx, c.cfg.ParagraphFiles(config.ParagraphTestingCodeTimedOut)...)
	}

	id, outcome, err := c.detectOperator(ctx)
	if err != nil {
		return err
	}

	switch outcome {
	case IdentificationAccepted:
	case IdentificationTimeout:
		return c.tx.Transmit(ctx, c.cfg.ParagraphFiles(config.ParagraphTestingCodeTimedOut)...)
	default:
		return c.tx.Transmit(ctx, c.cfg.ParagraphFiles(config.ParagraphTestingCodeInvalid)...)
	}

	message := append([]string{c.cfg.OperatorNameFile(id)}, c.cfg.ParagraphFiles(config.ParagraphTesting)...)

	logger.InfoKV(ctx, "Transmitting test message on calling channel", "operator", id)

	if err = c.tx.Transmit(ctx, message...); err != nil {
		return err
	}

	if err = sleep(ctx, testAlertChannelPause); err != nil {
		return err
	}

	if err = c.tune(ctx, c.cfg.AlertChannel); err != nil {
		return err
	}

	logger.Info(ctx, "Transmitting test message on alert channel")

	return c.tx.Transmit(ctx, message...)
}

// join returns a new slice holding files followed by more.
func join(files []string, more ...string) []string {
	return append(slices.Clip(files), more...)
}
