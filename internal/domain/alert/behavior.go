package alert

import (
	"time"

	"github.com/google/uuid"

	"github.com/arthur326/ARMS/internal/domain/operator"
)

// Behavior selects what an alert episode broadcasts while it waits for commands.
type Behavior int

const (
	// InitialAlert repeats the initial alert information on the alert channel.
	InitialAlert Behavior = iota
	// ShortDelay announces a short handling delay on both channels.
	ShortDelay
	// ModerateDelay announces a moderate handling delay on both channels.
	ModerateDelay
	// LongDelay announces a long handling delay on both channels.
	LongDelay
	// OperatorDefined announces the operator in command.
	OperatorDefined
)

// String returns a stable name used in logs and the status file.
func (b Behavior) String() string {
	switch b {
	case InitialAlert:
		return "initial_alert"
	case ShortDelay:
		return "short_delay"
	case ModerateDelay:
		return "moderate_delay"
	case LongDelay:
		return "long_delay"
	case OperatorDefined:
		return "operator_defined"
	default:
		return "unknown"
	}
}

// ParseBehavior converts a name produced by String back into a Behavior.
func ParseBehavior(s string) (Behavior, bool) {
	for b := InitialAlert; b <= OperatorDefined; b++ {
		if b.String() == s {
			return b, true
		}
	}

	return InitialAlert, false
}

// IsDelay reports whether b is one of the delay announcements.
func (b Behavior) IsDelay() bool {
	return b == ShortDelay || b == ModerateDelay || b == LongDelay
}

// DelayTables holds the wait durations for each behavior.
type DelayTables struct {
	// InitialShort is the wait used for the first InitialShortCount rounds.
	InitialShort time.Duration
	// InitialShortCount is the number of short waits before the long one.
	InitialShortCount int
	// InitialLong is the wait after the short rounds.
	InitialLong time.Duration
	// ShortLoop is the wait between short delay announcements.
	ShortLoop time.Duration
	// ModerateLoop is the wait between moderate delay announcements.
	ModerateLoop time.Duration
	// LongLoop is the wait between long delay announcements.
	LongLoop time.Duration
	// OperatorLoop is the wait between operator announcements.
	OperatorLoop time.Duration
}

// Delays returns the wait table of b. The table is never empty.
func (t DelayTables) Delays(b Behavior) []time.Duration {
	switch b {
	case InitialAlert:
		delays := make([]time.Duration, 0, t.InitialShortCount+1)
		for range t.InitialShortCount {
			delays = append(delays, t.InitialShort)
		}

		return append(delays, t.InitialLong)
	case ShortDelay:
		return []time.Duration{t.ShortLoop}
	case ModerateDelay:
		return []time.Duration{t.ModerateLoop}
	case LongDelay:
		return []time.Duration{t.LongLoop}
	default:
		return []time.Duration{t.OperatorLoop}
	}
}

// Context is the mutable state of one alert episode.
type Context struct {
	// ID identifies the episode in logs and in the status file.
	ID uuid.UUID
	// Channel is the channel the alert was raised on.
	Channel int
	// Behavior is the active looping behavior.
	Behavior Behavior
	// DelayIndex points into the active behavior's wait table.
	DelayIndex int
	// Operator is the operator in command, set with OperatorDefined.
	Operator operator.ID
	// Started is when the episode began.
	Started time.Time

	delays []time.Duration
}

// NewContext starts an episode raised on channel.
func NewContext(channel int, tables DelayTables) *Context {
	c := &Context{
		ID:      uuid.New(),
		Channel: channel,
		Started: time.Now(),
	}
	c.Switch(InitialAlert, 0, tables)

	return c
}

// Switch activates behavior b and resets the delay index.
func (c *Context) Switch(b Behavior, op operator.ID, tables DelayTables) {
	c.Behavior = b
	c.Operator = op
	c.DelayIndex = 0
	c.delays = tables.Delays(b)
}

// Delay returns the current wait duration.
func (c *Context) Delay() time.Duration {
	return c.delays[c.DelayIndex]
}

// Advance moves to the next wait duration, wrapping at the end of the table.
func (c *Context) Advance() {
	c.DelayIndex = (c.DelayIndex + 1) % len(c.delays)
}
