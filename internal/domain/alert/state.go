package alert

import (
	"time"

	"github.com/arthur326/ARMS/internal/domain/operator"
)

// Mode is the top-level state of the controller.
type Mode string

// Controller modes.
const (
	ModeStarting   Mode = "starting"
	ModeScanning   Mode = "scanning"
	ModeConfirming Mode = "confirming"
	ModeAlert      Mode = "alert"
	ModeTesting    Mode = "testing"
	ModeBootError  Mode = "boot_error"
	ModeStopped    Mode = "stopped"
)

// Episode summarises the alert in progress.
type Episode struct {
	// ID identifies the episode.
	ID string
	// Channel is the channel the alert was raised on.
	Channel int
	// Behavior is the active looping behavior.
	Behavior Behavior
	// Operator is the operator in command, zero when none.
	Operator operator.ID
	// Started is when the episode began.
	Started time.Time
}

// Clone returns a copy of the episode.
func (e *Episode) Clone() *Episode {
	if e == nil {
		return nil
	}

	cloned := *e

	return &cloned
}

// Status represents the controller at a specific point in time.
type Status struct {
	// Timestamp is when the status last changed.
	Timestamp time.Time
	// Mode is the controller's top-level state.
	Mode Mode
	// Channel is the channel the radio is tuned to, zero when unknown.
	Channel int
	// Episode is the alert in progress, nil outside an alert.
	Episode *Episode
}

// InAlert reports whether an alert episode is in progress.
func (s *Status) InAlert() bool {
	return s.Episode != nil
}

// Clone returns a copy of the status to avoid leaking internal references.
func (s *Status) Clone() *Status {
	return &Status{
		Timestamp: s.Timestamp,
		Mode:      s.Mode,
		Channel:   s.Channel,
		Episode:   s.Episode.Clone(),
	}
}

// EpisodeOf summarises c, or returns nil when c is nil.
func EpisodeOf(c *Context) *Episode {
	if c == nil {
		return nil
	}

	return &Episode{
		ID:       c.ID.String(),
		Channel:  c.Channel,
		Behavior: c.Behavior,
		Operator: c.Operator,
		Started:  c.Started,
	}
}
