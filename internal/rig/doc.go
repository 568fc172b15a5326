// Package rig controls the radio through rigctld's extended TCP protocol.
//
// Only the operations the controller needs are implemented: selecting a
// memory channel, keying the transmitter and reading the squelch (DCD) state
// used to tell whether a channel is busy.
package rig
