// Package controller runs the repeater alert state machine.
//
// The controller scans the configured channels for a trigger tone, confirms
// it by sampling, then runs either the alert procedure or the test procedure.
// Every transmission waits for the channel to be clear first. The controller
// owns the radio, the audio output and the tone matcher for as long as Run is
// active; none of them may be shared with another caller.
package controller
