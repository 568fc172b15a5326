// Package arms wires the controller together and runs it.
//
// Run loads the configuration, sets up logging, the audio engine, the rig
// connection and the status surfaces, then hands over to the controller.
// When the configuration has problems that still allow a transmission, the
// boot error message is broadcast on a loop instead.
package arms
