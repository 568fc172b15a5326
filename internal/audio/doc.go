// Package audio owns the controller's single output stream and single input
// stream.
//
// The Engine plays decoded assets on the output stream, one at a time, with
// a newer request superseding an older one. Captured input is handed to at
// most one Capture session through a buffered channel; the device callback
// never blocks on a slow consumer. Device access goes through a Backend so
// that the engine can run on miniaudio, PortAudio or a test fake.
package audio
