// Package dtmf turns captured audio into DTMF tone events and answers
// "did the caller key X" questions.
//
// A Decoder feeds one capture session at a time into an external decoder
// process (multimon-ng by default) and parses the tones it reports. A Matcher
// keeps a short sliding window of recent tones and stops the capture as soon
// as the longest matching suffix satisfies a predicate.
package dtmf
