// Package tone contains the DTMF alphabet and the running tone window.
//
// Tone is the closed set of sixteen DTMF symbols plus the Empty sentinel used
// to left-pad a Sequence before enough tones have been heard. Event is a tone
// stamped with its decode time.
package tone
