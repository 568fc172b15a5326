package tone

import (
	"errors"
	"fmt"
	"time"
)

// Tone is a single DTMF symbol, stored as its character.
type Tone byte

// DTMF symbols as reported by the decoder.
const (
	Zero  Tone = '0'
	One   Tone = '1'
	Two   Tone = '2'
	Three Tone = '3'
	Four  Tone = '4'
	Five  Tone = '5'
	Six   Tone = '6'
	Seven Tone = '7'
	Eight Tone = '8'
	Nine  Tone = '9'
	A     Tone = 'A'
	B     Tone = 'B'
	C     Tone = 'C'
	D     Tone = 'D'
	Star  Tone = '*'
	Hash  Tone = '#'

	// Empty pads a Sequence before it fills up. It is never decoded.
	Empty Tone = 'E'
)

// ErrUnknownTone is returned when a symbol is not part of the DTMF alphabet.
var ErrUnknownTone = errors.New("unknown DTMF tone")

// Parse converts a single-character symbol into a Tone.
func Parse(s string) (Tone, error) {
	if len(s) != 1 || !Tone(s[0]).Valid() {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTone, s)
	}

	return Tone(s[0]), nil
}

// Valid reports whether t is one of the sixteen DTMF symbols.
func (t Tone) Valid() bool {
	switch {
	case t >= '0' && t <= '9':
		return true
	case t >= 'A' && t <= 'D':
		return true
	case t == Star || t == Hash:
		return true
	default:
		return false
	}
}

// String returns the symbol as text.
func (t Tone) String() string {
	return string(rune(t))
}

// Event is a tone detected by the decoder.
type Event struct {
	// Tone is the detected symbol.
	Tone Tone
	// At is the wall-clock time the decoder reported it.
	At time.Time
}
