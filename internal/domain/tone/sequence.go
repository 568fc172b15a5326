package tone

import "strings"

// Sequence is the fixed-length window of the most recently heard tones.
// The oldest tone is evicted on every push, so its length never changes.
type Sequence struct {
	tones []Tone
}

// NewSequence returns a window of the given length filled with Empty.
func NewSequence(length int) *Sequence {
	if length < 1 {
		length = 1
	}

	tones := make([]Tone, length)
	for i := range tones {
		tones[i] = Empty
	}

	return &Sequence{tones: tones}
}

// Len returns the window length.
func (s *Sequence) Len() int {
	return len(s.tones)
}

// Last returns the most recently pushed tone, or Empty.
func (s *Sequence) Last() Tone {
	return s.tones[len(s.tones)-1]
}

// Push appends t and evicts the oldest tone.
func (s *Sequence) Push(t Tone) {
	copy(s.tones, s.tones[1:])
	s.tones[len(s.tones)-1] = t
}

// Suffix returns the last n tones as a string.
func (s *Sequence) Suffix(n int) string {
	if n > len(s.tones) {
		n = len(s.tones)
	}

	var b strings.Builder

	b.Grow(n)

	for _, t := range s.tones[len(s.tones)-n:] {
		b.WriteByte(byte(t))
	}

	return b.String()
}

// String returns the whole window, padding included.
func (s *Sequence) String() string {
	return s.Suffix(len(s.tones))
}

// LongestMatch returns the longest suffix satisfying match.
func (s *Sequence) LongestMatch(match func(string) bool) (string, bool) {
	for n := len(s.tones); n > 0; n-- {
		candidate := s.Suffix(n)
		if match(candidate) {
			return candidate, true
		}
	}

	return "", false
}
