package operator

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ID is an operator identification number.
type ID int

// Bounds of the operator ID range.
const (
	MinID ID = 16
	MaxID ID = 894

	// digits is the keyed length of an ID.
	digits = 3
)

var (
	// ErrInvalidFormat is returned when an ID is not exactly three decimal digits.
	ErrInvalidFormat = errors.New("operator id must be three digits")
	// ErrChecksum is returned when an ID fails the digit rule or range.
	ErrChecksum = errors.New("operator id checksum failed")
)

// Valid reports whether id lies in range and satisfies the digit rule.
func Valid(id int) bool {
	if id < int(MinID) || id > int(MaxID) {
		return false
	}

	hundreds := (id / 100) % 10 //nolint:mnd // Decimal digit extraction.
	if hundreds%2 == 1 {
		return false
	}

	tens := (id / 10) % 10 //nolint:mnd // Decimal digit extraction.
	if tens%2 == 0 {
		return false
	}

	return id%10 == (tens+5)%10 //nolint:mnd // The rule itself.
}

// String formats the ID as its three keyed digits.
func (id ID) String() string {
	return fmt.Sprintf("%03d", int(id))
}

// ParseKey parses a configuration key such as "016".
func ParseKey(key string) (ID, error) {
	if len(key) != digits || !allDigits(key) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFormat, key)
	}

	n, err := strconv.Atoi(key)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFormat, key)
	}

	if !Valid(n) {
		return 0, fmt.Errorf("%w: %q", ErrChecksum, key)
	}

	return ID(n), nil
}

// All returns every valid operator ID in ascending order.
func All() []ID {
	var ids []ID

	for n := int(MinID); n <= int(MaxID); n++ {
		if Valid(n) {
			ids = append(ids, ID(n))
		}
	}

	return ids
}

// Verdict is the state of a partially keyed ID.
type Verdict int

const (
	// Undecided means more digits are needed, or the input is not an ID entry.
	Undecided Verdict = iota
	// Rejected means the digits keyed so far can never form a valid ID.
	Rejected
	// Accepted means a complete, valid ID was keyed.
	Accepted
)

// Evaluate judges keyed input of the form prefix followed by one to three digits.
// Digits are checked as soon as they arrive: an odd hundreds digit or an even
// tens digit rejects the entry without waiting for the rest.
func Evaluate(input, prefix string) (Verdict, ID) {
	rest, ok := strings.CutPrefix(input, prefix)
	if !ok || prefix == "" || len(rest) == 0 || len(rest) > digits || !allDigits(rest) {
		return Undecided, 0
	}

	switch len(rest) {
	case 1:
		if int(rest[0]-'0')%2 == 1 {
			return Rejected, 0
		}

		return Undecided, 0
	case 2: //nolint:mnd // Tens digit position.
		if int(rest[1]-'0')%2 == 0 {
			return Rejected, 0
		}

		return Undecided, 0
	default:
		n, _ := strconv.Atoi(rest)
		if !Valid(n) {
			return Rejected, 0
		}

		return Accepted, ID(n)
	}
}

// Decided reports whether Evaluate reaches a verdict for input.
// It is the predicate used while waiting for an ID entry.
func Decided(prefix string) func(string) bool {
	return func(input string) bool {
		verdict, _ := Evaluate(input, prefix)
		return verdict != Undecided
	}
}

// allDigits reports whether s consists of decimal digits only.
func allDigits(s string) bool {
	for i := range len(s) {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}

	return true
}
