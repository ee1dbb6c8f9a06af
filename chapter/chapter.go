// Package chapter extracts comparable chapter numbers from the free text
// sites print next to a manga title ("Chapter 179", "Ch. 10.5 - End").
package chapter

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrNoChapterNumber is returned when the text has no numeric run.
var ErrNoChapterNumber = errors.New("no chapter number found")

// numberRe matches the first run of digits, optionally with one decimal part.
var numberRe = regexp.MustCompile(`\d+(?:\.\d+)?`)

// Key is the ordering value of a chapter. Keys compare numerically, so "9"
// sorts before "10".
type Key struct {
	Value float64
	Text  string // the numeric run as it appeared, e.g. "10.5"
}

// Parse extracts the first numeric run from rawText.
func Parse(rawText string) (Key, error) {
	match := numberRe.FindString(rawText)
	if match == "" {
		return Key{}, fmt.Errorf("%w in %q", ErrNoChapterNumber, strings.TrimSpace(rawText))
	}

	value, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return Key{}, fmt.Errorf("%w in %q: %v", ErrNoChapterNumber, rawText, err)
	}

	return Key{Value: value, Text: match}, nil
}

// FromStored rebuilds a key from its persisted text.
func FromStored(text string) (Key, error) {
	return Parse(text)
}

// Compare returns -1, 0 or 1 depending on whether k is less than, equal to or
// greater than other.
func (k Key) Compare(other Key) int {
	switch {
	case k.Value < other.Value:
		return -1
	case k.Value > other.Value:
		return 1
	default:
		return 0
	}
}

// Less reports whether k orders before other.
func (k Key) Less(other Key) bool {
	return k.Compare(other) < 0
}

// IsInteger reports whether the numeric run had no decimal part.
func (k Key) IsInteger() bool {
	return !strings.Contains(k.Text, ".")
}

// Int returns the key as an integer. Only meaningful when IsInteger is true.
func (k Key) Int() int64 {
	return int64(k.Value)
}

func (k Key) String() string {
	return k.Text
}
