// Package validation checks names sent to the engine before a request is built.
package validation

import (
	"errors"
	"strings"
	"unicode"
)

// MaxNameLength is the engine's column width for topic names and business keys.
const MaxNameLength = 255

// ErrNameEmpty is returned when a name is empty or whitespace-only.
var ErrNameEmpty = errors.New("name is required")

// ErrNameTooLong is returned when a name exceeds MaxNameLength runes.
var ErrNameTooLong = errors.New("name too long")

// ErrNameUntrimmed is returned when a name has leading or trailing whitespace.
var ErrNameUntrimmed = errors.New("name has leading or trailing whitespace")

// ErrNameInvalidChars is returned when a name contains control characters.
var ErrNameInvalidChars = errors.New("name contains control characters")

// ValidateTopicName accepts a topic name verbatim. The engine matches topics
// by exact string, so untrimmed names are rejected rather than normalized.
func ValidateTopicName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrNameEmpty
	}
	if strings.TrimSpace(name) != name {
		return ErrNameUntrimmed
	}
	return validateRunes(name)
}

// ValidateOptionalName applies the length and character rules to an optional
// value such as a business key. Empty is valid.
func ValidateOptionalName(name string) error {
	if name == "" {
		return nil
	}
	return validateRunes(name)
}

func validateRunes(name string) error {
	r := []rune(name)
	if len(r) > MaxNameLength {
		return ErrNameTooLong
	}
	for _, c := range r {
		if unicode.IsControl(c) {
			return ErrNameInvalidChars
		}
	}
	return nil
}
