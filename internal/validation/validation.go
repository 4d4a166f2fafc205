package validation

import (
	"errors"
	"math"
	"strings"
	"unicode"
)

// ErrNameEmpty is returned when an entity name is empty or whitespace-only after trim.
var ErrNameEmpty = errors.New("entity name is required")

// ErrNameTooLong is returned when an entity name exceeds the maximum length.
var ErrNameTooLong = errors.New("entity name too long")

// ErrNameInvalidChars is returned when an entity name contains disallowed characters.
var ErrNameInvalidChars = errors.New("entity name contains invalid characters")

// ErrInvalidCoordinates is returned when latitude or longitude is out of range or not a number.
var ErrInvalidCoordinates = errors.New("invalid coordinates")

// ValidateEntityName trims the input, enforces maxLen (in runes, 0 = unbounded) and restricts
// to letters (Unicode, so "Baños" passes), digits, space, comma, hyphen, period and apostrophe.
// Returns the trimmed name.
func ValidateEntityName(input string, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	if len(r) == 0 {
		return "", ErrNameEmpty
	}
	if maxLen > 0 && len(r) > maxLen {
		return "", ErrNameTooLong
	}
	for _, c := range r {
		if !isAllowedNameRune(c) {
			return "", ErrNameInvalidChars
		}
	}
	return s, nil
}

// ValidateCoordinates checks lat in [-90, 90] and lon in [-180, 180].
func ValidateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return ErrInvalidCoordinates
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return ErrInvalidCoordinates
	}
	return nil
}

func isAllowedNameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsMark(r) {
		return true
	}
	switch r {
	case ' ', '\t', ',', '-', '.', '\'':
		return true
	}
	return false
}
