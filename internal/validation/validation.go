package validation

import (
	"errors"
	"strings"
	"unicode"
)

// City length bounds in runes.
const (
	MinCityLen = 1
	MaxCityLen = 85
)

var (
	ErrCityEmpty        = errors.New("city is required")
	ErrCityTooLong      = errors.New("city name too long")
	ErrCityInvalidChars = errors.New("city contains invalid characters")
)

// ValidateCity trims input and accepts Unicode letters, digits, space and , - . '
// ("St. John's", "Winston-Salem", "London,GB"). Case is left to the caller.
func ValidateCity(input string) (string, error) {
	s := strings.TrimSpace(input)
	n := len([]rune(s))
	switch {
	case n < MinCityLen:
		return "", ErrCityEmpty
	case n > MaxCityLen:
		return "", ErrCityTooLong
	}
	for _, c := range s {
		if !isAllowedCityRune(c) {
			return "", ErrCityInvalidChars
		}
	}
	return s, nil
}

func isAllowedCityRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'':
		return true
	}
	return false
}
