// Package format renders forecast timestamps and readings for display.
//
// Patterns use the SimpleDateFormat letters the forecast screens were designed
// around ("EEE, MMM d", "hh:mm aa", "HH:mm"); each letter run is rendered on its
// own so literal text never collides with Go layout tokens.
package format

import (
	"fmt"
	"strings"
	"time"
)

// DatePattern is the default day heading, e.g. "Mon, Jan 2".
const DatePattern = "EEE, MMM d"

// Date formats a unix timestamp (seconds) with DatePattern.
func Date(ts int64, loc *time.Location) string {
	return DateTime(ts, DatePattern, loc)
}

// DateTime formats a unix timestamp (seconds) with a SimpleDateFormat-style pattern.
// A nil loc means UTC. Unknown letters are copied through unchanged.
func DateTime(ts int64, pattern string, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	t := time.Unix(ts, 0).In(loc)

	var b strings.Builder
	r := []rune(pattern)
	for i := 0; i < len(r); {
		c := r[i]
		if c == '\'' {
			j := i + 1
			for j < len(r) && r[j] != '\'' {
				j++
			}
			if j == i+1 && j < len(r) {
				b.WriteRune('\'') // '' is a literal quote
			} else {
				b.WriteString(string(r[i+1 : min(j, len(r))]))
			}
			i = j + 1
			continue
		}
		if !isLetter(c) {
			b.WriteRune(c)
			i++
			continue
		}
		j := i
		for j < len(r) && r[j] == c {
			j++
		}
		b.WriteString(token(t, c, j-i))
		i = j
	}
	return b.String()
}

func token(t time.Time, letter rune, n int) string {
	switch letter {
	case 'E':
		if n >= 4 {
			return t.Format("Monday")
		}
		return t.Format("Mon")
	case 'M':
		switch {
		case n >= 4:
			return t.Format("January")
		case n == 3:
			return t.Format("Jan")
		case n == 2:
			return t.Format("01")
		}
		return t.Format("1")
	case 'd':
		if n >= 2 {
			return t.Format("02")
		}
		return t.Format("2")
	case 'y':
		if n == 2 {
			return t.Format("06")
		}
		return t.Format("2006")
	case 'H':
		if n >= 2 {
			return t.Format("15")
		}
		return fmt.Sprint(t.Hour())
	case 'h':
		if n >= 2 {
			return t.Format("03")
		}
		return t.Format("3")
	case 'm':
		if n >= 2 {
			return t.Format("04")
		}
		return t.Format("4")
	case 's':
		if n >= 2 {
			return t.Format("05")
		}
		return t.Format("5")
	case 'a':
		return t.Format("PM")
	}
	return strings.Repeat(string(letter), n)
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

// Decimals renders v with no decimal places ("%.0f").
func Decimals(v float64) string {
	return fmt.Sprintf("%.0f", v)
}

// CityLocation returns a fixed zone for a city's UTC offset in seconds.
func CityLocation(offsetSeconds int) *time.Location {
	if offsetSeconds == 0 {
		return time.UTC
	}
	sign := "+"
	off := offsetSeconds
	if off < 0 {
		sign = "-"
		off = -off
	}
	name := fmt.Sprintf("UTC%s%02d:%02d", sign, off/3600, (off%3600)/60)
	return time.FixedZone(name, offsetSeconds)
}
