package session

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const fractionDigits = 6

var offsetRe = regexp.MustCompile(`([+-])(\d{2}):?(\d{2})?$`)

// ParseTimestamp parses the ISO-8601 variants seen in stored events:
// a trailing Z, an explicit offset with or without colon, no offset at all
// (taken as UTC), a space instead of T, and fractions of any length, which
// are padded or truncated to microseconds. The result is in UTC.
func ParseTimestamp(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrInvalidTimestamp)
	}

	if len(s) == len("2006-01-02") {
		t, err := time.Parse(time.DateOnly, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, raw)
		}
		return t.UTC(), nil
	}
	if len(s) < len("2006-01-02T15:04") || (s[10] != 'T' && s[10] != 't' && s[10] != ' ') {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, raw)
	}
	date, clock := s[:10], s[11:]

	offset := "+00:00"
	switch {
	case strings.HasSuffix(clock, "Z") || strings.HasSuffix(clock, "z"):
		clock = clock[:len(clock)-1]
	default:
		if m := offsetRe.FindStringSubmatchIndex(clock); m != nil {
			sign, hh := clock[m[2]:m[3]], clock[m[4]:m[5]]
			mm := "00"
			if m[6] >= 0 {
				mm = clock[m[6]:m[7]]
			}
			offset = sign + hh + ":" + mm
			clock = clock[:m[0]]
		}
	}

	frac := ""
	if i := strings.IndexByte(clock, '.'); i >= 0 {
		frac = clock[i+1:]
		clock = clock[:i]
		if len(frac) > fractionDigits {
			frac = frac[:fractionDigits]
		}
		frac += strings.Repeat("0", fractionDigits-len(frac))
	}
	if strings.Count(clock, ":") == 1 {
		clock += ":00"
	}

	layout := "2006-01-02T15:04:05Z07:00"
	normalised := date + "T" + clock
	if frac != "" {
		layout = "2006-01-02T15:04:05.000000Z07:00"
		normalised += "." + frac
	}
	normalised += offset

	t, err := time.Parse(layout, normalised)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, raw)
	}
	return t.UTC(), nil
}
